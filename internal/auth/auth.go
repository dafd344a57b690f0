// Package auth mints and checks the two token kinds of the league: opaque
// high-entropy auth tokens issued by the manager at registration, and
// HMAC-signed per-match session tokens issued by referees to players.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenMismatch = errors.New("token does not match session")
)

// Service signs and validates match session tokens.
type Service struct {
	secret []byte
}

// NewService creates a token service with the given HMAC secret. An empty
// secret gets a random one, which is fine for single-process referees.
func NewService(secret string) *Service {
	if secret == "" {
		secret = GenerateToken(32)
	}
	return &Service{secret: []byte(secret)}
}

// GenerateSessionToken signs a session token binding a player to a match.
func (s *Service) GenerateSessionToken(matchID, playerID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"match_id":  matchID,
		"player_id": playerID,
		"exp":       time.Now().Add(24 * time.Hour).Unix(),
	})
	return token.SignedString(s.secret)
}

// ValidateSessionToken checks the signature and returns the bound match and
// player ids.
func (s *Service) ValidateSessionToken(tokenString string) (matchID, playerID string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return "", "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", ErrInvalidToken
	}
	matchID, ok = claims["match_id"].(string)
	if !ok {
		return "", "", ErrInvalidToken
	}
	playerID, ok = claims["player_id"].(string)
	if !ok {
		return "", "", ErrInvalidToken
	}
	return matchID, playerID, nil
}

// GenerateToken returns a random hex string of n bytes of entropy.
func GenerateToken(n int) string {
	if n <= 0 {
		n = 32
	}
	bytes := make([]byte, n)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// GenerateID returns a random 16-byte hex identifier.
func GenerateID() string {
	return GenerateToken(16)
}
