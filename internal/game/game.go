// Package game defines the pluggable rules interface the referee drives a
// match through, plus an explicit registry of rule constructors. The core
// only calls the interface; concrete games live behind it.
package game

import (
	"errors"
	"fmt"
	"sync"

	"league-platform/internal/models"
)

var (
	ErrUnknownGameType = errors.New("unknown game type")
	ErrInvalidMove     = errors.New("invalid move")
)

// Role tags for the reference games. Side A is ODD, side B is EVEN.
const (
	RoleOdd  = "ODD"
	RoleEven = "EVEN"
)

// Rules validates moves, scores rounds and declares the match outcome.
// Implementations must be safe for use from a single match runner; the
// referee never shares one Rules value across matches.
type Rules interface {
	// GameType returns the registry name of the game.
	GameType() string
	// Validate reports whether move is legal for the given role.
	Validate(move int, roleTag string) error
	// DefaultMove is substituted when a player fails to produce a move.
	DefaultMove(roleTag string) int
	// ScoreRound resolves one game-round. The winner is models.RoleA,
	// models.RoleB or models.RoleDraw.
	ScoreRound(moveA, moveB int) (winner string, meta map[string]interface{})
	// Finalize declares the match outcome from the history and score.
	// An empty winner means no winner (draw or double forfeit).
	Finalize(history []models.GameRound, score models.Score) (winner string, final models.Score)
}

// Constructor produces a fresh Rules value for one match.
type Constructor func() Rules

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Constructor)
)

// Register installs a rules constructor under a game-type name. Later
// registrations replace earlier ones.
func Register(gameType string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[gameType] = ctor
}

// New instantiates the rules for a game type.
func New(gameType string) (Rules, error) {
	registryMu.RLock()
	ctor, ok := registry[gameType]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGameType, gameType)
	}
	return ctor(), nil
}

// Registered reports whether a game type has a constructor.
func Registered(gameType string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[gameType]
	return ok
}
