package game

import (
	"fmt"

	"league-platform/internal/models"
)

// ParityGameType is the registry name of the reference game.
const ParityGameType = "parity"

const (
	parityMinMove     = 1
	parityMaxMove     = 10
	parityDefaultMove = 3
)

func init() {
	Register(ParityGameType, func() Rules { return &ParityRules{} })
}

// ParityRules is the reference game: both sides pick an integer in [1..10];
// ODD wins the round when the sum is odd, EVEN otherwise. Never a draw, so
// an odd best-of-K cannot tie.
type ParityRules struct{}

func (p *ParityRules) GameType() string { return ParityGameType }

func (p *ParityRules) Validate(move int, roleTag string) error {
	if move < parityMinMove || move > parityMaxMove {
		return fmt.Errorf("%w: move %d out of range [%d..%d]", ErrInvalidMove, move, parityMinMove, parityMaxMove)
	}
	return nil
}

func (p *ParityRules) DefaultMove(roleTag string) int { return parityDefaultMove }

func (p *ParityRules) ScoreRound(moveA, moveB int) (string, map[string]interface{}) {
	sum := moveA + moveB
	meta := map[string]interface{}{"sum": sum}
	if sum%2 == 1 {
		return models.RoleA, meta // side A plays ODD
	}
	return models.RoleB, meta
}

func (p *ParityRules) Finalize(history []models.GameRound, score models.Score) (string, models.Score) {
	switch {
	case score.A > score.B:
		return models.RoleA, score
	case score.B > score.A:
		return models.RoleB, score
	default:
		return "", score
	}
}
