// Package scheduler builds the round-robin plan for a league using the
// circle method: position 0 is fixed, the rest rotate one slot per round.
package scheduler

import (
	"errors"
	"fmt"

	"league-platform/internal/models"
)

var (
	ErrNotEnoughPlayers = errors.New("at least two players are required")
	ErrDuplicatePlayer  = errors.New("duplicate player id")
)

// BuildSchedule produces the full round-robin for the given players. With
// an odd count a BYE sentinel is appended and the bye matches come out
// already completed with no winner and a zero score.
func BuildSchedule(playerIDs []string, gameType string) (*models.Schedule, error) {
	if len(playerIDs) < 2 {
		return nil, ErrNotEnoughPlayers
	}
	seen := make(map[string]bool, len(playerIDs))
	for _, id := range playerIDs {
		if seen[id] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePlayer, id)
		}
		seen[id] = true
	}

	positions := make([]string, len(playerIDs))
	copy(positions, playerIDs)
	if len(positions)%2 == 1 {
		positions = append(positions, models.BYE)
	}
	n := len(positions)

	schedule := &models.Schedule{GameType: gameType}

	for round := 1; round <= n-1; round++ {
		roundID := fmt.Sprintf("R%d", round)
		r := &models.Round{ID: roundID, Index: round}

		for pair := 0; pair < n/2; pair++ {
			p1 := positions[pair]
			p2 := positions[n-1-pair]

			match := &models.Match{
				ID:       fmt.Sprintf("R%dM%d", round, pair+1),
				RoundID:  roundID,
				GameType: gameType,
				State:    models.MatchScheduled,
			}

			switch {
			case p1 == models.BYE:
				match.PlayerA, match.PlayerB = p2, models.BYE
				match.State = models.MatchCompleted
			case p2 == models.BYE:
				match.PlayerA, match.PlayerB = p1, models.BYE
				match.State = models.MatchCompleted
			case p1 < p2:
				match.PlayerA, match.PlayerB = p1, p2
			default:
				match.PlayerA, match.PlayerB = p2, p1
			}

			r.Matches = append(r.Matches, match)
		}

		schedule.Rounds = append(schedule.Rounds, r)

		// Rotate clockwise: position 0 stays, the last slot moves to
		// position 1.
		last := positions[n-1]
		copy(positions[2:], positions[1:n-1])
		positions[1] = last
	}

	return schedule, nil
}
