package manager

import (
	"sort"

	"league-platform/internal/models"
)

// standingsLocked computes the current table from the player aggregates and
// recorded results. The result is cached until the next recorded result or
// registration. Caller holds the lock.
//
// Ordering: points, then the head-to-head result between the tied pair,
// then game-round differential, then player id.
func (m *Manager) standingsLocked() []models.StandingsRow {
	if !m.standingsDirty && m.standings != nil {
		out := make([]models.StandingsRow, len(m.standings))
		copy(out, m.standings)
		return out
	}

	diff := make(map[string]int, len(m.players))
	headToHead := make(map[[2]string]string) // (a,b) with a<b -> winner id, "" for draw
	for matchID, result := range m.results {
		match, ok := m.matches[matchID]
		if !ok || match.State == models.MatchAbandoned {
			continue
		}
		diff[match.PlayerA] += result.ScoreA - result.ScoreB
		diff[match.PlayerB] += result.ScoreB - result.ScoreA
		headToHead[[2]string{match.PlayerA, match.PlayerB}] = result.WinnerID
	}

	rows := make([]models.StandingsRow, 0, len(m.players))
	for _, p := range m.players {
		if p.Status != models.PlayerActive {
			continue
		}
		rows = append(rows, models.StandingsRow{
			PlayerID:      p.ID,
			DisplayName:   p.DisplayName,
			Wins:          p.Wins,
			Losses:        p.Losses,
			Draws:         p.Draws,
			Points:        p.Points,
			RoundDiff:     diff[p.ID],
			MatchesPlayed: p.MatchesPlayed,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		if winner := m.headToHeadWinner(headToHead, a.PlayerID, b.PlayerID); winner != "" {
			return winner == a.PlayerID
		}
		if a.RoundDiff != b.RoundDiff {
			return a.RoundDiff > b.RoundDiff
		}
		return a.PlayerID < b.PlayerID
	})

	m.standings = rows
	m.standingsDirty = false

	out := make([]models.StandingsRow, len(rows))
	copy(out, rows)
	return out
}

// headToHeadWinner returns the winner of the recorded match between two
// players, or "" when they drew or never met.
func (m *Manager) headToHeadWinner(headToHead map[[2]string]string, a, b string) string {
	key := [2]string{a, b}
	if b < a {
		key = [2]string{b, a}
	}
	return headToHead[key]
}
