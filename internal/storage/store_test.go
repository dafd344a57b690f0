package storage

import (
	"context"
	"testing"
	"time"

	"league-platform/internal/config"
	"league-platform/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	gormStore, err := NewGorm(config.DBConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemory(),
		"gorm":   gormStore,
	}
}

func TestPlayerRoundTrip(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			player := &models.PlayerRecord{
				ID:                 "player-1",
				DisplayName:        "Alice",
				Endpoint:           "http://localhost:8101",
				SupportedGameTypes: []string{"parity"},
				AuthToken:          "tok",
				Status:             models.PlayerActive,
				Points:             6,
				Wins:               2,
				RegisteredAt:       time.Now().UTC().Truncate(time.Second),
			}
			require.NoError(t, store.PutPlayer(player))

			got, err := store.GetPlayer("player-1")
			require.NoError(t, err)
			assert.Equal(t, player.DisplayName, got.DisplayName)
			assert.Equal(t, player.SupportedGameTypes, got.SupportedGameTypes)
			assert.Equal(t, player.Points, got.Points)
			assert.Equal(t, player.AuthToken, got.AuthToken)

			// Update must overwrite, not duplicate.
			player.Points = 9
			require.NoError(t, store.PutPlayer(player))
			got, err = store.GetPlayer("player-1")
			require.NoError(t, err)
			assert.Equal(t, 9, got.Points)

			players, err := store.ListPlayers()
			require.NoError(t, err)
			assert.Len(t, players, 1)

			_, err = store.GetPlayer("ghost")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRefereeRoundTrip(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ref := &models.RefereeRecord{
				ID:                   "referee-1",
				DisplayName:          "Ref",
				Endpoint:             "http://localhost:8201",
				SupportedGameTypes:   []string{"parity"},
				MaxConcurrentMatches: 2,
				AuthToken:            "tok",
				RegisteredAt:         time.Now().UTC().Truncate(time.Second),
			}
			require.NoError(t, store.PutReferee(ref))

			got, err := store.GetReferee("referee-1")
			require.NoError(t, err)
			assert.Equal(t, 2, got.MaxConcurrentMatches)

			refs, err := store.ListReferees()
			require.NoError(t, err)
			assert.Len(t, refs, 1)

			_, err = store.GetReferee("ghost")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestMatchAndResultRoundTrip(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			match := &models.Match{
				ID:       "R1M1",
				RoundID:  "R1",
				PlayerA:  "player-1",
				PlayerB:  "player-2",
				GameType: "parity",
				State:    models.MatchScheduled,
			}
			require.NoError(t, store.PutMatch(match))

			match.State = models.MatchCompleted
			match.AssignedReferee = "referee-1"
			require.NoError(t, store.PutMatch(match))

			got, err := store.GetMatch("R1M1")
			require.NoError(t, err)
			assert.Equal(t, models.MatchCompleted, got.State)
			assert.Equal(t, "referee-1", got.AssignedReferee)

			result := &models.MatchResult{
				MatchID:  "R1M1",
				RoundID:  "R1",
				WinnerID: "player-1",
				ScoreA:   3,
				ScoreB:   1,
				History: []models.GameRound{
					{GameRoundID: 1, MoveA: 1, MoveB: 2, Winner: models.RoleA},
					{GameRoundID: 2, MoveA: 2, MoveB: 2, Winner: models.RoleB},
				},
				ReportedAt: time.Now().UTC().Truncate(time.Second),
			}
			require.NoError(t, store.PutResult(result))

			gotResult, err := store.GetResult("R1M1")
			require.NoError(t, err)
			assert.Equal(t, "player-1", gotResult.WinnerID)
			assert.Len(t, gotResult.History, 2)
			assert.Equal(t, models.RoleA, gotResult.History[0].Winner)

			_, err = store.GetResult("R9M9")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStandingsRoundTrip(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			rows := []models.StandingsRow{
				{PlayerID: "player-1", Points: 6, Wins: 2},
				{PlayerID: "player-2", Points: 3, Wins: 1},
			}
			require.NoError(t, store.PutStandings("R2", rows))

			got, err := store.GetStandings("R2")
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "player-1", got[0].PlayerID)
			assert.Equal(t, 6, got[0].Points)

			_, err = store.GetStandings("R9")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestMemoryOutbox(t *testing.T) {
	outbox := NewMemoryOutbox()
	ctx := context.Background()

	n, err := outbox.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, outbox.Push(ctx, &models.MatchResult{MatchID: "R1M1"}))
	require.NoError(t, outbox.Push(ctx, &models.MatchResult{MatchID: "R1M2"}))

	n, err = outbox.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	drained := outbox.Drain()
	assert.Len(t, drained, 2)
	assert.Equal(t, "R1M1", drained[0].MatchID)

	n, err = outbox.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
