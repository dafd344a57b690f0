package manager

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"league-platform/internal/models"
	"league-platform/internal/protocol"
	"league-platform/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHTTPServer(t *testing.T, s *transport.Server) string {
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func newTestManager() *Manager {
	return New(Config{
		LeagueID:      "league-test",
		GameType:      "parity",
		BestOfK:       3,
		MinPlayers:    2,
		MatchWatchdog: 200 * time.Millisecond,
	}, nil, nil)
}

func registerEnvelope(t *testing.T, req protocol.PlayerRegisterRequest) *protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(protocol.TypePlayerRegisterRequest, "league-test", "conv-1", req.DisplayName, req)
	require.NoError(t, err)
	return env
}

func registerPlayer(t *testing.T, m *Manager, name string) protocol.PlayerRegisterResponse {
	t.Helper()
	env := registerEnvelope(t, protocol.PlayerRegisterRequest{
		DisplayName:        name,
		Version:            "1.0",
		SupportedGameTypes: []string{"parity"},
		ContactEndpoint:    "http://127.0.0.1:1",
	})
	resp, rerr := m.handlePlayerRegister(context.Background(), env)
	require.Nil(t, rerr)
	var out protocol.PlayerRegisterResponse
	require.NoError(t, resp.Decode(&out))
	return out
}

func registerReferee(t *testing.T, m *Manager, name, endpoint string, capacity int) protocol.RefereeRegisterResponse {
	t.Helper()
	req := protocol.RefereeRegisterRequest{
		DisplayName:          name,
		Version:              "1.0",
		SupportedGameTypes:   []string{"parity"},
		ContactEndpoint:      endpoint,
		MaxConcurrentMatches: capacity,
	}
	env, err := protocol.NewEnvelope(protocol.TypeRefereeRegisterRequest, "league-test", "conv-1", name, req)
	require.NoError(t, err)
	resp, rerr := m.handleRefereeRegister(context.Background(), env)
	require.Nil(t, rerr)
	var out protocol.RefereeRegisterResponse
	require.NoError(t, resp.Decode(&out))
	return out
}

func TestPlayerRegistration(t *testing.T) {
	m := newTestManager()

	resp := registerPlayer(t, m, "Alice")
	assert.Equal(t, protocol.StatusAccepted, resp.Status)
	assert.NotEmpty(t, resp.PlayerID)
	assert.Len(t, resp.AuthToken, 64) // 32 bytes hex

	// The record is mirrored to the store.
	stored, err := m.store.GetPlayer(resp.PlayerID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", stored.DisplayName)
}

func TestPlayerRegistrationRejections(t *testing.T) {
	m := newTestManager()

	env := registerEnvelope(t, protocol.PlayerRegisterRequest{
		DisplayName:        "Alice",
		SupportedGameTypes: []string{"parity"},
		ContactEndpoint:    "http://127.0.0.1:1",
		PlayerID:           "fixed-id",
	})
	_, rerr := m.handlePlayerRegister(context.Background(), env)
	require.Nil(t, rerr)

	// Same requested id again.
	_, rerr = m.handlePlayerRegister(context.Background(), env)
	require.NotNil(t, rerr)
	assert.Equal(t, protocol.CodeDuplicateID, rerr.Code)

	// A player that does not speak the league's game.
	chessEnv := registerEnvelope(t, protocol.PlayerRegisterRequest{
		DisplayName:        "Casper",
		SupportedGameTypes: []string{"chess"},
		ContactEndpoint:    "http://127.0.0.1:1",
	})
	_, rerr = m.handlePlayerRegister(context.Background(), chessEnv)
	require.NotNil(t, rerr)
	assert.Equal(t, protocol.CodeUnsupportedGameType, rerr.Code)

	// Missing mandatory fields.
	emptyEnv := registerEnvelope(t, protocol.PlayerRegisterRequest{DisplayName: "NoEndpoint"})
	_, rerr = m.handlePlayerRegister(context.Background(), emptyEnv)
	require.NotNil(t, rerr)
	assert.Equal(t, protocol.CodeInvalidParams, rerr.Code)
}

func TestRegistrationClosesOnStart(t *testing.T) {
	m := newTestManager()
	registerPlayer(t, m, "Alice")
	registerPlayer(t, m, "Bob")
	registerReferee(t, m, "Ref", "http://127.0.0.1:1", 2)

	require.NoError(t, m.StartLeague())
	assert.Equal(t, models.LeagueReady, m.State())

	env := registerEnvelope(t, protocol.PlayerRegisterRequest{
		DisplayName:        "Latecomer",
		SupportedGameTypes: []string{"parity"},
		ContactEndpoint:    "http://127.0.0.1:1",
	})
	_, rerr := m.handlePlayerRegister(context.Background(), env)
	require.NotNil(t, rerr)
	assert.Equal(t, protocol.CodeRegistrationClosed, rerr.Code)
}

func TestStartLeaguePreconditions(t *testing.T) {
	m := newTestManager()
	registerPlayer(t, m, "OnlyOne")
	registerReferee(t, m, "Ref", "http://127.0.0.1:1", 2)

	err := m.StartLeague()
	assert.ErrorIs(t, err, ErrNotEnoughPlayers)
	assert.Equal(t, models.LeagueRegistration, m.State())

	registerPlayer(t, m, "Two")
	require.NoError(t, m.StartLeague())

	// Starting twice is an invalid transition.
	assert.ErrorIs(t, m.StartLeague(), ErrInvalidState)
}

func TestStartLeagueRequiresReferee(t *testing.T) {
	m := newTestManager()
	registerPlayer(t, m, "Alice")
	registerPlayer(t, m, "Bob")

	assert.ErrorIs(t, m.StartLeague(), ErrNoReferee)
	assert.Equal(t, models.LeagueRegistration, m.State())
}

func TestAuthTokenCheck(t *testing.T) {
	m := newTestManager()
	resp := registerPlayer(t, m, "Alice")

	env, err := protocol.NewEnvelope(protocol.TypeLeagueStatus, "league-test", "conv-2", resp.PlayerID, protocol.StatusRequest{})
	require.NoError(t, err)

	env.AuthToken = "forged"
	rerr := m.checkAuthToken(env)
	require.NotNil(t, rerr)
	assert.Equal(t, protocol.CodeUnauthenticated, rerr.Code)

	env.AuthToken = resp.AuthToken
	assert.Nil(t, m.checkAuthToken(env))
}

func resultEnvelope(t *testing.T, rep protocol.MatchResultReport, sender string) *protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(protocol.TypeMatchResultReport, "league-test", "conv-3", sender, rep)
	require.NoError(t, err)
	return env
}

func resultAck(t *testing.T, m *Manager, rep protocol.MatchResultReport, sender string) protocol.MatchResultAck {
	t.Helper()
	resp, rerr := m.handleResultReport(context.Background(), resultEnvelope(t, rep, sender))
	require.Nil(t, rerr)
	var ack protocol.MatchResultAck
	require.NoError(t, resp.Decode(&ack))
	return ack
}

func TestResultReceiptIsIdempotent(t *testing.T) {
	m := newTestManager()
	a := registerPlayer(t, m, "Alice")
	b := registerPlayer(t, m, "Bob")
	refOne := registerReferee(t, m, "RefOne", "http://127.0.0.1:1", 2)
	refTwo := registerReferee(t, m, "RefTwo", "http://127.0.0.1:1", 2)
	require.NoError(t, m.StartLeague())

	match := m.schedule.Rounds[0].Matches[0]
	rep := protocol.MatchResultReport{
		MatchID:  match.ID,
		RoundID:  match.RoundID,
		WinnerID: a.PlayerID,
		ScoreA:   2,
		ScoreB:   1,
		History: []models.GameRound{
			{GameRoundID: 1, MoveA: 1, MoveB: 2, Winner: models.RoleA},
			{GameRoundID: 2, MoveA: 2, MoveB: 2, Winner: models.RoleB},
			{GameRoundID: 3, MoveA: 3, MoveB: 2, Winner: models.RoleA},
		},
	}

	first := resultAck(t, m, rep, refOne.RefereeID)
	assert.True(t, first.Accepted)
	assert.False(t, first.Duplicate)

	// Exact redelivery: accepted as a duplicate, nothing changes.
	second := resultAck(t, m, rep, refOne.RefereeID)
	assert.True(t, second.Accepted)
	assert.True(t, second.Duplicate)

	// A conflicting report is refused and the original stands.
	conflict := rep
	conflict.WinnerID = b.PlayerID
	conflict.ScoreA, conflict.ScoreB = 1, 2
	third := resultAck(t, m, conflict, refTwo.RefereeID)
	assert.False(t, third.Accepted)
	assert.True(t, third.Duplicate)

	recorded := m.results[match.ID]
	require.NotNil(t, recorded)
	assert.Equal(t, a.PlayerID, recorded.WinnerID)

	// Stats were applied exactly once.
	winner := m.players[a.PlayerID]
	loser := m.players[b.PlayerID]
	assert.Equal(t, 1, winner.Wins)
	assert.Equal(t, 3, winner.Points)
	assert.Equal(t, 1, winner.MatchesPlayed)
	assert.Equal(t, 1, loser.Losses)
	assert.Equal(t, 0, loser.Points)
}

func TestUnknownMatchResultRejected(t *testing.T) {
	m := newTestManager()
	registerPlayer(t, m, "Alice")
	registerPlayer(t, m, "Bob")
	ref := registerReferee(t, m, "Ref", "http://127.0.0.1:1", 2)
	require.NoError(t, m.StartLeague())

	_, rerr := m.handleResultReport(context.Background(), resultEnvelope(t, protocol.MatchResultReport{
		MatchID: "R9M9",
		RoundID: "R9",
	}, ref.RefereeID))
	require.NotNil(t, rerr)
	assert.Equal(t, protocol.CodeUnknownMatch, rerr.Code)
}

// A registered player is authenticated, but only referees may report
// results.
func TestPlayerCannotReportResults(t *testing.T) {
	m := newTestManager()
	a := registerPlayer(t, m, "Alice")
	registerPlayer(t, m, "Bob")
	registerReferee(t, m, "Ref", "http://127.0.0.1:1", 2)
	require.NoError(t, m.StartLeague())

	match := m.schedule.Rounds[0].Matches[0]
	_, rerr := m.handleResultReport(context.Background(), resultEnvelope(t, protocol.MatchResultReport{
		MatchID:  match.ID,
		RoundID:  match.RoundID,
		WinnerID: a.PlayerID,
		ScoreA:   2,
	}, a.PlayerID))
	require.NotNil(t, rerr)
	assert.Equal(t, protocol.CodeUnauthenticated, rerr.Code)

	m.mu.Lock()
	_, recorded := m.results[match.ID]
	m.mu.Unlock()
	assert.False(t, recorded)
}

// A late report from the referee that was watchdogged off a match must
// still free the slot held by its replacement.
func TestLateReportReleasesReassignedReferee(t *testing.T) {
	m := newTestManager()
	a := registerPlayer(t, m, "Alice")
	registerPlayer(t, m, "Bob")
	oldRef := registerReferee(t, m, "OldRef", "http://127.0.0.1:1", 2)
	newRef := registerReferee(t, m, "NewRef", "http://127.0.0.1:1", 2)
	require.NoError(t, m.StartLeague())

	match := m.schedule.Rounds[0].Matches[0]
	m.mu.Lock()
	m.assigned[match.ID] = newRef.RefereeID
	m.referees[newRef.RefereeID].CurrentLoad = 1
	m.mu.Unlock()

	ack := resultAck(t, m, protocol.MatchResultReport{
		MatchID:  match.ID,
		RoundID:  match.RoundID,
		WinnerID: a.PlayerID,
		ScoreA:   2,
		History: []models.GameRound{
			{GameRoundID: 1, MoveA: 1, MoveB: 2, Winner: models.RoleA},
			{GameRoundID: 2, MoveA: 3, MoveB: 2, Winner: models.RoleA},
		},
	}, oldRef.RefereeID)
	assert.True(t, ack.Accepted)

	m.mu.Lock()
	_, held := m.assigned[match.ID]
	load := m.referees[newRef.RefereeID].CurrentLoad
	m.mu.Unlock()
	assert.False(t, held)
	assert.Zero(t, load)
}

// A report with no winner and a forfeit reason means neither player showed
// up; nobody collects a draw point for that.
func TestDoubleForfeitAwardsNothing(t *testing.T) {
	m := newTestManager()
	a := registerPlayer(t, m, "Alice")
	b := registerPlayer(t, m, "Bob")
	ref := registerReferee(t, m, "Ref", "http://127.0.0.1:1", 2)
	require.NoError(t, m.StartLeague())

	match := m.schedule.Rounds[0].Matches[0]
	ack := resultAck(t, m, protocol.MatchResultReport{
		MatchID:       match.ID,
		RoundID:       match.RoundID,
		ForfeitReason: "both players failed to accept the invite",
	}, ref.RefereeID)
	assert.True(t, ack.Accepted)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, models.MatchForfeited, match.State)
	for _, p := range []*models.PlayerRecord{m.players[a.PlayerID], m.players[b.PlayerID]} {
		assert.Zero(t, p.Points)
		assert.Zero(t, p.Draws)
		assert.Zero(t, p.MatchesPlayed)
	}
}

// Query tools answer only callers presenting the token issued to them.
func TestQueryToolsRequireAuth(t *testing.T) {
	m := newTestManager()
	resp := registerPlayer(t, m, "Alice")
	url := newHTTPServer(t, m.Server())
	client := transport.NewClient(0)

	for _, tool := range []string{protocol.TypeLeagueStatus, protocol.TypeStandingsGet, protocol.TypeScheduleGet} {
		env, err := protocol.NewEnvelope(tool, "league-test", "conv-q", resp.PlayerID, protocol.StatusRequest{})
		require.NoError(t, err)
		env.AuthToken = "forged"
		_, callErr := client.Call(context.Background(), url, env, 5*time.Second)
		require.Error(t, callErr, "tool %s", tool)
		remote, ok := transport.AsRemoteError(callErr)
		require.True(t, ok, "tool %s", tool)
		assert.Equal(t, protocol.CodeUnauthenticated, remote.Code, "tool %s", tool)
	}

	env, err := protocol.NewEnvelope(protocol.TypeLeagueStatus, "league-test", "conv-q", resp.PlayerID, protocol.StatusRequest{})
	require.NoError(t, err)
	env.AuthToken = resp.AuthToken
	_, callErr := client.Call(context.Background(), url, env, 5*time.Second)
	require.NoError(t, callErr)
}

// stuckReferee acks every assignment and then does nothing, to exercise the
// watchdog.
func stuckReferee(t *testing.T) string {
	t.Helper()
	server := transport.NewServer()
	server.Register(protocol.TypeMatchAssign, func(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, *transport.RemoteError) {
		resp, err := protocol.NewEnvelope(protocol.TypeMatchAck, env.LeagueID, env.ConversationID, "stuck-ref", protocol.MatchAck{Accepted: true})
		if err != nil {
			return nil, &transport.RemoteError{Code: protocol.CodeInternal, Message: err.Error()}
		}
		return resp, nil
	})
	ts := newHTTPServer(t, server)
	return ts
}

func TestSilentRefereeLeadsToAbandonment(t *testing.T) {
	m := newTestManager()
	registerPlayer(t, m, "Alice")
	registerPlayer(t, m, "Bob")
	registerReferee(t, m, "StuckRef", stuckReferee(t), 4)
	require.NoError(t, m.StartLeague())
	assert.Equal(t, models.LeagueReady, m.State())

	// The first run_round moves the league into play on its own.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, m.RunRound(ctx, 1))
	assert.Equal(t, models.LeagueInProgress, m.State())

	match := m.schedule.Rounds[0].Matches[0]
	assert.Equal(t, models.MatchAbandoned, match.State)

	result := m.results[match.ID]
	require.NotNil(t, result)
	assert.Empty(t, result.WinnerID)
	assert.Zero(t, result.ScoreA)
	assert.Zero(t, result.ScoreB)
	assert.NotEmpty(t, result.ForfeitReason)

	// Abandoned matches award nothing.
	m.mu.Lock()
	rows := m.standingsLocked()
	m.mu.Unlock()
	for _, row := range rows {
		assert.Zero(t, row.Points)
		assert.Zero(t, row.MatchesPlayed)
	}

	// Watchdog released the referee slot both times.
	for _, ref := range m.referees {
		assert.Zero(t, ref.CurrentLoad)
	}
}

func TestLeagueStatusQuery(t *testing.T) {
	m := newTestManager()
	registerPlayer(t, m, "Alice")
	registerPlayer(t, m, "Bob")
	registerPlayer(t, m, "Carol")

	env, err := protocol.NewEnvelope(protocol.TypeLeagueStatus, "league-test", "conv-4", "anyone", protocol.StatusRequest{})
	require.NoError(t, err)
	resp, rerr := m.handleLeagueStatus(context.Background(), env)
	require.Nil(t, rerr)

	var status protocol.LeagueStatus
	require.NoError(t, resp.Decode(&status))
	assert.Equal(t, models.LeagueRegistration, status.State)
	assert.Equal(t, 3, status.Players)
	assert.Zero(t, status.TotalRounds)

	registerReferee(t, m, "Ref", "http://127.0.0.1:1", 2)
	require.NoError(t, m.StartLeague())
	resp, rerr = m.handleLeagueStatus(context.Background(), env)
	require.Nil(t, rerr)
	require.NoError(t, resp.Decode(&status))
	assert.Equal(t, models.LeagueReady, status.State)
	assert.Equal(t, 3, status.TotalRounds) // 3 players -> bye -> 3 rounds
}

func TestScheduleQueryBeforeStart(t *testing.T) {
	m := newTestManager()
	env, err := protocol.NewEnvelope(protocol.TypeScheduleGet, "league-test", "conv-5", "anyone", protocol.StatusRequest{})
	require.NoError(t, err)
	_, rerr := m.handleScheduleGet(context.Background(), env)
	require.NotNil(t, rerr)
	assert.Equal(t, protocol.CodeInvalidState, rerr.Code)
}
