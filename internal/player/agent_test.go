package player

import (
	"context"
	"testing"
	"time"

	"league-platform/internal/protocol"
	"league-platform/internal/strategy"
)

func newTestAgent(strat strategy.Strategy) *Agent {
	if strat == nil {
		strat = &strategy.Random{}
	}
	a := New("Alice", "http://localhost:8101", "league-1", "http://localhost:8000",
		[]string{"parity"}, strat, nil)
	a.playerID = "player-1"
	return a
}

func inviteEnvelope(t *testing.T, invite protocol.GameInvite) *protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(protocol.TypeGameInvite, "league-1", "conv-1", "referee-1", invite)
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	return env
}

func TestInviteAccepted(t *testing.T) {
	agent := newTestAgent(nil)
	invite := protocol.GameInvite{
		MatchID:      "R1M1",
		OpponentID:   "player-2",
		RoleTag:      "ODD",
		GameType:     "parity",
		BestOfK:      5,
		SessionToken: "session-tok",
	}

	resp, rerr := agent.handleInvite(context.Background(), inviteEnvelope(t, invite))
	if rerr != nil {
		t.Fatalf("handleInvite failed: %v", rerr)
	}

	var ack protocol.GameInviteAck
	if err := resp.Decode(&ack); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !ack.Accepted {
		t.Fatalf("Invite rejected: %s", ack.Reason)
	}

	session, err := agent.SessionFor("R1M1")
	if err != nil {
		t.Fatalf("SessionFor failed: %v", err)
	}
	if session.State != SessionAccepted {
		t.Errorf("State = %s, expected %s", session.State, SessionAccepted)
	}
	if session.SessionToken != "session-tok" {
		t.Errorf("SessionToken = %s", session.SessionToken)
	}
}

func TestDuplicateInviteRejected(t *testing.T) {
	agent := newTestAgent(nil)
	invite := protocol.GameInvite{MatchID: "R1M1", GameType: "parity", BestOfK: 5}

	if _, rerr := agent.handleInvite(context.Background(), inviteEnvelope(t, invite)); rerr != nil {
		t.Fatalf("First invite failed: %v", rerr)
	}
	resp, rerr := agent.handleInvite(context.Background(), inviteEnvelope(t, invite))
	if rerr != nil {
		t.Fatalf("Second invite errored: %v", rerr)
	}

	var ack protocol.GameInviteAck
	resp.Decode(&ack)
	if ack.Accepted {
		t.Error("Duplicate invite should be rejected")
	}
}

func TestUnsupportedGameTypeRejected(t *testing.T) {
	agent := newTestAgent(nil)
	invite := protocol.GameInvite{MatchID: "R1M1", GameType: "chess", BestOfK: 5}

	resp, rerr := agent.handleInvite(context.Background(), inviteEnvelope(t, invite))
	if rerr != nil {
		t.Fatalf("handleInvite errored: %v", rerr)
	}

	var ack protocol.GameInviteAck
	resp.Decode(&ack)
	if ack.Accepted {
		t.Error("Unsupported game type should be rejected")
	}
}

// stallStrategy ignores its context and never returns in time.
type stallStrategy struct{}

func (stallStrategy) Name() string { return "stall" }

func (stallStrategy) ChooseMove(ctx context.Context, view strategy.View) (int, error) {
	time.Sleep(5 * time.Second)
	return 1, nil
}

func TestSlowStrategyFallsBackToDefault(t *testing.T) {
	agent := newTestAgent(stallStrategy{})
	invite := protocol.GameInvite{MatchID: "R1M1", RoleTag: "ODD", GameType: "parity", BestOfK: 5}
	if _, rerr := agent.handleInvite(context.Background(), inviteEnvelope(t, invite)); rerr != nil {
		t.Fatalf("Invite failed: %v", rerr)
	}
	session, _ := agent.SessionFor("R1M1")

	call := protocol.ChooseMoveCall{
		MatchID:     "R1M1",
		GameRoundID: 1,
		Deadline:    time.Now().Add(400 * time.Millisecond),
	}

	start := time.Now()
	move := agent.decideMove(context.Background(), session, call)
	elapsed := time.Since(start)

	if move != session.rules.DefaultMove("ODD") {
		t.Errorf("Expected the default move, got %d", move)
	}
	if elapsed > time.Second {
		t.Errorf("Fallback took %v, should trigger before the referee deadline", elapsed)
	}
}

// badStrategy returns an out-of-range move.
type badStrategy struct{}

func (badStrategy) Name() string { return "bad" }

func (badStrategy) ChooseMove(ctx context.Context, view strategy.View) (int, error) {
	return 99, nil
}

func TestInvalidStrategyMoveFallsBackToDefault(t *testing.T) {
	agent := newTestAgent(badStrategy{})
	invite := protocol.GameInvite{MatchID: "R1M1", RoleTag: "EVEN", GameType: "parity", BestOfK: 5}
	if _, rerr := agent.handleInvite(context.Background(), inviteEnvelope(t, invite)); rerr != nil {
		t.Fatalf("Invite failed: %v", rerr)
	}
	session, _ := agent.SessionFor("R1M1")

	call := protocol.ChooseMoveCall{
		MatchID:     "R1M1",
		GameRoundID: 1,
		Deadline:    time.Now().Add(2 * time.Second),
	}
	if move := agent.decideMove(context.Background(), session, call); move != session.rules.DefaultMove("EVEN") {
		t.Errorf("Invalid strategy move should fall back to default, got %d", move)
	}
}

func TestSessionTokenCheck(t *testing.T) {
	agent := newTestAgent(nil)
	invite := protocol.GameInvite{MatchID: "R1M1", GameType: "parity", BestOfK: 5, SessionToken: "good-tok"}
	if _, rerr := agent.handleInvite(context.Background(), inviteEnvelope(t, invite)); rerr != nil {
		t.Fatalf("Invite failed: %v", rerr)
	}

	call := protocol.ChooseMoveCall{MatchID: "R1M1", GameRoundID: 1}
	env, _ := protocol.NewEnvelope(protocol.TypeChooseMoveCall, "league-1", "conv-2", "referee-1", call)

	env.AuthToken = "wrong-tok"
	if rerr := agent.checkSessionToken(env); rerr == nil || rerr.Code != protocol.CodeUnauthenticated {
		t.Errorf("Wrong token should be UNAUTHENTICATED, got %v", rerr)
	}

	env.AuthToken = "good-tok"
	if rerr := agent.checkSessionToken(env); rerr != nil {
		t.Errorf("Correct token rejected: %v", rerr)
	}

	unknown := protocol.ChooseMoveCall{MatchID: "R9M9", GameRoundID: 1}
	unknownEnv, _ := protocol.NewEnvelope(protocol.TypeChooseMoveCall, "league-1", "conv-3", "referee-1", unknown)
	unknownEnv.AuthToken = "good-tok"
	if rerr := agent.checkSessionToken(unknownEnv); rerr == nil || rerr.Code != protocol.CodeUnknownMatch {
		t.Errorf("Unknown match should be UNKNOWN_MATCH, got %v", rerr)
	}
}

func TestRoundResultAndGameOverLifecycle(t *testing.T) {
	agent := newTestAgent(nil)
	invite := protocol.GameInvite{MatchID: "R1M1", RoleTag: "ODD", GameType: "parity", BestOfK: 5}
	if _, rerr := agent.handleInvite(context.Background(), inviteEnvelope(t, invite)); rerr != nil {
		t.Fatalf("Invite failed: %v", rerr)
	}

	result := protocol.RoundResult{
		MatchID:         "R1M1",
		GameRoundID:     1,
		RoundWinnerRole: "A",
		YourMove:        3,
		OpponentMove:    4,
	}
	env, _ := protocol.NewEnvelope(protocol.TypeRoundResult, "league-1", "conv-4", "referee-1", result)
	if _, rerr := agent.handleRoundResult(context.Background(), env); rerr != nil {
		t.Fatalf("handleRoundResult failed: %v", rerr)
	}

	session, _ := agent.SessionFor("R1M1")
	if len(session.History) != 1 || session.History[0].OwnMove != 3 {
		t.Errorf("History not recorded: %+v", session.History)
	}

	over := protocol.GameOver{MatchID: "R1M1", Status: protocol.OutcomeWin}
	overEnv, _ := protocol.NewEnvelope(protocol.TypeGameOver, "league-1", "conv-5", "referee-1", over)
	if _, rerr := agent.handleGameOver(context.Background(), overEnv); rerr != nil {
		t.Fatalf("handleGameOver failed: %v", rerr)
	}

	if _, err := agent.SessionFor("R1M1"); err == nil {
		t.Error("Session should be removed after game over")
	}
	if agent.Sessions() != 0 {
		t.Errorf("Sessions = %d, expected 0", agent.Sessions())
	}
}
