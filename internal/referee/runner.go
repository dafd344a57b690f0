package referee

import (
	"context"
	"fmt"
	"log"
	"time"

	"league-platform/internal/events"
	"league-platform/internal/game"
	"league-platform/internal/models"
	"league-platform/internal/protocol"
	"league-platform/internal/transport"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	inviteAttempts    = 3 // initial send plus two retries
	inviteBackoffBase = 500 * time.Millisecond

	reportRetries = 5

	// forfeitThreshold is how many consecutive timeouts or invalid moves a
	// side survives before the match is forfeited against it.
	forfeitThreshold = 3
)

// side is the runner's book-keeping for one participant.
type side struct {
	playerID     string
	endpoint     string
	roleTag      string
	sessionToken string

	consecutiveFailures int
	lastMove            *int
}

// MatchRunner drives one match through its invite, play and report phases.
// Runners are independent; the agent only shares its load counter with
// them.
type MatchRunner struct {
	agent  *Agent
	assign protocol.MatchAssign
	rules  game.Rules

	sideA *side
	sideB *side

	score   models.Score
	history []models.GameRound

	forfeitedRole string // models.RoleA or models.RoleB when a side forfeited
	forfeitReason string
}

func newMatchRunner(agent *Agent, assign protocol.MatchAssign, rules game.Rules) *MatchRunner {
	return &MatchRunner{
		agent:  agent,
		assign: assign,
		rules:  rules,
		sideA: &side{
			playerID: assign.PlayerAID,
			endpoint: assign.PlayerAEndpoint,
			roleTag:  game.RoleOdd,
		},
		sideB: &side{
			playerID: assign.PlayerBID,
			endpoint: assign.PlayerBEndpoint,
			roleTag:  game.RoleEven,
		},
	}
}

// Run executes the whole match and always reports a result, releasing the
// agent's capacity when done.
func (r *MatchRunner) Run(ctx context.Context) {
	defer r.agent.matchDone(r.assign.MatchID)

	r.emit("match.started", map[string]interface{}{
		"match_id": r.assign.MatchID,
		"player_a": r.sideA.playerID,
		"player_b": r.sideB.playerID,
	})

	okA, okB := r.invitePhase(ctx)
	if !okA || !okB {
		r.forfeitOnInvite(ctx, okA, okB)
		return
	}

	r.playPhase(ctx)
	r.finishAndReport(ctx)
}

func (r *MatchRunner) emit(eventType string, data map[string]interface{}) {
	r.agent.sink.Emit(events.New(eventType, r.agent.cfg.LeagueID, data))
}

// invitePhase invites both players concurrently. A side that rejects or
// stays unreachable through the retries is reported as failed.
func (r *MatchRunner) invitePhase(ctx context.Context) (okA, okB bool) {
	var g errgroup.Group
	var resultA, resultB bool

	g.Go(func() error {
		resultA = r.invite(ctx, r.sideA, r.sideB)
		return nil
	})
	g.Go(func() error {
		resultB = r.invite(ctx, r.sideB, r.sideA)
		return nil
	})
	g.Wait()

	return resultA, resultB
}

func (r *MatchRunner) invite(ctx context.Context, invitee, opponent *side) bool {
	token, err := r.agent.tokens.GenerateSessionToken(r.assign.MatchID, invitee.playerID)
	if err != nil {
		log.Printf("[RUNNER] %s failed to mint session token: %v", r.assign.MatchID, err)
		return false
	}
	invitee.sessionToken = token

	payload := protocol.GameInvite{
		MatchID:          r.assign.MatchID,
		OpponentID:       opponent.playerID,
		OpponentEndpoint: opponent.endpoint,
		RoleTag:          invitee.roleTag,
		GameType:         r.assign.GameType,
		BestOfK:          r.assign.BestOfK,
		SessionToken:     token,
	}

	for attempt := 0; attempt < inviteAttempts; attempt++ {
		if attempt > 0 {
			backoff := inviteBackoffBase * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return false
			case <-time.After(backoff):
			}
		}

		env, err := protocol.NewEnvelope(protocol.TypeGameInvite, r.agent.cfg.LeagueID, uuid.New().String(), r.agent.RefereeID(), payload)
		if err != nil {
			return false
		}

		resp, err := r.agent.client.Call(ctx, invitee.endpoint, env, protocol.InviteAckDeadline)
		if err != nil {
			if _, remote := transport.AsRemoteError(err); remote {
				// The peer answered with a protocol-level refusal; no retry.
				log.Printf("[RUNNER] %s invite to %s refused: %v", r.assign.MatchID, invitee.playerID, err)
				return false
			}
			log.Printf("[RUNNER] %s invite to %s attempt %d/%d failed: %v", r.assign.MatchID, invitee.playerID, attempt+1, inviteAttempts, err)
			continue
		}

		var ack protocol.GameInviteAck
		if err := resp.Decode(&ack); err != nil {
			log.Printf("[RUNNER] %s bad invite ack from %s: %v", r.assign.MatchID, invitee.playerID, err)
			return false
		}
		if !ack.Accepted {
			log.Printf("[RUNNER] %s invite rejected by %s: %s", r.assign.MatchID, invitee.playerID, ack.Reason)
			return false
		}
		return true
	}

	return false
}

// forfeitOnInvite terminates a match whose invite phase failed: score
// (0,0), responsive side wins, nobody wins when both failed.
func (r *MatchRunner) forfeitOnInvite(ctx context.Context, okA, okB bool) {
	result := &models.MatchResult{
		MatchID:    r.assign.MatchID,
		RoundID:    r.assign.RoundID,
		ReportedAt: time.Now().UTC(),
	}

	switch {
	case okA && !okB:
		result.WinnerID = r.sideA.playerID
		result.ForfeitReason = fmt.Sprintf("player %s did not accept the invite", r.sideB.playerID)
		r.sendGameOver(ctx, r.sideA, protocol.OutcomeWin)
	case okB && !okA:
		result.WinnerID = r.sideB.playerID
		result.ForfeitReason = fmt.Sprintf("player %s did not accept the invite", r.sideA.playerID)
		r.sendGameOver(ctx, r.sideB, protocol.OutcomeWin)
	default:
		result.ForfeitReason = "both players failed to accept the invite"
	}

	r.emit("match.forfeited", map[string]interface{}{
		"match_id": r.assign.MatchID,
		"reason":   result.ForfeitReason,
	})
	r.report(ctx, result)
}

// playPhase runs game-rounds until the match clinches, the series is
// exhausted, or a side forfeits.
func (r *MatchRunner) playPhase(ctx context.Context) {
	target := r.assign.BestOfK/2 + 1

	for gameRound := 1; gameRound <= r.assign.BestOfK; gameRound++ {
		if r.score.A >= target || r.score.B >= target {
			break
		}

		deadline := time.Now().Add(r.agent.cfg.MoveDeadline)

		var moveA, moveB int
		var g errgroup.Group
		g.Go(func() error {
			moveA = r.collectMove(ctx, r.sideA, gameRound, deadline)
			return nil
		})
		g.Go(func() error {
			moveB = r.collectMove(ctx, r.sideB, gameRound, deadline)
			return nil
		})
		g.Wait()

		winner, _ := r.rules.ScoreRound(moveA, moveB)
		switch winner {
		case models.RoleA:
			r.score.A++
		case models.RoleB:
			r.score.B++
		}

		r.history = append(r.history, models.GameRound{
			GameRoundID: gameRound,
			MoveA:       moveA,
			MoveB:       moveB,
			Winner:      winner,
		})
		r.sideA.lastMove = &r.history[len(r.history)-1].MoveA
		r.sideB.lastMove = &r.history[len(r.history)-1].MoveB

		r.broadcastRoundResult(ctx, gameRound, winner, moveA, moveB)

		if r.sideA.consecutiveFailures >= forfeitThreshold {
			r.forfeitedRole = models.RoleA
			r.forfeitReason = fmt.Sprintf("player %s exceeded %d consecutive move failures", r.sideA.playerID, forfeitThreshold)
			return
		}
		if r.sideB.consecutiveFailures >= forfeitThreshold {
			r.forfeitedRole = models.RoleB
			r.forfeitReason = fmt.Sprintf("player %s exceeded %d consecutive move failures", r.sideB.playerID, forfeitThreshold)
			return
		}
	}
}

// collectMove asks one side for its move and substitutes the default on
// timeout or validation failure. No response is accepted past the grace
// window.
func (r *MatchRunner) collectMove(ctx context.Context, s *side, gameRound int, deadline time.Time) int {
	opponent := r.opponentOf(s)

	payload := protocol.ChooseMoveCall{
		MatchID:          r.assign.MatchID,
		GameRoundID:      gameRound,
		RunningScore:     r.score,
		Deadline:         deadline,
		OpponentLastMove: opponent.lastMove,
	}

	defaultMove := r.rules.DefaultMove(s.roleTag)

	env, err := protocol.NewEnvelope(protocol.TypeChooseMoveCall, r.agent.cfg.LeagueID, uuid.New().String(), r.agent.RefereeID(), payload)
	if err != nil {
		s.consecutiveFailures++
		return defaultMove
	}
	env.AuthToken = s.sessionToken

	timeout := time.Until(deadline) + protocol.MoveGrace
	resp, err := r.agent.client.Call(ctx, s.endpoint, env, timeout)
	if err != nil {
		s.consecutiveFailures++
		log.Printf("[RUNNER] %s round %d: no move from %s (%v), using default %d",
			r.assign.MatchID, gameRound, s.playerID, err, defaultMove)
		return defaultMove
	}

	var moveResp protocol.ChooseMoveResponse
	if err := resp.Decode(&moveResp); err != nil {
		s.consecutiveFailures++
		return defaultMove
	}
	if moveResp.GameRoundID != gameRound {
		s.consecutiveFailures++
		log.Printf("[RUNNER] %s round %d: stale move response from %s (round %d)",
			r.assign.MatchID, gameRound, s.playerID, moveResp.GameRoundID)
		return defaultMove
	}
	if err := r.rules.Validate(moveResp.Move, s.roleTag); err != nil {
		s.consecutiveFailures++
		log.Printf("[RUNNER] %s round %d: invalid move %d from %s, using default %d",
			r.assign.MatchID, gameRound, moveResp.Move, s.playerID, defaultMove)
		return defaultMove
	}

	s.consecutiveFailures = 0
	return moveResp.Move
}

// broadcastRoundResult tells both players how the round went. Delivery is
// best-effort; the next choose_move.call carries enough to resync.
func (r *MatchRunner) broadcastRoundResult(ctx context.Context, gameRound int, winner string, moveA, moveB int) {
	var g errgroup.Group
	send := func(s *side, own, opp int) {
		g.Go(func() error {
			payload := protocol.RoundResult{
				MatchID:         r.assign.MatchID,
				GameRoundID:     gameRound,
				RoundWinnerRole: winner,
				YourMove:        own,
				OpponentMove:    opp,
				RunningScore:    r.score,
			}
			env, err := protocol.NewEnvelope(protocol.TypeRoundResult, r.agent.cfg.LeagueID, uuid.New().String(), r.agent.RefereeID(), payload)
			if err != nil {
				return nil
			}
			env.AuthToken = s.sessionToken
			if _, err := r.agent.client.Call(ctx, s.endpoint, env, protocol.GameOverDeadline); err != nil {
				log.Printf("[RUNNER] %s round result to %s not delivered: %v", r.assign.MatchID, s.playerID, err)
			}
			return nil
		})
	}
	send(r.sideA, moveA, moveB)
	send(r.sideB, moveB, moveA)
	g.Wait()
}

// finishAndReport finalizes the score, closes the game for both players
// and reports the result to the manager.
func (r *MatchRunner) finishAndReport(ctx context.Context) {
	result := &models.MatchResult{
		MatchID:    r.assign.MatchID,
		RoundID:    r.assign.RoundID,
		History:    r.history,
		ReportedAt: time.Now().UTC(),
	}

	if r.forfeitedRole != "" {
		result.ScoreA, result.ScoreB = r.score.A, r.score.B
		result.ForfeitReason = r.forfeitReason
		if r.forfeitedRole == models.RoleA {
			result.WinnerID = r.sideB.playerID
			r.sendGameOver(ctx, r.sideA, protocol.OutcomeForfeit)
			r.sendGameOver(ctx, r.sideB, protocol.OutcomeWin)
		} else {
			result.WinnerID = r.sideA.playerID
			r.sendGameOver(ctx, r.sideA, protocol.OutcomeWin)
			r.sendGameOver(ctx, r.sideB, protocol.OutcomeForfeit)
		}
		r.emit("match.forfeited", map[string]interface{}{
			"match_id": r.assign.MatchID,
			"reason":   r.forfeitReason,
		})
	} else {
		winnerRole, finalScore := r.rules.Finalize(r.history, r.score)
		result.ScoreA, result.ScoreB = finalScore.A, finalScore.B
		switch winnerRole {
		case models.RoleA:
			result.WinnerID = r.sideA.playerID
			r.sendGameOver(ctx, r.sideA, protocol.OutcomeWin)
			r.sendGameOver(ctx, r.sideB, protocol.OutcomeLoss)
		case models.RoleB:
			result.WinnerID = r.sideB.playerID
			r.sendGameOver(ctx, r.sideA, protocol.OutcomeLoss)
			r.sendGameOver(ctx, r.sideB, protocol.OutcomeWin)
		default:
			r.sendGameOver(ctx, r.sideA, protocol.OutcomeDraw)
			r.sendGameOver(ctx, r.sideB, protocol.OutcomeDraw)
		}
		r.emit("match.completed", map[string]interface{}{
			"match_id": r.assign.MatchID,
			"winner":   result.WinnerID,
			"score_a":  result.ScoreA,
			"score_b":  result.ScoreB,
		})
	}

	r.report(ctx, result)
}

func (r *MatchRunner) sendGameOver(ctx context.Context, s *side, status string) {
	finalScore := r.score
	payload := protocol.GameOver{
		MatchID:    r.assign.MatchID,
		Status:     status,
		FinalScore: finalScore,
		History:    r.history,
	}
	env, err := protocol.NewEnvelope(protocol.TypeGameOver, r.agent.cfg.LeagueID, uuid.New().String(), r.agent.RefereeID(), payload)
	if err != nil {
		return
	}
	env.AuthToken = s.sessionToken
	if _, err := r.agent.client.Call(ctx, s.endpoint, env, protocol.GameOverDeadline); err != nil {
		log.Printf("[RUNNER] %s game over to %s not delivered: %v", r.assign.MatchID, s.playerID, err)
	}
}

// report delivers the result to the manager at least once: the initial
// send plus up to five backed-off retries, then the outbox.
func (r *MatchRunner) report(ctx context.Context, result *models.MatchResult) {
	payload := protocol.MatchResultReport{
		MatchID:       result.MatchID,
		RoundID:       result.RoundID,
		WinnerID:      result.WinnerID,
		ScoreA:        result.ScoreA,
		ScoreB:        result.ScoreB,
		History:       result.History,
		ForfeitReason: result.ForfeitReason,
	}

	r.agent.mu.Lock()
	authToken := r.agent.authToken
	r.agent.mu.Unlock()

	for attempt := 0; attempt <= reportRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				attempt = reportRetries
				continue
			case <-time.After(backoff):
			}
		}

		env, err := protocol.NewEnvelope(protocol.TypeMatchResultReport, r.agent.cfg.LeagueID, uuid.New().String(), r.agent.RefereeID(), payload)
		if err != nil {
			break
		}
		env.AuthToken = authToken

		resp, err := r.agent.client.Call(ctx, r.agent.cfg.ManagerEndpoint, env, protocol.ResultReportDeadline)
		if err != nil {
			log.Printf("[RUNNER] %s result report attempt %d/%d failed: %v", result.MatchID, attempt+1, reportRetries+1, err)
			continue
		}

		var ack protocol.MatchResultAck
		if err := resp.Decode(&ack); err != nil {
			log.Printf("[RUNNER] %s bad result ack: %v", result.MatchID, err)
			continue
		}

		if ack.Accepted {
			if ack.Duplicate {
				log.Printf("[RUNNER] %s result was already recorded", result.MatchID)
			}
			return
		}
		// accepted=false with duplicate=true means the manager holds a
		// conflicting result; retrying cannot fix that.
		log.Printf("[RUNNER] %s result rejected by manager (duplicate=%v)", result.MatchID, ack.Duplicate)
		return
	}

	log.Printf("[RUNNER] %s result undelivered after %d attempts, parking in outbox", result.MatchID, reportRetries+1)
	if err := r.agent.outbox.Push(ctx, result); err != nil {
		log.Printf("[RUNNER] %s outbox push failed: %v", result.MatchID, err)
	}
}

func (r *MatchRunner) opponentOf(s *side) *side {
	if s == r.sideA {
		return r.sideB
	}
	return r.sideA
}
