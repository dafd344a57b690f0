// Package player implements the player agent: it registers with the league
// manager, accepts game invitations from referees, and answers move calls
// by consulting its strategy under the referee's deadline.
package player

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"league-platform/internal/events"
	"league-platform/internal/game"
	"league-platform/internal/protocol"
	"league-platform/internal/strategy"
	"league-platform/internal/transport"

	"github.com/google/uuid"
)

var (
	ErrRegistrationFailed = errors.New("registration failed")
	ErrNoSession          = errors.New("no session for match")
)

const (
	registerAttempts    = 3
	registerBackoffBase = 500 * time.Millisecond
	registerBackoffCap  = 8 * time.Second
)

// Agent is one player process.
type Agent struct {
	DisplayName        string
	ContactEndpoint    string
	SupportedGameTypes []string

	leagueID        string
	managerEndpoint string

	client   *transport.Client
	server   *transport.Server
	strategy strategy.Strategy
	sink     events.Sink

	mu        sync.Mutex
	playerID  string
	authToken string
	sessions  map[string]*Session
}

// New wires a player agent. The server routes are registered immediately;
// the caller decides when to serve and when to register.
func New(displayName, contactEndpoint, leagueID, managerEndpoint string, gameTypes []string, strat strategy.Strategy, sink events.Sink) *Agent {
	if sink == nil {
		sink = events.NopSink{}
	}
	a := &Agent{
		DisplayName:        displayName,
		ContactEndpoint:    contactEndpoint,
		SupportedGameTypes: gameTypes,
		leagueID:           leagueID,
		managerEndpoint:    managerEndpoint,
		client:             transport.NewClient(0),
		server:             transport.NewServer(),
		strategy:           strat,
		sink:               sink,
		sessions:           make(map[string]*Session),
	}

	a.server.Register(protocol.TypeGameInvite, a.handleInvite)
	a.server.Register(protocol.TypeChooseMoveCall, a.handleChooseMove)
	a.server.Register(protocol.TypeRoundResult, a.handleRoundResult)
	a.server.Register(protocol.TypeGameOver, a.handleGameOver)
	a.server.Register(protocol.TypeStandingsUpdate, a.handleStandingsUpdate)
	a.server.Register(protocol.TypeRoundAnnounce, a.handleBroadcast)
	a.server.Register(protocol.TypeLeagueCompleted, a.handleBroadcast)
	a.server.SetAuth(a.checkSessionToken,
		protocol.TypeGameInvite,
		protocol.TypeStandingsUpdate,
		protocol.TypeRoundAnnounce,
		protocol.TypeLeagueCompleted,
	)

	return a
}

// Server exposes the agent's inbound side.
func (a *Agent) Server() *transport.Server { return a.server }

// PlayerID returns the id assigned at registration.
func (a *Agent) PlayerID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.playerID
}

// Sessions returns a snapshot of the active session count.
func (a *Agent) Sessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

// Register announces the player to the league manager, retrying with
// capped exponential backoff and jitter. It fails after three attempts or
// on an explicit rejection.
func (a *Agent) Register(ctx context.Context) error {
	payload := protocol.PlayerRegisterRequest{
		DisplayName:        a.DisplayName,
		Version:            "1.0",
		SupportedGameTypes: a.SupportedGameTypes,
		ContactEndpoint:    a.ContactEndpoint,
	}

	var lastErr error
	for attempt := 0; attempt < registerAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrRegistrationFailed, ctx.Err())
			case <-time.After(registerBackoff(attempt)):
			}
		}

		env, err := protocol.NewEnvelope(protocol.TypePlayerRegisterRequest, a.leagueID, uuid.New().String(), a.DisplayName, payload)
		if err != nil {
			return err
		}

		resp, err := a.client.Call(ctx, a.managerEndpoint, env, protocol.RegistrationDeadline)
		if err != nil {
			if _, remote := transport.AsRemoteError(err); remote {
				return fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
			}
			lastErr = err
			log.Printf("[PLAYER] registration attempt %d/%d failed: %v", attempt+1, registerAttempts, err)
			continue
		}

		var regResp protocol.PlayerRegisterResponse
		if err := resp.Decode(&regResp); err != nil {
			return fmt.Errorf("%w: bad response: %v", ErrRegistrationFailed, err)
		}
		if regResp.Status != protocol.StatusAccepted {
			return fmt.Errorf("%w: %s", ErrRegistrationFailed, regResp.Reason)
		}

		a.mu.Lock()
		a.playerID = regResp.PlayerID
		a.authToken = regResp.AuthToken
		a.mu.Unlock()

		a.sink.Emit(events.New("player.registered", a.leagueID, map[string]interface{}{
			"player_id": regResp.PlayerID,
		}))
		log.Printf("[PLAYER] registered as %s", regResp.PlayerID)
		return nil
	}

	return fmt.Errorf("%w: %v", ErrRegistrationFailed, lastErr)
}

func registerBackoff(attempt int) time.Duration {
	backoff := registerBackoffBase * time.Duration(1<<(attempt-1))
	if backoff > registerBackoffCap {
		backoff = registerBackoffCap
	}
	// jitter within ±25%
	jitter := time.Duration(rand.Int63n(int64(backoff)/2)) - backoff/4
	return backoff + jitter
}

// checkSessionToken validates that in-match messages carry the session
// token issued at invite time.
func (a *Agent) checkSessionToken(env *protocol.Envelope) *transport.RemoteError {
	var probe struct {
		MatchID string `json:"match_id"`
	}
	if err := env.Decode(&probe); err != nil || probe.MatchID == "" {
		return &transport.RemoteError{Code: protocol.CodeInvalidParams, Message: "missing match_id"}
	}

	a.mu.Lock()
	session, ok := a.sessions[probe.MatchID]
	a.mu.Unlock()
	if !ok {
		return &transport.RemoteError{Code: protocol.CodeUnknownMatch, Message: "no session for match " + probe.MatchID}
	}
	if env.AuthToken != session.SessionToken {
		return &transport.RemoteError{Code: protocol.CodeUnauthenticated, Message: "session token mismatch"}
	}
	return nil
}

func (a *Agent) respond(messageType, conversationID string, payload interface{}) (*protocol.Envelope, *transport.RemoteError) {
	env, err := protocol.NewEnvelope(messageType, a.leagueID, conversationID, a.PlayerID(), payload)
	if err != nil {
		return nil, &transport.RemoteError{Code: protocol.CodeInternal, Message: err.Error()}
	}
	return env, nil
}

func (a *Agent) handleInvite(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, *transport.RemoteError) {
	var invite protocol.GameInvite
	if err := env.Decode(&invite); err != nil {
		return nil, &transport.RemoteError{Code: protocol.CodeInvalidParams, Message: err.Error()}
	}

	ack := protocol.GameInviteAck{Accepted: true}

	a.mu.Lock()
	if _, exists := a.sessions[invite.MatchID]; exists {
		ack = protocol.GameInviteAck{Accepted: false, Reason: "already in a session for this match"}
	} else if !a.supportsGameType(invite.GameType) {
		ack = protocol.GameInviteAck{Accepted: false, Reason: "unsupported game type: " + invite.GameType}
	} else {
		rules, err := game.New(invite.GameType)
		if err != nil {
			ack = protocol.GameInviteAck{Accepted: false, Reason: err.Error()}
		} else {
			a.sessions[invite.MatchID] = &Session{
				MatchID:          invite.MatchID,
				OpponentID:       invite.OpponentID,
				OpponentEndpoint: invite.OpponentEndpoint,
				RoleTag:          invite.RoleTag,
				GameType:         invite.GameType,
				BestOfK:          invite.BestOfK,
				SessionToken:     invite.SessionToken,
				State:            SessionAccepted,
				rules:            rules,
			}
		}
	}
	a.mu.Unlock()

	if ack.Accepted {
		log.Printf("[PLAYER] %s accepted invite for match %s (%s as %s)", a.PlayerID(), invite.MatchID, invite.GameType, invite.RoleTag)
		a.sink.Emit(events.New("player.invite.accepted", a.leagueID, map[string]interface{}{
			"match_id": invite.MatchID,
		}))
	} else {
		log.Printf("[PLAYER] %s rejected invite for match %s: %s", a.PlayerID(), invite.MatchID, ack.Reason)
	}

	return a.respond(protocol.TypeGameInviteAck, env.ConversationID, ack)
}

func (a *Agent) handleChooseMove(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, *transport.RemoteError) {
	var call protocol.ChooseMoveCall
	if err := env.Decode(&call); err != nil {
		return nil, &transport.RemoteError{Code: protocol.CodeInvalidParams, Message: err.Error()}
	}

	a.mu.Lock()
	session, ok := a.sessions[call.MatchID]
	if ok {
		session.State = SessionMakingMove
	}
	a.mu.Unlock()
	if !ok {
		return nil, &transport.RemoteError{Code: protocol.CodeUnknownMatch, Message: "no session for match " + call.MatchID}
	}

	move := a.decideMove(ctx, session, call)

	a.mu.Lock()
	session.State = SessionAwaitingNext
	a.mu.Unlock()

	return a.respond(protocol.TypeChooseMoveResult, env.ConversationID, protocol.ChooseMoveResponse{
		MatchID:     call.MatchID,
		GameRoundID: call.GameRoundID,
		Move:        move,
	})
}

// decideMove runs the strategy with a deadline shy of the referee's, and
// falls back to the rules' default move on timeout, panic or error.
func (a *Agent) decideMove(ctx context.Context, session *Session, call protocol.ChooseMoveCall) int {
	deadline := call.Deadline.Add(-protocol.StrategyCancelMargin)
	strategyCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	view := session.view(call.GameRoundID)

	type outcome struct {
		move int
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("strategy panic: %v", r)}
			}
		}()
		move, err := a.strategy.ChooseMove(strategyCtx, view)
		done <- outcome{move: move, err: err}
	}()

	defaultMove := session.rules.DefaultMove(session.RoleTag)

	select {
	case <-strategyCtx.Done():
		// Strategy did not observe the cancellation in time; abandon it.
		log.Printf("[PLAYER] %s strategy missed deadline for match %s round %d, using default move %d",
			a.PlayerID(), call.MatchID, call.GameRoundID, defaultMove)
		return defaultMove
	case out := <-done:
		if out.err != nil {
			log.Printf("[PLAYER] %s strategy error for match %s round %d: %v, using default move %d",
				a.PlayerID(), call.MatchID, call.GameRoundID, out.err, defaultMove)
			return defaultMove
		}
		if err := session.rules.Validate(out.move, session.RoleTag); err != nil {
			log.Printf("[PLAYER] %s strategy produced invalid move %d: %v, using default", a.PlayerID(), out.move, err)
			return defaultMove
		}
		return out.move
	}
}

func (a *Agent) handleRoundResult(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, *transport.RemoteError) {
	var result protocol.RoundResult
	if err := env.Decode(&result); err != nil {
		return nil, &transport.RemoteError{Code: protocol.CodeInvalidParams, Message: err.Error()}
	}

	a.mu.Lock()
	session, ok := a.sessions[result.MatchID]
	if ok {
		session.History = append(session.History, strategy.HistoryEntry{
			OwnMove:         result.YourMove,
			OpponentMove:    result.OpponentMove,
			RoundWinnerRole: result.RoundWinnerRole,
		})
		session.RunningScore = result.RunningScore
	}
	a.mu.Unlock()
	if !ok {
		return nil, &transport.RemoteError{Code: protocol.CodeUnknownMatch, Message: "no session for match " + result.MatchID}
	}

	return a.respond(protocol.TypeRoundResult, env.ConversationID, map[string]bool{"received": true})
}

func (a *Agent) handleGameOver(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, *transport.RemoteError) {
	var over protocol.GameOver
	if err := env.Decode(&over); err != nil {
		return nil, &transport.RemoteError{Code: protocol.CodeInvalidParams, Message: err.Error()}
	}

	a.mu.Lock()
	session, ok := a.sessions[over.MatchID]
	if ok {
		if over.Status == protocol.OutcomeForfeit {
			session.State = SessionForfeited
		} else {
			session.State = SessionCompleted
		}
		delete(a.sessions, over.MatchID)
	}
	a.mu.Unlock()
	if !ok {
		return nil, &transport.RemoteError{Code: protocol.CodeUnknownMatch, Message: "no session for match " + over.MatchID}
	}

	log.Printf("[PLAYER] %s match %s over: %s (%d-%d)", a.PlayerID(), over.MatchID, over.Status, over.FinalScore.A, over.FinalScore.B)
	a.sink.Emit(events.New("player.game.over", a.leagueID, map[string]interface{}{
		"match_id": over.MatchID,
		"status":   over.Status,
	}))

	return a.respond(protocol.TypeGameOver, env.ConversationID, map[string]bool{"received": true})
}

func (a *Agent) handleStandingsUpdate(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, *transport.RemoteError) {
	var update protocol.StandingsUpdate
	if err := env.Decode(&update); err != nil {
		return nil, &transport.RemoteError{Code: protocol.CodeInvalidParams, Message: err.Error()}
	}
	a.sink.Emit(events.New("player.standings.received", a.leagueID, map[string]interface{}{
		"round_id": update.RoundID,
	}))
	return a.respond(protocol.TypeStandingsUpdate, env.ConversationID, map[string]bool{"received": true})
}

// handleBroadcast acknowledges informational broadcasts from the manager.
func (a *Agent) handleBroadcast(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, *transport.RemoteError) {
	return a.respond(env.MessageType, env.ConversationID, map[string]bool{"received": true})
}

func (a *Agent) supportsGameType(gameType string) bool {
	for _, gt := range a.SupportedGameTypes {
		if gt == gameType {
			return true
		}
	}
	return false
}

// SessionFor returns the live session for a match, for tests and status
// inspection.
func (a *Agent) SessionFor(matchID string) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	session, ok := a.sessions[matchID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, matchID)
	}
	return session, nil
}
