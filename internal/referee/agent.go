// Package referee implements the referee agent. The agent accepts match
// assignments from the league manager up to its concurrency limit and runs
// each match in its own MatchRunner.
package referee

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"league-platform/internal/auth"
	"league-platform/internal/events"
	"league-platform/internal/game"
	"league-platform/internal/protocol"
	"league-platform/internal/storage"
	"league-platform/internal/transport"

	"github.com/google/uuid"
)

const (
	registerAttempts    = 3
	registerBackoffBase = 500 * time.Millisecond
	registerBackoffCap  = 8 * time.Second
)

// Config fixes the referee's limits and deadlines.
type Config struct {
	DisplayName          string
	ContactEndpoint      string
	LeagueID             string
	ManagerEndpoint      string
	SupportedGameTypes   []string
	MaxConcurrentMatches int
	MoveDeadline         time.Duration
}

// Agent is one referee process.
type Agent struct {
	cfg    Config
	client *transport.Client
	server *transport.Server
	tokens *auth.Service
	outbox storage.Outbox
	sink   events.Sink

	mu            sync.Mutex
	refereeID     string
	authToken     string
	activeMatches map[string]*MatchRunner
	currentLoad   int
}

// New wires a referee agent.
func New(cfg Config, outbox storage.Outbox, sink events.Sink) *Agent {
	if cfg.MoveDeadline == 0 {
		cfg.MoveDeadline = protocol.MoveDeadline
	}
	if cfg.MaxConcurrentMatches <= 0 {
		cfg.MaxConcurrentMatches = 1
	}
	if outbox == nil {
		outbox = storage.NewMemoryOutbox()
	}
	if sink == nil {
		sink = events.NopSink{}
	}

	a := &Agent{
		cfg:           cfg,
		client:        transport.NewClient(0),
		server:        transport.NewServer(),
		tokens:        auth.NewService(""),
		outbox:        outbox,
		sink:          sink,
		activeMatches: make(map[string]*MatchRunner),
	}

	a.server.Register(protocol.TypeMatchAssign, a.handleMatchAssign)
	a.server.SetAuth(a.checkAuthToken)

	return a
}

// Server exposes the agent's inbound side.
func (a *Agent) Server() *transport.Server { return a.server }

// RefereeID returns the id assigned at registration.
func (a *Agent) RefereeID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refereeID
}

// CurrentLoad returns the number of matches running right now.
func (a *Agent) CurrentLoad() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentLoad
}

// Register announces the referee to the league manager with the same
// backoff discipline players use.
func (a *Agent) Register(ctx context.Context) error {
	payload := protocol.RefereeRegisterRequest{
		DisplayName:          a.cfg.DisplayName,
		Version:              "1.0",
		SupportedGameTypes:   a.cfg.SupportedGameTypes,
		ContactEndpoint:      a.cfg.ContactEndpoint,
		MaxConcurrentMatches: a.cfg.MaxConcurrentMatches,
	}

	var lastErr error
	for attempt := 0; attempt < registerAttempts; attempt++ {
		if attempt > 0 {
			backoff := registerBackoffBase * time.Duration(1<<(attempt-1))
			if backoff > registerBackoffCap {
				backoff = registerBackoffCap
			}
			backoff += time.Duration(rand.Int63n(int64(backoff)/2)) - backoff/4
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrRegistrationFailed, ctx.Err())
			case <-time.After(backoff):
			}
		}

		env, err := protocol.NewEnvelope(protocol.TypeRefereeRegisterRequest, a.cfg.LeagueID, uuid.New().String(), a.cfg.DisplayName, payload)
		if err != nil {
			return err
		}

		resp, err := a.client.Call(ctx, a.cfg.ManagerEndpoint, env, protocol.RegistrationDeadline)
		if err != nil {
			if _, remote := transport.AsRemoteError(err); remote {
				return fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
			}
			lastErr = err
			log.Printf("[REFEREE] registration attempt %d/%d failed: %v", attempt+1, registerAttempts, err)
			continue
		}

		var regResp protocol.RefereeRegisterResponse
		if err := resp.Decode(&regResp); err != nil {
			return fmt.Errorf("%w: bad response: %v", ErrRegistrationFailed, err)
		}
		if regResp.Status != protocol.StatusAccepted {
			return fmt.Errorf("%w: %s", ErrRegistrationFailed, regResp.Reason)
		}

		a.mu.Lock()
		a.refereeID = regResp.RefereeID
		a.authToken = regResp.AuthToken
		a.mu.Unlock()

		log.Printf("[REFEREE] registered as %s (capacity %d)", regResp.RefereeID, a.cfg.MaxConcurrentMatches)
		return nil
	}

	return fmt.Errorf("%w: %v", ErrRegistrationFailed, lastErr)
}

// checkAuthToken admits manager calls that echo the referee's own auth
// token, the shared secret established at registration.
func (a *Agent) checkAuthToken(env *protocol.Envelope) *transport.RemoteError {
	a.mu.Lock()
	token := a.authToken
	a.mu.Unlock()
	if token == "" || env.AuthToken != token {
		return &transport.RemoteError{Code: protocol.CodeUnauthenticated, Message: "invalid auth token"}
	}
	return nil
}

func (a *Agent) handleMatchAssign(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, *transport.RemoteError) {
	var assign protocol.MatchAssign
	if err := env.Decode(&assign); err != nil {
		return nil, &transport.RemoteError{Code: protocol.CodeInvalidParams, Message: err.Error()}
	}

	ack := protocol.MatchAck{Accepted: true}

	a.mu.Lock()
	switch {
	case a.currentLoad >= a.cfg.MaxConcurrentMatches:
		ack = protocol.MatchAck{Accepted: false, Reason: ErrAtCapacity.Error()}
	case !a.supportsGameType(assign.GameType):
		ack = protocol.MatchAck{Accepted: false, Reason: ErrUnsupportedGame.Error() + ": " + assign.GameType}
	case func() bool { _, dup := a.activeMatches[assign.MatchID]; return dup }():
		ack = protocol.MatchAck{Accepted: false, Reason: "match already running"}
	default:
		rules, err := game.New(assign.GameType)
		if err != nil {
			ack = protocol.MatchAck{Accepted: false, Reason: err.Error()}
			break
		}
		runner := newMatchRunner(a, assign, rules)
		a.activeMatches[assign.MatchID] = runner
		a.currentLoad++
		// The ack goes out immediately; the match runs in the background.
		go runner.Run(context.Background())
	}
	a.mu.Unlock()

	if ack.Accepted {
		log.Printf("[REFEREE] %s accepted match %s (%s vs %s)", a.RefereeID(), assign.MatchID, assign.PlayerAID, assign.PlayerBID)
	} else {
		log.Printf("[REFEREE] %s declined match %s: %s", a.RefereeID(), assign.MatchID, ack.Reason)
	}

	respEnv, err := protocol.NewEnvelope(protocol.TypeMatchAck, a.cfg.LeagueID, env.ConversationID, a.RefereeID(), ack)
	if err != nil {
		return nil, &transport.RemoteError{Code: protocol.CodeInternal, Message: err.Error()}
	}
	return respEnv, nil
}

// matchDone releases the capacity held by a finished runner.
func (a *Agent) matchDone(matchID string) {
	a.mu.Lock()
	if _, ok := a.activeMatches[matchID]; ok {
		delete(a.activeMatches, matchID)
		a.currentLoad--
	}
	a.mu.Unlock()
}

func (a *Agent) supportsGameType(gameType string) bool {
	for _, gt := range a.cfg.SupportedGameTypes {
		if gt == gameType {
			return true
		}
	}
	return false
}
