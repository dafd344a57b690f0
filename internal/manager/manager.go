// Package manager implements the league manager: the registration
// authority, scheduler, dispatcher and single source of truth for match
// results and standings.
package manager

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"league-platform/internal/auth"
	"league-platform/internal/events"
	"league-platform/internal/models"
	"league-platform/internal/protocol"
	"league-platform/internal/storage"
	"league-platform/internal/transport"
)

// Config fixes the league's rules at creation time.
type Config struct {
	LeagueID       string
	GameType       string
	BestOfK        int
	MinPlayers     int
	Points         models.PointsConfig
	MoveDeadline   time.Duration
	AuthTokenBytes int

	// MatchWatchdog is how long the manager waits for a dispatched match
	// to report before reassigning it. Zero means computed from the game
	// parameters.
	MatchWatchdog time.Duration
}

// Manager is the league manager process. All mutable league state lives
// behind one mutex; the store is a write-through mirror, never read on the
// hot path.
type Manager struct {
	cfg    Config
	client *transport.Client
	server *transport.Server
	store  storage.Store
	sink   events.Sink

	mu           sync.Mutex
	state        models.LeagueState
	players      map[string]*models.PlayerRecord
	referees     map[string]*models.RefereeRecord
	schedule     *models.Schedule
	matches      map[string]*models.Match
	results      map[string]*models.MatchResult
	assigned     map[string]string        // match id -> referee currently on the hook
	waiters      map[string]chan struct{} // closed when a match has a recorded result
	currentRound int

	standings      []models.StandingsRow
	standingsDirty bool
}

// New wires a league manager. A nil store gets the in-memory one, a nil
// sink the no-op one.
func New(cfg Config, store storage.Store, sink events.Sink) *Manager {
	if cfg.BestOfK <= 0 {
		cfg.BestOfK = 5
	}
	if cfg.MinPlayers < 2 {
		cfg.MinPlayers = 2
	}
	if cfg.Points == (models.PointsConfig{}) {
		cfg.Points = models.DefaultPoints()
	}
	if cfg.MoveDeadline == 0 {
		cfg.MoveDeadline = protocol.MoveDeadline
	}
	if cfg.AuthTokenBytes <= 0 {
		cfg.AuthTokenBytes = 32
	}
	if store == nil {
		store = storage.NewMemory()
	}
	if sink == nil {
		sink = events.NopSink{}
	}

	m := &Manager{
		cfg:            cfg,
		client:         transport.NewClient(0),
		server:         transport.NewServer(),
		store:          store,
		sink:           sink,
		state:          models.LeagueRegistration,
		players:        make(map[string]*models.PlayerRecord),
		referees:       make(map[string]*models.RefereeRecord),
		matches:        make(map[string]*models.Match),
		results:        make(map[string]*models.MatchResult),
		assigned:       make(map[string]string),
		waiters:        make(map[string]chan struct{}),
		standingsDirty: true,
	}

	m.server.Register(protocol.TypePlayerRegisterRequest, m.handlePlayerRegister)
	m.server.Register(protocol.TypeRefereeRegisterRequest, m.handleRefereeRegister)
	m.server.Register(protocol.TypeMatchResultReport, m.handleResultReport)
	m.server.Register(protocol.TypeStandingsGet, m.handleStandingsGet)
	m.server.Register(protocol.TypeScheduleGet, m.handleScheduleGet)
	m.server.Register(protocol.TypeLeagueStatus, m.handleLeagueStatus)
	m.server.SetAuth(m.checkAuthToken,
		protocol.TypePlayerRegisterRequest,
		protocol.TypeRefereeRegisterRequest,
	)

	return m
}

// Server exposes the manager's inbound side.
func (m *Manager) Server() *transport.Server { return m.server }

// State returns the current league state.
func (m *Manager) State() models.LeagueState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PlayerCount returns the number of registered players.
func (m *Manager) PlayerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.players)
}

// RefereeCount returns the number of registered referees.
func (m *Manager) RefereeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.referees)
}

// checkAuthToken admits calls whose envelope token matches the token the
// manager issued to the sender at registration.
func (m *Manager) checkAuthToken(env *protocol.Envelope) *transport.RemoteError {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.players[env.Sender]; ok && env.AuthToken == p.AuthToken {
		return nil
	}
	if r, ok := m.referees[env.Sender]; ok && env.AuthToken == r.AuthToken {
		return nil
	}
	return &transport.RemoteError{Code: protocol.CodeUnauthenticated, Message: "unknown sender or invalid auth token"}
}

func (m *Manager) handlePlayerRegister(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, *transport.RemoteError) {
	var req protocol.PlayerRegisterRequest
	if err := env.Decode(&req); err != nil {
		return nil, &transport.RemoteError{Code: protocol.CodeInvalidParams, Message: err.Error()}
	}
	if req.DisplayName == "" || req.ContactEndpoint == "" {
		return nil, &transport.RemoteError{Code: protocol.CodeInvalidParams, Message: "display_name and contact_endpoint are required"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != models.LeagueRegistration {
		return nil, &transport.RemoteError{Code: protocol.CodeRegistrationClosed, Message: "registration is closed"}
	}

	id := req.PlayerID
	if id == "" {
		id = "player-" + auth.GenerateID()
	} else if _, exists := m.players[id]; exists {
		return nil, &transport.RemoteError{Code: protocol.CodeDuplicateID, Message: "player id already registered: " + id}
	}

	supports := false
	for _, gt := range req.SupportedGameTypes {
		if gt == m.cfg.GameType {
			supports = true
			break
		}
	}
	if !supports {
		return nil, &transport.RemoteError{
			Code:    protocol.CodeUnsupportedGameType,
			Message: fmt.Sprintf("league plays %s which the player does not support", m.cfg.GameType),
		}
	}

	record := &models.PlayerRecord{
		ID:                 id,
		DisplayName:        req.DisplayName,
		Endpoint:           req.ContactEndpoint,
		SupportedGameTypes: req.SupportedGameTypes,
		AuthToken:          auth.GenerateToken(m.cfg.AuthTokenBytes),
		Status:             models.PlayerActive,
		RegisteredAt:       time.Now().UTC(),
	}
	m.players[id] = record
	m.standingsDirty = true

	if err := m.store.PutPlayer(record); err != nil {
		log.Printf("[MANAGER] player %s not persisted: %v", id, err)
	}
	m.sink.Emit(events.New("player.registered", m.cfg.LeagueID, map[string]interface{}{
		"player_id":    id,
		"display_name": req.DisplayName,
	}))
	log.Printf("[MANAGER] registered player %s (%s) at %s", id, req.DisplayName, req.ContactEndpoint)

	resp := protocol.PlayerRegisterResponse{
		Status:    protocol.StatusAccepted,
		PlayerID:  id,
		AuthToken: record.AuthToken,
	}
	return m.reply(env, protocol.TypePlayerRegisterResponse, resp)
}

func (m *Manager) handleRefereeRegister(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, *transport.RemoteError) {
	var req protocol.RefereeRegisterRequest
	if err := env.Decode(&req); err != nil {
		return nil, &transport.RemoteError{Code: protocol.CodeInvalidParams, Message: err.Error()}
	}
	if req.DisplayName == "" || req.ContactEndpoint == "" {
		return nil, &transport.RemoteError{Code: protocol.CodeInvalidParams, Message: "display_name and contact_endpoint are required"}
	}
	if req.MaxConcurrentMatches <= 0 {
		return nil, &transport.RemoteError{Code: protocol.CodeInvalidParams, Message: "max_concurrent_matches must be positive"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Referees may join while the league runs; only a finished league
	// refuses them.
	if m.state == models.LeagueCompleted || m.state == models.LeagueAborted {
		return nil, &transport.RemoteError{Code: protocol.CodeRegistrationClosed, Message: "league is over"}
	}

	id := req.RefereeID
	if id == "" {
		id = "referee-" + auth.GenerateID()
	} else if _, exists := m.referees[id]; exists {
		return nil, &transport.RemoteError{Code: protocol.CodeDuplicateID, Message: "referee id already registered: " + id}
	}

	record := &models.RefereeRecord{
		ID:                   id,
		DisplayName:          req.DisplayName,
		Endpoint:             req.ContactEndpoint,
		SupportedGameTypes:   req.SupportedGameTypes,
		MaxConcurrentMatches: req.MaxConcurrentMatches,
		AuthToken:            auth.GenerateToken(m.cfg.AuthTokenBytes),
		RegisteredAt:         time.Now().UTC(),
	}
	m.referees[id] = record

	if err := m.store.PutReferee(record); err != nil {
		log.Printf("[MANAGER] referee %s not persisted: %v", id, err)
	}
	m.sink.Emit(events.New("referee.registered", m.cfg.LeagueID, map[string]interface{}{
		"referee_id": id,
		"capacity":   req.MaxConcurrentMatches,
	}))
	log.Printf("[MANAGER] registered referee %s (%s), capacity %d", id, req.DisplayName, req.MaxConcurrentMatches)

	resp := protocol.RefereeRegisterResponse{
		Status:    protocol.StatusAccepted,
		RefereeID: id,
		AuthToken: record.AuthToken,
	}
	return m.reply(env, protocol.TypeRefereeRegisterResponse, resp)
}

// handleResultReport is the idempotent receipt point for match results.
// The first report for a match id wins; an equivalent redelivery is acked
// as a duplicate, a conflicting one is refused without overwriting.
func (m *Manager) handleResultReport(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, *transport.RemoteError) {
	var rep protocol.MatchResultReport
	if err := env.Decode(&rep); err != nil {
		return nil, &transport.RemoteError{Code: protocol.CodeInvalidParams, Message: err.Error()}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Results come from referees; an authenticated player must not be able
	// to inject one.
	if _, ok := m.referees[env.Sender]; !ok {
		return nil, &transport.RemoteError{Code: protocol.CodeUnauthenticated, Message: "sender is not a registered referee"}
	}

	match, ok := m.matches[rep.MatchID]
	if !ok {
		return nil, &transport.RemoteError{Code: protocol.CodeUnknownMatch, Message: "unknown match: " + rep.MatchID}
	}

	incoming := &models.MatchResult{
		MatchID:       rep.MatchID,
		RoundID:       rep.RoundID,
		WinnerID:      rep.WinnerID,
		ScoreA:        rep.ScoreA,
		ScoreB:        rep.ScoreB,
		History:       rep.History,
		ForfeitReason: rep.ForfeitReason,
		ReportedAt:    time.Now().UTC(),
	}

	if existing, recorded := m.results[rep.MatchID]; recorded {
		if existing.Equivalent(incoming) {
			return m.reply(env, protocol.TypeMatchResultAck, protocol.MatchResultAck{Accepted: true, Duplicate: true})
		}
		log.Printf("[MANAGER] conflicting result for %s from %s rejected", rep.MatchID, env.Sender)
		return m.reply(env, protocol.TypeMatchResultAck, protocol.MatchResultAck{Accepted: false, Duplicate: true})
	}

	m.recordResultLocked(match, incoming)

	return m.reply(env, protocol.TypeMatchResultAck, protocol.MatchResultAck{Accepted: true})
}

// recordResultLocked stores a first-time result, updates player stats,
// releases the referee and wakes the round runner. Caller holds the lock.
func (m *Manager) recordResultLocked(match *models.Match, result *models.MatchResult) {
	m.results[result.MatchID] = result

	if match.State != models.MatchAbandoned {
		if result.ForfeitReason != "" {
			match.State = models.MatchForfeited
		} else {
			match.State = models.MatchCompleted
		}
	}
	m.applyStatsLocked(match, result)
	m.standingsDirty = true

	// After a reassignment a late report may arrive from the previous
	// referee; the slot held by whoever is currently on the hook is the one
	// that must come back.
	if refID, held := m.assigned[result.MatchID]; held {
		m.releaseRefereeLocked(refID)
		delete(m.assigned, result.MatchID)
	}
	if waiter, ok := m.waiters[result.MatchID]; ok {
		close(waiter)
		delete(m.waiters, result.MatchID)
	}

	if err := m.store.PutResult(result); err != nil {
		log.Printf("[MANAGER] result %s not persisted: %v", result.MatchID, err)
	}
	if err := m.store.PutMatch(match); err != nil {
		log.Printf("[MANAGER] match %s not persisted: %v", match.ID, err)
	}
	m.sink.Emit(events.New("result.recorded", m.cfg.LeagueID, map[string]interface{}{
		"match_id": result.MatchID,
		"winner":   result.WinnerID,
		"state":    string(match.State),
	}))
	log.Printf("[MANAGER] recorded %s: %s %d-%d (state %s)", result.MatchID, result.WinnerID, result.ScoreA, result.ScoreB, match.State)
}

// applyStatsLocked folds one result into the player aggregates. Abandoned
// matches and no-winner forfeits count for nobody.
func (m *Manager) applyStatsLocked(match *models.Match, result *models.MatchResult) {
	if match.State == models.MatchAbandoned {
		return
	}
	// Both sides failing the invite is not a draw; nothing was played.
	if result.WinnerID == "" && result.ForfeitReason != "" {
		return
	}
	playerA, okA := m.players[match.PlayerA]
	playerB, okB := m.players[match.PlayerB]
	if !okA || !okB {
		return
	}

	playerA.MatchesPlayed++
	playerB.MatchesPlayed++

	switch result.WinnerID {
	case match.PlayerA:
		playerA.Wins++
		playerA.Points += m.cfg.Points.Win
		playerB.Losses++
		playerB.Points += m.cfg.Points.Loss
	case match.PlayerB:
		playerB.Wins++
		playerB.Points += m.cfg.Points.Win
		playerA.Losses++
		playerA.Points += m.cfg.Points.Loss
	default:
		playerA.Draws++
		playerB.Draws++
		playerA.Points += m.cfg.Points.Draw
		playerB.Points += m.cfg.Points.Draw
	}

	if err := m.store.PutPlayer(playerA); err != nil {
		log.Printf("[MANAGER] player %s not persisted: %v", playerA.ID, err)
	}
	if err := m.store.PutPlayer(playerB); err != nil {
		log.Printf("[MANAGER] player %s not persisted: %v", playerB.ID, err)
	}
}

func (m *Manager) releaseRefereeLocked(refID string) {
	if ref, ok := m.referees[refID]; ok && ref.CurrentLoad > 0 {
		ref.CurrentLoad--
	}
}

func (m *Manager) handleStandingsGet(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, *transport.RemoteError) {
	m.mu.Lock()
	rows := m.standingsLocked()
	roundID := fmt.Sprintf("R%d", m.currentRound)
	m.mu.Unlock()

	return m.reply(env, protocol.TypeStandingsUpdate, protocol.StandingsUpdate{RoundID: roundID, Standings: rows})
}

func (m *Manager) handleScheduleGet(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, *transport.RemoteError) {
	m.mu.Lock()
	schedule := m.schedule
	m.mu.Unlock()

	if schedule == nil {
		return nil, &transport.RemoteError{Code: protocol.CodeInvalidState, Message: "no schedule yet"}
	}
	return m.reply(env, protocol.TypeScheduleGet, protocol.ScheduleResponse{Schedule: schedule})
}

func (m *Manager) handleLeagueStatus(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, *transport.RemoteError) {
	m.mu.Lock()
	status := protocol.LeagueStatus{
		LeagueID:     m.cfg.LeagueID,
		State:        m.state,
		Players:      len(m.players),
		Referees:     len(m.referees),
		CurrentRound: m.currentRound,
		GameType:     m.cfg.GameType,
	}
	if m.schedule != nil {
		status.TotalRounds = len(m.schedule.Rounds)
	}
	m.mu.Unlock()

	return m.reply(env, protocol.TypeLeagueStatus, status)
}

// reply wraps a payload in a response envelope carrying the caller's
// conversation id.
func (m *Manager) reply(req *protocol.Envelope, messageType string, payload interface{}) (*protocol.Envelope, *transport.RemoteError) {
	env, err := protocol.NewEnvelope(messageType, m.cfg.LeagueID, req.ConversationID, models.RoleLeagueManager, payload)
	if err != nil {
		return nil, &transport.RemoteError{Code: protocol.CodeInternal, Message: err.Error()}
	}
	return env, nil
}

// sortedPlayerIDs returns the active player ids in lexicographic order, the
// deterministic seeding for the schedule.
func (m *Manager) sortedPlayerIDs() []string {
	ids := make([]string, 0, len(m.players))
	for id, p := range m.players {
		if p.Status == models.PlayerActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
