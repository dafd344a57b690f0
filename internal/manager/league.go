package manager

import (
	"context"
	"fmt"
	"log"
	"time"

	"league-platform/internal/events"
	"league-platform/internal/models"
	"league-platform/internal/protocol"
	"league-platform/internal/scheduler"
	"league-platform/internal/transport"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	dispatchRetryInterval = 250 * time.Millisecond
	broadcastDeadline     = 5 * time.Second
)

// StartLeague closes registration and builds the round-robin schedule.
// REGISTRATION -> READY.
func (m *Manager) StartLeague() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != models.LeagueRegistration {
		return fmt.Errorf("%w: %s", ErrInvalidState, m.state)
	}

	ids := m.sortedPlayerIDs()
	if len(ids) < m.cfg.MinPlayers {
		return fmt.Errorf("%w: have %d, need %d", ErrNotEnoughPlayers, len(ids), m.cfg.MinPlayers)
	}
	if len(m.referees) == 0 {
		return fmt.Errorf("%w: none registered", ErrNoReferee)
	}

	schedule, err := scheduler.BuildSchedule(ids, m.cfg.GameType)
	if err != nil {
		return err
	}

	m.schedule = schedule
	for _, round := range schedule.Rounds {
		for _, match := range round.Matches {
			m.matches[match.ID] = match
			if err := m.store.PutMatch(match); err != nil {
				log.Printf("[MANAGER] match %s not persisted: %v", match.ID, err)
			}
		}
	}
	m.state = models.LeagueReady

	m.sink.Emit(events.New("league.ready", m.cfg.LeagueID, map[string]interface{}{
		"players": len(ids),
		"rounds":  len(schedule.Rounds),
		"matches": schedule.MatchCount(),
	}))
	log.Printf("[MANAGER] league ready: %d players, %d rounds", len(ids), len(schedule.Rounds))
	return nil
}

// RunAllRounds plays the whole schedule and completes the league.
// READY -> IN_PROGRESS -> COMPLETED.
func (m *Manager) RunAllRounds(ctx context.Context) error {
	m.mu.Lock()
	if m.state != models.LeagueReady && m.state != models.LeagueInProgress {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidState, m.state)
	}
	total := len(m.schedule.Rounds)
	m.mu.Unlock()

	for idx := 1; idx <= total; idx++ {
		if err := m.RunRound(ctx, idx); err != nil {
			m.Abort(err.Error())
			return err
		}
	}

	return m.complete(ctx)
}

// RunRound dispatches every match of one round and blocks until each has a
// recorded result or is abandoned. The first call moves the league from
// READY to IN_PROGRESS.
func (m *Manager) RunRound(ctx context.Context, index int) error {
	started := false
	m.mu.Lock()
	if m.state != models.LeagueReady && m.state != models.LeagueInProgress {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidState, m.state)
	}
	if m.schedule == nil || index < 1 || index > len(m.schedule.Rounds) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownRound, index)
	}
	if m.state == models.LeagueReady {
		m.state = models.LeagueInProgress
		started = true
	}
	round := m.schedule.Rounds[index-1]
	m.currentRound = index
	m.mu.Unlock()

	if started {
		m.sink.Emit(events.New("league.started", m.cfg.LeagueID, nil))
	}

	log.Printf("[MANAGER] starting round %s (%d matches)", round.ID, len(round.Matches))
	m.sink.Emit(events.New("round.started", m.cfg.LeagueID, map[string]interface{}{"round_id": round.ID}))
	m.broadcast(ctx, protocol.TypeRoundAnnounce, protocol.RoundAnnounce{RoundID: round.ID, Matches: round.Matches})

	g, gctx := errgroup.WithContext(ctx)
	for _, match := range round.Matches {
		if match.IsBye() {
			continue
		}
		m.mu.Lock()
		_, done := m.results[match.ID]
		m.mu.Unlock()
		if done {
			continue
		}
		match := match
		g.Go(func() error { return m.runMatch(gctx, match) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m.mu.Lock()
	rows := m.standingsLocked()
	m.mu.Unlock()
	if err := m.store.PutStandings(round.ID, rows); err != nil {
		log.Printf("[MANAGER] standings for %s not persisted: %v", round.ID, err)
	}

	m.broadcast(ctx, protocol.TypeStandingsUpdate, protocol.StandingsUpdate{RoundID: round.ID, Standings: rows})
	m.sink.Emit(events.New("round.completed", m.cfg.LeagueID, map[string]interface{}{"round_id": round.ID}))
	log.Printf("[MANAGER] round %s complete", round.ID)
	return nil
}

// runMatch pushes one match through dispatch and the result watchdog. The
// match is reassigned once if its referee goes silent; after that it is
// abandoned with no winner.
func (m *Manager) runMatch(ctx context.Context, match *models.Match) error {
	waiter := make(chan struct{})
	m.mu.Lock()
	m.waiters[match.ID] = waiter
	m.mu.Unlock()

	excluded := make(map[string]bool)

	for attempt := 0; attempt < 2; attempt++ {
		refID, err := m.dispatch(ctx, match, excluded)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			break
		}

		select {
		case <-waiter:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.watchdogBudget()):
			log.Printf("[MANAGER] watchdog fired for %s on referee %s", match.ID, refID)
			excluded[refID] = true
			m.mu.Lock()
			if m.assigned[match.ID] == refID {
				m.releaseRefereeLocked(refID)
				delete(m.assigned, match.ID)
			}
			m.mu.Unlock()
			m.sink.Emit(events.New("match.reassigned", m.cfg.LeagueID, map[string]interface{}{
				"match_id": match.ID,
				"referee":  refID,
			}))
		}
	}

	m.abandonMatch(match)
	return nil
}

// dispatch finds a referee with free capacity and hands it the match,
// waiting for capacity when every eligible referee is saturated.
func (m *Manager) dispatch(ctx context.Context, match *models.Match, excluded map[string]bool) (string, error) {
	// Referees that declined this particular dispatch; cleared each sweep
	// so a freed-up referee gets another chance.
	declined := make(map[string]bool)

	deadline := time.Now().Add(m.watchdogBudget())
	for {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if time.Now().After(deadline) {
			return "", ErrNoReferee
		}

		m.mu.Lock()
		ref := m.pickRefereeLocked(match.GameType, excluded, declined)
		var assign protocol.MatchAssign
		var endpoint, token string
		if ref != nil {
			playerA, playerB := m.players[match.PlayerA], m.players[match.PlayerB]
			assign = protocol.MatchAssign{
				MatchID:         match.ID,
				RoundID:         match.RoundID,
				PlayerAID:       playerA.ID,
				PlayerAEndpoint: playerA.Endpoint,
				PlayerBID:       playerB.ID,
				PlayerBEndpoint: playerB.Endpoint,
				GameType:        match.GameType,
				BestOfK:         m.cfg.BestOfK,
			}
			endpoint, token = ref.Endpoint, ref.AuthToken
			// Reserve the slot before releasing the lock so concurrent
			// dispatches cannot oversubscribe the referee.
			ref.CurrentLoad++
		}
		m.mu.Unlock()

		if ref == nil {
			if len(declined) > 0 {
				declined = make(map[string]bool)
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(dispatchRetryInterval):
			}
			continue
		}

		env, err := protocol.NewEnvelope(protocol.TypeMatchAssign, m.cfg.LeagueID, uuid.New().String(), models.RoleLeagueManager, assign)
		if err != nil {
			m.mu.Lock()
			m.releaseRefereeLocked(ref.ID)
			m.mu.Unlock()
			return "", err
		}
		env.AuthToken = token

		resp, err := m.client.Call(ctx, endpoint, env, protocol.MatchAssignDeadline)
		accepted := false
		reason := ""
		if err == nil {
			var ack protocol.MatchAck
			if decodeErr := resp.Decode(&ack); decodeErr == nil {
				accepted, reason = ack.Accepted, ack.Reason
			}
		} else {
			reason = err.Error()
		}

		if !accepted {
			log.Printf("[MANAGER] referee %s declined %s: %s", ref.ID, match.ID, reason)
			m.mu.Lock()
			m.releaseRefereeLocked(ref.ID)
			m.mu.Unlock()
			declined[ref.ID] = true
			continue
		}

		m.mu.Lock()
		match.State = models.MatchInProgress
		match.AssignedReferee = ref.ID
		m.assigned[match.ID] = ref.ID
		snapshot := *match
		m.mu.Unlock()
		if err := m.store.PutMatch(&snapshot); err != nil {
			log.Printf("[MANAGER] match %s not persisted: %v", match.ID, err)
		}

		m.sink.Emit(events.New("match.dispatched", m.cfg.LeagueID, map[string]interface{}{
			"match_id": match.ID,
			"referee":  ref.ID,
		}))
		log.Printf("[MANAGER] dispatched %s to %s", match.ID, ref.ID)
		return ref.ID, nil
	}
}

// pickRefereeLocked returns the least-loaded eligible referee, lowest id on
// ties, or nil when all are saturated. Caller holds the lock.
func (m *Manager) pickRefereeLocked(gameType string, excluded, declined map[string]bool) *models.RefereeRecord {
	var best *models.RefereeRecord
	for _, ref := range m.referees {
		if excluded[ref.ID] || declined[ref.ID] {
			continue
		}
		if !ref.SupportsGameType(gameType) {
			continue
		}
		if ref.CurrentLoad >= ref.MaxConcurrentMatches {
			continue
		}
		if best == nil || ref.CurrentLoad < best.CurrentLoad ||
			(ref.CurrentLoad == best.CurrentLoad && ref.ID < best.ID) {
			best = ref
		}
	}
	return best
}

// abandonMatch records a (0,0) no-winner result for a match no referee
// could finish.
func (m *Manager) abandonMatch(match *models.Match) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, done := m.results[match.ID]; done {
		return
	}

	match.State = models.MatchAbandoned
	result := &models.MatchResult{
		MatchID:       match.ID,
		RoundID:       match.RoundID,
		ForfeitReason: "abandoned: no referee completed the match",
		ReportedAt:    time.Now().UTC(),
	}
	m.recordResultLocked(match, result)

	m.sink.Emit(events.New("match.abandoned", m.cfg.LeagueID, map[string]interface{}{"match_id": match.ID}))
	log.Printf("[MANAGER] abandoned %s", match.ID)
}

// complete finishes the league and announces the champion.
func (m *Manager) complete(ctx context.Context) error {
	m.mu.Lock()
	m.state = models.LeagueCompleted
	rows := m.standingsLocked()
	m.mu.Unlock()

	champion := ""
	if len(rows) > 0 {
		champion = rows[0].PlayerID
	}

	if err := m.store.PutStandings("FINAL", rows); err != nil {
		log.Printf("[MANAGER] final standings not persisted: %v", err)
	}

	m.broadcast(ctx, protocol.TypeLeagueCompleted, protocol.LeagueCompleted{
		ChampionID:     champion,
		FinalStandings: rows,
	})
	m.sink.Emit(events.New("league.completed", m.cfg.LeagueID, map[string]interface{}{"champion": champion}))
	log.Printf("[MANAGER] league complete, champion: %s", champion)
	return nil
}

// Abort moves the league to its terminal failure state. Safe to call from
// any state; terminal states are left alone.
func (m *Manager) Abort(reason string) {
	m.mu.Lock()
	if m.state == models.LeagueCompleted || m.state == models.LeagueAborted {
		m.mu.Unlock()
		return
	}
	m.state = models.LeagueAborted
	m.mu.Unlock()

	m.sink.Emit(events.New("league.aborted", m.cfg.LeagueID, map[string]interface{}{"reason": reason}))
	log.Printf("[MANAGER] league aborted: %s", reason)
}

// broadcast sends one message to every active player, best-effort and in
// parallel. A player that misses a broadcast can recover via the query
// tools.
func (m *Manager) broadcast(ctx context.Context, messageType string, payload interface{}) {
	m.mu.Lock()
	targets := make([]*models.PlayerRecord, 0, len(m.players))
	for _, p := range m.players {
		if p.Status == models.PlayerActive {
			copied := *p
			targets = append(targets, &copied)
		}
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, p := range targets {
		p := p
		g.Go(func() error {
			env, err := protocol.NewEnvelope(messageType, m.cfg.LeagueID, uuid.New().String(), models.RoleLeagueManager, payload)
			if err != nil {
				return nil
			}
			if _, err := m.client.Call(ctx, p.Endpoint, env, broadcastDeadline); err != nil {
				if _, remote := transport.AsRemoteError(err); !remote {
					log.Printf("[MANAGER] broadcast %s to %s not delivered: %v", messageType, p.ID, err)
				}
			}
			return nil
		})
	}
	g.Wait()
}

// watchdogBudget is how long a dispatched match may run before the manager
// assumes its referee is gone: five times the per-match timeout budget.
func (m *Manager) watchdogBudget() time.Duration {
	if m.cfg.MatchWatchdog > 0 {
		return m.cfg.MatchWatchdog
	}
	perRound := m.cfg.MoveDeadline + protocol.MoveGrace
	budget := time.Duration(m.cfg.BestOfK)*perRound +
		3*protocol.InviteAckDeadline + protocol.ResultReportDeadline
	return 5 * budget
}
