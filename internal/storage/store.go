// Package storage holds the durability seam of the league. Coordination
// never depends on it: every write is best-effort and the in-memory store
// is a complete implementation for tests and demos.
package storage

import (
	"errors"
	"sync"

	"league-platform/internal/models"
)

var ErrNotFound = errors.New("record not found")

// Store persists league records. Implementations must be safe for
// concurrent use.
type Store interface {
	PutPlayer(p *models.PlayerRecord) error
	GetPlayer(id string) (*models.PlayerRecord, error)
	ListPlayers() ([]*models.PlayerRecord, error)

	PutReferee(r *models.RefereeRecord) error
	GetReferee(id string) (*models.RefereeRecord, error)
	ListReferees() ([]*models.RefereeRecord, error)

	PutMatch(m *models.Match) error
	GetMatch(id string) (*models.Match, error)

	PutResult(r *models.MatchResult) error
	GetResult(matchID string) (*models.MatchResult, error)

	PutStandings(roundID string, rows []models.StandingsRow) error
	GetStandings(roundID string) ([]models.StandingsRow, error)
}

// Memory is the in-process Store.
type Memory struct {
	mu        sync.RWMutex
	players   map[string]models.PlayerRecord
	referees  map[string]models.RefereeRecord
	matches   map[string]models.Match
	results   map[string]models.MatchResult
	standings map[string][]models.StandingsRow
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		players:   make(map[string]models.PlayerRecord),
		referees:  make(map[string]models.RefereeRecord),
		matches:   make(map[string]models.Match),
		results:   make(map[string]models.MatchResult),
		standings: make(map[string][]models.StandingsRow),
	}
}

func (m *Memory) PutPlayer(p *models.PlayerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.players[p.ID] = *p
	return nil
}

func (m *Memory) GetPlayer(id string) (*models.PlayerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *Memory) ListPlayers() ([]*models.PlayerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.PlayerRecord, 0, len(m.players))
	for id := range m.players {
		p := m.players[id]
		out = append(out, &p)
	}
	return out, nil
}

func (m *Memory) PutReferee(r *models.RefereeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.referees[r.ID] = *r
	return nil
}

func (m *Memory) GetReferee(id string) (*models.RefereeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.referees[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *Memory) ListReferees() ([]*models.RefereeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.RefereeRecord, 0, len(m.referees))
	for id := range m.referees {
		r := m.referees[id]
		out = append(out, &r)
	}
	return out, nil
}

func (m *Memory) PutMatch(match *models.Match) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matches[match.ID] = *match
	return nil
}

func (m *Memory) GetMatch(id string) (*models.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	match, ok := m.matches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &match, nil
}

func (m *Memory) PutResult(r *models.MatchResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[r.MatchID] = *r
	return nil
}

func (m *Memory) GetResult(matchID string) (*models.MatchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[matchID]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *Memory) PutStandings(roundID string, rows []models.StandingsRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make([]models.StandingsRow, len(rows))
	copy(copied, rows)
	m.standings[roundID] = copied
	return nil
}

func (m *Memory) GetStandings(roundID string) ([]models.StandingsRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows, ok := m.standings[roundID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]models.StandingsRow, len(rows))
	copy(out, rows)
	return out, nil
}
