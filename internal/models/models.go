package models

import "time"

// Agent roles within a league.
const (
	RoleLeagueManager = "league_manager"
	RoleReferee       = "referee"
	RolePlayer        = "player"
)

// BYE is the sentinel opponent for odd player counts. A BYE match is
// emitted in the schedule but completed at generation time.
const BYE = "BYE"

// LeagueState is the top-level tournament state machine.
type LeagueState string

const (
	LeagueRegistration LeagueState = "REGISTRATION"
	LeagueReady        LeagueState = "READY"
	LeagueInProgress   LeagueState = "IN_PROGRESS"
	LeagueCompleted    LeagueState = "COMPLETED"
	LeagueAborted      LeagueState = "ABORTED"
)

// MatchState tracks one match from scheduling to termination.
type MatchState string

const (
	MatchScheduled  MatchState = "SCHEDULED"
	MatchInvited    MatchState = "INVITED"
	MatchAccepted   MatchState = "ACCEPTED"
	MatchInProgress MatchState = "IN_PROGRESS"
	MatchCompleted  MatchState = "COMPLETED"
	MatchForfeited  MatchState = "FORFEITED"
	MatchAbandoned  MatchState = "ABANDONED"
)

// PlayerStatus is the registration status of a player within the league.
type PlayerStatus string

const (
	PlayerActive    PlayerStatus = "ACTIVE"
	PlayerSuspended PlayerStatus = "SUSPENDED"
	PlayerDropped   PlayerStatus = "DROPPED"
)

// Role tags for the two sides of a match. Side A plays ODD, side B plays
// EVEN by convention.
const (
	RoleA    = "A"
	RoleB    = "B"
	RoleDraw = "DRAW"
)

// PlayerRecord is the manager's view of a registered player.
type PlayerRecord struct {
	ID                 string       `json:"id"`
	DisplayName        string       `json:"display_name"`
	Endpoint           string       `json:"endpoint"`
	SupportedGameTypes []string     `json:"supported_game_types"`
	AuthToken          string       `json:"-"`
	Status             PlayerStatus `json:"status"`
	Wins               int          `json:"wins"`
	Losses             int          `json:"losses"`
	Draws              int          `json:"draws"`
	Points             int          `json:"points"`
	MatchesPlayed      int          `json:"matches_played"`
	RegisteredAt       time.Time    `json:"registered_at"`
}

// SupportsGameType reports whether the player advertised the game type at
// registration.
func (p *PlayerRecord) SupportsGameType(gameType string) bool {
	for _, gt := range p.SupportedGameTypes {
		if gt == gameType {
			return true
		}
	}
	return false
}

// RefereeRecord is the manager's view of a registered referee.
type RefereeRecord struct {
	ID                   string    `json:"id"`
	DisplayName          string    `json:"display_name"`
	Endpoint             string    `json:"endpoint"`
	SupportedGameTypes   []string  `json:"supported_game_types"`
	MaxConcurrentMatches int       `json:"max_concurrent_matches"`
	AuthToken            string    `json:"-"`
	CurrentLoad          int       `json:"current_load"`
	RegisteredAt         time.Time `json:"registered_at"`
}

// SupportsGameType reports whether the referee advertised the game type.
func (r *RefereeRecord) SupportsGameType(gameType string) bool {
	for _, gt := range r.SupportedGameTypes {
		if gt == gameType {
			return true
		}
	}
	return false
}

// GameRound is one completed play inside a match: one move from each side
// and the side that took it.
type GameRound struct {
	GameRoundID int    `json:"game_round_id"`
	MoveA       int    `json:"move_a"`
	MoveB       int    `json:"move_b"`
	Winner      string `json:"winner"` // RoleA, RoleB or RoleDraw
}

// Score is the per-side running score of a match.
type Score struct {
	A int `json:"a"`
	B int `json:"b"`
}

// Match is one best-of-K pairing inside a round. PlayerB is BYE for bye
// slots. AssignedReferee is empty until the manager dispatches the match.
type Match struct {
	ID              string     `json:"id"`
	RoundID         string     `json:"round_id"`
	PlayerA         string     `json:"player_a"`
	PlayerB         string     `json:"player_b"`
	GameType        string     `json:"game_type"`
	AssignedReferee string     `json:"assigned_referee,omitempty"`
	State           MatchState `json:"state"`
}

// IsBye reports whether the match is a bye slot.
func (m *Match) IsBye() bool { return m.PlayerB == BYE }

// Round is one sweep of the round-robin schedule.
type Round struct {
	ID      string   `json:"id"`
	Index   int      `json:"index"` // 1-based
	Matches []*Match `json:"matches"`
}

// Schedule is the immutable round-robin plan. Only per-match state mutates
// after construction.
type Schedule struct {
	GameType string   `json:"game_type"`
	Rounds   []*Round `json:"rounds"`
}

// MatchCount returns the total number of matches, byes included.
func (s *Schedule) MatchCount() int {
	n := 0
	for _, r := range s.Rounds {
		n += len(r.Matches)
	}
	return n
}

// MatchResult is a referee's final report for one match.
type MatchResult struct {
	MatchID       string      `json:"match_id"`
	RoundID       string      `json:"round_id"`
	WinnerID      string      `json:"winner_id,omitempty"`
	ScoreA        int         `json:"score_a"`
	ScoreB        int         `json:"score_b"`
	History       []GameRound `json:"history"`
	ForfeitReason string      `json:"forfeit_reason,omitempty"`
	ReportedAt    time.Time   `json:"reported_at"`
}

// Equivalent reports whether two results describe the same outcome. Used by
// the manager to distinguish duplicate redelivery from a conflicting report.
func (r *MatchResult) Equivalent(other *MatchResult) bool {
	if r.MatchID != other.MatchID || r.RoundID != other.RoundID {
		return false
	}
	if r.WinnerID != other.WinnerID || r.ScoreA != other.ScoreA || r.ScoreB != other.ScoreB {
		return false
	}
	if len(r.History) != len(other.History) {
		return false
	}
	for i := range r.History {
		if r.History[i] != other.History[i] {
			return false
		}
	}
	return true
}

// StandingsRow is one line of the standings table.
type StandingsRow struct {
	PlayerID     string `json:"player_id"`
	DisplayName  string `json:"display_name"`
	Wins         int    `json:"wins"`
	Losses       int    `json:"losses"`
	Draws        int    `json:"draws"`
	Points       int    `json:"points"`
	RoundDiff    int    `json:"round_diff"` // game-round wins minus losses across all matches
	MatchesPlayed int   `json:"matches_played"`
}

// PointsConfig fixes the payout per match outcome. Immutable after league
// creation.
type PointsConfig struct {
	Win  int `json:"win"`
	Draw int `json:"draw"`
	Loss int `json:"loss"`
}

// DefaultPoints is the standard 3/1/0 scheme.
func DefaultPoints() PointsConfig {
	return PointsConfig{Win: 3, Draw: 1, Loss: 0}
}
