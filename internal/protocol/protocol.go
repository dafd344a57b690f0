// Package protocol defines the league.v2 message family exchanged between
// the league manager, referees and players. Every message travels as the
// arguments object of a JSON-RPC tools/call request; the envelope carries
// the identity and correlation fields, the payload carries the semantics.
package protocol

import (
	"encoding/json"
	"time"

	"league-platform/internal/models"
)

// Version is the protocol family identifier carried in every envelope.
const Version = "league.v2"

// Message types. The tool name of the JSON-RPC call selects one of these.
const (
	TypePlayerRegisterRequest   = "player.register.request"
	TypePlayerRegisterResponse  = "player.register.response"
	TypeRefereeRegisterRequest  = "referee.register.request"
	TypeRefereeRegisterResponse = "referee.register.response"

	TypeMatchAssign = "match.assign"
	TypeMatchAck    = "match.ack"

	TypeGameInvite       = "game.invite"
	TypeGameInviteAck    = "game.invite.ack"
	TypeChooseMoveCall   = "choose_move.call"
	TypeChooseMoveResult = "choose_move.response"
	TypeRoundResult      = "round_result"
	TypeGameOver         = "game.over"

	TypeMatchResultReport = "match_result.report"
	TypeMatchResultAck    = "match_result.ack"

	TypeRoundAnnounce   = "round.announce"
	TypeStandingsUpdate = "standings.update"
	TypeLeagueCompleted = "league.completed"

	TypeStandingsGet = "standings.get"
	TypeScheduleGet  = "schedule.get"
	TypeLeagueStatus = "league.status"
)

// Default per-message deadlines.
const (
	RegistrationDeadline = 10 * time.Second
	InviteAckDeadline    = 5 * time.Second
	MoveDeadline         = 30 * time.Second
	GameOverDeadline     = 5 * time.Second
	ResultReportDeadline = 10 * time.Second
	MatchAssignDeadline  = 10 * time.Second

	// MoveGrace is how long past the announced deadline the referee keeps
	// accepting a move before substituting the default.
	MoveGrace = 500 * time.Millisecond

	// StrategyCancelMargin is how long before the referee deadline the
	// player cancels its strategy and falls back to the default move.
	StrategyCancelMargin = 250 * time.Millisecond
)

// JSON-RPC error codes used on the wire.
const (
	CodeInvalidRequest = -32600
	CodeUnknownTool    = -32601
	CodeInvalidParams  = -32602

	CodeUnauthenticated      = 40001
	CodeRegistrationClosed   = 40002
	CodeDuplicateID          = 40003
	CodeUnsupportedGameType  = 40004
	CodeCapacityExceeded     = 40005
	CodeInvalidState         = 40006
	CodeUnknownMatch         = 40007
	CodeInternal             = 50001
)

// Registration response statuses.
const (
	StatusAccepted = "ACCEPTED"
	StatusRejected = "REJECTED"
)

// Match outcome statuses as seen by a player in game.over.
const (
	OutcomeWin     = "WIN"
	OutcomeLoss    = "LOSS"
	OutcomeDraw    = "DRAW"
	OutcomeForfeit = "FORFEIT"
)

// Envelope wraps every league.v2 payload. league_id lives here, once;
// payloads never repeat it.
type Envelope struct {
	Protocol       string          `json:"protocol"`
	MessageType    string          `json:"message_type"`
	LeagueID       string          `json:"league_id"`
	ConversationID string          `json:"conversation_id"`
	Sender         string          `json:"sender"`
	Timestamp      time.Time       `json:"timestamp"`
	AuthToken      string          `json:"auth_token,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

// NewEnvelope stamps a payload with the protocol header fields. The
// conversation id is chosen by the initiator and round-trips unchanged.
func NewEnvelope(messageType, leagueID, conversationID, sender string, payload interface{}) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Protocol:       Version,
		MessageType:    messageType,
		LeagueID:       leagueID,
		ConversationID: conversationID,
		Sender:         sender,
		Timestamp:      time.Now().UTC(),
		Payload:        raw,
	}, nil
}

// Decode unmarshals the payload into dst. Unknown fields are ignored for
// forward compatibility.
func (e *Envelope) Decode(dst interface{}) error {
	return json.Unmarshal(e.Payload, dst)
}

// PlayerRegisterRequest is sent by a player on startup.
type PlayerRegisterRequest struct {
	DisplayName        string   `json:"display_name"`
	Version            string   `json:"version"`
	SupportedGameTypes []string `json:"supported_game_types"`
	ContactEndpoint    string   `json:"contact_endpoint"`
	PlayerID           string   `json:"player_id,omitempty"` // optional, minted if absent
}

// PlayerRegisterResponse carries the minted id and auth token.
type PlayerRegisterResponse struct {
	Status    string `json:"status"`
	PlayerID  string `json:"player_id,omitempty"`
	AuthToken string `json:"auth_token,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// RefereeRegisterRequest is the referee-side registration.
type RefereeRegisterRequest struct {
	DisplayName          string   `json:"display_name"`
	Version              string   `json:"version"`
	SupportedGameTypes   []string `json:"supported_game_types"`
	ContactEndpoint      string   `json:"contact_endpoint"`
	MaxConcurrentMatches int      `json:"max_concurrent_matches"`
	RefereeID            string   `json:"referee_id,omitempty"`
}

// RefereeRegisterResponse mirrors the player response.
type RefereeRegisterResponse struct {
	Status    string `json:"status"`
	RefereeID string `json:"referee_id,omitempty"`
	AuthToken string `json:"auth_token,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// MatchAssign hands one match to a referee.
type MatchAssign struct {
	MatchID         string `json:"match_id"`
	RoundID         string `json:"round_id"`
	PlayerAID       string `json:"player_a_id"`
	PlayerAEndpoint string `json:"player_a_endpoint"`
	PlayerBID       string `json:"player_b_id"`
	PlayerBEndpoint string `json:"player_b_endpoint"`
	GameType        string `json:"game_type"`
	BestOfK         int    `json:"best_of_k"`
}

// MatchAck is the referee's immediate accept/decline of an assignment.
type MatchAck struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// GameInvite invites a player into a match.
type GameInvite struct {
	MatchID          string `json:"match_id"`
	OpponentID       string `json:"opponent_id"`
	OpponentEndpoint string `json:"opponent_endpoint"`
	RoleTag          string `json:"role_tag"` // ODD or EVEN for the parity game
	GameType         string `json:"game_type"`
	BestOfK          int    `json:"best_of_k"`
	SessionToken     string `json:"session_token"`
}

// GameInviteAck is the player's response to an invite.
type GameInviteAck struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// ChooseMoveCall asks a player for its next move. Deadline is an absolute
// RFC3339 timestamp; the referee grants MoveGrace past it.
type ChooseMoveCall struct {
	MatchID          string       `json:"match_id"`
	GameRoundID      int          `json:"game_round_id"`
	RunningScore     models.Score `json:"running_score"`
	Deadline         time.Time    `json:"deadline"`
	OpponentLastMove *int         `json:"opponent_last_move,omitempty"`
}

// ChooseMoveResponse carries the player's move.
type ChooseMoveResponse struct {
	MatchID     string `json:"match_id"`
	GameRoundID int    `json:"game_round_id"`
	Move        int    `json:"move"`
}

// RoundResult tells a player how a game-round resolved. Delivery is
// non-critical; the player can reconstruct from the next choose_move.call.
type RoundResult struct {
	MatchID         string       `json:"match_id"`
	GameRoundID     int          `json:"game_round_id"`
	RoundWinnerRole string       `json:"round_winner_role"`
	YourMove        int          `json:"your_move"`
	OpponentMove    int          `json:"opponent_move"`
	RunningScore    models.Score `json:"running_score"`
}

// GameOver closes a match from the player's point of view.
type GameOver struct {
	MatchID    string             `json:"match_id"`
	Status     string             `json:"status"` // WIN, LOSS, DRAW, FORFEIT
	FinalScore models.Score       `json:"final_score"`
	History    []models.GameRound `json:"history"`
}

// MatchResultReport is the referee's at-least-once report to the manager.
type MatchResultReport struct {
	MatchID       string             `json:"match_id"`
	RoundID       string             `json:"round_id"`
	WinnerID      string             `json:"winner_id,omitempty"`
	ScoreA        int                `json:"score_a"`
	ScoreB        int                `json:"score_b"`
	History       []models.GameRound `json:"history"`
	ForfeitReason string             `json:"forfeit_reason,omitempty"`
}

// MatchResultAck acknowledges a result report. duplicate=true means the
// manager had already recorded this match.
type MatchResultAck struct {
	Accepted  bool `json:"accepted"`
	Duplicate bool `json:"duplicate"`
}

// RoundAnnounce broadcasts the matches of a starting round.
type RoundAnnounce struct {
	RoundID string          `json:"round_id"`
	Matches []*models.Match `json:"matches"`
}

// StandingsUpdate broadcasts the standings after a round completes.
type StandingsUpdate struct {
	RoundID   string                `json:"round_id"`
	Standings []models.StandingsRow `json:"standings"`
}

// LeagueCompleted announces the end of the tournament.
type LeagueCompleted struct {
	ChampionID     string                `json:"champion_id,omitempty"`
	FinalStandings []models.StandingsRow `json:"final_standings"`
}

// StatusRequest is the empty payload of the read-only query tools.
type StatusRequest struct{}

// LeagueStatus is the manager's state snapshot.
type LeagueStatus struct {
	LeagueID     string             `json:"league_id"`
	State        models.LeagueState `json:"state"`
	Players      int                `json:"players"`
	Referees     int                `json:"referees"`
	CurrentRound int                `json:"current_round"`
	TotalRounds  int                `json:"total_rounds"`
	GameType     string             `json:"game_type,omitempty"`
}

// ScheduleResponse wraps schedule.get.
type ScheduleResponse struct {
	Schedule *models.Schedule `json:"schedule"`
}
