package player

import (
	"league-platform/internal/game"
	"league-platform/internal/models"
	"league-platform/internal/strategy"
)

// SessionState tracks one match from the player's side.
type SessionState string

const (
	SessionAccepted     SessionState = "accepted"
	SessionMakingMove   SessionState = "making_move"
	SessionAwaitingNext SessionState = "awaiting_next"
	SessionCompleted    SessionState = "completed"
	SessionForfeited    SessionState = "forfeited"
)

// Session is the player-side state of one match. Each session is owned by
// the agent and guarded by the agent's session lock; handlers for the same
// match arrive sequentially from the referee.
type Session struct {
	MatchID          string
	OpponentID       string
	OpponentEndpoint string
	RoleTag          string
	GameType         string
	BestOfK          int
	SessionToken     string

	State        SessionState
	RunningScore models.Score
	History      []strategy.HistoryEntry

	rules game.Rules
}

// view builds the read-only snapshot handed to the strategy.
func (s *Session) view(gameRoundID int) strategy.View {
	history := make([]strategy.HistoryEntry, len(s.History))
	copy(history, s.History)
	return strategy.View{
		GameType:     s.GameType,
		RoleTag:      s.RoleTag,
		GameRoundID:  gameRoundID,
		RunningScore: s.RunningScore,
		History:      history,
	}
}
