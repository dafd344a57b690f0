// Package strategy defines the pluggable decision interface a player agent
// consults for its moves, plus an explicit registry and the uniform-random
// reference implementation.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"league-platform/internal/models"
)

var ErrUnknownStrategy = errors.New("unknown strategy")

// HistoryEntry is one prior game-round from the owning player's side.
type HistoryEntry struct {
	OwnMove         int
	OpponentMove    int
	RoundWinnerRole string // models.RoleA / models.RoleB / models.RoleDraw
}

// View is the read-only snapshot handed to a strategy. The agent guarantees
// it is consistent; strategies may keep state of their own across calls.
type View struct {
	GameType     string
	RoleTag      string
	GameRoundID  int
	RunningScore models.Score
	History      []HistoryEntry
}

// Strategy produces a move for a view before the context is cancelled. The
// player agent cancels the context shortly before the referee's deadline;
// implementations that ignore it are abandoned and the default move is used.
type Strategy interface {
	Name() string
	ChooseMove(ctx context.Context, view View) (int, error)
}

// Constructor builds a fresh strategy instance.
type Constructor func() Strategy

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Constructor)
)

// Register installs a strategy constructor under a name.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = ctor
}

// New instantiates a registered strategy.
func New(name string) (Strategy, error) {
	registryMu.RLock()
	ctor, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	return ctor(), nil
}

// RandomName is the registry name of the reference strategy.
const RandomName = "random"

func init() {
	Register(RandomName, func() Strategy { return &Random{} })
}

// Random picks uniformly in [1..10], the parity game's move range.
type Random struct{}

func (r *Random) Name() string { return RandomName }

func (r *Random) ChooseMove(ctx context.Context, view View) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}
	return rand.Intn(10) + 1, nil
}
