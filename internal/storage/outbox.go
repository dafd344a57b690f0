package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"league-platform/internal/models"

	"github.com/redis/go-redis/v9"
)

// Outbox parks match results the referee could not deliver to the manager.
// An external process (or an operator) drains it later; the referee only
// ever pushes.
type Outbox interface {
	Push(ctx context.Context, result *models.MatchResult) error
	Pending(ctx context.Context) (int, error)
}

// MemoryOutbox keeps undelivered results in process memory.
type MemoryOutbox struct {
	mu      sync.Mutex
	results []models.MatchResult
}

// NewMemoryOutbox creates an empty outbox.
func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{}
}

func (o *MemoryOutbox) Push(ctx context.Context, result *models.MatchResult) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, *result)
	return nil
}

func (o *MemoryOutbox) Pending(ctx context.Context) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.results), nil
}

// Drain removes and returns everything currently parked.
func (o *MemoryOutbox) Drain() []models.MatchResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.results
	o.results = nil
	return out
}

const outboxKey = "league:outbox:results"

// RedisOutbox parks undelivered results in a Redis list so they survive a
// referee restart.
type RedisOutbox struct {
	client *redis.Client
}

// NewRedisOutbox connects to Redis at addr.
func NewRedisOutbox(addr string) *RedisOutbox {
	return &RedisOutbox{
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

func (o *RedisOutbox) Push(ctx context.Context, result *models.MatchResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := o.client.RPush(ctx, outboxKey, data).Err(); err != nil {
		return fmt.Errorf("push to outbox: %w", err)
	}
	log.Printf("[OUTBOX] parked unreported result for match %s", result.MatchID)
	return nil
}

func (o *RedisOutbox) Pending(ctx context.Context) (int, error) {
	n, err := o.client.LLen(ctx, outboxKey).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Pop removes and returns the oldest parked result, or ErrNotFound when the
// outbox is empty.
func (o *RedisOutbox) Pop(ctx context.Context) (*models.MatchResult, error) {
	data, err := o.client.LPop(ctx, outboxKey).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var result models.MatchResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, err
	}
	return &result, nil
}
