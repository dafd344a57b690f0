// Package events is the observability seam of the agents: every state
// transition and message send/receive is emitted to a Sink. Agents work
// identically with the no-op sink installed.
package events

import (
	"log"
	"time"
)

// Event is one observable occurrence inside an agent.
type Event struct {
	Type      string                 `json:"type"`
	LeagueID  string                 `json:"league_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Sink receives events. Implementations must be safe for concurrent use
// and must never block the caller for long.
type Sink interface {
	Emit(event Event)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// LogSink writes events to the process log with a subsystem tag.
type LogSink struct {
	Tag string
}

func (s *LogSink) Emit(event Event) {
	tag := s.Tag
	if tag == "" {
		tag = "EVENT"
	}
	log.Printf("[%s] %s %v", tag, event.Type, event.Data)
}

// Multi fans one event out to several sinks.
type Multi []Sink

func (m Multi) Emit(event Event) {
	for _, s := range m {
		s.Emit(event)
	}
}

// New stamps an event with the current time.
func New(eventType, leagueID string, data map[string]interface{}) Event {
	return Event{
		Type:      eventType,
		LeagueID:  leagueID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}
