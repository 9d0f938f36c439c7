// Package audit defines the audit event hook. Persistence and querying of
// events live outside this service; the core only emits.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	OutcomeSuccess = "SUCCESS"
	OutcomeFailure = "FAILURE"
	OutcomeDenied  = "DENIED"
)

type Event struct {
	ActorID       int64     `json:"actor_id"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      int64     `json:"entity_id"`
	CorrelationID string    `json:"correlation_id"`
	Outcome       string    `json:"outcome"`
	At            time.Time `json:"at"`
}

type Emitter interface {
	Emit(ctx context.Context, e Event) error
}

// LogEmitter writes events to the structured log. The external audit
// pipeline tails these lines.
type LogEmitter struct {
	logger *slog.Logger
}

func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

func (l *LogEmitter) Emit(ctx context.Context, e Event) error {
	l.logger.InfoContext(ctx, "audit event",
		"actor_id", e.ActorID,
		"action", e.Action,
		"entity_type", e.EntityType,
		"entity_id", e.EntityID,
		"correlation_id", e.CorrelationID,
		"outcome", e.Outcome,
	)
	return nil
}

// Recorder collects events in memory. Used by tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Emit(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
