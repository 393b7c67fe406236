package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Entity is the record being pushed through a pipeline. It is owned by the
// record service; a run only reads fields and invokes one report callback.
type Entity interface {
	Key() string
	Field(name string) string
	ReportSuccess(ctx context.Context, data map[string]string) error
	ReportFail(ctx context.Context) error
	ReportPending(ctx context.Context) error
}

// Session is the part of a browser session the pipeline needs.
type Session interface {
	Snapshot(ctx context.Context, reason string)
	Close() error
}

// Run holds the per-run context of one entity.
type Run struct {
	ID        uuid.UUID
	Bot       string
	Entity    Entity
	Logger    *logrus.Entry
	StartedAt time.Time

	mu      sync.Mutex
	outcome Outcome
}

// NewRun creates a run with a fresh id.
func NewRun(bot string, entity Entity, logger *logrus.Logger) *Run {
	id := uuid.New()
	return &Run{
		ID:     id,
		Bot:    bot,
		Entity: entity,
		Logger: logger.WithFields(logrus.Fields{
			"run_id": id.String(),
			"bot":    bot,
			"entity": entity.Key(),
		}),
		StartedAt: time.Now(),
	}
}

// SetOutcome fills the outcome slot. It returns false when the slot was
// already written; the first outcome wins.
func (r *Run) SetOutcome(outcome Outcome) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.outcome != "" {
		return false
	}
	r.outcome = outcome
	return true
}

// Outcome returns the recorded outcome, empty while the run is in flight.
func (r *Run) Outcome() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}

func (r *Run) missingFields(names []string) []string {
	var missing []string
	for _, name := range names {
		if r.Entity.Field(name) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
