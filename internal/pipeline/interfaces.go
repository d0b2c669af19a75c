package pipeline

import (
	"context"
	"encoding/json"
	"time"
)

// JobStore persists pipeline jobs. Implementations must be safe for
// concurrent use; the dedup invariant is enforced by the gate, not here.
type JobStore interface {
	// CreateJob inserts a new job. The job must arrive in StatusPending.
	CreateJob(ctx context.Context, job Job) error

	// GetJob returns a job by id, or ErrNotFound.
	GetJob(ctx context.Context, id string) (Job, error)

	// FindActiveByKey returns the pending/processing job holding the dedup
	// key, or ErrNotFound when the key is free.
	FindActiveByKey(ctx context.Context, key string) (Job, error)

	// SelectPending returns up to limit pending jobs ordered by priority
	// descending, then created_at ascending. An empty types filter selects
	// all types.
	SelectPending(ctx context.Context, limit int, types []JobType) ([]Job, error)

	// UpdateStatus applies a lifecycle transition, recording timestamps and
	// the terminal result or error. Returns ErrInvalidTransition for moves
	// the transition table rejects, ErrNotFound for unknown ids.
	UpdateStatus(ctx context.Context, id string, status JobStatus, result json.RawMessage, errText string) error

	// Stats aggregates counts by status/type plus the most recent job
	// summaries, newest first.
	Stats(ctx context.Context, recent int) (Stats, error)
}

// Handler executes one job type. The scheduler owns status transitions; a
// handler only computes the result.
type Handler interface {
	Handle(ctx context.Context, job Job) (json.RawMessage, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job Job) (json.RawMessage, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, job Job) (json.RawMessage, error) {
	return f(ctx, job)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints job identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
