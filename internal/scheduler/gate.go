// Package scheduler implements the enqueue gate and the batch drain loop
// for the enrichment pipeline.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jackmmaher/appscout/internal/pipeline"
	"github.com/jackmmaher/appscout/internal/progress"
)

// Gate is the dedup/enqueue front door. It enforces the invariant that at
// most one active job exists per dedup key; the store itself does not.
type Gate struct {
	store   pipeline.JobStore
	idGen   pipeline.IDGenerator
	clock   pipeline.Clock
	emitter progress.Emitter
	logger  *zap.Logger
}

// NewGate constructs a Gate. A nil emitter disables event publication.
func NewGate(
	store pipeline.JobStore,
	idGen pipeline.IDGenerator,
	clock pipeline.Clock,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		store:   store,
		idGen:   idGen,
		clock:   clock,
		emitter: emitter,
		logger:  logger,
	}
}

// Enqueue creates a pending job unless an equivalent one is still active,
// in which case the existing job's id is returned with created=false. The
// duplicate's priority is left untouched; upgrading it would let accidental
// re-enqueue storms invert drain order.
func (g *Gate) Enqueue(
	ctx context.Context,
	jobType pipeline.JobType,
	payload pipeline.Payload,
	priority int,
) (string, bool, error) {
	if !jobType.Valid() {
		return "", false, fmt.Errorf("%w: unknown job type %q", pipeline.ErrInvalidPayload, jobType)
	}
	if err := payload.Validate(); err != nil {
		return "", false, err
	}
	if priority <= 0 {
		priority = jobType.DefaultPriority()
	}

	key := pipeline.DedupKey(jobType, payload)
	existing, err := g.store.FindActiveByKey(ctx, key)
	if err == nil {
		g.emit(progress.Event{
			JobID:   existing.ID,
			TS:      g.clock.Now(),
			Stage:   progress.StageJobDeduped,
			JobType: string(jobType),
		})
		g.logger.Debug("enqueue suppressed by active duplicate",
			zap.String("job_id", existing.ID),
			zap.String("type", string(jobType)),
		)
		return existing.ID, false, nil
	}
	if !errors.Is(err, pipeline.ErrNotFound) {
		return "", false, fmt.Errorf("check active duplicate: %w", err)
	}

	id, err := g.idGen.NewID()
	if err != nil {
		return "", false, fmt.Errorf("generate job id: %w", err)
	}
	job := pipeline.Job{
		ID:        id,
		Type:      jobType,
		Payload:   payload,
		DedupKey:  key,
		Priority:  priority,
		Status:    pipeline.StatusPending,
		CreatedAt: g.clock.Now(),
	}
	if err := g.store.CreateJob(ctx, job); err != nil {
		return "", false, fmt.Errorf("create job: %w", err)
	}
	g.emit(progress.Event{
		JobID:   id,
		TS:      job.CreatedAt,
		Stage:   progress.StageJobEnqueued,
		JobType: string(jobType),
	})
	return id, true, nil
}

// BatchResult summarizes an EnqueueBatch call.
type BatchResult struct {
	Requested int `json:"requested"`
	Queued    int `json:"queued"`
	Deduped   int `json:"deduped"`
	Rejected  int `json:"rejected"`
}

// EnqueueBatch enqueues a list of payloads sharing one type, priority, and
// country. Invalid entries are counted and skipped; they do not abort the
// batch.
func (g *Gate) EnqueueBatch(
	ctx context.Context,
	jobType pipeline.JobType,
	priority int,
	country string,
	payloads []pipeline.Payload,
) (BatchResult, error) {
	result := BatchResult{Requested: len(payloads)}
	for _, payload := range payloads {
		if payload.Country == "" {
			payload.Country = country
		}
		_, created, err := g.Enqueue(ctx, jobType, payload, priority)
		switch {
		case errors.Is(err, pipeline.ErrInvalidPayload):
			result.Rejected++
		case err != nil:
			return result, err
		case created:
			result.Queued++
		default:
			result.Deduped++
		}
	}
	return result, nil
}

func (g *Gate) emit(evt progress.Event) {
	if g.emitter != nil {
		g.emitter.Emit(evt)
	}
}
