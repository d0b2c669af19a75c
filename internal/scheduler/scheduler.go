package scheduler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jackmmaher/appscout/internal/pipeline"
	"github.com/jackmmaher/appscout/internal/progress"
)

// MaxBatch is the hard cap on jobs per drain invocation.
const MaxBatch = 50

const defaultRecentJobs = 20

// Scheduler drains pending jobs in priority order and dispatches each to
// its type handler. It is invoked by an external periodic trigger, not run
// as a service loop; jobs within a batch are processed sequentially.
type Scheduler struct {
	store      pipeline.JobStore
	clock      pipeline.Clock
	handlers   map[pipeline.JobType]pipeline.Handler
	emitter    progress.Emitter
	logger     *zap.Logger
	recentJobs int
}

// NewScheduler constructs a Scheduler with no handlers registered.
func NewScheduler(
	store pipeline.JobStore,
	clock pipeline.Clock,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:      store,
		clock:      clock,
		handlers:   make(map[pipeline.JobType]pipeline.Handler),
		emitter:    emitter,
		logger:     logger,
		recentJobs: defaultRecentJobs,
	}
}

// SetRecentJobs overrides how many recent job summaries Stats returns.
func (s *Scheduler) SetRecentJobs(n int) {
	if n > 0 {
		s.recentJobs = n
	}
}

// Register binds a handler to a job type, replacing any previous binding.
func (s *Scheduler) Register(jobType pipeline.JobType, handler pipeline.Handler) {
	s.handlers[jobType] = handler
}

// Drain processes up to maxJobs pending jobs, optionally filtered by type,
// in priority-descending, oldest-first order. A handler fault is isolated
// to its job; draining continues with the next selection. Returns the
// number of jobs processed.
func (s *Scheduler) Drain(ctx context.Context, maxJobs int, types []pipeline.JobType) (int, error) {
	if maxJobs <= 0 || maxJobs > MaxBatch {
		maxJobs = MaxBatch
	}

	start := s.clock.Now()
	jobs, err := s.store.SelectPending(ctx, maxJobs, types)
	if err != nil {
		return 0, fmt.Errorf("select pending jobs: %w", err)
	}

	processed := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		if err := s.store.UpdateStatus(ctx, job.ID, pipeline.StatusProcessing, nil, ""); err != nil {
			// Lost the race with a cancel; skip without burning the batch.
			if errors.Is(err, pipeline.ErrInvalidTransition) {
				continue
			}
			s.logger.Error("start job failed", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		s.emit(progress.Event{
			JobID:   job.ID,
			TS:      s.clock.Now(),
			Stage:   progress.StageJobStart,
			JobType: string(job.Type),
		})
		s.runJob(ctx, job)
		processed++
	}

	s.emit(progress.Event{
		TS:        s.clock.Now(),
		Stage:     progress.StageDrainDone,
		Dur:       s.clock.Now().Sub(start),
		Processed: processed,
	})
	return processed, nil
}

// runJob invokes the handler and records the terminal state. Panics are
// converted into a failed job rather than aborting the batch.
func (s *Scheduler) runJob(ctx context.Context, job pipeline.Job) {
	handler, ok := s.handlers[job.Type]
	if !ok {
		s.finishJob(ctx, job, nil, fmt.Errorf("no handler registered for type %s", job.Type))
		return
	}

	started := s.clock.Now()
	result, err := s.invoke(ctx, handler, job)
	dur := s.clock.Now().Sub(started)

	if err != nil {
		s.emit(progress.Event{
			JobID:   job.ID,
			TS:      s.clock.Now(),
			Stage:   progress.StageJobError,
			JobType: string(job.Type),
			Dur:     dur,
			Note:    err.Error(),
		})
	} else {
		s.emit(progress.Event{
			JobID:   job.ID,
			TS:      s.clock.Now(),
			Stage:   progress.StageJobDone,
			JobType: string(job.Type),
			Dur:     dur,
		})
	}
	s.finishJob(ctx, job, result, err)
}

func (s *Scheduler) invoke(ctx context.Context, handler pipeline.Handler, job pipeline.Job) (result []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return handler.Handle(ctx, job)
}

func (s *Scheduler) finishJob(ctx context.Context, job pipeline.Job, result []byte, handlerErr error) {
	status := pipeline.StatusCompleted
	errText := ""
	if handlerErr != nil {
		status = pipeline.StatusFailed
		errText = handlerErr.Error()
		s.logger.Warn("job failed",
			zap.String("job_id", job.ID),
			zap.String("type", string(job.Type)),
			zap.Error(handlerErr),
		)
	}
	if err := s.store.UpdateStatus(ctx, job.ID, status, result, errText); err != nil {
		s.logger.Error("final job status update failed",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}
}

// Cancel moves a pending or processing job to cancelled. No retry of
// failed jobs exists; repeated failure requires an external re-enqueue
// decision.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	if err := s.store.UpdateStatus(ctx, id, pipeline.StatusCancelled, nil, "cancelled via API"); err != nil {
		return err
	}
	s.emit(progress.Event{
		JobID: id,
		TS:    s.clock.Now(),
		Stage: progress.StageJobCancel,
	})
	return nil
}

// Stats returns the read-only aggregate over the store.
func (s *Scheduler) Stats(ctx context.Context) (pipeline.Stats, error) {
	return s.store.Stats(ctx, s.recentJobs)
}

func (s *Scheduler) emit(evt progress.Event) {
	if s.emitter != nil {
		s.emitter.Emit(evt)
	}
}
