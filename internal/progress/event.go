// Package progress defines the event structures emitted by the pipeline
// scheduler and gate.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported pipeline stages.
const (
	StageJobEnqueued Stage = "JOB_ENQUEUED"
	StageJobDeduped  Stage = "JOB_DEDUPED"
	StageJobStart    Stage = "JOB_START"
	StageJobDone     Stage = "JOB_DONE"
	StageJobError    Stage = "JOB_ERROR"
	StageJobCancel   Stage = "JOB_CANCELLED"
	StageDrainDone   Stage = "DRAIN_DONE"
)

// Event captures a single pipeline milestone.
type Event struct {
	// JobID identifies the job, empty for drain-level events.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// JobType labels the job's handler type.
	JobType string
	// Dur captures handler latency for JOB_DONE/JOB_ERROR and batch
	// latency for DRAIN_DONE.
	Dur time.Duration
	// Processed carries the batch size for DRAIN_DONE.
	Processed int
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageDrainDone:
	case StageJobEnqueued, StageJobDeduped, StageJobStart, StageJobDone, StageJobError, StageJobCancel:
		if e.JobID == "" {
			return errors.New("job id is required")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
