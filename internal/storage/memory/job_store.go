// Package memory provides an in-memory JobStore for development and tests.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/jackmmaher/appscout/internal/pipeline"
)

// JobStore keeps jobs in a mutex-guarded map. Jobs are retained
// indefinitely; there is no deletion path.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]pipeline.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]pipeline.Job)}
}

// CreateJob stores a new pending job.
func (s *JobStore) CreateJob(_ context.Context, job pipeline.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return pipeline.ErrInvalidTransition
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, id string) (pipeline.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return pipeline.Job{}, pipeline.ErrNotFound
	}
	return job, nil
}

// FindActiveByKey returns the pending/processing job holding the dedup key.
func (s *JobStore) FindActiveByKey(_ context.Context, key string) (pipeline.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.jobs {
		if job.DedupKey == key && job.Status.Active() {
			return job, nil
		}
	}
	return pipeline.Job{}, pipeline.ErrNotFound
}

// SelectPending returns up to limit pending jobs, priority descending and
// created_at ascending within equal priority.
func (s *JobStore) SelectPending(_ context.Context, limit int, types []pipeline.JobType) ([]pipeline.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var selected []pipeline.Job
	for _, job := range s.jobs {
		if job.Status != pipeline.StatusPending {
			continue
		}
		if len(types) > 0 && !containsType(types, job.Type) {
			continue
		}
		selected = append(selected, job)
	}
	sort.SliceStable(selected, func(i, j int) bool {
		if selected[i].Priority != selected[j].Priority {
			return selected[i].Priority > selected[j].Priority
		}
		return selected[i].CreatedAt.Before(selected[j].CreatedAt)
	})
	if limit > 0 && len(selected) > limit {
		selected = selected[:limit]
	}
	return selected, nil
}

// UpdateStatus applies a lifecycle transition and records timestamps.
func (s *JobStore) UpdateStatus(
	_ context.Context,
	id string,
	status pipeline.JobStatus,
	result json.RawMessage,
	errText string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return pipeline.ErrNotFound
	}
	if err := pipeline.Transition(job.Status, status); err != nil {
		return err
	}
	now := time.Now().UTC()
	job.Status = status
	job.Error = errText
	if result != nil {
		job.Result = result
	}
	if status == pipeline.StatusProcessing && job.StartedAt == nil {
		job.StartedAt = &now
		job.Attempts++
	}
	if status.Terminal() {
		job.FinishedAt = &now
	}
	s.jobs[id] = job
	return nil
}

// Stats aggregates counts by status/type plus recent summaries.
func (s *JobStore) Stats(_ context.Context, recent int) (pipeline.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := pipeline.Stats{
		Total:    len(s.jobs),
		ByStatus: make(map[pipeline.JobStatus]int),
		ByType:   make(map[pipeline.JobType]int),
	}
	all := make([]pipeline.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		stats.ByStatus[job.Status]++
		stats.ByType[job.Type]++
		all = append(all, job)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if recent > 0 && len(all) > recent {
		all = all[:recent]
	}
	stats.RecentJobs = make([]pipeline.Summary, 0, len(all))
	for _, job := range all {
		stats.RecentJobs = append(stats.RecentJobs, job.Summarize())
	}
	return stats, nil
}

func containsType(types []pipeline.JobType, t pipeline.JobType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
