// Package crawld implements the crawl worker daemon: the long-running
// sibling process that executes store crawls on the pipeline's behalf.
package crawld

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jackmmaher/appscout/internal/crawlworker"
)

// taskEntry is the worker-side record of a task. The registry owns all
// mutation; HTTP handlers only read snapshots.
type taskEntry struct {
	task   crawlworker.Task
	cancel context.CancelFunc
}

// Registry tracks tasks for the lifetime of the worker process.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*taskEntry
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*taskEntry)}
}

// Add registers a new pending task with its cancel function.
func (r *Registry) Add(id string, params crawlworker.TaskParams, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[id] = &taskEntry{
		task: crawlworker.Task{
			ID:     id,
			Params: params,
			Status: crawlworker.TaskPending,
		},
		cancel: cancel,
	}
}

// Get returns a snapshot of the task.
func (r *Registry) Get(id string) (crawlworker.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tasks[id]
	if !ok {
		return crawlworker.Task{}, false
	}
	return entry.task, true
}

// SetProcessing moves a task into processing.
func (r *Registry) SetProcessing(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.tasks[id]; ok && !entry.task.Status.Terminal() {
		entry.task.Status = crawlworker.TaskProcessing
	}
}

// ReportProgress records progress for a processing task. Progress never
// decreases; late out-of-order reports are ignored.
func (r *Registry) ReportProgress(id string, progress int) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.tasks[id]
	if !ok || entry.task.Status.Terminal() {
		return
	}
	if progress > entry.task.Progress {
		entry.task.Progress = progress
	}
}

// Complete records the terminal result. No-op if already terminal.
func (r *Registry) Complete(id string, result json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.tasks[id]
	if !ok || entry.task.Status.Terminal() {
		return
	}
	entry.task.Status = crawlworker.TaskCompleted
	entry.task.Progress = 100
	entry.task.Result = result
}

// Fail records the terminal error. No-op if already terminal.
func (r *Registry) Fail(id string, errText string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.tasks[id]
	if !ok || entry.task.Status.Terminal() {
		return
	}
	entry.task.Status = crawlworker.TaskFailed
	entry.task.Error = errText
}

// Cancel aborts a non-terminal task and fires its cancel function.
// Returns false for unknown ids.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.tasks[id]
	if !ok {
		return false
	}
	if entry.task.Status.Terminal() {
		return true
	}
	entry.task.Status = crawlworker.TaskCancelled
	if entry.cancel != nil {
		entry.cancel()
	}
	return true
}
