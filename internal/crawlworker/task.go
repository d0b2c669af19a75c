// Package crawlworker supervises the sibling crawl worker process and
// relays crawl tasks to it.
package crawlworker

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TaskStatus is the worker-reported state normalized to the pipeline's
// vocabulary.
type TaskStatus string

// Normalized task states.
const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether the task will not change state again.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// NormalizeStatus maps raw worker status strings onto the closed set. The
// worker protocol has accumulated synonyms over time; unknown values are
// treated as processing so a stream keeps polling rather than erroring.
func NormalizeStatus(raw string) TaskStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "queued", "created":
		return TaskPending
	case "completed", "success", "succeeded", "done":
		return TaskCompleted
	case "failed", "error":
		return TaskFailed
	case "cancelled", "canceled", "aborted":
		return TaskCancelled
	default:
		return TaskProcessing
	}
}

// TaskParams describes a crawl request submitted to the worker.
type TaskParams struct {
	AppRef  string `json:"app_ref"`
	Keyword string `json:"keyword,omitempty"`
	Country string `json:"country"`
	Limit   int    `json:"limit"`
}

// Validate enforces the minimal worker contract.
func (p TaskParams) Validate() error {
	if p.AppRef == "" && p.Keyword == "" {
		return fmt.Errorf("task requires an app reference or keyword")
	}
	if p.Country == "" {
		return fmt.Errorf("task requires a country")
	}
	return nil
}

// Task is the orchestrator's read-through view of a worker-side task.
// Progress is 0-100 and non-decreasing while processing; result and error
// are populated exactly once, on a terminal status.
type Task struct {
	ID       string          `json:"id"`
	Params   TaskParams      `json:"params"`
	Status   TaskStatus      `json:"status"`
	Progress int             `json:"progress"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}
