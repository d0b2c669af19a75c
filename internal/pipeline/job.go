// Package pipeline defines the enrichment job model shared by the gate,
// scheduler, and stores.
package pipeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobType selects the handler a job is dispatched to.
type JobType string

// Supported job types.
const (
	TypeDiscover   JobType = "discover"
	TypeScoreBasic JobType = "score_basic"
	TypeEnrichFull JobType = "enrich_full"
)

// DefaultPriority returns the drain priority assigned when the caller does
// not supply one. Discovery drains first; full enrichment is the cheapest
// to defer.
func (t JobType) DefaultPriority() int {
	switch t {
	case TypeDiscover:
		return 10
	case TypeScoreBasic:
		return 5
	case TypeEnrichFull:
		return 1
	default:
		return 0
	}
}

// Valid reports whether t names a known job type.
func (t JobType) Valid() bool {
	switch t {
	case TypeDiscover, TypeScoreBasic, TypeEnrichFull:
		return true
	default:
		return false
	}
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

// Job lifecycle states.
const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transition may occur from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Active reports whether a job in state s still occupies its dedup key.
func (s JobStatus) Active() bool {
	return s == StatusPending || s == StatusProcessing
}

// transitions is the closed transition table. Anything absent is illegal.
var transitions = map[JobStatus][]JobStatus{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to, returning ErrInvalidTransition with
// context when the move is illegal.
func Transition(from, to JobStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Payload carries the type-specific job input. Keyword, category, and
// country participate in the dedup key.
type Payload struct {
	Keyword  string `json:"keyword"`
	Category string `json:"category,omitempty"`
	Country  string `json:"country"`
	AppRef   string `json:"app_ref,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// Validate enforces the required payload fields for enqueue.
func (p Payload) Validate() error {
	if p.Keyword == "" {
		return fmt.Errorf("%w: keyword is required", ErrInvalidPayload)
	}
	if p.Country == "" {
		return fmt.Errorf("%w: country is required", ErrInvalidPayload)
	}
	return nil
}

// Job is a single unit of pipeline work.
type Job struct {
	ID         string          `json:"id"`
	Type       JobType         `json:"type"`
	Payload    Payload         `json:"payload"`
	DedupKey   string          `json:"dedup_key"`
	Priority   int             `json:"priority"`
	Status     JobStatus       `json:"status"`
	Attempts   int             `json:"attempts"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Error      string          `json:"error,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// Summary is the compact job view returned by stats listings.
type Summary struct {
	ID        string    `json:"id"`
	Type      JobType   `json:"type"`
	Keyword   string    `json:"keyword"`
	Status    JobStatus `json:"status"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}

// Summarize projects a Job into its listing form.
func (j Job) Summarize() Summary {
	return Summary{
		ID:        j.ID,
		Type:      j.Type,
		Keyword:   j.Payload.Keyword,
		Status:    j.Status,
		Priority:  j.Priority,
		CreatedAt: j.CreatedAt,
	}
}

// Stats is the read-only aggregate exposed by the scheduler.
type Stats struct {
	Total      int               `json:"total"`
	ByStatus   map[JobStatus]int `json:"by_status"`
	ByType     map[JobType]int   `json:"by_type"`
	RecentJobs []Summary         `json:"recent_jobs"`
}
