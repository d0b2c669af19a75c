package pipeline

import "errors"

// Sentinel errors surfaced across package boundaries. The HTTP layer maps
// these onto status codes; everything else wraps them with context.
var (
	// ErrNotFound indicates an unknown job or task id.
	ErrNotFound = errors.New("not found")

	// ErrInvalidPayload indicates a missing or malformed payload field.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrInvalidTransition indicates an illegal lifecycle move.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrWorkerUnavailable indicates the crawl worker could not be reached.
	ErrWorkerUnavailable = errors.New("crawl worker unavailable")

	// ErrTaskTimeout indicates a crawl task exceeded its caller-supplied
	// ceiling. Kept distinct from worker-side failures.
	ErrTaskTimeout = errors.New("crawl task timed out")
)
