package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jackmmaher/appscout/internal/pipeline"
	"github.com/jackmmaher/appscout/internal/storage/memory"
)

type fakeIDGen struct {
	next int
}

func (g *fakeIDGen) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("job-%d", g.next), nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newTestGate() (*Gate, *memory.JobStore) {
	store := memory.NewJobStore()
	gate := NewGate(store, &fakeIDGen{}, &fakeClock{now: time.Unix(1000, 0).UTC()}, nil, nil)
	return gate, store
}

func TestEnqueueIsIdempotentWhileActive(t *testing.T) {
	t.Parallel()

	gate, store := newTestGate()
	ctx := context.Background()
	payload := pipeline.Payload{Keyword: "meal planner", Country: "us"}

	id1, created, err := gate.Enqueue(ctx, pipeline.TypeDiscover, payload, 0)
	require.NoError(t, err)
	require.True(t, created)

	id2, created, err := gate.Enqueue(ctx, pipeline.TypeDiscover, payload, 0)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, id1, id2)

	// Still deduped once the job is processing.
	require.NoError(t, store.UpdateStatus(ctx, id1, pipeline.StatusProcessing, nil, ""))
	id3, created, err := gate.Enqueue(ctx, pipeline.TypeDiscover, payload, 0)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, id1, id3)
}

func TestEnqueueAfterTerminalCreatesNewJob(t *testing.T) {
	t.Parallel()

	gate, store := newTestGate()
	ctx := context.Background()
	payload := pipeline.Payload{Keyword: "meal planner", Country: "us"}

	id1, _, err := gate.Enqueue(ctx, pipeline.TypeDiscover, payload, 0)
	require.NoError(t, err)
	require.NoError(t, store.UpdateStatus(ctx, id1, pipeline.StatusProcessing, nil, ""))
	require.NoError(t, store.UpdateStatus(ctx, id1, pipeline.StatusCompleted, nil, ""))

	id2, created, err := gate.Enqueue(ctx, pipeline.TypeDiscover, payload, 0)
	require.NoError(t, err)
	require.True(t, created, "terminal jobs do not suppress future enqueues")
	require.NotEqual(t, id1, id2)
}

func TestEnqueueDoesNotUpgradePriority(t *testing.T) {
	t.Parallel()

	gate, store := newTestGate()
	ctx := context.Background()
	payload := pipeline.Payload{Keyword: "meal planner", Country: "us"}

	id, _, err := gate.Enqueue(ctx, pipeline.TypeEnrichFull, payload, 1)
	require.NoError(t, err)

	_, _, err = gate.Enqueue(ctx, pipeline.TypeEnrichFull, payload, 99)
	require.NoError(t, err)

	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 1, job.Priority, "duplicate enqueue must not bump priority")
}

func TestEnqueueDefaultsPriorityByType(t *testing.T) {
	t.Parallel()

	gate, store := newTestGate()
	ctx := context.Background()

	id, _, err := gate.Enqueue(ctx, pipeline.TypeDiscover, pipeline.Payload{Keyword: "a", Country: "us"}, 0)
	require.NoError(t, err)
	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 10, job.Priority)
}

func TestEnqueueValidation(t *testing.T) {
	t.Parallel()

	gate, _ := newTestGate()
	ctx := context.Background()

	_, _, err := gate.Enqueue(ctx, pipeline.JobType("bogus"), pipeline.Payload{Keyword: "a", Country: "us"}, 0)
	require.ErrorIs(t, err, pipeline.ErrInvalidPayload)

	_, _, err = gate.Enqueue(ctx, pipeline.TypeDiscover, pipeline.Payload{Country: "us"}, 0)
	require.ErrorIs(t, err, pipeline.ErrInvalidPayload)
}

func TestEnqueueBatch(t *testing.T) {
	t.Parallel()

	gate, _ := newTestGate()
	ctx := context.Background()

	payloads := []pipeline.Payload{
		{Keyword: "meal planner"},
		{Keyword: "meal planner"}, // duplicate of the first
		{Keyword: "budget app"},
		{}, // missing keyword
	}
	result, err := gate.EnqueueBatch(ctx, pipeline.TypeDiscover, 0, "us", payloads)
	require.NoError(t, err)
	require.Equal(t, BatchResult{Requested: 4, Queued: 2, Deduped: 1, Rejected: 1}, result)
}
