package crawld

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jackmmaher/appscout/internal/crawlworker"
)

func addTask(r *Registry, id string) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	r.Add(id, crawlworker.TaskParams{Keyword: "meal planner", Country: "us", Limit: 10}, cancel)
	return ctx
}

func TestRegistryLifecycle(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	addTask(r, "t1")

	task, ok := r.Get("t1")
	require.True(t, ok)
	require.Equal(t, crawlworker.TaskPending, task.Status)

	r.SetProcessing("t1")
	r.ReportProgress("t1", 40)
	task, _ = r.Get("t1")
	require.Equal(t, crawlworker.TaskProcessing, task.Status)
	require.Equal(t, 40, task.Progress)

	r.Complete("t1", json.RawMessage(`{"count":3}`))
	task, _ = r.Get("t1")
	require.Equal(t, crawlworker.TaskCompleted, task.Status)
	require.Equal(t, 100, task.Progress)
	require.JSONEq(t, `{"count":3}`, string(task.Result))
}

func TestRegistryProgressNeverDecreases(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	addTask(r, "t1")
	r.SetProcessing("t1")

	r.ReportProgress("t1", 60)
	r.ReportProgress("t1", 30)
	task, _ := r.Get("t1")
	require.Equal(t, 60, task.Progress)

	r.ReportProgress("t1", 250)
	task, _ = r.Get("t1")
	require.Equal(t, 100, task.Progress)
}

func TestRegistryTerminalStatesAreSticky(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	addTask(r, "t1")
	r.SetProcessing("t1")
	r.Fail("t1", "store page blocked")

	r.Complete("t1", json.RawMessage(`{}`))
	r.ReportProgress("t1", 90)
	r.SetProcessing("t1")

	task, _ := r.Get("t1")
	require.Equal(t, crawlworker.TaskFailed, task.Status)
	require.Equal(t, "store page blocked", task.Error)
}

func TestRegistryCancelFiresContext(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	ctx := addTask(r, "t1")
	r.SetProcessing("t1")

	require.True(t, r.Cancel("t1"))
	select {
	case <-ctx.Done():
	default:
		t.Fatal("cancel must fire the task context")
	}

	task, _ := r.Get("t1")
	require.Equal(t, crawlworker.TaskCancelled, task.Status)

	// Cancelling again is a no-op, not an error.
	require.True(t, r.Cancel("t1"))
	require.False(t, r.Cancel("missing"))

	// The crawl goroutine's late failure report must not clobber the state.
	r.Fail("t1", "context canceled")
	task, _ = r.Get("t1")
	require.Equal(t, crawlworker.TaskCancelled, task.Status)
}
