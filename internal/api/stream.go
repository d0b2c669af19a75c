package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jackmmaher/appscout/internal/crawlworker"
	"github.com/jackmmaher/appscout/internal/pipeline"
	"github.com/jackmmaher/appscout/internal/telemetry"
)

// Stream event names on the wire.
const (
	eventProgress = "progress"
	eventComplete = "complete"
	eventError    = "error"
)

type progressPayload struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

type completePayload struct {
	TaskID   string          `json:"task_id"`
	Status   string          `json:"status"`
	Progress int             `json:"progress"`
	Result   json.RawMessage `json:"result,omitempty"`
}

type errorPayload struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

// streamTask serves the task's lifecycle as server-sent events. Each
// connection runs its own poll loop against the worker; a progress event is
// sent only when the snapshot changes, and exactly one terminal event ends
// the stream. The poll cap bounds how long an abandoned task can hold a
// connection.
func (s *Server) streamTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	telemetry.StreamOpened()
	defer telemetry.StreamClosed()

	ctx := r.Context()
	lastProgress := -1

	for poll := 0; poll < s.cfg.StreamMaxPolls; poll++ {
		// First poll is immediate so terminal tasks answer without delay.
		if poll > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.StreamPollInterval):
			}
		}

		task, err := s.tasks.TaskStatus(ctx, taskID)
		if err != nil {
			if errors.Is(err, pipeline.ErrWorkerUnavailable) {
				// Transient; the poll cap bounds how long we wait it out.
				continue
			}
			if errors.Is(err, pipeline.ErrNotFound) {
				sendEvent(w, flusher, eventError, errorPayload{TaskID: taskID, Error: "task not found"})
				return
			}
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("stream poll failed", zap.String("task_id", taskID), zap.Error(err))
			sendEvent(w, flusher, eventError, errorPayload{TaskID: taskID, Error: "task status unavailable"})
			return
		}

		if task.Status.Terminal() {
			if task.Status == crawlworker.TaskCompleted {
				sendEvent(w, flusher, eventComplete, completePayload{
					TaskID:   taskID,
					Status:   string(task.Status),
					Progress: task.Progress,
					Result:   task.Result,
				})
			} else {
				errText := task.Error
				if errText == "" {
					errText = "task " + string(task.Status)
				}
				sendEvent(w, flusher, eventError, errorPayload{TaskID: taskID, Error: errText})
			}
			return
		}

		// Only a numeric progress change is worth an event; a bare
		// pending-to-processing flip at the same percentage is not.
		if task.Progress != lastProgress {
			sendEvent(w, flusher, eventProgress, progressPayload{
				TaskID:   taskID,
				Status:   string(task.Status),
				Progress: task.Progress,
			})
			lastProgress = task.Progress
		}
	}

	sendEvent(w, flusher, eventError, errorPayload{TaskID: taskID, Error: "stream timed out waiting for task"})
}

func sendEvent(w http.ResponseWriter, flusher http.Flusher, name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	flusher.Flush()
}
