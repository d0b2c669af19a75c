package crawlworker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jackmmaher/appscout/internal/pipeline"
)

// OrchestratorConfig controls worker communication.
type OrchestratorConfig struct {
	// BaseURL is the worker's fixed local endpoint.
	BaseURL string
	// RequestTimeout bounds individual HTTP calls to the worker.
	RequestTimeout time.Duration
	// PollInterval is the wait between status polls while a submitted task
	// is still running.
	PollInterval time.Duration
	// TaskCeiling bounds a whole SubmitTask round trip. The longest crawl
	// observed in production is ten minutes.
	TaskCeiling time.Duration
}

func (c *OrchestratorConfig) applyDefaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.TaskCeiling <= 0 {
		c.TaskCeiling = 10 * time.Minute
	}
}

// Orchestrator is the in-process facade over the crawl worker. It never
// mutates worker-side state; it submits requests and reads status.
type Orchestrator struct {
	cfg     OrchestratorConfig
	manager *Manager
	client  *http.Client
	cache   TaskCache
	logger  *zap.Logger
}

// NewOrchestrator constructs an Orchestrator. A nil cache falls back to the
// in-memory implementation.
func NewOrchestrator(cfg OrchestratorConfig, manager *Manager, cache TaskCache, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cache == nil {
		cache = NewMemoryTaskCache()
	}
	cfg.applyDefaults()
	return &Orchestrator{
		cfg:     cfg,
		manager: manager,
		client:  &http.Client{},
		cache:   cache,
		logger:  logger,
	}
}

// Available delegates to the worker's health probe.
func (o *Orchestrator) Available(ctx context.Context) bool {
	return o.manager.Healthy(ctx, o.cfg.RequestTimeout)
}

// SubmitTask issues a crawl request and blocks until the task reaches a
// terminal state or the ceiling expires. Review scraping is request/response
// in this system, not fire-and-forget. A worker-side failure and a ceiling
// timeout surface as distinct errors.
func (o *Orchestrator) SubmitTask(ctx context.Context, params TaskParams) (*Task, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrInvalidPayload, err)
	}

	taskID, err := o.submit(ctx, params)
	if err != nil {
		return nil, err
	}

	deadline := time.NewTimer(o.cfg.TaskCeiling)
	defer deadline.Stop()
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("submit task cancelled: %w", ctx.Err())
		case <-deadline.C:
			return nil, fmt.Errorf("%w: task %s exceeded %s", pipeline.ErrTaskTimeout, taskID, o.cfg.TaskCeiling)
		case <-ticker.C:
		}

		task, err := o.TaskStatus(ctx, taskID)
		if err != nil {
			if errors.Is(err, pipeline.ErrWorkerUnavailable) {
				// Transient; keep polling until the ceiling decides.
				continue
			}
			return nil, err
		}
		if !task.Status.Terminal() {
			continue
		}
		if task.Status == TaskCompleted {
			return task, nil
		}
		return nil, fmt.Errorf("crawl task %s ended %s: %s", taskID, task.Status, task.Error)
	}
}

// TaskStatus returns the current normalized snapshot for a tracked task.
// When the worker is unreachable the last cached snapshot is served if one
// exists.
func (o *Orchestrator) TaskStatus(ctx context.Context, id string) (*Task, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, o.cfg.BaseURL+"/tasks/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("build task status request: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		if cached, ok := o.cache.Get(ctx, id); ok {
			o.logger.Debug("serving cached task snapshot", zap.String("task_id", id))
			return &cached, nil
		}
		return nil, fmt.Errorf("%w: %s", pipeline.ErrWorkerUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, pipeline.ErrNotFound
	default:
		return nil, fmt.Errorf("%w: worker returned %d", pipeline.ErrWorkerUnavailable, resp.StatusCode)
	}

	task, err := decodeTask(resp.Body)
	if err != nil {
		return nil, err
	}
	o.cache.Set(ctx, *task)
	return task, nil
}

// CancelTask asks the worker to abandon a task. Terminal tasks are a no-op
// on the worker side.
func (o *Orchestrator) CancelTask(ctx context.Context, id string) error {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, o.cfg.BaseURL+"/tasks/"+id+"/cancel", nil)
	if err != nil {
		return fmt.Errorf("build cancel request: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", pipeline.ErrWorkerUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted:
		return nil
	case http.StatusNotFound:
		return pipeline.ErrNotFound
	default:
		return fmt.Errorf("cancel task: worker returned %d", resp.StatusCode)
	}
}

func (o *Orchestrator) submit(ctx context.Context, params TaskParams) (string, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("marshal task params: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, o.cfg.BaseURL+"/tasks", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s", pipeline.ErrWorkerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("%w: submit returned %d", pipeline.ErrWorkerUnavailable, resp.StatusCode)
	}

	var submitted struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if submitted.ID == "" {
		return "", fmt.Errorf("worker returned empty task id")
	}
	o.logger.Debug("submitted crawl task", zap.String("task_id", submitted.ID))
	return submitted.ID, nil
}

func decodeTask(r io.Reader) (*Task, error) {
	var wire struct {
		ID       string          `json:"id"`
		Params   TaskParams      `json:"params"`
		Status   string          `json:"status"`
		Progress int             `json:"progress"`
		Result   json.RawMessage `json:"result,omitempty"`
		Error    string          `json:"error,omitempty"`
	}
	if err := json.NewDecoder(r).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &Task{
		ID:       wire.ID,
		Params:   wire.Params,
		Status:   NormalizeStatus(wire.Status),
		Progress: wire.Progress,
		Result:   wire.Result,
		Error:    wire.Error,
	}, nil
}
