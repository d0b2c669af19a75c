package crawld

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/jackmmaher/appscout/internal/crawlworker"
	"github.com/jackmmaher/appscout/internal/pipeline"
)

// Server is the worker daemon's HTTP surface.
type Server struct {
	registry *Registry
	client   StoreClient
	idGen    pipeline.IDGenerator
	logger   *zap.Logger
}

// NewServer constructs the worker server.
func NewServer(registry *Registry, client StoreClient, idGen pipeline.IDGenerator, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		registry: registry,
		client:   client,
		idGen:    idGen,
		logger:   logger,
	}
}

// Router assembles the worker's routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/tasks", s.handleSubmit)
	r.Get("/tasks/{id}", s.handleStatus)
	r.Post("/tasks/{id}/cancel", s.handleCancel)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var params crawlworker.TaskParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed task body"})
		return
	}
	if err := params.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	id, err := s.idGen.NewID()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "task id generation failed"})
		return
	}

	// The task outlives the submit request.
	taskCtx, cancel := context.WithCancel(context.Background())
	s.registry.Add(id, params, cancel)
	go s.runTask(taskCtx, id, params)

	s.logger.Info("task accepted",
		zap.String("task_id", id),
		zap.String("app_ref", params.AppRef),
		zap.String("keyword", params.Keyword))
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	task, ok := s.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown task"})
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.registry.Cancel(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown task"})
		return
	}
	s.logger.Info("task cancelled", zap.String("task_id", id))
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

// runTask executes the crawl and records the outcome. Review crawls are
// selected by the presence of an app reference.
func (s *Server) runTask(ctx context.Context, id string, params crawlworker.TaskParams) {
	start := time.Now()
	s.registry.SetProcessing(id)
	report := func(progress int) {
		s.registry.ReportProgress(id, progress)
	}

	var (
		result json.RawMessage
		err    error
	)
	if params.AppRef != "" {
		result, err = s.client.Reviews(ctx, params, report)
	} else {
		result, err = s.client.Search(ctx, params, report)
	}

	if err != nil {
		// Cancellation already moved the task to its terminal state; Fail is
		// a no-op then.
		s.registry.Fail(id, err.Error())
		s.logger.Warn("task failed",
			zap.String("task_id", id),
			zap.Duration("dur", time.Since(start)),
			zap.Error(err))
		return
	}
	s.registry.Complete(id, result)
	s.logger.Info("task completed",
		zap.String("task_id", id),
		zap.Duration("dur", time.Since(start)))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
