// Package api exposes the HTTP interface for the enrichment pipeline.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jackmmaher/appscout/internal/crawlworker"
	"github.com/jackmmaher/appscout/internal/pipeline"
	"github.com/jackmmaher/appscout/internal/scheduler"
	"github.com/jackmmaher/appscout/internal/telemetry"
)

// Config carries the HTTP-facing knobs.
type Config struct {
	AuthEnabled bool
	APIKey      string
	// DrainSecret authorizes the drain trigger on its own, so the cron
	// caller does not hold the full API key.
	DrainSecret        string
	MaxBatch           int
	StreamPollInterval time.Duration
	StreamMaxPolls     int
}

func (c *Config) applyDefaults() {
	if c.MaxBatch <= 0 || c.MaxBatch > scheduler.MaxBatch {
		c.MaxBatch = scheduler.MaxBatch
	}
	if c.StreamPollInterval <= 0 {
		c.StreamPollInterval = time.Second
	}
	if c.StreamMaxPolls <= 0 {
		c.StreamMaxPolls = 300
	}
}

// WorkerSupervisor is the slice of the process manager the API consumes.
type WorkerSupervisor interface {
	Healthy(ctx context.Context, timeout time.Duration) bool
	EnsureRunning(ctx context.Context) (string, error)
}

// TaskReader serves task snapshots for the progress stream.
type TaskReader interface {
	TaskStatus(ctx context.Context, id string) (*crawlworker.Task, error)
}

// Server wires HTTP handlers to the gate, scheduler, and worker facade.
type Server struct {
	router chi.Router
	gate   *scheduler.Gate
	sched  *scheduler.Scheduler
	store  pipeline.JobStore
	worker WorkerSupervisor
	tasks  TaskReader
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	gate *scheduler.Gate,
	sched *scheduler.Scheduler,
	store pipeline.JobStore,
	worker WorkerSupervisor,
	tasks TaskReader,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	s := &Server{
		gate:   gate,
		sched:  sched,
		store:  store,
		worker: worker,
		tasks:  tasks,
		cfg:    cfg,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(telemetry.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		// The stream holds its connection open for minutes; everything else
		// gets the standard request timeout.
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(60 * time.Second))
			if cfg.AuthEnabled {
				r.Use(apiKeyMiddleware(cfg.APIKey))
			}

			r.Route("/jobs", func(r chi.Router) {
				r.Post("/", s.submitJob)
				r.Post("/batch", s.submitBatch)
				r.Route("/{job_id}", func(r chi.Router) {
					r.Get("/", s.getJob)
					r.Post("/cancel", s.cancelJob)
				})
			})
			r.Get("/pipeline/stats", s.pipelineStats)
			r.Get("/worker/health", s.workerHealth)
			r.With(privateCallerOnly).Post("/worker/ensure", s.ensureWorker)
		})

		// Drain accepts its dedicated secret so it sits outside the API key
		// middleware.
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(60 * time.Second))
			r.Use(s.drainAuthMiddleware)
			r.Post("/pipeline/drain", s.drainPipeline)
		})

		r.Group(func(r chi.Router) {
			if cfg.AuthEnabled {
				r.Use(apiKeyMiddleware(cfg.APIKey))
			}
			r.Get("/tasks/{task_id}/stream", s.streamTask)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.sched.Stats(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "job store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitJobRequest struct {
	Type     string           `json:"type"`
	Priority int              `json:"priority"`
	Payload  pipeline.Payload `json:"payload"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	id, created, err := s.gate.Enqueue(r.Context(), pipeline.JobType(req.Type), req.Payload, req.Priority)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	status := http.StatusAccepted
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{"job_id": id, "created": created})
}

type submitBatchRequest struct {
	Type     string             `json:"type"`
	Priority int                `json:"priority"`
	Country  string             `json:"country"`
	Payloads []pipeline.Payload `json:"payloads"`
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req submitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Payloads) == 0 {
		writeError(w, http.StatusBadRequest, "payloads required")
		return
	}
	jobType := pipeline.JobType(req.Type)
	if !jobType.Valid() {
		writeError(w, http.StatusBadRequest, "unknown job type")
		return
	}
	result, err := s.gate.EnqueueBatch(r.Context(), jobType, req.Priority, req.Country, req.Payloads)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.sched.Cancel(r.Context(), jobID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"job_id": jobID,
		"status": string(pipeline.StatusCancelled),
	})
}

type drainRequest struct {
	MaxJobs  int      `json:"max_jobs"`
	JobTypes []string `json:"job_types"`
}

type drainResponse struct {
	JobsProcessed int            `json:"jobs_processed"`
	DurationMS    int64          `json:"duration_ms"`
	Stats         pipeline.Stats `json:"stats"`
}

func (s *Server) drainPipeline(w http.ResponseWriter, r *http.Request) {
	var req drainRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	maxJobs := req.MaxJobs
	if maxJobs <= 0 || maxJobs > s.cfg.MaxBatch {
		maxJobs = s.cfg.MaxBatch
	}
	types := make([]pipeline.JobType, 0, len(req.JobTypes))
	for _, t := range req.JobTypes {
		jobType := pipeline.JobType(t)
		if !jobType.Valid() {
			writeError(w, http.StatusBadRequest, "unknown job type "+t)
			return
		}
		types = append(types, jobType)
	}

	start := time.Now()
	processed, err := s.sched.Drain(r.Context(), maxJobs, types)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	stats, err := s.sched.Stats(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, drainResponse{
		JobsProcessed: processed,
		DurationMS:    time.Since(start).Milliseconds(),
		Stats:         stats,
	})
}

func (s *Server) pipelineStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.sched.Stats(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) workerHealth(w http.ResponseWriter, r *http.Request) {
	healthy := s.worker.Healthy(r.Context(), 2*time.Second)
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]bool{"healthy": healthy})
}

func (s *Server) ensureWorker(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.worker.EnsureRunning(r.Context())
	if err != nil {
		telemetry.ObserveWorkerSpawn("error")
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	telemetry.ObserveWorkerSpawn(outcome)
	writeJSON(w, http.StatusOK, map[string]string{"status": outcome})
}

// writeDomainError maps pipeline sentinels onto HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pipeline.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, pipeline.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrWorkerUnavailable):
		writeError(w, http.StatusServiceUnavailable, "crawl worker unavailable")
	case errors.Is(err, pipeline.ErrTaskTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// --- middleware ---

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// drainAuthMiddleware admits the dedicated drain secret as a bearer token,
// or the regular API key. With auth disabled and no secret configured the
// trigger is open, which only makes sense in development.
func (s *Server) drainAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.DrainSecret != "" {
			bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if bearer == s.cfg.DrainSecret {
				next.ServeHTTP(w, r)
				return
			}
		}
		if s.cfg.AuthEnabled {
			apiKeyMiddleware(s.cfg.APIKey)(next).ServeHTTP(w, r)
			return
		}
		if s.cfg.DrainSecret != "" {
			writeError(w, http.StatusForbidden, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// privateCallerOnly restricts an endpoint to loopback and private-network
// callers. Spawning processes is not exposed to the public internet.
func privateCallerOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil || !(ip.IsLoopback() || ip.IsPrivate()) {
			writeError(w, http.StatusForbidden, "spawn restricted to internal callers")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
