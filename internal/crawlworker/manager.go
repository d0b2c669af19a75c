package crawlworker

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Spawn outcome labels reported by EnsureRunning.
const (
	SpawnAlreadyRunning = "already_running"
	SpawnStarted        = "started"
	SpawnStarting       = "starting"
)

// ManagerConfig controls worker supervision.
type ManagerConfig struct {
	// BaseURL is the worker's fixed local endpoint, e.g. http://127.0.0.1:8091.
	BaseURL string
	// Command and Args launch the worker binary.
	Command string
	Args    []string
	// ProbeTimeout bounds the initial health probe.
	ProbeTimeout time.Duration
	// SettleWait is how long to wait after spawning before re-probing.
	SettleWait time.Duration
	// ConfirmTimeout bounds the post-spawn confirmation probe.
	ConfirmTimeout time.Duration
}

func (c *ManagerConfig) applyDefaults() {
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 2 * time.Second
	}
	if c.SettleWait <= 0 {
		c.SettleWait = 3 * time.Second
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 5 * time.Second
	}
}

// Manager ensures at most one crawl worker process is running on this host.
// The launch routine is mutex-guarded so two concurrent spawn requests
// cannot race past the health probe.
type Manager struct {
	cfg    ManagerConfig
	client *http.Client
	logger *zap.Logger

	mu sync.Mutex
}

// NewManager constructs a Manager.
func NewManager(cfg ManagerConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Manager{
		cfg:    cfg,
		client: &http.Client{},
		logger: logger,
	}
}

// Healthy probes the worker's health endpoint within timeout.
func (m *Manager) Healthy(ctx context.Context, timeout time.Duration) bool {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, m.cfg.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// EnsureRunning launches the worker unless one already answers its health
// probe. The returned label is one of already_running, started, or
// starting (spawned but not yet confirmed healthy; startup may still be
// in progress).
func (m *Manager) EnsureRunning(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Healthy(ctx, m.cfg.ProbeTimeout) {
		m.logger.Debug("crawl worker already running", zap.String("base_url", m.cfg.BaseURL))
		return SpawnAlreadyRunning, nil
	}

	if err := m.spawn(); err != nil {
		return "", err
	}

	select {
	case <-time.After(m.cfg.SettleWait):
	case <-ctx.Done():
		return SpawnStarting, nil
	}

	if m.Healthy(ctx, m.cfg.ConfirmTimeout) {
		m.logger.Info("crawl worker started", zap.String("base_url", m.cfg.BaseURL))
		return SpawnStarted, nil
	}
	// Startup may still be in progress; report optimistically.
	m.logger.Warn("crawl worker spawned but not yet healthy", zap.String("base_url", m.cfg.BaseURL))
	return SpawnStarting, nil
}

// spawn launches the worker as a detached child. The worker outlives this
// process; it is placed in its own session and its handle released.
func (m *Manager) spawn() error {
	if m.cfg.Command == "" {
		return fmt.Errorf("spawn crawl worker: no command configured")
	}
	if _, err := exec.LookPath(m.cfg.Command); err != nil {
		return fmt.Errorf("spawn crawl worker: %q not found in PATH (install it or set worker.command): %w",
			m.cfg.Command, err)
	}

	cmd := exec.Command(m.cfg.Command, m.cfg.Args...)
	cmd.Stdout = nil
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn crawl worker %q: %w", m.cfg.Command, err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		m.logger.Warn("release worker process handle failed", zap.Int("pid", pid), zap.Error(err))
	}
	m.logger.Info("spawned crawl worker process",
		zap.String("command", m.cfg.Command),
		zap.Int("pid", pid),
	)
	return nil
}
