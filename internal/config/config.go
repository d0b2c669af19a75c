// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Stream       StreamConfig       `mapstructure:"stream"`
	DB           DBConfig           `mapstructure:"db"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles. DrainSecret separately
// protects the drain trigger so cron callers do not need the full API key.
type AuthConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	APIKey      string `mapstructure:"api_key"`
	DrainSecret string `mapstructure:"drain_secret"`
}

// PipelineConfig governs the job pipeline.
type PipelineConfig struct {
	MaxBatch   int `mapstructure:"max_batch"`
	RecentJobs int `mapstructure:"recent_jobs"`
}

// WorkerConfig describes the crawl worker process: where it listens and
// how it gets spawned.
type WorkerConfig struct {
	Port              int      `mapstructure:"port"`
	Command           string   `mapstructure:"command"`
	Args              []string `mapstructure:"args"`
	ProbeTimeoutSec   int      `mapstructure:"probe_timeout_seconds"`
	SettleWaitSec     int      `mapstructure:"settle_wait_seconds"`
	ConfirmTimeoutSec int      `mapstructure:"confirm_timeout_seconds"`
}

// BaseURL is the worker's fixed loopback endpoint.
func (w WorkerConfig) BaseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", w.Port)
}

// OrchestratorConfig bounds worker communication.
type OrchestratorConfig struct {
	RequestTimeoutSec int `mapstructure:"request_timeout_seconds"`
	PollIntervalSec   int `mapstructure:"poll_interval_seconds"`
	TaskCeilingMin    int `mapstructure:"task_ceiling_minutes"`
}

// StreamConfig bounds the task progress stream.
type StreamConfig struct {
	PollIntervalSec int `mapstructure:"poll_interval_seconds"`
	MaxPolls        int `mapstructure:"max_polls"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory store.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig enables the shared task cache. An empty addr selects the
// in-memory cache.
type RedisConfig struct {
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	TaskTTLMin int    `mapstructure:"task_ttl_minutes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("APPSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("pipeline.max_batch", 50)
	v.SetDefault("pipeline.recent_jobs", 20)
	v.SetDefault("worker.port", 8181)
	v.SetDefault("worker.command", "appscout")
	v.SetDefault("worker.args", []string{"worker"})
	v.SetDefault("worker.probe_timeout_seconds", 2)
	v.SetDefault("worker.settle_wait_seconds", 3)
	v.SetDefault("worker.confirm_timeout_seconds", 5)
	v.SetDefault("orchestrator.request_timeout_seconds", 10)
	v.SetDefault("orchestrator.poll_interval_seconds", 1)
	v.SetDefault("orchestrator.task_ceiling_minutes", 10)
	v.SetDefault("stream.poll_interval_seconds", 1)
	v.SetDefault("stream.max_polls", 300)
	v.SetDefault("redis.task_ttl_minutes", 60)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Worker.Port <= 0 {
		return fmt.Errorf("worker.port must be > 0")
	}
	if c.Worker.Command == "" {
		return fmt.Errorf("worker.command must be set")
	}
	if c.Pipeline.MaxBatch <= 0 || c.Pipeline.MaxBatch > 50 {
		return fmt.Errorf("pipeline.max_batch must be in 1..50")
	}
	if c.Stream.MaxPolls <= 0 {
		return fmt.Errorf("stream.max_polls must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// RequestTimeout converts the orchestrator request bound into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Orchestrator.RequestTimeoutSec) * time.Second
}

// TaskCeiling converts the crawl task ceiling into a duration.
func (c Config) TaskCeiling() time.Duration {
	return time.Duration(c.Orchestrator.TaskCeilingMin) * time.Minute
}
