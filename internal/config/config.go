package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/mvidal/crewd/internal/domain"
)

// Config holds all configuration for crewd.
type Config struct {
	// Server configuration
	HTTPPort int    `env:"CREWD_HTTP_PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Redis configuration
	Redis RedisConfig

	// Worker pool configuration
	Pool PoolConfig

	// Trace hub configuration
	Trace TraceConfig

	// Approval gate defaults per transition
	Approvals ApprovalConfig

	// Role to template mapping for spawn-on-demand assignment
	Roles RoleConfig

	// Agent runtime configuration
	Runtime RuntimeConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	MaxWorkers         int   `env:"MAX_WORKERS" envDefault:"10"`
	ContextWindowLimit int64 `env:"CONTEXT_WINDOW_LIMIT" envDefault:"200000"`
}

// TraceConfig holds trace hub configuration.
type TraceConfig struct {
	RetentionLimit int `env:"TRACE_RETENTION_LIMIT" envDefault:"1000"`

	// SubscriberBuffer is the per-subscriber channel depth at the
	// transport edge before events are dropped.
	SubscriberBuffer int `env:"TRACE_SUBSCRIBER_BUFFER" envDefault:"64"`
}

// ApprovalConfig holds the process-wide approval-gate defaults. Work items
// may override individual entries.
type ApprovalConfig struct {
	BacklogToReady     bool `env:"APPROVAL_BACKLOG_TO_READY" envDefault:"true"`
	ReadyToInProgress  bool `env:"APPROVAL_READY_TO_IN_PROGRESS" envDefault:"false"`
	InProgressToReview bool `env:"APPROVAL_IN_PROGRESS_TO_REVIEW" envDefault:"false"`
	ReviewToDone       bool `env:"APPROVAL_REVIEW_TO_DONE" envDefault:"true"`
	ReviewToInProgress bool `env:"APPROVAL_REVIEW_TO_IN_PROGRESS" envDefault:"true"`
}

// Defaults returns the approval map keyed by transition name.
func (a ApprovalConfig) Defaults() map[domain.Transition]bool {
	return map[domain.Transition]bool{
		domain.TransitionBacklogToReady:     a.BacklogToReady,
		domain.TransitionReadyToInProgress:  a.ReadyToInProgress,
		domain.TransitionInProgressToReview: a.InProgressToReview,
		domain.TransitionReviewToDone:       a.ReviewToDone,
		domain.TransitionReviewToInProgress: a.ReviewToInProgress,
	}
}

// RoleConfig maps each worker role to the template used when the assigner
// spawns a worker on demand.
type RoleConfig struct {
	RefinerTemplate     string `env:"ROLE_TEMPLATE_REFINER"`
	ImplementerTemplate string `env:"ROLE_TEMPLATE_IMPLEMENTER"`
	TesterTemplate      string `env:"ROLE_TEMPLATE_TESTER"`
	ReviewerTemplate    string `env:"ROLE_TEMPLATE_REVIEWER"`
}

// Templates returns the role to template-id map.
func (r RoleConfig) Templates() map[domain.Role]string {
	return map[domain.Role]string{
		domain.RoleRefiner:     r.RefinerTemplate,
		domain.RoleImplementer: r.ImplementerTemplate,
		domain.RoleTester:      r.TesterTemplate,
		domain.RoleReviewer:    r.ReviewerTemplate,
	}
}

// RuntimeConfig holds agent runtime (LLM provider) configuration.
type RuntimeConfig struct {
	Provider string `env:"RUNTIME_PROVIDER" envDefault:"anthropic"`
	APIKey   string `env:"RUNTIME_API_KEY"`

	DefaultModel   string        `env:"RUNTIME_DEFAULT_MODEL" envDefault:"claude-sonnet-4-20250514"`
	RequestTimeout time.Duration `env:"RUNTIME_REQUEST_TIMEOUT" envDefault:"120s"`
}

// TimeoutConfig holds service-level timeout configuration.
type TimeoutConfig struct {
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}

	if c.Pool.MaxWorkers < 1 {
		return fmt.Errorf("max workers must be at least 1")
	}
	if c.Pool.ContextWindowLimit < 1 {
		return fmt.Errorf("context window limit must be positive")
	}

	if c.Trace.RetentionLimit < 1 {
		return fmt.Errorf("trace retention limit must be positive")
	}

	if c.Runtime.Provider != "anthropic" {
		return fmt.Errorf("unsupported runtime provider: %s (only 'anthropic' is supported)", c.Runtime.Provider)
	}
	if c.Runtime.APIKey == "" {
		return fmt.Errorf("runtime API key is required")
	}

	// Every role must resolve to a template so assignment never fails on
	// an unmapped role at runtime.
	for role, tplID := range c.Roles.Templates() {
		if tplID == "" {
			return fmt.Errorf("no template configured for role %q", role)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address.
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
