package runtime

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mvidal/crewd/internal/ports"
	"github.com/mvidal/crewd/pkg/adapters/runtime/anthropic"
)

// Config holds runtime configuration.
type Config struct {
	Provider     string
	APIKey       string
	DefaultModel string
	Logger       *zap.Logger
}

// NewRuntime creates a session runtime based on provider.
func NewRuntime(cfg *Config) (ports.SessionRuntime, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewRuntime(cfg.APIKey, cfg.DefaultModel, cfg.Logger), nil
	default:
		return nil, fmt.Errorf("unsupported runtime provider: %s", cfg.Provider)
	}
}
