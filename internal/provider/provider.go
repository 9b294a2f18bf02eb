package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/semidx/semidx/internal/config"
)

// Provider turns text into fixed-dimension vectors. EmbedBatch preserves
// input order and returns exactly one vector per text, or fails.
type Provider interface {
	Name() string
	Model() string
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Factory func(cfg config.ProviderConfig) (Provider, error)

var registry = map[string]Factory{}

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

// New constructs the configured provider. Providers are built explicitly at
// startup, not lazily on first use.
func New(cfg config.ProviderConfig) (Provider, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("provider.type is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Type)
	}
	return factory(cfg)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("provider config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode provider config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode provider config: %w", err)
	}
	return nil
}
