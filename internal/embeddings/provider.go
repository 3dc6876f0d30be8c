package embeddings

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Provider turns entity text into vectors.
// Implementations should be concurrency-safe.
type Provider interface {
	// Name returns the provider name (e.g., "openai", "ollama").
	Name() string
	// Dimensions returns the embedding dimensionality this provider produces.
	Dimensions() int
	// Embed returns one embedding per input string.
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// Config selects and tunes a provider.
type Config struct {
	// Provider is "openai", "ollama", "eino" (any OpenAI compatible endpoint),
	// "hash", or empty for disabled.
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
	// Dimensions coerces every vector to this size when non-zero.
	Dimensions int
	// AdaptMode is "pad_or_truncate" (default), "truncate" or "pad".
	AdaptMode string
}

// New constructs the configured provider. An empty provider name returns a
// nil Provider and no error; callers treat that as remote embedding disabled.
func New(ctx context.Context, cfg Config) (Provider, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	var (
		p   Provider
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "none", "disabled":
		return nil, nil
	case "openai":
		p, err = newOpenAI(cfg)
	case "ollama":
		p, err = newOllama(cfg)
	case "eino", "openai-compatible", "localai", "llamacpp":
		p, err = newEino(ctx, cfg)
	case "hash", "mock":
		dims := cfg.Dimensions
		if dims <= 0 {
			dims = 768
		}
		p = NewHashProvider(dims)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return WrapToDims(p, cfg.Dimensions, cfg.AdaptMode), nil
}

func f64to32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i := range v {
		out[i] = float32(v[i])
	}
	return out
}
