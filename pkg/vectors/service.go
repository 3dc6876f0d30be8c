// Package vectors is the library-first entry point: the resilient campaign
// vector service without the MCP transport.
package vectors

import (
	"context"

	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/app"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apptype"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/vectorservice"
)

type (
	EmbeddingRecord  = apptype.EmbeddingRecord
	SearchResult     = apptype.SearchResult
	SearchOptions    = apptype.SearchOptions
	EmbeddingOptions = apptype.EmbeddingOptions
	Level            = vectorservice.Level
	Status           = vectorservice.Status
	Event            = vectorservice.Event
)

// Service levels.
const (
	LevelFull      = vectorservice.LevelFull
	LevelDegraded  = vectorservice.LevelDegraded
	LevelEmergency = vectorservice.LevelEmergency
	LevelOffline   = vectorservice.LevelOffline
)

// ErrServiceUnavailable is wrapped by errors raised while the remote vector
// service cannot be used.
var ErrServiceUnavailable = vectorservice.ErrServiceUnavailable

// Service provides a library-first API for vector operations without MCP transport.
type Service struct {
	app *app.App
}

// NewService constructs and starts a Service with the provided config.
func NewService(cfg *Config) (*Service, error) {
	return NewServiceWithLogger(context.Background(), cfg, nil)
}

// NewServiceWithLogger is NewService with a caller-owned logger.
func NewServiceWithLogger(ctx context.Context, cfg *Config, logger *zap.Logger) (*Service, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	ic := cfg.toInternal()
	if err := ic.Validate(); err != nil {
		return nil, err
	}
	a, err := app.Build(ctx, ic, logger)
	if err != nil {
		return nil, err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return &Service{app: a}, nil
}

// Close releases resources.
func (s *Service) Close() error { return s.app.Close() }

// GenerateEmbedding embeds text, serving cached embeddings when the provider
// is unreachable.
func (s *Service) GenerateEmbedding(ctx context.Context, text string, opts EmbeddingOptions) ([]float32, error) {
	return s.app.Service.GenerateEmbedding(ctx, text, opts)
}

// SearchText finds entities similar to text.
func (s *Service) SearchText(ctx context.Context, text string, opts SearchOptions) ([]SearchResult, error) {
	return s.app.Service.FindSimilar(ctx, apptype.Query{Text: text}, opts)
}

// SearchVector finds entities similar to vector.
func (s *Service) SearchVector(ctx context.Context, vector []float32, opts SearchOptions) ([]SearchResult, error) {
	return s.app.Service.FindSimilar(ctx, apptype.Query{Vector: vector}, opts)
}

// StoreEmbedding stores rec and returns its entity id.
func (s *Service) StoreEmbedding(ctx context.Context, rec EmbeddingRecord) (string, error) {
	return s.app.Service.StoreEmbedding(ctx, rec)
}

func (s *Service) RemoveEmbedding(ctx context.Context, entityID string) error {
	return s.app.Service.RemoveEmbedding(ctx, entityID)
}

// Level reports the current service level.
func (s *Service) Level() Level { return s.app.Service.Level() }

// Status reports every component's state.
func (s *Service) Status() Status { return s.app.Service.Status() }

// Subscribe delivers service events to fn until the returned func is called.
func (s *Service) Subscribe(fn func(Event)) (unsubscribe func()) {
	return s.app.Service.Subscribe(fn)
}

// Breaker overrides
func (s *Service) ResetBreaker()            { s.app.Service.ResetBreaker() }
func (s *Service) TripBreaker(reason string) { s.app.Service.TripBreaker(reason) }

func (s *Service) IsFeatureEnabled(id string) bool { return s.app.Service.IsFeatureEnabled(id) }
