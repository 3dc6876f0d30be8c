// Package vectorservice is the resilient facade over the remote vector
// service. It wires the breaker, retry strategy, caches, local vector
// processor, fallback chain and degraded mode manager together and routes
// every call by the current service level.
package vectorservice

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apptype"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/breaker"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/cache"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/degraded"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/fallback"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/localvector"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/metrics"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/remote"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/retry"
)

var (
	// ErrServiceUnavailable is returned when the current level does not allow
	// a remote call and nothing cached can answer.
	ErrServiceUnavailable = errors.New("vector service unavailable")
	// ErrEmptyQuery is returned for a query with neither text nor vector.
	ErrEmptyQuery = errors.New("empty query")
)

// Warmer lists stored embeddings used to seed the local processor.
type Warmer interface {
	ListEmbeddings(ctx context.Context, campaignID string, types []string, limit int) ([]apptype.EmbeddingRecord, error)
}

// Deps are the service's collaborators. Remote is required. A nil store
// gives that cache a second in-memory tier in place of a persistent one.
type Deps struct {
	Remote         remote.Service
	EmbeddingStore cache.KVStore
	SearchStore    cache.KVStore
	Keyword        KeywordSearcher
	Warmer         Warmer
}

// Service is safe for concurrent use.
type Service struct {
	cfg    Config
	logger *zap.Logger

	remote     remote.Service
	keyword    KeywordSearcher
	warmer     Warmer
	breaker    *breaker.Breaker
	retry      *retry.Strategy
	embeddings *cache.Manager[[]float32]
	searches   *cache.Manager[[]apptype.SearchResult]
	local      *localvector.Processor
	chain      *fallback.Chain
	degraded   *degraded.Manager

	mu         sync.RWMutex
	level      Level
	levelSince time.Time
	lastStatus remote.ServiceStatus
	lastCheck  time.Time
	lastErr    error

	subMu   sync.RWMutex
	subs    map[int]func(Event)
	nextSub int

	unsubs    []func()
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New wires the service. Call Start to warm caches and begin health checks.
func New(deps Deps, cfg Config, logger *zap.Logger, opts ...breaker.Option) (*Service, error) {
	if deps.Remote == nil {
		return nil, errors.New("vectorservice: remote service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	if err := cfg.LocalVector.Validate(); err != nil {
		return nil, fmt.Errorf("local vector config: %w", err)
	}
	s := &Service{
		cfg:        cfg,
		logger:     logger.Named("vectorservice"),
		remote:     deps.Remote,
		keyword:    deps.Keyword,
		warmer:     deps.Warmer,
		breaker:    breaker.New("remote-vector", cfg.Breaker, logger, opts...),
		retry:      retry.New(cfg.Retry, logger),
		local:      localvector.New(cfg.LocalVector, logger),
		degraded:   degraded.New(cfg.Degraded, logger),
		level:      LevelFull,
		levelSince: time.Now(),
		subs:       make(map[int]func(Event)),
	}
	var err error
	s.embeddings, err = newCache[[]float32](cfg.EmbeddingCache, deps.EmbeddingStore, logger)
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	s.searches, err = newCache[[]apptype.SearchResult](cfg.SearchCache, deps.SearchStore, logger)
	if err != nil {
		return nil, fmt.Errorf("search cache: %w", err)
	}
	s.chain = fallback.New(cfg.Fallback, logger, s.defaultStrategies()...)
	s.wire()
	metrics.Default().SetServiceLevel(int(s.level))
	return s, nil
}

func newCache[T any](cfg CacheConfig, store cache.KVStore, logger *zap.Logger) (*cache.Manager[T], error) {
	fast := cache.NewMemoryTier[T](cfg.Memory, logger)
	var slow cache.Tier[T]
	if store != nil {
		slow = cache.NewPersistentTier[T](cfg.Persistent, store, logger)
	} else {
		slow = cache.NewMemoryTier[T](cfg.Persistent, logger)
	}
	return cache.NewManager[T](logger, fast, slow)
}

// wire connects component signals to the service and re-publishes them.
func (s *Service) wire() {
	s.unsubs = append(s.unsubs,
		s.breaker.Subscribe(s.onBreakerEvent),
		s.chain.Subscribe(func(e fallback.Event) { s.emit(fromFallback(e)) }),
		s.degraded.Subscribe(func(c degraded.LevelChange) { s.emit(fromDegraded(c)) }),
	)
}

func (s *Service) onBreakerEvent(e breaker.Event) {
	switch e.Type {
	case breaker.EventSuccess:
		s.degraded.RecordSuccess()
	case breaker.EventFailure:
		s.degraded.RecordFailure()
	case breaker.EventStateChange:
		switch e.State {
		case breaker.StateOpen:
			s.setLevel(s.lowLevel(), "circuit opened: "+e.Reason)
		case breaker.StateHalfOpen:
			if s.Level() == LevelEmergency {
				// let trial calls through
				s.setLevel(LevelDegraded, "circuit half-open")
			}
		}
	case breaker.EventDegradedService:
		if s.Level() == LevelFull {
			s.setLevel(LevelDegraded, "remote responses are slow")
		}
	}
	s.emit(fromBreaker(e))
}

// lowLevel is the level used when the remote cannot be reached.
func (s *Service) lowLevel() Level {
	if s.local.Len() > 0 || s.keyword != nil {
		return LevelEmergency
	}
	return LevelOffline
}

// Level returns the current service level.
func (s *Service) Level() Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.level
}

// SetLevel overrides the level until the next health check.
func (s *Service) SetLevel(l Level, reason string) { s.setLevel(l, reason) }

func (s *Service) setLevel(l Level, reason string) {
	s.mu.Lock()
	prev := s.level
	if prev == l {
		s.mu.Unlock()
		return
	}
	s.level = l
	s.levelSince = time.Now()
	s.mu.Unlock()

	metrics.Default().SetServiceLevel(int(l))
	if l > prev {
		s.logger.Warn("service level lowered", zap.Stringer("from", prev), zap.Stringer("to", l), zap.String("reason", reason))
	} else {
		s.logger.Info("service level raised", zap.Stringer("from", prev), zap.Stringer("to", l), zap.String("reason", reason))
	}
	s.emit(Event{Source: SourceService, Type: EventLevelChange, Data: LevelChange{Previous: prev, Current: l, Reason: reason}})
}

// callRemote runs fn under the breaker, with the retry strategy inside it: a
// whole retry run counts as one breaker call.
func callRemote[T any](ctx context.Context, s *Service, op string, fn func(context.Context) (T, error)) (T, error) {
	return breaker.Execute(ctx, s.breaker, op, func(ctx context.Context) (T, error) {
		r := retry.Execute(ctx, s.retry, op, fn, nil)
		if !r.Success {
			var zero T
			return zero, r.Err
		}
		return r.Value, nil
	}, nil)
}

func unavailable(err error) error {
	if errors.Is(err, breaker.ErrCircuitOpen) {
		return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	return err
}

// GenerateEmbedding returns the embedding of text, from the cache when
// possible. Below DEGRADED only cached embeddings are served.
func (s *Service) GenerateEmbedding(ctx context.Context, text string, opts apptype.EmbeddingOptions) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyQuery
	}
	if !s.Level().usesRemote() {
		if v, ok := s.embeddings.Get(ctx, embeddingKey(text, opts.Model)); ok {
			return slices.Clone(v), nil
		}
		return nil, fmt.Errorf("%w: level %s and no cached embedding", ErrServiceUnavailable, s.Level())
	}
	v, err := s.embed(ctx, text, opts)
	if err != nil {
		return nil, unavailable(err)
	}
	return slices.Clone(v), nil
}

func (s *Service) embed(ctx context.Context, text string, opts apptype.EmbeddingOptions) ([]float32, error) {
	key := embeddingKey(text, opts.Model)
	if !opts.SkipCache {
		if v, ok := s.embeddings.Get(ctx, key); ok {
			return v, nil
		}
	}
	v, err := callRemote(ctx, s, "generate_embedding", func(ctx context.Context) ([]float32, error) {
		return s.remote.GenerateEmbedding(ctx, text, opts)
	})
	if err != nil {
		return nil, err
	}
	s.embeddings.Set(ctx, key, slices.Clone(v), 0)
	return v, nil
}

// FindSimilar always returns a list, possibly empty. The only error is
// ErrEmptyQuery.
func (s *Service) FindSimilar(ctx context.Context, q apptype.Query, opts apptype.SearchOptions) ([]apptype.SearchResult, error) {
	if q.Empty() {
		return nil, ErrEmptyQuery
	}
	q.Text = strings.TrimSpace(q.Text)
	opts = opts.Normalized()

	switch level := s.Level(); level {
	case LevelFull, LevelDegraded:
		if res, ok := s.searches.Get(ctx, searchKey(q, opts)); ok {
			return slices.Clone(res), nil
		}
		return s.chain.Search(ctx, q, opts), nil
	case LevelEmergency:
		return s.emergencySearch(ctx, q, opts), nil
	default:
		res, err := s.searchCached(ctx, q, opts)
		if err != nil {
			return []apptype.SearchResult{}, nil
		}
		return res, nil
	}
}

// emergencySearch tries local vectors then keyword search, skipping the
// remote entirely.
func (s *Service) emergencySearch(ctx context.Context, q apptype.Query, opts apptype.SearchOptions) []apptype.SearchResult {
	res, err := s.searchLocal(ctx, q, opts)
	if err == nil {
		return res
	}
	s.logger.Debug("local search missed", zap.Error(err))
	if s.keyword != nil {
		res, err = s.searchKeyword(ctx, q, opts)
		if err == nil {
			return res
		}
		s.logger.Debug("keyword search missed", zap.Error(err))
	}
	if res, err = s.searchCached(ctx, q, opts); err == nil {
		return res
	}
	return []apptype.SearchResult{}
}

// StoreEmbedding mirrors rec into the local processor and then writes it to
// the remote. A record without a vector is embedded from its text. The id is
// returned even when the remote write fails; the local mirror stays.
func (s *Service) StoreEmbedding(ctx context.Context, rec apptype.EmbeddingRecord) (string, error) {
	if rec.EntityID == "" {
		rec.EntityID = uuid.NewString()
	}
	if len(rec.Vector) == 0 {
		if strings.TrimSpace(rec.Text) == "" {
			return "", fmt.Errorf("%w: record %s has neither vector nor text", ErrEmptyQuery, rec.EntityID)
		}
		v, err := s.GenerateEmbedding(ctx, rec.Text, apptype.EmbeddingOptions{})
		if err != nil {
			return "", err
		}
		rec.Vector = v
	}
	if !s.local.AddVector(rec.EntityID, rec.EntityType, rec.Vector, rec.Metadata) {
		s.logger.Debug("local mirror skipped", zap.String("entity_id", rec.EntityID))
	}
	defer s.invalidateSearches(ctx)

	if s.Level() == LevelOffline {
		return rec.EntityID, fmt.Errorf("%w: remote write skipped while offline", ErrServiceUnavailable)
	}
	_, err := callRemote(ctx, s, "store_embedding", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.remote.StoreEmbedding(ctx, rec)
	})
	if err != nil {
		s.logger.Warn("remote store failed, kept local mirror", zap.String("entity_id", rec.EntityID), zap.Error(err))
		return rec.EntityID, unavailable(err)
	}
	return rec.EntityID, nil
}

// RemoveEmbedding drops the entity locally and from the remote. Cached
// search results are invalidated either way.
func (s *Service) RemoveEmbedding(ctx context.Context, entityID string) error {
	if entityID == "" {
		return errors.New("entity id is required")
	}
	s.local.RemoveVector(entityID)
	defer s.invalidateSearches(ctx)
	if s.Level() == LevelOffline {
		return fmt.Errorf("%w: remote delete skipped while offline", ErrServiceUnavailable)
	}
	_, err := callRemote(ctx, s, "delete_embedding", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.remote.DeleteEmbedding(ctx, entityID)
	})
	return unavailable(err)
}

// invalidateSearches drops every cached result list after a write. It runs
// after the remote call so answers cached while the write was in flight go
// too.
func (s *Service) invalidateSearches(ctx context.Context) {
	s.chain.ClearCache()
	s.searches.Clear(context.WithoutCancel(ctx))
}

// ResetBreaker forces the breaker closed.
func (s *Service) ResetBreaker() { s.breaker.Reset() }

// TripBreaker forces the breaker open.
func (s *Service) TripBreaker(reason string) { s.breaker.Trip(reason) }

// UpdateLocalVectorConfig rebuilds the local processor's derived state.
func (s *Service) UpdateLocalVectorConfig(cfg localvector.Config) error {
	return s.local.UpdateConfig(cfg)
}

// Features lists the degraded-mode features and their current state.
func (s *Service) Features() []degraded.Feature { return s.degraded.Features() }

// IsFeatureEnabled reports whether a degraded-mode feature is on.
func (s *Service) IsFeatureEnabled(id string) bool { return s.degraded.IsEnabled(id) }

// Degraded exposes the degraded mode manager for operator overrides.
func (s *Service) Degraded() *degraded.Manager { return s.degraded }

// ClearCaches empties the search and embedding caches.
func (s *Service) ClearCaches(ctx context.Context) {
	s.chain.ClearCache()
	s.searches.Clear(ctx)
	s.embeddings.Clear(ctx)
}

// Start restores the local snapshot, warms the local processor from stored
// embeddings, runs a first health check and starts the background loops.
func (s *Service) Start(ctx context.Context) error {
	if p := s.cfg.SnapshotPath; p != "" {
		n, err := s.local.LoadFile(p)
		if err != nil {
			s.logger.Warn("local snapshot not restored", zap.String("path", p), zap.Error(err))
		} else if n > 0 {
			s.logger.Info("restored local vectors", zap.Int("count", n), zap.String("path", p))
		}
	}
	if s.warmer != nil && s.cfg.WarmLimit > 0 {
		recs, err := s.warmer.ListEmbeddings(ctx, s.cfg.CampaignID, nil, s.cfg.WarmLimit)
		if err != nil {
			s.logger.Warn("local warm-up failed", zap.Error(err))
		}
		n := 0
		for _, r := range recs {
			if s.local.AddVector(r.EntityID, r.EntityType, r.Vector, r.Metadata) {
				n++
			}
		}
		s.logger.Info("warmed local vectors", zap.Int("count", n))
	}
	if _, err := s.CheckHealth(ctx); err != nil {
		s.logger.Warn("initial health check failed", zap.Error(err))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.healthLoop(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.degraded.Run(runCtx)
	}()
	return nil
}

// Close stops the background loops, saves the local snapshot and releases
// the breaker timer. It is safe to call more than once.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.wg.Wait()
		for _, u := range s.unsubs {
			u()
		}
		s.breaker.Close()
		if p := s.cfg.SnapshotPath; p != "" {
			if e := s.local.SaveFile(p); e != nil {
				err = fmt.Errorf("save local snapshot: %w", e)
			}
		}
	})
	return err
}
