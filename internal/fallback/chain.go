// Package fallback tries an ordered list of search strategies until one
// succeeds.
package fallback

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apptype"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/metrics"
)

// Strategy is one independently pluggable way to answer a search.
type Strategy interface {
	Name() string
	Search(ctx context.Context, query apptype.Query, opts apptype.SearchOptions) ([]apptype.SearchResult, error)
}

// SearchFunc adapts a function to Strategy.
type SearchFunc func(ctx context.Context, query apptype.Query, opts apptype.SearchOptions) ([]apptype.SearchResult, error)

type funcStrategy struct {
	name string
	fn   SearchFunc
}

func (f funcStrategy) Name() string { return f.name }

func (f funcStrategy) Search(ctx context.Context, q apptype.Query, o apptype.SearchOptions) ([]apptype.SearchResult, error) {
	return f.fn(ctx, q, o)
}

// NewStrategy names fn as a Strategy.
func NewStrategy(name string, fn SearchFunc) Strategy { return funcStrategy{name: name, fn: fn} }

// Config tunes the result cache and metric sample windows.
type Config struct {
	CacheTTL  time.Duration
	CacheSize int
	// SampleSize bounds the latency and result-count samples kept per strategy.
	SampleSize int
}

// DefaultConfig caches 256 results for 30 seconds.
func DefaultConfig() Config {
	return Config{CacheTTL: 30 * time.Second, CacheSize: 256, SampleSize: 100}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.CacheSize <= 0 {
		c.CacheSize = d.CacheSize
	}
	if c.SampleSize <= 0 {
		c.SampleSize = d.SampleSize
	}
	return c
}

// Chain is safe for concurrent use. Search never returns an error.
type Chain struct {
	cfg    Config
	logger *zap.Logger
	cache  *expirable.LRU[string, []apptype.SearchResult]

	mu         sync.RWMutex
	strategies []Strategy
	stats      map[string]*strategyStats

	subMu   sync.RWMutex
	subs    map[int]func(Event)
	nextSub int
}

// New creates a chain trying strategies in the given order.
func New(cfg Config, logger *zap.Logger, strategies ...Strategy) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	c := &Chain{
		cfg:    cfg,
		logger: logger.Named("fallback"),
		cache:  expirable.NewLRU[string, []apptype.SearchResult](cfg.CacheSize, nil, cfg.CacheTTL),
		stats:  make(map[string]*strategyStats),
		subs:   make(map[int]func(Event)),
	}
	for _, s := range strategies {
		_ = c.AddStrategy(s, -1)
	}
	return c
}

func cacheKey(q apptype.Query, opts apptype.SearchOptions) string {
	return q.Key() + "|" + opts.Key()
}

// Search returns the first successful strategy's results. A cached result for
// the same query and options short-circuits the chain. When every strategy
// fails the result is empty, never nil.
func (c *Chain) Search(ctx context.Context, q apptype.Query, opts apptype.SearchOptions) []apptype.SearchResult {
	key := cacheKey(q, opts)
	if res, ok := c.cache.Get(key); ok {
		return slices.Clone(res)
	}

	c.mu.RLock()
	strategies := slices.Clone(c.strategies)
	c.mu.RUnlock()

	var failures []string
	for i, s := range strategies {
		if ctx.Err() != nil {
			failures = append(failures, "context: "+ctx.Err().Error())
			break
		}
		isFallback := i > 0
		done := metrics.TimeStrategy(s.Name())
		start := time.Now()
		res, err := s.Search(ctx, q, opts)
		elapsed := time.Since(start)
		done(err == nil)

		if err != nil {
			c.record(s.Name(), isFallback, false, elapsed, 0)
			failures = append(failures, s.Name()+": "+err.Error())
			c.logger.Debug("strategy failed", zap.String("strategy", s.Name()), zap.Int("position", i), zap.Error(err))
			c.emit(Event{Type: EventSearchFailure, Strategy: s.Name(), IsFallback: isFallback, Position: i, Duration: elapsed, Err: err, At: time.Now()})
			continue
		}

		if res == nil {
			res = []apptype.SearchResult{}
		}
		c.record(s.Name(), isFallback, true, elapsed, len(res))
		c.cache.Add(key, slices.Clone(res))
		c.emit(Event{Type: EventSearchSuccess, Strategy: s.Name(), IsFallback: isFallback, Position: i, Results: len(res), Duration: elapsed, At: time.Now()})
		return res
	}

	c.logger.Warn("all search strategies failed", zap.Strings("failures", failures))
	c.emit(Event{Type: EventCompleteFailure, Failures: failures, At: time.Now()})
	return []apptype.SearchResult{}
}

// AddStrategy inserts s at position; a negative or out of range position
// appends. Names must be unique.
func (c *Chain) AddStrategy(s Strategy, position int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.strategies {
		if existing.Name() == s.Name() {
			return fmt.Errorf("strategy %q already registered", s.Name())
		}
	}
	if position < 0 || position > len(c.strategies) {
		position = len(c.strategies)
	}
	c.strategies = slices.Insert(c.strategies, position, s)
	if _, ok := c.stats[s.Name()]; !ok {
		c.stats[s.Name()] = newStrategyStats(c.cfg.SampleSize)
	}
	return nil
}

// RemoveStrategy drops the named strategy and reports whether it existed.
// Its metrics are kept until ResetMetrics.
func (c *Chain) RemoveStrategy(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := slices.IndexFunc(c.strategies, func(s Strategy) bool { return s.Name() == name })
	if i < 0 {
		return false
	}
	c.strategies = slices.Delete(c.strategies, i, i+1)
	return true
}

// Strategies returns the strategy names in trial order.
func (c *Chain) Strategies() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// ClearCache drops every cached result.
func (c *Chain) ClearCache() { c.cache.Purge() }

// CachedResults returns the number of cached result sets.
func (c *Chain) CachedResults() int { return c.cache.Len() }
