package fallback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apptype"
)

type countingStrategy struct {
	name    string
	calls   atomic.Int32
	results []apptype.SearchResult
	err     error
}

func (s *countingStrategy) Name() string { return s.name }

func (s *countingStrategy) Search(context.Context, apptype.Query, apptype.SearchOptions) ([]apptype.SearchResult, error) {
	s.calls.Add(1)
	return s.results, s.err
}

func hits(ids ...string) []apptype.SearchResult {
	out := make([]apptype.SearchResult, len(ids))
	for i, id := range ids {
		out[i] = apptype.SearchResult{EntityID: id, Score: 1}
	}
	return out
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) add(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

var query = apptype.Query{Text: "haunted castle"}

func TestFallsBackToSecondStrategy(t *testing.T) {
	a := &countingStrategy{name: "remote", err: errors.New("503 unavailable")}
	b := &countingStrategy{name: "local", results: hits("castle-ravenloft")}
	c := New(Config{}, nil, a, b)
	rec := &recorder{}
	c.Subscribe(rec.add)

	res := c.Search(context.Background(), query, apptype.SearchOptions{})
	require.Len(t, res, 1)
	assert.Equal(t, "castle-ravenloft", res[0].EntityID)

	succ := rec.ofType(EventSearchSuccess)
	require.Len(t, succ, 1)
	assert.True(t, succ[0].IsFallback)
	assert.Equal(t, "local", succ[0].Strategy)
	require.Len(t, rec.ofType(EventSearchFailure), 1)

	m := c.Metrics()
	assert.Equal(t, int64(1), m["remote"].Failures)
	assert.Equal(t, int64(1), m["local"].Successes)
	assert.Equal(t, int64(1), m["local"].FallbackUses)
	assert.Equal(t, int64(0), m["remote"].FallbackUses)
}

func TestFirstStrategySuccessSkipsRest(t *testing.T) {
	a := &countingStrategy{name: "remote", results: hits("a")}
	b := &countingStrategy{name: "local", results: hits("b")}
	c := New(Config{}, nil, a, b)
	rec := &recorder{}
	c.Subscribe(rec.add)

	res := c.Search(context.Background(), query, apptype.SearchOptions{})
	require.Len(t, res, 1)
	assert.Equal(t, "a", res[0].EntityID)
	assert.Equal(t, int32(0), b.calls.Load())
	assert.False(t, rec.ofType(EventSearchSuccess)[0].IsFallback)
}

func TestCompleteFailureReturnsEmpty(t *testing.T) {
	a := &countingStrategy{name: "remote", err: errors.New("timeout")}
	b := &countingStrategy{name: "keyword", err: errors.New("db closed")}
	c := New(Config{}, nil, a, b)
	rec := &recorder{}
	c.Subscribe(rec.add)

	res := c.Search(context.Background(), query, apptype.SearchOptions{})
	require.NotNil(t, res)
	assert.Empty(t, res)
	complete := rec.ofType(EventCompleteFailure)
	require.Len(t, complete, 1)
	assert.Len(t, complete[0].Failures, 2)
	assert.Equal(t, 0, c.CachedResults())
}

func TestResultCacheShortCircuits(t *testing.T) {
	a := &countingStrategy{name: "remote", results: hits("a")}
	c := New(Config{CacheTTL: time.Minute}, nil, a)
	opts := apptype.SearchOptions{EntityTypes: []string{"character"}}

	c.Search(context.Background(), query, opts)
	c.Search(context.Background(), query, opts)
	assert.Equal(t, int32(1), a.calls.Load())

	c.Search(context.Background(), query, apptype.SearchOptions{Limit: 3})
	assert.Equal(t, int32(2), a.calls.Load())

	c.ClearCache()
	c.Search(context.Background(), query, opts)
	assert.Equal(t, int32(3), a.calls.Load())
}

func TestResultCacheExpires(t *testing.T) {
	a := &countingStrategy{name: "remote", results: hits("a")}
	c := New(Config{CacheTTL: 20 * time.Millisecond}, nil, a)
	c.Search(context.Background(), query, apptype.SearchOptions{})
	time.Sleep(60 * time.Millisecond)
	c.Search(context.Background(), query, apptype.SearchOptions{})
	assert.Equal(t, int32(2), a.calls.Load())
}

func TestDynamicRegistration(t *testing.T) {
	a := &countingStrategy{name: "remote", err: errors.New("down")}
	b := &countingStrategy{name: "cache", results: hits("cached")}
	c := New(Config{}, nil, a, b)

	kw := &countingStrategy{name: "keyword", results: hits("kw")}
	require.NoError(t, c.AddStrategy(kw, 1))
	assert.Equal(t, []string{"remote", "keyword", "cache"}, c.Strategies())
	assert.Error(t, c.AddStrategy(kw, 0))

	res := c.Search(context.Background(), query, apptype.SearchOptions{})
	assert.Equal(t, "kw", res[0].EntityID)

	assert.True(t, c.RemoveStrategy("keyword"))
	assert.False(t, c.RemoveStrategy("keyword"))
	c.ClearCache()
	res = c.Search(context.Background(), query, apptype.SearchOptions{})
	assert.Equal(t, "cached", res[0].EntityID)

	require.NoError(t, c.AddStrategy(NewStrategy("first", func(context.Context, apptype.Query, apptype.SearchOptions) ([]apptype.SearchResult, error) {
		return hits("first"), nil
	}), 0))
	assert.Equal(t, []string{"first", "remote", "cache"}, c.Strategies())
}

func TestResetMetrics(t *testing.T) {
	a := &countingStrategy{name: "remote", results: hits("a", "b")}
	c := New(Config{}, nil, a)
	c.Search(context.Background(), query, apptype.SearchOptions{})
	m := c.Metrics()["remote"]
	assert.Equal(t, int64(1), m.Searches)
	assert.InDelta(t, 2.0, m.AverageResults, 1e-9)
	assert.InDelta(t, 1.0, m.SuccessRate, 1e-9)

	c.ResetMetrics()
	assert.Equal(t, StrategyMetrics{}, c.Metrics()["remote"])
}

func TestCancelledContextStopsChain(t *testing.T) {
	a := &countingStrategy{name: "remote", results: hits("a")}
	c := New(Config{}, nil, a)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := c.Search(ctx, query, apptype.SearchOptions{})
	assert.Empty(t, res)
	assert.Equal(t, int32(0), a.calls.Load())
}
