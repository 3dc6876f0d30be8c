package fallback

import "time"

// EventType names a chain signal.
type EventType string

const (
	EventSearchSuccess   EventType = "search_success"
	EventSearchFailure   EventType = "search_failure"
	EventCompleteFailure EventType = "search_complete_failure"
)

// Event reports a strategy outcome. IsFallback is set for every strategy
// other than the first in order.
type Event struct {
	Type       EventType
	Strategy   string
	IsFallback bool
	Position   int
	Results    int
	Duration   time.Duration
	Err        error
	Failures   []string
	At         time.Time
}

// Subscribe registers fn and returns a function removing it.
func (c *Chain) Subscribe(fn func(Event)) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Chain) emit(e Event) {
	c.subMu.RLock()
	fns := make([]func(Event), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.RUnlock()
	for _, fn := range fns {
		fn(e)
	}
}

// StrategyMetrics is a per-strategy snapshot.
type StrategyMetrics struct {
	Searches       int64         `json:"searches"`
	Successes      int64         `json:"successes"`
	Failures       int64         `json:"failures"`
	FallbackUses   int64         `json:"fallbackUses"`
	SuccessRate    float64       `json:"successRate"`
	AverageLatency time.Duration `json:"averageLatency"`
	AverageResults float64       `json:"averageResults"`
}

type strategyStats struct {
	searches     int64
	successes    int64
	failures     int64
	fallbackUses int64
	latencies    []time.Duration
	resultCounts []int
	sampleSize   int
}

func newStrategyStats(sampleSize int) *strategyStats {
	return &strategyStats{sampleSize: sampleSize}
}

func (s *strategyStats) add(isFallback, ok bool, d time.Duration, results int) {
	s.searches++
	if isFallback {
		s.fallbackUses++
	}
	s.latencies = appendBounded(s.latencies, d, s.sampleSize)
	if ok {
		s.successes++
		s.resultCounts = appendBounded(s.resultCounts, results, s.sampleSize)
	} else {
		s.failures++
	}
}

func appendBounded[T any](xs []T, x T, n int) []T {
	xs = append(xs, x)
	if len(xs) > n {
		xs = xs[len(xs)-n:]
	}
	return xs
}

func (s *strategyStats) snapshot() StrategyMetrics {
	m := StrategyMetrics{
		Searches:     s.searches,
		Successes:    s.successes,
		Failures:     s.failures,
		FallbackUses: s.fallbackUses,
	}
	if s.searches > 0 {
		m.SuccessRate = float64(s.successes) / float64(s.searches)
	}
	if len(s.latencies) > 0 {
		var sum time.Duration
		for _, d := range s.latencies {
			sum += d
		}
		m.AverageLatency = sum / time.Duration(len(s.latencies))
	}
	if len(s.resultCounts) > 0 {
		sum := 0
		for _, n := range s.resultCounts {
			sum += n
		}
		m.AverageResults = float64(sum) / float64(len(s.resultCounts))
	}
	return m
}

func (c *Chain) record(name string, isFallback, ok bool, d time.Duration, results int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, found := c.stats[name]
	if !found {
		st = newStrategyStats(c.cfg.SampleSize)
		c.stats[name] = st
	}
	st.add(isFallback, ok, d, results)
}

// Metrics returns per-strategy metrics keyed by strategy name.
func (c *Chain) Metrics() map[string]StrategyMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]StrategyMetrics, len(c.stats))
	for name, st := range c.stats {
		out[name] = st.snapshot()
	}
	return out
}

// ResetMetrics zeroes every strategy's counters and samples.
func (c *Chain) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name := range c.stats {
		c.stats[name] = newStrategyStats(c.cfg.SampleSize)
	}
}
