package metrics

import (
	"net/http"
	"sync"
	"time"
)

// Package metrics provides a minimal instrumentation interface with a no-op
// default and an optional Prometheus-backed implementation.

// Recorder defines the metrics surface used across the codebase.
type Recorder interface {
	IncDBOpTotal(op string, success bool)
	ObserveDBOpSeconds(op string, success bool, seconds float64)
	IncToolTotal(tool string, success bool)
	ObserveToolSeconds(tool string, success bool, seconds float64)
	IncStmtCacheHit(kind string)
	IncStmtCacheMiss(kind string)
	ObservePoolStats(inUse, idle int)

	SetBreakerState(name string, state int)
	IncBreakerTransition(name, from, to string)
	IncBreakerCall(name, outcome string)
	IncRetryAttempt(op, category string)
	IncRetryOperation(op string, success bool)
	IncCacheLookup(tier string, hit bool)
	IncCacheEviction(tier string)
	IncStrategySearch(strategy string, success bool)
	ObserveStrategySeconds(strategy string, seconds float64)
	SetDegradedLevel(level int)
	SetServiceLevel(level int)
}

// noopRecorder implements Recorder with no-ops.
type noopRecorder struct{}

func (n *noopRecorder) IncDBOpTotal(string, bool)                   {}
func (n *noopRecorder) ObserveDBOpSeconds(string, bool, float64)    {}
func (n *noopRecorder) IncToolTotal(string, bool)                   {}
func (n *noopRecorder) ObserveToolSeconds(string, bool, float64)    {}
func (n *noopRecorder) IncStmtCacheHit(string)                      {}
func (n *noopRecorder) IncStmtCacheMiss(string)                     {}
func (n *noopRecorder) ObservePoolStats(int, int)                   {}
func (n *noopRecorder) SetBreakerState(string, int)                 {}
func (n *noopRecorder) IncBreakerTransition(string, string, string) {}
func (n *noopRecorder) IncBreakerCall(string, string)               {}
func (n *noopRecorder) IncRetryAttempt(string, string)              {}
func (n *noopRecorder) IncRetryOperation(string, bool)              {}
func (n *noopRecorder) IncCacheLookup(string, bool)                 {}
func (n *noopRecorder) IncCacheEviction(string)                     {}
func (n *noopRecorder) IncStrategySearch(string, bool)              {}
func (n *noopRecorder) ObserveStrategySeconds(string, float64)      {}
func (n *noopRecorder) SetDegradedLevel(int)                        {}
func (n *noopRecorder) SetServiceLevel(int)                         {}

var (
	recMu    sync.RWMutex
	recorder Recorder = &noopRecorder{}
	handler  http.Handler
)

// Default returns the current recorder.
func Default() Recorder {
	recMu.RLock()
	defer recMu.RUnlock()
	return recorder
}

// SetRecorder swaps the global recorder implementation.
func SetRecorder(r Recorder) {
	recMu.Lock()
	defer recMu.Unlock()
	if r == nil {
		r = &noopRecorder{}
	}
	recorder = r
}

// Handler returns the exposition handler, or nil while metrics are disabled.
func Handler() http.Handler {
	recMu.RLock()
	defer recMu.RUnlock()
	return handler
}

// TimeOp is a helper to time DB operations.
func TimeOp(op string) func(success bool) {
	start := time.Now()
	return func(success bool) {
		dur := time.Since(start).Seconds()
		Default().IncDBOpTotal(op, success)
		Default().ObserveDBOpSeconds(op, success, dur)
	}
}

// TimeTool is a helper to time tool handler operations.
func TimeTool(tool string) func(success bool) {
	start := time.Now()
	return func(success bool) {
		dur := time.Since(start).Seconds()
		Default().IncToolTotal(tool, success)
		Default().ObserveToolSeconds(tool, success, dur)
	}
}

// TimeStrategy times one fallback strategy attempt.
func TimeStrategy(strategy string) func(success bool) {
	start := time.Now()
	return func(success bool) {
		Default().IncStrategySearch(strategy, success)
		Default().ObserveStrategySeconds(strategy, time.Since(start).Seconds())
	}
}

// Enable installs the Prometheus recorder when compiled in. The returned
// handler serves the exposition format; it is nil under the noprom tag.
func Enable() (http.Handler, error) {
	h, err := enablePrometheus()
	if err != nil {
		return nil, err
	}
	recMu.Lock()
	handler = h
	recMu.Unlock()
	return h, nil
}

// enablePrometheus is provided by build-tagged files.
