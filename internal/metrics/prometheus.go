//go:build !noprom

package metrics

import (
	"net/http"
	"strconv"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "campaign_vectors"

type promRecorder struct {
	dbTotal     *prom.CounterVec
	dbSeconds   *prom.HistogramVec
	toolTotal   *prom.CounterVec
	toolSeconds *prom.HistogramVec
	stmtCache   *prom.CounterVec
	poolInUse   prom.Gauge
	poolIdle    prom.Gauge

	breakerState       *prom.GaugeVec
	breakerTransitions *prom.CounterVec
	breakerCalls       *prom.CounterVec
	retryAttempts      *prom.CounterVec
	retryOps           *prom.CounterVec
	cacheLookups       *prom.CounterVec
	cacheEvictions     *prom.CounterVec
	strategyTotal      *prom.CounterVec
	strategySeconds    *prom.HistogramVec
	degradedLevel      prom.Gauge
	serviceLevel       prom.Gauge
}

func (p *promRecorder) IncDBOpTotal(op string, success bool) {
	p.dbTotal.WithLabelValues(op, strconv.FormatBool(success)).Inc()
}

func (p *promRecorder) ObserveDBOpSeconds(op string, success bool, seconds float64) {
	p.dbSeconds.WithLabelValues(op, strconv.FormatBool(success)).Observe(seconds)
}

func (p *promRecorder) IncToolTotal(tool string, success bool) {
	p.toolTotal.WithLabelValues(tool, strconv.FormatBool(success)).Inc()
}

func (p *promRecorder) ObserveToolSeconds(tool string, success bool, seconds float64) {
	p.toolSeconds.WithLabelValues(tool, strconv.FormatBool(success)).Observe(seconds)
}

func (p *promRecorder) IncStmtCacheHit(kind string)  { p.stmtCache.WithLabelValues(kind, "hit").Inc() }
func (p *promRecorder) IncStmtCacheMiss(kind string) { p.stmtCache.WithLabelValues(kind, "miss").Inc() }

func (p *promRecorder) ObservePoolStats(inUse, idle int) {
	p.poolInUse.Set(float64(inUse))
	p.poolIdle.Set(float64(idle))
}

func (p *promRecorder) SetBreakerState(name string, state int) {
	p.breakerState.WithLabelValues(name).Set(float64(state))
}

func (p *promRecorder) IncBreakerTransition(name, from, to string) {
	p.breakerTransitions.WithLabelValues(name, from, to).Inc()
}

func (p *promRecorder) IncBreakerCall(name, outcome string) {
	p.breakerCalls.WithLabelValues(name, outcome).Inc()
}

func (p *promRecorder) IncRetryAttempt(op, category string) {
	p.retryAttempts.WithLabelValues(op, category).Inc()
}

func (p *promRecorder) IncRetryOperation(op string, success bool) {
	p.retryOps.WithLabelValues(op, strconv.FormatBool(success)).Inc()
}

func (p *promRecorder) IncCacheLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	p.cacheLookups.WithLabelValues(tier, result).Inc()
}

func (p *promRecorder) IncCacheEviction(tier string) { p.cacheEvictions.WithLabelValues(tier).Inc() }

func (p *promRecorder) IncStrategySearch(strategy string, success bool) {
	p.strategyTotal.WithLabelValues(strategy, strconv.FormatBool(success)).Inc()
}

func (p *promRecorder) ObserveStrategySeconds(strategy string, seconds float64) {
	p.strategySeconds.WithLabelValues(strategy).Observe(seconds)
}

func (p *promRecorder) SetDegradedLevel(level int) { p.degradedLevel.Set(float64(level)) }
func (p *promRecorder) SetServiceLevel(level int)  { p.serviceLevel.Set(float64(level)) }

func enablePrometheus() (http.Handler, error) {
	registry := prom.NewRegistry()
	p := &promRecorder{
		dbTotal: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "db_ops_total",
			Help:      "Total number of DB operations",
		}, []string{"op", "success"}),
		dbSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "db_op_seconds",
			Help:      "DB operation duration in seconds",
			Buckets:   prom.DefBuckets,
		}, []string{"op", "success"}),
		toolTotal: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool handler calls",
		}, []string{"tool", "success"}),
		toolSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_seconds",
			Help:      "Tool handler duration in seconds",
			Buckets:   prom.DefBuckets,
		}, []string{"tool", "success"}),
		stmtCache: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "stmt_cache_total",
			Help:      "Prepared statement cache lookups",
		}, []string{"kind", "result"}),
		poolInUse: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "db_pool_in_use",
			Help:      "Open connections currently in use",
		}),
		poolIdle: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "db_pool_idle",
			Help:      "Idle open connections",
		}),
		breakerState: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half_open)",
		}, []string{"name"}),
		breakerTransitions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions",
		}, []string{"name", "from", "to"}),
		breakerCalls: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_calls_total",
			Help:      "Calls through the circuit breaker by outcome",
		}, []string{"name", "outcome"}),
		retryAttempts: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Retry attempts by error category",
		}, []string{"op", "category"}),
		retryOps: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "retry_operations_total",
			Help:      "Operations executed under the retry strategy",
		}, []string{"op", "success"}),
		cacheLookups: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups per tier",
		}, []string{"tier", "result"}),
		cacheEvictions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Cache evictions per tier",
		}, []string{"tier"}),
		strategyTotal: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "search_strategy_total",
			Help:      "Fallback strategy attempts",
		}, []string{"strategy", "success"}),
		strategySeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "search_strategy_seconds",
			Help:      "Fallback strategy latency in seconds",
			Buckets:   prom.DefBuckets,
		}, []string{"strategy"}),
		degradedLevel: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "degradation_level",
			Help:      "Degraded mode level (0=normal .. 4=critical)",
		}),
		serviceLevel: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "service_level",
			Help:      "Vector service level (0=full .. 3=offline)",
		}),
	}

	registry.MustRegister(
		p.dbTotal, p.dbSeconds, p.toolTotal, p.toolSeconds, p.stmtCache, p.poolInUse, p.poolIdle,
		p.breakerState, p.breakerTransitions, p.breakerCalls, p.retryAttempts, p.retryOps,
		p.cacheLookups, p.cacheEvictions, p.strategyTotal, p.strategySeconds, p.degradedLevel, p.serviceLevel,
		collectors.NewGoCollector(),
	)
	SetRecorder(p)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}
