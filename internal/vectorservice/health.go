package vectorservice

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/breaker"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/cache"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/degraded"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/fallback"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/localvector"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/remote"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/retry"
)

// Health is the outcome of one health check.
type Health struct {
	Level     Level                `json:"level"`
	Remote    remote.ServiceStatus `json:"remote"`
	Breaker   breaker.State        `json:"breaker"`
	Failure   float64              `json:"failureRate"`
	Samples   int                  `json:"failureSamples"`
	LocalSize int                  `json:"localVectors"`
	Error     string               `json:"error,omitempty"`
	CheckedAt time.Time            `json:"checkedAt"`
}

// CheckHealth probes the remote, computes the level from the probe, breaker
// state, recent failure rate and local cache size, applies it and feeds the
// degraded mode manager.
func (s *Service) CheckHealth(ctx context.Context) (Health, error) {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.HealthCheckTimeout)
	st, err := s.remote.Status(pctx)
	cancel()
	if err != nil {
		st.Available = false
	}
	bm := s.breaker.Metrics()
	h := Health{
		Remote:    st,
		Breaker:   bm.State,
		LocalSize: s.local.Len(),
		CheckedAt: time.Now(),
	}
	// only recent calls since the circuit last closed count; a stale sample
	// must not hold the level down once traffic stops reaching the remote
	if rate, n := s.breaker.RecentFailureRate(s.cfg.FailureRateWindow); int64(n) >= s.cfg.MinRequestsForRate {
		h.Failure = rate
		h.Samples = n
	}
	h.Level = s.computeLevel(h)
	if err != nil {
		h.Error = err.Error()
	}

	s.mu.Lock()
	s.lastStatus = st
	s.lastCheck = h.CheckedAt
	s.lastErr = err
	s.mu.Unlock()

	if st.Available && !st.Degraded {
		s.degraded.RecordSuccess()
	} else {
		s.degraded.RecordFailure()
	}
	s.setLevel(h.Level, healthReason(h))
	return h, err
}

func (s *Service) computeLevel(h Health) Level {
	switch {
	case !h.Remote.Available || h.Breaker == breaker.StateOpen:
		if h.LocalSize > 0 || s.keyword != nil {
			return LevelEmergency
		}
		return LevelOffline
	case h.Failure >= s.cfg.EmergencyFailureRate:
		return LevelEmergency
	case h.Remote.Degraded || h.Breaker == breaker.StateHalfOpen || h.Failure >= s.cfg.DegradedFailureRate:
		return LevelDegraded
	default:
		return LevelFull
	}
}

func healthReason(h Health) string {
	switch {
	case h.Error != "":
		return "health check: " + h.Error
	case !h.Remote.Available:
		return "health check: remote unavailable"
	case h.Breaker != breaker.StateClosed:
		return "health check: circuit " + h.Breaker.String()
	case h.Remote.Degraded:
		return "health check: remote degraded"
	default:
		return "health check"
	}
}

func (s *Service) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CheckHealth(ctx); err != nil && ctx.Err() == nil {
				s.logger.Debug("health check failed", zap.Error(err))
			}
		}
	}
}

// Status is a snapshot of every component.
type Status struct {
	Level           Level                               `json:"level"`
	LevelSince      time.Time                           `json:"levelSince"`
	Remote          remote.ServiceStatus                `json:"remote"`
	LastHealthCheck time.Time                           `json:"lastHealthCheck"`
	LastHealthError string                              `json:"lastHealthError,omitempty"`
	Breaker         breaker.Metrics                     `json:"breaker"`
	Retry           retry.Metrics                       `json:"retry"`
	EmbeddingCache  cache.Stats                         `json:"embeddingCache"`
	SearchCache     cache.Stats                         `json:"searchCache"`
	Local           localvector.Stats                   `json:"local"`
	Strategies      map[string]fallback.StrategyMetrics `json:"strategies"`
	Degraded        degraded.Stats                      `json:"degraded"`
}

// Status reports the current state without probing the remote.
func (s *Service) Status() Status {
	s.mu.RLock()
	st := Status{
		Level:           s.level,
		LevelSince:      s.levelSince,
		Remote:          s.lastStatus,
		LastHealthCheck: s.lastCheck,
		LastHealthError: errString(s.lastErr),
	}
	s.mu.RUnlock()
	st.Breaker = s.breaker.Metrics()
	st.Retry = s.retry.Metrics()
	st.EmbeddingCache = s.embeddings.Stats()
	st.SearchCache = s.searches.Stats()
	st.Local = s.local.Stats()
	st.Strategies = s.chain.Metrics()
	st.Degraded = s.degraded.Stats()
	return st
}
