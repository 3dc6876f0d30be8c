package vectorservice

import (
	"time"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/breaker"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/cache"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/degraded"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/fallback"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/localvector"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/retry"
)

// CacheConfig sizes the two tiers of one multi-tier cache.
type CacheConfig struct {
	Memory     cache.TierConfig
	Persistent cache.TierConfig
}

// Config is built once and not mutated afterwards.
type Config struct {
	Breaker        breaker.Config
	Retry          retry.Config
	EmbeddingCache CacheConfig
	SearchCache    CacheConfig
	LocalVector    localvector.Config
	Fallback       fallback.Config
	Degraded       degraded.Config

	HealthCheckInterval time.Duration
	// HealthCheckTimeout bounds one remote status probe.
	HealthCheckTimeout time.Duration
	// DegradedFailureRate and EmergencyFailureRate are breaker failure rates
	// that lower the level once MinRequestsForRate calls have completed
	// within FailureRateWindow since the circuit last closed.
	DegradedFailureRate  float64
	EmergencyFailureRate float64
	MinRequestsForRate   int64
	FailureRateWindow    time.Duration

	// SnapshotPath, when set, persists the local vector cache across restarts.
	SnapshotPath string
	// WarmLimit caps how many stored embeddings seed the local cache on Start.
	WarmLimit int
	// CampaignID scopes the warm-up query.
	CampaignID string
}

// DefaultConfig returns the service defaults. Retry attempts are shorter
// than the breaker request timeout so a full retry run fits inside one
// protected call.
func DefaultConfig() Config {
	r := retry.DefaultConfig()
	r.AttemptTimeout = 10 * time.Second
	r.MaxDelay = 5 * time.Second
	b := breaker.DefaultConfig()
	b.RequestTimeout = 45 * time.Second
	return Config{
		Breaker: b,
		Retry:   r,
		EmbeddingCache: CacheConfig{
			Memory:     cache.TierConfig{Name: "embedding-memory", MaxEntries: 2000, TTL: 24 * time.Hour},
			Persistent: cache.TierConfig{Name: "embedding-persistent", MaxEntries: 20000, TTL: 7 * 24 * time.Hour},
		},
		SearchCache: CacheConfig{
			Memory:     cache.TierConfig{Name: "search-memory", MaxEntries: 500, TTL: 5 * time.Minute},
			Persistent: cache.TierConfig{Name: "search-persistent", MaxEntries: 5000, TTL: time.Hour},
		},
		LocalVector:          localvector.DefaultConfig(),
		Fallback:             fallback.DefaultConfig(),
		Degraded:             degraded.DefaultConfig(),
		HealthCheckInterval:  30 * time.Second,
		HealthCheckTimeout:   5 * time.Second,
		DegradedFailureRate:  0.25,
		EmergencyFailureRate: 0.5,
		MinRequestsForRate:   10,
		FailureRateWindow:    2 * time.Minute,
		WarmLimit:            1000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = d.HealthCheckInterval
	}
	if c.HealthCheckTimeout <= 0 {
		c.HealthCheckTimeout = d.HealthCheckTimeout
	}
	if c.DegradedFailureRate <= 0 {
		c.DegradedFailureRate = d.DegradedFailureRate
	}
	if c.EmergencyFailureRate <= 0 {
		c.EmergencyFailureRate = d.EmergencyFailureRate
	}
	if c.MinRequestsForRate <= 0 {
		c.MinRequestsForRate = d.MinRequestsForRate
	}
	if c.FailureRateWindow <= 0 {
		c.FailureRateWindow = d.FailureRateWindow
	}
	if c.LocalVector.MaxCachedVectors == 0 && c.LocalVector.Dimensions == 0 {
		c.LocalVector = d.LocalVector
	}
	return c
}
