// Package cache implements the layered embedding and search-result cache: an
// in-process LRU tier in front of one or more persistent tiers.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrQuotaExceeded is returned by a KVStore that has run out of capacity.
var ErrQuotaExceeded = errors.New("cache storage quota exceeded")

// Entry is the stored form of a cached value. Entries are owned by the tier
// that created them; promotion copies Data only.
type Entry[T any] struct {
	Data          T             `json:"data"`
	Timestamp     time.Time     `json:"timestamp"`
	TTL           time.Duration `json:"ttl"`
	AccessCount   int64         `json:"accessCount"`
	LastAccessed  time.Time     `json:"lastAccessed"`
	EstimatedSize int           `json:"estimatedSize"`
}

// Expired reports whether the entry is logically absent at now.
func (e *Entry[T]) Expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.Timestamp) > e.TTL
}

// TierConfig bounds one tier.
type TierConfig struct {
	Name       string
	MaxEntries int
	// TTL applies to entries set without an explicit ttl.
	TTL time.Duration
}

func (c TierConfig) withDefaults(name string) TierConfig {
	if c.Name == "" {
		c.Name = name
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 1000
	}
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
	return c
}

// TierStats reports lookup counters for a tier.
type TierStats struct {
	Name        string  `json:"name"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	Entries     int     `json:"entries"`
	HitRate     float64 `json:"hitRate"`
}

func hitRate(hits, misses int64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// Tier is one cache layer. A ttl of zero selects the tier default.
type Tier[T any] interface {
	Name() string
	Get(ctx context.Context, key string) (T, bool, error)
	Set(ctx context.Context, key string, value T, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Stats() TierStats
}

// KVStore is the byte-level storage behind a PersistentTier.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value; a store that runs out of space returns an error
	// wrapping ErrQuotaExceeded.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Keys(ctx context.Context) ([]string, error)
}

func estimateSize(v any) int {
	switch x := v.(type) {
	case string:
		return len(x)
	case []byte:
		return len(x)
	case []float32:
		return 4 * len(x)
	case []float64:
		return 8 * len(x)
	case interface{ EstimatedSize() int }:
		return x.EstimatedSize()
	default:
		return 0
	}
}
