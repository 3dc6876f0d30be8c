// Package localvector keeps a bounded in-memory copy of recent embeddings and
// answers similarity queries against it when the remote index is unreachable.
package localvector

import (
	"errors"
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apptype"
)

// Algorithm selects the similarity function.
type Algorithm string

const (
	Cosine     Algorithm = "cosine"
	DotProduct Algorithm = "dot_product"
	Euclidean  Algorithm = "euclidean"
)

// Config is immutable once passed to New or UpdateConfig.
type Config struct {
	Enabled          bool
	MaxCachedVectors int
	Dimensions       int
	// CompressionRatio below 1 enables random projection to
	// floor(Dimensions*CompressionRatio) dimensions.
	CompressionRatio float64
	Algorithm        Algorithm
	// Seed fixes the projection matrix.
	Seed uint64
}

// DefaultConfig returns an enabled, uncompressed cosine processor.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		MaxCachedVectors: 1000,
		Dimensions:       768,
		CompressionRatio: 1,
		Algorithm:        Cosine,
		Seed:             42,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.MaxCachedVectors <= 0 {
		errs = append(errs, errors.New("max cached vectors must be positive"))
	}
	if c.Dimensions <= 0 {
		errs = append(errs, errors.New("dimensions must be positive"))
	}
	if c.CompressionRatio <= 0 || c.CompressionRatio > 1 {
		errs = append(errs, fmt.Errorf("compression ratio %g outside (0,1]", c.CompressionRatio))
	}
	switch c.Algorithm {
	case Cosine, DotProduct, Euclidean:
	default:
		errs = append(errs, fmt.Errorf("unknown algorithm %q", c.Algorithm))
	}
	return errors.Join(errs...)
}

// CompressedDimensions returns the projected size, or 0 when compression is off.
func (c Config) CompressedDimensions() int {
	if c.CompressionRatio >= 1 {
		return 0
	}
	n := int(float64(c.Dimensions) * c.CompressionRatio)
	if n < 1 {
		n = 1
	}
	return n
}

// CachedVector is one stored embedding.
type CachedVector struct {
	EntityID         string         `json:"entityId"`
	EntityType       string         `json:"entityType"`
	Vector           []float32      `json:"vector"`
	CompressedVector []float32      `json:"compressedVector,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
}

// Stats summarizes processor state.
type Stats struct {
	Enabled              bool      `json:"enabled"`
	Count                int       `json:"count"`
	Capacity             int       `json:"capacity"`
	Evictions            int64     `json:"evictions"`
	Searches             int64     `json:"searches"`
	Algorithm            Algorithm `json:"algorithm"`
	Dimensions           int       `json:"dimensions"`
	CompressedDimensions int       `json:"compressedDimensions"`
}

// Processor is safe for concurrent use.
type Processor struct {
	logger *zap.Logger

	mu         sync.RWMutex
	cfg        Config
	vectors    *simplelru.LRU[string, *CachedVector]
	projection [][]float32
	evictions  int64
	searches   atomic.Int64
}

// New builds a processor. An invalid config falls back to the defaults.
func New(cfg Config, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Processor{logger: logger.Named("localvector")}
	if err := cfg.Validate(); err != nil {
		p.logger.Warn("invalid local vector config, using defaults", zap.Error(err))
		cfg = DefaultConfig()
	}
	p.cfg = cfg
	// Entries are only read with Peek, so the list stays in insertion order.
	p.vectors, _ = simplelru.NewLRU[string, *CachedVector](cfg.MaxCachedVectors, nil)
	p.projection = buildProjection(cfg)
	return p
}

// buildProjection returns a target x source matrix with weights uniform in
// [-1,1], or nil when compression is off.
func buildProjection(cfg Config) [][]float32 {
	target := cfg.CompressedDimensions()
	if target == 0 {
		return nil
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	m := make([][]float32, target)
	for i := range m {
		row := make([]float32, cfg.Dimensions)
		for j := range row {
			row[j] = float32(rng.Float64()*2 - 1)
		}
		m[i] = row
	}
	return m
}

func project(m [][]float32, v []float32) []float32 {
	if len(m) == 0 || len(m[0]) != len(v) {
		return nil
	}
	out := make([]float32, len(m))
	for i, row := range m {
		var sum float32
		for j, w := range row {
			sum += w * v[j]
		}
		out[i] = sum
	}
	return out
}

// Config returns the active configuration.
func (p *Processor) Config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// AddVector stores or replaces an entity's vector. It reports false when the
// processor is disabled or the vector has the wrong dimension.
func (p *Processor) AddVector(entityID, entityType string, vector []float32, metadata map[string]any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.cfg.Enabled || entityID == "" {
		return false
	}
	if len(vector) != p.cfg.Dimensions {
		p.logger.Debug("skipping vector with unexpected dimensions",
			zap.String("entity_id", entityID), zap.Int("got", len(vector)), zap.Int("want", p.cfg.Dimensions))
		return false
	}
	cv := &CachedVector{
		EntityID:   entityID,
		EntityType: entityType,
		Vector:     slices.Clone(vector),
		Metadata:   maps.Clone(metadata),
		Timestamp:  time.Now(),
	}
	cv.CompressedVector = project(p.projection, cv.Vector)
	p.insertLocked(cv)
	return true
}

// insertLocked re-inserting an id counts as a fresh insertion.
func (p *Processor) insertLocked(cv *CachedVector) {
	if p.vectors.Contains(cv.EntityID) {
		p.vectors.Remove(cv.EntityID)
	} else if p.vectors.Len() >= p.cfg.MaxCachedVectors {
		if id, _, ok := p.vectors.RemoveOldest(); ok {
			p.evictions++
			p.logger.Debug("evicted oldest vector", zap.String("entity_id", id))
		}
	}
	p.vectors.Add(cv.EntityID, cv)
}

// RemoveVector drops an entity; it reports whether it was present.
func (p *Processor) RemoveVector(entityID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vectors.Remove(entityID)
}

// Has reports whether an entity is cached.
func (p *Processor) Has(entityID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.vectors.Contains(entityID)
}

// Len returns the number of cached vectors.
func (p *Processor) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.vectors.Len()
}

// FindSimilar scans every cached vector, keeps those of the requested types
// scoring at least minScore, and returns the best limit in descending order.
func (p *Processor) FindSimilar(query []float32, entityTypes []string, limit int, minScore float64) []apptype.SearchResult {
	p.searches.Add(1)

	p.mu.RLock()
	defer p.mu.RUnlock()
	results := []apptype.SearchResult{}
	if !p.cfg.Enabled || len(query) != p.cfg.Dimensions {
		return results
	}
	if limit <= 0 {
		limit = apptype.DefaultSearchLimit
	}

	q := query
	compressed := p.projection != nil
	if compressed {
		q = project(p.projection, query)
	}

	for _, id := range p.vectors.Keys() {
		cv, ok := p.vectors.Peek(id)
		if !ok {
			continue
		}
		if len(entityTypes) > 0 && !slices.Contains(entityTypes, cv.EntityType) {
			continue
		}
		v := cv.Vector
		if compressed {
			v = cv.CompressedVector
		}
		score := Similarity(p.cfg.Algorithm, q, v)
		if score < minScore {
			continue
		}
		results = append(results, apptype.SearchResult{
			EntityID:   cv.EntityID,
			EntityType: cv.EntityType,
			Score:      score,
			Source:     "local",
			Metadata:   maps.Clone(cv.Metadata),
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// UpdateConfig swaps the configuration and rebuilds derived state: the
// projection and compressed vectors when compression settings change, and
// the capacity when it shrinks.
func (p *Processor) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.cfg
	p.cfg = cfg

	if cfg.Dimensions != old.Dimensions {
		// Stored vectors no longer match the embedding size.
		p.vectors.Purge()
	}
	if cfg.MaxCachedVectors != old.MaxCachedVectors {
		if evicted := p.vectors.Resize(cfg.MaxCachedVectors); evicted > 0 {
			p.evictions += int64(evicted)
		}
	}
	if cfg.CompressionRatio != old.CompressionRatio || cfg.Dimensions != old.Dimensions || cfg.Seed != old.Seed {
		p.projection = buildProjection(cfg)
		for _, id := range p.vectors.Keys() {
			if cv, ok := p.vectors.Peek(id); ok {
				cv.CompressedVector = project(p.projection, cv.Vector)
			}
		}
	}
	p.logger.Info("local vector config updated",
		zap.Int("max_cached_vectors", cfg.MaxCachedVectors),
		zap.Float64("compression_ratio", cfg.CompressionRatio),
		zap.String("algorithm", string(cfg.Algorithm)))
	return nil
}

// Clear drops every cached vector.
func (p *Processor) Clear() {
	p.mu.Lock()
	p.vectors.Purge()
	p.mu.Unlock()
}

// Stats returns a snapshot of processor counters.
func (p *Processor) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{
		Enabled:              p.cfg.Enabled,
		Count:                p.vectors.Len(),
		Capacity:             p.cfg.MaxCachedVectors,
		Evictions:            p.evictions,
		Searches:             p.searches.Load(),
		Algorithm:            p.cfg.Algorithm,
		Dimensions:           p.cfg.Dimensions,
		CompressedDimensions: p.cfg.CompressedDimensions(),
	}
}
