// Package degraded gates campaign features by priority as the vector service
// degrades and recovers.
package degraded

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/metrics"
)

// Feature is a gated capability. Enabled is recomputed from Priority on every
// level change; Degraded is Enabled at any level other than NORMAL.
type Feature struct {
	ID           string   `json:"id"`
	Description  string   `json:"description,omitempty"`
	Priority     Priority `json:"priority"`
	MinimumLevel Level    `json:"minimumLevel"`
	Enabled      bool     `json:"enabled"`
	Degraded     bool     `json:"degraded"`
}

// Config is fixed at construction.
type Config struct {
	InitialLevel         Level
	AutoRecovery         bool
	CheckInterval        time.Duration
	RecoveryThreshold    int
	DegradationThreshold int
	Features             []Feature
}

// DefaultConfig starts at NORMAL with the campaign feature catalogue.
func DefaultConfig() Config {
	return Config{
		InitialLevel:         LevelNormal,
		AutoRecovery:         true,
		CheckInterval:        30 * time.Second,
		RecoveryThreshold:    5,
		DegradationThreshold: 3,
		Features:             DefaultFeatures(),
	}
}

// DefaultFeatures lists the campaign manager features that depend on vector
// search.
func DefaultFeatures() []Feature {
	return []Feature{
		{ID: "keyword_search", Priority: PriorityCritical, Description: "Plain text search over entity names and descriptions"},
		{ID: "local_vector_fallback", Priority: PriorityCritical, Description: "Approximate similarity from the in-memory vector cache"},
		{ID: "semantic_search", Priority: PriorityHigh, Description: "Similarity search against the remote vector index"},
		{ID: "embedding_generation", Priority: PriorityHigh, Description: "Embedding new or edited entities"},
		{ID: "similar_entity_suggestions", Priority: PriorityMedium, Description: "Related characters, locations and items on entity pages"},
		{ID: "auto_embedding_sync", Priority: PriorityLow, Description: "Background re-embedding of changed entities"},
		{ID: "related_content_panel", Priority: PriorityOptional, Description: "Session recap panel of related content"},
		{ID: "bulk_reindex", Priority: PriorityOptional, Description: "Full campaign reindex"},
	}
}

// LevelChange is emitted after every level transition.
type LevelChange struct {
	Previous Level     `json:"previous"`
	Current  Level     `json:"current"`
	Enabled  []string  `json:"enabled"`
	Disabled []string  `json:"disabled"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// Stats reports the manager counters since the last level change.
type Stats struct {
	Level      Level     `json:"level"`
	LevelSince time.Time `json:"levelSince"`
	Successes  int       `json:"successes"`
	Failures   int       `json:"failures"`
	Enabled    int       `json:"enabled"`
	Disabled   int       `json:"disabled"`
}

// Manager is safe for concurrent use.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu         sync.RWMutex
	level      Level
	levelSince time.Time
	successes  int
	failures   int
	features   map[string]*Feature

	subMu   sync.RWMutex
	subs    map[int]func(LevelChange)
	nextSub int
}

// New creates a manager at cfg.InitialLevel.
func New(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := DefaultConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = d.CheckInterval
	}
	if cfg.RecoveryThreshold <= 0 {
		cfg.RecoveryThreshold = d.RecoveryThreshold
	}
	if cfg.DegradationThreshold <= 0 {
		cfg.DegradationThreshold = d.DegradationThreshold
	}
	if cfg.InitialLevel < LevelNormal || cfg.InitialLevel > LevelCritical {
		cfg.InitialLevel = LevelNormal
	}
	m := &Manager{
		cfg:        cfg,
		logger:     logger.Named("degraded"),
		level:      cfg.InitialLevel,
		levelSince: time.Now(),
		features:   make(map[string]*Feature),
		subs:       make(map[int]func(LevelChange)),
	}
	for _, f := range cfg.Features {
		m.registerLocked(f)
	}
	metrics.Default().SetDegradedLevel(int(m.level))
	return m
}

func (m *Manager) registerLocked(f Feature) {
	f.MinimumLevel = f.Priority.MinimumLevel()
	f.Enabled = f.Priority.EnabledAt(m.level)
	f.Degraded = f.Enabled && m.level != LevelNormal
	m.features[f.ID] = &f
}

// RegisterFeature adds or replaces a feature and evaluates it at the current level.
func (m *Manager) RegisterFeature(f Feature) error {
	if f.ID == "" {
		return fmt.Errorf("feature id is required")
	}
	m.mu.Lock()
	m.registerLocked(f)
	m.mu.Unlock()
	return nil
}

// UnregisterFeature removes a feature.
func (m *Manager) UnregisterFeature(id string) {
	m.mu.Lock()
	delete(m.features, id)
	m.mu.Unlock()
}

// Level returns the current level.
func (m *Manager) Level() Level {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.level
}

// IsEnabled reports whether the feature is enabled; unknown features are not.
func (m *Manager) IsEnabled(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.features[id]
	return ok && f.Enabled
}

// Feature returns one feature.
func (m *Manager) Feature(id string) (Feature, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.features[id]
	if !ok {
		return Feature{}, false
	}
	return *f, true
}

// Features returns every feature ordered by priority, then id.
func (m *Manager) Features() []Feature {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Feature, 0, len(m.features))
	for _, f := range m.features {
		out = append(out, *f)
	}
	slices.SortFunc(out, func(a, b Feature) int {
		if a.Priority != b.Priority {
			return int(a.Priority) - int(b.Priority)
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}

// RecordSuccess counts a healthy operation toward recovery.
func (m *Manager) RecordSuccess() {
	m.mu.Lock()
	m.successes++
	m.mu.Unlock()
}

// RecordFailure counts a failed operation and degrades one level once the
// degradation threshold is reached.
func (m *Manager) RecordFailure() {
	m.mu.Lock()
	m.failures++
	if m.failures < m.cfg.DegradationThreshold || m.level == LevelCritical {
		m.mu.Unlock()
		return
	}
	change := m.setLevelLocked(m.level+1, fmt.Sprintf("%d failures", m.failures))
	m.mu.Unlock()
	m.emit(change)
}

// CheckRecovery improves the level by one step when enough successes have
// accumulated. It reports whether the level changed.
func (m *Manager) CheckRecovery() bool {
	m.mu.Lock()
	if m.level == LevelNormal || m.successes < m.cfg.RecoveryThreshold {
		m.mu.Unlock()
		return false
	}
	change := m.setLevelLocked(m.level-1, fmt.Sprintf("%d successes", m.successes))
	m.mu.Unlock()
	m.emit(change)
	return change != nil
}

// SetLevel forces a level. It reports whether the level changed.
func (m *Manager) SetLevel(l Level, reason string) bool {
	if l < LevelNormal || l > LevelCritical {
		return false
	}
	m.mu.Lock()
	change := m.setLevelLocked(l, reason)
	m.mu.Unlock()
	m.emit(change)
	return change != nil
}

func (m *Manager) setLevelLocked(l Level, reason string) *LevelChange {
	if l == m.level {
		return nil
	}
	prev := m.level
	m.level = l
	m.levelSince = time.Now()
	m.successes, m.failures = 0, 0

	change := &LevelChange{Previous: prev, Current: l, Reason: reason, At: m.levelSince}
	for id, f := range m.features {
		f.Enabled = f.Priority.EnabledAt(l)
		f.Degraded = f.Enabled && l != LevelNormal
		if f.Enabled {
			change.Enabled = append(change.Enabled, id)
		} else {
			change.Disabled = append(change.Disabled, id)
		}
	}
	slices.Sort(change.Enabled)
	slices.Sort(change.Disabled)

	metrics.Default().SetDegradedLevel(int(l))
	m.logger.Info("degradation level changed",
		zap.Stringer("from", prev),
		zap.Stringer("to", l),
		zap.String("reason", reason),
		zap.Strings("disabled", change.Disabled))
	return change
}

// Run performs periodic recovery checks until ctx is done. It returns
// immediately when auto recovery is off.
func (m *Manager) Run(ctx context.Context) {
	if !m.cfg.AutoRecovery {
		return
	}
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckRecovery()
		}
	}
}

// Stats returns the current level and counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{Level: m.level, LevelSince: m.levelSince, Successes: m.successes, Failures: m.failures}
	for _, f := range m.features {
		if f.Enabled {
			s.Enabled++
		} else {
			s.Disabled++
		}
	}
	return s
}

// Subscribe registers fn for level changes and returns a function removing it.
func (m *Manager) Subscribe(fn func(LevelChange)) (unsubscribe func()) {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subMu.Unlock()
	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

func (m *Manager) emit(change *LevelChange) {
	if change == nil {
		return
	}
	m.subMu.RLock()
	fns := make([]func(LevelChange), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.RUnlock()
	for _, fn := range fns {
		fn(*change)
	}
}
