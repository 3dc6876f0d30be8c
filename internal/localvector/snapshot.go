package localvector

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"go.uber.org/zap"
)

const snapshotVersion = 1

// Snapshot is the serializable form of the processor cache, oldest first.
type Snapshot struct {
	Version    int            `json:"version"`
	Dimensions int            `json:"dimensions"`
	ExportedAt time.Time      `json:"exportedAt"`
	Vectors    []CachedVector `json:"vectors"`
}

// Export copies every cached vector in insertion order. Compressed vectors
// are omitted; they are rebuilt on import.
func (p *Processor) Export() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := Snapshot{
		Version:    snapshotVersion,
		Dimensions: p.cfg.Dimensions,
		ExportedAt: time.Now().UTC(),
		Vectors:    make([]CachedVector, 0, p.vectors.Len()),
	}
	for _, id := range p.vectors.Keys() {
		if cv, ok := p.vectors.Peek(id); ok {
			c := *cv
			c.Vector = slices.Clone(cv.Vector)
			c.CompressedVector = nil
			s.Vectors = append(s.Vectors, c)
		}
	}
	return s
}

// Import loads a snapshot on top of the current cache and returns how many
// vectors were accepted. Vectors of the wrong dimension are skipped.
func (p *Processor) Import(s Snapshot) (int, error) {
	if s.Version != snapshotVersion {
		return 0, fmt.Errorf("unsupported snapshot version %d", s.Version)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.cfg.Enabled {
		return 0, nil
	}
	n := 0
	for i := range s.Vectors {
		cv := s.Vectors[i]
		if cv.EntityID == "" || len(cv.Vector) != p.cfg.Dimensions {
			continue
		}
		cv.Vector = slices.Clone(cv.Vector)
		cv.CompressedVector = project(p.projection, cv.Vector)
		if cv.Timestamp.IsZero() {
			cv.Timestamp = time.Now()
		}
		p.insertLocked(&cv)
		n++
	}
	if skipped := len(s.Vectors) - n; skipped > 0 {
		p.logger.Warn("skipped snapshot vectors", zap.Int("skipped", skipped))
	}
	return n, nil
}

// SaveFile writes the snapshot as JSON, replacing path atomically.
func (p *Processor) SaveFile(path string) error {
	data, err := json.Marshal(p.Export())
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadFile imports a snapshot written by SaveFile. A missing file is not an
// error.
func (p *Processor) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read snapshot: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return 0, fmt.Errorf("decode snapshot: %w", err)
	}
	return p.Import(s)
}
