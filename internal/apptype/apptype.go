package apptype

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"slices"
	"strings"
)

// Entity types used by the campaign manager.
const (
	EntityCharacter = "character"
	EntityLocation  = "location"
	EntityItem      = "item"
	EntitySession   = "session"
	EntityFaction   = "faction"
	EntityEvent     = "event"
)

// EmbeddingRecord is the embedding of one campaign entity
type EmbeddingRecord struct {
	EntityID   string         `json:"entityId"`
	EntityType string         `json:"entityType"`
	Vector     []float32      `json:"vector"`
	Text       string         `json:"text,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	WorldID    string         `json:"worldId,omitempty"`
	CampaignID string         `json:"campaignId,omitempty"`
}

// SearchResult is one ranked similarity hit. Source names the strategy that
// produced it.
type SearchResult struct {
	EntityID   string         `json:"entityId"`
	EntityType string         `json:"entityType"`
	Score      float64        `json:"score"`
	Source     string         `json:"source,omitempty"`
	Text       string         `json:"text,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Vector     []float32      `json:"vector,omitempty"`
}

// SearchOptions filters and bounds a similarity search.
type SearchOptions struct {
	EntityTypes []string `json:"entityTypes,omitempty"`
	Limit       int      `json:"limit,omitempty"`
	MinScore    float64  `json:"minScore,omitempty"`
	WorldID     string   `json:"worldId,omitempty"`
	CampaignID  string   `json:"campaignId,omitempty"`
}

// DefaultSearchLimit applies when Limit is zero.
const DefaultSearchLimit = 10

// Normalized returns a copy with a default limit and sorted entity types.
func (o SearchOptions) Normalized() SearchOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultSearchLimit
	}
	if len(o.EntityTypes) > 0 {
		types := slices.Clone(o.EntityTypes)
		slices.Sort(types)
		o.EntityTypes = slices.Compact(types)
	}
	return o
}

// Key renders the options deterministically for cache keys.
func (o SearchOptions) Key() string {
	n := o.Normalized()
	return fmt.Sprintf("t=%s|l=%d|m=%g|w=%s|c=%s", strings.Join(n.EntityTypes, ","), n.Limit, n.MinScore, n.WorldID, n.CampaignID)
}

// AllowsType reports whether entityType passes the type filter.
func (o SearchOptions) AllowsType(entityType string) bool {
	return len(o.EntityTypes) == 0 || slices.Contains(o.EntityTypes, entityType)
}

// Query is a similarity query given as text, as a vector, or both.
type Query struct {
	Text   string    `json:"text,omitempty"`
	Vector []float32 `json:"vector,omitempty"`
}

// Empty reports whether the query carries neither text nor a vector.
func (q Query) Empty() bool { return strings.TrimSpace(q.Text) == "" && len(q.Vector) == 0 }

// Key is a stable digest of the query contents.
func (q Query) Key() string {
	h := sha256.New()
	h.Write([]byte(q.Text))
	var buf [4]byte
	for _, f := range q.Vector {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(f))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// EmbeddingOptions tunes embedding generation.
type EmbeddingOptions struct {
	Model string `json:"model,omitempty"`
	// SkipCache forces a remote call.
	SkipCache bool `json:"skipCache,omitempty"`
}

// IndexMetadata describes a remote vector index. World and campaign ids scope
// which entities an index serves; they are filter keys, not ownership.
type IndexMetadata struct {
	ID              string   `json:"id"`
	EntityTypes     []string `json:"entityTypes"`
	Dimensions      int      `json:"dimensions"`
	DistanceMeasure string   `json:"distanceMeasure"`
	Status          string   `json:"status"`
	VectorCount     int64    `json:"vectorCount"`
	WorldID         string   `json:"worldId,omitempty"`
	CampaignID      string   `json:"campaignId,omitempty"`
}

// Serves reports whether the index covers a request for the given types and
// scope. An index without entity types serves every type.
func (m IndexMetadata) Serves(entityTypes []string, worldID, campaignID string) bool {
	if m.WorldID != "" && worldID != "" && m.WorldID != worldID {
		return false
	}
	if m.CampaignID != "" && campaignID != "" && m.CampaignID != campaignID {
		return false
	}
	if len(m.EntityTypes) == 0 || len(entityTypes) == 0 {
		return true
	}
	for _, t := range entityTypes {
		if slices.Contains(m.EntityTypes, t) {
			return true
		}
	}
	return false
}
