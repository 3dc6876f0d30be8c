package apptype

// ScopeArgs narrows a call to one world or campaign.
type ScopeArgs struct {
	WorldID    string `json:"worldId,omitempty" jsonschema:"Restrict to entities of this world."`
	CampaignID string `json:"campaignId,omitempty" jsonschema:"Restrict to entities of this campaign."`
}

// GenerateEmbeddingArgs represents the arguments for the generate_embedding tool
type GenerateEmbeddingArgs struct {
	Text      string `json:"text" jsonschema:"The text to embed."`
	Model     string `json:"model,omitempty" jsonschema:"Optional model override understood by the embedding provider."`
	SkipCache bool   `json:"skipCache,omitempty" jsonschema:"Bypass the embedding cache and call the provider."`
}

type GenerateEmbeddingResult struct {
	Vector     []float32 `json:"vector"`
	Dimensions int       `json:"dimensions"`
	Level      string    `json:"level"`
}

// FindSimilarArgs represents the arguments for the find_similar tool
type FindSimilarArgs struct {
	ScopeArgs   ScopeArgs   `json:"scope,omitempty" jsonschema:"World or campaign scope for the search."`
	Query       interface{} `json:"query" jsonschema:"The search query. Can be a string for text search or a []float32 for vector similarity search."`
	EntityTypes []string    `json:"entityTypes,omitempty" jsonschema:"Only return these entity types (character, location, item, session, ...)."`
	Limit       int         `json:"limit,omitempty" jsonschema:"Maximum number of results to return (default 10)."`
	MinScore    float64     `json:"minScore,omitempty" jsonschema:"Minimum similarity score in [0,1]."`
}

// FindSimilarResult carries ranked hits and the service level that served them.
type FindSimilarResult struct {
	Results []SearchResult `json:"results"`
	Level   string         `json:"level"`
}

// StoreEmbeddingArgs represents the arguments for the store_embedding tool.
// When Vector is empty the text is embedded first.
type StoreEmbeddingArgs struct {
	ScopeArgs  ScopeArgs      `json:"scope,omitempty" jsonschema:"World or campaign the entity belongs to."`
	EntityID   string         `json:"entityId,omitempty" jsonschema:"Entity id; generated when omitted."`
	EntityType string         `json:"entityType" jsonschema:"Entity type (character, location, item, session, ...)."`
	Text       string         `json:"text,omitempty" jsonschema:"Source text of the entity, used for embedding and keyword search."`
	Vector     []float32      `json:"vector,omitempty" jsonschema:"Precomputed embedding."`
	Metadata   map[string]any `json:"metadata,omitempty" jsonschema:"Free-form metadata returned with search hits."`
}

type StoreEmbeddingResult struct {
	EntityID string `json:"entityId"`
	Remote   bool   `json:"remote"`
	Level    string `json:"level"`
}

// RemoveEmbeddingArgs represents the arguments for the remove_embedding tool
type RemoveEmbeddingArgs struct {
	EntityID string `json:"entityId" jsonschema:"Entity id to remove from every index and cache."`
}

type RemoveEmbeddingResult struct {
	EntityID string `json:"entityId"`
	Removed  bool   `json:"removed"`
}

// ServiceStatusArgs has no fields; the tool reports the whole service.
type ServiceStatusArgs struct{}

// FeatureStatusArgs optionally filters the feature list.
type FeatureStatusArgs struct {
	FeatureID string `json:"featureId,omitempty" jsonschema:"Report only this feature."`
}

// FeatureState is one feature as seen by callers.
type FeatureState struct {
	ID          string `json:"id"`
	Priority    string `json:"priority"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description,omitempty"`
}

type FeatureStatusResult struct {
	Level    string         `json:"level"`
	Features []FeatureState `json:"features"`
}

// BreakerControlArgs represents the arguments for the breaker_control tool
type BreakerControlArgs struct {
	Action string `json:"action" jsonschema:"reset or trip."`
	Reason string `json:"reason,omitempty" jsonschema:"Reason recorded in the transition history when tripping."`
}

type BreakerControlResult struct {
	State string `json:"state"`
}

// Health
type HealthArgs struct{}

type HealthResult struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	Revision      string `json:"revision"`
	BuildDate     string `json:"buildDate"`
	Level         string `json:"level"`
	EmbeddingDims int    `json:"embeddingDims"`
}
