package vectors

import (
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/config"
)

// Config exposes a stable subset of the configuration in package mode.
// Zero fields keep the built-in defaults.
type Config struct {
	URL               string
	AuthToken         string
	CampaignsDir      string
	MultiCampaignMode bool
	CampaignID        string

	EmbeddingDims      int
	EmbeddingsProvider string
	EmbeddingsModel    string
	EmbeddingsAPIKey   string
	EmbeddingsBaseURL  string

	// CacheBackend is "libsql" (default), "redis" or "memory".
	CacheBackend string
	RedisAddr    string

	// MilvusAddress enables the Milvus index.
	MilvusAddress string

	// SnapshotPath persists the local vector cache between runs.
	SnapshotPath string
}

func (c *Config) toInternal() *config.Config {
	out := config.Default()
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&out.Database.URL, c.URL)
	set(&out.Database.AuthToken, c.AuthToken)
	set(&out.Database.CampaignsDir, c.CampaignsDir)
	out.Database.MultiCampaignMode = c.MultiCampaignMode
	set(&out.Service.CampaignID, c.CampaignID)
	if c.EmbeddingDims > 0 {
		out.Embeddings.Dimensions = c.EmbeddingDims
	}
	set(&out.Embeddings.Provider, c.EmbeddingsProvider)
	set(&out.Embeddings.Model, c.EmbeddingsModel)
	set(&out.Embeddings.APIKey, c.EmbeddingsAPIKey)
	set(&out.Embeddings.BaseURL, c.EmbeddingsBaseURL)
	set(&out.Database.CacheBackend, c.CacheBackend)
	set(&out.Redis.Addr, c.RedisAddr)
	set(&out.Milvus.Address, c.MilvusAddress)
	set(&out.LocalVector.SnapshotPath, c.SnapshotPath)
	return out
}
