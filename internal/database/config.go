package database

import (
	"os"
	"strconv"
)

// Config holds the database configuration
type Config struct {
	URL               string
	AuthToken         string
	CampaignsDir      string
	MultiCampaignMode bool
	EmbeddingDims     int

	MaxOpenConns   int
	MaxIdleConns   int
	ConnMaxIdleSec int
	ConnMaxLifeSec int

	// MaxCacheRows bounds the cache_entries table; writes beyond it fail with
	// cache.ErrQuotaExceeded. Zero means unbounded.
	MaxCacheRows int
}

// NewConfig creates a new Config from environment variables
func NewConfig() *Config {
	url := os.Getenv("LIBSQL_URL")
	if url == "" {
		url = "file:./campaign-vectors.db"
	}
	dims := 768
	if v, err := strconv.Atoi(os.Getenv("EMBEDDING_DIMS")); err == nil && v > 0 {
		dims = v
	}
	return &Config{
		URL:           url,
		AuthToken:     os.Getenv("LIBSQL_AUTH_TOKEN"),
		EmbeddingDims: dims,
		MaxCacheRows:  10000,
	}
}
