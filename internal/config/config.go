// Package config loads the process configuration from defaults, an optional
// YAML file, environment variables and command line flags, in increasing
// order of precedence.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apptype"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/breaker"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/cache"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/database"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/degraded"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/embeddings"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/fallback"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/localvector"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/logging"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/redisstore"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/retry"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/vectordb"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/vectorservice"
)

// EnvPrefix prefixes every environment variable, e.g.
// CAMPAIGN_VECTORS_BREAKER_FAILURE_THRESHOLD.
const EnvPrefix = "CAMPAIGN_VECTORS"

// Config is the full process configuration. It is not mutated after Load;
// reloads produce a new value.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Embeddings  EmbeddingsConfig  `mapstructure:"embeddings"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Milvus      MilvusConfig      `mapstructure:"milvus"`
	Breaker     BreakerConfig     `mapstructure:"breaker"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Cache       CacheConfig       `mapstructure:"cache"`
	LocalVector LocalVectorConfig `mapstructure:"local_vector"`
	Fallback    FallbackConfig    `mapstructure:"fallback"`
	Degraded    DegradedConfig    `mapstructure:"degraded"`
	Service     ServiceConfig     `mapstructure:"service"`
}

type ServerConfig struct {
	// Transport is "stdio" or "sse".
	Transport   string `mapstructure:"transport"`
	Addr        string `mapstructure:"addr"`
	SSEEndpoint string `mapstructure:"sse_endpoint"`
	// OpsAddr serves the operations API; empty disables it.
	OpsAddr string `mapstructure:"ops_addr"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type MetricsConfig struct {
	Prometheus bool   `mapstructure:"prometheus"`
	Addr       string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	URL               string `mapstructure:"url"`
	AuthToken         string `mapstructure:"auth_token"`
	CampaignsDir      string `mapstructure:"campaigns_dir"`
	MultiCampaignMode bool   `mapstructure:"multi_campaign"`
	MaxOpenConns      int    `mapstructure:"max_open_conns"`
	MaxIdleConns      int    `mapstructure:"max_idle_conns"`
	MaxCacheRows      int    `mapstructure:"max_cache_rows"`
	// CacheBackend selects the persistent cache tier store: "libsql",
	// "redis" or "memory".
	CacheBackend string `mapstructure:"cache_backend"`
}

type EmbeddingsConfig struct {
	Provider   string        `mapstructure:"provider"`
	Model      string        `mapstructure:"model"`
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Dimensions int           `mapstructure:"dims"`
	AdaptMode  string        `mapstructure:"adapt_mode"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type MilvusConfig struct {
	// Address enables the Milvus index when set.
	Address    string   `mapstructure:"address"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	DBName     string   `mapstructure:"db_name"`
	Collection string   `mapstructure:"collection"`
	WorldID    string   `mapstructure:"world_id"`
	EntityType []string `mapstructure:"entity_types"`
}

type BreakerConfig struct {
	FailureThreshold      int           `mapstructure:"failure_threshold"`
	ResetTimeout          time.Duration `mapstructure:"reset_timeout"`
	HalfOpenMaxRequests   int           `mapstructure:"half_open_max_requests"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
	FailureWindow         time.Duration `mapstructure:"failure_window"`
	MaxResetTimeout       time.Duration `mapstructure:"max_reset_timeout"`
	ResponseTimeThreshold time.Duration `mapstructure:"response_time_threshold"`
	SlowResponseThreshold int           `mapstructure:"slow_response_threshold"`
	PredictiveFailure     bool          `mapstructure:"predictive_failure"`
}

type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	JitterFactor   float64       `mapstructure:"jitter_factor"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

type TierConfig struct {
	MaxEntries int           `mapstructure:"max_entries"`
	TTL        time.Duration `mapstructure:"ttl"`
}

type CacheConfig struct {
	EmbeddingMemory     TierConfig `mapstructure:"embedding_memory"`
	EmbeddingPersistent TierConfig `mapstructure:"embedding_persistent"`
	SearchMemory        TierConfig `mapstructure:"search_memory"`
	SearchPersistent    TierConfig `mapstructure:"search_persistent"`
}

type LocalVectorConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	MaxCachedVectors int     `mapstructure:"max_cached_vectors"`
	CompressionRatio float64 `mapstructure:"compression_ratio"`
	Algorithm        string  `mapstructure:"algorithm"`
	Seed             uint64  `mapstructure:"seed"`
	SnapshotPath     string  `mapstructure:"snapshot_path"`
	WarmLimit        int     `mapstructure:"warm_limit"`
}

type FallbackConfig struct {
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	CacheSize int           `mapstructure:"cache_size"`
}

type DegradedConfig struct {
	InitialLevel         string        `mapstructure:"initial_level"`
	AutoRecovery         bool          `mapstructure:"auto_recovery"`
	CheckInterval        time.Duration `mapstructure:"check_interval"`
	RecoveryThreshold    int           `mapstructure:"recovery_threshold"`
	DegradationThreshold int           `mapstructure:"degradation_threshold"`
}

type ServiceConfig struct {
	CampaignID           string        `mapstructure:"campaign_id"`
	HealthCheckInterval  time.Duration `mapstructure:"health_check_interval"`
	HealthCheckTimeout   time.Duration `mapstructure:"health_check_timeout"`
	DegradedFailureRate  float64       `mapstructure:"degraded_failure_rate"`
	EmergencyFailureRate float64       `mapstructure:"emergency_failure_rate"`
	MinRequestsForRate   int64         `mapstructure:"min_requests_for_rate"`
	FailureRateWindow    time.Duration `mapstructure:"failure_rate_window"`
}

// legacyEnv maps keys to the unprefixed variables earlier releases read.
var legacyEnv = map[string]string{
	"database.url":        "LIBSQL_URL",
	"database.auth_token": "LIBSQL_AUTH_TOKEN",
	"embeddings.provider": "EMBEDDINGS_PROVIDER",
	"embeddings.api_key":  "OPENAI_API_KEY",
	"embeddings.base_url": "OLLAMA_HOST",
	"embeddings.dims":     "EMBEDDING_DIMS",
	"metrics.prometheus":  "METRICS_PROMETHEUS",
	"metrics.addr":        "METRICS_ADDR",
}

// flagKeys maps command line flag names to configuration keys.
var flagKeys = map[string]string{
	"config":         "",
	"libsql-url":     "database.url",
	"auth-token":     "database.auth_token",
	"campaigns-dir":  "database.campaigns_dir",
	"transport":      "server.transport",
	"addr":           "server.addr",
	"sse-endpoint":   "server.sse_endpoint",
	"ops-addr":       "server.ops_addr",
	"log-level":      "logging.level",
	"embeddings":     "embeddings.provider",
	"embedding-dims": "embeddings.dims",
}

func setDefaults(v *viper.Viper) {
	svc := vectorservice.DefaultConfig()
	lv := localvector.DefaultConfig()
	dg := degraded.DefaultConfig()
	lg := logging.DefaultConfig()

	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.sse_endpoint", "/sse")
	v.SetDefault("server.ops_addr", "")

	v.SetDefault("logging.level", lg.Level)
	v.SetDefault("logging.format", lg.Format)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", lg.MaxSize)
	v.SetDefault("logging.max_backups", lg.MaxBackups)
	v.SetDefault("logging.max_age_days", lg.MaxAge)
	v.SetDefault("logging.compress", lg.Compress)

	v.SetDefault("metrics.prometheus", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("database.url", "file:./campaign-vectors.db")
	v.SetDefault("database.auth_token", "")
	v.SetDefault("database.campaigns_dir", "")
	v.SetDefault("database.multi_campaign", false)
	v.SetDefault("database.max_open_conns", 0)
	v.SetDefault("database.max_idle_conns", 0)
	v.SetDefault("database.max_cache_rows", 10000)
	v.SetDefault("database.cache_backend", "libsql")

	v.SetDefault("embeddings.provider", "")
	v.SetDefault("embeddings.model", "")
	v.SetDefault("embeddings.api_key", "")
	v.SetDefault("embeddings.base_url", "")
	v.SetDefault("embeddings.dims", 768)
	v.SetDefault("embeddings.adapt_mode", "pad_or_truncate")
	v.SetDefault("embeddings.timeout", 30*time.Second)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "campaign-vectors:")

	v.SetDefault("milvus.address", "")
	v.SetDefault("milvus.username", "")
	v.SetDefault("milvus.password", "")
	v.SetDefault("milvus.db_name", "")
	v.SetDefault("milvus.collection", vectordb.DefaultCollection)
	v.SetDefault("milvus.world_id", "")
	v.SetDefault("milvus.entity_types", []string{})

	v.SetDefault("breaker.failure_threshold", svc.Breaker.FailureThreshold)
	v.SetDefault("breaker.reset_timeout", svc.Breaker.ResetTimeout)
	v.SetDefault("breaker.half_open_max_requests", svc.Breaker.HalfOpenMaxRequests)
	v.SetDefault("breaker.request_timeout", svc.Breaker.RequestTimeout)
	v.SetDefault("breaker.failure_window", svc.Breaker.FailureWindow)
	v.SetDefault("breaker.max_reset_timeout", svc.Breaker.MaxResetTimeout)
	v.SetDefault("breaker.response_time_threshold", svc.Breaker.ResponseTimeThreshold)
	v.SetDefault("breaker.slow_response_threshold", svc.Breaker.SlowResponseThreshold)
	v.SetDefault("breaker.predictive_failure", svc.Breaker.PredictiveFailure)

	v.SetDefault("retry.max_attempts", svc.Retry.MaxAttempts)
	v.SetDefault("retry.base_delay", svc.Retry.BaseDelay)
	v.SetDefault("retry.max_delay", svc.Retry.MaxDelay)
	v.SetDefault("retry.jitter_factor", svc.Retry.JitterFactor)
	v.SetDefault("retry.attempt_timeout", svc.Retry.AttemptTimeout)

	setTierDefaults(v, "cache.embedding_memory", svc.EmbeddingCache.Memory)
	setTierDefaults(v, "cache.embedding_persistent", svc.EmbeddingCache.Persistent)
	setTierDefaults(v, "cache.search_memory", svc.SearchCache.Memory)
	setTierDefaults(v, "cache.search_persistent", svc.SearchCache.Persistent)

	v.SetDefault("local_vector.enabled", lv.Enabled)
	v.SetDefault("local_vector.max_cached_vectors", lv.MaxCachedVectors)
	v.SetDefault("local_vector.compression_ratio", lv.CompressionRatio)
	v.SetDefault("local_vector.algorithm", string(lv.Algorithm))
	v.SetDefault("local_vector.seed", lv.Seed)
	v.SetDefault("local_vector.snapshot_path", "")
	v.SetDefault("local_vector.warm_limit", svc.WarmLimit)

	v.SetDefault("fallback.cache_ttl", svc.Fallback.CacheTTL)
	v.SetDefault("fallback.cache_size", svc.Fallback.CacheSize)

	v.SetDefault("degraded.initial_level", dg.InitialLevel.String())
	v.SetDefault("degraded.auto_recovery", dg.AutoRecovery)
	v.SetDefault("degraded.check_interval", dg.CheckInterval)
	v.SetDefault("degraded.recovery_threshold", dg.RecoveryThreshold)
	v.SetDefault("degraded.degradation_threshold", dg.DegradationThreshold)

	v.SetDefault("service.campaign_id", "")
	v.SetDefault("service.health_check_interval", svc.HealthCheckInterval)
	v.SetDefault("service.health_check_timeout", svc.HealthCheckTimeout)
	v.SetDefault("service.degraded_failure_rate", svc.DegradedFailureRate)
	v.SetDefault("service.emergency_failure_rate", svc.EmergencyFailureRate)
	v.SetDefault("service.min_requests_for_rate", svc.MinRequestsForRate)
	v.SetDefault("service.failure_rate_window", svc.FailureRateWindow)
}

func setTierDefaults(v *viper.Viper, prefix string, t cache.TierConfig) {
	v.SetDefault(prefix+".max_entries", t.MaxEntries)
	v.SetDefault(prefix+".ttl", t.TTL)
}

// NewViper returns a viper instance with defaults, environment binding and,
// when fs is non-nil, the known flags bound on top. configFile may be empty,
// in which case config.yaml is searched in the usual places and is optional.
func NewViper(configFile string, fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.campaign-vectors")
		v.AddConfigPath("/etc/campaign-vectors")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", legacy, err)
		}
	}

	setDefaults(v)

	if fs != nil {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil || key == "" {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v, nil
}

// Load reads and validates the configuration.
func Load(configFile string, fs *pflag.FlagSet) (*Config, *viper.Viper, error) {
	v, err := NewViper(configFile, fs)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := FromViper(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// Default returns the built-in defaults, ignoring files and environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults do not decode: %v", err))
	}
	return &cfg
}

// FromViper decodes and validates the current state of v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	switch c.Server.Transport {
	case "stdio", "sse":
	default:
		add("server.transport must be stdio or sse, got %q", c.Server.Transport)
	}
	if c.Server.Transport == "sse" && !strings.HasPrefix(c.Server.SSEEndpoint, "/") {
		add("server.sse_endpoint must start with /")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		add("logging.format must be json or console, got %q", c.Logging.Format)
	}
	if c.Database.URL == "" && !c.Database.MultiCampaignMode {
		add("database.url is required")
	}
	if c.Database.MultiCampaignMode && c.Database.CampaignsDir == "" {
		add("database.campaigns_dir is required in multi campaign mode")
	}
	switch c.Database.CacheBackend {
	case "libsql", "memory":
	case "redis":
		if c.Redis.Addr == "" {
			add("redis.addr is required when database.cache_backend is redis")
		}
	default:
		add("database.cache_backend must be libsql, redis or memory, got %q", c.Database.CacheBackend)
	}
	if c.Embeddings.Dimensions <= 0 || c.Embeddings.Dimensions > 65536 {
		add("embeddings.dims must be between 1 and 65536, got %d", c.Embeddings.Dimensions)
	}
	if c.Breaker.FailureThreshold <= 0 {
		add("breaker.failure_threshold must be positive")
	}
	if c.Breaker.ResetTimeout <= 0 {
		add("breaker.reset_timeout must be positive")
	}
	if c.Breaker.HalfOpenMaxRequests <= 0 {
		add("breaker.half_open_max_requests must be positive")
	}
	if c.Breaker.MaxResetTimeout > 0 && c.Breaker.MaxResetTimeout < c.Breaker.ResetTimeout {
		add("breaker.max_reset_timeout must not be below breaker.reset_timeout")
	}
	if c.Retry.MaxAttempts <= 0 {
		add("retry.max_attempts must be positive")
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		add("retry delays must satisfy 0 < base_delay <= max_delay")
	}
	if c.Retry.JitterFactor < 0 || c.Retry.JitterFactor > 1 {
		add("retry.jitter_factor must be within [0,1]")
	}
	for name, t := range map[string]TierConfig{
		"embedding_memory":     c.Cache.EmbeddingMemory,
		"embedding_persistent": c.Cache.EmbeddingPersistent,
		"search_memory":        c.Cache.SearchMemory,
		"search_persistent":    c.Cache.SearchPersistent,
	} {
		if t.MaxEntries <= 0 || t.TTL <= 0 {
			add("cache.%s needs positive max_entries and ttl", name)
		}
	}
	if err := c.LocalVectorConfig().Validate(); err != nil {
		add("local_vector: %v", err)
	}
	if _, err := degraded.ParseLevel(c.Degraded.InitialLevel); err != nil {
		add("degraded.initial_level: %v", err)
	}
	if c.Service.DegradedFailureRate <= 0 || c.Service.DegradedFailureRate > c.Service.EmergencyFailureRate || c.Service.EmergencyFailureRate > 1 {
		add("service failure rates must satisfy 0 < degraded <= emergency <= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		FilePath:   c.Logging.File,
		MaxSize:    c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAgeDays,
		Compress:   c.Logging.Compress,
	}
}

func (c *Config) DatabaseConfig() *database.Config {
	return &database.Config{
		URL:               c.Database.URL,
		AuthToken:         c.Database.AuthToken,
		CampaignsDir:      c.Database.CampaignsDir,
		MultiCampaignMode: c.Database.MultiCampaignMode,
		EmbeddingDims:     c.Embeddings.Dimensions,
		MaxOpenConns:      c.Database.MaxOpenConns,
		MaxIdleConns:      c.Database.MaxIdleConns,
		MaxCacheRows:      c.Database.MaxCacheRows,
	}
}

func (c *Config) EmbeddingsConfig() embeddings.Config {
	return embeddings.Config{
		Provider:   c.Embeddings.Provider,
		Model:      c.Embeddings.Model,
		APIKey:     c.Embeddings.APIKey,
		BaseURL:    c.Embeddings.BaseURL,
		Timeout:    c.Embeddings.Timeout,
		Dimensions: c.Embeddings.Dimensions,
		AdaptMode:  c.Embeddings.AdaptMode,
	}
}

func (c *Config) RedisOptions() redisstore.Options {
	return redisstore.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		Prefix:   c.Redis.Prefix,
	}
}

// MilvusEnabled reports whether a Milvus index should be dialed.
func (c *Config) MilvusEnabled() bool { return c.Milvus.Address != "" }

func (c *Config) MilvusConfig() vectordb.Config {
	return vectordb.Config{
		Address:    c.Milvus.Address,
		Username:   c.Milvus.Username,
		Password:   c.Milvus.Password,
		DBName:     c.Milvus.DBName,
		Collection: c.Milvus.Collection,
		Dimensions: c.Embeddings.Dimensions,
		Meta: apptype.IndexMetadata{
			ID:          "milvus",
			EntityTypes: c.Milvus.EntityType,
			WorldID:     c.Milvus.WorldID,
		},
	}
}

func (c *Config) BreakerConfig() breaker.Config {
	b := c.Breaker
	return breaker.Config{
		FailureThreshold:      b.FailureThreshold,
		ResetTimeout:          b.ResetTimeout,
		HalfOpenMaxRequests:   b.HalfOpenMaxRequests,
		RequestTimeout:        b.RequestTimeout,
		FailureWindow:         b.FailureWindow,
		MaxResetTimeout:       b.MaxResetTimeout,
		ResponseTimeThreshold: b.ResponseTimeThreshold,
		SlowResponseThreshold: b.SlowResponseThreshold,
		PredictiveFailure:     b.PredictiveFailure,
	}
}

func (c *Config) RetryConfig() retry.Config {
	return retry.Config(c.Retry)
}

// LocalVectorConfig sizes the processor to the embedding dimensionality.
func (c *Config) LocalVectorConfig() localvector.Config {
	return localvector.Config{
		Enabled:          c.LocalVector.Enabled,
		MaxCachedVectors: c.LocalVector.MaxCachedVectors,
		Dimensions:       c.Embeddings.Dimensions,
		CompressionRatio: c.LocalVector.CompressionRatio,
		Algorithm:        localvector.Algorithm(c.LocalVector.Algorithm),
		Seed:             c.LocalVector.Seed,
	}
}

func (c *Config) DegradedConfig() degraded.Config {
	level, _ := degraded.ParseLevel(c.Degraded.InitialLevel)
	return degraded.Config{
		InitialLevel:         level,
		AutoRecovery:         c.Degraded.AutoRecovery,
		CheckInterval:        c.Degraded.CheckInterval,
		RecoveryThreshold:    c.Degraded.RecoveryThreshold,
		DegradationThreshold: c.Degraded.DegradationThreshold,
		Features:             degraded.DefaultFeatures(),
	}
}

// ServiceConfig assembles the vector service configuration.
func (c *Config) ServiceConfig() vectorservice.Config {
	tier := func(name string, t TierConfig) cache.TierConfig {
		return cache.TierConfig{Name: name, MaxEntries: t.MaxEntries, TTL: t.TTL}
	}
	fb := fallback.DefaultConfig()
	fb.CacheTTL = c.Fallback.CacheTTL
	fb.CacheSize = c.Fallback.CacheSize
	return vectorservice.Config{
		Breaker: c.BreakerConfig(),
		Retry:   c.RetryConfig(),
		EmbeddingCache: vectorservice.CacheConfig{
			Memory:     tier("embedding-memory", c.Cache.EmbeddingMemory),
			Persistent: tier("embedding-persistent", c.Cache.EmbeddingPersistent),
		},
		SearchCache: vectorservice.CacheConfig{
			Memory:     tier("search-memory", c.Cache.SearchMemory),
			Persistent: tier("search-persistent", c.Cache.SearchPersistent),
		},
		LocalVector:          c.LocalVectorConfig(),
		Fallback:             fb,
		Degraded:             c.DegradedConfig(),
		HealthCheckInterval:  c.Service.HealthCheckInterval,
		HealthCheckTimeout:   c.Service.HealthCheckTimeout,
		DegradedFailureRate:  c.Service.DegradedFailureRate,
		EmergencyFailureRate: c.Service.EmergencyFailureRate,
		MinRequestsForRate:   c.Service.MinRequestsForRate,
		FailureRateWindow:    c.Service.FailureRateWindow,
		SnapshotPath:         c.LocalVector.SnapshotPath,
		WarmLimit:            c.LocalVector.WarmLimit,
		CampaignID:           c.Service.CampaignID,
	}
}

// Watch re-reads the configuration file whenever it changes and hands the
// result to fn: a validated Config, or the error that rejected it. Events
// arriving after ctx is done are dropped.
func Watch(ctx context.Context, v *viper.Viper, fn func(*Config, error)) {
	var stopped atomic.Bool
	go func() {
		<-ctx.Done()
		stopped.Store(true)
	}()
	v.OnConfigChange(func(e fsnotify.Event) {
		if stopped.Load() || !e.Has(fsnotify.Write|fsnotify.Create) {
			return
		}
		fn(FromViper(v))
	})
	v.WatchConfig()
}
