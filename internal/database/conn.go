package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/tursodatabase/go-libsql"
	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/metrics"
)

const defaultCampaign = "default"

// DBManager owns one libSQL handle per campaign (a single shared handle
// unless MultiCampaignMode is set).
type DBManager struct {
	config *Config
	logger *zap.Logger

	mu  sync.RWMutex
	dbs map[string]*sql.DB

	stmtMu    sync.RWMutex
	stmtCache map[string]map[string]*sql.Stmt

	capMu          sync.RWMutex
	capsByCampaign map[string]capFlags
}

// NewDBManager creates a new database manager
func NewDBManager(config *Config, logger *zap.Logger) (*DBManager, error) {
	if config.EmbeddingDims <= 0 || config.EmbeddingDims > 65536 {
		return nil, fmt.Errorf("embedding dims must be between 1 and 65536 inclusive, got %d", config.EmbeddingDims)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dm := &DBManager{
		config:         config,
		logger:         logger.Named("libsql"),
		dbs:            make(map[string]*sql.DB),
		stmtCache:      make(map[string]map[string]*sql.Stmt),
		capsByCampaign: make(map[string]capFlags),
	}
	if !config.MultiCampaignMode {
		if _, err := dm.getDB(defaultCampaign); err != nil {
			return nil, fmt.Errorf("failed to initialize default database: %w", err)
		}
	}
	return dm, nil
}

// EmbeddingDims returns the effective dimensionality, which may have been
// adopted from an existing database.
func (dm *DBManager) EmbeddingDims() int {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.config.EmbeddingDims
}

func (dm *DBManager) campaignKey(campaign string) string {
	if !dm.config.MultiCampaignMode || campaign == "" {
		return defaultCampaign
	}
	return campaign
}

// getDB retrieves a database connection for a given campaign, creating it if necessary
func (dm *DBManager) getDB(campaign string) (*sql.DB, error) {
	dm.mu.RLock()
	db, ok := dm.dbs[campaign]
	dm.mu.RUnlock()
	if ok {
		return db, nil
	}

	dm.mu.Lock()
	// Double-check if another goroutine created the DB while we were waiting for the lock
	if db, ok = dm.dbs[campaign]; ok {
		dm.mu.Unlock()
		return db, nil
	}

	dbURL, err := dm.urlFor(campaign)
	if err != nil {
		dm.mu.Unlock()
		return nil, err
	}
	newDB, err := sql.Open("libsql", dbURL)
	if err != nil {
		dm.mu.Unlock()
		return nil, fmt.Errorf("failed to create database connector for campaign %s: %w", campaign, err)
	}

	// Adopt the dimensionality of an existing database so old embeddings stay readable
	if dbDims := detectDBEmbeddingDims(newDB); dbDims > 0 && dbDims != dm.config.EmbeddingDims {
		dm.logger.Warn("embedding dims mismatch, adopting database dims",
			zap.Int("db", dbDims), zap.Int("config", dm.config.EmbeddingDims))
		dm.config.EmbeddingDims = dbDims
	}
	if err := dm.initialize(newDB); err != nil {
		newDB.Close()
		dm.mu.Unlock()
		return nil, fmt.Errorf("failed to initialize database for campaign %s: %w", campaign, err)
	}

	if dm.config.MaxOpenConns > 0 {
		newDB.SetMaxOpenConns(dm.config.MaxOpenConns)
	}
	if dm.config.MaxIdleConns > 0 {
		newDB.SetMaxIdleConns(dm.config.MaxIdleConns)
	}
	if dm.config.ConnMaxIdleSec > 0 {
		newDB.SetConnMaxIdleTime(time.Duration(dm.config.ConnMaxIdleSec) * time.Second)
	}
	if dm.config.ConnMaxLifeSec > 0 {
		newDB.SetConnMaxLifetime(time.Duration(dm.config.ConnMaxLifeSec) * time.Second)
	}
	dm.dbs[campaign] = newDB
	// Unlock before capability detection to avoid self-deadlock
	dm.mu.Unlock()

	dm.detectCapabilities(context.Background(), campaign, newDB)
	stats := newDB.Stats()
	metrics.Default().ObservePoolStats(stats.InUse, stats.Idle)
	return newDB, nil
}

func (dm *DBManager) urlFor(campaign string) (string, error) {
	if dm.config.MultiCampaignMode {
		if campaign == "" {
			return "", fmt.Errorf("campaign id cannot be empty in multi-campaign mode")
		}
		dbPath := filepath.Join(dm.config.CampaignsDir, campaign, "vectors.db")
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return "", fmt.Errorf("failed to create campaign directory for %s: %w", campaign, err)
		}
		return "file:" + dbPath, nil
	}
	dbURL := dm.config.URL
	if strings.HasPrefix(dbURL, "file:") || dm.config.AuthToken == "" {
		return dbURL, nil
	}
	u, err := url.Parse(dbURL)
	if err != nil {
		return "", fmt.Errorf("invalid libsql url: %w", err)
	}
	q := u.Query()
	q.Set("authToken", dm.config.AuthToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// detectDBEmbeddingDims introspects the schema to infer the F32_BLOB size
func detectDBEmbeddingDims(db *sql.DB) int {
	var sqlText string
	_ = db.QueryRow("SELECT sql FROM sqlite_master WHERE type='table' AND name='entity_embeddings'").Scan(&sqlText)
	low := strings.ToLower(sqlText)
	if idx := strings.Index(low, "f32_blob("); idx >= 0 {
		rest := low[idx+len("f32_blob("):]
		if end := strings.Index(rest, ")"); end > 0 {
			if n, err := strconv.Atoi(strings.TrimSpace(rest[:end])); err == nil && n > 0 {
				return n
			}
		}
	}
	var blob []byte
	_ = db.QueryRow("SELECT embedding FROM entity_embeddings WHERE embedding IS NOT NULL LIMIT 1").Scan(&blob)
	if len(blob) > 0 && len(blob)%4 == 0 {
		return len(blob) / 4
	}
	return 0
}

// initialize creates tables and indexes if they don't exist
func (dm *DBManager) initialize(db *sql.DB) error {
	done := metrics.TimeOp("db_initialize")
	success := false
	defer func() { done(success) }()
	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for initialization: %w", err)
	}
	defer tx.Rollback()

	for _, statement := range dynamicSchema(dm.config.EmbeddingDims) {
		if _, err := tx.Exec(statement); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	success = true
	return nil
}

// Ping checks every open handle.
func (dm *DBManager) Ping(ctx context.Context) error {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	for name, db := range dm.dbs {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("campaign %s: %w", name, err)
		}
	}
	return nil
}

// Close closes all database connections
func (dm *DBManager) Close() error {
	dm.closeStatements()
	dm.mu.Lock()
	defer dm.mu.Unlock()
	var errs []error
	for name, db := range dm.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database for campaign %s: %w", name, err))
		}
	}
	dm.dbs = make(map[string]*sql.DB)
	return errors.Join(errs...)
}
