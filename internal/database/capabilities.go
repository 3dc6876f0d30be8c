package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"go.uber.org/zap"
)

// capFlags stores capability detection for a specific campaign DB handle
type capFlags struct {
	checked    bool
	vectorTopK bool
	fts5       bool
}

func (dm *DBManager) caps(campaign string) capFlags {
	dm.capMu.RLock()
	defer dm.capMu.RUnlock()
	return dm.capsByCampaign[campaign]
}

// detectCapabilities probes vector_top_k and FTS5 support and records flags.
func (dm *DBManager) detectCapabilities(ctx context.Context, campaign string, db *sql.DB) {
	caps := dm.caps(campaign)
	if caps.checked {
		return
	}
	caps.checked = true

	// Skip ANN probe for in-memory test URLs to avoid driver quirks
	if !strings.Contains(dm.config.URL, "mode=memory") {
		ctx2, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		rows, err := db.QueryContext(ctx2, "SELECT id FROM vector_top_k('idx_entity_embeddings_vec', vector32(?), 1) LIMIT 1", dm.vectorZeroString())
		if rows != nil {
			rows.Close()
		}
		cancel()
		caps.vectorTopK = err == nil
	}

	ctx3, cancel3 := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel3()
	if _, err := db.ExecContext(ctx3, "CREATE VIRTUAL TABLE IF NOT EXISTS temp._fts5_probe USING fts5(x)"); err == nil {
		_, _ = db.ExecContext(ctx3, "DROP TABLE IF EXISTS temp._fts5_probe")
		caps.fts5 = dm.ensureFTSSchema(ctx, db) == nil
	}
	dm.logger.Debug("libsql capabilities",
		zap.String("campaign", campaign),
		zap.Bool("vector_top_k", caps.vectorTopK),
		zap.Bool("fts5", caps.fts5))

	dm.capMu.Lock()
	dm.capsByCampaign[campaign] = caps
	dm.capMu.Unlock()
}

func (dm *DBManager) ensureFTSSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range ftsSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			dm.logger.Warn("fts schema unavailable, keyword search uses LIKE", zap.Error(err))
			return err
		}
	}
	return nil
}

func (dm *DBManager) disableTopK(campaign string) {
	dm.capMu.Lock()
	c := dm.capsByCampaign[campaign]
	c.vectorTopK = false
	dm.capsByCampaign[campaign] = c
	dm.capMu.Unlock()
}
