package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/metrics"
)

// getPreparedStmt returns or prepares and caches a statement for the given campaign DB
func (dm *DBManager) getPreparedStmt(ctx context.Context, campaign string, db *sql.DB, sqlText string) (*sql.Stmt, error) {
	dm.stmtMu.RLock()
	if stmt, ok := dm.stmtCache[campaign][sqlText]; ok {
		dm.stmtMu.RUnlock()
		metrics.Default().IncStmtCacheHit("prepare")
		return stmt, nil
	}
	dm.stmtMu.RUnlock()
	metrics.Default().IncStmtCacheMiss("prepare")

	stmt, err := db.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	dm.stmtMu.Lock()
	defer dm.stmtMu.Unlock()
	if _, ok := dm.stmtCache[campaign]; !ok {
		dm.stmtCache[campaign] = make(map[string]*sql.Stmt)
	}
	if prev, ok := dm.stmtCache[campaign][sqlText]; ok {
		// lost a race; keep the first statement
		stmt.Close()
		return prev, nil
	}
	dm.stmtCache[campaign][sqlText] = stmt
	return stmt, nil
}

func (dm *DBManager) closeStatements() {
	dm.stmtMu.Lock()
	defer dm.stmtMu.Unlock()
	for _, bucket := range dm.stmtCache {
		for _, stmt := range bucket {
			stmt.Close()
		}
	}
	dm.stmtCache = make(map[string]map[string]*sql.Stmt)
}
