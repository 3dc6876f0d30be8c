package database

import "fmt"

// dynamicSchema returns schema DDL using the configured embedding dimension
func dynamicSchema(embeddingDims int) []string {
	if embeddingDims <= 0 {
		embeddingDims = 4
	}
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS entity_embeddings (
        entity_id TEXT PRIMARY KEY,
        entity_type TEXT NOT NULL,
        world_id TEXT NOT NULL DEFAULT '',
        campaign_id TEXT NOT NULL DEFAULT '',
        content TEXT NOT NULL DEFAULT '',
        metadata TEXT,
        embedding F32_BLOB(%d),
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
    )`, embeddingDims),

		// Persistent cache tier; expires_at is unix millis, 0 for no expiry
		`CREATE TABLE IF NOT EXISTS cache_entries (
        key TEXT PRIMARY KEY,
        value BLOB NOT NULL,
        expires_at INTEGER NOT NULL DEFAULT 0,
        updated_at INTEGER NOT NULL
    )`,

		`CREATE INDEX IF NOT EXISTS idx_entity_embeddings_type ON entity_embeddings(entity_type)`,
		`CREATE INDEX IF NOT EXISTS idx_entity_embeddings_scope ON entity_embeddings(world_id, campaign_id)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at)`,

		`CREATE INDEX IF NOT EXISTS idx_entity_embeddings_vec ON entity_embeddings(libsql_vector_idx(embedding))`,
	}
}

// ftsSchema mirrors entity content into an FTS5 table for keyword search.
var ftsSchema = []string{
	`CREATE VIRTUAL TABLE IF NOT EXISTS fts_entities USING fts5(entity_id UNINDEXED, entity_type UNINDEXED, content)`,
	`CREATE TRIGGER IF NOT EXISTS trg_fts_entities_ai AFTER INSERT ON entity_embeddings BEGIN
        INSERT INTO fts_entities(entity_id, entity_type, content) VALUES (new.entity_id, new.entity_type, new.entity_id || ' ' || new.content);
    END`,
	`CREATE TRIGGER IF NOT EXISTS trg_fts_entities_ad AFTER DELETE ON entity_embeddings BEGIN
        DELETE FROM fts_entities WHERE entity_id = old.entity_id;
    END`,
	`CREATE TRIGGER IF NOT EXISTS trg_fts_entities_au AFTER UPDATE ON entity_embeddings BEGIN
        DELETE FROM fts_entities WHERE entity_id = old.entity_id;
        INSERT INTO fts_entities(entity_id, entity_type, content) VALUES (new.entity_id, new.entity_type, new.entity_id || ' ' || new.content);
    END`,
	// backfill rows written before FTS was available
	`INSERT INTO fts_entities(entity_id, entity_type, content)
        SELECT e.entity_id, e.entity_type, e.entity_id || ' ' || e.content FROM entity_embeddings e
        WHERE NOT EXISTS (SELECT 1 FROM fts_entities f WHERE f.entity_id = e.entity_id)`,
}
