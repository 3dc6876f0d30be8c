package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apptype"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/metrics"
)

// ErrNotFound is returned when an entity has no stored embedding.
var ErrNotFound = errors.New("embedding not found")

const upsertEmbeddingSQL = `INSERT INTO entity_embeddings (entity_id, entity_type, world_id, campaign_id, content, metadata, embedding, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, vector32(?), CURRENT_TIMESTAMP)
    ON CONFLICT(entity_id) DO UPDATE SET
        entity_type = excluded.entity_type,
        world_id = excluded.world_id,
        campaign_id = excluded.campaign_id,
        content = excluded.content,
        metadata = excluded.metadata,
        embedding = excluded.embedding,
        updated_at = CURRENT_TIMESTAMP`

// UpsertEmbedding creates or replaces the embedding of one entity.
func (dm *DBManager) UpsertEmbedding(ctx context.Context, rec apptype.EmbeddingRecord) error {
	done := metrics.TimeOp("db_upsert_embedding")
	success := false
	defer func() { done(success) }()

	if strings.TrimSpace(rec.EntityID) == "" {
		return fmt.Errorf("entity id must be a non-empty string")
	}
	if strings.TrimSpace(rec.EntityType) == "" {
		return fmt.Errorf("invalid entity type for entity %q", rec.EntityID)
	}
	if len(rec.Vector) == 0 {
		return fmt.Errorf("entity %q has no embedding", rec.EntityID)
	}
	campaign := dm.campaignKey(rec.CampaignID)
	db, err := dm.getDB(campaign)
	if err != nil {
		return err
	}
	vectorString, err := dm.vectorToString(rec.Vector)
	if err != nil {
		return fmt.Errorf("failed to convert embedding for entity %q: %w", rec.EntityID, err)
	}
	var meta any
	if len(rec.Metadata) > 0 {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for entity %q: %w", rec.EntityID, err)
		}
		meta = string(b)
	}
	stmt, err := dm.getPreparedStmt(ctx, campaign, db, upsertEmbeddingSQL)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, rec.EntityID, rec.EntityType, rec.WorldID, rec.CampaignID, rec.Text, meta, vectorString); err != nil {
		return fmt.Errorf("failed to upsert embedding for entity %q: %w", rec.EntityID, err)
	}
	success = true
	return nil
}

// DeleteEmbedding removes an entity's embedding. Missing entities are not an error.
func (dm *DBManager) DeleteEmbedding(ctx context.Context, campaignID, entityID string) error {
	done := metrics.TimeOp("db_delete_embedding")
	success := false
	defer func() { done(success) }()
	campaign := dm.campaignKey(campaignID)
	db, err := dm.getDB(campaign)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM entity_embeddings WHERE entity_id = ?", entityID); err != nil {
		return fmt.Errorf("failed to delete embedding for entity %q: %w", entityID, err)
	}
	success = true
	return nil
}

const selectEmbeddingCols = "entity_id, entity_type, world_id, campaign_id, content, metadata, embedding"

// GetEmbedding loads one stored embedding.
func (dm *DBManager) GetEmbedding(ctx context.Context, campaignID, entityID string) (apptype.EmbeddingRecord, error) {
	campaign := dm.campaignKey(campaignID)
	db, err := dm.getDB(campaign)
	if err != nil {
		return apptype.EmbeddingRecord{}, err
	}
	row := db.QueryRowContext(ctx, "SELECT "+selectEmbeddingCols+" FROM entity_embeddings WHERE entity_id = ?", entityID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return apptype.EmbeddingRecord{}, fmt.Errorf("entity %q: %w", entityID, ErrNotFound)
	}
	return rec, err
}

// ListEmbeddings returns up to limit stored embeddings, most recently updated
// first, optionally filtered by entity type. It is used to warm the local
// vector cache at startup.
func (dm *DBManager) ListEmbeddings(ctx context.Context, campaignID string, entityTypes []string, limit int) ([]apptype.EmbeddingRecord, error) {
	done := metrics.TimeOp("db_list_embeddings")
	success := false
	defer func() { done(success) }()
	campaign := dm.campaignKey(campaignID)
	db, err := dm.getDB(campaign)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1000
	}
	query := "SELECT " + selectEmbeddingCols + " FROM entity_embeddings WHERE embedding IS NOT NULL"
	args := []any{}
	if len(entityTypes) > 0 {
		query += " AND entity_type IN (" + placeholders(len(entityTypes)) + ")"
		for _, t := range entityTypes {
			args = append(args, t)
		}
	}
	query += " ORDER BY updated_at DESC LIMIT ?"
	args = append(args, limit)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list embeddings: %w", err)
	}
	defer rows.Close()
	var out []apptype.EmbeddingRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			dm.logger.Warn("skipping unreadable embedding row", zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating embeddings: %w", err)
	}
	success = true
	return out, nil
}

// CountEmbeddings counts stored embeddings, optionally by type.
func (dm *DBManager) CountEmbeddings(ctx context.Context, campaignID string, entityTypes []string) (int64, error) {
	campaign := dm.campaignKey(campaignID)
	db, err := dm.getDB(campaign)
	if err != nil {
		return 0, err
	}
	query := "SELECT COUNT(*) FROM entity_embeddings"
	var args []any
	if len(entityTypes) > 0 {
		query += " WHERE entity_type IN (" + placeholders(len(entityTypes)) + ")"
		for _, t := range entityTypes {
			args = append(args, t)
		}
	}
	var n int64
	if err := db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count embeddings: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (apptype.EmbeddingRecord, error) {
	var (
		rec      apptype.EmbeddingRecord
		metaText sql.NullString
		blob     []byte
	)
	if err := row.Scan(&rec.EntityID, &rec.EntityType, &rec.WorldID, &rec.CampaignID, &rec.Text, &metaText, &blob); err != nil {
		return rec, err
	}
	if metaText.Valid && metaText.String != "" {
		if err := json.Unmarshal([]byte(metaText.String), &rec.Metadata); err != nil {
			return rec, fmt.Errorf("invalid metadata for entity %q: %w", rec.EntityID, err)
		}
	}
	vec, err := extractVector(blob)
	if err != nil {
		return rec, fmt.Errorf("failed to extract vector for entity %q: %w", rec.EntityID, err)
	}
	rec.Vector = vec
	return rec, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
