package database

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apptype"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/metrics"
)

// scopeFilter renders the entity type / world / campaign predicates of opts.
func scopeFilter(opts apptype.SearchOptions) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if len(opts.EntityTypes) > 0 {
		clauses = append(clauses, "e.entity_type IN ("+placeholders(len(opts.EntityTypes))+")")
		for _, t := range opts.EntityTypes {
			args = append(args, t)
		}
	}
	if opts.WorldID != "" {
		clauses = append(clauses, "e.world_id = ?")
		args = append(args, opts.WorldID)
	}
	if opts.CampaignID != "" {
		clauses = append(clauses, "e.campaign_id = ?")
		args = append(args, opts.CampaignID)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(clauses, " AND "), args
}

// distScanner appends the trailing distance/rank column to a record scan.
type distScanner struct {
	r    rowScanner
	dist *float64
}

func (d distScanner) Scan(dest ...any) error { return d.r.Scan(append(dest, d.dist)...) }

const recordColsE = "e.entity_id, e.entity_type, e.world_id, e.campaign_id, e.content, e.metadata, e.embedding"

// SearchSimilar performs cosine similarity search. Scores are 1 - cosine
// distance clamped to [0,1]. vector_top_k is used when the build supports it.
func (dm *DBManager) SearchSimilar(ctx context.Context, campaignID string, embedding []float32, opts apptype.SearchOptions) ([]apptype.SearchResult, error) {
	done := metrics.TimeOp("db_search_similar")
	success := false
	defer func() { done(success) }()

	if len(embedding) == 0 {
		return nil, fmt.Errorf("search embedding cannot be empty")
	}
	opts = opts.Normalized()
	campaign := dm.campaignKey(campaignID)
	db, err := dm.getDB(campaign)
	if err != nil {
		return nil, err
	}
	vectorString, err := dm.vectorToString(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to convert search embedding: %w", err)
	}
	filter, filterArgs := scopeFilter(opts)

	var results []apptype.SearchResult
	useTopK := dm.caps(campaign).vectorTopK
	if useTopK {
		k := opts.Limit
		if filter != "" {
			k *= 4
		}
		query := `WITH vt AS (
            SELECT id FROM vector_top_k('idx_entity_embeddings_vec', vector32(?), ?)
        )
        SELECT ` + recordColsE + `, vector_distance_cos(e.embedding, vector32(?)) AS distance
        FROM vt JOIN entity_embeddings e ON e.rowid = vt.id
        WHERE e.embedding IS NOT NULL` + filter + `
        ORDER BY distance ASC
        LIMIT ?`
		args := append([]any{vectorString, k, vectorString}, filterArgs...)
		args = append(args, opts.Limit)
		results, err = dm.querySimilar(ctx, campaign, db, query, args)
		if err != nil && strings.Contains(strings.ToLower(err.Error()), "vector_top_k") {
			dm.logger.Warn("vector_top_k unavailable, using full scan", zap.Error(err))
			dm.disableTopK(campaign)
			useTopK = false
		} else if err != nil {
			return nil, fmt.Errorf("failed ANN search: %w", err)
		}
	}
	if !useTopK {
		query := `SELECT ` + recordColsE + `, vector_distance_cos(e.embedding, vector32(?)) AS distance
        FROM entity_embeddings e
        WHERE e.embedding IS NOT NULL AND e.embedding != vector32(?)` + filter + `
        ORDER BY distance ASC
        LIMIT ?`
		args := append([]any{vectorString, dm.vectorZeroString()}, filterArgs...)
		args = append(args, opts.Limit)
		results, err = dm.querySimilar(ctx, campaign, db, query, args)
		if err != nil {
			low := strings.ToLower(err.Error())
			if strings.Contains(low, "no such function: vector_distance_cos") || strings.Contains(low, "no such function: vector32") {
				return nil, fmt.Errorf("vector search functions are unavailable in this libSQL build: %w", err)
			}
			return nil, fmt.Errorf("failed to execute similarity search: %w", err)
		}
	}

	out := results[:0]
	for _, r := range results {
		if r.Score >= opts.MinScore {
			out = append(out, r)
		}
	}
	success = true
	return out, nil
}

func (dm *DBManager) querySimilar(ctx context.Context, campaign string, db *sql.DB, query string, args []any) ([]apptype.SearchResult, error) {
	stmt, err := dm.getPreparedStmt(ctx, campaign, db, query)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []apptype.SearchResult
	for rows.Next() {
		var distance float64
		rec, err := scanRecord(distScanner{r: rows, dist: &distance})
		if err != nil {
			dm.logger.Warn("failed to scan search result row", zap.Error(err))
			continue
		}
		score := 1 - distance
		score = max(0, min(1, score))
		out = append(out, resultFromRecord(rec, score, "libsql"))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search results: %w", err)
	}
	return out, nil
}

func resultFromRecord(rec apptype.EmbeddingRecord, score float64, source string) apptype.SearchResult {
	return apptype.SearchResult{
		EntityID:   rec.EntityID,
		EntityType: rec.EntityType,
		Score:      score,
		Source:     source,
		Text:       rec.Text,
		Metadata:   rec.Metadata,
		Vector:     rec.Vector,
	}
}

// keywordTerms lowercases text and splits it into alphanumeric terms.
func keywordTerms(text string) []string {
	terms := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	slices.Sort(terms)
	return slices.Compact(terms)
}

// SearchKeyword finds entities whose id or content match any term of text.
// With FTS5 results are ranked by bm25 and scored by reciprocal rank; without
// it a LIKE scan scores each hit by the fraction of terms it contains.
func (dm *DBManager) SearchKeyword(ctx context.Context, campaignID, text string, opts apptype.SearchOptions) ([]apptype.SearchResult, error) {
	done := metrics.TimeOp("db_search_keyword")
	success := false
	defer func() { done(success) }()

	terms := keywordTerms(text)
	if len(terms) == 0 {
		return nil, fmt.Errorf("search query cannot be empty")
	}
	opts = opts.Normalized()
	campaign := dm.campaignKey(campaignID)
	db, err := dm.getDB(campaign)
	if err != nil {
		return nil, err
	}
	var results []apptype.SearchResult
	if dm.caps(campaign).fts5 {
		results, err = dm.keywordFTS(ctx, campaign, db, terms, opts)
	} else {
		results, err = dm.keywordLike(ctx, db, terms, opts)
	}
	if err != nil {
		return nil, err
	}
	out := results[:0]
	for _, r := range results {
		if r.Score >= opts.MinScore {
			out = append(out, r)
		}
	}
	success = true
	return out, nil
}

func (dm *DBManager) keywordFTS(ctx context.Context, campaign string, db *sql.DB, terms []string, opts apptype.SearchOptions) ([]apptype.SearchResult, error) {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	filter, filterArgs := scopeFilter(opts)
	query := `SELECT ` + recordColsE + `, bm25(fts_entities) AS rank
        FROM fts_entities JOIN entity_embeddings e ON e.entity_id = fts_entities.entity_id
        WHERE fts_entities MATCH ?` + filter + `
        ORDER BY rank
        LIMIT ?`
	args := append([]any{strings.Join(quoted, " OR ")}, filterArgs...)
	args = append(args, opts.Limit)
	stmt, err := dm.getPreparedStmt(ctx, campaign, db, query)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute keyword search: %w", err)
	}
	defer rows.Close()
	var out []apptype.SearchResult
	for rows.Next() {
		var rank float64
		rec, err := scanRecord(distScanner{r: rows, dist: &rank})
		if err != nil {
			dm.logger.Warn("failed to scan keyword row", zap.Error(err))
			continue
		}
		out = append(out, resultFromRecord(rec, 1/float64(len(out)+1), "keyword"))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating keyword results: %w", err)
	}
	return out, nil
}

func (dm *DBManager) keywordLike(ctx context.Context, db *sql.DB, terms []string, opts apptype.SearchOptions) ([]apptype.SearchResult, error) {
	var (
		likes []string
		args  []any
	)
	for _, t := range terms {
		likes = append(likes, "lower(e.entity_id) LIKE ? OR lower(e.content) LIKE ?")
		pat := "%" + t + "%"
		args = append(args, pat, pat)
	}
	filter, filterArgs := scopeFilter(opts)
	query := `SELECT ` + recordColsE + ` FROM entity_embeddings e
        WHERE (` + strings.Join(likes, " OR ") + `)` + filter + `
        ORDER BY e.updated_at DESC
        LIMIT ?`
	args = append(args, filterArgs...)
	args = append(args, opts.Limit*4)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute keyword search: %w", err)
	}
	defer rows.Close()
	var out []apptype.SearchResult
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			dm.logger.Warn("failed to scan keyword row", zap.Error(err))
			continue
		}
		hay := strings.ToLower(rec.EntityID + " " + rec.Text)
		matched := 0
		for _, t := range terms {
			if strings.Contains(hay, t) {
				matched++
			}
		}
		out = append(out, resultFromRecord(rec, float64(matched)/float64(len(terms)), "keyword"))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating keyword results: %w", err)
	}
	slices.SortStableFunc(out, func(a, b apptype.SearchResult) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}
