package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/cache"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/metrics"
)

// CacheStore is a cache.KVStore over the cache_entries table. Keys are
// namespaced so the embedding and search caches can share one table; the
// row quota is table wide.
type CacheStore struct {
	dm        *DBManager
	namespace string
	now       func() time.Time
}

var _ cache.KVStore = (*CacheStore)(nil)

// CacheStore returns a KV view of cache_entries under namespace.
func (dm *DBManager) CacheStore(namespace string) *CacheStore {
	return &CacheStore{dm: dm, namespace: namespace + ":", now: time.Now}
}

func (s *CacheStore) db() (*sql.DB, error) { return s.dm.getDB(defaultCampaign) }

func (s *CacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	db, err := s.db()
	if err != nil {
		return nil, false, err
	}
	var (
		value     []byte
		expiresAt int64
	)
	err = db.QueryRowContext(ctx, "SELECT value, expires_at FROM cache_entries WHERE key = ?", s.namespace+key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %q: %w", key, err)
	}
	if expiresAt > 0 && s.now().UnixMilli() >= expiresAt {
		_, _ = db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", s.namespace+key)
		return nil, false, nil
	}
	return value, true, nil
}

// Set upserts value. A new key beyond MaxCacheRows fails with
// cache.ErrQuotaExceeded.
func (s *CacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	done := metrics.TimeOp("db_cache_set")
	success := false
	defer func() { done(success) }()
	db, err := s.db()
	if err != nil {
		return err
	}
	full := s.dm.config.MaxCacheRows
	if full > 0 {
		var exists, rows int64
		err := db.QueryRowContext(ctx,
			"SELECT (SELECT COUNT(*) FROM cache_entries WHERE key = ?), (SELECT COUNT(*) FROM cache_entries)",
			s.namespace+key).Scan(&exists, &rows)
		if err != nil {
			return fmt.Errorf("cache quota check: %w", err)
		}
		if exists == 0 && rows >= int64(full) {
			return fmt.Errorf("cache_entries holds %d rows: %w", rows, cache.ErrQuotaExceeded)
		}
	}
	now := s.now()
	var expiresAt int64
	if ttl > 0 {
		expiresAt = now.Add(ttl).UnixMilli()
	}
	_, err = db.ExecContext(ctx, `INSERT INTO cache_entries (key, value, expires_at, updated_at) VALUES (?, ?, ?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at, updated_at = excluded.updated_at`,
		s.namespace+key, value, expiresAt, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	success = true
	return nil
}

func (s *CacheStore) Delete(ctx context.Context, key string) error {
	db, err := s.db()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", s.namespace+key); err != nil {
		return fmt.Errorf("cache delete %q: %w", key, err)
	}
	return nil
}

// Clear removes this namespace's rows only.
func (s *CacheStore) Clear(ctx context.Context) error {
	db, err := s.db()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM cache_entries WHERE substr(key, 1, ?) = ?", len(s.namespace), s.namespace); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Keys lists live keys, least recently written first.
func (s *CacheStore) Keys(ctx context.Context) ([]string, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		"SELECT key FROM cache_entries WHERE substr(key, 1, ?) = ? AND (expires_at = 0 OR expires_at > ?) ORDER BY updated_at ASC",
		len(s.namespace), s.namespace, s.now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("cache keys: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, strings.TrimPrefix(k, s.namespace))
	}
	return keys, rows.Err()
}

// SweepExpired deletes expired rows across every namespace.
func (dm *DBManager) SweepExpired(ctx context.Context) (int64, error) {
	db, err := dm.getDB(defaultCampaign)
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, "DELETE FROM cache_entries WHERE expires_at > 0 AND expires_at <= ?", time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cache sweep: %w", err)
	}
	return res.RowsAffected()
}
