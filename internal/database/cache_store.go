package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"compvalue/server/internal/cache"
)

// CacheStore is the sqlite-backed persisted cache tier.
type CacheStore struct {
	db *sql.DB
}

func NewCacheStore(d *Database) *CacheStore {
	return &CacheStore{db: d.db}
}

func (s *CacheStore) Get(ctx context.Context, key cache.Key) (*cache.Entry, error) {
	var payload string
	var stale bool
	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT payload, stale, expires_at
		FROM comp_cache
		WHERE subject_id = ? AND radius_miles = ?
	`, key.SubjectID, key.RadiusMiles).Scan(&payload, &stale, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cache entry: %w", err)
	}

	var entry cache.Entry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	entry.Key = key
	entry.Stale = entry.Stale || stale
	if expiresAt.Valid {
		t := expiresAt.Time
		entry.ExpiresAt = &t
	}
	return &entry, nil
}

// Put upserts the entry by (subject_id, radius_miles).
func (s *CacheStore) Put(ctx context.Context, entry *cache.Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	var expiresAt interface{}
	if entry.ExpiresAt != nil {
		expiresAt = entry.ExpiresAt.UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO comp_cache (subject_id, radius_miles, data_source, payload, stale, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(subject_id, radius_miles) DO UPDATE SET
			data_source = excluded.data_source,
			payload = excluded.payload,
			stale = excluded.stale,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`, entry.Key.SubjectID, entry.Key.RadiusMiles, string(entry.DataSource), string(payload),
		entry.Stale, entry.CreatedAt.UTC(), expiresAt)
	if err != nil {
		return fmt.Errorf("failed to upsert cache entry: %w", err)
	}
	return nil
}

func (s *CacheStore) Delete(ctx context.Context, key cache.Key) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM comp_cache WHERE subject_id = ? AND radius_miles = ?",
		key.SubjectID, key.RadiusMiles)
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (s *CacheStore) DeleteSubject(ctx context.Context, subjectID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM comp_cache WHERE subject_id = ?", subjectID)
	if err != nil {
		return fmt.Errorf("failed to delete cache entries: %w", err)
	}
	return nil
}

// PurgeExpired removes rows that expired before now, and returns how many.
func (s *CacheStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM comp_cache
		WHERE expires_at IS NOT NULL AND expires_at < ?
	`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired cache entries: %w", err)
	}
	return result.RowsAffected()
}
