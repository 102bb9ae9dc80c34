// Package rediscache is a Redis-backed persisted tier for the comp cache.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"compvalue/server/internal/cache"
)

const DefaultPrefix = "compvalue:"

// Store keeps each entry under <prefix>cache:<key> and tracks the keys of a
// subject in the set <prefix>subject:<id> so they can be cleared together.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

type Option func(*Store)

func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

func NewStore(rdb redis.UniversalClient, opts ...Option) *Store {
	s := &Store{rdb: rdb, prefix: DefaultPrefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewClient connects to addr and pings it.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return rdb, nil
}

func (s *Store) entryKey(key cache.Key) string {
	return s.prefix + "cache:" + key.String()
}

func (s *Store) subjectKey(subjectID string) string {
	return s.prefix + "subject:" + subjectID
}

func (s *Store) Get(ctx context.Context, key cache.Key) (*cache.Entry, error) {
	raw, err := s.rdb.Get(ctx, s.entryKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	var entry cache.Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	entry.Key = key
	return &entry, nil
}

// Put stores the entry. Redis drops it on its own once ExpiresAt passes;
// an entry already past ExpiresAt is not written.
func (s *Store) Put(ctx context.Context, entry *cache.Entry) error {
	var ttl time.Duration
	if entry.ExpiresAt != nil {
		ttl = entry.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return s.Delete(ctx, entry.Key)
		}
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	k := s.entryKey(entry.Key)
	if err := s.rdb.Set(ctx, k, string(payload), ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	if err := s.rdb.SAdd(ctx, s.subjectKey(entry.Key.SubjectID), k).Err(); err != nil {
		return fmt.Errorf("failed to index cache entry: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key cache.Key) error {
	k := s.entryKey(key)
	if err := s.rdb.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	if err := s.rdb.SRem(ctx, s.subjectKey(key.SubjectID), k).Err(); err != nil {
		return fmt.Errorf("failed to unindex cache entry: %w", err)
	}
	return nil
}

func (s *Store) DeleteSubject(ctx context.Context, subjectID string) error {
	idx := s.subjectKey(subjectID)
	keys, err := s.rdb.SMembers(ctx, idx).Result()
	if err != nil {
		return fmt.Errorf("failed to list subject entries: %w", err)
	}
	if err := s.rdb.Del(ctx, append(keys, idx)...).Err(); err != nil {
		return fmt.Errorf("failed to delete subject entries: %w", err)
	}
	return nil
}
