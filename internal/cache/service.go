package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Tier says where a lookup was answered from.
type Tier string

const (
	TierMemory Tier = "memory"
	TierStore  Tier = "store"
	TierFetch  Tier = "fetch"
)

// FetchFunc produces a new entry on a miss. The context it receives is not
// tied to any single caller.
type FetchFunc func(ctx context.Context) (*Entry, error)

// Result is what Get and Refresh return.
type Result struct {
	Entry  *Entry
	Tier   Tier
	Shared bool // another caller's fetch was joined
}

type Options struct {
	TTL time.Duration
	// FetchTimeout bounds a shared fetch once no caller is waiting on it.
	FetchTimeout time.Duration
	// StoreTimeout bounds each persisted-tier call.
	StoreTimeout time.Duration
}

// Service owns the memory tier and coalesces fetches per key.
type Service struct {
	mu      sync.RWMutex
	entries map[Key]*Entry
	closed  bool
	// gens is bumped per subject on every clear. A fetch or store read
	// that started under an older generation is not written back.
	gens     map[string]uint64
	inflight map[Key]int

	store  Store
	group  singleflight.Group
	opts   Options
	logger *logrus.Logger
	now    func() time.Time
}

// NewService creates a cache. store may be nil for a memory-only cache.
func NewService(store Store, opts Options, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 60 * time.Second
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	return &Service{
		entries:  make(map[Key]*Entry),
		gens:     make(map[string]uint64),
		inflight: make(map[Key]int),
		store:    store,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// Get answers from memory, then the store, then fetch. Only fresh entries
// are served from either tier.
func (s *Service) Get(ctx context.Context, key Key, fetch FetchFunc) (Result, error) {
	if err := s.checkOpen(); err != nil {
		return Result{}, err
	}

	now := s.now()

	s.mu.RLock()
	entry := s.entries[key]
	s.mu.RUnlock()
	if IsFresh(entry, now, s.opts.TTL) {
		return Result{Entry: entry, Tier: TierMemory}, nil
	}

	gen := s.generation(key.SubjectID)
	if persisted := s.loadPersisted(ctx, key); IsFresh(persisted, now, s.opts.TTL) {
		s.mu.Lock()
		if !s.closed && s.gens[key.SubjectID] == gen {
			s.entries[key] = persisted
		}
		s.mu.Unlock()
		return Result{Entry: persisted, Tier: TierStore}, nil
	}

	return s.fetch(ctx, key, fetch)
}

// Refresh fetches unconditionally. A fetch already running for key is
// joined rather than duplicated.
func (s *Service) Refresh(ctx context.Context, key Key, fetch FetchFunc) (Result, error) {
	if err := s.checkOpen(); err != nil {
		return Result{}, err
	}
	return s.fetch(ctx, key, fetch)
}

// Peek returns the memory entry for key, fresh or not.
func (s *Service) Peek(key Key) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok
}

// Lookup returns the entry for key from memory or the store, fresh or not.
// It never fetches.
func (s *Service) Lookup(ctx context.Context, key Key) (*Entry, bool) {
	if e, ok := s.Peek(key); ok {
		return e, true
	}
	if err := s.checkOpen(); err != nil {
		return nil, false
	}
	e := s.loadPersisted(ctx, key)
	return e, e != nil
}

// Clear evicts key from both tiers. Clearing a missing key is not an error.
// A fetch already running for key still answers its callers but is not
// cached.
func (s *Service) Clear(ctx context.Context, key Key) error {
	s.mu.Lock()
	s.gens[key.SubjectID]++
	s.mu.Unlock()
	s.group.Forget(key.String())
	return s.drop(ctx, key)
}

func (s *Service) drop(ctx context.Context, key Key) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	if err := s.store.Delete(sctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to delete persisted entry %s: %w", key, err)
	}
	return nil
}

// ClearSubject evicts every radius cached for subjectID.
func (s *Service) ClearSubject(ctx context.Context, subjectID string) error {
	s.mu.Lock()
	s.gens[subjectID]++
	for k := range s.entries {
		if k.SubjectID == subjectID {
			delete(s.entries, k)
		}
	}
	var running []Key
	for k := range s.inflight {
		if k.SubjectID == subjectID {
			running = append(running, k)
		}
	}
	s.mu.Unlock()

	for _, k := range running {
		s.group.Forget(k.String())
	}

	if s.store == nil {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	if err := s.store.DeleteSubject(sctx, subjectID); err != nil {
		return fmt.Errorf("failed to delete persisted entries for %s: %w", subjectID, err)
	}
	return nil
}

// Len returns the number of entries in memory.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close drops the memory tier. Calls made after Close fail with ErrClosed.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = make(map[Key]*Entry)
	return nil
}

func (s *Service) generation(subjectID string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gens[subjectID]
}

func (s *Service) current(subjectID string, gen uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gens[subjectID] == gen
}

func (s *Service) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Service) loadPersisted(ctx context.Context, key Key) *Entry {
	if s.store == nil {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	entry, err := s.store.Get(sctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.WithError(err).WithField("key", key.String()).Warn("Failed to read persisted cache entry")
		}
		return nil
	}
	return entry
}

func (s *Service) fetch(ctx context.Context, key Key, fetch FetchFunc) (Result, error) {
	ch := s.group.DoChan(key.String(), func() (interface{}, error) {
		s.mu.Lock()
		gen := s.gens[key.SubjectID]
		s.inflight[key]++
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			if s.inflight[key]--; s.inflight[key] <= 0 {
				delete(s.inflight, key)
			}
			s.mu.Unlock()
		}()

		// The fetch outlives any single caller's cancellation.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.FetchTimeout)
		defer cancel()

		entry, err := fetch(fctx)
		if err != nil {
			if s.current(key.SubjectID, gen) {
				s.evict(fctx, key)
			}
			return nil, err
		}
		s.write(fctx, key, entry, gen)
		return entry, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		return Result{Entry: res.Val.(*Entry), Tier: TierFetch, Shared: res.Shared}, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// write caches entry unless the subject was cleared after the fetch began.
func (s *Service) write(ctx context.Context, key Key, entry *Entry, gen uint64) {
	now := s.now()
	entry.Key = key
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.ExpiresAt == nil && s.opts.TTL > 0 {
		exp := entry.CreatedAt.Add(s.opts.TTL)
		entry.ExpiresAt = &exp
	}
	// Fallback data is never written fresh.
	entry.Stale = entry.IsFallback()

	s.mu.Lock()
	stale := s.gens[key.SubjectID] != gen
	if !s.closed && !stale {
		s.entries[key] = entry
	}
	s.mu.Unlock()

	if stale {
		s.logger.WithField("key", key.String()).Debug("Subject cleared during fetch, result not cached")
		return
	}
	if s.store == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	if err := s.store.Put(sctx, entry); err != nil {
		s.logger.WithError(err).WithField("key", key.String()).Error("Failed to persist cache entry")
		return
	}
	// A clear that raced the Put has already deleted from the store; undo
	// the Put so the store matches memory.
	if !s.current(key.SubjectID, gen) {
		if err := s.store.Delete(sctx, key); err != nil && !errors.Is(err, ErrNotFound) {
			s.logger.WithError(err).WithField("key", key.String()).Warn("Failed to remove entry written after clear")
		}
	}
}

func (s *Service) evict(ctx context.Context, key Key) {
	if err := s.drop(ctx, key); err != nil {
		s.logger.WithError(err).WithField("key", key.String()).Warn("Failed to evict cache entry after fetch error")
	}
}
