package cache

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"compvalue/server/internal/models"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	mu      sync.Mutex
	entries map[Key]*Entry
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[Key]*Entry)}
}

func (m *memStore) Get(ctx context.Context, key Key) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

func (m *memStore) Put(ctx context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.Key] = entry
	return nil
}

func (m *memStore) Delete(ctx context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *memStore) DeleteSubject(ctx context.Context, subjectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if k.SubjectID == subjectID {
			delete(m.entries, k)
		}
	}
	return nil
}

// MockStore is a testify mock of Store.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Get(ctx context.Context, key Key) (*Entry, error) {
	args := m.Called(ctx, key)
	e, _ := args.Get(0).(*Entry)
	return e, args.Error(1)
}

func (m *MockStore) Put(ctx context.Context, entry *Entry) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *MockStore) Delete(ctx context.Context, key Key) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockStore) DeleteSubject(ctx context.Context, subjectID string) error {
	return m.Called(ctx, subjectID).Error(0)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func apiEntry() *Entry {
	return &Entry{
		Comps:      []models.ComparableProperty{{ID: "a", SalePrice: 100000, SquareFeet: 1000, Source: models.SourceAPIPrimary}},
		DataSource: models.DataSourceMLS,
	}
}

func countingFetch(calls *int32, entry func() *Entry) FetchFunc {
	return func(ctx context.Context) (*Entry, error) {
		atomic.AddInt32(calls, 1)
		return entry(), nil
	}
}

func TestNewKey_RoundsRadius(t *testing.T) {
	assert.Equal(t, NewKey("s1", 1), NewKey("s1", 1.001))
	assert.NotEqual(t, NewKey("s1", 1), NewKey("s1", 1.5))
	assert.Equal(t, "s1@0.50", NewKey("s1", 0.5).String())
}

func TestIsFresh(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	fresh := apiEntry()
	fresh.CreatedAt = now.Add(-time.Hour)
	fresh.ExpiresAt = &future

	expired := apiEntry()
	expired.ExpiresAt = &past

	stale := apiEntry()
	stale.ExpiresAt = &future
	stale.Stale = true

	demo := &Entry{DataSource: models.DataSourceDemo, ExpiresAt: &future}

	byTTL := apiEntry()
	byTTL.CreatedAt = now.Add(-30 * time.Minute)

	assert.True(t, IsFresh(fresh, now, time.Hour))
	assert.False(t, IsFresh(expired, now, time.Hour))
	assert.False(t, IsFresh(stale, now, time.Hour))
	assert.False(t, IsFresh(demo, now, time.Hour))
	assert.False(t, IsFresh(nil, now, time.Hour))
	assert.True(t, IsFresh(byTTL, now, time.Hour))
	assert.False(t, IsFresh(byTTL, now, 10*time.Minute))
	assert.True(t, IsFresh(byTTL, now, 0))
}

func TestGet_MissFetchesThenServesFromMemory(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, Options{TTL: time.Hour}, quietLogger())
	key := NewKey("s1", 1)
	var calls int32

	res, err := svc.Get(context.Background(), key, countingFetch(&calls, apiEntry))
	require.NoError(t, err)
	assert.Equal(t, TierFetch, res.Tier)
	assert.Equal(t, key, res.Entry.Key)
	require.NotNil(t, res.Entry.ExpiresAt)

	res, err = svc.Get(context.Background(), key, countingFetch(&calls, apiEntry))
	require.NoError(t, err)
	assert.Equal(t, TierMemory, res.Tier)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	_, err = store.Get(context.Background(), key)
	assert.NoError(t, err)
}

func TestGet_PersistedFreshEntryIsWrittenBack(t *testing.T) {
	store := newMemStore()
	key := NewKey("s1", 1)
	persisted := apiEntry()
	persisted.Key = key
	persisted.CreatedAt = time.Now()
	require.NoError(t, store.Put(context.Background(), persisted))

	svc := NewService(store, Options{TTL: time.Hour}, quietLogger())
	var calls int32

	res, err := svc.Get(context.Background(), key, countingFetch(&calls, apiEntry))
	require.NoError(t, err)
	assert.Equal(t, TierStore, res.Tier)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	_, ok := svc.Peek(key)
	assert.True(t, ok)
}

func TestGet_PersistedExpiredEntryIsRefetched(t *testing.T) {
	store := newMemStore()
	key := NewKey("s1", 1)
	persisted := apiEntry()
	persisted.Key = key
	persisted.CreatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, store.Put(context.Background(), persisted))

	svc := NewService(store, Options{TTL: time.Hour}, quietLogger())
	var calls int32

	res, err := svc.Get(context.Background(), key, countingFetch(&calls, apiEntry))
	require.NoError(t, err)
	assert.Equal(t, TierFetch, res.Tier)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGet_FallbackEntriesAreWrittenStale(t *testing.T) {
	svc := NewService(nil, Options{TTL: time.Hour}, quietLogger())
	key := NewKey("s1", 1)
	var calls int32
	demo := func() *Entry {
		return &Entry{
			Comps:      []models.ComparableProperty{{ID: "d", SalePrice: 1, SquareFeet: 1, Source: models.SourceDemo}},
			DataSource: models.DataSourceDemo,
		}
	}

	res, err := svc.Get(context.Background(), key, countingFetch(&calls, demo))
	require.NoError(t, err)
	assert.True(t, res.Entry.Stale)

	_, err = svc.Get(context.Background(), key, countingFetch(&calls, demo))
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGet_ConcurrentMissesShareOneFetch(t *testing.T) {
	svc := NewService(newMemStore(), Options{TTL: time.Hour}, quietLogger())
	key := NewKey("s1", 1)

	var calls int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (*Entry, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return apiEntry(), nil
	}

	const callers = 10
	var wg sync.WaitGroup
	results := make([]Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Get(context.Background(), key, fetch)
		}(i)
	}

	// Let every caller reach the in-flight fetch before releasing it.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0].Entry, results[i].Entry)
	}
}

func TestGet_CallerCancellationDoesNotAbortSharedFetch(t *testing.T) {
	svc := NewService(nil, Options{TTL: time.Hour}, quietLogger())
	key := NewKey("s1", 1)

	release := make(chan struct{})
	done := make(chan struct{})
	fetch := func(ctx context.Context) (*Entry, error) {
		defer close(done)
		select {
		case <-release:
			return apiEntry(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := svc.Get(ctx, key, fetch)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	<-done

	assert.Eventually(t, func() bool {
		_, ok := svc.Peek(key)
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestGet_FetchErrorLeavesKeyEmpty(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, Options{TTL: time.Hour}, quietLogger())
	key := NewKey("s1", 1)

	stale := apiEntry()
	stale.Key = key
	stale.Stale = true
	require.NoError(t, store.Put(context.Background(), stale))

	boom := errors.New("boom")
	_, err := svc.Get(context.Background(), key, func(ctx context.Context) (*Entry, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	_, ok := svc.Peek(key)
	assert.False(t, ok)
	_, err = store.Get(context.Background(), key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet_StoreWriteFailureIsNotFatal(t *testing.T) {
	store := &MockStore{}
	key := NewKey("s1", 1)
	store.On("Get", mock.Anything, key).Return(nil, ErrNotFound)
	store.On("Put", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	svc := NewService(store, Options{TTL: time.Hour}, quietLogger())
	var calls int32

	res, err := svc.Get(context.Background(), key, countingFetch(&calls, apiEntry))
	require.NoError(t, err)
	assert.Equal(t, TierFetch, res.Tier)

	res, err = svc.Get(context.Background(), key, countingFetch(&calls, apiEntry))
	require.NoError(t, err)
	assert.Equal(t, TierMemory, res.Tier)
	store.AssertExpectations(t)
}

func TestRefresh_AlwaysFetches(t *testing.T) {
	svc := NewService(nil, Options{TTL: time.Hour}, quietLogger())
	key := NewKey("s1", 1)
	var calls int32

	_, err := svc.Get(context.Background(), key, countingFetch(&calls, apiEntry))
	require.NoError(t, err)

	res, err := svc.Refresh(context.Background(), key, countingFetch(&calls, apiEntry))
	require.NoError(t, err)
	assert.Equal(t, TierFetch, res.Tier)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClear_EvictsBothTiersAndIsIdempotent(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, Options{TTL: time.Hour}, quietLogger())
	key := NewKey("s1", 1)
	var calls int32

	_, err := svc.Get(context.Background(), key, countingFetch(&calls, apiEntry))
	require.NoError(t, err)

	require.NoError(t, svc.Clear(context.Background(), key))
	require.NoError(t, svc.Clear(context.Background(), key))

	_, ok := svc.Peek(key)
	assert.False(t, ok)
	_, err = store.Get(context.Background(), key)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Get(context.Background(), key, countingFetch(&calls, apiEntry))
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClear_DuringFetchIsNotOverwritten(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, Options{TTL: time.Hour}, quietLogger())
	key := NewKey("s1", 1)

	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	blocking := func(ctx context.Context) (*Entry, error) {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
		return apiEntry(), nil
	}

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := svc.Get(context.Background(), key, blocking)
		done <- outcome{res, err}
	}()

	<-started
	require.NoError(t, svc.Clear(context.Background(), key))
	close(release)

	// The caller still gets the fetched entry.
	out := <-done
	require.NoError(t, out.err)
	require.NotNil(t, out.res.Entry)

	_, ok := svc.Peek(key)
	assert.False(t, ok)
	_, err := store.Get(context.Background(), key)
	assert.ErrorIs(t, err, ErrNotFound)

	res, err := svc.Get(context.Background(), key, countingFetch(&calls, apiEntry))
	require.NoError(t, err)
	assert.Equal(t, TierFetch, res.Tier)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClearSubject_DuringFetchStartsNewFlight(t *testing.T) {
	svc := NewService(nil, Options{TTL: time.Hour}, quietLogger())
	key := NewKey("s1", 2)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := svc.Get(context.Background(), key, func(ctx context.Context) (*Entry, error) {
			close(started)
			<-release
			return apiEntry(), nil
		})
		done <- err
	}()

	<-started
	require.NoError(t, svc.ClearSubject(context.Background(), "s1"))

	// The cleared flight is forgotten, so this fetch runs on its own.
	var calls int32
	res, err := svc.Get(context.Background(), key, countingFetch(&calls, apiEntry))
	require.NoError(t, err)
	assert.Equal(t, TierFetch, res.Tier)
	assert.False(t, res.Shared)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	close(release)
	require.NoError(t, <-done)

	cached, ok := svc.Peek(key)
	require.True(t, ok)
	assert.Same(t, res.Entry, cached)
}

func TestLookup_FallsBackToStore(t *testing.T) {
	store := newMemStore()
	key := NewKey("s1", 1)
	persisted := apiEntry()
	persisted.Key = key
	require.NoError(t, store.Put(context.Background(), persisted))

	svc := NewService(store, Options{TTL: time.Hour}, quietLogger())
	e, ok := svc.Lookup(context.Background(), key)
	require.True(t, ok)
	assert.Equal(t, key, e.Key)

	_, ok = svc.Lookup(context.Background(), NewKey("s2", 1))
	assert.False(t, ok)
}

func TestClearSubject(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, Options{TTL: time.Hour}, quietLogger())
	var calls int32

	for _, key := range []Key{NewKey("s1", 1), NewKey("s1", 2), NewKey("s2", 1)} {
		_, err := svc.Get(context.Background(), key, countingFetch(&calls, apiEntry))
		require.NoError(t, err)
	}

	require.NoError(t, svc.ClearSubject(context.Background(), "s1"))
	assert.Equal(t, 1, svc.Len())
	_, err := store.Get(context.Background(), NewKey("s2", 1))
	assert.NoError(t, err)
	_, err = store.Get(context.Background(), NewKey("s1", 2))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClose(t *testing.T) {
	svc := NewService(nil, Options{}, quietLogger())
	require.NoError(t, svc.Close())

	_, err := svc.Get(context.Background(), NewKey("s1", 1), func(ctx context.Context) (*Entry, error) {
		return apiEntry(), nil
	})
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, svc.Len())
}
