package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"compvalue/server/internal/cache"
	"compvalue/server/internal/models"
)

type StoreTestSuite struct {
	suite.Suite
	mock  redismock.ClientMock
	store *Store
	now   time.Time
}

func (s *StoreTestSuite) SetupTest() {
	db, mock := redismock.NewClientMock()
	s.mock = mock
	s.now = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s.store = NewStore(db, WithPrefix("test:"))
	s.store.now = func() time.Time { return s.now }
}

func (s *StoreTestSuite) TearDownTest() {
	assert.NoError(s.T(), s.mock.ExpectationsWereMet())
}

func (s *StoreTestSuite) entry(expires time.Time) *cache.Entry {
	return &cache.Entry{
		Key:        cache.NewKey("s1", 1),
		Comps:      []models.ComparableProperty{{ID: "a", SalePrice: 100000, SquareFeet: 1000}},
		DataSource: models.DataSourceMLS,
		CreatedAt:  s.now,
		ExpiresAt:  &expires,
	}
}

func (s *StoreTestSuite) TestGet_Hit() {
	e := s.entry(s.now.Add(time.Hour))
	payload, _ := json.Marshal(e)
	s.mock.ExpectGet("test:cache:s1@1.00").SetVal(string(payload))

	got, err := s.store.Get(context.Background(), cache.NewKey("s1", 1))
	s.Require().NoError(err)
	s.Equal(cache.NewKey("s1", 1), got.Key)
	s.Len(got.Comps, 1)
	s.Equal(models.DataSourceMLS, got.DataSource)
}

func (s *StoreTestSuite) TestGet_Miss() {
	s.mock.ExpectGet("test:cache:s1@1.00").RedisNil()

	_, err := s.store.Get(context.Background(), cache.NewKey("s1", 1))
	s.ErrorIs(err, cache.ErrNotFound)
}

func (s *StoreTestSuite) TestGet_Error() {
	s.mock.ExpectGet("test:cache:s1@1.00").SetErr(errors.New("connection refused"))

	_, err := s.store.Get(context.Background(), cache.NewKey("s1", 1))
	s.Error(err)
	s.NotErrorIs(err, cache.ErrNotFound)
}

func (s *StoreTestSuite) TestPut_SetsTTLAndIndexes() {
	e := s.entry(s.now.Add(30 * time.Minute))
	payload, _ := json.Marshal(e)
	s.mock.ExpectSet("test:cache:s1@1.00", string(payload), 30*time.Minute).SetVal("OK")
	s.mock.ExpectSAdd("test:subject:s1", "test:cache:s1@1.00").SetVal(1)

	s.NoError(s.store.Put(context.Background(), e))
}

func (s *StoreTestSuite) TestPut_ExpiredEntryIsDeleted() {
	e := s.entry(s.now.Add(-time.Minute))
	s.mock.ExpectDel("test:cache:s1@1.00").SetVal(0)
	s.mock.ExpectSRem("test:subject:s1", "test:cache:s1@1.00").SetVal(0)

	s.NoError(s.store.Put(context.Background(), e))
}

func (s *StoreTestSuite) TestDeleteSubject() {
	s.mock.ExpectSMembers("test:subject:s1").SetVal([]string{"test:cache:s1@1.00", "test:cache:s1@2.00"})
	s.mock.ExpectDel("test:cache:s1@1.00", "test:cache:s1@2.00", "test:subject:s1").SetVal(3)

	s.NoError(s.store.DeleteSubject(context.Background(), "s1"))
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}
