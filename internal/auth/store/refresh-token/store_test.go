package refreshtoken

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"grantd/internal/auth/models"
	"grantd/pkg/platform/sentinel"
	"grantd/pkg/testutil"

	"github.com/stretchr/testify/suite"
)

type refreshTokenStore interface {
	Create(ctx context.Context, token *models.RefreshTokenRecord) error
	Pop(ctx context.Context, token string) (*models.RefreshTokenRecord, error)
}

type RefreshTokenStoreSuite struct {
	suite.Suite
	newStore func(t *testing.T) refreshTokenStore
	store    refreshTokenStore
}

func TestInMemoryRefreshTokenStore(t *testing.T) {
	suite.Run(t, &RefreshTokenStoreSuite{
		newStore: func(*testing.T) refreshTokenStore { return New() },
	})
}

func TestRedisRefreshTokenStore(t *testing.T) {
	suite.Run(t, &RefreshTokenStoreSuite{
		newStore: func(t *testing.T) refreshTokenStore {
			_, client := testutil.NewMiniRedis(t)
			return NewRedis(client)
		},
	})
}

func (s *RefreshTokenStoreSuite) SetupTest() {
	s.store = s.newStore(s.T())
}

func (s *RefreshTokenStoreSuite) record(token string) *models.RefreshTokenRecord {
	return &models.RefreshTokenRecord{
		Token:     token,
		ClientID:  "client-a",
		Code:      "code-1",
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (s *RefreshTokenStoreSuite) TestPopOnce() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, s.record("rt-1")))

	got, err := s.store.Pop(ctx, "rt-1")
	s.Require().NoError(err)
	s.Equal("client-a", got.ClientID)
	s.Equal("code-1", got.Code)

	_, err = s.store.Pop(ctx, "rt-1")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RefreshTokenStoreSuite) TestPopUnknown() {
	_, err := s.store.Pop(context.Background(), "nope")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RefreshTokenStoreSuite) TestCreateCollision() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, s.record("rt-1")))
	s.ErrorIs(s.store.Create(ctx, s.record("rt-1")), sentinel.ErrAlreadyUsed)
}

func (s *RefreshTokenStoreSuite) TestConcurrentPop() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, s.record("race")))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.store.Pop(ctx, "race"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), wins.Load())
}
