package authorizationcode

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"grantd/internal/auth/models"
	"grantd/pkg/platform/sentinel"
	"grantd/pkg/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/suite"
)

type RedisAuthCodeStoreSuite struct {
	suite.Suite
	mr    *miniredis.Miniredis
	store *RedisStore
	now   time.Time
}

func TestRedisAuthCodeStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisAuthCodeStoreSuite))
}

func (s *RedisAuthCodeStoreSuite) SetupTest() {
	mr, client := testutil.NewMiniRedis(s.T())
	s.mr = mr
	s.store = NewRedis(client)
	s.now = time.Now().UTC().Truncate(time.Second)
}

func (s *RedisAuthCodeStoreSuite) TestCreateSetsTTL() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, models.NewPendingGrant("code", "client-a", "https://app.example/cb", s.now)))

	s.Equal(models.PendingGrantTTL, s.mr.TTL(grantKeyPrefix+"code"))

	err := s.store.Create(ctx, models.NewPendingGrant("code", "client-a", "https://app.example/cb", s.now))
	s.ErrorIs(err, sentinel.ErrAlreadyUsed)
}

func (s *RedisAuthCodeStoreSuite) TestPopOnce() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, models.NewPendingGrant("code", "client-a", "https://app.example/cb", s.now)))

	got, err := s.store.Pop(ctx, "code", s.now)
	s.Require().NoError(err)
	s.Equal("client-a", got.ClientID)
	s.True(got.ExpiresAt.Equal(s.now.Add(models.PendingGrantTTL)))

	_, err = s.store.Pop(ctx, "code", s.now)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.False(s.mr.Exists(grantKeyPrefix + "code"))
}

func (s *RedisAuthCodeStoreSuite) TestKeyTTLExpiresGrant() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, models.NewPendingGrant("code", "client-a", "https://app.example/cb", s.now)))

	s.mr.FastForward(models.PendingGrantTTL + time.Second)

	_, err := s.store.Pop(ctx, "code", s.now)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisAuthCodeStoreSuite) TestPopRejectsGrantPastItsExpiry() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, models.NewPendingGrant("code", "client-a", "https://app.example/cb", s.now)))

	_, err := s.store.Pop(ctx, "code", s.now.Add(models.PendingGrantTTL))
	s.ErrorIs(err, sentinel.ErrExpired)
}

func (s *RedisAuthCodeStoreSuite) TestConcurrentPop() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, models.NewPendingGrant("race", "client-a", "https://app.example/cb", s.now)))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.store.Pop(ctx, "race", s.now); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), wins.Load())
}

func (s *RedisAuthCodeStoreSuite) TestDeleteExpiredIsNoop() {
	expired, err := s.store.DeleteExpired(context.Background(), s.now)
	s.Require().NoError(err)
	s.Empty(expired)
}
