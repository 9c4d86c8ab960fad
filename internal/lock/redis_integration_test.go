//go:build integration

package lock

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/suite"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

type RedisLockerSuite struct {
	suite.Suite
	container *tcredis.RedisContainer
	url       string
}

func TestRedisLockerSuite(t *testing.T) {
	suite.Run(t, new(RedisLockerSuite))
}

func (s *RedisLockerSuite) SetupSuite() {
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	s.Require().NoError(err)
	s.container = container

	s.url, err = container.ConnectionString(ctx)
	s.Require().NoError(err)
}

func (s *RedisLockerSuite) TearDownSuite() {
	if s.container != nil {
		s.container.Terminate(context.Background())
	}
}

func (s *RedisLockerSuite) dial(ttl time.Duration) *RedisLocker {
	log, _ := test.NewNullLogger()
	return s.dialWithLog(ttl, log)
}

func (s *RedisLockerSuite) dialWithLog(ttl time.Duration, log logrus.FieldLogger) *RedisLocker {
	l, err := Dial(context.Background(), s.url, ttl, 5*time.Millisecond, log)
	s.Require().NoError(err)
	s.T().Cleanup(func() { l.Close() })
	return l
}

func (s *RedisLockerSuite) TestExclusionAcrossLockers() {
	first, second := s.dial(time.Second), s.dial(time.Second)
	keys := IdentityKeys(strPtr("excl@x.com"), strPtr("111"))

	release, err := first.Acquire(context.Background(), keys...)
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = second.Acquire(ctx, keys...)
	s.ErrorIs(err, ErrNotAcquired)

	release()

	again, err := second.Acquire(context.Background(), keys...)
	s.Require().NoError(err)
	again()
}

func (s *RedisLockerSuite) TestExpiredLockIsNotReleasedByFormerHolder() {
	log, hook := test.NewNullLogger()
	short := s.dialWithLog(50*time.Millisecond, log)
	other := s.dial(time.Second)
	key := "identify:email:ttl@x.com"

	stale, err := short.Acquire(context.Background(), key)
	s.Require().NoError(err)
	time.Sleep(100 * time.Millisecond)

	current, err := other.Acquire(context.Background(), key)
	s.Require().NoError(err)
	defer current()

	stale()

	opts, err := redis.ParseURL(s.url)
	s.Require().NoError(err)
	client := redis.NewClient(opts)
	defer client.Close()
	exists, err := client.Exists(context.Background(), "lock:"+key).Result()
	s.Require().NoError(err)
	s.Equal(int64(1), exists, "a stale release must not drop the new holder's lock")

	entry := hook.LastEntry()
	s.Require().NotNil(entry)
	s.Equal(logrus.WarnLevel, entry.Level)
	s.Equal("Lock expired before release", entry.Message)
}

func (s *RedisLockerSuite) TestReleaseOnClosedClientIsLogged() {
	log, hook := test.NewNullLogger()
	l, err := Dial(context.Background(), s.url, time.Second, 5*time.Millisecond, log)
	s.Require().NoError(err)

	release, err := l.Acquire(context.Background(), "identify:email:closed@x.com")
	s.Require().NoError(err)
	s.Require().NoError(l.Close())

	release()

	entry := hook.LastEntry()
	s.Require().NotNil(entry)
	s.Equal(logrus.WarnLevel, entry.Level)
	s.Equal("lock:identify:email:closed@x.com", entry.Data["key"])
	s.Contains(entry.Message, "Failed to release lock")
}

func (s *RedisLockerSuite) TestDialRejectsBadURL() {
	log, _ := test.NewNullLogger()
	_, err := Dial(context.Background(), "not-a-url", time.Second, time.Millisecond, log)
	s.Error(err)
}
