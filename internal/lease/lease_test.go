package lease

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestNoopAlwaysGrants(t *testing.T) {
	release, ok, err := Noop{}.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	release()
}

func TestNewRedisValidatesURL(t *testing.T) {
	_, err := NewRedis("", "k")
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewRedis("http://nope", "k")
	require.ErrorIs(t, err, ErrInvalidConfig)

	l, err := NewRedis("redis://127.0.0.1:6379/0", "")
	require.NoError(t, err)
	require.Equal(t, "kickctl:tick", l.key)
	require.NoError(t, l.Close())
}

func TestRedisAcquireUnreachableReturnsError(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	l := NewRedisWithClient(client, "kickctl:test")
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	release, ok, err := l.Acquire(ctx, time.Second)
	require.Error(t, err)
	require.False(t, ok)
	require.Nil(t, release)
}
