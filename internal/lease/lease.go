// Package lease keeps two agents from ticking at the same time.
package lease

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrInvalidConfig = errors.New("lease: invalid config")

// ReleaseFunc gives the lease back. Safe to call once.
type ReleaseFunc func()

// Lease grants exclusive tick rights for up to ttl.
type Lease interface {
	Acquire(ctx context.Context, ttl time.Duration) (ReleaseFunc, bool, error)
}

// Noop always grants the lease.
type Noop struct{}

func (Noop) Acquire(context.Context, time.Duration) (ReleaseFunc, bool, error) {
	return func() {}, true, nil
}

// releaseScript deletes the key only while this owner still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis holds the lease as a SET NX PX key.
type Redis struct {
	client redis.UniversalClient
	key    string
	owner  string
	logger zerolog.Logger
}

// NewRedis parses a redis:// URL and binds the lease to key.
func NewRedis(url, key string) (*Redis, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("%w: missing redis url", ErrInvalidConfig)
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return NewRedisWithClient(redis.NewClient(opts), key), nil
}

// NewRedisWithClient binds the lease to an existing client.
func NewRedisWithClient(client redis.UniversalClient, key string) *Redis {
	if strings.TrimSpace(key) == "" {
		key = "kickctl:tick"
	}
	host, _ := os.Hostname()
	owner := fmt.Sprintf("%s/%d/%s", host, os.Getpid(), uuid.NewString())
	return &Redis{
		client: client,
		key:    key,
		owner:  owner,
		logger: log.With().Str("component", "lease").Str("key", key).Logger(),
	}
}

func (r *Redis) Acquire(ctx context.Context, ttl time.Duration) (ReleaseFunc, bool, error) {
	ok, err := r.client.SetNX(ctx, r.key, r.owner, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lease: acquire %s: %w", r.key, err)
	}
	if !ok {
		return nil, false, nil
	}
	released := false
	return func() {
		if released {
			return
		}
		released = true
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, r.client, []string{r.key}, r.owner).Err(); err != nil {
			r.logger.Warn().Err(err).Msg("lease release failed; key will expire")
		}
	}, true, nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
