// Package lock provides a Redis-backed market sequencer so several daemon
// instances sharing one database serialise mutations per market.
package lock

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"openrate/native/market"
)

const (
	defaultTTL   = 30 * time.Second
	defaultRetry = 25 * time.Millisecond
	keyPrefix    = "openrate:lock:"
)

// releaseLua deletes the key only while it still holds the caller's token.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Config holds connection and timing parameters.
type Config struct {
	Addr       string
	Password   string
	DB         int
	TLSEnabled bool
	// TTL bounds how long a crashed holder can block a market.
	TTL time.Duration
	// RetryInterval is the pause between acquisition attempts.
	RetryInterval time.Duration
}

// Sequencer implements market.Sequencer with SET NX PX and a compare-and-delete
// release.
type Sequencer struct {
	rdb     *redis.Client
	release *redis.Script
	ttl     time.Duration
	retry   time.Duration
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, cfg Config) (*Sequencer, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("lock: redis ping: %w", err)
	}
	return New(rdb, cfg.TTL, cfg.RetryInterval), nil
}

// New wraps an existing client.
func New(rdb *redis.Client, ttl, retry time.Duration) *Sequencer {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if retry <= 0 {
		retry = defaultRetry
	}
	return &Sequencer{rdb: rdb, release: redis.NewScript(releaseLua), ttl: ttl, retry: retry}
}

// Acquire polls until the key is free or ctx is done.
func (s *Sequencer) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	lk := keyPrefix + key
	ticker := time.NewTicker(s.retry)
	defer ticker.Stop()
	for {
		ok, err := s.rdb.SetNX(ctx, lk, token, s.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.release.Run(releaseCtx, s.rdb, []string{lk}, token).Err()
		})
	}, nil
}

// Ping checks the Redis connection.
func (s *Sequencer) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("lock: redis ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *Sequencer) Close() error { return s.rdb.Close() }

var _ market.Sequencer = (*Sequencer)(nil)
