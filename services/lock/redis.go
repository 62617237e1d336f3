package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only when it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the expiry only while the key still holds our token
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a fleet-wide Locker using SET NX PX with a per-holder token
type RedisLocker struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	retry  time.Duration
	extend time.Duration
	logger *zap.Logger
}

// RedisOptions configures a RedisLocker
type RedisOptions struct {
	Prefix        string
	TTL           time.Duration
	RetryInterval time.Duration
	// ExtendInterval is how often a held lock is pushed out by another TTL.
	// Defaults to a third of the TTL.
	ExtendInterval time.Duration
}

// NewRedisClient opens a client for the lock
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), nil
}

// NewRedisLocker creates a locker on client
func NewRedisLocker(client redis.Cmdable, opts RedisOptions, logger *zap.Logger) *RedisLocker {
	if opts.Prefix == "" {
		opts.Prefix = "audit-collector:refresh:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Minute
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 100 * time.Millisecond
	}
	if opts.ExtendInterval <= 0 || opts.ExtendInterval >= opts.TTL {
		opts.ExtendInterval = opts.TTL / 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{
		client: client,
		prefix: opts.Prefix,
		ttl:    opts.TTL,
		retry:  opts.RetryInterval,
		extend: opts.ExtendInterval,
		logger: logger,
	}
}

// Acquire polls SET NX until the key is free or ctx ends. While held, the lease is
// extended in the background so a refresh slower than the TTL keeps it; if the
// holder dies the lock still expires after the TTL.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, ctxErr)
			}
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			stop := make(chan struct{})
			done := make(chan struct{})
			go l.keepAlive(redisKey, token, stop, done)

			var once sync.Once
			return func() {
				once.Do(func() {
					close(stop)
					<-done
					l.release(redisKey, token)
				})
			}, nil
		}
		if err := sleepCtx(ctx, l.retry); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, err)
		}
	}
}

// keepAlive extends the lease every extend interval until stop closes or the
// key no longer holds token.
func (l *RedisLocker) keepAlive(redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.extend)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.extend)
			n, err := extendScript.Run(ctx, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.logger.Warn("failed to extend redis lock", zap.String("key", redisKey), zap.Error(err))
				continue
			}
			if n == 0 {
				l.logger.Warn("redis lock lost while held", zap.String("key", redisKey))
				return
			}
		}
	}
}

func (l *RedisLocker) release(redisKey, token string) {
	// release must run even when the caller's context is already cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Int()
	if err != nil {
		l.logger.Warn("failed to release redis lock", zap.String("key", redisKey), zap.Error(err))
		return
	}
	if n == 0 {
		l.logger.Warn("redis lock expired before release", zap.String("key", redisKey))
	}
}
