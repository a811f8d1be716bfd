package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andresuchdata/batchsync/pkg/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ReleaseFunc gives a held lock back. It is safe to call more than once.
type ReleaseFunc func(ctx context.Context) error

// Locker is a non-blocking mutual exclusion keyed by name.
type Locker interface {
	// TryLock returns acquired=false without error when someone else holds key.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release ReleaseFunc, acquired bool, err error)
}

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-acquired elsewhere is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker coordinates every process sharing the redis instance.
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, bool, error) {
	token := uuid.NewString()
	err := l.client.SetArgs(ctx, key, token, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis lock %s: %w", key, err)
	}

	// The holder refreshes the ttl until release, so a run longer than ttl
	// keeps the key. The ttl only bounds how long a crashed holder blocks others.
	renewCtx, stopRenew := context.WithCancel(context.WithoutCancel(ctx))
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		l.keepAlive(renewCtx, key, token, ttl)
	}()

	var once sync.Once
	release := func(ctx context.Context) error {
		var relErr error
		once.Do(func() {
			stopRenew()
			<-renewed
			if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
				relErr = fmt.Errorf("redis unlock %s: %w", key, err)
			}
		})
		return relErr
	}
	return release, true, nil
}

func (l *RedisLocker) keepAlive(ctx context.Context, key, token string, ttl time.Duration) {
	interval := ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := renewScript.Run(ctx, l.client, []string{key}, token, ttl.Milliseconds()).Int64()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Log.Warn().Err(err).Str("key", key).Msg("renewing lock")
				continue
			}
			if n == 0 {
				logger.Log.Error().Str("key", key).Msg("lock expired before renewal and may now be held elsewhere")
				return
			}
		}
	}
}

// LocalLocker only excludes invocations inside this process. The ttl is
// ignored; a lock lives until released.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, _ time.Duration) (ReleaseFunc, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return nil, false, nil
	}
	l.held[key] = struct{}{}

	var once sync.Once
	release := func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}
	return release, true, nil
}

var (
	_ Locker = (*RedisLocker)(nil)
	_ Locker = (*LocalLocker)(nil)
)
