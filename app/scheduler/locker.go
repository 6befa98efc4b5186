package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker hands out expiring, exclusive leases keyed by worker role.
type Locker interface {
	// TryLock returns ok=false without error when another holder owns key.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// releaseScript deletes the key only if it still holds our token, so an expired lease
// never frees someone else's.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a single-instance redis lock (SET NX PX with a random token).
type RedisLocker struct {
	rc     *redis.Client
	prefix string
}

func NewRedisLocker(rc *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{rc: rc, prefix: prefix}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if l.rc == nil {
		return nil, false, errors.New("redis client not configured")
	}
	fullKey := l.prefix + key
	token := uuid.New().String()
	ok, err := l.rc.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.rc, []string{fullKey}, token).Err()
	}
	return release, true, nil
}

// LocalLocker is an in-process Locker for single-instance deployments and tests.
type LocalLocker struct {
	mu     sync.Mutex
	leases map[string]localLease
}

type localLease struct {
	token     string
	expiresAt time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{leases: make(map[string]localLease)}
}

func (l *LocalLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if lease, held := l.leases[key]; held && now.Before(lease.expiresAt) {
		return nil, false, nil
	}
	token := uuid.New().String()
	l.leases[key] = localLease{token: token, expiresAt: now.Add(ttl)}
	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if lease, held := l.leases[key]; held && lease.token == token {
			delete(l.leases, key)
		}
	}
	return release, true, nil
}
