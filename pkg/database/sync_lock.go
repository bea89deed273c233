package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/apperrors"
)

// ReleaseFunc releases a lock acquired by SyncLocker.TryLock.
type ReleaseFunc func(ctx context.Context) error

// SyncLocker grants at most one holder per key. Synchronization uses the
// database ID as key so two syncs never mutate the same graph at once.
type SyncLocker interface {
	// TryLock acquires key for at most ttl. It fails with apperrors.ErrSyncInProgress
	// when the key is already held.
	TryLock(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error)
}

// releaseScript deletes the lock only if it is still held by the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSyncLocker implements SyncLocker with SET NX PX, so locks are shared
// across processes.
type RedisSyncLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisSyncLocker creates a SyncLocker backed by client. Keys are namespaced by prefix.
func NewRedisSyncLocker(client *redis.Client, prefix string) *RedisSyncLocker {
	return &RedisSyncLocker{client: client, prefix: prefix}
}

var _ SyncLocker = (*RedisSyncLocker)(nil)

func (l *RedisSyncLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	lockKey := l.prefix + "sync-lock:" + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, apperrors.ErrSyncInProgress)
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{lockKey}, token).Err(); err != nil {
			return fmt.Errorf("failed to release sync lock: %w", err)
		}
		return nil
	}, nil
}

// LocalSyncLocker implements SyncLocker within a single process.
type LocalSyncLocker struct {
	mu    sync.Mutex
	held  map[string]localLock
	clock func() time.Time
}

type localLock struct {
	token   uuid.UUID
	expires time.Time
}

// NewLocalSyncLocker creates an in-process SyncLocker.
func NewLocalSyncLocker() *LocalSyncLocker {
	return &LocalSyncLocker{
		held:  make(map[string]localLock),
		clock: time.Now,
	}
}

var _ SyncLocker = (*LocalSyncLocker)(nil)

func (l *LocalSyncLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if existing, ok := l.held[key]; ok && now.Before(existing.expires) {
		return nil, fmt.Errorf("%s: %w", key, apperrors.ErrSyncInProgress)
	}

	token := uuid.New()
	l.held[key] = localLock{token: token, expires: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if current, ok := l.held[key]; ok && current.token == token {
			delete(l.held, key)
		}
		return nil
	}, nil
}
