package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const _syncLockTTL = 300 * time.Second

// sourceLocks serializes syncs per source across every process sharing the
// same redis. The TTL guarantees a crashed holder can't wedge a source
// forever.
type sourceLocks struct {
	rdb *redis.Client
	ttl time.Duration
}

func newSourceLocks(rdb *redis.Client) *sourceLocks {
	return &sourceLocks{rdb: rdb, ttl: _syncLockTTL}
}

func lockKey(sourceID int64) string {
	return fmt.Sprintf("sync_source_%d", sourceID)
}

// acquire takes the source's lock, returning a release func that is safe to
// call from any exit path (including after TTL expiry). Returns
// errSyncRunning when another holder has it.
func (l *sourceLocks) acquire(ctx context.Context, sourceID int64) (func(), error) {
	key := lockKey(sourceID)
	ok, err := l.rdb.SetNX(ctx, key, "1", l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring sync lock: %w", err)
	}
	if !ok {
		return nil, errSyncRunning
	}
	release := func() {
		// Release on a fresh context: the sync's own context may already be
		// canceled by the time we get here.
		if err := l.rdb.Del(context.Background(), key).Err(); err != nil {
			Log(ctx).Warn("problem releasing sync lock", "key", key, "err", err)
		}
	}
	return release, nil
}
