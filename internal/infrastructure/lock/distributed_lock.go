package lock

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// Redis distributed lock
// ============================================================================
//
// Used for leadership of background jobs across instances, e.g. only one
// instance drains the outbox per tick. Balance mutations never take it; they
// rely on row locks inside their own unit of work.
//
// Acquire: SET key value NX PX ttl
//   - NX makes it mutually exclusive
//   - the TTL frees the lock if the holder dies
//   - value identifies the holder so nobody else can release it
//
// Release: a Lua script deletes the key only while it still holds our value,
// so an expired holder cannot delete a lock someone else took since.
//
// ============================================================================

const outboxSenderKey = "outbox:sender:lock"

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// NewOutboxSenderLock is held by the instance draining the outbox. owner
// should be unique per process.
func NewOutboxSenderLock(client *redis.Client, owner string, expiration time.Duration) *DistributedLock {
	return NewDistributedLock(client, outboxSenderKey, owner, expiration)
}

// TryLock does not block.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

func (l *DistributedLock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
}
