package runlock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const (
	// defaultKey guards the whole sync run across process instances.
	defaultKey = "chargesync:sync_run"
	// defaultTTL bounds how long a crashed holder can wedge the schedule.
	defaultTTL = 30 * time.Minute
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Locker is a redis SETNX lock with token-checked release. Key and TTL
// are fixed at construction; every instance competes for the same run
// slot.
type Locker struct {
	client *redis.Client
	script *redis.Script
	key    string
	ttl    time.Duration
}

func NewLocker(client *redis.Client, key string, ttl time.Duration) *Locker {
	if client == nil {
		return nil
	}
	if key == "" {
		key = defaultKey
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		key:    key,
		ttl:    ttl,
	}
}

// TryLock attempts to claim the run slot. The returned token is required
// to release the claim.
func (l *Locker) TryLock(ctx context.Context) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lock client not configured")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Release deletes the lock only while token still matches, so a claim
// that outlived its TTL never releases a successor's lock.
func (l *Locker) Release(ctx context.Context, token string) error {
	if l == nil || l.client == nil || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{l.key}, token).Err()
}
