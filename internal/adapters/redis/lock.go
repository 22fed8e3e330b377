package redis

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only when this holder still owns it,
// so a lease that expired and was re-acquired by another instance is never
// clobbered.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Lease is the distributed resource locker for multi-instance deployments:
// a SetNX lease per resource, polled until acquired or the context ends.
type Lease struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

func NewLease(client *redis.Client, ttl, retry time.Duration) *Lease {
	if ttl == 0 {
		ttl = 5 * time.Second
	}
	if retry == 0 {
		retry = 20 * time.Millisecond
	}
	return &Lease{client: client, ttl: ttl, retry: retry}
}

func (l *Lease) WithResourceLock(ctx context.Context, resourceID uuid.UUID, fn func() error) error {
	key := "reslock:" + resourceID.String()
	holder := uuid.New().String()

	for {
		ok, err := l.client.SetNX(ctx, key, holder, l.ttl).Result()
		if err != nil {
			return errors.Wrap(err, "acquire resource lock")
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retry):
		}
	}

	defer func() {
		// Release is best effort: an expired lease has already let the
		// next holder in.
		_ = releaseScript.Run(context.WithoutCancel(ctx), l.client, []string{key}, holder).Err()
	}()
	return fn()
}
