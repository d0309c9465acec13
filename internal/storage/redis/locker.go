// Package redis implements short-lived advisory locks on Redis.
package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/pharmacart/internal/domain/apperr"
	"github.com/xenking/pharmacart/internal/domain/order"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ order.Locker = (*Locker)(nil)

// Locker grants per-key locks with SET NX PX. Each acquisition gets a random
// token so a holder whose lock expired cannot release a newer holder's lock.
type Locker struct {
	client redis.UniversalClient
	prefix string
}

// NewLocker creates a Locker storing keys under prefix.
func NewLocker(client redis.UniversalClient, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// Acquire tries to take key for ttl. ok is false when another holder owns it.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	k := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, false, apperr.Dependency("acquire lock", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client, []string{k}, token).Int()
		if err != nil {
			return errors.Wrapf(err, "release lock %q", k)
		}
		if n == 0 {
			return errors.Errorf("lock %q expired before release", k)
		}
		return nil
	}
	return release, true, nil
}
