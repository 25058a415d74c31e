package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 10 * time.Minute

var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Redis is a Locker shared by every panel instance pointing at the same
// Redis server. Locks expire after ttl so a crashed holder cannot block runs
// forever.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) Key(key string) string {
	return r.prefix + "lock:" + key
}

// TryLock sets the key with SET NX PX and a random token. Only the holder of
// the token can release it.
func (r *Redis) TryLock(ctx context.Context, key string) (UnlockFunc, error) {
	lockKey := r.Key(key)
	token := uuid.NewString()

	acquired, err := r.client.SetNX(ctx, lockKey, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error acquiring lock %q: %w", key, err)
	}

	if !acquired {
		return nil, ErrLocked
	}

	var (
		once      sync.Once
		unlockErr error
	)

	return func(ctx context.Context) error {
		once.Do(func() {
			unlockErr = unlockScript.Run(ctx, r.client, []string{lockKey}, token).Err()
		})

		return unlockErr
	}, nil
}
