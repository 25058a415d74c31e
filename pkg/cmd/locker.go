package cmd

import (
	"fmt"
	"time"

	"github.com/dukex/amhsctl/pkg/lock"
	"github.com/redis/go-redis/v9"
)

const lockPrefix = "amhsctl:"

// NewLocker returns a Redis locker when redisURL is set and a process-local
// one otherwise. The returned close func releases the Redis connection.
func NewLocker(redisURL string, ttl time.Duration) (lock.Locker, func() error, error) {
	if redisURL == "" {
		return lock.NewLocal(), func() error { return nil }, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	return lock.NewRedis(client, lockPrefix, ttl), client.Close, nil
}
