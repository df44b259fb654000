package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// BatchLeaser hands out short-lived exclusive leases so that only one
// pipeline run writes a given batch at a time.
type BatchLeaser struct {
	client *goredis.Client
	ttl    time.Duration
	token  func() string
}

func NewBatchLeaser(client *goredis.Client, ttl time.Duration) (*BatchLeaser, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("lease ttl must be positive")
	}

	return &BatchLeaser{
		client: client,
		ttl:    ttl,
		token:  uuid.NewString,
	}, nil
}

// Acquire takes the lease for batchID. It reports false when another holder
// owns it. The returned release func only deletes the key while this caller
// still holds it.
func (l *BatchLeaser) Acquire(ctx context.Context, batchID string) (func(context.Context) error, bool, error) {
	key := leaseKey(batchID)
	token := l.token()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease for batch %s: %w", batchID, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("failed to release lease for batch %s: %w", batchID, err)
		}
		return nil
	}
	return release, true, nil
}

func leaseKey(batchID string) string {
	return "codegen:lease:" + batchID
}
