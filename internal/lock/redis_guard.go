package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only if this guard still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0
`)

// RedisGuard is a distributed lease for multi-host deployments: SET NX with a
// TTL so a crashed holder expires instead of blocking future runs.
type RedisGuard struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	token  string
}

// NewRedisGuard creates a lease guard on the given key.
func NewRedisGuard(client *redis.Client, key string, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, key: key, ttl: ttl, token: uuid.NewString()}
}

// Acquire takes the lease or fails with ErrContended if it is held.
func (g *RedisGuard) Acquire(ctx context.Context) error {
	ok, err := g.client.SetNX(ctx, g.key, g.token, g.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire redis lease: %w", err)
	}
	if !ok {
		return ErrContended
	}
	return nil
}

// Release drops the lease if it is still ours; an expired lease is a no-op.
func (g *RedisGuard) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, g.client, []string{g.key}, g.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release redis lease: %w", err)
	}
	return nil
}
