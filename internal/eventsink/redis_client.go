package eventsink

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// goRedisAdapter adapts *redis.Client to the redisPusher interface this
// package depends on, the way internal/cache/redis.go's PublishGameAction
// wraps the client in the reference corpus.
type goRedisAdapter struct {
	client *redis.Client
}

func (a goRedisAdapter) RPush(ctx context.Context, key string, values ...any) error {
	return a.client.RPush(ctx, key, values...).Err()
}

// NewRedisClient connects to addr and returns the client, pinging once to
// fail fast on bad configuration. Wrap it with AdaptClient to get the
// pusher NewRedisSink takes.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// AdaptClient wraps a *redis.Client as the redisPusher RedisSink needs.
func AdaptClient(client *redis.Client) redisPusher {
	return goRedisAdapter{client: client}
}
