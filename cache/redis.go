package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisInvalidator drops cached query keys from a Redis instance shared by
// several dashboard processes. Keys are namespaced under keyspace so an
// invalidation for "orders" clears "cardapio:query:orders*".
type RedisInvalidator struct {
	client   *redis.Client
	keyspace string
}

// NewRedisInvalidator creates an invalidator over an existing Redis client
func NewRedisInvalidator(client *redis.Client, keyspace string) *RedisInvalidator {
	if keyspace == "" {
		keyspace = "cardapio:query:"
	}
	return &RedisInvalidator{client: client, keyspace: keyspace}
}

// Invalidate scans for keys under the prefix and deletes them in batches
func (r *RedisInvalidator) Invalidate(ctx context.Context, prefix string) error {
	pattern := r.keyspace + prefix + "*"

	var batch []string
	deleted := 0

	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("failed to delete cached queries: %w", err)
			}
			deleted += len(batch)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cached queries: %w", err)
	}

	if len(batch) > 0 {
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("failed to delete cached queries: %w", err)
		}
		deleted += len(batch)
	}

	if deleted > 0 {
		log.Debug().Str("prefix", prefix).Int("keys", deleted).Msg("Invalidated cached queries")
	}

	return nil
}
