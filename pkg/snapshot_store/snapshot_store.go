// Package snapshot_store implements the runner's optional remote
// SequenceStore: a place to persist a task's sequence chain besides
// the local sequences.json file, so a task restarted on a different
// host can recover where it left off. RedisSequenceStore and
// MinioSequenceStore are the two concrete backings, each holding one
// JSON blob per task id.
package snapshot_store

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/go-redis/redis/v9"

	"github.com/ingestcore/streamtask/pkg/redis_client"
)

const keyPrefix = "sequences:"

// RedisSequenceStore shards a task's sequence blob across a pool of
// Redis instances by task id.
type RedisSequenceStore struct {
	clients []*redis.Client
}

func NewRedisSequenceStore() *RedisSequenceStore {
	return &RedisSequenceStore{clients: redis_client.GetRedisClients("SEQUENCE_STORE_REDIS_ADDR")}
}

func (rs *RedisSequenceStore) clientFor(taskID string) (*redis.Client, error) {
	if len(rs.clients) == 0 {
		return nil, fmt.Errorf("snapshot_store: no redis clients configured")
	}
	idx := xxhash.Sum64String(taskID) % uint64(len(rs.clients))
	return rs.clients[idx], nil
}

func (rs *RedisSequenceStore) StoreSequences(ctx context.Context, taskID string, data []byte) error {
	c, err := rs.clientFor(taskID)
	if err != nil {
		return err
	}
	return c.Set(ctx, keyPrefix+taskID, data, 0).Err()
}

func (rs *RedisSequenceStore) LoadSequences(ctx context.Context, taskID string) ([]byte, error) {
	c, err := rs.clientFor(taskID)
	if err != nil {
		return nil, err
	}
	b, err := c.Get(ctx, keyPrefix+taskID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return b, err
}
