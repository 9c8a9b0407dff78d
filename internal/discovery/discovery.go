// Package discovery announces and withdraws task presence against a
// Redis-backed registry. The runner announces on entry to STARTING and
// unannounces once it has fully shut down.
package discovery

import (
	"context"

	"github.com/go-redis/redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ingestcore/streamtask/pkg/redis_client"
)

const keyPrefix = "indextask:presence:"

// Registry announces/withdraws task ids against a set of Redis
// instances, sharded by task id.
type Registry struct {
	clients []*redis.Client
}

func NewRegistry() *Registry {
	return &Registry{clients: redis_client.GetRedisClients("DISCOVERY_REDIS_ADDR")}
}

func NewRegistryWithClients(clients []*redis.Client) *Registry {
	return &Registry{clients: clients}
}

func (r *Registry) clientFor(taskID string) *redis.Client {
	if len(r.clients) == 0 {
		return nil
	}
	h := uint64(0)
	for i := 0; i < len(taskID); i++ {
		h = h*31 + uint64(taskID[i])
	}
	return r.clients[h%uint64(len(r.clients))]
}

// Announce marks taskID present. A registry with no Redis clients (no
// Redis configured) is a no-op so tests and single-process deployments need not stand up
// Redis just to exercise the runner.
func (r *Registry) Announce(ctx context.Context, taskID string) error {
	c := r.clientFor(taskID)
	if c == nil {
		return nil
	}
	if err := c.Set(ctx, keyPrefix+taskID, "1", 0).Err(); err != nil {
		log.Warn().Err(err).Str("task_id", taskID).Msg("discovery announce failed")
		return err
	}
	return nil
}

// Unannounce withdraws taskID. Idempotent: removing an absent key is
// not an error.
func (r *Registry) Unannounce(ctx context.Context, taskID string) error {
	c := r.clientFor(taskID)
	if c == nil {
		return nil
	}
	if err := c.Del(ctx, keyPrefix+taskID).Err(); err != nil {
		log.Warn().Err(err).Str("task_id", taskID).Msg("discovery unannounce failed")
		return err
	}
	return nil
}

func (r *Registry) IsAnnounced(ctx context.Context, taskID string) (bool, error) {
	c := r.clientFor(taskID)
	if c == nil {
		return false, nil
	}
	n, err := c.Exists(ctx, keyPrefix+taskID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
