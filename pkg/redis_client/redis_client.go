// Package redis_client builds sharded Redis client pools from a
// comma-separated address list in an environment variable, shared by
// internal/discovery's presence registry and pkg/snapshot_store's
// remote sequence store.
package redis_client

import (
	"os"
	"strings"

	"github.com/go-redis/redis/v9"
)

func getRedisAddr(envVar string) []string {
	raw := os.Getenv(envVar)
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// GetRedisClients returns one *redis.Client per address named in the
// envVar environment variable, or an empty slice if it is unset.
func GetRedisClients(envVar string) []*redis.Client {
	addrArr := getRedisAddr(envVar)
	rdbArr := make([]*redis.Client, len(addrArr))
	for i := 0; i < len(addrArr); i++ {
		rdbArr[i] = redis.NewClient(&redis.Options{
			Addr:     addrArr[i],
			Password: "",
			DB:       0,
		})
	}
	return rdbArr
}
