// Package hashutil provides the generic hashing helpers used to map
// partitions onto supervisor task groups.
package hashutil

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Sum64 hashes a partition key. Integer partition ids (Kafka-style) are
// hashed by their decimal string form so that the same partition id
// always lands in the same group regardless of the concrete Go integer
// width; opaque string shard ids (Kinesis-style) are hashed directly.
type Sum64[K any] interface {
	Sum64(k K) uint64
}

type IntPartitionHasher struct{}

func (IntPartitionHasher) Sum64(k int32) uint64 {
	return xxhash.Sum64String(strconv.FormatInt(int64(k), 10))
}

type StringPartitionHasher struct{}

func (StringPartitionHasher) Sum64(k string) uint64 {
	return xxhash.Sum64String(k)
}

// GroupFor returns the task-group index a partition falls into:
// hash(partition-id) mod taskCount.
func GroupFor(partitionID string, taskCount int) int {
	if taskCount <= 0 {
		return 0
	}
	return int(xxhash.Sum64String(partitionID) % uint64(taskCount))
}
