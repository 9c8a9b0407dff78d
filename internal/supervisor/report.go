package supervisor

import (
	"time"

	"github.com/ingestcore/streamtask/internal/streamid"
)

// GroupStatus summarizes one active TaskGroup for the supervisor's
// status report.
type GroupStatus struct {
	GroupID        int
	Partitions     []streamid.PartitionID
	ReplicaTaskIDs []string
	StartOffsets   map[streamid.PartitionID]string
}

// PublishingGroupStatus summarizes one PendingCompletionTaskGroup.
type PublishingGroupStatus struct {
	GroupID    int
	EndOffsets map[streamid.PartitionID]string
	EnteredAt  time.Time
}

// StatusReport is the supervisor-level status view: active and
// publishing task groups plus per-partition lag.
type StatusReport struct {
	DataSource           string
	Suspended            bool
	ActiveTaskGroups     []GroupStatus
	PublishingTaskGroups []PublishingGroupStatus
	// PartitionLag is latest-minus-current per partition, populated only
	// when the stream's sequence domain supports subtraction (the
	// integer-offset flavor); the map is nil for other flavors, and a
	// partition whose lag is not computable has no entry.
	PartitionLag map[streamid.PartitionID]int64
}
