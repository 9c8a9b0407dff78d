package supervisor

import (
	"time"

	"github.com/ingestcore/streamtask/internal/streamid"
)

// TaskGroup is the supervisor-internal grouping of replica tasks that
// cover the same partitions with identical start/end bounds.
type TaskGroup struct {
	GroupID      int
	StartOffsets map[streamid.PartitionID]string
	CreatedAt    time.Time

	MinimumMessageTime time.Time
	MaximumMessageTime time.Time

	ReplicaTaskIDs           map[string]struct{}
	ExclusiveStartPartitions streamid.Set

	// CheckpointHistory is the ordered map<sequence-id, start-offsets>
	// the supervisor has observed from its tasks' /checkpoints calls,
	// insertion-ordered by sequence id.
	CheckpointHistory []CheckpointEntry

	BaseSequenceName string
}

type CheckpointEntry struct {
	SequenceID int
	Offsets    map[streamid.PartitionID]string
}

func NewTaskGroup(groupID int, start map[streamid.PartitionID]string, baseSequenceName string) *TaskGroup {
	return &TaskGroup{
		GroupID:                  groupID,
		StartOffsets:             start,
		CreatedAt:                time.Now(),
		ReplicaTaskIDs:           make(map[string]struct{}),
		ExclusiveStartPartitions: streamid.NewSet(),
		BaseSequenceName:         baseSequenceName,
	}
}

func (g *TaskGroup) Partitions() []streamid.PartitionID {
	out := make([]streamid.PartitionID, 0, len(g.StartOffsets))
	for p := range g.StartOffsets {
		out = append(out, p)
	}
	return out
}

func (g *TaskGroup) AddReplica(taskID string)    { g.ReplicaTaskIDs[taskID] = struct{}{} }
func (g *TaskGroup) RemoveReplica(taskID string) { delete(g.ReplicaTaskIDs, taskID) }

// PendingCompletionTaskGroup is a TaskGroup whose tasks are past the
// READING state, kept until publish completes or cfg.CompletionTimeout
// elapses.
type PendingCompletionTaskGroup struct {
	*TaskGroup
	EndOffsets map[streamid.PartitionID]string
	EnteredAt  time.Time
}
