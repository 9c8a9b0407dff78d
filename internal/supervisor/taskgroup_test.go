package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ingestcore/streamtask/internal/streamid"
)

func TestNewTaskGroupPartitions(t *testing.T) {
	start := map[streamid.PartitionID]string{"0": "10", "1": "20"}
	g := NewTaskGroup(0, start, "ds_0")

	partitions := g.Partitions()
	assert.Len(t, partitions, 2)
	assert.ElementsMatch(t, []streamid.PartitionID{"0", "1"}, partitions)
}

func TestTaskGroupAddRemoveReplica(t *testing.T) {
	g := NewTaskGroup(0, nil, "ds_0")

	g.AddReplica("task-a")
	g.AddReplica("task-b")
	assert.Len(t, g.ReplicaTaskIDs, 2)

	g.RemoveReplica("task-a")
	assert.Len(t, g.ReplicaTaskIDs, 1)
	_, ok := g.ReplicaTaskIDs["task-b"]
	assert.True(t, ok)
}

func TestInMemoryOrchestratorLifecycle(t *testing.T) {
	orch := NewInMemoryOrchestrator()
	spec := TaskSpec{TaskID: "task-a", GroupID: 0, DataSource: "ds"}

	require := assert.New(t)
	require.NoError(orch.SubmitTask(nil, spec))
	require.Error(orch.SubmitTask(nil, spec))

	tasks, err := orch.ListTasks(nil)
	require.NoError(err)
	require.ElementsMatch([]string{"task-a"}, tasks)

	require.NoError(orch.ShutdownTask(nil, "task-a"))
	tasks, err = orch.ListTasks(nil)
	require.NoError(err)
	require.Empty(tasks)
	require.True(orch.IsShutdown("task-a"))
}
