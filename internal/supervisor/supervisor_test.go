package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestcore/streamtask/internal/dsmetadata"
	"github.com/ingestcore/streamtask/internal/metadatastore"
	"github.com/ingestcore/streamtask/internal/recordsupplier"
	"github.com/ingestcore/streamtask/internal/seqnum"
	"github.com/ingestcore/streamtask/internal/streamid"
)

type fakeSupplier struct {
	partitionIDs []streamid.PartitionID
	earliest     map[streamid.PartitionID]seqnum.SequenceNumber
	latest       map[streamid.PartitionID]seqnum.SequenceNumber
}

func (f *fakeSupplier) Assign(ctx context.Context, partitions streamid.Set) error { return nil }
func (f *fakeSupplier) Seek(ctx context.Context, partition streamid.StreamPartition, seq seqnum.SequenceNumber) error {
	return nil
}
func (f *fakeSupplier) SeekToEarliest(ctx context.Context, partitions streamid.Set) error { return nil }
func (f *fakeSupplier) SeekToLatest(ctx context.Context, partitions streamid.Set) error   { return nil }
func (f *fakeSupplier) GetEarliest(ctx context.Context, p streamid.StreamPartition) (seqnum.SequenceNumber, error) {
	return f.earliest[p.PartitionID], nil
}
func (f *fakeSupplier) GetLatest(ctx context.Context, p streamid.StreamPartition) (seqnum.SequenceNumber, error) {
	return f.latest[p.PartitionID], nil
}
func (f *fakeSupplier) Poll(ctx context.Context, timeout time.Duration) ([]recordsupplier.Record, error) {
	return nil, nil
}
func (f *fakeSupplier) GetPartitionIDs(ctx context.Context, streamID string) ([]streamid.PartitionID, error) {
	return f.partitionIDs, nil
}
func (f *fakeSupplier) GetAssignment() streamid.Set { return nil }
func (f *fakeSupplier) Close() error                { return nil }

type fakeTaskClient struct {
	mu      sync.Mutex
	status  map[string]string
	offsets map[string]map[streamid.PartitionID]string
}

func newFakeTaskClient() *fakeTaskClient {
	return &fakeTaskClient{status: make(map[string]string), offsets: make(map[string]map[streamid.PartitionID]string)}
}

func (c *fakeTaskClient) GetStatus(ctx context.Context, taskID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.status[taskID]; ok {
		return s, nil
	}
	return "READING", nil
}
func (c *fakeTaskClient) GetStartTime(ctx context.Context, taskID string) (time.Time, error) {
	return time.Now(), nil
}
func (c *fakeTaskClient) GetCheckpoints(ctx context.Context, taskID string) (map[int]map[streamid.PartitionID]string, error) {
	return nil, nil
}
func (c *fakeTaskClient) GetCurrentOffsets(ctx context.Context, taskID string) (map[streamid.PartitionID]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offsets[taskID], nil
}
func (c *fakeTaskClient) Pause(ctx context.Context, taskID string) (map[streamid.PartitionID]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offsets[taskID], nil
}
func (c *fakeTaskClient) Resume(ctx context.Context, taskID string) error { return nil }
func (c *fakeTaskClient) SetEndOffsets(ctx context.Context, taskID string, offsets map[streamid.PartitionID]string, finish bool) error {
	return nil
}
func (c *fakeTaskClient) Stop(ctx context.Context, taskID string) error { return nil }

func newTestSupervisor(t *testing.T, supplier recordsupplier.Supplier, client TaskClient) *Supervisor {
	t.Helper()
	cfg := DefaultConfig().WithTaskCount(1).WithReplicas(1)
	return New(cfg, "ds", "stream-1", dsmetadata.KindInt64Offset, supplier, metadatastore.NewInMemory(), client, NewInMemoryOrchestrator())
}

func TestEnsureGroupsUsesEarliestWhenConfigured(t *testing.T) {
	supplier := &fakeSupplier{
		partitionIDs: []streamid.PartitionID{"0", "1"},
		earliest: map[streamid.PartitionID]seqnum.SequenceNumber{
			"0": seqnum.NewInt64Sequence(5),
			"1": seqnum.NewInt64Sequence(7),
		},
	}
	s := newTestSupervisor(t, supplier, newFakeTaskClient())
	s.cfg.UseEarliestSequenceNumber = true

	s.ensureGroups(context.Background(), supplier.partitionIDs)

	require.Len(t, s.groups, 1)
	g := s.groups[0]
	assert.Equal(t, "5", g.StartOffsets["0"])
	assert.Equal(t, "7", g.StartOffsets["1"])
}

func TestEnsureGroupsDoesNotRecreateActiveGroup(t *testing.T) {
	supplier := &fakeSupplier{partitionIDs: []streamid.PartitionID{"0"}}
	s := newTestSupervisor(t, supplier, newFakeTaskClient())
	s.groups[0] = NewTaskGroup(0, map[streamid.PartitionID]string{"0": "1"}, "ds_0")

	s.ensureGroups(context.Background(), supplier.partitionIDs)

	require.Len(t, s.groups, 1)
	assert.Equal(t, "1", s.groups[0].StartOffsets["0"])
}

func TestReconcileReplicasSubmitsMissingReplicas(t *testing.T) {
	supplier := &fakeSupplier{}
	s := newTestSupervisor(t, supplier, newFakeTaskClient())
	s.groups[0] = NewTaskGroup(0, map[streamid.PartitionID]string{"0": "1"}, "ds_0")

	s.reconcileReplicas(context.Background())

	require.Len(t, s.groups[0].ReplicaTaskIDs, 1)
	tasks, err := s.orch.ListTasks(context.Background())
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestReconcileReplicasRetiresUnreachableTask(t *testing.T) {
	supplier := &fakeSupplier{}
	client := newFakeTaskClient()
	s := newTestSupervisor(t, supplier, client)
	s.cfg.ChatRetries = 1
	s.cfg.HTTPTimeout = 10 * time.Millisecond
	group := NewTaskGroup(0, map[streamid.PartitionID]string{"0": "1"}, "ds_0")
	group.AddReplica("dead-task")
	s.groups[0] = group

	// A TaskClient whose GetStatus always errors for this task id.
	erroringClient := &erroringTaskClient{fakeTaskClient: client, failTaskID: "dead-task"}
	s.client = erroringClient

	s.reconcileReplicas(context.Background())

	_, stillThere := s.groups[0].ReplicaTaskIDs["dead-task"]
	assert.False(t, stillThere)
}

type erroringTaskClient struct {
	*fakeTaskClient
	failTaskID string
}

func (c *erroringTaskClient) GetStatus(ctx context.Context, taskID string) (string, error) {
	if taskID == c.failTaskID {
		return "", assertError{}
	}
	return c.fakeTaskClient.GetStatus(ctx, taskID)
}

type assertError struct{}

func (assertError) Error() string { return "unreachable" }

func TestResetRemovesOverlappingGroups(t *testing.T) {
	supplier := &fakeSupplier{}
	s := newTestSupervisor(t, supplier, newFakeTaskClient())
	s.groups[0] = NewTaskGroup(0, map[streamid.PartitionID]string{"0": "1"}, "ds_0")
	s.groups[1] = NewTaskGroup(1, map[streamid.PartitionID]string{"1": "1"}, "ds_1")
	s.cfg.StartDelay = 0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Shutdown(context.Background())

	metadata := dsmetadata.New(dsmetadata.KindInt64Offset, "stream-1")
	metadata.Partitions["0"] = "1"

	require.NoError(t, s.Reset(ctx, metadata))

	rep := s.Status(ctx)
	require.Len(t, rep.ActiveTaskGroups, 1)
	assert.Equal(t, 1, rep.ActiveTaskGroups[0].GroupID)
}

func TestAdoptOrphansAdoptsRunningTaskIntoRecreatedGroup(t *testing.T) {
	supplier := &fakeSupplier{partitionIDs: []streamid.PartitionID{"0"}}
	s := newTestSupervisor(t, supplier, newFakeTaskClient())

	orch := s.orch.(*InMemoryOrchestrator)
	require.NoError(t, orch.SubmitTask(context.Background(), TaskSpec{TaskID: "ds_0_orphan-uuid", GroupID: 0}))

	byGroup := s.groupPartitions(supplier.partitionIDs)
	s.adoptOrRetireOrphans(context.Background(), byGroup)

	require.Contains(t, s.groups, 0)
	assert.Contains(t, s.groups[0].ReplicaTaskIDs, "ds_0_orphan-uuid")
}

func TestAdoptOrphansShutsDownForeignTask(t *testing.T) {
	supplier := &fakeSupplier{partitionIDs: []streamid.PartitionID{"0"}}
	s := newTestSupervisor(t, supplier, newFakeTaskClient())

	orch := s.orch.(*InMemoryOrchestrator)
	require.NoError(t, orch.SubmitTask(context.Background(), TaskSpec{TaskID: "other-ds_0_orphan-uuid"}))

	byGroup := s.groupPartitions(supplier.partitionIDs)
	s.adoptOrRetireOrphans(context.Background(), byGroup)

	assert.True(t, orch.IsShutdown("other-ds_0_orphan-uuid"))
}

func TestAdoptOrphansSkipsKnownReplicas(t *testing.T) {
	supplier := &fakeSupplier{partitionIDs: []streamid.PartitionID{"0"}}
	s := newTestSupervisor(t, supplier, newFakeTaskClient())
	group := NewTaskGroup(0, map[streamid.PartitionID]string{"0": "1"}, "ds_0")
	group.AddReplica("ds_0_known-uuid")
	s.groups[0] = group

	orch := s.orch.(*InMemoryOrchestrator)
	require.NoError(t, orch.SubmitTask(context.Background(), TaskSpec{TaskID: "ds_0_known-uuid"}))

	byGroup := s.groupPartitions(supplier.partitionIDs)
	s.adoptOrRetireOrphans(context.Background(), byGroup)

	assert.False(t, orch.IsShutdown("ds_0_known-uuid"))
	assert.Len(t, s.groups, 1)
}

func TestCheckReadinessDefersUntilCheckpointsAlign(t *testing.T) {
	supplier := &fakeSupplier{}
	client := newFakeTaskClient()
	s := newTestSupervisor(t, supplier, client)
	s.cfg.TaskDuration = 0

	group := NewTaskGroup(0, map[streamid.PartitionID]string{"0": "1"}, "ds_0")
	group.AddReplica("task-a")
	group.AddReplica("task-b")
	s.groups[0] = group

	divergingClient := &divergingCheckpointClient{fakeTaskClient: client}
	s.client = divergingClient

	s.checkReadiness(context.Background())

	_, stillActive := s.groups[0]
	assert.True(t, stillActive, "group should stay active while replica checkpoints disagree")
	_, published := s.pending[0]
	assert.False(t, published)
}

type divergingCheckpointClient struct {
	*fakeTaskClient
}

// GetStartTime reports a start well past TaskDuration so the duration
// gate passes and the deferral comes from the checkpoint comparison.
func (c *divergingCheckpointClient) GetStartTime(ctx context.Context, taskID string) (time.Time, error) {
	return time.Now().Add(-time.Hour), nil
}

func (c *divergingCheckpointClient) GetCheckpoints(ctx context.Context, taskID string) (map[int]map[streamid.PartitionID]string, error) {
	if taskID == "task-a" {
		return map[int]map[streamid.PartitionID]string{0: {"0": "10"}}, nil
	}
	return map[int]map[streamid.PartitionID]string{0: {"0": "20"}}, nil
}

func TestSuspendResumeToggleFlag(t *testing.T) {
	supplier := &fakeSupplier{}
	s := newTestSupervisor(t, supplier, newFakeTaskClient())
	s.cfg.StartDelay = 0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Shutdown(context.Background())

	s.Suspend(ctx)
	assert.True(t, s.Status(ctx).Suspended)

	s.Resume(ctx)
	assert.False(t, s.Status(ctx).Suspended)
}
