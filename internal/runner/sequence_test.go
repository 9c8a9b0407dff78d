package runner

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestcore/streamtask/internal/dsmetadata"
	"github.com/ingestcore/streamtask/internal/seqnum"
	"github.com/ingestcore/streamtask/internal/streamid"
)

func TestSequenceCanHandle(t *testing.T) {
	start := map[streamid.PartitionID]string{"0": "10"}
	end := map[streamid.PartitionID]string{"0": "20"}
	m := newSequenceMetadataStrings(0, "seq_0", dsmetadata.KindInt64Offset, start, end)

	assert.True(t, m.canHandle("0", seqnum.NewInt64Sequence(10)))
	assert.True(t, m.canHandle("0", seqnum.NewInt64Sequence(19)))
	assert.False(t, m.canHandle("0", seqnum.NewInt64Sequence(20)))
	assert.False(t, m.canHandle("0", seqnum.NewInt64Sequence(5)))
	assert.False(t, m.canHandle("1", seqnum.NewInt64Sequence(15)))

	m.Checkpointed = true
	assert.False(t, m.canHandle("0", seqnum.NewInt64Sequence(15)))
}

func TestSequenceCanHandleOpenEnd(t *testing.T) {
	start := map[streamid.PartitionID]string{"0": "10"}
	end := map[streamid.PartitionID]string{"0": seqnum.NoEnd}
	m := newSequenceMetadataStrings(0, "seq_0", dsmetadata.KindInt64Offset, start, end)

	assert.True(t, m.canHandle("0", seqnum.NewInt64Sequence(999999)))
}

func TestPersistAndLoadSequencesLocalFile(t *testing.T) {
	dir := t.TempDir()
	start := map[streamid.PartitionID]string{"0": "0"}
	end := map[streamid.PartitionID]string{"0": seqnum.NoEnd}
	seqs := []*Metadata{newSequenceMetadataStrings(0, "seq_0", dsmetadata.KindInt64Offset, start, end)}

	ctx := context.Background()
	require.NoError(t, persistSequences(ctx, nil, dir, "task-1", dsmetadata.KindInt64Offset, seqs))

	loaded, err := loadSequences(ctx, nil, dir, "task-1", dsmetadata.KindInt64Offset)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "seq_0", loaded[0].SequenceName)
	assert.Equal(t, "0", loaded[0].Start["0"])

	// A fresh directory with nothing persisted yet is not an error.
	empty, err := loadSequences(ctx, nil, filepath.Join(dir, "nonexistent"), "task-1", dsmetadata.KindInt64Offset)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

type fakeSequenceStore struct {
	blobs map[string][]byte
}

func newFakeSequenceStore() *fakeSequenceStore {
	return &fakeSequenceStore{blobs: make(map[string][]byte)}
}

func (f *fakeSequenceStore) StoreSequences(ctx context.Context, taskID string, data []byte) error {
	f.blobs[taskID] = data
	return nil
}

func (f *fakeSequenceStore) LoadSequences(ctx context.Context, taskID string) ([]byte, error) {
	return f.blobs[taskID], nil
}

func TestPersistAndLoadSequencesRemoteStore(t *testing.T) {
	store := newFakeSequenceStore()
	start := map[streamid.PartitionID]string{"0": "0"}
	seqs := []*Metadata{newSequenceMetadataStrings(0, "seq_0", dsmetadata.KindInt64Offset, start, nil)}

	ctx := context.Background()
	require.NoError(t, persistSequences(ctx, store, "", "task-1", dsmetadata.KindInt64Offset, seqs))

	loaded, err := loadSequences(ctx, store, "", "task-1", dsmetadata.KindInt64Offset)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "seq_0", loaded[0].SequenceName)
}
