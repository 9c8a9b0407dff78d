package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestcore/streamtask/internal/dsmetadata"
	"github.com/ingestcore/streamtask/internal/ingesterrors"
	"github.com/ingestcore/streamtask/internal/streamid"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	cfg := NewConfig("task-1", "ds", "stream-1", 0, "seq").WithPersistDir(t.TempDir())
	bounds := Bounds{
		Start: map[streamid.PartitionID]string{"0": "0"},
		End:   map[streamid.PartitionID]string{"0": "100"},
	}
	r := New(cfg, Deps{}, dsmetadata.KindInt64Offset, bounds, streamid.NewSet())
	return r
}

func TestSetEndOffsetsRequiresPaused(t *testing.T) {
	r := newTestRunner(t)
	r.currOffsets = map[streamid.PartitionID]string{"0": "5"}

	_, err := r.SetEndOffsets(context.Background(), map[streamid.PartitionID]string{"0": "10"}, false)
	assert.True(t, ingesterrors.Is(err, ingesterrors.ErrNotPaused))
}

func TestSetEndOffsetsRejectsPartitionSetMismatch(t *testing.T) {
	r := newTestRunner(t)
	r.state = Paused
	r.currOffsets = map[streamid.PartitionID]string{"0": "5"}

	_, err := r.SetEndOffsets(context.Background(), map[streamid.PartitionID]string{"1": "10"}, false)
	assert.True(t, ingesterrors.Is(err, ingesterrors.ErrPartitionSetMismatch))
}

func TestSetEndOffsetsRejectsRegression(t *testing.T) {
	r := newTestRunner(t)
	r.state = Paused
	r.currOffsets = map[streamid.PartitionID]string{"0": "50"}

	_, err := r.SetEndOffsets(context.Background(), map[streamid.PartitionID]string{"0": "10"}, false)
	assert.True(t, ingesterrors.Is(err, ingesterrors.ErrOffsetRegression))
}

func TestSetEndOffsetsFinishRecordsEndAndChecksLatest(t *testing.T) {
	r := newTestRunner(t)
	r.state = Paused
	r.currOffsets = map[streamid.PartitionID]string{"0": "50"}
	r.sequences = []*Metadata{newSequenceMetadataStrings(0, "seq_0", r.kind,
		map[streamid.PartitionID]string{"0": "0"}, nil)}

	got, err := r.SetEndOffsets(context.Background(), map[streamid.PartitionID]string{"0": "60"}, true)
	require.NoError(t, err)
	assert.Equal(t, "60", got["0"])
	assert.Equal(t, "60", r.endOffsets["0"])
	assert.True(t, r.sequences[0].Checkpointed)
}

func TestSetEndOffsetsNonFinishAppendsNewSequence(t *testing.T) {
	r := newTestRunner(t)
	r.state = Paused
	r.currOffsets = map[streamid.PartitionID]string{"0": "50"}
	r.sequences = []*Metadata{newSequenceMetadataStrings(0, "seq_0", r.kind,
		map[streamid.PartitionID]string{"0": "0"}, nil)}
	r.firstRecordSeen["0"] = true

	_, err := r.SetEndOffsets(context.Background(), map[streamid.PartitionID]string{"0": "50"}, false)
	require.NoError(t, err)
	require.Len(t, r.sequences, 2)
	assert.Equal(t, "50", r.sequences[1].Start["0"])
	assert.False(t, r.firstRecordSeen["0"])

	// A second identical request while the first is still pending is
	// rejected as a duplicate.
	_, err = r.SetEndOffsets(context.Background(), map[streamid.PartitionID]string{"0": "50"}, false)
	assert.True(t, ingesterrors.Is(err, ingesterrors.ErrDuplicateOffsetRequest))
}

func TestPauseObservedWithinTimeout(t *testing.T) {
	r := newTestRunner(t)
	r.state = Reading
	r.currOffsets = map[streamid.PartitionID]string{"0": "5"}

	go func() {
		time.Sleep(10 * time.Millisecond)
		r.mu.Lock()
		r.state = Paused
		r.hasPaused.Broadcast()
		r.mu.Unlock()
	}()

	result, err := r.Pause(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Observed)
	assert.Equal(t, "5", result.Offsets["0"])
}

func TestPauseRejectedFromTerminalState(t *testing.T) {
	r := newTestRunner(t)
	r.state = Success

	_, err := r.Pause(context.Background())
	assert.Error(t, err)
}

func TestResumeClearsRequestAndWakesLoop(t *testing.T) {
	r := newTestRunner(t)
	r.state = Paused
	r.pauseRequested = true

	go func() {
		time.Sleep(10 * time.Millisecond)
		r.mu.Lock()
		r.state = Reading
		r.hasPaused.Broadcast()
		r.mu.Unlock()
	}()

	require.NoError(t, r.Resume(context.Background()))
	assert.False(t, r.pauseRequested)
}

func TestStopWakesPausedLoop(t *testing.T) {
	r := newTestRunner(t)
	r.state = Paused
	r.pauseRequested = true

	r.Stop()

	assert.True(t, r.IsStopRequested())
	assert.Equal(t, Reading, r.state)
	assert.False(t, r.pauseRequested)
}

func TestMapsEqual(t *testing.T) {
	a := map[streamid.PartitionID]string{"0": "1", "1": "2"}
	b := map[streamid.PartitionID]string{"0": "1", "1": "2"}
	c := map[streamid.PartitionID]string{"0": "1", "1": "3"}

	assert.True(t, mapsEqual(a, b))
	assert.False(t, mapsEqual(a, c))
}
