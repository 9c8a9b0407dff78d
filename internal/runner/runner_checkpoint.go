package runner

import (
	"context"
	"fmt"

	"github.com/ingestcore/streamtask/internal/dsmetadata"
	"github.com/ingestcore/streamtask/internal/ingesterrors"
	"github.com/ingestcore/streamtask/internal/streamid"
)

// performCheckpoint requests a pause, then runs a checkpoint action.
// Because this runs on the main loop goroutine itself there is nothing
// else to park; the runner instead announces PAUSED so a concurrent
// HTTP SetEndOffsets call correctly observes the paused precondition
// and serializes against this rotation via mu, then returns to READING
// once done. A failed checkpoint action is fatal.
func (r *Runner) performCheckpoint(ctx context.Context) error {
	r.mu.Lock()
	r.state = Paused
	r.hasPaused.Broadcast()

	latest := r.sequences[len(r.sequences)-1]
	for _, p := range latest.Assignments {
		if v, ok := r.currOffsets[p]; ok {
			latest.End[p] = v
		}
	}
	startMeta := latest.startMetadata(r.cfg.StreamID)
	currMeta := dsmetadata.New(r.kind, r.cfg.StreamID)
	for p, v := range r.currOffsets {
		currMeta.Partitions[p] = v
	}
	r.mu.Unlock()

	ok, err := r.deps.Actions.CheckPointDataSourceMetadata(ctx, r.cfg.DataSource, r.cfg.GroupID, r.cfg.BaseSequenceName, startMeta, currMeta)
	if err != nil {
		return ingesterrors.Wrap("checkpoint action", err)
	}
	if !ok {
		return fmt.Errorf("checkpoint action rejected for task group %d", r.cfg.GroupID)
	}

	r.mu.Lock()
	latest.Checkpointed = true
	latest.pendingCheckpoint = false

	nextStart := make(map[streamid.PartitionID]string, len(latest.Assignments))
	for _, p := range latest.Assignments {
		if v, ok := r.currOffsets[p]; ok {
			nextStart[p] = v
		}
	}
	id := r.nextSeqID
	r.nextSeqID++
	next := newSequenceMetadataStrings(id, r.sequenceName(id), r.kind, nextStart, cloneStrMap(r.endOffsets))
	r.sequences = append(r.sequences, next)

	persistErr := persistSequences(ctx, r.deps.SequenceStore, r.cfg.PersistDir, r.cfg.TaskID, r.kind, r.sequences)

	r.state = Reading
	r.shouldResume.Broadcast()
	r.mu.Unlock()

	return persistErr
}
