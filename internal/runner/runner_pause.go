package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ingestcore/streamtask/internal/dsmetadata"
	"github.com/ingestcore/streamtask/internal/ingesterrors"
	"github.com/ingestcore/streamtask/internal/seqnum"
	"github.com/ingestcore/streamtask/internal/streamid"
)

// PauseResult carries the Pause call's outcome per the /pause
// endpoint's 200-vs-202 distinction.
type PauseResult struct {
	Offsets  map[streamid.PartitionID]string
	Observed bool
}

// Pause requests the run loop park at its next suspension point and
// waits up to 2s to observe it, matching the /pause endpoint's
// 200-vs-202 contract. Returns an error if the runner is not in
// READING or PAUSED.
func (r *Runner) Pause(ctx context.Context) (PauseResult, error) {
	r.mu.Lock()
	if r.state != Reading && r.state != Paused {
		st := r.state
		r.mu.Unlock()
		return PauseResult{}, fmt.Errorf("cannot pause from state %s", st)
	}
	r.pauseRequested = true
	deadline := time.Now().Add(2 * time.Second)
	for r.state != Paused {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			offsets := cloneStrMap(r.currOffsets)
			r.mu.Unlock()
			return PauseResult{Offsets: offsets, Observed: false}, nil
		}
		waitOnCond(r.hasPaused, remaining)
	}
	offsets := cloneStrMap(r.currOffsets)
	r.mu.Unlock()
	return PauseResult{Offsets: offsets, Observed: true}, nil
}

// Resume clears the pause request, sets the state to READING itself
// under the pause lock and wakes the run loop. Because the state is
// already READING when the 5s wait below starts, that wait returns at
// once: Resume does not wait for the run loop to acknowledge the wake,
// and its timeout error is never returned.
func (r *Runner) Resume(ctx context.Context) error {
	r.mu.Lock()
	if r.state != Paused {
		r.mu.Unlock()
		return nil
	}
	r.pauseRequested = false
	r.state = Reading
	r.shouldResume.Broadcast()
	deadline := time.Now().Add(5 * time.Second)
	for r.state == Paused {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			r.mu.Unlock()
			return fmt.Errorf("resume not acknowledged within timeout")
		}
		waitOnCond(r.hasPaused, remaining)
	}
	r.mu.Unlock()
	return nil
}

// SetEndOffsets implements the PAUSED protocol: validates
// every offsets[p] >= curr[p], then either finalizes end_offsets and
// marks the latest sequence checkpointed (finish=true) or appends a
// new open sequence chained from offsets (finish=false), persisting
// the sequence list before returning. Must be called while paused.
func (r *Runner) SetEndOffsets(ctx context.Context, offsets map[streamid.PartitionID]string, finish bool) (map[streamid.PartitionID]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Paused {
		return nil, ingesterrors.ErrNotPaused
	}

	for p := range offsets {
		if _, ok := r.currOffsets[p]; !ok {
			return nil, ingesterrors.ErrPartitionSetMismatch
		}
	}
	for p := range r.currOffsets {
		if _, ok := offsets[p]; !ok {
			return nil, ingesterrors.ErrPartitionSetMismatch
		}
	}
	if !finish && r.initialOffsetsSnapshot != nil && mapsEqual(r.initialOffsetsSnapshot, offsets) {
		return nil, ingesterrors.ErrDuplicateOffsetRequest
	}

	for p, v := range offsets {
		curr, ok := r.currOffsets[p]
		if !ok {
			continue
		}
		currSeq := dsmetadata.ParseSequence(r.kind, curr)
		newSeq := dsmetadata.ParseSequence(r.kind, v)
		if newSeq.Compare(currSeq) == seqnum.Less {
			return nil, ingesterrors.ErrOffsetRegression
		}
	}

	if finish {
		r.endOffsets = cloneStrMap(offsets)
		if len(r.sequences) > 0 {
			latest := r.sequences[len(r.sequences)-1]
			for p, v := range offsets {
				latest.End[p] = v
			}
			latest.Checkpointed = true
		}
	} else {
		id := r.nextSeqID
		r.nextSeqID++
		next := newSequenceMetadataStrings(id, r.sequenceName(id), r.kind, offsets, cloneStrMap(r.endOffsets))
		r.sequences = append(r.sequences, next)
		r.initialOffsetsSnapshot = cloneStrMap(offsets)
		for p := range offsets {
			delete(r.firstRecordSeen, p)
		}
	}

	if err := persistSequences(ctx, r.deps.SequenceStore, r.cfg.PersistDir, r.cfg.TaskID, r.kind, r.sequences); err != nil {
		return nil, ingesterrors.Wrap("persist sequences", err)
	}

	return cloneStrMap(offsets), nil
}

// Stop requests a graceful shutdown: the run loop will transition to
// PUBLISHING at its next suspension point. If the loop is currently
// blocked in PAUSED, it is woken so it can observe the stop request. A
// task already draining PUBLISHING is instead interrupted immediately
// via the appenderator's CloseNow, since a stop request at that point
// means the caller no longer wants to wait out the full publish.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.stopRequested = true
	r.pauseRequested = false
	if r.state == Paused {
		r.state = Reading
	}
	if r.state == Publishing && r.publishCancel != nil {
		r.publishCancel()
	}
	r.shouldResume.Broadcast()
	r.mu.Unlock()
}

func (r *Runner) IsStopRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopRequested
}

func mapsEqual(a, b map[streamid.PartitionID]string) bool {
	if len(a) != len(b) {
		return false
	}
	for p, v := range a {
		if b[p] != v {
			return false
		}
	}
	return true
}

// waitOnCond waits on cond for at most timeout by racing a helper
// timer against the condition signal, matching the kinesissupplier
// buffer's workaround for sync.Cond having no native timed wait.
func waitOnCond(cond *sync.Cond, timeout time.Duration) {
	timer := time.AfterFunc(timeout, func() {
		cond.Broadcast()
	})
	defer timer.Stop()
	cond.Wait()
}
