package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ingestcore/streamtask/internal/dbg"
	"github.com/ingestcore/streamtask/internal/dsmetadata"
	"github.com/ingestcore/streamtask/internal/ingesterrors"
	"github.com/ingestcore/streamtask/internal/recordsupplier"
	"github.com/ingestcore/streamtask/internal/seqnum"
	"github.com/ingestcore/streamtask/internal/streamid"
)

// readLoop runs the READING <-> PAUSED cycle until a transition to
// PUBLISHING is warranted.
func (r *Runner) readLoop(ctx context.Context) error {
	for {
		r.mu.Lock()
		for r.state == Paused {
			r.hasPaused.Broadcast()
			r.shouldResume.Wait()
		}
		if r.pauseRequested {
			r.state = Paused
			r.hasPaused.Broadcast()
			r.mu.Unlock()
			continue
		}
		finish, err := r.readyToPublishLocked()
		if err != nil {
			r.mu.Unlock()
			return err
		}
		if finish {
			r.mu.Unlock()
			r.setState(Publishing)
			return nil
		}
		r.mu.Unlock()

		// Suspension point: after each Poll.
		recs, err := r.deps.Supplier.Poll(ctx, r.cfg.PollTimeout)
		if err != nil {
			log.Warn().Err(err).Msg("poll error absorbed; retried next iteration")
			continue
		}

		for _, rec := range recs {
			if err := r.handleRecord(ctx, rec); err != nil {
				return err
			}
		}

		if err := r.maybeReassign(ctx); err != nil {
			return err
		}

		if time.Now().After(r.checkpointDeadline()) {
			r.markCheckpointDue()
		}

		if r.checkpointMarked() {
			if err := r.performCheckpoint(ctx); err != nil {
				return err
			}
		}
	}
}

func (r *Runner) checkpointDeadline() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextCheckpointTime
}

func (r *Runner) markCheckpointDue() {
	r.mu.Lock()
	if len(r.sequences) > 0 && r.sequences[len(r.sequences)-1].isOpen() {
		r.sequences[len(r.sequences)-1].pendingCheckpoint = true
	}
	r.nextCheckpointTime = time.Now().Add(r.cfg.IntermediateHandoffPeriod)
	r.mu.Unlock()
}

func (r *Runner) checkpointMarked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sequences) == 0 {
		return false
	}
	return r.sequences[len(r.sequences)-1].pendingCheckpoint
}

// readyToPublishLocked reports whether the runner should move to
// PUBLISHING: either a graceful stop was requested, the supervisor
// finished the latest sequence via SetEndOffsets(finish=true), or
// every assigned partition has reached its end offset or END_OF_SHARD
// on its own (a self-terminating task with bounded partitions never
// hears from a supervisor at all). Must be called with mu held.
func (r *Runner) readyToPublishLocked() (bool, error) {
	if r.stopRequested {
		return true, nil
	}
	if len(r.sequences) > 0 && r.sequences[len(r.sequences)-1].Checkpointed {
		return true, nil
	}
	if r.allPartitionsDoneLocked() {
		return true, nil
	}
	return false, nil
}

// partitionDoneLocked reports whether partition p has reached a
// terminal position — END_OF_SHARD or its bounded end offset — and so
// should be excluded from the supplier's working assignment even
// though its last-known offset remains recorded in currOffsets. Must
// be called with mu held.
func (r *Runner) partitionDoneLocked(p streamid.PartitionID) bool {
	v, ok := r.currOffsets[p]
	if !ok {
		return false
	}
	if v == seqnum.EndOfShard {
		return true
	}
	endStr, ok := r.endOffsets[p]
	if !ok || endStr == seqnum.NoEnd {
		return false
	}
	curr := dsmetadata.ParseSequence(r.kind, v)
	end := dsmetadata.ParseSequence(r.kind, endStr)
	return curr.Compare(end) != seqnum.Less
}

// allPartitionsDoneLocked reports whether every partition the runner
// has ever recorded an offset for has reached a terminal position,
// meaning the working assignment has effectively emptied. Must be
// called with mu held.
func (r *Runner) allPartitionsDoneLocked() bool {
	for p := range r.currOffsets {
		if !r.partitionDoneLocked(p) {
			return false
		}
	}
	return true
}

// handleRecord implements one record's processing step of the READING
// state.
func (r *Runner) handleRecord(ctx context.Context, rec recordsupplier.Record) error {
	r.mu.Lock()
	p := rec.StreamPartition.PartitionID
	currStr, assigned := r.currOffsets[p]
	if !assigned {
		r.mu.Unlock()
		return nil
	}

	skip, err := r.verifyInitialRecordAndSkipExclusivePartition(rec.StreamPartition, p, rec.SequenceNumber, currStr)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.firstRecordSeen[p] = true
	if skip {
		r.mu.Unlock()
		return nil
	}

	if rec.IsEndOfShardMarker() {
		r.currOffsets[p] = seqnum.EndOfShard
		r.mu.Unlock()
		return nil
	}

	endStr, hasEnd := r.endOffsets[p]
	dbg.Assert(hasEnd, func() string { return fmt.Sprintf("partition %s assigned without an end offset", p) })
	curr := dsmetadata.ParseSequence(r.kind, currStr)
	end := dsmetadata.ParseSequence(r.kind, endStr)
	if curr.Compare(end) != seqnum.Less && end.String() != seqnum.NoEnd {
		r.mu.Unlock()
		return nil
	}

	var target *Metadata
	for _, s := range r.sequences {
		if s.canHandle(p, rec.SequenceNumber) {
			target = s
			break
		}
	}
	sequenceName := ""
	if target != nil {
		sequenceName = target.SequenceName
	}
	r.mu.Unlock()

	if target == nil {
		// No open sequence claims this record's position; it falls
		// outside every sequence's range rather than failing to parse,
		// so it is thrown away rather than counted as an error.
		r.rowMu.Lock()
		r.rowStats.ThrownAway += int64(len(rec.Data))
		r.rowMu.Unlock()
	}

	if target != nil {
		for _, row := range rec.Data {
			result, err := r.deps.Appenderator.Add(ctx, sequenceName, row, r.cfg.SkipSegmentLineageCheck)
			if err != nil {
				r.rowMu.Lock()
				r.rowStats.ProcessedWithError++
				r.rowMu.Unlock()
				r.parseErrors++
				if r.cfg.LogParseExceptions {
					log.Warn().Err(err).Str("partition", string(p)).Msg("row parse/add failure")
				}
				if r.cfg.MaxParseExceptions >= 0 && r.parseErrors > r.cfg.MaxParseExceptions {
					return fmt.Errorf("%w: %d errors", ingesterrors.ErrMaxParseExceptionsExceeded, r.parseErrors)
				}
				continue
			}
			if result.IsPushRequired {
				r.markCheckpointDue()
			}
		}
	}

	r.mu.Lock()
	next := rec.SequenceNumber.Next()
	r.currOffsets[p] = next.String()
	r.mu.Unlock()
	return nil
}

// verifyInitialRecordAndSkipExclusivePartition checks, on the first
// record seen for a partition, that its sequence number matches the
// expected start — unless the partition is an exclusive-start
// partition, in which case that first delivery is the already-counted
// boundary record from a prior task's publish and must be skipped
// (returns skip=true). Must be called with mu held.
//
// The expected start is the partition's entry in
// initialOffsetsSnapshot when one exists (it is only set by a
// non-finish SetEndOffsets, not at startup), and otherwise currStr; a
// first record at any other sequence number yields ErrInvalidBounds.
func (r *Runner) verifyInitialRecordAndSkipExclusivePartition(sp streamid.StreamPartition, p streamid.PartitionID, seq seqnum.SequenceNumber, currStr string) (skip bool, err error) {
	if r.firstRecordSeen[p] {
		return false, nil
	}
	if r.exclusiveStart.Contains(sp) {
		return true, nil
	}
	expected := currStr
	if r.initialOffsetsSnapshot != nil {
		if v, ok := r.initialOffsetsSnapshot[p]; ok {
			expected = v
		}
	}
	expectedSeq := dsmetadata.ParseSequence(r.kind, expected)
	if seq.Compare(expectedSeq) != seqnum.Equal {
		return false, fmt.Errorf("%w: partition %s expected first record at %s, saw %s", ingesterrors.ErrInvalidBounds, p, expected, seq.String())
	}
	return false, nil
}

// maybeReassign drops partitions that have reached their end (or shard
// close) from the supplier's working assignment.
func (r *Runner) maybeReassign(ctx context.Context) error {
	r.mu.Lock()
	set := streamid.NewSet()
	for p := range r.currOffsets {
		if r.partitionDoneLocked(p) {
			continue
		}
		set.Add(streamid.New(r.cfg.StreamID, p))
	}
	current := r.deps.Supplier.GetAssignment()
	r.mu.Unlock()

	if len(current) == len(set) {
		same := true
		for p := range set {
			if !current.Contains(p) {
				same = false
				break
			}
		}
		if same {
			return nil
		}
	}
	return r.deps.Supplier.Assign(ctx, set)
}
