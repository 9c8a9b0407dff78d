package runner

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ingestcore/streamtask/internal/dsmetadata"
	"github.com/ingestcore/streamtask/internal/ingesterrors"
	"github.com/ingestcore/streamtask/internal/seqnum"
	"github.com/ingestcore/streamtask/internal/streamid"
)

// start implements the STARTING bootstrap sequence.
func (r *Runner) start(ctx context.Context) error {
	if err := r.deps.Discovery.Announce(ctx, r.cfg.TaskID); err != nil {
		return ingesterrors.Wrap("announce discovery", err)
	}

	sequences, err := loadSequences(ctx, r.deps.SequenceStore, r.cfg.PersistDir, r.cfg.TaskID, r.kind)
	if err != nil {
		return ingesterrors.Wrap("load sequences", err)
	}
	if len(sequences) == 0 {
		sequences = []*Metadata{newSequenceMetadataStrings(0, r.sequenceName(0), r.kind, r.bounds.Start, r.bounds.End)}
	}
	r.mu.Lock()
	r.sequences = sequences
	maxID := -1
	for _, s := range sequences {
		if s.SequenceID > maxID {
			maxID = s.SequenceID
		}
	}
	r.nextSeqID = maxID + 1
	r.mu.Unlock()

	restored, ok, err := r.deps.Appenderator.RestoredCommitMetadata(ctx)
	if err != nil {
		return ingesterrors.Wrap("restore commit metadata", err)
	}
	r.mu.Lock()
	if ok && restored != nil {
		for p, v := range restored.Partitions {
			r.currOffsets[p] = v
		}
		// Verify consistency with the task's expected start: every
		// partition the first sequence starts at should, if the driver
		// already has a restored position, be at or past that start.
		first := r.sequences[0]
		for p, startStr := range first.Start {
			cur, ok := r.currOffsets[p]
			if !ok {
				continue
			}
			start := dsmetadata.ParseSequence(r.kind, startStr)
			curSeq := dsmetadata.ParseSequence(r.kind, cur)
			if curSeq.Compare(start) == seqnum.Less {
				log.Warn().Str("partition", string(p)).Msg("restored commit metadata behind task's expected start; adopting task start")
				r.currOffsets[p] = startStr
			}
		}
	} else {
		for p, v := range r.sequences[0].Start {
			r.currOffsets[p] = v
		}
	}

	// Partitions whose end bound is already END_OF_SHARD are closed
	// before the task ever reads them; record that directly so it
	// stays observable, rather than dropping the partition entirely.
	for p, v := range r.endOffsets {
		if v == seqnum.EndOfShard {
			r.currOffsets[p] = seqnum.EndOfShard
		}
	}
	r.mu.Unlock()

	toAssign := streamid.NewSet()
	r.mu.Lock()
	for p := range r.currOffsets {
		if !r.partitionDoneLocked(p) {
			toAssign.Add(streamid.New(r.cfg.StreamID, p))
		}
	}
	r.mu.Unlock()

	if err := r.deps.Supplier.Assign(ctx, toAssign); err != nil {
		return ingesterrors.Wrap("assign partitions", err)
	}

	r.mu.Lock()
	currSnapshot := make(map[streamid.PartitionID]string, len(r.currOffsets))
	for p, v := range r.currOffsets {
		if !r.partitionDoneLocked(p) {
			currSnapshot[p] = v
		}
	}
	r.mu.Unlock()

	for p, v := range currSnapshot {
		sp := streamid.New(r.cfg.StreamID, p)
		seq := dsmetadata.ParseSequence(r.kind, v)
		if err := r.deps.Supplier.Seek(ctx, sp, seq); err != nil {
			return ingesterrors.Wrap(fmt.Sprintf("seek partition %s", p), err)
		}
	}

	if err := r.deps.Appenderator.StartJob(ctx); err != nil {
		return ingesterrors.Wrap("start appenderator job", err)
	}

	resetPaused := false
	for p, v := range currSnapshot {
		sp := streamid.New(r.cfg.StreamID, p)
		curr := dsmetadata.ParseSequence(r.kind, v)
		earliest, err := r.deps.Supplier.GetEarliest(ctx, sp)
		if err != nil {
			return ingesterrors.Wrap(fmt.Sprintf("probe earliest for %s", p), err)
		}
		if curr.Compare(earliest) == seqnum.Less {
			if !r.cfg.ResetOffsetAutomatically {
				return fmt.Errorf("%w: partition %s", ingesterrors.ErrStartOffsetUnavailable, p)
			}
			resetMeta := dsmetadata.New(r.kind, r.cfg.StreamID)
			resetMeta.Set(p, curr)
			if _, err := r.deps.Actions.ResetDataSourceMetadata(ctx, r.cfg.DataSource, resetMeta); err != nil {
				return ingesterrors.Wrap("reset datasource metadata", err)
			}
			r.setState(Paused)
			resetPaused = true
			log.Warn().Str("partition", string(p)).Msg("starting offset unavailable; reset issued and task paused")
		}
	}

	// A reset leaves the task deliberately parked in PAUSED for the
	// supervisor to restart it against the new metadata; entering
	// READING here would immediately race the loop past that pause.
	if !resetPaused {
		r.setState(Reading)
	}
	return nil
}
