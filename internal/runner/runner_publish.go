package runner

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ingestcore/streamtask/internal/dsmetadata"
	"github.com/ingestcore/streamtask/internal/ingesterrors"
)

// publish is the PUBLISHING drain: finalize every sequence's end
// offsets, push its segments through the
// appenderator, and transactionally publish them alongside the
// matching DataSource Metadata advance. Sequences publish in order so
// the offset-commit chain advances monotonically.
//
// publish runs under a context Stop can cancel; if that happens
// between sequences, the appenderator's in-flight work is abandoned
// via CloseNow rather than let the drain run to completion.
func (r *Runner) publish(ctx context.Context) error {
	pubCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.publishCancel = cancel
	sequences := append([]*Metadata(nil), r.sequences...)
	for _, s := range sequences {
		for p, v := range r.currOffsets {
			if _, ok := s.Start[p]; !ok {
				continue
			}
			if _, ok := s.End[p]; !ok {
				s.End[p] = v
			}
		}
		s.Assignments = nil
	}
	persistErr := persistSequences(ctx, r.deps.SequenceStore, r.cfg.PersistDir, r.cfg.TaskID, r.kind, r.sequences)
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.publishCancel = nil
		r.mu.Unlock()
		cancel()
	}()

	if persistErr != nil {
		return ingesterrors.Wrap("persist sequences before publish", persistErr)
	}

	for _, s := range sequences {
		if pubCtx.Err() != nil {
			if err := r.deps.Appenderator.CloseNow(); err != nil {
				log.Warn().Err(err).Msg("closeNow after interrupted publish failed")
			}
			return ingesterrors.ErrPublishInterrupted
		}
		if err := r.publishOne(pubCtx, s); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) publishOne(ctx context.Context, s *Metadata) error {
	pushResult, err := r.deps.Appenderator.Push(ctx, []string{s.SequenceName}, r.cfg.UseTransaction)
	if err != nil {
		return ingesterrors.Wrap(fmt.Sprintf("push sequence %s", s.SequenceName), err)
	}

	startMeta := s.startMetadata(r.cfg.StreamID)
	endMeta := s.endMetadata(r.cfg.StreamID)
	if !dsmetadata.AdvancesMonotonically(startMeta, endMeta) {
		return fmt.Errorf("%w: sequence %s end does not advance start monotonically", ingesterrors.ErrInvalidBounds, s.SequenceName)
	}

	ok, err := r.deps.Actions.SegmentTransactionalInsert(ctx, r.cfg.DataSource, pushResult.Segments, startMeta, endMeta)
	if err != nil {
		return ingesterrors.Wrap(fmt.Sprintf("transactional insert for sequence %s", s.SequenceName), err)
	}
	if !ok {
		return fmt.Errorf("%w: sequence %s", ingesterrors.ErrPublishRejected, s.SequenceName)
	}

	timeout := r.cfg.HandoffConditionTimeout
	handoffCh := r.deps.Appenderator.RegisterHandoffWatcher(ctx, pushResult.Segments, timeout)
	go func(sequenceName string) {
		if err := <-handoffCh; err != nil {
			// Handoff timeout is a non-fatal alert: the publish already
			// succeeded, so ingestion progress stands.
			log.Warn().Err(err).Str("sequence", sequenceName).Msg("handoff did not complete; publish already succeeded")
		}
	}(s.SequenceName)

	return nil
}
