package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ingestcore/streamtask/internal/dsmetadata"
	"github.com/ingestcore/streamtask/internal/metadatastore"
	"github.com/ingestcore/streamtask/internal/recordsupplier"
	"github.com/ingestcore/streamtask/internal/streamid"
)

// Supervisor runs the per-datasource planning/monitoring/recovery loop.
// It is single-threaded: every state mutation and every tick happens
// on the run() goroutine, reached only through the command channel.
type Supervisor struct {
	cfg        *Config
	dataSource string
	streamID   string
	kind       dsmetadata.Kind

	supplier recordsupplier.Supplier
	actions  metadatastore.Actions
	client   TaskClient
	orch     TaskOrchestrator

	groups    map[int]*TaskGroup
	pending   map[int]*PendingCompletionTaskGroup
	suspended bool

	commands chan func(context.Context)
	stopCh   chan struct{}
	doneCh   chan struct{}

	mu sync.Mutex // guards only fields read by Status() off-loop
}

func New(cfg *Config, dataSource, streamID string, kind dsmetadata.Kind, supplier recordsupplier.Supplier, actions metadatastore.Actions, client TaskClient, orch TaskOrchestrator) *Supervisor {
	return &Supervisor{
		cfg:        cfg,
		dataSource: dataSource,
		streamID:   streamID,
		kind:       kind,
		supplier:   supplier,
		actions:    actions,
		client:     client,
		orch:       orch,
		groups:     make(map[int]*TaskGroup),
		pending:    make(map[int]*PendingCompletionTaskGroup),
		commands:   make(chan func(context.Context)),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Run is the supervisor's single-threaded loop: it services commands
// enqueued by Suspend/Resume/Reset/Status, ticks on cfg.Period, and
// returns when Shutdown closes stopCh or ctx is done, never touching
// shared state from any other goroutine.
func (s *Supervisor) Run(ctx context.Context) {
	defer close(s.doneCh)

	if s.cfg.StartDelay > 0 {
		select {
		case <-time.After(s.cfg.StartDelay):
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}

	ticker := time.NewTicker(s.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case cmd := <-s.commands:
			cmd(ctx)
		case <-ticker.C:
			if s.suspended {
				continue
			}
			if err := s.tick(ctx); err != nil {
				log.Error().Err(err).Str("data_source", s.dataSource).Msg("supervisor tick failed")
			}
		}
	}
}

// Shutdown stops the loop after letting any in-flight command finish,
// bounded by cfg.ShutdownTimeout; it does not wait for active tasks
// to publish.
func (s *Supervisor) Shutdown(ctx context.Context) {
	close(s.stopCh)
	select {
	case <-s.doneCh:
	case <-time.After(s.cfg.ShutdownTimeout):
	case <-ctx.Done():
	}
}

// enqueue runs fn on the loop goroutine and blocks until it returns,
// or until ctx is done.
func (s *Supervisor) enqueue(ctx context.Context, fn func(context.Context)) {
	done := make(chan struct{})
	wrapped := func(ctx context.Context) {
		fn(ctx)
		close(done)
	}
	select {
	case s.commands <- wrapped:
	case <-ctx.Done():
		return
	case <-s.doneCh:
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	case <-s.doneCh:
	}
}

// Suspend stops submitting new tasks and gracefully stops every
// currently active task, but keeps the task-group bookkeeping so
// Resume can respawn from where suspension left off.
func (s *Supervisor) Suspend(ctx context.Context) {
	s.enqueue(ctx, func(ctx context.Context) {
		s.suspended = true
		for _, g := range s.groups {
			for taskID := range g.ReplicaTaskIDs {
				if err := s.client.Stop(ctx, taskID); err != nil {
					log.Warn().Err(err).Str("task_id", taskID).Msg("suspend: failed to stop task")
				}
			}
		}
	})
}

func (s *Supervisor) Resume(ctx context.Context) {
	s.enqueue(ctx, func(ctx context.Context) {
		s.suspended = false
	})
}

// Reset subtracts metadata (or wipes it entirely when metadata is
// nil) from the stored DataSource Metadata, then kills every active
// task overlapping the reset partitions so the next tick respawns
// clean readers.
func (s *Supervisor) Reset(ctx context.Context, metadata *dsmetadata.Metadata) error {
	var resultErr error
	s.enqueue(ctx, func(ctx context.Context) {
		if _, err := s.actions.ResetDataSourceMetadata(ctx, s.dataSource, metadata); err != nil {
			resultErr = err
			return
		}
		affected := partitionSetOf(metadata)
		for gid, g := range s.groups {
			if affected != nil && !groupOverlaps(g, affected) {
				continue
			}
			for taskID := range g.ReplicaTaskIDs {
				if err := s.orch.ShutdownTask(ctx, taskID); err != nil {
					log.Warn().Err(err).Str("task_id", taskID).Msg("reset: failed to shut down task")
				}
			}
			delete(s.groups, gid)
		}
	})
	return resultErr
}

func partitionSetOf(m *dsmetadata.Metadata) map[streamid.PartitionID]struct{} {
	if m == nil {
		return nil
	}
	out := make(map[streamid.PartitionID]struct{}, len(m.Partitions))
	for p := range m.Partitions {
		out[p] = struct{}{}
	}
	return out
}

func groupOverlaps(g *TaskGroup, partitions map[streamid.PartitionID]struct{}) bool {
	for p := range g.StartOffsets {
		if _, ok := partitions[p]; ok {
			return true
		}
	}
	return false
}

// Status returns a point-in-time StatusReport, computed on the loop
// goroutine so it never races with a tick.
func (s *Supervisor) Status(ctx context.Context) StatusReport {
	rep := StatusReport{DataSource: s.dataSource}
	s.enqueue(ctx, func(ctx context.Context) {
		rep.Suspended = s.suspended
		for gid, g := range s.groups {
			replicas := make([]string, 0, len(g.ReplicaTaskIDs))
			for id := range g.ReplicaTaskIDs {
				replicas = append(replicas, id)
			}
			rep.ActiveTaskGroups = append(rep.ActiveTaskGroups, GroupStatus{
				GroupID:        gid,
				Partitions:     g.Partitions(),
				ReplicaTaskIDs: replicas,
				StartOffsets:   cloneOffsets(g.StartOffsets),
			})
		}
		for gid, pg := range s.pending {
			rep.PublishingTaskGroups = append(rep.PublishingTaskGroups, PublishingGroupStatus{
				GroupID:    gid,
				EndOffsets: cloneOffsets(pg.EndOffsets),
				EnteredAt:  pg.EnteredAt,
			})
		}
		rep.PartitionLag = s.computeLagLocked(ctx)
	})
	return rep
}

func cloneOffsets(m map[streamid.PartitionID]string) map[streamid.PartitionID]string {
	out := make(map[streamid.PartitionID]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
