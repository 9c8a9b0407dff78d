package supervisor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ingestcore/streamtask/internal/dbg"
	"github.com/ingestcore/streamtask/internal/dsmetadata"
	"github.com/ingestcore/streamtask/internal/hashutil"
	"github.com/ingestcore/streamtask/internal/ingesterrors"
	"github.com/ingestcore/streamtask/internal/seqnum"
	"github.com/ingestcore/streamtask/internal/streamid"
)

func partitionIDsOf(set streamid.Set) []streamid.PartitionID {
	out := make([]streamid.PartitionID, 0, len(set))
	for sp := range set {
		out = append(out, sp.PartitionID)
	}
	return out
}

// tick is the supervisor's per-period work: discover partitions
// and group them, adopt or retire any task the orchestrator is still
// running that this process has no bookkeeping for (the case right
// after a supervisor restart), bring each group's replica count up to
// cfg.Replicas, classify existing replicas by chatting with them on a
// bounded worker pool, decide which groups are ready to stop reading,
// and age out stragglers from the pending-completion set.
func (s *Supervisor) tick(ctx context.Context) error {
	partitionIDs, err := s.supplier.GetPartitionIDs(ctx, s.streamID)
	if err != nil {
		return ingesterrors.Wrap("discover partitions", err)
	}

	byGroup := s.groupPartitions(partitionIDs)
	s.adoptOrRetireOrphans(ctx, byGroup)
	s.ensureGroups(ctx, partitionIDs)
	s.reconcileReplicas(ctx)
	s.checkReadiness(ctx)
	s.checkPendingCompletion(ctx)
	return nil
}

// groupPartitions hashes each live partition into its task-group id.
func (s *Supervisor) groupPartitions(partitionIDs []streamid.PartitionID) map[int][]streamid.PartitionID {
	byGroup := make(map[int][]streamid.PartitionID)
	for _, p := range partitionIDs {
		gid := hashutil.GroupFor(string(p), s.cfg.TaskCount)
		byGroup[gid] = append(byGroup[gid], p)
	}
	return byGroup
}

// groupIDFromTaskID recovers the group id a task id was submitted
// under, relying on the BaseSequenceName_uuid naming convention
// reconcileReplicas uses ("<dataSource>_<groupID>_<uuid>"). Returns
// false if taskID does not belong to this supervisor's data source at
// all.
func (s *Supervisor) groupIDFromTaskID(taskID string) (int, bool) {
	prefix := s.dataSource + "_"
	if !strings.HasPrefix(taskID, prefix) {
		return 0, false
	}
	rest := taskID[len(prefix):]
	idx := strings.IndexByte(rest, '_')
	if idx < 0 {
		return 0, false
	}
	gid, err := strconv.Atoi(rest[:idx])
	if err != nil {
		return 0, false
	}
	return gid, true
}

// adoptOrRetireOrphans reconciles the orchestrator's live task list
// against this supervisor's own bookkeeping. A task the orchestrator
// still runs but no group or pending-completion group references
// (typically every task from before a supervisor restart) is adopted
// into the task group its id decodes to, recreating that group first
// if needed; a task whose id does not decode to one of this
// supervisor's groups at all is shut down as incompatible rather than
// left running unsupervised.
func (s *Supervisor) adoptOrRetireOrphans(ctx context.Context, byGroup map[int][]streamid.PartitionID) {
	running, err := s.orch.ListTasks(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to list orchestrator tasks; skipping adoption this tick")
		return
	}

	known := make(map[string]struct{})
	for _, g := range s.groups {
		for taskID := range g.ReplicaTaskIDs {
			known[taskID] = struct{}{}
		}
	}
	for _, pg := range s.pending {
		for taskID := range pg.ReplicaTaskIDs {
			known[taskID] = struct{}{}
		}
	}

	for _, taskID := range running {
		if _, ok := known[taskID]; ok {
			continue
		}

		gid, ok := s.groupIDFromTaskID(taskID)
		if !ok {
			log.Warn().Str("task_id", taskID).Msg("orphan task id belongs to a different data source; shutting down")
			if err := s.orch.ShutdownTask(ctx, taskID); err != nil {
				log.Warn().Err(err).Str("task_id", taskID).Msg("failed to shut down foreign orphan task")
			}
			continue
		}

		if pg, pending := s.pending[gid]; pending {
			pg.AddReplica(taskID)
			log.Info().Int("group_id", gid).Str("task_id", taskID).Msg("adopted orphan task into pending completion group")
			continue
		}

		group, active := s.groups[gid]
		if !active {
			partitions, live := byGroup[gid]
			if !live {
				log.Warn().Str("task_id", taskID).Int("group_id", gid).Msg("orphan task's group no longer hashes to a live partition; shutting down")
				if err := s.orch.ShutdownTask(ctx, taskID); err != nil {
					log.Warn().Err(err).Str("task_id", taskID).Msg("failed to shut down stale orphan task")
				}
				continue
			}
			start := s.startOffsetsFor(ctx, partitions)
			group = s.newGroup(gid, start)
			s.groups[gid] = group
			log.Info().Int("group_id", gid).Msg("recreated task group bookkeeping for adopted orphan task")
		}
		dbg.Assert(group.GroupID == gid, func() string {
			return fmt.Sprintf("adopting task %s into group %d but found group %d", taskID, gid, group.GroupID)
		})
		group.AddReplica(taskID)
		log.Info().Int("group_id", gid).Str("task_id", taskID).Msg("adopted orphan task into task group")
	}
}

// newGroup builds a TaskGroup for groupID with the message-time bounds
// the current config calls for.
func (s *Supervisor) newGroup(groupID int, start map[streamid.PartitionID]string) *TaskGroup {
	g := NewTaskGroup(groupID, start, fmt.Sprintf("%s_%d", s.dataSource, groupID))
	if s.cfg.LateMessageRejectionPeriod > 0 {
		g.MinimumMessageTime = time.Now().Add(-s.cfg.LateMessageRejectionPeriod)
	}
	if s.cfg.EarlyMessageRejectionPeriod > 0 {
		g.MaximumMessageTime = time.Now().Add(s.cfg.EarlyMessageRejectionPeriod)
	}
	return g
}

// ensureGroups creates a TaskGroup for every group id a live partition
// hashes into that does not already have one active or pending.
func (s *Supervisor) ensureGroups(ctx context.Context, partitionIDs []streamid.PartitionID) {
	byGroup := s.groupPartitions(partitionIDs)
	for gid, partitions := range byGroup {
		if _, active := s.groups[gid]; active {
			continue
		}
		if _, pending := s.pending[gid]; pending {
			continue
		}
		start := s.startOffsetsFor(ctx, partitions)
		g := s.newGroup(gid, start)
		s.groups[gid] = g
		log.Info().Int("group_id", gid).Str("data_source", s.dataSource).Msg("opened new task group")
	}
}

// startOffsetsFor resolves each partition's starting offset from the
// stored DataSource Metadata, falling back to the stream's earliest or
// latest record per cfg.UseEarliestSequenceNumber.
func (s *Supervisor) startOffsetsFor(ctx context.Context, partitions []streamid.PartitionID) map[streamid.PartitionID]string {
	stored, err := s.actions.GetDataSourceMetadata(ctx, s.dataSource)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read stored metadata; falling back to stream bounds")
	}

	out := make(map[streamid.PartitionID]string, len(partitions))
	for _, p := range partitions {
		if stored != nil {
			if seq, ok := stored.Get(p); ok {
				out[p] = seq.String()
				continue
			}
		}
		sp := streamid.New(s.streamID, p)
		var seq seqnum.SequenceNumber
		var err error
		if s.cfg.UseEarliestSequenceNumber {
			seq, err = s.supplier.GetEarliest(ctx, sp)
		} else {
			seq, err = s.supplier.GetLatest(ctx, sp)
		}
		if err != nil || seq == nil {
			log.Warn().Err(err).Str("partition", string(p)).Msg("failed to probe stream bound; deferring start offset")
			continue
		}
		out[p] = seq.String()
	}
	return out
}

// reconcileReplicas brings each active group's replica count up to
// cfg.Replicas and retires replicas this supervisor can no longer
// reach within its chat retry budget, using a bounded worker pool
// (errgroup + semaphore) to chat with many tasks concurrently, per the
// teacher's worker-pool convention elsewhere in the codebase.
func (s *Supervisor) reconcileReplicas(ctx context.Context) {
	sem := semaphore.NewWeighted(int64(s.cfg.ChatThreads))
	g, gctx := errgroup.WithContext(ctx)

	for _, group := range s.groups {
		group := group
		for taskID := range group.ReplicaTaskIDs {
			taskID := taskID
			if err := sem.Acquire(ctx, 1); err != nil {
				continue
			}
			g.Go(func() error {
				defer sem.Release(1)
				if !s.chatReachable(gctx, taskID) {
					s.retireUnreachable(ctx, group, taskID)
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	for gid, group := range s.groups {
		for len(group.ReplicaTaskIDs) < s.cfg.Replicas {
			taskID := fmt.Sprintf("%s_%s", group.BaseSequenceName, uuid.New().String())
			spec := TaskSpec{
				TaskID:                   taskID,
				GroupID:                  gid,
				DataSource:               s.dataSource,
				StartOffsets:             cloneOffsets(group.StartOffsets),
				ExclusiveStartPartitions: partitionIDsOf(group.ExclusiveStartPartitions),
				MinimumMessageTime:       group.MinimumMessageTime,
				MaximumMessageTime:       group.MaximumMessageTime,
				Duration:                 s.cfg.TaskDuration,
			}
			if err := s.orch.SubmitTask(ctx, spec); err != nil {
				log.Error().Err(err).Str("task_id", taskID).Msg("failed to submit replica task")
				break
			}
			group.AddReplica(taskID)
		}
	}
}

// chatReachable makes cfg.ChatRetries attempts to reach taskID before
// classifying it as uncontactable.
func (s *Supervisor) chatReachable(ctx context.Context, taskID string) bool {
	var lastErr error
	for attempt := 0; attempt < s.cfg.ChatRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.HTTPTimeout)
		_, err := s.client.GetStatus(callCtx, taskID)
		cancel()
		if err == nil {
			return true
		}
		lastErr = err
	}
	log.Warn().Err(lastErr).Str("task_id", taskID).Msg("task uncontactable within chat retry budget")
	return false
}

func (s *Supervisor) retireUnreachable(ctx context.Context, group *TaskGroup, taskID string) {
	if err := s.orch.ShutdownTask(ctx, taskID); err != nil {
		log.Warn().Err(err).Str("task_id", taskID).Msg("failed to shut down uncontactable task")
	}
	group.RemoveReplica(taskID)
}

// checkReadiness moves groups whose task duration has elapsed into
// publishing: confirm every live replica actually started at least
// cfg.TaskDuration ago and that their checkpoint histories still
// agree with each other, pause every replica, take the
// furthest-advanced offset per partition across replicas, instruct
// every replica to finish at those offsets, and open a successor
// group starting where this one left off.
func (s *Supervisor) checkReadiness(ctx context.Context) {
	now := time.Now()
	for gid, group := range s.groups {
		if len(group.ReplicaTaskIDs) == 0 {
			continue
		}
		if now.Sub(s.earliestStartTime(ctx, group)) < s.cfg.TaskDuration {
			continue
		}
		if !s.checkpointsAligned(ctx, group) {
			log.Warn().Int("group_id", gid).Msg("readiness: replica checkpoints have not converged; deferring")
			continue
		}

		merged := make(map[streamid.PartitionID]string)
		ok := true
		for taskID := range group.ReplicaTaskIDs {
			callCtx, cancel := context.WithTimeout(ctx, s.cfg.HTTPTimeout)
			offsets, err := s.client.Pause(callCtx, taskID)
			cancel()
			if err != nil {
				log.Warn().Err(err).Str("task_id", taskID).Msg("readiness: failed to pause replica")
				ok = false
				continue
			}
			for p, v := range offsets {
				cur, exists := merged[p]
				if !exists {
					merged[p] = v
					continue
				}
				if dsmetadata.ParseSequence(s.kind, v).Compare(dsmetadata.ParseSequence(s.kind, cur)) == seqnum.Greater {
					merged[p] = v
				}
			}
		}
		if !ok || len(merged) == 0 {
			continue
		}

		for taskID := range group.ReplicaTaskIDs {
			callCtx, cancel := context.WithTimeout(ctx, s.cfg.HTTPTimeout)
			err := s.client.SetEndOffsets(callCtx, taskID, merged, true)
			cancel()
			if err != nil {
				log.Warn().Err(err).Str("task_id", taskID).Msg("readiness: failed to set end offsets")
			}
			callCtx2, cancel2 := context.WithTimeout(ctx, s.cfg.HTTPTimeout)
			if err := s.client.Resume(callCtx2, taskID); err != nil {
				log.Warn().Err(err).Str("task_id", taskID).Msg("readiness: failed to resume replica for publish")
			}
			cancel2()
		}

		delete(s.groups, gid)
		s.pending[gid] = &PendingCompletionTaskGroup{TaskGroup: group, EndOffsets: merged, EnteredAt: now}

		succGid := gid + s.cfg.TaskCount
		if _, exists := s.groups[succGid]; !exists {
			if _, exists := s.pending[succGid]; !exists {
				succ := s.newGroup(succGid, cloneOffsets(merged))
				s.groups[succGid] = succ
				log.Info().Int("group_id", succGid).Int("predecessor", gid).Msg("opened successor task group")
			}
		}
	}
}

// earliestStartTime reports the earliest StartTime any of the group's
// live replicas reports, falling back to the group's own CreatedAt only
// when no replica can be queried; a freshly-adopted orphan task's
// CreatedAt is this supervisor's adoption time, not the task's actual
// start, so querying the replicas directly is what makes readiness
// correct across a supervisor restart.
func (s *Supervisor) earliestStartTime(ctx context.Context, group *TaskGroup) time.Time {
	earliest := group.CreatedAt
	found := false
	for taskID := range group.ReplicaTaskIDs {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.HTTPTimeout)
		st, err := s.client.GetStartTime(callCtx, taskID)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("task_id", taskID).Msg("readiness: failed to query start time")
			continue
		}
		if !found || st.Before(earliest) {
			earliest = st
			found = true
		}
	}
	return earliest
}

// checkpointsAligned queries every live replica's observed checkpoint
// history, folds any newly-agreed checkpoint into the group's
// CheckpointHistory, and reports whether every replica currently
// agrees on the latest checkpoint's offsets. A group that has not
// checkpointed at all yet has nothing to align on and is treated as
// aligned so a short cfg.TaskDuration is never stuck waiting on it.
func (s *Supervisor) checkpointsAligned(ctx context.Context, group *TaskGroup) bool {
	perTask := make(map[string]map[int]map[streamid.PartitionID]string, len(group.ReplicaTaskIDs))
	maxSeq := -1
	for taskID := range group.ReplicaTaskIDs {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.HTTPTimeout)
		cps, err := s.client.GetCheckpoints(callCtx, taskID)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("task_id", taskID).Msg("readiness: failed to query checkpoints")
			return false
		}
		perTask[taskID] = cps
		for seq := range cps {
			if seq > maxSeq {
				maxSeq = seq
			}
		}
	}
	if maxSeq < 0 {
		return true
	}

	var preferred map[streamid.PartitionID]string
	for taskID, cps := range perTask {
		offsets, ok := cps[maxSeq]
		if !ok {
			log.Warn().Str("task_id", taskID).Int("sequence_id", maxSeq).Msg("readiness: replica missing the supervisor-preferred checkpoint")
			return false
		}
		if preferred == nil {
			preferred = offsets
			continue
		}
		for p, v := range preferred {
			if offsets[p] != v {
				log.Warn().Str("task_id", taskID).Int("sequence_id", maxSeq).Str("partition", string(p)).Msg("readiness: replica checkpoint diverges from supervisor-preferred checkpoint")
				return false
			}
		}
	}

	for _, e := range group.CheckpointHistory {
		if e.SequenceID == maxSeq {
			return true
		}
	}
	group.CheckpointHistory = append(group.CheckpointHistory, CheckpointEntry{SequenceID: maxSeq, Offsets: preferred})
	return true
}

// checkPendingCompletion drops pending groups once every replica has
// reached a terminal state, and force-shuts-down stragglers past
// cfg.CompletionTimeout.
func (s *Supervisor) checkPendingCompletion(ctx context.Context) {
	for gid, pg := range s.pending {
		allDone := true
		for taskID := range pg.ReplicaTaskIDs {
			callCtx, cancel := context.WithTimeout(ctx, s.cfg.HTTPTimeout)
			status, err := s.client.GetStatus(callCtx, taskID)
			cancel()
			if err != nil || status != "SUCCESS" {
				allDone = false
			}
		}
		if allDone {
			delete(s.pending, gid)
			continue
		}
		if time.Since(pg.EnteredAt) > s.cfg.CompletionTimeout {
			log.Warn().Int("group_id", gid).Msg("pending completion timed out; shutting down stragglers")
			for taskID := range pg.ReplicaTaskIDs {
				if err := s.orch.ShutdownTask(ctx, taskID); err != nil {
					log.Warn().Err(err).Str("task_id", taskID).Msg("failed to shut down straggler")
				}
			}
			delete(s.pending, gid)
		}
	}
}

// computeLagLocked reports latest-minus-current lag per partition for
// every active group, skipped for the opaque-sequence flavor where
// subtraction has no defined meaning.
func (s *Supervisor) computeLagLocked(ctx context.Context) map[streamid.PartitionID]int64 {
	if s.kind != dsmetadata.KindInt64Offset {
		return nil
	}
	out := make(map[streamid.PartitionID]int64)
	for _, group := range s.groups {
		var sampleTask string
		for taskID := range group.ReplicaTaskIDs {
			sampleTask = taskID
			break
		}
		var current map[streamid.PartitionID]string
		if sampleTask != "" {
			callCtx, cancel := context.WithTimeout(ctx, s.cfg.HTTPTimeout)
			cur, err := s.client.GetCurrentOffsets(callCtx, sampleTask)
			cancel()
			if err == nil {
				current = cur
			}
		}
		for p := range group.StartOffsets {
			sp := streamid.New(s.streamID, p)
			latest, err := s.supplier.GetLatest(ctx, sp)
			if err != nil {
				continue
			}
			curStr, ok := current[p]
			if !ok {
				curStr = group.StartOffsets[p]
			}
			curSeq := dsmetadata.ParseSequence(s.kind, curStr)
			li, ok1 := latest.(interface{ Value() int64 })
			ci, ok2 := curSeq.(interface{ Value() int64 })
			if ok1 && ok2 {
				out[p] = li.Value() - ci.Value()
			}
		}
	}
	return out
}
