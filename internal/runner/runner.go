// Package runner implements the per-task ingestion state machine. One
// Runner drives one task's assigned partitions through NOT_STARTED ->
// STARTING -> READING <-> PAUSED -> PUBLISHING -> a terminal state,
// reading through a recordsupplier.Supplier, pushing rows through an
// appenderator.Appenderator, and performing a transactional publish
// through metadatastore.Actions.
//
// The pause/resume coordination follows a run thread parked on a
// condition variable, resumed by an HTTP-facing goroutine holding the
// same lock, and the publish step follows a compare-and-swap commit
// shape adapted to a per-task checkpointed multi-sequence publisher.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ingestcore/streamtask/internal/appenderator"
	"github.com/ingestcore/streamtask/internal/discovery"
	"github.com/ingestcore/streamtask/internal/dsmetadata"
	"github.com/ingestcore/streamtask/internal/ingesterrors"
	"github.com/ingestcore/streamtask/internal/metadatastore"
	"github.com/ingestcore/streamtask/internal/recordsupplier"
	"github.com/ingestcore/streamtask/internal/streamid"
	"github.com/ingestcore/streamtask/internal/syncutil"
)

// Deps bundles the runner's external collaborators. The
// appenderator/driver, the metadata-store actions, and task discovery
// are all external collaborators this module only talks to through
// narrow contracts.
type Deps struct {
	Supplier      recordsupplier.Supplier
	Appenderator  appenderator.Appenderator
	Actions       metadatastore.Actions
	Discovery     *discovery.Registry
	SequenceStore SequenceStore
}

// Bounds is the task's overall assigned partition range, handed down
// by the supervisor at task submission time.
type Bounds struct {
	Start map[streamid.PartitionID]string
	End   map[streamid.PartitionID]string
}

// Runner owns one task's ingestion lifecycle. All mutations to state,
// sequences, and the offset fields happen either on the Run goroutine
// or under mu: the pause lock is the single synchronization point
// between the main loop and HTTP callbacks.
type Runner struct {
	cfg    *Config
	deps   Deps
	kind   dsmetadata.Kind
	bounds Bounds

	exclusiveStart streamid.Set

	mu           syncutil.Mutex
	hasPaused    *sync.Cond
	shouldResume *sync.Cond

	state     State
	startTime time.Time

	sequences []*Metadata
	nextSeqID int

	currOffsets map[streamid.PartitionID]string
	endOffsets  map[streamid.PartitionID]string

	// initialOffsetsSnapshot is set by a non-finish SetEndOffsets while
	// paused; the next record seen per partition there must match it
	// (see verifyInitialRecordAndSkipExclusivePartition).
	initialOffsetsSnapshot map[streamid.PartitionID]string
	firstRecordSeen        map[streamid.PartitionID]bool

	pauseRequested bool
	stopRequested  bool

	// publishCancel cancels the in-flight publish's context; set only
	// while publish is running, so Stop can interrupt a PUBLISHING task
	// instead of blocking until the whole drain finishes.
	publishCancel context.CancelFunc

	nextCheckpointTime time.Time

	rowMu    sync.Mutex
	rowStats appenderator.RowStats

	parseErrors int

	report     *CompletionReport
	reportOnce sync.Once
}

func New(cfg *Config, deps Deps, kind dsmetadata.Kind, bounds Bounds, exclusiveStart streamid.Set) *Runner {
	r := &Runner{
		cfg:                    cfg,
		deps:                   deps,
		kind:                   kind,
		bounds:                 bounds,
		exclusiveStart:         exclusiveStart,
		currOffsets:            make(map[streamid.PartitionID]string),
		endOffsets:             make(map[streamid.PartitionID]string),
		firstRecordSeen:        make(map[streamid.PartitionID]bool),
		initialOffsetsSnapshot: nil,
	}
	r.hasPaused = sync.NewCond(&r.mu)
	r.shouldResume = sync.NewCond(&r.mu)
	for p, v := range bounds.End {
		r.endOffsets[p] = v
	}
	return r
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Status returns the runner's current state, per the /status endpoint.
func (r *Runner) Status() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) StartTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startTime
}

// RowStats reports the cumulative row counters for the /rowStats and
// /unparseableEvents endpoints. Processed and Unparseable come from
// the appenderator's own meters, since only it can tell a row that
// failed to parse from one it accepted; ProcessedWithError and
// ThrownAway are tracked locally: the first counts rows whose
// appenderator Add returned an error, the second records that no open
// sequence claimed.
func (r *Runner) RowStats() appenderator.RowStats {
	var stats appenderator.RowStats
	if r.deps.Appenderator != nil {
		stats = r.deps.Appenderator.RowIngestionMeters()
	}
	r.rowMu.Lock()
	stats.ProcessedWithError += r.rowStats.ProcessedWithError
	stats.ThrownAway += r.rowStats.ThrownAway
	r.rowMu.Unlock()
	return stats
}

// CurrentOffsets returns a snapshot of curr_offsets, per /offsets/current.
func (r *Runner) CurrentOffsets() map[streamid.PartitionID]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneStrMap(r.currOffsets)
}

// EndOffsets returns a snapshot of end_offsets, per /offsets/end.
func (r *Runner) EndOffsets() map[streamid.PartitionID]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneStrMap(r.endOffsets)
}

// Checkpoints returns the ordered sequence-id -> start-offsets map, per
// the /checkpoints endpoint.
func (r *Runner) Checkpoints() map[int]map[streamid.PartitionID]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]map[streamid.PartitionID]string, len(r.sequences))
	for _, s := range r.sequences {
		out[s.SequenceID] = cloneStrMap(s.Start)
	}
	return out
}

func cloneStrMap(m map[streamid.PartitionID]string) map[streamid.PartitionID]string {
	out := make(map[streamid.PartitionID]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (r *Runner) sequenceName(id int) string {
	return fmt.Sprintf("%s_%d", r.cfg.BaseSequenceName, id)
}

// Run drives the task through its entire lifecycle and returns the
// completion report. It is intended to run on its own goroutine; all
// HTTP-facing methods communicate with it only through mu/hasPaused/
// shouldResume.
func (r *Runner) Run(ctx context.Context) *CompletionReport {
	var chain ingesterrors.Chain

	r.mu.Lock()
	r.state = Starting
	r.startTime = time.Now()
	r.mu.Unlock()

	err := r.start(ctx)
	chain.Add(err)

	if err == nil {
		err = r.readLoop(ctx)
		chain.Add(err)
	}

	publishInterrupted := false
	if err == nil {
		err = r.publish(ctx)
		publishInterrupted = ingesterrors.Is(err, ingesterrors.ErrPublishInterrupted)
		chain.Add(err)
	}

	// Shutdown always attempts appenderator close, supplier close, and
	// discovery unannounce, chaining any further failures behind the
	// primary one rather than losing them. A publish interrupted by
	// Stop already abandoned the appenderator via CloseNow, so closing
	// it again here would be redundant.
	closeCtx := context.Background()
	if !publishInterrupted {
		if closeErr := r.deps.Appenderator.Close(closeCtx); closeErr != nil {
			chain.Add(ingesterrors.Wrap("close appenderator", closeErr))
		}
	}
	if closeErr := r.deps.Supplier.Close(); closeErr != nil {
		chain.Add(ingesterrors.Wrap("close supplier", closeErr))
	}
	if unErr := r.deps.Discovery.Unannounce(closeCtx, r.cfg.TaskID); unErr != nil {
		chain.Add(ingesterrors.Wrap("unannounce discovery", unErr))
	}

	final := chain.Err()
	if final != nil {
		r.setState(Failure)
		log.Error().Err(final).Str("task_id", r.cfg.TaskID).Msg("task failed")
	} else {
		r.setState(Success)
	}

	return r.buildReport(final)
}

func (r *Runner) buildReport(err error) *CompletionReport {
	rep := &CompletionReport{
		TaskID:   r.cfg.TaskID,
		Status:   r.Status().String(),
		RowStats: r.RowStats(),
	}
	if err != nil {
		rep.ErrorMessage = err.Error()
	}
	r.reportOnce.Do(func() { r.report = rep })
	return rep
}

// Report returns the completion report once the task has reached a
// terminal state; nil before then.
func (r *Runner) Report() *CompletionReport {
	return r.report
}
