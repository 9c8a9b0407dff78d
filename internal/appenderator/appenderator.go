// Package appenderator describes the segment-storage boundary this
// module treats as an external collaborator: the appenderator/driver
// that buffers rows,
// rolls segments, persists them, publishes them, and hands them off to
// historical nodes. The runner only ever talks to this boundary
// through the Appenderator interface; no implementation of row
// buffering or segment storage lives in this module.
package appenderator

import (
	"context"
	"time"

	"github.com/ingestcore/streamtask/internal/dsmetadata"
)

// SegmentIdentifier names one immutable, time-partitioned data segment
// produced by a push. Interval/Version/ShardSpec are opaque strings as
// far as this module is concerned; only the appenderator and the
// metadata store interpret them.
type SegmentIdentifier struct {
	DataSource string
	Interval   string
	Version    string
	ShardSpec  string
}

func (s SegmentIdentifier) String() string {
	return s.DataSource + "_" + s.Interval + "_" + s.Version + "_" + s.ShardSpec
}

// AddResult is returned for every row pushed through Add.
type AddResult struct {
	// NumRowsInSegment is the row count of the segment the row landed
	// in, after this add.
	NumRowsInSegment int64
	// TotalNumRows is the cumulative row count across all open
	// segments for this appenderator instance.
	TotalNumRows int64
	// IsPushRequired signals a segment boundary was crossed (size or
	// row-count threshold) and the caller should schedule a checkpoint.
	IsPushRequired bool
}

// PushResult is returned once pending segments have been finalized and
// handed off for publish.
type PushResult struct {
	Segments []SegmentIdentifier
}

// RowStats is a running count of processed/thrown-away/unparseable/
// processed-with-error rows, exposed read-only via the runner's
// /rowStats and /unparseableEvents passthrough endpoints.
type RowStats struct {
	Processed          int64
	ProcessedWithError int64
	ThrownAway         int64
	Unparseable        int64
}

// Appenderator is the interface the runner drives. Implementations own
// all segment buffering, rolling, persistence, and handoff; this
// module only describes the shape of that boundary.
type Appenderator interface {
	// StartJob prepares the appenderator to receive rows, recovering
	// any segments left over from a prior process on this task.
	StartJob(ctx context.Context) error

	// RestoredCommitMetadata returns the DataSource Metadata the
	// appenderator driver had durably persisted from a prior process on
	// this task, if any.
	RestoredCommitMetadata(ctx context.Context) (*dsmetadata.Metadata, bool, error)

	// Add pushes one parsed row blob through the appenderator under
	// sequenceName, the currently-open SequenceMetadata's name.
	// skipSegmentLineageCheck is true for the integer-offset flavor and
	// false for the opaque-sequence flavor.
	Add(ctx context.Context, sequenceName string, row []byte, skipSegmentLineageCheck bool) (AddResult, error)

	// Push finalizes the named sequences' in-flight segments so they
	// are ready for transactional publish. useTransaction mirrors the
	// runner's configured useTransaction knob.
	Push(ctx context.Context, sequenceNames []string, useTransaction bool) (*PushResult, error)

	// RegisterHandoffWatcher starts a post-publish handoff wait for the
	// given segments with the given timeout. A zero timeout waits
	// forever. Handoff timeout is a non-fatal alert; it is surfaced on
	// the returned channel rather than by blocking progress on the
	// publish path.
	RegisterHandoffWatcher(ctx context.Context, segments []SegmentIdentifier, timeout time.Duration) <-chan error

	// RowIngestionMeters returns a snapshot of the running row counters.
	RowIngestionMeters() RowStats

	// Close performs an orderly shutdown, flushing anything still
	// buffered. CloseNow abandons in-flight work immediately; the
	// runner calls CloseNow only when the main loop is being
	// interrupted out of PUBLISHING by a graceful stop.
	Close(ctx context.Context) error
	CloseNow() error
}
