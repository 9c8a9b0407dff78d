// Package ingesterrors collects the sentinel errors and wrap/unwrap
// helpers shared by the runner, the record suppliers, and the
// supervisor, in the two-tier style (plain sentinels + xerrors
// wrapping) the rest of this codebase uses for its error taxonomy.
package ingesterrors

import (
	"errors"

	"golang.org/x/xerrors"
)

var (
	// ErrStartOffsetUnavailable is returned when a partition's recorded
	// start offset is earlier than the stream's earliest retained
	// record and resetOffsetAutomatically is disabled. Fatal for the task.
	ErrStartOffsetUnavailable = errors.New("starting offset no longer available")

	// ErrInvalidBounds is returned when curr > end for some partition.
	// Indicates metadata corruption or a programmer error; always fatal.
	ErrInvalidBounds = errors.New("current offset exceeds end offset")

	// ErrOffsetGap is returned by the integer-offset supplier path when
	// a gap between consecutive offsets is detected and skipOffsetGaps
	// is disabled.
	ErrOffsetGap = errors.New("offset gap detected")

	// ErrPublishRejected is returned when the metadata store's
	// compare-and-swap on the transactional insert action fails because
	// the stored DataSource Metadata no longer matches the expected
	// start metadata.
	ErrPublishRejected = errors.New("transactional publish rejected: start metadata mismatch")

	// ErrMaxParseExceptionsExceeded is fatal once the cumulative parse
	// error count exceeds the configured budget.
	ErrMaxParseExceptionsExceeded = errors.New("maximum parse exceptions exceeded")

	// ErrTaskUncontactable marks a task the supervisor could not reach
	// within its chat retry budget.
	ErrTaskUncontactable = errors.New("task uncontactable")

	// ErrNotPaused is returned by set-end-offsets calls made while the
	// runner is not paused.
	ErrNotPaused = errors.New("runner is not paused")

	// ErrPartitionSetMismatch is returned when set-end-offsets supplies
	// offsets for a partition set different from the runner's current
	// assignment.
	ErrPartitionSetMismatch = errors.New("partition set mismatch")

	// ErrOffsetRegression is returned when a requested end offset is
	// less than the runner's current offset for some partition.
	ErrOffsetRegression = errors.New("requested end offset regresses current offset")

	// ErrDuplicateOffsetRequest is returned when set-end-offsets is
	// called twice with the same offsets while the first is still
	// pending.
	ErrDuplicateOffsetRequest = errors.New("duplicate set-end-offsets request")

	// ErrStreamEmpty signals a probe (earliest/latest) found the shard
	// closed and empty.
	ErrStreamEmpty = errors.New("stream partition is empty")

	// ErrSupplierClosed is returned by calls made against a closed
	// Record Supplier.
	ErrSupplierClosed = errors.New("record supplier is closed")

	// ErrUnknownStream is returned by get_partition_ids when the
	// backing stream does not exist.
	ErrUnknownStream = errors.New("unknown stream")

	// ErrPublishInterrupted is returned when a graceful stop cancels a
	// PUBLISHING drain in progress; the appenderator's in-flight work
	// was abandoned via CloseNow rather than pushed and published.
	ErrPublishInterrupted = errors.New("publish interrupted by stop request")
)

// Is reports whether err is, or wraps, target.
func Is(err, target error) bool {
	return xerrors.Is(err, target)
}

// Wrap attaches context to err while preserving it for errors.Is/As.
func Wrap(msg string, err error) error {
	if err == nil {
		return nil
	}
	return xerrors.Errorf("%s: %w", msg, err)
}

// Chain keeps the earlier-raised error as primary and records later
// ones encountered while unwinding a deferred cleanup frame (close
// appenderator, unannounce from discovery, persist sequences), mapping
// the source's suppressed-exception chaining onto Go's lack of
// suppression without losing the later failures.
type Chain struct {
	errs []error
}

func (c *Chain) Add(err error) {
	if err != nil {
		c.errs = append(c.errs, err)
	}
}

// Err returns the primary (first-added) error, or nil if none were
// added. Later errors remain reachable via Suppressed.
func (c *Chain) Err() error {
	if len(c.errs) == 0 {
		return nil
	}
	return c.errs[0]
}

func (c *Chain) Suppressed() []error {
	if len(c.errs) <= 1 {
		return nil
	}
	return c.errs[1:]
}
