// Package recordsupplier defines the uniform seekable-stream contract
// both stream flavors implement: assign, seek, poll, discover
// partitions, probe earliest/latest. The runner drives every stream
// through this one interface; kafkasupplier and kinesissupplier are
// its two concrete implementations.
package recordsupplier

import (
	"context"
	"time"

	"github.com/ingestcore/streamtask/internal/seqnum"
	"github.com/ingestcore/streamtask/internal/streamid"
)

// Record is an OrderedPartitionableRecord: one delivered record (or an
// END_OF_SHARD marker, when SequenceNumber.IsSentinel() and Data is
// nil) from one stream partition.
type Record struct {
	StreamPartition streamid.StreamPartition
	SequenceNumber  seqnum.SequenceNumber
	// Data is the ordered list of payload byte-blobs. A record whose
	// SequenceNumber equals EndOfShard is a marker, not data, and Data
	// is empty.
	Data [][]byte
}

func (r Record) IsEndOfShardMarker() bool {
	return r.SequenceNumber != nil && r.SequenceNumber.String() == seqnum.EndOfShard
}

// Supplier is the record-supplier contract both stream flavors satisfy.
// All methods are safe to call from the runner's single main-loop
// goroutine only, except Close, which is idempotent and may race with
// everything else.
type Supplier interface {
	// Assign replaces the working set. Partitions dropped from the new
	// set have their supplier-side state discarded.
	Assign(ctx context.Context, partitions streamid.Set) error

	// Seek repositions the next poll to return the record at seq,
	// inclusive.
	Seek(ctx context.Context, partition streamid.StreamPartition, seq seqnum.SequenceNumber) error

	SeekToEarliest(ctx context.Context, partitions streamid.Set) error
	SeekToLatest(ctx context.Context, partitions streamid.Set) error

	// GetEarliest and GetLatest are non-consuming probes. They return
	// EndOfShard if the shard is closed and empty, and a timeout error
	// if no record arrives within the configured fetch window.
	GetEarliest(ctx context.Context, partition streamid.StreamPartition) (seqnum.SequenceNumber, error)
	GetLatest(ctx context.Context, partition streamid.StreamPartition) (seqnum.SequenceNumber, error)

	// Poll returns 0..N records in assignment order within timeout. May
	// return an empty slice.
	Poll(ctx context.Context, timeout time.Duration) ([]Record, error)

	// GetPartitionIDs lists the live partitions of a stream. Fails if
	// the stream does not exist.
	GetPartitionIDs(ctx context.Context, streamID string) ([]streamid.PartitionID, error)

	GetAssignment() streamid.Set

	// Close is idempotent.
	Close() error
}
