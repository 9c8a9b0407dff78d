// Package dsmetadata implements DataSource Metadata: the durable,
// transactional record of "read up to here" per partition for one
// datasource, and the small algebra (plus/minus/matches) the runner
// and supervisor use to reason about offset commits.
//
// The type is tagged by a Kind discriminator so a single wire
// representation covers both the integer-offset (Kafka-style) and
// opaque-sequence (Kinesis-style) stream flavors.
package dsmetadata

import (
	"fmt"

	"github.com/ingestcore/streamtask/internal/seqnum"
	"github.com/ingestcore/streamtask/internal/streamid"
)

type Kind uint8

const (
	KindInt64Offset Kind = iota
	KindOpaqueSequence
)

// Metadata is the tagged record {stream-id, partitions: map<P, S>}.
// Partition values are kept in their wire string form; Kind says how
// to interpret them as a seqnum.SequenceNumber.
type Metadata struct {
	Kind       Kind                            `json:"kind"`
	StreamID   string                          `json:"streamId"`
	Partitions map[streamid.PartitionID]string `json:"partitions"`
}

func New(kind Kind, streamID string) *Metadata {
	return &Metadata{Kind: kind, StreamID: streamID, Partitions: make(map[streamid.PartitionID]string)}
}

func (m *Metadata) parse(v string) seqnum.SequenceNumber {
	return ParseSequence(m.Kind, v)
}

// ParseSequence parses a wire-form sequence string into its concrete
// seqnum.SequenceNumber for the given Kind. Shared by Metadata and by
// callers outside this package (the runner and supervisor) that hold
// offsets in string form between JSON round-trips.
func ParseSequence(kind Kind, v string) seqnum.SequenceNumber {
	switch kind {
	case KindInt64Offset:
		if v == seqnum.EndOfShard {
			return seqnum.Int64EndOfShard()
		}
		if v == seqnum.NoEnd {
			return seqnum.Int64NoEnd()
		}
		var n int64
		fmt.Sscanf(v, "%d", &n)
		return seqnum.NewInt64Sequence(n)
	default:
		if v == seqnum.EndOfShard {
			return seqnum.StringEndOfShard()
		}
		if v == seqnum.NoEnd {
			return seqnum.StringNoEnd()
		}
		return seqnum.NewStringSequence(v)
	}
}

// Set records the sequence number for a partition.
func (m *Metadata) Set(p streamid.PartitionID, s seqnum.SequenceNumber) {
	m.Partitions[p] = s.String()
}

// Get returns the parsed sequence number for a partition and whether
// it was present.
func (m *Metadata) Get(p streamid.PartitionID) (seqnum.SequenceNumber, bool) {
	v, ok := m.Partitions[p]
	if !ok {
		return nil, false
	}
	return m.parse(v), true
}

func (m *Metadata) sameStream(other *Metadata) bool {
	return m.StreamID == other.StreamID && m.Kind == other.Kind
}

// Plus implements the algebra: if same stream, keys-unioned with
// values from other overriding; otherwise other wins entirely.
func (m *Metadata) Plus(other *Metadata) *Metadata {
	if other == nil {
		return m.clone()
	}
	if !m.sameStream(other) {
		return other.clone()
	}
	out := m.clone()
	for p, v := range other.Partitions {
		out.Partitions[p] = v
	}
	return out
}

// Minus implements the algebra: if same stream, keys in other are
// removed; otherwise self wins (other's removal request is
// irrelevant to a different stream).
func (m *Metadata) Minus(other *Metadata) *Metadata {
	if other == nil {
		return m.clone()
	}
	if !m.sameStream(other) {
		return m.clone()
	}
	out := m.clone()
	for p := range other.Partitions {
		delete(out.Partitions, p)
	}
	return out
}

// Matches implements the algebra: self.plus(other) == other.plus(self).
func (m *Metadata) Matches(other *Metadata) bool {
	if other == nil {
		return len(m.Partitions) == 0
	}
	return m.Plus(other).Equal(other.Plus(m))
}

func (m *Metadata) Equal(other *Metadata) bool {
	if other == nil {
		return false
	}
	if !m.sameStream(other) || len(m.Partitions) != len(other.Partitions) {
		return false
	}
	for p, v := range m.Partitions {
		ov, ok := other.Partitions[p]
		if !ok {
			return false
		}
		if m.parse(v).Compare(m.parse(ov)) != seqnum.Equal {
			return false
		}
	}
	return true
}

func (m *Metadata) clone() *Metadata {
	out := &Metadata{Kind: m.Kind, StreamID: m.StreamID, Partitions: make(map[streamid.PartitionID]string, len(m.Partitions))}
	for p, v := range m.Partitions {
		out.Partitions[p] = v
	}
	return out
}

// AdvancesMonotonically reports whether newer advances old
// monotonically for every partition old has: new.partitions[p] >=
// old.partitions[p] for all p in old.
func AdvancesMonotonically(old, newer *Metadata) bool {
	if !old.sameStream(newer) {
		return false
	}
	for p, v := range old.Partitions {
		nv, ok := newer.Partitions[p]
		if !ok {
			return false
		}
		if old.parse(v).Compare(old.parse(nv)) == seqnum.Greater {
			return false
		}
	}
	return true
}
