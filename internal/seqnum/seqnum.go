// Package seqnum implements the Ordered Sequence Number: a total order
// over the two sequence domains the runner deals with — 64-bit integer
// offsets (Kafka-style partitions) and opaque big-integer decimal
// strings (Kinesis-style shards) — plus the two reserved sentinels
// every domain shares.
package seqnum

import (
	"fmt"
	"math/big"
)

// Order is the result of comparing two sequence numbers.
type Order int

const (
	Less    Order = -1
	Equal   Order = 0
	Greater Order = 1
)

// Sentinel values, shared across both sequence domains. EndOfShard
// marks a closed, fully-drained shard; NoEnd marks an open-ended upper
// bound. Equality is by numeric value, never by string form, which
// matters for the big-integer string domain ("007" == "7").
const (
	EndOfShard = "END_OF_SHARD"
	NoEnd      = "ZZZZZZZZZZZZZZZZZZZZ"
)

// SequenceNumber is a value from a total-ordered sequence domain S.
// Int64Sequence and StringSequence are the two implementations the
// runner ever constructs; both box their native value behind this
// interface so the runner's generic machinery never needs to know
// which stream flavor it is driving.
type SequenceNumber interface {
	// Compare returns Less/Equal/Greater for self versus other. Panics
	// if other is not the same concrete type.
	Compare(other SequenceNumber) Order
	// IsSentinel reports whether this value is EndOfShard or NoEnd.
	IsSentinel() bool
	// Next returns the immediate successor. Must never be called on a
	// sentinel value.
	Next() SequenceNumber
	// String renders the wire/display form.
	String() string
}

// Int64Sequence is the Kafka-style integer offset domain.
type Int64Sequence struct {
	sentinel sentinelKind
	value    int64
}

type sentinelKind uint8

const (
	notSentinel sentinelKind = iota
	sentinelEndOfShard
	sentinelNoEnd
)

func NewInt64Sequence(v int64) Int64Sequence {
	return Int64Sequence{value: v}
}

func Int64EndOfShard() Int64Sequence { return Int64Sequence{sentinel: sentinelEndOfShard} }
func Int64NoEnd() Int64Sequence      { return Int64Sequence{sentinel: sentinelNoEnd} }

func (s Int64Sequence) IsSentinel() bool { return s.sentinel != notSentinel }

func (s Int64Sequence) Compare(other SequenceNumber) Order {
	o, ok := other.(Int64Sequence)
	if !ok {
		panic(fmt.Sprintf("seqnum: cannot compare Int64Sequence with %T", other))
	}
	// END_OF_SHARD < any non-sentinel; NO_END > any non-sentinel.
	if s.sentinel == sentinelEndOfShard {
		if o.sentinel == sentinelEndOfShard {
			return Equal
		}
		return Less
	}
	if o.sentinel == sentinelEndOfShard {
		return Greater
	}
	if s.sentinel == sentinelNoEnd {
		if o.sentinel == sentinelNoEnd {
			return Equal
		}
		return Greater
	}
	if o.sentinel == sentinelNoEnd {
		return Less
	}
	switch {
	case s.value < o.value:
		return Less
	case s.value > o.value:
		return Greater
	default:
		return Equal
	}
}

func (s Int64Sequence) Next() SequenceNumber {
	if s.IsSentinel() {
		panic("seqnum: Next called on a sentinel Int64Sequence")
	}
	return Int64Sequence{value: s.value + 1}
}

func (s Int64Sequence) String() string {
	switch s.sentinel {
	case sentinelEndOfShard:
		return EndOfShard
	case sentinelNoEnd:
		return NoEnd
	default:
		return fmt.Sprintf("%d", s.value)
	}
}

func (s Int64Sequence) Value() int64 { return s.value }

// StringSequence is the Kinesis-style opaque big-integer decimal
// string domain.
type StringSequence struct {
	sentinel sentinelKind
	value    string
}

func NewStringSequence(v string) StringSequence {
	return StringSequence{value: v}
}

func StringEndOfShard() StringSequence {
	return StringSequence{sentinel: sentinelEndOfShard, value: EndOfShard}
}
func StringNoEnd() StringSequence { return StringSequence{sentinel: sentinelNoEnd, value: NoEnd} }

func (s StringSequence) IsSentinel() bool { return s.sentinel != notSentinel }

func (s StringSequence) bigValue() *big.Int {
	n := new(big.Int)
	if _, ok := n.SetString(s.value, 10); !ok {
		// A value that is not a decimal integer is treated as 0
		// rather than panicking, so every such value compares equal
		// to every other and to "0"; a corrupt checkpoint then
		// fails a comparison instead of crashing the runner.
		return big.NewInt(0)
	}
	return n
}

func (s StringSequence) Compare(other SequenceNumber) Order {
	o, ok := other.(StringSequence)
	if !ok {
		panic(fmt.Sprintf("seqnum: cannot compare StringSequence with %T", other))
	}
	if s.sentinel == sentinelEndOfShard {
		if o.sentinel == sentinelEndOfShard {
			return Equal
		}
		return Less
	}
	if o.sentinel == sentinelEndOfShard {
		return Greater
	}
	if s.sentinel == sentinelNoEnd {
		if o.sentinel == sentinelNoEnd {
			return Equal
		}
		return Greater
	}
	if o.sentinel == sentinelNoEnd {
		return Less
	}
	return Order(s.bigValue().Cmp(o.bigValue()))
}

func (s StringSequence) Next() SequenceNumber {
	if s.IsSentinel() {
		panic("seqnum: Next called on a sentinel StringSequence")
	}
	n := s.bigValue()
	n.Add(n, big.NewInt(1))
	return StringSequence{value: n.String()}
}

func (s StringSequence) String() string {
	switch s.sentinel {
	case sentinelEndOfShard:
		return EndOfShard
	case sentinelNoEnd:
		return NoEnd
	default:
		return s.value
	}
}

// Compare is the free-function form, useful in generic call sites that
// already hold two SequenceNumber values of unknown-but-matching
// concrete type.
func Compare(a, b SequenceNumber) Order {
	return a.Compare(b)
}

// IsSentinel reports whether x is EndOfShard or NoEnd.
func IsSentinel(x SequenceNumber) bool {
	return x.IsSentinel()
}
