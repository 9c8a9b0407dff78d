package seqnum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInt64SequenceOrder(t *testing.T) {
	a := NewInt64Sequence(5)
	b := NewInt64Sequence(7)
	assert.Equal(t, Less, a.Compare(b))
	assert.Equal(t, Greater, b.Compare(a))
	assert.Equal(t, Equal, a.Compare(NewInt64Sequence(5)))
}

func TestInt64SequenceSentinels(t *testing.T) {
	eos := Int64EndOfShard()
	noEnd := Int64NoEnd()
	mid := NewInt64Sequence(42)

	assert.True(t, eos.IsSentinel())
	assert.True(t, noEnd.IsSentinel())
	assert.False(t, mid.IsSentinel())

	assert.Equal(t, Less, eos.Compare(mid))
	assert.Equal(t, Greater, mid.Compare(eos))
	assert.Equal(t, Greater, noEnd.Compare(mid))
	assert.Equal(t, Less, mid.Compare(noEnd))
	assert.Equal(t, Less, eos.Compare(noEnd))
}

func TestInt64SequenceNext(t *testing.T) {
	assert.Equal(t, NewInt64Sequence(6), NewInt64Sequence(5).Next())
	assert.Panics(t, func() { Int64EndOfShard().Next() })
}

func TestStringSequenceNumericOrder(t *testing.T) {
	a := NewStringSequence("9")
	b := NewStringSequence("10")
	// numeric, not lexicographic: "10" > "9"
	assert.Equal(t, Less, a.Compare(b))
	assert.Equal(t, Greater, b.Compare(a))
}

func TestStringSequenceEqualityIgnoresLeadingZeroes(t *testing.T) {
	a := NewStringSequence("007")
	b := NewStringSequence("7")
	assert.Equal(t, Equal, a.Compare(b))
}

func TestStringSequenceSentinels(t *testing.T) {
	eos := StringEndOfShard()
	noEnd := StringNoEnd()
	mid := NewStringSequence("123456789012345678901234567890")

	assert.Equal(t, Less, eos.Compare(mid))
	assert.Equal(t, Greater, noEnd.Compare(mid))
	assert.Equal(t, Equal, eos.Compare(StringEndOfShard()))
	assert.Equal(t, Equal, noEnd.Compare(StringNoEnd()))
}

func TestStringSequenceNext(t *testing.T) {
	assert.Equal(t, NewStringSequence("100"), NewStringSequence("99").Next())
	assert.Panics(t, func() { StringEndOfShard().Next() })
}
