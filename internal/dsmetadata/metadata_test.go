package dsmetadata

import (
	"testing"

	"github.com/ingestcore/streamtask/internal/seqnum"
	"github.com/ingestcore/streamtask/internal/streamid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metaWith(kind Kind, stream string, kv map[string]int64) *Metadata {
	m := New(kind, stream)
	for p, v := range kv {
		m.Set(streamid.PartitionID(p), seqnum.NewInt64Sequence(v))
	}
	return m
}

func TestPlusUnionsWithOtherOverriding(t *testing.T) {
	a := metaWith(KindInt64Offset, "s1", map[string]int64{"0": 5, "1": 10})
	b := metaWith(KindInt64Offset, "s1", map[string]int64{"1": 20, "2": 3})

	out := a.Plus(b)
	v0, ok := out.Get("0")
	require.True(t, ok)
	assert.Equal(t, seqnum.Equal, v0.Compare(seqnum.NewInt64Sequence(5)))

	v1, ok := out.Get("1")
	require.True(t, ok)
	assert.Equal(t, seqnum.Equal, v1.Compare(seqnum.NewInt64Sequence(20)))

	v2, ok := out.Get("2")
	require.True(t, ok)
	assert.Equal(t, seqnum.Equal, v2.Compare(seqnum.NewInt64Sequence(3)))
}

func TestPlusDifferentStreamOtherWins(t *testing.T) {
	a := metaWith(KindInt64Offset, "s1", map[string]int64{"0": 5})
	b := metaWith(KindInt64Offset, "s2", map[string]int64{"0": 9})
	out := a.Plus(b)
	assert.Equal(t, "s2", out.StreamID)
	v, _ := out.Get("0")
	assert.Equal(t, seqnum.Equal, v.Compare(seqnum.NewInt64Sequence(9)))
}

func TestMinusRemovesOnlyOtherKeysSameStream(t *testing.T) {
	a := metaWith(KindInt64Offset, "s1", map[string]int64{"0": 5, "1": 10})
	b := metaWith(KindInt64Offset, "s1", map[string]int64{"0": 0})
	out := a.Minus(b)
	_, ok := out.Get("0")
	assert.False(t, ok)
	v1, ok := out.Get("1")
	require.True(t, ok)
	assert.Equal(t, seqnum.Equal, v1.Compare(seqnum.NewInt64Sequence(10)))
}

func TestMinusSelfIsEmpty(t *testing.T) {
	a := metaWith(KindInt64Offset, "s1", map[string]int64{"0": 5, "1": 10})
	out := a.Minus(a)
	assert.Empty(t, out.Partitions)
}

func TestMatchesWhenEqualAfterUnion(t *testing.T) {
	a := metaWith(KindInt64Offset, "s1", map[string]int64{"0": 5})
	b := metaWith(KindInt64Offset, "s1", map[string]int64{"0": 5})
	assert.True(t, a.Matches(b))

	c := metaWith(KindInt64Offset, "s1", map[string]int64{"0": 6})
	assert.False(t, a.Matches(c))
}

func TestAdvancesMonotonically(t *testing.T) {
	old := metaWith(KindInt64Offset, "s1", map[string]int64{"0": 5, "1": 10})
	okNewer := metaWith(KindInt64Offset, "s1", map[string]int64{"0": 7, "1": 10, "2": 0})
	assert.True(t, AdvancesMonotonically(old, okNewer))

	regressed := metaWith(KindInt64Offset, "s1", map[string]int64{"0": 4, "1": 10})
	assert.False(t, AdvancesMonotonically(old, regressed))
}
