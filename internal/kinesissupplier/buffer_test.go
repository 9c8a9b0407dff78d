package kinesissupplier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestcore/streamtask/internal/recordsupplier"
	"github.com/ingestcore/streamtask/internal/seqnum"
	"github.com/ingestcore/streamtask/internal/streamid"
)

func rec(partitionID, seq string) recordsupplier.Record {
	return recordsupplier.Record{
		StreamPartition: streamid.New("stream", streamid.PartitionID(partitionID)),
		SequenceNumber:  seqnum.NewStringSequence(seq),
	}
}

func TestBufferOfferDrainRoundTrip(t *testing.T) {
	b := newBuffer(2)
	require.True(t, b.Offer(rec("a", "1"), time.Second))
	require.True(t, b.Offer(rec("a", "2"), time.Second))

	out := b.Drain(10, time.Second)
	require.Len(t, out, 2)
	assert.Equal(t, "1", out[0].SequenceNumber.String())
	assert.Equal(t, "2", out[1].SequenceNumber.String())
}

func TestBufferOfferTimesOutWhenFull(t *testing.T) {
	b := newBuffer(1)
	require.True(t, b.Offer(rec("a", "1"), time.Second))
	ok := b.Offer(rec("a", "2"), 20*time.Millisecond)
	assert.False(t, ok)
}

func TestBufferDrainTimesOutWhenEmpty(t *testing.T) {
	b := newBuffer(1)
	out := b.Drain(10, 20*time.Millisecond)
	assert.Nil(t, out)
}

func TestBufferDropMatchingRemovesOnlyTargeted(t *testing.T) {
	b := newBuffer(10)
	require.True(t, b.Offer(rec("a", "1"), time.Second))
	require.True(t, b.Offer(rec("b", "1"), time.Second))

	b.DropMatching(func(r recordsupplier.Record) bool {
		return r.StreamPartition.PartitionID == "a"
	})

	out := b.Drain(10, 20*time.Millisecond)
	require.Len(t, out, 1)
	assert.Equal(t, streamid.PartitionID("b"), out[0].StreamPartition.PartitionID)
}

func TestBufferCloseUnblocksWaiters(t *testing.T) {
	b := newBuffer(1)
	done := make(chan []recordsupplier.Record)
	go func() {
		done <- b.Drain(10, 5*time.Second)
	}()
	time.Sleep(10 * time.Millisecond)
	b.Close()
	select {
	case out := <-done:
		assert.Nil(t, out)
	case <-time.After(time.Second):
		t.Fatal("Drain did not unblock after Close")
	}
}
