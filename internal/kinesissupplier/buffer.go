package kinesissupplier

import (
	"sync"
	"time"

	"github.com/gammazero/deque"

	"github.com/ingestcore/streamtask/internal/recordsupplier"
)

// buffer is the bounded MPMC record buffer shared by every fetcher.
// Backed by deque.Deque, guarded by a mutex and two condition
// variables (space-available, item-available) since deque.Deque
// itself is not concurrency-safe.
type buffer struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	dq       deque.Deque[recordsupplier.Record]
	capacity int
	closed   bool
}

func newBuffer(capacity int) *buffer {
	b := &buffer{capacity: capacity}
	b.notEmpty = sync.NewCond(&b.mu)
	b.notFull = sync.NewCond(&b.mu)
	return b
}

// Offer blocks up to timeout for room, returning false if it never
// appeared (the fetcher must rewind its iterator and reschedule on
// false).
func (b *buffer) Offer(rec recordsupplier.Record, timeout time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	deadline := time.Now().Add(timeout)
	for b.dq.Len() >= b.capacity && !b.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		waitOnCond(b.notFull, remaining)
	}
	if b.closed {
		return false
	}
	b.dq.PushBack(rec)
	b.notEmpty.Signal()
	return true
}

// Drain removes up to n records from the front, not blocking beyond
// the first item's availability within timeout.
func (b *buffer) Drain(n int, timeout time.Duration) []recordsupplier.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	deadline := time.Now().Add(timeout)
	for b.dq.Len() == 0 && !b.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		waitOnCond(b.notEmpty, remaining)
	}
	if b.dq.Len() == 0 {
		return nil
	}
	out := make([]recordsupplier.Record, 0, n)
	for len(out) < n && b.dq.Len() > 0 {
		out = append(out, b.dq.PopFront())
	}
	if len(out) > 0 {
		b.notFull.Broadcast()
	}
	return out
}

func (b *buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dq.Len()
}

// DropMatching discards every buffered record for which match returns
// true, used by Seek to drop stale data before restarting fetchers.
func (b *buffer) DropMatching(match func(recordsupplier.Record) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := make([]recordsupplier.Record, 0, b.dq.Len())
	for b.dq.Len() > 0 {
		r := b.dq.PopFront()
		if !match(r) {
			kept = append(kept, r)
		}
	}
	for _, r := range kept {
		b.dq.PushBack(r)
	}
	b.notFull.Broadcast()
}

func (b *buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
}

// waitOnCond waits on cond for at most timeout by racing a helper
// goroutine's timer against the condition signal. sync.Cond has no
// native timed wait; this is the standard workaround.
func waitOnCond(cond *sync.Cond, timeout time.Duration) {
	timer := time.AfterFunc(timeout, func() {
		cond.Broadcast()
	})
	defer timer.Stop()
	cond.Wait()
}
