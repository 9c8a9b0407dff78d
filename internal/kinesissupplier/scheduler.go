package kinesissupplier

import (
	"container/heap"
	"sync"
	"time"

	"github.com/ingestcore/streamtask/internal/streamid"
)

// delayItem is one partition's next scheduled fetcher tick.
type delayItem struct {
	runAt     time.Time
	partition streamid.StreamPartition
	index     int
}

type delayHeap []*delayItem

func (h delayHeap) Len() int           { return len(h) }
func (h delayHeap) Less(i, j int) bool { return h[i].runAt.Before(h[j].runAt) }
func (h delayHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *delayHeap) Push(x interface{}) {
	item := x.(*delayItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *delayHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// scheduler multiplexes N fetch-thread workers over a per-partition
// delay queue keyed on next-run time, avoiding one goroutine per
// partition when the fan-out is large.
type scheduler struct {
	mu       sync.Mutex
	heap     delayHeap
	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func newScheduler() *scheduler {
	return &scheduler{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
}

func (s *scheduler) Schedule(p streamid.StreamPartition, after time.Duration) {
	s.mu.Lock()
	heap.Push(&s.heap, &delayItem{runAt: time.Now().Add(after), partition: p})
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *scheduler) ScheduleNow(p streamid.StreamPartition) {
	s.Schedule(p, 0)
}

// Run pops due items and invokes runFn for each, blocking workers'
// time between pops on the next item's deadline. Intended to be run by
// exactly one dispatcher goroutine per worker (FetchThreads of them),
// all sharing the same scheduler and heap.
func (s *scheduler) Run(runFn func(streamid.StreamPartition)) {
	for {
		s.mu.Lock()
		var wait time.Duration
		var due *delayItem
		if len(s.heap) > 0 {
			next := s.heap[0]
			if !next.runAt.After(time.Now()) {
				due = heap.Pop(&s.heap).(*delayItem)
			} else {
				wait = time.Until(next.runAt)
			}
		} else {
			wait = time.Hour
		}
		s.mu.Unlock()

		if due != nil {
			runFn(due.partition)
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-s.stop:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (s *scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}
