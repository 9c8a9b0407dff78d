package kinesissupplier

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ingestcore/streamtask/internal/streamid"
)

func TestSchedulerRunsDueItemsInOrder(t *testing.T) {
	s := newScheduler()
	defer s.Stop()

	var mu sync.Mutex
	var order []string

	go s.Run(func(p streamid.StreamPartition) {
		mu.Lock()
		order = append(order, string(p.PartitionID))
		mu.Unlock()
	})

	pA := streamid.New("stream", "a")
	pB := streamid.New("stream", "b")
	s.Schedule(pB, 30*time.Millisecond)
	s.Schedule(pA, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestSchedulerScheduleNowRunsPromptly(t *testing.T) {
	s := newScheduler()
	defer s.Stop()

	done := make(chan struct{})
	go s.Run(func(p streamid.StreamPartition) {
		close(done)
	})

	s.ScheduleNow(streamid.New("stream", "a"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduled item never ran")
	}
}

func TestSchedulerStopEndsRun(t *testing.T) {
	s := newScheduler()
	finished := make(chan struct{})
	go func() {
		s.Run(func(p streamid.StreamPartition) {})
		close(finished)
	}()
	s.Stop()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
