//go:build deadlock
// +build deadlock

package syncutil

import "github.com/sasha-s/go-deadlock"

// The runner's pause lock is held across the main loop and every HTTP
// callback goroutine; building with -tags deadlock swaps in a
// deadlock-detecting mutex for diagnosing lock-ordering regressions.
type Mutex struct {
	deadlock.Mutex
}

type RWMutex struct {
	deadlock.RWMutex
}
