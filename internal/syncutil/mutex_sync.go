//go:build !deadlock
// +build !deadlock

package syncutil

import "sync"

// Mutex is a sync.Mutex in normal builds and a deadlock-detecting mutex
// when built with the deadlock tag.
type Mutex struct {
	sync.Mutex
}

type RWMutex struct {
	sync.RWMutex
}
