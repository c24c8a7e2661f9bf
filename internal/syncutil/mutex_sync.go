//go:build !deadlock

// Package syncutil provides the mutex types used by the protocol and
// interrupt layers. The default build uses plain sync mutexes with
// zero overhead; build with -tags=deadlock to swap in
// github.com/sasha-s/go-deadlock and catch lock-ordering bugs between
// the request lock and the observer lists.
package syncutil

import "sync"

// Mutex wraps sync.Mutex. Build with -tags=deadlock for deadlock detection.
type Mutex struct {
	sync.Mutex
}

// RWMutex wraps sync.RWMutex. Build with -tags=deadlock for deadlock detection.
type RWMutex struct {
	sync.RWMutex
}
