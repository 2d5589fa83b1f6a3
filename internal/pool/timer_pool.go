// Package pool provides pooled time.Timer instances.
//
// The session and controller arm short-lived timers on every queue send and
// retry attempt; pooling them avoids allocating a timer per wire operation.
package pool

import (
	"sync"
	"time"
)

var timerPool sync.Pool

// GetTimer returns a timer armed with duration d from the pool.
//
// Return the timer to the pool with PutTimer once it is no longer needed.
func GetTimer(d time.Duration) *time.Timer {
	v := timerPool.Get()
	if v == nil {
		return time.NewTimer(d)
	}

	t, _ := v.(*time.Timer) // only *time.Timer is ever put into the pool
	if t.Reset(d) {
		// Timer was still active, drain the channel to avoid a stale fire.
		select {
		case <-t.C:
		default:
		}
	}

	return t
}

// PutTimer stops the timer and returns it to the pool.
//
// The timer must not be accessed after it has been returned.
func PutTimer(t *time.Timer) {
	if !t.Stop() {
		// Drain t.C if the caller never received from it.
		select {
		case <-t.C:
		default:
		}
	}
	timerPool.Put(t)
}
