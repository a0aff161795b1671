// Package mainthread owns the single OS thread on which every OS-touching
// call must execute. macOS requires accessibility and event APIs to run on
// the process's UI thread; the loop here is that thread, and the action
// coordinator is its only client.
package mainthread

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/zjrosen/axd/internal/axerr"
)

type job struct {
	fn   func()
	done chan struct{}
}

// Loop is a bounded job channel whose consumer is locked to one OS thread.
type Loop struct {
	jobs      chan job
	quit      chan struct{}
	closeOnce sync.Once
}

// NewLoop starts the loop. buffer bounds how many jobs may queue before
// Submit blocks.
func NewLoop(buffer int) *Loop {
	if buffer <= 0 {
		buffer = 16
	}
	l := &Loop{
		jobs: make(chan job, buffer),
		quit: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	// The consumer goroutine is pinned for its entire life; every shim
	// call the coordinator dispatches lands on this one thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case j := <-l.jobs:
			j.fn()
			close(j.done)
		case <-l.quit:
			// Drain what was already queued so submitted jobs always
			// complete or observe shutdown, never hang.
			for {
				select {
				case j := <-l.jobs:
					j.fn()
					close(j.done)
				default:
					return
				}
			}
		}
	}
}

// Do runs fn on the loop thread and waits for completion or ctx expiry.
// The OS lacks call cancellation: when ctx expires after fn has started,
// Do returns DeadlineExceeded but fn still runs to completion; the caller
// discards the result.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	j := job{fn: fn, done: make(chan struct{})}

	select {
	case l.jobs <- j:
	case <-ctx.Done():
		return axerr.DeadlineExceeded("ui thread queue full past deadline")
	case <-l.quit:
		return axerr.Unavailable("ui thread loop is shut down")
	}

	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return axerr.DeadlineExceeded("os call exceeded its deadline")
	case <-l.quit:
		// Shutdown drain should still complete the job; give it a bounded
		// grace period so callers never hang on a dead loop.
		select {
		case <-j.done:
			return nil
		case <-ctx.Done():
			return axerr.DeadlineExceeded("os call exceeded its deadline")
		case <-time.After(100 * time.Millisecond):
			return axerr.Unavailable("ui thread loop is shut down")
		}
	}
}

// Close stops the loop after draining queued jobs.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		close(l.quit)
	})
}
