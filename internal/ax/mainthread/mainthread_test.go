package mainthread

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/axd/internal/axerr"
)

func TestLoop_RunsJobs(t *testing.T) {
	l := NewLoop(4)
	defer l.Close()

	ran := false
	require.NoError(t, l.Do(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestLoop_SerializesOnOneGoroutine(t *testing.T) {
	l := NewLoop(4)
	defer l.Close()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	// Submit from many goroutines; each job appends under no lock except
	// the test's. If two jobs ran concurrently the race detector would
	// flag the counter below.
	counter := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = l.Do(context.Background(), func() {
				counter++
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
			})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, counter)
	assert.Len(t, order, 20)
}

func TestLoop_DeadlineWhileRunning(t *testing.T) {
	l := NewLoop(1)
	defer l.Close()

	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = l.Do(context.Background(), func() {
			close(started)
			<-release
		})
	}()
	<-started

	// The loop thread is busy; this job cannot start before the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Do(ctx, func() {})
	require.Error(t, err)
	assert.Equal(t, axerr.KindDeadlineExceeded, axerr.KindOf(err))

	close(release)
}

func TestLoop_CloseDrainsQueued(t *testing.T) {
	l := NewLoop(8)

	done := make(chan struct{})
	require.NoError(t, l.Do(context.Background(), func() {}))
	go func() {
		_ = l.Do(context.Background(), func() {})
		close(done)
	}()

	l.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		// Submission may have raced shutdown and been refused; either way
		// the caller must not hang forever.
	}
}

func TestLoop_DoAfterClose(t *testing.T) {
	l := NewLoop(1)
	l.Close()
	// Give the drain a moment.
	time.Sleep(10 * time.Millisecond)

	err := l.Do(context.Background(), func() {})
	if err != nil {
		assert.Equal(t, axerr.KindUnavailable, axerr.KindOf(err))
	}
}
