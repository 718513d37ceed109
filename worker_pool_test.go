package mvstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerPoolRunsTasks(t *testing.T) {
	wp := newWorkerPool(2)
	defer wp.Close()

	var ran atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		err := wp.Submit(context.Background(), func() {
			ran.Add(1)
			wg.Done()
		})
		require.NoError(t, err)
	}
	wg.Wait()

	require.Equal(t, int64(20), ran.Load())
	require.Equal(t, int64(0), wp.Depth())
}

func TestWorkerPoolCloseDrainsQueue(t *testing.T) {
	wp := newWorkerPool(1)

	var ran atomic.Int64
	block := make(chan struct{})
	require.NoError(t, wp.Submit(context.Background(), func() {
		<-block
		ran.Add(1)
	}))
	// Queue more while the single worker is blocked.
	for i := 0; i < 2; i++ {
		require.NoError(t, wp.Submit(context.Background(), func() { ran.Add(1) }))
	}

	done := make(chan struct{})
	go func() {
		wp.Close()
		close(done)
	}()
	close(block)
	<-done

	require.Equal(t, int64(3), ran.Load())
}

func TestWorkerPoolSubmitAfterClose(t *testing.T) {
	wp := newWorkerPool(1)
	wp.Close()

	err := wp.Submit(context.Background(), func() {})
	require.ErrorIs(t, err, ErrPoolClosed)
}

func TestWorkerPoolSubmitHonorsContext(t *testing.T) {
	wp := newWorkerPool(1)
	defer wp.Close()

	block := make(chan struct{})
	defer close(block)
	// Saturate the worker and the buffer.
	require.NoError(t, wp.Submit(context.Background(), func() { <-block }))
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		err := wp.Submit(ctx, func() { <-block })
		cancel()
		if err != nil {
			require.ErrorIs(t, err, context.DeadlineExceeded)
			break
		}
	}
}

func TestWorkerPoolCloseIsIdempotent(t *testing.T) {
	wp := newWorkerPool(1)
	wp.Close()
	wp.Close()
}
