package syncx

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// blockingFetch counts invocations and holds each fetch until released.
type blockingFetch struct {
	calls   atomic.Int64
	started chan struct{}
	release chan struct{}
}

func newBlockingFetch() *blockingFetch {
	return &blockingFetch{
		started: make(chan struct{}, 64),
		release: make(chan struct{}),
	}
}

func (f *blockingFetch) fetch(ctx context.Context) error {
	f.calls.Add(1)
	f.started <- struct{}{}
	<-f.release
	return nil
}

func waitCalls(t *testing.T, f *blockingFetch, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for f.calls.Load() != want {
		if time.Now().After(deadline) {
			t.Fatalf("calls = %d, want %d", f.calls.Load(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBurstCoalescesToOneTrailingFetch(t *testing.T) {
	f := newBlockingFetch()
	c := NewController("sessions", f.fetch, zap.NewNop())

	c.Invalidate()
	<-f.started // first fetch running

	for i := 0; i < 50; i++ {
		c.Invalidate()
	}
	close(f.release) // let everything run

	// first fetch plus exactly one trailing refetch
	waitCalls(t, f, 2)
	require.NoError(t, c.AwaitQueue(context.Background()))
	assert.Equal(t, int64(2), f.calls.Load())
}

func TestInvalidateWhenIdleFetchesOnce(t *testing.T) {
	var calls atomic.Int64
	c := NewController("settings", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, zap.NewNop())

	require.NoError(t, c.InvalidateAndAwait(context.Background()))
	assert.Equal(t, int64(1), calls.Load())
}

func TestInvalidateAndAwaitNeverResolvesAgainstStaleFetch(t *testing.T) {
	f := newBlockingFetch()
	c := NewController("profile", f.fetch, zap.NewNop())

	c.Invalidate()
	<-f.started // stale fetch is in flight

	done := make(chan error, 1)
	go func() { done <- c.InvalidateAndAwait(context.Background()) }()

	// releasing only the stale fetch must not resolve the await
	f.release <- struct{}{}
	select {
	case <-done:
		t.Fatal("await resolved against a fetch that started before the call")
	case <-time.After(50 * time.Millisecond):
	}

	<-f.started // trailing fetch started
	f.release <- struct{}{}
	require.NoError(t, <-done)
	assert.Equal(t, int64(2), f.calls.Load())
}

func TestAwaitQueueIdleResolvesImmediately(t *testing.T) {
	c := NewController("feed", func(ctx context.Context) error { return nil }, zap.NewNop())
	require.NoError(t, c.AwaitQueue(context.Background()))
}

func TestFetchErrorDoesNotPoisonController(t *testing.T) {
	var calls atomic.Int64
	c := NewController("todos", func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("boom")
		}
		return nil
	}, zap.NewNop())

	require.NoError(t, c.InvalidateAndAwait(context.Background()))
	require.NoError(t, c.InvalidateAndAwait(context.Background()))
	assert.Equal(t, int64(2), calls.Load())
}

func TestFetchPanicIsAbsorbed(t *testing.T) {
	var calls atomic.Int64
	c := NewController("friends", func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			panic("fetch exploded")
		}
		return nil
	}, zap.NewNop())

	require.NoError(t, c.InvalidateAndAwait(context.Background()))
	require.NoError(t, c.InvalidateAndAwait(context.Background()))
	assert.Equal(t, int64(2), calls.Load())
}

func TestDisposeCancelsPendingRefetch(t *testing.T) {
	f := newBlockingFetch()
	c := NewController("machines", f.fetch, zap.NewNop())

	c.Invalidate()
	<-f.started
	c.Invalidate() // queued trailing refetch
	c.Dispose()
	close(f.release) // in-flight fetch completes

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), f.calls.Load(), "disposed controller ran the queued refetch")

	c.Invalidate() // no-op after dispose
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), f.calls.Load())
}

func TestDisposeReleasesWaiters(t *testing.T) {
	f := newBlockingFetch()
	c := NewController("artifacts", f.fetch, zap.NewNop())
	c.Invalidate()
	<-f.started

	done := make(chan error, 1)
	go func() { done <- c.InvalidateAndAwait(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	c.Dispose()

	assert.ErrorIs(t, <-done, ErrDisposed)
	close(f.release)
}

func TestInvalidateAndAwaitAfterDispose(t *testing.T) {
	c := NewController("purchases", func(ctx context.Context) error { return nil }, zap.NewNop())
	c.Dispose()
	assert.ErrorIs(t, c.InvalidateAndAwait(context.Background()), ErrDisposed)
	assert.ErrorIs(t, c.AwaitQueue(context.Background()), ErrDisposed)
}

func TestSubscribeNotifiesAfterFetch(t *testing.T) {
	c := NewController("sessions", func(ctx context.Context) error { return nil }, zap.NewNop())
	ch, id := c.Subscribe()
	require.NoError(t, c.InvalidateAndAwait(context.Background()))
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("subscriber not notified")
	}
	c.Unsubscribe(id)
	if _, open := <-ch; open {
		// a buffered notification may still be pending; the channel must be
		// closed right after
		_, open = <-ch
		assert.False(t, open)
	}
}

func TestSerializedFetches(t *testing.T) {
	var running atomic.Int64
	var maxSeen atomic.Int64
	c := NewController("messages", func(ctx context.Context) error {
		n := running.Add(1)
		if n > maxSeen.Load() {
			maxSeen.Store(n)
		}
		time.Sleep(2 * time.Millisecond)
		running.Add(-1)
		return nil
	}, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.InvalidateAndAwait(context.Background())
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), maxSeen.Load(), "fetches overlapped")
}
