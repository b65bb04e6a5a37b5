// Package syncx provides the invalidate-sync primitive: a single-resource
// refresh controller that serializes fetches, coalesces bursts of
// invalidations into one trailing refetch, and never drops an invalidation
// that arrives mid-flight.
package syncx

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var ErrDisposed = errors.New("syncx: controller disposed")

// Fetch is the refresh callback. It may block on I/O; the controller
// guarantees at most one invocation is running per controller at any time.
// Errors and panics are logged and absorbed: the controller stays usable.
type Fetch func(ctx context.Context) error

type waiter struct {
	need uint64 // completion of a fetch with start id >= need releases it
	ch   chan error
}

type Controller struct {
	name   string
	fetch  Fetch
	logger *zap.Logger

	mu       sync.Mutex
	dirty    bool
	inflight bool
	disposed bool
	startSeq uint64 // id handed to each fetch as it starts
	waiters  []waiter
	subs     map[int]chan struct{}
	nextSub  int
}

func NewController(name string, fetch Fetch, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		name:   name,
		fetch:  fetch,
		logger: logger,
		subs:   make(map[int]chan struct{}),
	}
}

// Invalidate marks the resource dirty. If no fetch is running one starts now;
// otherwise exactly one more runs after the current fetch finishes, no matter
// how many invalidations pile up meanwhile.
func (c *Controller) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.dirty = true
	c.kickLocked()
}

// InvalidateAndAwait blocks until a fetch that started at or after this call
// has completed. It never resolves against a fetch that was already in
// flight, so the observed state reflects at least this invalidation.
func (c *Controller) InvalidateAndAwait(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	c.dirty = true
	w := waiter{need: c.startSeq + 1, ch: make(chan error, 1)}
	c.waiters = append(c.waiters, w)
	c.kickLocked()
	c.mu.Unlock()

	select {
	case err := <-w.ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AwaitQueue resolves once any currently queued or running fetch completes.
// Resolves immediately when the controller is idle and clean.
func (c *Controller) AwaitQueue(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	if !c.inflight && !c.dirty {
		c.mu.Unlock()
		return nil
	}
	w := waiter{need: 0, ch: make(chan error, 1)}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()

	select {
	case err := <-w.ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispose cancels any pending refetch intent. An in-flight fetch completes
// but cannot schedule a successor. All waiters are released.
func (c *Controller) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.disposed = true
	c.dirty = false
	for _, w := range c.waiters {
		w.ch <- ErrDisposed
	}
	c.waiters = nil
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
}

// Subscribe registers an observer notified (non-blocking, coalescing) after
// every completed fetch. Unsubscribe with the returned id is deterministic:
// after it returns, the channel is closed and receives nothing further.
func (c *Controller) Subscribe() (<-chan struct{}, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan struct{}, 1)
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	return ch, id
}

func (c *Controller) Unsubscribe(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.subs[id]; ok {
		close(ch)
		delete(c.subs, id)
	}
}

// kickLocked starts the runner when the resource is dirty and nothing is in
// flight. Caller holds c.mu.
func (c *Controller) kickLocked() {
	if c.inflight || !c.dirty {
		return
	}
	c.inflight = true
	go c.run()
}

func (c *Controller) run() {
	for {
		c.mu.Lock()
		if c.disposed || !c.dirty {
			c.inflight = false
			c.mu.Unlock()
			return
		}
		c.dirty = false
		c.startSeq++
		started := c.startSeq
		c.mu.Unlock()

		c.safeFetch()

		c.mu.Lock()
		var keep []waiter
		for _, w := range c.waiters {
			if w.need <= started {
				w.ch <- nil
			} else {
				keep = append(keep, w)
			}
		}
		c.waiters = keep
		for _, ch := range c.subs {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
		c.mu.Unlock()
	}
}

func (c *Controller) safeFetch() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("syncx: fetch panicked",
				zap.String("resource", c.name), zap.Any("panic", r))
		}
	}()
	if err := c.fetch(context.Background()); err != nil {
		c.logger.Warn("syncx: fetch failed",
			zap.String("resource", c.name), zap.Error(err))
	}
}
