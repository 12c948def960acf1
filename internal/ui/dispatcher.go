package ui

import (
	"context"
	"sync"
)

// Dispatcher is the UI thread: posted functions run one at a time, in
// order, on the goroutine that called Run. Post never blocks and the queue
// has no depth limit.
type Dispatcher struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		wake: make(chan struct{}, 1),
	}
}

// Post queues fn. It reports false once the dispatcher has stopped.
func (d *Dispatcher) Post(fn func()) bool {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

// Run executes posted functions until ctx is done. Work already queued
// when ctx ends is still executed.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		d.drain()

		select {
		case <-ctx.Done():
			d.mu.Lock()
			d.stopped = true
			d.mu.Unlock()
			d.drain()
			return
		case <-d.wake:
		}
	}
}

// Call runs fn on the UI thread and waits for it to finish.
func (d *Dispatcher) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !d.Post(func() {
		defer close(done)
		fn()
	}) {
		return context.Canceled
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) drain() {
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			fn()
		}
	}
}
