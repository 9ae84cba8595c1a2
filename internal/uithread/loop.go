// Package uithread provides the single goroutine that owns all shell state.
//
// Every mutation of transfer state, the picker continuation table and the
// engine handle's delivered signals happens inside a task run by Loop.
// Background work (engine launch, file copies) runs on goroutines started
// with Go and reports back with Post.
package uithread

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned by Call once the loop no longer runs tasks.
var ErrStopped = errors.New("ui loop stopped")

// Poster schedules work on the UI goroutine.
type Poster interface {
	Post(task func()) bool
}

// Loop is a serial task queue drained by one goroutine. Post never blocks.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
	done    chan struct{}
	workers sync.WaitGroup
}

// New creates a loop. Tasks run once Run is called.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post enqueues task. It reports false if the loop has stopped, in which
// case task never runs.
func (l *Loop) Post(task func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for it to return.
func (l *Loop) Call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if !l.Post(func() { result <- fn() }) {
		return ErrStopped
	}
	select {
	case err := <-result:
		return err
	case <-l.done:
		// The task may have run just before shutdown.
		select {
		case err := <-result:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go runs fn on a new background goroutine. Run does not return until
// every such goroutine has finished.
func (l *Loop) Go(fn func()) {
	l.workers.Add(1)
	go func() {
		defer l.workers.Done()
		fn()
	}()
}

// Run drains tasks until ctx is cancelled or Stop is called. Tasks queued at
// that point are dropped; background goroutines are awaited.
func (l *Loop) Run(ctx context.Context) error {
	defer l.workers.Wait()
	defer close(l.done)
	defer l.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			if l.stopped {
				l.mu.Unlock()
				return nil
			}
			if len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			task := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()

			task()
		}
	}
}

// Stop makes Run return after the current task. Safe to call repeatedly.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	l.queue = nil
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed once the loop has stopped running tasks.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
