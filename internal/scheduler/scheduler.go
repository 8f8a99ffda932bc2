// Package scheduler serializes work per market key.
//
// Pricing reads pool and order-book state before the settlement transaction
// opens. Two trades on the same pool must therefore not interleave: each
// key owns a FIFO queue drained by a single goroutine, and different keys
// run in parallel.
package scheduler

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("scheduler: closed")

// Key identifies a serialization domain. AnswerID is empty for binary and
// sum-to-one markets, where every trade can move every pool.
type Key struct {
	ContractID string
	AnswerID   string
}

// Observer is notified when a key's queue depth changes.
type Observer func(key Key, depth int)

type job struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

type queue struct {
	jobs []*job
}

// Scheduler runs functions in submission order per key.
type Scheduler struct {
	mu       sync.Mutex
	queues   map[Key]*queue
	closed   bool
	wg       sync.WaitGroup
	observer Observer
}

// New creates a scheduler. observer may be nil.
func New(observer Observer) *Scheduler {
	return &Scheduler{
		queues:   make(map[Key]*queue),
		observer: observer,
	}
}

// Enqueue runs fn once every function enqueued earlier for key has returned,
// and returns fn's error. If ctx is done before fn's turn, fn is dropped and
// ctx.Err() is returned. fn receives ctx.
func (s *Scheduler) Enqueue(ctx context.Context, key Key, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	j := &job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	q, active := s.queues[key]
	if !active {
		q = &queue{}
		s.queues[key] = q
	}
	q.jobs = append(q.jobs, j)
	s.notify(key, len(q.jobs))
	if !active {
		s.wg.Add(1)
		go s.drain(key, q)
	}
	s.mu.Unlock()

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		if s.remove(key, j) {
			return ctx.Err()
		}
		// Already running; its result is authoritative.
		return <-j.done
	}
}

// Depth returns the number of queued or running functions for key.
func (s *Scheduler) Depth(key Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queues[key]; ok {
		return len(q.jobs)
	}
	return 0
}

// Close rejects further work and waits until every queue has drained.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) drain(key Key, q *queue) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(q.jobs) == 0 {
			delete(s.queues, key)
			s.notify(key, 0)
			s.mu.Unlock()
			return
		}
		j := q.jobs[0]
		s.mu.Unlock()

		if err := j.ctx.Err(); err != nil {
			j.done <- err
		} else {
			j.done <- run(j)
		}

		s.mu.Lock()
		q.jobs = q.jobs[1:]
		s.notify(key, len(q.jobs))
		s.mu.Unlock()
	}
}

func run(j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return j.fn(j.ctx)
}

// remove drops j from key's queue if it has not started. The head of the
// queue is the running job and is never removed here.
func (s *Scheduler) remove(key Key, j *job) bool {
	s.mu.Lock()
	q, ok := s.queues[key]
	if !ok {
		s.mu.Unlock()
		return false
	}
	for i := 1; i < len(q.jobs); i++ {
		if q.jobs[i] == j {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			s.notify(key, len(q.jobs))
			s.mu.Unlock()
			return true
		}
	}
	s.mu.Unlock()
	return false
}

// notify must be called with s.mu held so depth updates arrive in order.
func (s *Scheduler) notify(key Key, depth int) {
	if s.observer != nil {
		s.observer(key, depth)
	}
}

// PanicError wraps a value recovered from a panicking function so that one
// bad trade cannot stop its key's queue.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return "scheduler: function panicked"
}
