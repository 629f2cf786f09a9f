// Package worker runs background tasks on a fixed set of goroutines fed by
// a bounded queue
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/metrics"
)

var (
	// ErrQueueFull is returned by Submit when no queue slot is free
	ErrQueueFull = errors.New("worker queue is full")
	// ErrStopped is returned by Submit after Stop
	ErrStopped = errors.New("worker pool is stopped")
)

// Task is a submitted unit of work whose completion can be observed
type Task struct {
	Name string
	fn   func(context.Context) error
	done chan struct{}
	err  error
}

// Done is closed once the task has run
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finished or ctx is done and returns the task's error
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pool is a fixed-size worker pool
type Pool struct {
	queue   chan *Task
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
	pending atomic.Int64
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

// NewPool starts workers goroutines draining a queue of queueSize tasks
func NewPool(workers, queueSize int, logger *logrus.Logger, m *metrics.Metrics) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:   make(chan *Task, queueSize),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
		metrics: m,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit queues fn without blocking
func (p *Pool) Submit(name string, fn func(context.Context) error) (*Task, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return nil, ErrStopped
	}

	t := &Task{Name: name, fn: fn, done: make(chan struct{})}
	select {
	case p.queue <- t:
		p.pending.Add(1)
		return t, nil
	default:
		p.metrics.PoolTask("rejected")
		return nil, ErrQueueFull
	}
}

// Pending returns the number of queued or running tasks
func (p *Pool) Pending() int {
	return int(p.pending.Load())
}

// Stop refuses new tasks and waits for queued ones to finish. If ctx ends
// first, running tasks are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.queue)
	}
	p.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-finished
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.queue {
		p.run(t)
	}
}

func (p *Pool) run(t *Task) {
	defer func() {
		if r := recover(); r != nil {
			t.err = fmt.Errorf("task %s panicked: %v", t.Name, r)
		}
		if t.err != nil {
			p.metrics.PoolTask("error")
			p.logger.WithError(t.err).WithField("task", t.Name).Warn("Background task failed")
		} else {
			p.metrics.PoolTask("ok")
		}
		p.pending.Add(-1)
		close(t.done)
	}()
	t.err = t.fn(p.ctx)
}
