// Package workpool runs submitted jobs on a fixed set of goroutines fed by a
// bounded queue.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"pkt.systems/dss/internal/logutil"
	"pkt.systems/pslog"
)

var (
	// ErrClosed is returned by Submit after Close has been called.
	ErrClosed = errors.New("workpool: closed")
	// ErrSaturated is returned by Submit when the queue is full.
	ErrSaturated = errors.New("workpool: queue full")
)

// Job is a unit of work. ctx is cancelled when Close gives up waiting.
type Job func(ctx context.Context)

// Pool is a bounded worker pool. The zero value is not usable.
type Pool struct {
	jobs   chan Job
	ctx    context.Context
	cancel context.CancelFunc
	logger pslog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	pending atomic.Int64
	panics  atomic.Int64
}

// New starts workers goroutines behind a queue of queueSize jobs.
func New(workers, queueSize int, logger pslog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		jobs:   make(chan Job, queueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logutil.WithSubsystem(logger, "dss.workpool"),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	p.logger.Debug("workpool.start", "workers", workers, "queue", queueSize)
	return p
}

// Submit enqueues job without blocking.
func (p *Pool) Submit(job Job) error {
	if job == nil {
		return fmt.Errorf("workpool: nil job")
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	p.pending.Add(1)
	select {
	case p.jobs <- job:
		return nil
	default:
		p.pending.Add(-1)
		return ErrSaturated
	}
}

// Pending reports queued plus running jobs.
func (p *Pool) Pending() int64 { return p.pending.Load() }

// Panics reports how many jobs panicked.
func (p *Pool) Panics() int64 { return p.panics.Load() }

// Close stops accepting jobs and waits for queued jobs to finish. When ctx
// ends first, running jobs see their context cancelled and Close returns
// ctx.Err() without waiting further.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		p.logger.Debug("workpool.closed")
		return nil
	case <-ctx.Done():
		p.cancel()
		p.logger.Warn("workpool.close.abandoned", "pending", p.pending.Load(), "error", ctx.Err())
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(job)
	}
}

func (p *Pool) run(job Job) {
	defer p.pending.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.logger.Error("workpool.job.panic", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	job(p.ctx)
}
