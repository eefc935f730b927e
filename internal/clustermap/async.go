package clustermap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"pkt.systems/dss/internal/correlation"
	"pkt.systems/dss/internal/dsserr"
	"pkt.systems/dss/internal/workpool"
)

// Status is the outcome reported to async completion handlers.
type Status int

const (
	StatusSucceeded Status = iota
	StatusFailed
)

func (s Status) String() string {
	if s == StatusSucceeded {
		return "succeeded"
	}
	return "failed"
}

// Completion describes a finished async request.
type Completion struct {
	Arg    any
	Key    string
	Path   string
	Status Status
	Err    error
	// Data holds the object bytes for a get without a local path.
	Data []byte
	Size int64
}

// Callback receives exactly one Completion per accepted async request,
// whether it succeeded or failed. Callbacks run on pool workers,
// concurrently and in no particular order.
type Callback func(Completion)

// Future resolves once when an async request completes. The callback, when
// present, has returned by the time the Future resolves.
type Future struct {
	done chan struct{}
	c    Completion
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Done is closed when the request completes.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until completion or ctx ends. The returned error is the
// request's own failure, or ctx.Err().
func (f *Future) Wait(ctx context.Context) (Completion, error) {
	select {
	case <-f.done:
		return f.c, f.c.Err
	case <-ctx.Done():
		return Completion{}, ctx.Err()
	}
}

// DispatchAsync routes req and runs op on the worker pool, returning
// immediately. Only get and put are supported. The job runs under the pool's
// context, so cancelling ctx after submission does not abort it.
func (m *ClusterMap) DispatchAsync(ctx context.Context, op Op, req *Request) (*Future, error) {
	opName := op.String() + "_async"
	if op != OpGet && op != OpPut {
		return nil, dsserr.New(dsserr.ErrGeneric, opName, "only get and put can run asynchronously")
	}
	if m.opts.Pool == nil {
		return nil, dsserr.New(dsserr.ErrGeneric, opName, "no worker pool configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, dsserr.Wrap(dsserr.ErrGeneric, opName, "", err)
	}
	c, err := m.Route(req)
	if err != nil {
		return nil, err
	}
	ep := c.ResolveEndpoint(req.weight)
	_, cid := correlation.Ensure(ctx, req.ID())
	future := newFuture()
	m.opts.Metrics.AsyncStarted()
	err = m.opts.Pool.Submit(func(jobCtx context.Context) {
		m.runAsync(correlation.WithID(jobCtx, cid), op, c, ep, req, future)
	})
	if err != nil {
		m.opts.Metrics.AsyncDone()
		msg := "submit failed"
		switch {
		case errors.Is(err, workpool.ErrClosed):
			msg = "worker pool closed"
		case errors.Is(err, workpool.ErrSaturated):
			msg = "worker pool saturated"
		}
		return nil, dsserr.Wrap(dsserr.ErrGeneric, opName, msg, err)
	}
	m.logger.Trace("clustermap.dispatch_async.submitted", "cid", cid, "op", op.String(), "key", req.key, "cluster", c.id)
	return future, nil
}

func (m *ClusterMap) runAsync(ctx context.Context, op Op, c *Cluster, ep *Endpoint, req *Request, future *Future) {
	completion := m.execute(ctx, op, c, ep, req)
	m.deliver(req, completion)
	future.c = completion
	close(future.done)
	m.opts.Metrics.AsyncDone()
}

func (m *ClusterMap) execute(ctx context.Context, op Op, c *Cluster, ep *Endpoint, req *Request) (completion Completion) {
	start := time.Now()
	completion = Completion{Arg: req.Arg, Key: req.key, Path: req.path, Status: StatusFailed}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("clustermap.dispatch_async.panic", "cid", correlation.ID(ctx), "key", req.key, "panic", fmt.Sprint(r))
			completion.Status = StatusFailed
			completion.Data = nil
			completion.Err = dsserr.New(dsserr.ErrGeneric, op.String(), fmt.Sprintf("async job panicked: %v", r))
		}
	}()

	res, err := m.perform(ctx, op, c, ep, req)
	if err == nil && res.Body != nil {
		completion.Data, err = io.ReadAll(res.Body)
		_ = res.Body.Close()
		if err != nil {
			err = dsserr.FromTransport(op.String(), err)
		}
		res.Size = int64(len(completion.Data))
	}
	m.opts.Metrics.ObserveRequest(op.String(), c.id, err, time.Since(start))
	if err != nil {
		completion.Err = err
		completion.Data = nil
		m.logger.Error("clustermap.dispatch_async.error",
			"cid", correlation.ID(ctx),
			"op", op.String(),
			"key", req.key,
			"cluster", c.id,
			"endpoint", ep.Address(),
			"error", err,
		)
		return completion
	}
	completion.Status = StatusSucceeded
	completion.Size = res.Size
	m.logger.Trace("clustermap.dispatch_async.success", "cid", correlation.ID(ctx), "op", op.String(), "key", req.key, "elapsed", time.Since(start))
	return completion
}

func (m *ClusterMap) deliver(req *Request, completion Completion) {
	if req.Callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("clustermap.dispatch_async.callback_panic", "req", req.ID(), "key", req.key, "panic", fmt.Sprint(r))
		}
	}()
	req.Callback(completion)
}
