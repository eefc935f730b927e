// Package retry decorates a transport.Transport with bounded exponential
// backoff for errors marked transient by the backends.
package retry

import (
	"context"
	"fmt"
	"io"
	"time"

	"pkt.systems/dss/internal/clock"
	"pkt.systems/dss/internal/transport"
	"pkt.systems/pslog"
)

// Config controls retry behaviour.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// Wrap returns a transport that retries transient errors according to cfg.
func Wrap(inner transport.Transport, logger pslog.Logger, clk clock.Clock, cfg Config) transport.Transport {
	if inner == nil {
		return nil
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 50 * time.Millisecond
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 2 * time.Second
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &retrying{
		inner:  inner,
		logger: logger,
		clock:  clk,
		cfg:    cfg,
	}
}

type retrying struct {
	inner  transport.Transport
	logger pslog.Logger
	clock  clock.Clock
	cfg    Config
}

func (r *retrying) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, transport.ObjectInfo, error) {
	var (
		body io.ReadCloser
		info transport.ObjectInfo
	)
	err := r.withRetry(ctx, "get_object", bucket, key, func(ctx context.Context) error {
		var err error
		body, info, err = r.inner.GetObject(ctx, bucket, key)
		return err
	})
	return body, info, err
}

// PutObject can only be retried when the body can be replayed, so
// non-seekable bodies are attempted exactly once.
func (r *retrying) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64) (transport.ObjectInfo, error) {
	seeker, ok := body.(io.Seeker)
	if !ok {
		return r.inner.PutObject(ctx, bucket, key, body, size)
	}
	start, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return r.inner.PutObject(ctx, bucket, key, body, size)
	}
	var info transport.ObjectInfo
	attempt := 0
	err = r.withRetry(ctx, "put_object", bucket, key, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			if _, err := seeker.Seek(start, io.SeekStart); err != nil {
				return fmt.Errorf("retry: rewind body: %w", err)
			}
		}
		var err error
		info, err = r.inner.PutObject(ctx, bucket, key, body, size)
		return err
	})
	return info, err
}

func (r *retrying) DeleteObject(ctx context.Context, bucket, key string) error {
	return r.withRetry(ctx, "delete_object", bucket, key, func(ctx context.Context) error {
		return r.inner.DeleteObject(ctx, bucket, key)
	})
}

func (r *retrying) HeadBucket(ctx context.Context, bucket string) error {
	return r.withRetry(ctx, "head_bucket", bucket, "", func(ctx context.Context) error {
		return r.inner.HeadBucket(ctx, bucket)
	})
}

func (r *retrying) CreateBucket(ctx context.Context, bucket string) error {
	return r.withRetry(ctx, "create_bucket", bucket, "", func(ctx context.Context) error {
		return r.inner.CreateBucket(ctx, bucket)
	})
}

func (r *retrying) DeleteBucket(ctx context.Context, bucket string) error {
	return r.withRetry(ctx, "delete_bucket", bucket, "", func(ctx context.Context) error {
		return r.inner.DeleteBucket(ctx, bucket)
	})
}

func (r *retrying) ListObjects(ctx context.Context, bucket string, in transport.ListInput) (*transport.ListOutput, error) {
	var out *transport.ListOutput
	err := r.withRetry(ctx, "list_objects", bucket, in.Prefix, func(ctx context.Context) error {
		var err error
		out, err = r.inner.ListObjects(ctx, bucket, in)
		return err
	})
	return out, err
}

func (r *retrying) Close() error {
	return r.inner.Close()
}

func (r *retrying) withRetry(ctx context.Context, op, bucket, key string, fn func(context.Context) error) error {
	attempts := r.cfg.MaxAttempts
	delay := r.cfg.BaseDelay
	if attempts <= 1 {
		return fn(ctx)
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !transport.IsTransient(err) || attempt == attempts {
			return err
		}
		r.logger.Warn("transport.retry",
			"operation", op,
			"bucket", bucket,
			"key", key,
			"attempt", attempt,
			"max_attempts", attempts,
			"delay", delay,
			"error", err,
		)
		if err := r.clock.Sleep(ctx, delay); err != nil {
			return err
		}
		next := time.Duration(float64(delay) * r.cfg.Multiplier)
		if r.cfg.MaxDelay > 0 && next > r.cfg.MaxDelay {
			next = r.cfg.MaxDelay
		}
		delay = next
	}
	return lastErr
}
