// Package logging decorates a transport.Transport with an OpenTelemetry span
// and structured debug logging per call.
package logging

import (
	"context"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pkt.systems/dss/internal/correlation"
	"pkt.systems/dss/internal/transport"
	"pkt.systems/pslog"
)

type traced struct {
	inner   transport.Transport
	logger  pslog.Logger
	tracer  trace.Tracer
	address string
}

// Wrap decorates inner with tracing and debug logging. address identifies the
// node in spans and log lines.
func Wrap(inner transport.Transport, logger pslog.Logger, address string) transport.Transport {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &traced{
		inner:   inner,
		logger:  logger,
		tracer:  otel.Tracer("pkt.systems/dss/transport"),
		address: address,
	}
}

func (t *traced) start(ctx context.Context, op, bucket, key string) (context.Context, trace.Span, func(error)) {
	begin := time.Now()
	ctx, span := t.tracer.Start(ctx, "dss.transport."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("dss.transport.operation", op),
		attribute.String("dss.endpoint", t.address),
		attribute.String("dss.bucket", bucket),
	)
	if key != "" {
		span.SetAttributes(attribute.String("dss.key", key))
	}
	cid := correlation.ID(ctx)
	if cid != "" {
		span.SetAttributes(attribute.String("dss.correlation_id", cid))
	}
	t.logger.Trace("transport."+op+".begin", "cid", cid, "bucket", bucket, "key", key)
	return ctx, span, func(err error) {
		elapsed := time.Since(begin)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "transport_error")
			t.logger.Debug("transport."+op+".error", "cid", cid, "bucket", bucket, "key", key, "error", err, "elapsed", elapsed)
		} else {
			span.SetStatus(codes.Ok, "")
			t.logger.Debug("transport."+op+".success", "cid", cid, "bucket", bucket, "key", key, "elapsed", elapsed)
		}
		span.AddEvent("dss.transport.end", trace.WithAttributes(
			attribute.Int64("dss.transport.duration_ms", elapsed.Milliseconds()),
		))
	}
}

func (t *traced) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, transport.ObjectInfo, error) {
	ctx, span, finish := t.start(ctx, "get_object", bucket, key)
	defer span.End()
	body, info, err := t.inner.GetObject(ctx, bucket, key)
	if err == nil {
		span.SetAttributes(attribute.Int64("dss.object.size", info.Size))
	}
	finish(err)
	return body, info, err
}

func (t *traced) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64) (transport.ObjectInfo, error) {
	ctx, span, finish := t.start(ctx, "put_object", bucket, key)
	defer span.End()
	span.SetAttributes(attribute.Int64("dss.object.size", size))
	info, err := t.inner.PutObject(ctx, bucket, key, body, size)
	finish(err)
	return info, err
}

func (t *traced) DeleteObject(ctx context.Context, bucket, key string) error {
	ctx, span, finish := t.start(ctx, "delete_object", bucket, key)
	defer span.End()
	err := t.inner.DeleteObject(ctx, bucket, key)
	finish(err)
	return err
}

func (t *traced) HeadBucket(ctx context.Context, bucket string) error {
	ctx, span, finish := t.start(ctx, "head_bucket", bucket, "")
	defer span.End()
	err := t.inner.HeadBucket(ctx, bucket)
	finish(err)
	return err
}

func (t *traced) CreateBucket(ctx context.Context, bucket string) error {
	ctx, span, finish := t.start(ctx, "create_bucket", bucket, "")
	defer span.End()
	err := t.inner.CreateBucket(ctx, bucket)
	finish(err)
	return err
}

func (t *traced) DeleteBucket(ctx context.Context, bucket string) error {
	ctx, span, finish := t.start(ctx, "delete_bucket", bucket, "")
	defer span.End()
	err := t.inner.DeleteBucket(ctx, bucket)
	finish(err)
	return err
}

func (t *traced) ListObjects(ctx context.Context, bucket string, in transport.ListInput) (*transport.ListOutput, error) {
	ctx, span, finish := t.start(ctx, "list_objects", bucket, in.Prefix)
	defer span.End()
	span.SetAttributes(
		attribute.Int("dss.list.max_keys", in.MaxKeys),
		attribute.Bool("dss.list.continued", in.ContinuationToken != ""),
	)
	out, err := t.inner.ListObjects(ctx, bucket, in)
	if err == nil && out != nil {
		span.SetAttributes(
			attribute.Int("dss.list.keys", len(out.Keys)),
			attribute.Bool("dss.list.truncated", out.IsTruncated),
		)
	}
	finish(err)
	return out, err
}

func (t *traced) Close() error {
	return t.inner.Close()
}
