// Package s3 implements transport.Transport on top of minio-go.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"pkt.systems/dss/internal/transport"
	"pkt.systems/pslog"
)

const defaultRegion = "us-east-1"

// Transport is a minio-go session against one storage node.
type Transport struct {
	client  *minio.Client
	core    *minio.Core
	address string
	timeout time.Duration
	logger  pslog.Logger
}

// New constructs a Transport for opts.Address.
func New(opts transport.Options) (*Transport, error) {
	if opts.Address == "" {
		return nil, fmt.Errorf("s3: address is required")
	}
	region := opts.Region
	if region == "" {
		region = defaultRegion
	}
	options := &minio.Options{
		Creds:        credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure:       opts.Secure,
		Region:       region,
		Transport:    transport.HTTPTransport(opts),
		BucketLookup: minio.BucketLookupPath,
	}
	client, err := minio.New(opts.Address, options)
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Transport{
		client:  client,
		core:    &minio.Core{Client: client},
		address: opts.Address,
		timeout: opts.RequestTimeout,
		logger:  logger.With("endpoint", opts.Address),
	}, nil
}

// Constructor adapts New to transport.Constructor.
func Constructor(opts transport.Options) (transport.Transport, error) {
	return New(opts)
}

// Close is a no-op; minio clients hold no per-session resources beyond the
// pooled HTTP transport.
func (t *Transport) Close() error { return nil }

// GetObject streams key from bucket. The returned reader must be closed.
func (t *Transport) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, transport.ObjectInfo, error) {
	start := time.Now()
	t.logger.Trace("s3.get_object.begin", "bucket", bucket, "key", key)
	obj, err := t.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		t.logger.Debug("s3.get_object.error", "bucket", bucket, "key", key, "error", err)
		return nil, transport.ObjectInfo{}, classify(err, "s3: get object")
	}
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if isNotFound(err) {
			t.logger.Debug("s3.get_object.not_found", "bucket", bucket, "key", key, "elapsed", time.Since(start))
		} else {
			t.logger.Debug("s3.get_object.stat_error", "bucket", bucket, "key", key, "error", err)
		}
		return nil, transport.ObjectInfo{}, classify(err, "s3: stat object")
	}
	t.logger.Debug("s3.get_object.success", "bucket", bucket, "key", key, "size", info.Size, "elapsed", time.Since(start))
	return obj, transport.ObjectInfo{
		Key:          key,
		Size:         info.Size,
		ETag:         info.ETag,
		LastModified: info.LastModified,
	}, nil
}

// PutObject uploads size bytes from body. A negative size streams with
// multipart uploads.
func (t *Transport) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64) (transport.ObjectInfo, error) {
	ctx, cancel := transport.WithTimeout(ctx, t.timeout)
	defer cancel()
	start := time.Now()
	t.logger.Trace("s3.put_object.begin", "bucket", bucket, "key", key, "size", size)
	info, err := t.client.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		t.logger.Debug("s3.put_object.error", "bucket", bucket, "key", key, "error", err)
		return transport.ObjectInfo{}, classify(err, "s3: put object")
	}
	t.logger.Debug("s3.put_object.success", "bucket", bucket, "key", key, "size", info.Size, "elapsed", time.Since(start))
	return transport.ObjectInfo{Key: key, Size: info.Size, ETag: info.ETag, LastModified: info.LastModified}, nil
}

// DeleteObject removes key from bucket.
func (t *Transport) DeleteObject(ctx context.Context, bucket, key string) error {
	ctx, cancel := transport.WithTimeout(ctx, t.timeout)
	defer cancel()
	t.logger.Trace("s3.delete_object.begin", "bucket", bucket, "key", key)
	if err := t.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		t.logger.Debug("s3.delete_object.error", "bucket", bucket, "key", key, "error", err)
		return classify(err, "s3: remove object")
	}
	t.logger.Debug("s3.delete_object.success", "bucket", bucket, "key", key)
	return nil
}

// HeadBucket returns transport.ErrNotFound when bucket does not exist.
func (t *Transport) HeadBucket(ctx context.Context, bucket string) error {
	ctx, cancel := transport.WithTimeout(ctx, t.timeout)
	defer cancel()
	ok, err := t.client.BucketExists(ctx, bucket)
	if err != nil {
		t.logger.Debug("s3.head_bucket.error", "bucket", bucket, "error", err)
		return classify(err, "s3: head bucket")
	}
	if !ok {
		t.logger.Debug("s3.head_bucket.not_found", "bucket", bucket)
		return transport.Classify(transport.ErrNotFound, fmt.Errorf("s3: bucket %s not found", bucket))
	}
	return nil
}

// CreateBucket creates bucket in the session's region.
func (t *Transport) CreateBucket(ctx context.Context, bucket string) error {
	ctx, cancel := transport.WithTimeout(ctx, t.timeout)
	defer cancel()
	if err := t.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		t.logger.Debug("s3.create_bucket.error", "bucket", bucket, "error", err)
		return classify(err, "s3: make bucket")
	}
	t.logger.Info("s3.create_bucket.success", "bucket", bucket)
	return nil
}

// DeleteBucket removes an empty bucket.
func (t *Transport) DeleteBucket(ctx context.Context, bucket string) error {
	ctx, cancel := transport.WithTimeout(ctx, t.timeout)
	defer cancel()
	if err := t.client.RemoveBucket(ctx, bucket); err != nil {
		t.logger.Debug("s3.delete_bucket.error", "bucket", bucket, "error", err)
		return classify(err, "s3: remove bucket")
	}
	t.logger.Info("s3.delete_bucket.success", "bucket", bucket)
	return nil
}

// ListObjects issues a single ListObjectsV2 call.
func (t *Transport) ListObjects(ctx context.Context, bucket string, in transport.ListInput) (*transport.ListOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	t.logger.Trace("s3.list_objects.begin", "bucket", bucket, "prefix", in.Prefix, "max_keys", in.MaxKeys)
	res, err := t.core.ListObjectsV2(bucket, in.Prefix, "", in.ContinuationToken, in.Delimiter, in.MaxKeys)
	if err != nil {
		t.logger.Debug("s3.list_objects.error", "bucket", bucket, "prefix", in.Prefix, "error", err)
		return nil, classify(err, "s3: list objects")
	}
	out := &transport.ListOutput{
		IsTruncated:           res.IsTruncated,
		NextContinuationToken: res.NextContinuationToken,
	}
	for _, object := range res.Contents {
		out.Keys = append(out.Keys, object.Key)
	}
	for _, cp := range res.CommonPrefixes {
		out.CommonPrefixes = append(out.CommonPrefixes, cp.Prefix)
	}
	t.logger.Debug("s3.list_objects.success",
		"bucket", bucket,
		"prefix", in.Prefix,
		"keys", len(out.Keys),
		"prefixes", len(out.CommonPrefixes),
		"truncated", out.IsTruncated,
		"elapsed", time.Since(start),
	)
	return out, nil
}

func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	kind := kindOf(err)
	retryable := isRetryable(err)
	if msg != "" {
		err = fmt.Errorf("%s: %w", msg, err)
	}
	err = transport.Classify(kind, err)
	if retryable {
		return transport.NewTransientError(err)
	}
	return err
}

func kindOf(err error) error {
	if isNotFound(err) {
		return transport.ErrNotFound
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "BucketAlreadyOwnedByYou":
		return transport.ErrBucketOwned
	case "BucketAlreadyExists":
		return transport.ErrBucketExists
	}
	if transport.IsConnectionError(err) {
		return transport.ErrConnection
	}
	return nil
}

func isNotFound(err error) bool {
	errResp := minio.ErrorResponse{}
	if errors.As(err, &errResp) {
		switch errResp.Code {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return true
		}
		return errResp.StatusCode == http.StatusNotFound
	}
	return false
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if transport.IsConnectionError(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode != 0 && transport.IsRetryableStatus(resp.StatusCode) {
		return true
	}
	return false
}
