// Package aws implements transport.Transport with aws-sdk-go-v2.
package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"pkt.systems/dss/internal/transport"
	"pkt.systems/pslog"
)

const defaultRegion = "us-east-1"

// Transport is an aws-sdk-go-v2 session against one storage node.
type Transport struct {
	client  *s3.Client
	region  string
	timeout time.Duration
	logger  pslog.Logger
}

// New constructs a Transport for opts.Address using path-style addressing.
func New(opts transport.Options) (*Transport, error) {
	if opts.Address == "" {
		return nil, fmt.Errorf("aws: address is required")
	}
	region := opts.Region
	if region == "" {
		region = defaultRegion
	}
	base := transport.HTTPTransport(opts)
	// A buildable client lets the SDK add AWS_CA_BUNDLE roots on top of ours.
	httpClient := awshttp.NewBuildableClient().WithTransportOptions(func(tr *http.Transport) {
		applyTransport(tr, base)
	})
	awsCfg, err := awsconfig.LoadDefaultConfig(
		context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithHTTPClient(httpClient),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("aws: load config: %w", err)
	}
	endpoint := opts.Address
	if !strings.Contains(endpoint, "://") {
		scheme := "http"
		if opts.Secure {
			scheme = "https"
		}
		endpoint = scheme + "://" + endpoint
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	logger := opts.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Transport{
		client:  client,
		region:  region,
		timeout: opts.RequestTimeout,
		logger:  logger.With("endpoint", opts.Address),
	}, nil
}

func applyTransport(dst, src *http.Transport) {
	dst.Proxy = src.Proxy
	dst.DialContext = src.DialContext
	dst.ForceAttemptHTTP2 = src.ForceAttemptHTTP2
	dst.MaxIdleConns = src.MaxIdleConns
	dst.MaxIdleConnsPerHost = src.MaxIdleConnsPerHost
	dst.MaxConnsPerHost = src.MaxConnsPerHost
	dst.IdleConnTimeout = src.IdleConnTimeout
	dst.TLSHandshakeTimeout = src.TLSHandshakeTimeout
	dst.ExpectContinueTimeout = src.ExpectContinueTimeout
	dst.ResponseHeaderTimeout = src.ResponseHeaderTimeout
	if src.TLSClientConfig != nil {
		dst.TLSClientConfig = src.TLSClientConfig.Clone()
	}
}

// Constructor adapts New to transport.Constructor.
func Constructor(opts transport.Options) (transport.Transport, error) {
	return New(opts)
}

// Close is a no-op for SDK clients.
func (t *Transport) Close() error { return nil }

// GetObject streams key from bucket. The returned reader must be closed.
func (t *Transport) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, transport.ObjectInfo, error) {
	start := time.Now()
	t.logger.Trace("aws.get_object.begin", "bucket", bucket, "key", key)
	resp, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		t.logger.Debug("aws.get_object.error", "bucket", bucket, "key", key, "error", err)
		return nil, transport.ObjectInfo{}, classify(err, "aws: get object")
	}
	info := transport.ObjectInfo{
		Key:  key,
		Size: aws.ToInt64(resp.ContentLength),
		ETag: strings.Trim(aws.ToString(resp.ETag), "\""),
	}
	if resp.LastModified != nil {
		info.LastModified = *resp.LastModified
	}
	t.logger.Debug("aws.get_object.success", "bucket", bucket, "key", key, "size", info.Size, "elapsed", time.Since(start))
	return resp.Body, info, nil
}

// PutObject uploads size bytes from body. Bodies that cannot seek are
// buffered so the request can be signed.
func (t *Transport) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64) (transport.ObjectInfo, error) {
	ctx, cancel := transport.WithTimeout(ctx, t.timeout)
	defer cancel()
	start := time.Now()
	t.logger.Trace("aws.put_object.begin", "bucket", bucket, "key", key, "size", size)
	if _, ok := body.(io.ReadSeeker); !ok {
		data, err := io.ReadAll(body)
		if err != nil {
			return transport.ObjectInfo{}, fmt.Errorf("aws: buffer body: %w", err)
		}
		body = bytes.NewReader(data)
		size = int64(len(data))
	}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("application/octet-stream"),
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	resp, err := t.client.PutObject(ctx, input)
	if err != nil {
		t.logger.Debug("aws.put_object.error", "bucket", bucket, "key", key, "error", err)
		return transport.ObjectInfo{}, classify(err, "aws: put object")
	}
	t.logger.Debug("aws.put_object.success", "bucket", bucket, "key", key, "size", size, "elapsed", time.Since(start))
	return transport.ObjectInfo{Key: key, Size: size, ETag: strings.Trim(aws.ToString(resp.ETag), "\"")}, nil
}

// DeleteObject removes key from bucket.
func (t *Transport) DeleteObject(ctx context.Context, bucket, key string) error {
	ctx, cancel := transport.WithTimeout(ctx, t.timeout)
	defer cancel()
	_, err := t.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		t.logger.Debug("aws.delete_object.error", "bucket", bucket, "key", key, "error", err)
		return classify(err, "aws: delete object")
	}
	t.logger.Debug("aws.delete_object.success", "bucket", bucket, "key", key)
	return nil
}

// HeadBucket returns transport.ErrNotFound when bucket does not exist.
func (t *Transport) HeadBucket(ctx context.Context, bucket string) error {
	ctx, cancel := transport.WithTimeout(ctx, t.timeout)
	defer cancel()
	if _, err := t.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		t.logger.Debug("aws.head_bucket.error", "bucket", bucket, "error", err)
		return classify(err, "aws: head bucket")
	}
	return nil
}

// CreateBucket creates bucket, adding a location constraint outside us-east-1.
func (t *Transport) CreateBucket(ctx context.Context, bucket string) error {
	ctx, cancel := transport.WithTimeout(ctx, t.timeout)
	defer cancel()
	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if t.region != defaultRegion {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(t.region),
		}
	}
	if _, err := t.client.CreateBucket(ctx, input); err != nil {
		t.logger.Debug("aws.create_bucket.error", "bucket", bucket, "error", err)
		return classify(err, "aws: create bucket")
	}
	t.logger.Info("aws.create_bucket.success", "bucket", bucket)
	return nil
}

// DeleteBucket removes an empty bucket.
func (t *Transport) DeleteBucket(ctx context.Context, bucket string) error {
	ctx, cancel := transport.WithTimeout(ctx, t.timeout)
	defer cancel()
	if _, err := t.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		t.logger.Debug("aws.delete_bucket.error", "bucket", bucket, "error", err)
		return classify(err, "aws: delete bucket")
	}
	t.logger.Info("aws.delete_bucket.success", "bucket", bucket)
	return nil
}

// ListObjects issues a single ListObjectsV2 call.
func (t *Transport) ListObjects(ctx context.Context, bucket string, in transport.ListInput) (*transport.ListOutput, error) {
	ctx, cancel := transport.WithTimeout(ctx, t.timeout)
	defer cancel()
	start := time.Now()
	input := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	if in.Prefix != "" {
		input.Prefix = aws.String(in.Prefix)
	}
	if in.Delimiter != "" {
		input.Delimiter = aws.String(in.Delimiter)
	}
	if in.MaxKeys > 0 {
		input.MaxKeys = aws.Int32(int32(in.MaxKeys))
	}
	if in.ContinuationToken != "" {
		input.ContinuationToken = aws.String(in.ContinuationToken)
	}
	resp, err := t.client.ListObjectsV2(ctx, input)
	if err != nil {
		t.logger.Debug("aws.list_objects.error", "bucket", bucket, "prefix", in.Prefix, "error", err)
		return nil, classify(err, "aws: list objects")
	}
	out := &transport.ListOutput{
		IsTruncated:           aws.ToBool(resp.IsTruncated),
		NextContinuationToken: aws.ToString(resp.NextContinuationToken),
	}
	for _, object := range resp.Contents {
		out.Keys = append(out.Keys, aws.ToString(object.Key))
	}
	for _, cp := range resp.CommonPrefixes {
		out.CommonPrefixes = append(out.CommonPrefixes, aws.ToString(cp.Prefix))
	}
	t.logger.Debug("aws.list_objects.success",
		"bucket", bucket,
		"prefix", in.Prefix,
		"keys", len(out.Keys),
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
	var owned *types.BucketAlreadyOwnedByYou
	if errors.As(err, &owned) {
		return transport.ErrBucketOwned
	}
	var exists *types.BucketAlreadyExists
	if errors.As(err, &exists) {
		return transport.ErrBucketExists
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "BucketAlreadyOwnedByYou":
			return transport.ErrBucketOwned
		case "BucketAlreadyExists":
			return transport.ErrBucketExists
		}
	}
	if transport.IsConnectionError(err) {
		return transport.ErrConnection
	}
	return nil
}

func httpStatusCode(err error) (int, bool) {
	if err == nil {
		return 0, false
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode(), true
	}
	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		return statusErr.HTTPStatusCode(), true
	}
	return 0, false
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	if status, ok := httpStatusCode(err); ok {
		return status == http.StatusNotFound
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
	if status, ok := httpStatusCode(err); ok {
		return transport.IsRetryableStatus(status)
	}
	return false
}
