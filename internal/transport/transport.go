// Package transport defines the boundary between the routing engine and the
// remote object-storage nodes it talks to.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"pkt.systems/pslog"
)

var (
	// ErrNotFound indicates the bucket or object does not exist.
	ErrNotFound = errors.New("transport: not found")
	// ErrBucketOwned indicates a create-bucket call found the bucket already
	// owned by the caller's identity.
	ErrBucketOwned = errors.New("transport: bucket already owned by you")
	// ErrBucketExists indicates a create-bucket call found the bucket owned by
	// another identity.
	ErrBucketExists = errors.New("transport: bucket already exists")
	// ErrConnection indicates the node could not be reached.
	ErrConnection = errors.New("transport: connection failure")
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ListInput parameterises a single list call.
type ListInput struct {
	Prefix            string
	Delimiter         string
	MaxKeys           int
	ContinuationToken string
}

// ListOutput is one page of a bucket listing.
type ListOutput struct {
	Keys                  []string
	CommonPrefixes        []string
	IsTruncated           bool
	NextContinuationToken string
}

// Transport is one session against one storage node.
type Transport interface {
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, ObjectInfo, error)
	PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64) (ObjectInfo, error)
	DeleteObject(ctx context.Context, bucket, key string) error
	HeadBucket(ctx context.Context, bucket string) error
	CreateBucket(ctx context.Context, bucket string) error
	DeleteBucket(ctx context.Context, bucket string) error
	ListObjects(ctx context.Context, bucket string, in ListInput) (*ListOutput, error)
	Close() error
}

// Options configures a transport session.
type Options struct {
	// Address is the node's host:port.
	Address        string
	Secure         bool
	SkipVerify     bool
	Region         string
	AccessKey      string
	SecretKey      string
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	MaxConnections int
	Logger         pslog.Logger
}

// Constructor opens a Transport for the node described by Options.
type Constructor func(Options) (Transport, error)

type classifiedError struct {
	kind error
	err  error
}

func (c classifiedError) Error() string   { return c.err.Error() }
func (c classifiedError) Unwrap() []error { return []error{c.kind, c.err} }

// Classify tags err with one of the package sentinels so errors.Is matches
// both the sentinel and the original cause.
func Classify(kind, err error) error {
	if err == nil {
		return nil
	}
	if kind == nil {
		return err
	}
	return classifiedError{kind: kind, err: err}
}

type transientError struct {
	err error
}

func (t transientError) Error() string { return t.err.Error() }
func (t transientError) Unwrap() error { return t.err }

// NewTransientError marks err as retryable.
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether err was marked as retryable.
func IsTransient(err error) bool {
	var te transientError
	return errors.As(err, &te)
}

// IsConnectionError reports whether err is a socket-level failure to reach
// or stay connected to a node.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnection) {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial" || IsConnectionError(opErr.Err)
	}
	return false
}

// IsRetryableStatus reports whether an HTTP status code is worth retrying.
func IsRetryableStatus(status int) bool {
	if status >= http.StatusInternalServerError {
		return true
	}
	switch status {
	case http.StatusTooManyRequests, http.StatusRequestTimeout:
		return true
	}
	return false
}

// HTTPTransport builds the shared HTTP round tripper used by the S3 backends.
func HTTPTransport(opts Options) *http.Transport {
	base, ok := http.DefaultTransport.(*http.Transport)
	var clone *http.Transport
	if ok {
		clone = base.Clone()
	} else {
		clone = &http.Transport{}
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	keepAlive := opts.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: keepAlive}
	clone.DialContext = dialer.DialContext
	maxConns := opts.MaxConnections
	if maxConns <= 0 {
		maxConns = 64
	}
	clone.MaxIdleConns = maxConns * 4
	clone.MaxIdleConnsPerHost = maxConns
	clone.MaxConnsPerHost = maxConns
	if clone.IdleConnTimeout == 0 {
		clone.IdleConnTimeout = 90 * time.Second
	}
	clone.TLSHandshakeTimeout = connectTimeout
	if clone.ExpectContinueTimeout == 0 {
		clone.ExpectContinueTimeout = 1 * time.Second
	}
	if opts.RequestTimeout > 0 {
		clone.ResponseHeaderTimeout = opts.RequestTimeout
	}
	if opts.SkipVerify {
		if clone.TLSClientConfig == nil {
			clone.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		clone.TLSClientConfig.InsecureSkipVerify = true
	}
	return clone
}

// WithTimeout bounds ctx by d unless ctx already expires sooner.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= d {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// Describe renders an operation/bucket/key triple for error messages.
func Describe(op, bucket, key string) string {
	if key == "" {
		return fmt.Sprintf("%s %s", op, bucket)
	}
	return fmt.Sprintf("%s %s/%s", op, bucket, key)
}
