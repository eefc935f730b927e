package clustermap

import (
	"context"
	"io"

	"pkt.systems/dss/internal/transport"
)

// Endpoint is one replica node. It owns a single transport session.
type Endpoint struct {
	address string
	tr      transport.Transport
}

// NewEndpoint binds address to an open transport session.
func NewEndpoint(address string, tr transport.Transport) *Endpoint {
	return &Endpoint{address: address, tr: tr}
}

// Address returns the node's host:port.
func (e *Endpoint) Address() string { return e.address }

// GetObject streams key from bucket.
func (e *Endpoint) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, transport.ObjectInfo, error) {
	return e.tr.GetObject(ctx, bucket, key)
}

// PutObject uploads size bytes of body to bucket/key.
func (e *Endpoint) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64) (transport.ObjectInfo, error) {
	return e.tr.PutObject(ctx, bucket, key, body, size)
}

// DeleteObject removes bucket/key.
func (e *Endpoint) DeleteObject(ctx context.Context, bucket, key string) error {
	return e.tr.DeleteObject(ctx, bucket, key)
}

// HeadBucket checks that bucket exists.
func (e *Endpoint) HeadBucket(ctx context.Context, bucket string) error {
	return e.tr.HeadBucket(ctx, bucket)
}

// CreateBucket creates bucket.
func (e *Endpoint) CreateBucket(ctx context.Context, bucket string) error {
	return e.tr.CreateBucket(ctx, bucket)
}

// DeleteBucket removes bucket.
func (e *Endpoint) DeleteBucket(ctx context.Context, bucket string) error {
	return e.tr.DeleteBucket(ctx, bucket)
}

// ListObjects fetches one listing page from bucket.
func (e *Endpoint) ListObjects(ctx context.Context, bucket string, in transport.ListInput) (*transport.ListOutput, error) {
	return e.tr.ListObjects(ctx, bucket, in)
}

// Close releases the transport session.
func (e *Endpoint) Close() error {
	return e.tr.Close()
}
