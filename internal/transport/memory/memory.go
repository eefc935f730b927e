// Package memory provides an in-process Transport with S3 bucket and listing
// semantics. A single Backend is shared by every session so that several
// node addresses can observe the same buckets, mirroring a replicated cluster.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"pkt.systems/dss/internal/transport"
)

const defaultMaxKeys = 1000

// Fault is consulted before every operation; a non-nil return fails the call.
type Fault func(op, address, bucket, key string) error

type object struct {
	data     []byte
	modified time.Time
}

type bucket struct {
	owner   string
	objects map[string]object
}

// Backend is the shared object store behind every memory session.
type Backend struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	fault   Fault
	calls   map[string]int
	now     func() time.Time
}

// New returns an empty Backend.
func New() *Backend {
	return &Backend{
		buckets: make(map[string]*bucket),
		calls:   make(map[string]int),
		now:     time.Now,
	}
}

// SetFault installs fn as the fault hook; nil clears it.
func (b *Backend) SetFault(fn Fault) {
	b.mu.Lock()
	b.fault = fn
	b.mu.Unlock()
}

// Calls reports how many operations were issued against address.
func (b *Backend) Calls(address string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[address]
}

// Constructor returns a transport.Constructor whose sessions share b.
func (b *Backend) Constructor() transport.Constructor {
	return func(opts transport.Options) (transport.Transport, error) {
		if opts.Address == "" {
			return nil, fmt.Errorf("memory: address is required")
		}
		return &Session{backend: b, address: opts.Address, owner: opts.AccessKey}, nil
	}
}

// Seed writes an object directly, creating the bucket when needed.
func (b *Backend) Seed(bucketName, key string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bk, ok := b.buckets[bucketName]
	if !ok {
		bk = &bucket{objects: make(map[string]object)}
		b.buckets[bucketName] = bk
	}
	bk.objects[key] = object{data: append([]byte(nil), data...), modified: b.now()}
}

// HasBucket reports whether bucketName exists.
func (b *Backend) HasBucket(bucketName string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.buckets[bucketName]
	return ok
}

// RemoveBucket drops bucketName and its contents.
func (b *Backend) RemoveBucket(bucketName string) {
	b.mu.Lock()
	delete(b.buckets, bucketName)
	b.mu.Unlock()
}

// Session is one Transport bound to a node address.
type Session struct {
	backend *Backend
	address string
	owner   string
	closed  bool
}

// Address returns the node address this session was opened for.
func (s *Session) Address() string { return s.address }

// enter locks the backend and runs the fault hook. Callers must unlock.
func (s *Session) enter(op, bucketName, key string) error {
	s.backend.mu.Lock()
	s.backend.calls[s.address]++
	if s.closed {
		return transport.Classify(transport.ErrConnection, fmt.Errorf("memory: session %s closed", s.address))
	}
	if s.backend.fault != nil {
		if err := s.backend.fault(op, s.address, bucketName, key); err != nil {
			return err
		}
	}
	return nil
}

func notFound(op, bucketName, key string) error {
	return transport.Classify(transport.ErrNotFound, fmt.Errorf("memory: %s: not found", transport.Describe(op, bucketName, key)))
}

// GetObject returns a reader over a copy of the stored bytes.
func (s *Session) GetObject(ctx context.Context, bucketName, key string) (io.ReadCloser, transport.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, transport.ObjectInfo{}, err
	}
	err := s.enter("get_object", bucketName, key)
	defer s.backend.mu.Unlock()
	if err != nil {
		return nil, transport.ObjectInfo{}, err
	}
	bk, ok := s.backend.buckets[bucketName]
	if !ok {
		return nil, transport.ObjectInfo{}, notFound("get", bucketName, "")
	}
	obj, ok := bk.objects[key]
	if !ok {
		return nil, transport.ObjectInfo{}, notFound("get", bucketName, key)
	}
	data := append([]byte(nil), obj.data...)
	info := transport.ObjectInfo{Key: key, Size: int64(len(data)), LastModified: obj.modified}
	return io.NopCloser(bytes.NewReader(data)), info, nil
}

// PutObject stores the full body under key.
func (s *Session) PutObject(ctx context.Context, bucketName, key string, body io.Reader, size int64) (transport.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return transport.ObjectInfo{}, err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return transport.ObjectInfo{}, fmt.Errorf("memory: read body: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return transport.ObjectInfo{}, fmt.Errorf("memory: body length %d does not match size %d", len(data), size)
	}
	err = s.enter("put_object", bucketName, key)
	defer s.backend.mu.Unlock()
	if err != nil {
		return transport.ObjectInfo{}, err
	}
	bk, ok := s.backend.buckets[bucketName]
	if !ok {
		return transport.ObjectInfo{}, notFound("put", bucketName, "")
	}
	now := s.backend.now()
	bk.objects[key] = object{data: data, modified: now}
	return transport.ObjectInfo{Key: key, Size: int64(len(data)), LastModified: now}, nil
}

// DeleteObject removes key. Deleting a missing key is not an error.
func (s *Session) DeleteObject(ctx context.Context, bucketName, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.enter("delete_object", bucketName, key)
	defer s.backend.mu.Unlock()
	if err != nil {
		return err
	}
	bk, ok := s.backend.buckets[bucketName]
	if !ok {
		return notFound("delete", bucketName, "")
	}
	delete(bk.objects, key)
	return nil
}

// HeadBucket reports ErrNotFound when the bucket is absent.
func (s *Session) HeadBucket(ctx context.Context, bucketName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.enter("head_bucket", bucketName, "")
	defer s.backend.mu.Unlock()
	if err != nil {
		return err
	}
	if _, ok := s.backend.buckets[bucketName]; !ok {
		return notFound("head", bucketName, "")
	}
	return nil
}

// CreateBucket creates bucketName owned by the session's access key.
func (s *Session) CreateBucket(ctx context.Context, bucketName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.enter("create_bucket", bucketName, "")
	defer s.backend.mu.Unlock()
	if err != nil {
		return err
	}
	if bk, ok := s.backend.buckets[bucketName]; ok {
		if bk.owner == s.owner {
			return transport.Classify(transport.ErrBucketOwned, fmt.Errorf("memory: bucket %s already owned by you", bucketName))
		}
		return transport.Classify(transport.ErrBucketExists, fmt.Errorf("memory: bucket %s already exists", bucketName))
	}
	s.backend.buckets[bucketName] = &bucket{owner: s.owner, objects: make(map[string]object)}
	return nil
}

// DeleteBucket removes an empty bucket.
func (s *Session) DeleteBucket(ctx context.Context, bucketName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.enter("delete_bucket", bucketName, "")
	defer s.backend.mu.Unlock()
	if err != nil {
		return err
	}
	bk, ok := s.backend.buckets[bucketName]
	if !ok {
		return notFound("delete", bucketName, "")
	}
	if len(bk.objects) > 0 {
		return fmt.Errorf("memory: bucket %s not empty", bucketName)
	}
	delete(s.backend.buckets, bucketName)
	return nil
}

// ListObjects lists keys in lexical order. Keys sharing a prefix up to the
// delimiter collapse into one common prefix; each key or prefix counts
// toward MaxKeys. The continuation token is the last entry returned.
func (s *Session) ListObjects(ctx context.Context, bucketName string, in transport.ListInput) (*transport.ListOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	err := s.enter("list_objects", bucketName, in.Prefix)
	defer s.backend.mu.Unlock()
	if err != nil {
		return nil, err
	}
	bk, ok := s.backend.buckets[bucketName]
	if !ok {
		return nil, notFound("list", bucketName, "")
	}
	maxKeys := in.MaxKeys
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}
	keys := make([]string, 0, len(bk.objects))
	for key := range bk.objects {
		if strings.HasPrefix(key, in.Prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out := &transport.ListOutput{}
	marker := in.ContinuationToken
	last := ""
	count := 0
	for _, key := range keys {
		entry := key
		isPrefix := false
		if in.Delimiter != "" {
			rest := key[len(in.Prefix):]
			if idx := strings.Index(rest, in.Delimiter); idx >= 0 {
				entry = in.Prefix + rest[:idx+len(in.Delimiter)]
				isPrefix = true
			}
		}
		if marker != "" && entry <= marker {
			continue
		}
		if entry == last {
			continue
		}
		if count == maxKeys {
			out.IsTruncated = true
			out.NextContinuationToken = last
			break
		}
		if isPrefix {
			out.CommonPrefixes = append(out.CommonPrefixes, entry)
		} else {
			out.Keys = append(out.Keys, entry)
		}
		last = entry
		count++
	}
	return out, nil
}

// Close marks the session closed; later calls fail with ErrConnection.
func (s *Session) Close() error {
	s.backend.mu.Lock()
	s.closed = true
	s.backend.mu.Unlock()
	return nil
}
