package clustermap

import (
	"io"

	"github.com/rs/xid"
)

// Request is the per-call routing state. Key and Path are fixed at
// construction; Route fills in the owning cluster and weight.
type Request struct {
	id   xid.ID
	key  string
	path string

	// Body and Size supply upload data when Path is empty.
	Body io.Reader
	Size int64

	// Callback and Arg are used by DispatchAsync.
	Callback Callback
	Arg      any

	cluster *Cluster
	weight  uint64
}

// NewRequest creates a request for key. path is the local file to upload
// from or download into and may be empty.
func NewRequest(key, path string) *Request {
	return &Request{id: xid.New(), key: key, path: path, Size: -1}
}

// ID returns the request identifier, used as the correlation id when the
// caller did not attach one.
func (r *Request) ID() string { return r.id.String() }

// Key returns the object key.
func (r *Request) Key() string { return r.key }

// Path returns the local file path, if any.
func (r *Request) Path() string { return r.path }

// Cluster returns the routed cluster, or nil before routing.
func (r *Request) Cluster() *Cluster { return r.cluster }

// Weight returns the winning rendezvous weight.
func (r *Request) Weight() uint64 { return r.weight }
