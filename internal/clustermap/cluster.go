package clustermap

import (
	"errors"
	"strconv"
)

// BucketPrefix is prepended to a cluster id to form its bucket name.
const BucketPrefix = "dss"

// Cluster is one shard: a bucket replicated across an ordered endpoint set.
// The endpoint order is fixed at construction and used as a modulo index.
type Cluster struct {
	id        int
	bucket    string
	endpoints []*Endpoint
	listSeed  string
	hash      func(string) uint64
}

func newCluster(id int, endpoints []*Endpoint, instanceID string, hash func(string) uint64) *Cluster {
	return &Cluster{
		id:        id,
		bucket:    BucketName(id),
		endpoints: endpoints,
		listSeed:  strconv.Itoa(id) + instanceID,
		hash:      hash,
	}
}

// BucketName returns the bucket backing cluster id.
func BucketName(id int) string {
	return BucketPrefix + strconv.Itoa(id)
}

// ID returns the dense shard index.
func (c *Cluster) ID() int { return c.id }

// Bucket returns the cluster's bucket name.
func (c *Cluster) Bucket() string { return c.bucket }

// Endpoints returns a copy of the selected endpoints in routing order.
func (c *Cluster) Endpoints() []*Endpoint {
	return append([]*Endpoint(nil), c.endpoints...)
}

// ResolveEndpoint picks the replica serving a request routed with weight.
func (c *Cluster) ResolveEndpoint(weight uint64) *Endpoint {
	return c.endpoints[weight%uint64(len(c.endpoints))]
}

// listEndpoint pins every page of one prefix listing to the same replica so
// continuation tokens stay valid.
func (c *Cluster) listEndpoint(prefix string) *Endpoint {
	return c.endpoints[c.hash(c.listSeed+prefix)%uint64(len(c.endpoints))]
}

func (c *Cluster) primary() *Endpoint {
	return c.endpoints[0]
}

func (c *Cluster) close() error {
	var errs []error
	for _, ep := range c.endpoints {
		if err := ep.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
