package clustermap

import (
	"context"
	"sort"

	"pkt.systems/dss/internal/dsserr"
	"pkt.systems/dss/internal/transport"
)

// ListOptions controls a cross-cluster listing.
type ListOptions struct {
	Delimiter string
	// PageSize bounds the keys returned per Advance. Zero means unbounded.
	PageSize int
	// CommonPrefixes adds delimiter-grouped prefixes to the page.
	CommonPrefixes bool
}

// Objects is a paginated cursor over every cluster's keys under a prefix.
// It is not safe for concurrent use.
type Objects struct {
	m        *ClusterMap
	prefix   string
	opts     ListOptions
	index    int
	page     map[string]struct{}
	token    string
	seen     map[string]struct{}
	finished bool
}

// NewObjects returns a cursor positioned before the first cluster.
func (m *ClusterMap) NewObjects(prefix string, opts ListOptions) *Objects {
	o := &Objects{m: m, prefix: prefix, opts: opts}
	o.Reset()
	return o
}

// Reset rewinds the cursor so it can be iterated again.
func (o *Objects) Reset() {
	o.index = -1
	o.page = make(map[string]struct{})
	o.seen = make(map[string]struct{})
	o.token = ""
	o.finished = false
}

// Prefix returns the listed prefix.
func (o *Objects) Prefix() string { return o.prefix }

// Page returns the keys gathered by the last Advance in ascending order.
func (o *Objects) Page() []string {
	keys := make([]string, 0, len(o.page))
	for k := range o.page {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (o *Objects) full() bool {
	return o.opts.PageSize > 0 && len(o.page) >= o.opts.PageSize
}

// Advance fetches the next page. It returns false with an empty page once
// every cluster has been drained; calling it again after that fails with
// ErrNoIterator until Reset is called. A page may span several clusters.
func (o *Objects) Advance(ctx context.Context) (bool, error) {
	const op = "list_objects"
	if o.finished {
		o.page = make(map[string]struct{})
		return false, dsserr.New(dsserr.ErrNoIterator, op, "cursor exhausted, reset it to list again")
	}
	clusters := o.m.clusters
	if len(clusters) == 0 {
		return false, dsserr.New(dsserr.ErrGeneric, op, "cluster map not initialized")
	}
	if o.index >= len(clusters) {
		o.finished = true
		o.page = make(map[string]struct{})
		return false, nil
	}
	if o.index < 0 {
		o.index = 0
	}
	o.page = make(map[string]struct{})
	for {
		c := clusters[o.index]
		o.m.opts.Metrics.ObserveList(c.id)
		if err := c.ListObjects(ctx, o); err != nil {
			o.m.logger.Debug("clustermap.list.error", "cluster", c.id, "prefix", o.prefix, "error", err)
			return false, err
		}
		if o.token != "" {
			break
		}
		o.index++
		o.seen = make(map[string]struct{})
		if o.full() || o.index >= len(clusters) {
			break
		}
	}
	o.m.logger.Trace("clustermap.list.page", "prefix", o.prefix, "keys", len(o.page), "next_cluster", o.index, "pending_token", o.token != "")
	return true, nil
}

// ListObjects merges listing pages from the cluster into cur. With a page
// size it stops once the page is full and leaves the continuation token on
// cur; without one it drains the cluster.
func (c *Cluster) ListObjects(ctx context.Context, cur *Objects) error {
	const op = "list_objects"
	ep := c.listEndpoint(cur.prefix)
	for {
		in := transport.ListInput{
			Prefix:            cur.prefix,
			Delimiter:         cur.opts.Delimiter,
			ContinuationToken: cur.token,
		}
		if cur.opts.PageSize > 0 {
			in.MaxKeys = max(cur.opts.PageSize-len(cur.page), 1)
		}
		out, err := ep.ListObjects(ctx, c.bucket, in)
		if err != nil {
			return dsserr.FromTransport(op, err)
		}
		for _, key := range out.Keys {
			cur.page[key] = struct{}{}
		}
		if cur.opts.CommonPrefixes {
			for _, p := range out.CommonPrefixes {
				if _, ok := cur.seen[p]; ok {
					continue
				}
				cur.seen[p] = struct{}{}
				cur.page[p] = struct{}{}
			}
		}
		if !out.IsTruncated || out.NextContinuationToken == "" {
			cur.token = ""
			return nil
		}
		cur.token = out.NextContinuationToken
		if cur.full() {
			return nil
		}
	}
}

// ListAll drains every cluster and returns the union of keys under prefix.
func (m *ClusterMap) ListAll(ctx context.Context, prefix string, opts ListOptions) ([]string, error) {
	opts.PageSize = 0
	cur := m.NewObjects(prefix, opts)
	if _, err := cur.Advance(ctx); err != nil {
		return nil, err
	}
	return cur.Page(), nil
}
