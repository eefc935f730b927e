package dss

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"pkt.systems/dss/internal/clustermap"
	"pkt.systems/dss/internal/dsserr"
	"pkt.systems/dss/internal/logutil"
	"pkt.systems/dss/internal/transport"
	"pkt.systems/dss/internal/transport/logging"
	"pkt.systems/dss/internal/transport/retry"
	"pkt.systems/pslog"
)

type (
	// Objects is the cross-cluster listing cursor returned by GetObjects.
	Objects = clustermap.Objects
	// Future resolves when an async request completes.
	Future = clustermap.Future
	// Completion describes a finished async request.
	Completion = clustermap.Completion
	// Callback receives exactly one Completion per accepted async request.
	Callback = clustermap.Callback
	// BucketStatus summarises which cluster buckets exist.
	BucketStatus = clustermap.BucketStatus
)

const (
	StatusSucceeded = clustermap.StatusSucceeded
	StatusFailed    = clustermap.StatusFailed

	BucketsAllGood = clustermap.BucketsAllGood
	BucketsEmpty   = clustermap.BucketsEmpty
	BucketsPartial = clustermap.BucketsPartial
)

// Option configures New.
type Option func(*options)

type options struct {
	runtime *Runtime
	logger  pslog.Logger
}

// WithRuntime binds the client to rt instead of DefaultRuntime.
func WithRuntime(rt *Runtime) Option {
	return func(o *options) {
		o.runtime = rt
	}
}

// WithLogger overrides the runtime logger for this client.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Client is a session against one sharded deployment. Call InitClusterMap
// before issuing object operations. After initialisation a Client is safe
// for concurrent use.
type Client struct {
	cfg       Config
	rt        *Runtime
	logger    pslog.Logger
	discovery *clustermap.Endpoint
	cmap      *clustermap.ClusterMap
}

// New validates cfg and opens the discovery session. It performs no I/O;
// the topology is fetched by InitClusterMap.
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	const op = "new_client"
	if err := ctx.Err(); err != nil {
		return nil, dsserr.Wrap(dsserr.ErrGeneric, op, "", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, dsserr.Wrap(dsserr.ErrGeneric, op, "", err)
	}
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	rt := o.runtime
	if rt == nil {
		var err error
		if rt, err = DefaultRuntime(); err != nil {
			return nil, dsserr.Wrap(dsserr.ErrGeneric, op, "runtime", err)
		}
	}
	base := o.logger
	if base == nil {
		base = rt.logger
	}
	logger := logutil.WithSubsystem(base, "dss.client").With("instance", cfg.InstanceID)

	ctor, err := rt.constructor(cfg.Transport)
	if err != nil {
		return nil, dsserr.Wrap(dsserr.ErrGeneric, op, "", err)
	}
	c := &Client{cfg: cfg, rt: rt, logger: logger}
	open := c.opener(ctor)
	if cfg.Endpoint != "" {
		tr, err := open(cfg.Endpoint)
		if err != nil {
			return nil, dsserr.Wrap(dsserr.ErrGeneric, op, "open discovery endpoint", err)
		}
		c.discovery = clustermap.NewEndpoint(cfg.Endpoint, tr)
	}
	c.cmap = clustermap.New(c.discovery, clustermap.Options{
		Open:          open,
		DiscoveryFile: cfg.DiscoveryFile,
		Logger:        base,
		Clock:         rt.clock,
		Metrics:       rt.metrics,
		Pool:          rt.pool,
		Bootstrap:     rt.bootstrap,
	})
	logger.Debug("client.new",
		"endpoint", cfg.Endpoint,
		"transport", cfg.Transport,
		"discovery_file", cfg.DiscoveryFile,
		"endpoints_per_cluster", cfg.EndpointsPerCluster,
	)
	return c, nil
}

// opener layers retries and tracing over ctor for every node address.
func (c *Client) opener(ctor transport.Constructor) clustermap.OpenFunc {
	transportLogger := logutil.WithSubsystem(c.rt.logger, "dss.transport")
	return func(address string) (transport.Transport, error) {
		tr, err := ctor(transport.Options{
			Address:        address,
			Secure:         c.cfg.Secure,
			SkipVerify:     c.cfg.SkipVerify,
			Region:         c.cfg.Region,
			AccessKey:      c.cfg.AccessKey,
			SecretKey:      c.cfg.SecretKey,
			RequestTimeout: c.cfg.RequestTimeout,
			ConnectTimeout: c.cfg.ConnectTimeout,
			KeepAlive:      c.cfg.KeepAlive,
			MaxConnections: c.cfg.MaxConnections,
			Logger:         transportLogger,
		})
		if err != nil {
			return nil, err
		}
		tr = retry.Wrap(tr, transportLogger, c.rt.clock, retry.Config{
			MaxAttempts: c.cfg.MaxAttempts,
			BaseDelay:   c.cfg.RetryBaseDelay,
			MaxDelay:    c.cfg.RetryMaxDelay,
		})
		return logging.Wrap(tr, transportLogger, address), nil
	}
}

// Config returns the validated configuration.
func (c *Client) Config() Config { return c.cfg }

// InitClusterMap fetches the topology, selects this instance's replicas and
// runs bootstrap verification.
func (c *Client) InitClusterMap(ctx context.Context) error {
	start := time.Now()
	if err := c.LoadTopology(ctx); err != nil {
		return err
	}
	if err := c.cmap.VerifyClusterConf(ctx); err != nil {
		return err
	}
	c.logger.Info("client.init.success", "clusters", c.cmap.Len(), "elapsed", time.Since(start))
	return nil
}

// LoadTopology fetches the topology and selects replicas without creating
// or checking any cluster bucket.
func (c *Client) LoadTopology(ctx context.Context) error {
	return c.cmap.AcquireConfig(ctx, c.cfg.InstanceID, c.cfg.EndpointsPerCluster)
}

// VerifyClusterConf re-runs bootstrap verification on the loaded topology.
func (c *Client) VerifyClusterConf(ctx context.Context) error {
	return c.cmap.VerifyClusterConf(ctx)
}

// DetectClusterBuckets reports which cluster buckets exist. With force, a
// partial result is an error naming each cluster's state.
func (c *Client) DetectClusterBuckets(ctx context.Context, force bool) (BucketStatus, error) {
	return c.cmap.DetectClusterBuckets(ctx, force)
}

// PutObject uploads the local file srcPath under key.
func (c *Client) PutObject(ctx context.Context, key, srcPath string) error {
	_, err := c.cmap.Dispatch(ctx, clustermap.OpPut, clustermap.NewRequest(key, srcPath))
	return err
}

// PutObjectBuffer uploads data under key.
func (c *Client) PutObjectBuffer(ctx context.Context, key string, data []byte) error {
	return c.PutObjectStream(ctx, key, bytes.NewReader(data), int64(len(data)))
}

// PutObjectStream uploads size bytes from r under key. A negative size means
// unknown.
func (c *Client) PutObjectStream(ctx context.Context, key string, r io.Reader, size int64) error {
	req := clustermap.NewRequest(key, "")
	req.Body = r
	req.Size = size
	_, err := c.cmap.Dispatch(ctx, clustermap.OpPut, req)
	return err
}

// GetObject downloads key into destPath. The file is replaced atomically.
func (c *Client) GetObject(ctx context.Context, key, destPath string) error {
	if destPath == "" {
		return dsserr.New(dsserr.ErrGeneric, "get_object", "destination path is required")
	}
	_, err := c.cmap.Dispatch(ctx, clustermap.OpGet, clustermap.NewRequest(key, destPath))
	return err
}

// GetObjectStream opens key for reading. The caller must close the reader.
func (c *Client) GetObjectStream(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	res, err := c.cmap.Dispatch(ctx, clustermap.OpGet, clustermap.NewRequest(key, ""))
	if err != nil {
		return nil, 0, err
	}
	return res.Body, res.Size, nil
}

// GetObjectBuffer reads key into buf and returns the object length. An
// object larger than buf is an error.
func (c *Client) GetObjectBuffer(ctx context.Context, key string, buf []byte) (int, error) {
	const op = "get_object"
	body, size, err := c.GetObjectStream(ctx, key)
	if err != nil {
		return 0, err
	}
	defer body.Close()
	if size > int64(len(buf)) {
		return 0, dsserr.New(dsserr.ErrGeneric, op, fmt.Sprintf("buffer of %d bytes too small for object of %d bytes", len(buf), size))
	}
	n, err := io.ReadFull(body, buf)
	switch {
	case err == nil:
		// buf is full; the object must end here.
		var probe [1]byte
		if m, _ := body.Read(probe[:]); m > 0 {
			return 0, dsserr.New(dsserr.ErrGeneric, op, fmt.Sprintf("buffer of %d bytes too small", len(buf)))
		}
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
	default:
		return 0, dsserr.FromTransport(op, err)
	}
	return n, nil
}

// DeleteObject removes key.
func (c *Client) DeleteObject(ctx context.Context, key string) error {
	_, err := c.cmap.Dispatch(ctx, clustermap.OpDelete, clustermap.NewRequest(key, ""))
	return err
}

// PutObjectAsync uploads srcPath under key on the runtime worker pool. cb,
// when non-nil, is invoked once with the outcome and arg.
func (c *Client) PutObjectAsync(ctx context.Context, key, srcPath string, cb Callback, arg any) (*Future, error) {
	req := clustermap.NewRequest(key, srcPath)
	req.Callback = cb
	req.Arg = arg
	return c.cmap.DispatchAsync(ctx, clustermap.OpPut, req)
}

// PutObjectBufferAsync uploads data under key on the runtime worker pool.
func (c *Client) PutObjectBufferAsync(ctx context.Context, key string, data []byte, cb Callback, arg any) (*Future, error) {
	req := clustermap.NewRequest(key, "")
	req.Body = bytes.NewReader(data)
	req.Size = int64(len(data))
	req.Callback = cb
	req.Arg = arg
	return c.cmap.DispatchAsync(ctx, clustermap.OpPut, req)
}

// GetObjectAsync downloads key on the runtime worker pool. With an empty
// destPath the object bytes are delivered in Completion.Data.
func (c *Client) GetObjectAsync(ctx context.Context, key, destPath string, cb Callback, arg any) (*Future, error) {
	req := clustermap.NewRequest(key, destPath)
	req.Callback = cb
	req.Arg = arg
	return c.cmap.DispatchAsync(ctx, clustermap.OpGet, req)
}

// ListOption customises listings.
type ListOption func(*clustermap.ListOptions)

// WithDelimiter groups keys sharing a prefix up to delim.
func WithDelimiter(delim string) ListOption {
	return func(o *clustermap.ListOptions) {
		o.Delimiter = delim
	}
}

// WithCommonPrefixes includes grouped prefixes in the results.
func WithCommonPrefixes() ListOption {
	return func(o *clustermap.ListOptions) {
		o.CommonPrefixes = true
	}
}

// WithPageSize bounds each cursor page. Zero is unbounded.
func WithPageSize(n int) ListOption {
	return func(o *clustermap.ListOptions) {
		o.PageSize = n
	}
}

// ListAll returns every key under prefix across all clusters, sorted.
func (c *Client) ListAll(ctx context.Context, prefix string, opts ...ListOption) ([]string, error) {
	var lo clustermap.ListOptions
	for _, opt := range opts {
		opt(&lo)
	}
	return c.cmap.ListAll(ctx, prefix, lo)
}

// GetObjects returns a paginated cursor over prefix. The page size defaults
// to Config.PageSize.
func (c *Client) GetObjects(prefix string, opts ...ListOption) (*Objects, error) {
	lo := clustermap.ListOptions{PageSize: c.cfg.PageSize}
	for _, opt := range opts {
		opt(&lo)
	}
	if lo.PageSize < 0 {
		return nil, dsserr.New(dsserr.ErrGeneric, "list_objects", "page size must be >= 0")
	}
	if c.cmap.Len() == 0 {
		return nil, dsserr.New(dsserr.ErrGeneric, "list_objects", "cluster map not initialized")
	}
	return c.cmap.NewObjects(prefix, lo), nil
}

// TryLock attempts to take the advisory deployment lock.
func (c *Client) TryLock(ctx context.Context) (bool, error) {
	return c.cmap.TryLock(ctx)
}

// Unlock releases the advisory deployment lock.
func (c *Client) Unlock(ctx context.Context) error {
	return c.cmap.Unlock(ctx)
}

// Placement describes where a key lives.
type Placement struct {
	Key      string
	Cluster  int
	Bucket   string
	Endpoint string
	Weight   uint64
}

// Locate reports the cluster and replica serving key without contacting it.
func (c *Client) Locate(key string) (Placement, error) {
	req := clustermap.NewRequest(key, "")
	ep, err := c.cmap.ResolveEndpoint(req)
	if err != nil {
		return Placement{}, err
	}
	return Placement{
		Key:      key,
		Cluster:  req.Cluster().ID(),
		Bucket:   req.Cluster().Bucket(),
		Endpoint: ep.Address(),
		Weight:   req.Weight(),
	}, nil
}

// ClusterInfo is one cluster of the loaded topology.
type ClusterInfo struct {
	ID        int      `yaml:"id" json:"id"`
	Bucket    string   `yaml:"bucket" json:"bucket"`
	Endpoints []string `yaml:"endpoints" json:"endpoints"`
}

// Topology describes the loaded clusters and this instance's replicas.
type Topology struct {
	InstanceID string        `yaml:"instance_id" json:"instance_id"`
	WaitTime   time.Duration `yaml:"wait_time" json:"wait_time"`
	Clusters   []ClusterInfo `yaml:"clusters" json:"clusters"`
}

// Topology returns the loaded cluster layout.
func (c *Client) Topology() Topology {
	t := Topology{InstanceID: c.cmap.InstanceID(), WaitTime: c.cmap.WaitTime()}
	for _, cl := range c.cmap.Clusters() {
		info := ClusterInfo{ID: cl.ID(), Bucket: cl.Bucket()}
		for _, ep := range cl.Endpoints() {
			info.Endpoints = append(info.Endpoints, ep.Address())
		}
		t.Clusters = append(t.Clusters, info)
	}
	return t
}

// Close releases every transport session. It does not shut down the Runtime.
func (c *Client) Close() error {
	var errs []error
	if err := c.cmap.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.discovery != nil {
		if err := c.discovery.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.logger.Debug("client.closed")
	return errors.Join(errs...)
}
