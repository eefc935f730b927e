// Package clustermap implements the topology and routing engine: discovery of
// the cluster layout, per-instance replica placement, rendezvous routing of
// keys to clusters, bootstrap verification, request dispatch and the
// cross-cluster listing cursor.
package clustermap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"pkt.systems/dss/internal/clock"
	"pkt.systems/dss/internal/dsserr"
	"pkt.systems/dss/internal/logutil"
	"pkt.systems/dss/internal/metrics"
	"pkt.systems/dss/internal/transport"
	"pkt.systems/dss/internal/workpool"
	"pkt.systems/pslog"
)

// OpenFunc opens a transport session to a node address.
type OpenFunc func(address string) (transport.Transport, error)

// Options carries the collaborators a ClusterMap needs.
type Options struct {
	// Open creates sessions for the endpoints named in the topology.
	Open OpenFunc
	// DiscoveryFile, when set, is read instead of the remote document.
	DiscoveryFile string
	Logger        pslog.Logger
	Clock         clock.Clock
	Metrics       *metrics.Metrics
	// Pool runs async requests.
	Pool *workpool.Pool
	// Bootstrap serialises verification across every map sharing it.
	Bootstrap *sync.Mutex
	// Hash defaults to xxhash64.
	Hash func(string) uint64
}

// ClusterMap is the ordered set of clusters built from one topology
// document. It is read-only after AcquireConfig and safe for concurrent use.
type ClusterMap struct {
	discovery  *Endpoint
	opts       Options
	logger     pslog.Logger
	instanceID string
	clusters   []*Cluster
	waitTime   time.Duration
}

// New returns an empty map that fetches its topology through discovery.
func New(discovery *Endpoint, opts Options) *ClusterMap {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Hash == nil {
		opts.Hash = xxhash.Sum64String
	}
	if opts.Bootstrap == nil {
		opts.Bootstrap = &sync.Mutex{}
	}
	return &ClusterMap{
		discovery: discovery,
		opts:      opts,
		logger:    logutil.WithSubsystem(opts.Logger, "dss.clustermap"),
	}
}

// Clusters returns the clusters indexed by id.
func (m *ClusterMap) Clusters() []*Cluster {
	return append([]*Cluster(nil), m.clusters...)
}

// Len returns the number of clusters.
func (m *ClusterMap) Len() int { return len(m.clusters) }

// WaitTime is the bucket propagation wait taken from the topology.
func (m *ClusterMap) WaitTime() time.Duration { return m.waitTime }

// InstanceID returns the identity used for replica placement.
func (m *ClusterMap) InstanceID() string { return m.instanceID }

// Discovery returns the endpoint that serves the topology and lock bucket.
func (m *ClusterMap) Discovery() *Endpoint { return m.discovery }

// AcquireConfig loads the topology and builds every cluster, selecting up to
// endpointsPerCluster replicas per cluster for instanceID.
func (m *ClusterMap) AcquireConfig(ctx context.Context, instanceID string, endpointsPerCluster int) error {
	const op = "acquire_config"
	if endpointsPerCluster < 1 {
		return dsserr.New(dsserr.ErrGeneric, op, fmt.Sprintf("endpoints per cluster must be at least 1, got %d", endpointsPerCluster))
	}
	if m.opts.Open == nil {
		return dsserr.New(dsserr.ErrGeneric, op, "no transport opener configured")
	}
	if len(m.clusters) > 0 {
		return dsserr.New(dsserr.ErrGeneric, op, "topology already acquired")
	}
	data, err := m.readDocument(ctx)
	if err != nil {
		return err
	}
	doc, err := ParseDocument(data)
	if err != nil {
		m.logger.Error("clustermap.discover.parse_error", "error", err)
		return dsserr.Wrap(dsserr.ErrDiscover, op, "", err)
	}
	if doc.InitTime != nil {
		m.waitTime = time.Duration(*doc.InitTime) * time.Minute
	}

	clusters := make([]*Cluster, len(doc.Clusters))
	for _, entry := range doc.Clusters {
		selected := SelectEndpoints(entry.Endpoints, instanceID, endpointsPerCluster, m.opts.Hash)
		endpoints := make([]*Endpoint, 0, len(selected))
		for _, candidate := range selected {
			addr := candidate.Address()
			tr, err := m.opts.Open(addr)
			if err != nil {
				for _, ep := range endpoints {
					_ = ep.Close()
				}
				closeClusters(clusters)
				return dsserr.Wrap(dsserr.ErrGeneric, op, "open endpoint "+addr, err)
			}
			endpoints = append(endpoints, NewEndpoint(addr, tr))
		}
		id := int(*entry.ID)
		clusters[id] = newCluster(id, endpoints, instanceID, m.opts.Hash)
		m.logger.Debug("clustermap.discover.cluster",
			"cluster", id,
			"candidates", len(entry.Endpoints),
			"selected", len(endpoints),
			"primary", endpoints[0].Address(),
		)
	}
	m.clusters = clusters
	m.instanceID = instanceID
	m.logger.Info("clustermap.discover.success",
		"clusters", len(clusters),
		"endpoints_per_cluster", endpointsPerCluster,
		"wait_time", m.waitTime,
	)
	return nil
}

func (m *ClusterMap) readDocument(ctx context.Context) ([]byte, error) {
	const op = "acquire_config"
	if m.opts.DiscoveryFile != "" {
		m.logger.Debug("clustermap.discover.begin", "source", m.opts.DiscoveryFile)
		data, err := os.ReadFile(m.opts.DiscoveryFile)
		if err != nil {
			m.logger.Error("clustermap.discover.file_error", "path", m.opts.DiscoveryFile, "error", err)
			return nil, dsserr.Wrap(dsserr.ErrGeneric, op, "", err)
		}
		return data, nil
	}
	if m.discovery == nil {
		return nil, dsserr.New(dsserr.ErrGeneric, op, "no discovery endpoint configured")
	}
	m.logger.Debug("clustermap.discover.begin", "source", m.discovery.Address())
	body, _, err := m.discovery.GetObject(ctx, DiscoveryBucket, DiscoveryKey)
	if err != nil {
		return nil, m.discoveryError(err)
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, m.discoveryError(err)
	}
	return data, nil
}

func (m *ClusterMap) discoveryError(err error) error {
	m.logger.Error("clustermap.discover.fetch_error", "endpoint", m.discovery.Address(), "error", err)
	if transport.IsConnectionError(err) {
		return dsserr.Wrap(dsserr.ErrNetwork, "acquire_config", "unable to reach "+m.discovery.Address(), err)
	}
	return dsserr.Wrap(dsserr.ErrDiscover, "acquire_config", "failed to download "+DiscoveryKey, err)
}

// SelectEndpoints ranks candidates by hash(instanceID + ipv4) and returns up
// to n of them in descending weight order. Equal weights keep document order.
func SelectEndpoints(candidates []EndpointEntry, instanceID string, n int, hash func(string) uint64) []EndpointEntry {
	type ranked struct {
		entry  EndpointEntry
		weight uint64
	}
	ranking := make([]ranked, len(candidates))
	for i, candidate := range candidates {
		ranking[i] = ranked{entry: candidate, weight: hash(instanceID + candidate.IPv4)}
	}
	sort.SliceStable(ranking, func(i, j int) bool {
		return ranking[i].weight > ranking[j].weight
	})
	if n > len(ranking) {
		n = len(ranking)
	}
	out := make([]EndpointEntry, n)
	for i := range out {
		out[i] = ranking[i].entry
	}
	return out
}

// Close releases every cluster endpoint. The discovery endpoint belongs to
// the caller.
func (m *ClusterMap) Close() error {
	err := closeClusters(m.clusters)
	m.clusters = nil
	return err
}

func closeClusters(clusters []*Cluster) error {
	var errs []error
	for _, c := range clusters {
		if c == nil {
			continue
		}
		if err := c.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
