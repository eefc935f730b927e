package clustermap

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"pkt.systems/dss/internal/clock"
	"pkt.systems/dss/internal/transport"
	"pkt.systems/dss/internal/transport/memory"
)

const testOwner = "test"

// topology renders a document with clusters clusters of perCluster
// endpoints each, addressed 10.0.<cluster>.<n>:9000.
func topology(clusters, perCluster int, initTime int) string {
	var b strings.Builder
	b.WriteString("{\n")
	if initTime >= 0 {
		fmt.Fprintf(&b, "  \"init_time\": %d,\n", initTime)
	}
	b.WriteString("  \"clusters\": [\n")
	for c := 0; c < clusters; c++ {
		fmt.Fprintf(&b, "    {\"id\": %d, \"endpoints\": [", c)
		for e := 0; e < perCluster; e++ {
			if e > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "{\"ipv4\": \"10.0.%d.%d\", \"port\": 9000}", c, e+1)
		}
		b.WriteString("]}")
		if c < clusters-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("  ]\n}\n")
	return b.String()
}

func memoryOpener(backend *memory.Backend, owner string) OpenFunc {
	open := backend.Constructor()
	return func(address string) (transport.Transport, error) {
		return open(transport.Options{Address: address, AccessKey: owner})
	}
}

func discoveryEndpoint(t *testing.T, backend *memory.Backend, owner string) *Endpoint {
	t.Helper()
	tr, err := memoryOpener(backend, owner)("discovery:9000")
	if err != nil {
		t.Fatalf("open discovery: %v", err)
	}
	return NewEndpoint("discovery:9000", tr)
}

// newTestMap publishes doc on backend and returns an unacquired map.
func newTestMap(t *testing.T, backend *memory.Backend, doc string, opts Options) *ClusterMap {
	t.Helper()
	if doc != "" {
		backend.Seed(DiscoveryBucket, DiscoveryKey, []byte(doc))
	}
	if opts.Open == nil {
		opts.Open = memoryOpener(backend, testOwner)
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewInstant(time.Unix(0, 0))
	}
	return New(discoveryEndpoint(t, backend, testOwner), opts)
}

// acquiredMap builds and acquires a map of clusters x perCluster endpoints.
func acquiredMap(t *testing.T, backend *memory.Backend, clusters, perCluster, epc int, opts Options) *ClusterMap {
	t.Helper()
	m := newTestMap(t, backend, topology(clusters, perCluster, -1), opts)
	if err := m.AcquireConfig(context.Background(), "instance-a", epc); err != nil {
		t.Fatalf("acquire config: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func createAll(t *testing.T, m *ClusterMap) {
	t.Helper()
	for _, c := range m.Clusters() {
		if err := c.primary().CreateBucket(context.Background(), c.Bucket()); err != nil {
			t.Fatalf("create %s: %v", c.Bucket(), err)
		}
	}
}
