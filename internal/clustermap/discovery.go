package clustermap

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"time"

	"github.com/tidwall/jsonc"
)

const (
	// DiscoveryBucket holds the topology document.
	DiscoveryBucket = "dss"
	// DiscoveryKey is the topology document's object key.
	DiscoveryKey = "conf.json"
)

// Document is the topology descriptor. Both the remote object and local
// files may use JSONC (comments and trailing commas).
type Document struct {
	// InitTime is the bucket propagation wait in minutes.
	InitTime *uint          `json:"init_time,omitempty"`
	Clusters []ClusterEntry `json:"clusters"`
}

// ClusterEntry lists the candidate endpoints of one shard.
type ClusterEntry struct {
	ID        *uint           `json:"id"`
	Endpoints []EndpointEntry `json:"endpoints"`
}

// EndpointEntry is one candidate replica node.
type EndpointEntry struct {
	IPv4 string `json:"ipv4"`
	Port uint   `json:"port"`
}

// Address renders the entry as host:port.
func (e EndpointEntry) Address() string {
	return net.JoinHostPort(e.IPv4, strconv.FormatUint(uint64(e.Port), 10))
}

// MaxInitTime is the largest init_time, in minutes, that fits a time.Duration.
const MaxInitTime = uint(math.MaxInt64 / int64(time.Minute))

// ParseDocument decodes and validates a topology document.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", DiscoveryKey, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks that cluster ids are dense from zero and every endpoint
// is addressable.
func (d *Document) Validate() error {
	if d.Clusters == nil {
		return errors.New("topology: missing \"clusters\"")
	}
	if len(d.Clusters) == 0 {
		return errors.New("topology: no clusters")
	}
	if d.InitTime != nil && *d.InitTime > MaxInitTime {
		return fmt.Errorf("topology: init_time %d exceeds %d minutes", *d.InitTime, MaxInitTime)
	}
	seen := make([]bool, len(d.Clusters))
	for i, entry := range d.Clusters {
		if entry.ID == nil {
			return fmt.Errorf("topology: cluster entry %d has no id", i)
		}
		id := *entry.ID
		if id >= uint(len(d.Clusters)) {
			return fmt.Errorf("topology: cluster id %d leaves a gap (have %d clusters)", id, len(d.Clusters))
		}
		if seen[id] {
			return fmt.Errorf("topology: duplicate cluster id %d", id)
		}
		seen[id] = true
		if len(entry.Endpoints) == 0 {
			return fmt.Errorf("topology: cluster %d has no endpoints", id)
		}
		for j, ep := range entry.Endpoints {
			if ep.IPv4 == "" {
				return fmt.Errorf("topology: cluster %d endpoint %d has empty ipv4", id, j)
			}
			if ep.Port == 0 || ep.Port > 65535 {
				return fmt.Errorf("topology: cluster %d endpoint %d has invalid port %d", id, j, ep.Port)
			}
		}
	}
	return nil
}
