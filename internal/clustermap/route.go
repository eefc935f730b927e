package clustermap

import (
	"strconv"

	"pkt.systems/dss/internal/dsserr"
)

// Route assigns req to the cluster with the strictly largest
// hash(decimal(i) + key); the lowest index wins ties. The winning weight is
// kept on req for replica selection.
func (m *ClusterMap) Route(req *Request) (*Cluster, error) {
	if len(m.clusters) == 0 {
		return nil, dsserr.New(dsserr.ErrGeneric, "route", "cluster map not initialized")
	}
	best := 0
	bestWeight := m.opts.Hash("0" + req.key)
	for i := 1; i < len(m.clusters); i++ {
		w := m.opts.Hash(strconv.Itoa(i) + req.key)
		if w > bestWeight {
			best, bestWeight = i, w
		}
	}
	req.cluster = m.clusters[best]
	req.weight = bestWeight
	m.logger.Trace("clustermap.route", "req", req.id.String(), "key", req.key, "cluster", best, "weight", bestWeight)
	return req.cluster, nil
}

// ResolveEndpoint routes req and returns the replica that serves it.
func (m *ClusterMap) ResolveEndpoint(req *Request) (*Endpoint, error) {
	c, err := m.Route(req)
	if err != nil {
		return nil, err
	}
	return c.ResolveEndpoint(req.weight), nil
}
