package clustermap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pkt.systems/dss/internal/dsserr"
	"pkt.systems/dss/internal/transport"
)

// BucketStatus summarises which cluster buckets exist.
type BucketStatus int

const (
	// BucketsAllGood means every cluster bucket exists.
	BucketsAllGood BucketStatus = iota
	// BucketsEmpty means no cluster bucket exists.
	BucketsEmpty
	// BucketsPartial means some buckets exist and some do not.
	BucketsPartial
)

func (s BucketStatus) String() string {
	switch s {
	case BucketsAllGood:
		return "all_good"
	case BucketsEmpty:
		return "empty"
	case BucketsPartial:
		return "partial"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// VerifyClusterConf runs the bootstrap sequence: create every cluster bucket,
// wait for propagation, then require that every bucket is visible. It holds
// the bootstrap mutex for the whole sequence.
func (m *ClusterMap) VerifyClusterConf(ctx context.Context) error {
	const op = "verify_cluster_conf"
	if len(m.clusters) == 0 {
		return dsserr.New(dsserr.ErrGeneric, op, "cluster map not initialized")
	}
	m.opts.Bootstrap.Lock()
	defer m.opts.Bootstrap.Unlock()

	// CREATE
	for _, c := range m.clusters {
		ep := c.primary()
		err := ep.CreateBucket(ctx, c.bucket)
		switch {
		case err == nil:
			m.logger.Info("clustermap.verify.bucket_created", "cluster", c.id, "bucket", c.bucket, "endpoint", ep.Address())
		case errors.Is(err, transport.ErrBucketOwned):
			m.logger.Debug("clustermap.verify.bucket_owned", "cluster", c.id, "bucket", c.bucket)
		default:
			m.logger.Error("clustermap.verify.create_error", "cluster", c.id, "bucket", c.bucket, "error", err)
			m.opts.Metrics.ObserveBootstrap("create_failed")
			return dsserr.Wrap(dsserr.ErrNewClient, op,
				fmt.Sprintf("failed to create bucket on cluster %d (msg=%s)", c.id, err.Error()), err)
		}
	}

	// TEST
	if m.waitTime > 0 {
		m.logger.Info("clustermap.verify.wait", "duration", m.waitTime)
		if err := m.opts.Clock.Sleep(ctx, m.waitTime); err != nil {
			return dsserr.Wrap(dsserr.ErrNewClient, op, "interrupted while waiting for bucket propagation", err)
		}
	}
	status, err := m.detect(ctx, true)
	m.opts.Metrics.ObserveBootstrap(status.String())
	if err != nil {
		return err
	}

	// EXIT
	if status != BucketsAllGood {
		return dsserr.New(dsserr.ErrNewClient, op, fmt.Sprintf("cluster buckets %s after create", status))
	}
	m.logger.Info("clustermap.verify.success", "clusters", len(m.clusters))
	return nil
}

// DetectClusterBuckets checks every cluster bucket on its primary endpoint.
// With force set, a partial result is returned as an error naming each
// cluster's state.
func (m *ClusterMap) DetectClusterBuckets(ctx context.Context, force bool) (BucketStatus, error) {
	if len(m.clusters) == 0 {
		return BucketsEmpty, dsserr.New(dsserr.ErrGeneric, "detect_cluster_buckets", "cluster map not initialized")
	}
	m.opts.Bootstrap.Lock()
	defer m.opts.Bootstrap.Unlock()
	return m.detect(ctx, force)
}

func (m *ClusterMap) detect(ctx context.Context, force bool) (BucketStatus, error) {
	const op = "detect_cluster_buckets"
	present := make([]bool, len(m.clusters))
	found := 0
	for i, c := range m.clusters {
		err := c.primary().HeadBucket(ctx, c.bucket)
		switch {
		case err == nil:
			present[i] = true
			found++
		case errors.Is(err, transport.ErrNotFound):
		case transport.IsConnectionError(err):
			return BucketsPartial, dsserr.Wrap(dsserr.ErrNetwork, op, fmt.Sprintf("cluster %d unreachable", c.id), err)
		default:
			return BucketsPartial, dsserr.Wrap(dsserr.ErrGeneric, op, fmt.Sprintf("head bucket on cluster %d", c.id), err)
		}
	}
	var status BucketStatus
	switch found {
	case len(m.clusters):
		status = BucketsAllGood
	case 0:
		status = BucketsEmpty
	default:
		status = BucketsPartial
	}
	m.logger.Debug("clustermap.detect", "status", status.String(), "present", found, "clusters", len(m.clusters))
	if force && status == BucketsPartial {
		lines := make([]string, len(m.clusters))
		for i, c := range m.clusters {
			state := "missing"
			if present[i] {
				state = "present"
			}
			lines[i] = fmt.Sprintf("cluster %d : %s", c.id, state)
		}
		return status, dsserr.New(dsserr.ErrNewClient, op, "inconsistent cluster buckets: "+strings.Join(lines, ", "))
	}
	return status, nil
}
