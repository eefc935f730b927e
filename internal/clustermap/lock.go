package clustermap

import (
	"context"
	"errors"

	"pkt.systems/dss/internal/dsserr"
	"pkt.systems/dss/internal/transport"
)

// LockBucket is the advisory lock bucket on the discovery endpoint.
const LockBucket = "dss-lock"

// TryLock creates the lock bucket. It reports false when the bucket already
// exists. The lock has no lease, owner token or fairness.
func (m *ClusterMap) TryLock(ctx context.Context) (bool, error) {
	if m.discovery == nil {
		return false, dsserr.New(dsserr.ErrGeneric, "try_lock", "no discovery endpoint configured")
	}
	err := m.discovery.CreateBucket(ctx, LockBucket)
	switch {
	case err == nil:
		m.logger.Info("clustermap.lock.acquired", "bucket", LockBucket)
		return true, nil
	case errors.Is(err, transport.ErrBucketOwned), errors.Is(err, transport.ErrBucketExists):
		m.logger.Debug("clustermap.lock.held", "bucket", LockBucket)
		return false, nil
	default:
		return false, dsserr.FromTransport("try_lock", err)
	}
}

// Unlock deletes the lock bucket.
func (m *ClusterMap) Unlock(ctx context.Context) error {
	if m.discovery == nil {
		return dsserr.New(dsserr.ErrGeneric, "unlock", "no discovery endpoint configured")
	}
	if err := m.discovery.DeleteBucket(ctx, LockBucket); err != nil {
		return dsserr.FromTransport("unlock", err)
	}
	m.logger.Info("clustermap.lock.released", "bucket", LockBucket)
	return nil
}
