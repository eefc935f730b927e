package dss

import (
	"context"

	"pkt.systems/dss/internal/correlation"
)

// WithCorrelationID attaches id to ctx. Object operations issued with the
// returned context log it as "cid" and tag their transport spans with it.
// Without one, each operation logs its own generated request id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return correlation.WithID(ctx, id)
}

// CorrelationID returns the identifier attached by WithCorrelationID.
func CorrelationID(ctx context.Context) string {
	return correlation.ID(ctx)
}
