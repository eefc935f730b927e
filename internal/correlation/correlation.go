// Package correlation carries a request correlation identifier on a context
// so dispatch and transport log lines for one object operation can be joined.
package correlation

import (
	"context"
	"strings"

	"github.com/rs/xid"
)

// MaxIDLength defines the maximum number of characters accepted for correlation identifiers.
const MaxIDLength = 128

type contextKey struct{}

// WithID returns ctx carrying id. Invalid identifiers leave ctx unchanged.
func WithID(ctx context.Context, id string) context.Context {
	normalized, ok := Normalize(id)
	if !ok {
		return ctx
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, contextKey{}, normalized)
}

// ID retrieves the correlation ID stored on ctx, if any.
func ID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// Has reports whether ctx carries a correlation ID.
func Has(ctx context.Context) bool {
	return ID(ctx) != ""
}

// Ensure returns ctx unchanged when it already carries an ID, otherwise ctx
// with fallback attached. An empty fallback is replaced by a fresh ID.
func Ensure(ctx context.Context, fallback string) (context.Context, string) {
	if id := ID(ctx); id != "" {
		return ctx, id
	}
	if _, ok := Normalize(fallback); !ok {
		fallback = Generate()
	}
	ctx = WithID(ctx, fallback)
	return ctx, ID(ctx)
}

// Generate returns a new sortable identifier.
func Generate() string {
	return xid.New().String()
}

// Normalize validates and canonicalizes an external correlation identifier.
// It returns the normalized ID and true if the input is acceptable.
func Normalize(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", false
	}
	if len(id) > MaxIDLength {
		return "", false
	}
	for _, r := range id {
		if r < 0x20 || r > 0x7e {
			return "", false
		}
	}
	return id, true
}
