package instanceid_test

import (
	"testing"

	"github.com/google/uuid"

	"pkt.systems/dss/internal/instanceid"
)

func TestNewReturnsUUIDv7(t *testing.T) {
	t.Parallel()

	raw := instanceid.New()
	parsed, err := uuid.Parse(raw)
	if err != nil {
		t.Fatalf("uuid.Parse: %v", err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected version 7, got %d", parsed.Version())
	}
	if raw == instanceid.New() {
		t.Fatal("expected unique identities on subsequent calls")
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	if got := instanceid.Normalize("  node-a "); got != "node-a" {
		t.Fatalf("Normalize kept whitespace: %q", got)
	}
	if got := instanceid.Normalize(""); got == "" {
		t.Fatal("Normalize should generate an identity for empty input")
	}
}
