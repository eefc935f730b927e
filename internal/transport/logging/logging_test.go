package logging_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"pkt.systems/dss/internal/correlation"
	"pkt.systems/dss/internal/transport"
	"pkt.systems/dss/internal/transport/logging"
	"pkt.systems/dss/internal/transport/memory"
	"pkt.systems/pslog"
)

func TestWrapLogsAndPassesThrough(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := pslog.NewWithOptions(ctx, &buf, pslog.Options{
		Mode:             pslog.ModeStructured,
		DisableTimestamp: true,
		NoColor:          true,
		MinLevel:         pslog.TraceLevel,
	})

	backend := memory.New()
	inner, err := backend.Constructor()(transport.Options{Address: "10.0.0.1:9000"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tr := logging.Wrap(inner, logger, "10.0.0.1:9000")

	if err := tr.CreateBucket(correlation.WithID(ctx, "cid-create"), "dss0"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := tr.HeadBucket(ctx, "dss9"); !errors.Is(err, transport.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	out := buf.String()
	for _, want := range []string{"transport.create_bucket.success", "cid-create", "transport.head_bucket.error"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %q: %s", want, out)
		}
	}
}
