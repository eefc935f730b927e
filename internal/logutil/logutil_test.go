package logutil

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"pkt.systems/pslog"
)

func TestSubsystem(t *testing.T) {
	if got := Subsystem("dss", "", ".clustermap."); got != "dss.clustermap" {
		t.Fatalf("Subsystem = %q", got)
	}
	if got := Subsystem(); got != "" {
		t.Fatalf("empty Subsystem = %q", got)
	}
}

func TestWithSubsystemTagsEntries(t *testing.T) {
	var buf bytes.Buffer
	logger := pslog.NewWithOptions(context.Background(), &buf, pslog.Options{
		Mode:             pslog.ModeStructured,
		DisableTimestamp: true,
		NoColor:          true,
		MinLevel:         pslog.InfoLevel,
	})
	WithSubsystem(logger, "dss.client").Info("hello")
	if !strings.Contains(buf.String(), "dss.client") {
		t.Fatalf("missing subsystem tag: %s", buf.String())
	}
	if WithSubsystem(nil, "x") == nil {
		t.Fatalf("nil logger not replaced")
	}
}
