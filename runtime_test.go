package dss

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pkt.systems/dss/internal/clock"
	"pkt.systems/dss/internal/transport/memory"
)

func newTestRuntime(t *testing.T, backend *memory.Backend) *Runtime {
	t.Helper()
	rt, err := NewRuntime(
		WithTransport("memory", backend.Constructor()),
		WithClock(clock.NewInstant(time.Unix(0, 0))),
		WithWorkers(2, 16),
	)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Shutdown(ctx)
	})
	return rt
}

func TestRuntimeUnknownTransport(t *testing.T) {
	rt := newTestRuntime(t, memory.New())
	_, err := New(context.Background(), Config{Endpoint: "h:1", Transport: "carrier-pigeon"}, WithRuntime(rt))
	if err == nil || !strings.Contains(err.Error(), "unknown transport") {
		t.Fatalf("expected unknown transport error, got %v", err)
	}
	for _, name := range []string{TransportMinio, TransportAWS, "memory"} {
		if _, err := rt.constructor(name); err != nil {
			t.Fatalf("constructor %s: %v", name, err)
		}
	}
}

func TestRuntimeShutdownOnce(t *testing.T) {
	rt, err := NewRuntime()
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	ctx := context.Background()
	if err := rt.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := rt.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	if err := rt.Pool().Submit(func(context.Context) {}); err == nil {
		t.Fatalf("pool should reject work after shutdown")
	}
}

func TestRuntimeFromEnvLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dss.log")
	t.Setenv(EnvLogFilename, path)
	rt, err := RuntimeFromEnv(context.Background())
	if err != nil {
		t.Fatalf("runtime from env: %v", err)
	}
	rt.Logger().Info("runtime.test")
	if err := rt.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "runtime.test") {
		t.Fatalf("log file missing entry: %q", data)
	}
}

func TestRuntimeSeparateRegistries(t *testing.T) {
	a, err := NewRuntime()
	if err != nil {
		t.Fatalf("first runtime: %v", err)
	}
	defer a.Shutdown(context.Background())
	b, err := NewRuntime()
	if err != nil {
		t.Fatalf("second runtime should register into its own registry: %v", err)
	}
	defer b.Shutdown(context.Background())
	if a.Registry() == b.Registry() {
		t.Fatalf("runtimes should not share a registry by default")
	}
}

func TestRuntimesShareBootstrapGuard(t *testing.T) {
	a := newTestRuntime(t, memory.New())
	b := newTestRuntime(t, memory.New())
	if a.bootstrap == nil || a.bootstrap != b.bootstrap {
		t.Fatalf("runtimes must share one bootstrap mutex: %p vs %p", a.bootstrap, b.bootstrap)
	}
	a.bootstrap.Lock()
	if b.bootstrap.TryLock() {
		b.bootstrap.Unlock()
		a.bootstrap.Unlock()
		t.Fatal("bootstrap held through one runtime was free through another")
	}
	a.bootstrap.Unlock()
}
