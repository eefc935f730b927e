package clustermap

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/dss/internal/dsserr"
	"pkt.systems/dss/internal/transport"
	"pkt.systems/dss/internal/transport/memory"
	"pkt.systems/dss/internal/workpool"
)

func TestDispatchRoundTrip(t *testing.T) {
	backend := memory.New()
	m := acquiredMap(t, backend, 3, 2, 2, Options{})
	createAll(t, m)
	ctx := context.Background()

	put := NewRequest("reports/q1.csv", "")
	put.Body = strings.NewReader("a,b,c")
	put.Size = 5
	if _, err := m.Dispatch(ctx, OpPut, put); err != nil {
		t.Fatalf("put: %v", err)
	}

	get := NewRequest("reports/q1.csv", "")
	res, err := m.Dispatch(ctx, OpGet, get)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if string(data) != "a,b,c" || res.Size != 5 {
		t.Fatalf("unexpected object %q size=%d", data, res.Size)
	}
	if get.Cluster() != put.Cluster() || get.Weight() != put.Weight() {
		t.Fatalf("put and get routed differently")
	}
	keys, err := m.ListAll(ctx, "reports/", ListOptions{})
	if err != nil || len(keys) != 1 {
		t.Fatalf("list after put: %v %v", keys, err)
	}

	if _, err := m.Dispatch(ctx, OpDelete, NewRequest("reports/q1.csv", "")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = m.Dispatch(ctx, OpGet, NewRequest("reports/q1.csv", ""))
	if !errors.Is(err, dsserr.ErrNoSuchResource) || errors.Is(err, dsserr.ErrGeneric) {
		t.Fatalf("expected only no such resource, got %v", err)
	}
}

func TestDispatchTransportFailureIsGeneric(t *testing.T) {
	backend := memory.New()
	m := acquiredMap(t, backend, 1, 1, 1, Options{})
	createAll(t, m)
	backend.SetFault(func(op, address, bucket, key string) error {
		return errors.New("internal error")
	})
	_, err := m.Dispatch(context.Background(), OpDelete, NewRequest("k", ""))
	if !errors.Is(err, dsserr.ErrGeneric) || !strings.Contains(err.Error(), "internal error") {
		t.Fatalf("expected generic error with transport message, got %v", err)
	}
}

func TestDispatchFilePaths(t *testing.T) {
	backend := memory.New()
	m := acquiredMap(t, backend, 2, 1, 1, Options{})
	createAll(t, m)
	ctx := context.Background()
	dir := t.TempDir()

	src := filepath.Join(dir, "src.bin")
	payload := bytes.Repeat([]byte("xyz"), 1000)
	if err := os.WriteFile(src, payload, 0o600); err != nil {
		t.Fatalf("write src: %v", err)
	}
	if _, err := m.Dispatch(ctx, OpPut, NewRequest("blob", src)); err != nil {
		t.Fatalf("put from file: %v", err)
	}
	dest := filepath.Join(dir, "dest.bin")
	res, err := m.Dispatch(ctx, OpGet, NewRequest("blob", dest))
	if err != nil {
		t.Fatalf("get into file: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil || !bytes.Equal(got, payload) || res.Size != int64(len(payload)) {
		t.Fatalf("downloaded file mismatch: err=%v size=%d", err, res.Size)
	}

	_, err = m.Dispatch(ctx, OpPut, NewRequest("blob", filepath.Join(dir, "absent")))
	if !errors.Is(err, dsserr.ErrGeneric) || !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("expected missing source error, got %v", err)
	}
	_, err = m.Dispatch(ctx, OpGet, NewRequest("blob", filepath.Join(dir, "no", "such", "dir", "out")))
	if !errors.Is(err, dsserr.ErrFileIO) {
		t.Fatalf("expected file io error, got %v", err)
	}
}

type failingBody struct {
	served int
}

func (f *failingBody) Read(p []byte) (int, error) {
	if f.served > 0 {
		return 0, errors.New("connection dropped mid-body")
	}
	n := copy(p, "partial")
	f.served += n
	return n, nil
}

func (f *failingBody) Close() error { return nil }

type brokenGet struct {
	transport.Transport
}

func (brokenGet) GetObject(context.Context, string, string) (io.ReadCloser, transport.ObjectInfo, error) {
	return &failingBody{}, transport.ObjectInfo{Size: 100}, nil
}

func (brokenGet) Close() error { return nil }

func TestDownloadLeavesNoPartialFile(t *testing.T) {
	m := New(nil, Options{})
	m.clusters = []*Cluster{newCluster(0, []*Endpoint{NewEndpoint("n1:9000", brokenGet{})}, "i", m.opts.Hash)}
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")
	_, err := m.Dispatch(context.Background(), OpGet, NewRequest("k", dest))
	if err == nil {
		t.Fatalf("expected failure on truncated body")
	}
	if errors.Is(err, dsserr.ErrFileIO) {
		t.Fatalf("read failures should not be reported as file io: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected empty directory, found %d entries", len(entries))
	}
}

func newPool(t *testing.T, workers, queue int) *workpool.Pool {
	t.Helper()
	pool := workpool.New(workers, queue, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Close(ctx)
	})
	return pool
}

func TestDispatchAsyncDeliversSuccessAndFailure(t *testing.T) {
	backend := memory.New()
	m := acquiredMap(t, backend, 2, 1, 1, Options{Pool: newPool(t, 4, 16)})
	createAll(t, m)
	ctx := context.Background()

	var mu sync.Mutex
	var completions []Completion
	record := func(c Completion) {
		mu.Lock()
		completions = append(completions, c)
		mu.Unlock()
	}

	put := NewRequest("async/key", "")
	put.Body = strings.NewReader("payload")
	put.Size = 7
	put.Callback = record
	put.Arg = "put-arg"
	future, err := m.DispatchAsync(ctx, OpPut, put)
	if err != nil {
		t.Fatalf("dispatch put: %v", err)
	}
	if c, err := future.Wait(ctx); err != nil || c.Status != StatusSucceeded {
		t.Fatalf("put completion: %+v %v", c, err)
	}

	get := NewRequest("async/key", "")
	get.Callback = record
	future, err = m.DispatchAsync(ctx, OpGet, get)
	if err != nil {
		t.Fatalf("dispatch get: %v", err)
	}
	c, err := future.Wait(ctx)
	if err != nil || string(c.Data) != "payload" || c.Size != 7 {
		t.Fatalf("get completion: %+v %v", c, err)
	}

	missing := NewRequest("async/missing", "")
	missing.Callback = record
	missing.Arg = 42
	future, err = m.DispatchAsync(ctx, OpGet, missing)
	if err != nil {
		t.Fatalf("dispatch missing: %v", err)
	}
	c, err = future.Wait(ctx)
	if !errors.Is(err, dsserr.ErrNoSuchResource) || c.Status != StatusFailed {
		t.Fatalf("missing completion: %+v %v", c, err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(completions) != 3 {
		t.Fatalf("expected a callback per request, got %d", len(completions))
	}
	if completions[0].Arg != "put-arg" || completions[0].Status != StatusSucceeded {
		t.Fatalf("put callback: %+v", completions[0])
	}
	last := completions[2]
	if last.Arg != 42 || last.Key != "async/missing" || last.Status != StatusFailed || !errors.Is(last.Err, dsserr.ErrNoSuchResource) {
		t.Fatalf("failure callback: %+v", last)
	}
}

func TestDispatchAsyncDownloadToFile(t *testing.T) {
	backend := memory.New()
	m := acquiredMap(t, backend, 1, 1, 1, Options{Pool: newPool(t, 1, 1)})
	createAll(t, m)
	backend.Seed("dss0", "file", []byte("contents"))
	dest := filepath.Join(t.TempDir(), "file")
	seen := make(chan bool, 1)
	req := NewRequest("file", dest)
	req.Callback = func(c Completion) {
		_, err := os.Stat(c.Path)
		seen <- err == nil
	}
	future, err := m.DispatchAsync(context.Background(), OpGet, req)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, err := future.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !<-seen {
		t.Fatalf("file should exist before the callback runs")
	}
}

func TestDispatchAsyncRejections(t *testing.T) {
	backend := memory.New()
	pool := workpool.New(1, 1, nil)
	m := acquiredMap(t, backend, 1, 1, 1, Options{Pool: pool})
	ctx := context.Background()

	if _, err := m.DispatchAsync(ctx, OpDelete, NewRequest("k", "")); !errors.Is(err, dsserr.ErrGeneric) {
		t.Fatalf("delete should not be accepted asynchronously: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	if err := pool.Submit(func(context.Context) {
		close(started)
		<-release
	}); err != nil {
		t.Fatalf("submit blocker: %v", err)
	}
	<-started
	if err := pool.Submit(func(context.Context) {}); err != nil {
		t.Fatalf("submit filler: %v", err)
	}
	_, err := m.DispatchAsync(ctx, OpGet, NewRequest("k", ""))
	if !errors.Is(err, dsserr.ErrGeneric) || !strings.Contains(err.Error(), "saturated") {
		t.Fatalf("expected saturation error, got %v", err)
	}
	close(release)

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Close(closeCtx); err != nil {
		t.Fatalf("close pool: %v", err)
	}
	_, err = m.DispatchAsync(ctx, OpGet, NewRequest("k", ""))
	if !errors.Is(err, dsserr.ErrGeneric) || !strings.Contains(err.Error(), "closed") {
		t.Fatalf("expected closed pool error, got %v", err)
	}
}
