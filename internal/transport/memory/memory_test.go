package memory_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"pkt.systems/dss/internal/transport"
	"pkt.systems/dss/internal/transport/memory"
)

func open(t *testing.T, backend *memory.Backend, addr, owner string) transport.Transport {
	t.Helper()
	tr, err := backend.Constructor()(transport.Options{Address: addr, AccessKey: owner})
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	return tr
}

func TestCreateBucketOwnership(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	alice := open(t, backend, "10.0.0.1:9000", "alice")
	bob := open(t, backend, "10.0.0.2:9000", "bob")

	if err := alice.CreateBucket(ctx, "dss0"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := alice.CreateBucket(ctx, "dss0"); !errors.Is(err, transport.ErrBucketOwned) {
		t.Fatalf("expected ErrBucketOwned, got %v", err)
	}
	if err := bob.CreateBucket(ctx, "dss0"); !errors.Is(err, transport.ErrBucketExists) {
		t.Fatalf("expected ErrBucketExists, got %v", err)
	}
	if err := bob.HeadBucket(ctx, "dss0"); err != nil {
		t.Fatalf("head from second node: %v", err)
	}
}

func TestObjectRoundTripAndNotFound(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	tr := open(t, backend, "n1:9000", "")
	if err := tr.CreateBucket(ctx, "b"); err != nil {
		t.Fatalf("create: %v", err)
	}
	payload := []byte("hello")
	if _, err := tr.PutObject(ctx, "b", "k", bytes.NewReader(payload), int64(len(payload))); err != nil {
		t.Fatalf("put: %v", err)
	}
	rc, info, err := tr.GetObject(ctx, "b", "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, payload) || info.Size != int64(len(payload)) {
		t.Fatalf("unexpected object %q size=%d", got, info.Size)
	}
	if _, _, err := tr.GetObject(ctx, "b", "missing"); !errors.Is(err, transport.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := tr.HeadBucket(ctx, "nope"); !errors.Is(err, transport.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for head, got %v", err)
	}
	if backend.Calls("n1:9000") != 5 {
		t.Fatalf("expected 5 calls, got %d", backend.Calls("n1:9000"))
	}
}

func TestListPaginationAndDelimiter(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	for _, key := range []string{"a/1", "a/2", "b", "c/x/1", "d"} {
		backend.Seed("bk", key, []byte(key))
	}
	tr := open(t, backend, "n1:9000", "")

	var entries []string
	token := ""
	pages := 0
	for {
		out, err := tr.ListObjects(ctx, "bk", transport.ListInput{Delimiter: "/", MaxKeys: 1, ContinuationToken: token})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		pages++
		entries = append(entries, out.Keys...)
		entries = append(entries, out.CommonPrefixes...)
		if !out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	want := []string{"a/", "b", "c/", "d"}
	if !reflect.DeepEqual(entries, want) {
		t.Fatalf("entries = %v, want %v", entries, want)
	}
	if pages != 4 {
		t.Fatalf("expected 4 pages, got %d", pages)
	}

	out, err := tr.ListObjects(ctx, "bk", transport.ListInput{Prefix: "a/"})
	if err != nil {
		t.Fatalf("list prefix: %v", err)
	}
	if !reflect.DeepEqual(out.Keys, []string{"a/1", "a/2"}) || out.IsTruncated {
		t.Fatalf("unexpected prefix listing %+v", out)
	}
}

func TestFaultAndClose(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	tr := open(t, backend, "n1:9000", "")
	boom := errors.New("boom")
	backend.SetFault(func(op, addr, bucket, key string) error {
		if op == "head_bucket" && strings.HasPrefix(bucket, "dss") {
			return boom
		}
		return nil
	})
	if err := tr.HeadBucket(ctx, "dss1"); !errors.Is(err, boom) {
		t.Fatalf("expected injected fault, got %v", err)
	}
	backend.SetFault(nil)
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := tr.CreateBucket(ctx, "x"); !errors.Is(err, transport.ErrConnection) {
		t.Fatalf("expected ErrConnection after close, got %v", err)
	}
}
