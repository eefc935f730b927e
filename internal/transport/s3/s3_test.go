package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http/httptest"
	"sort"
	"strings"
	"syscall"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	minio "github.com/minio/minio-go/v7"

	"pkt.systems/dss/internal/transport"
)

func setupFakeS3(t *testing.T) (*Transport, *s3mem.Backend) {
	t.Helper()
	backend := s3mem.New()
	fs := gofakes3.New(backend)
	server := httptest.NewServer(fs.Server())
	t.Cleanup(server.Close)
	tr, err := New(transport.Options{
		Address:   strings.TrimPrefix(server.URL, "http://"),
		Region:    "us-east-1",
		AccessKey: "test",
		SecretKey: "test",
	})
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	return tr, backend
}

func TestObjectLifecycle(t *testing.T) {
	tr, _ := setupFakeS3(t)
	ctx := context.Background()

	if err := tr.HeadBucket(ctx, "dss0"); !errors.Is(err, transport.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before create, got %v", err)
	}
	if err := tr.CreateBucket(ctx, "dss0"); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	if err := tr.HeadBucket(ctx, "dss0"); err != nil {
		t.Fatalf("head bucket: %v", err)
	}

	payload := []byte("object payload")
	if _, err := tr.PutObject(ctx, "dss0", "dir/obj", bytes.NewReader(payload), int64(len(payload))); err != nil {
		t.Fatalf("put: %v", err)
	}
	rc, info, err := tr.GetObject(ctx, "dss0", "dir/obj")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: %q", got)
	}
	if info.Size != int64(len(payload)) {
		t.Fatalf("size = %d, want %d", info.Size, len(payload))
	}

	if _, _, err := tr.GetObject(ctx, "dss0", "missing"); !errors.Is(err, transport.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := tr.DeleteObject(ctx, "dss0", "dir/obj"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := tr.GetObject(ctx, "dss0", "dir/obj"); !errors.Is(err, transport.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := tr.DeleteBucket(ctx, "dss0"); err != nil {
		t.Fatalf("delete bucket: %v", err)
	}
}

func TestListObjectsDelimiter(t *testing.T) {
	tr, backend := setupFakeS3(t)
	ctx := context.Background()
	if err := backend.CreateBucket("dss1"); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	for _, key := range []string{"a/1", "a/2", "b", "c"} {
		if _, err := tr.PutObject(ctx, "dss1", key, strings.NewReader(key), int64(len(key))); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	out, err := tr.ListObjects(ctx, "dss1", transport.ListInput{Delimiter: "/"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	sort.Strings(out.Keys)
	if strings.Join(out.Keys, ",") != "b,c" {
		t.Fatalf("keys = %v", out.Keys)
	}
	if strings.Join(out.CommonPrefixes, ",") != "a/" {
		t.Fatalf("prefixes = %v", out.CommonPrefixes)
	}

	var all []string
	in := transport.ListInput{MaxKeys: 2}
	for i := 0; i < 10; i++ {
		page, err := tr.ListObjects(ctx, "dss1", in)
		if err != nil {
			t.Fatalf("list page: %v", err)
		}
		all = append(all, page.Keys...)
		if !page.IsTruncated {
			break
		}
		in.ContinuationToken = page.NextContinuationToken
	}
	sort.Strings(all)
	if strings.Join(all, ",") != "a/1,a/2,b,c" {
		t.Fatalf("paged keys = %v", all)
	}

	if _, err := tr.ListObjects(ctx, "nope", transport.ListInput{}); !errors.Is(err, transport.ErrNotFound) {
		t.Fatalf("expected ErrNotFound listing missing bucket, got %v", err)
	}
}

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      error
		transient bool
	}{
		{name: "no such key", err: minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}, kind: transport.ErrNotFound},
		{name: "owned", err: minio.ErrorResponse{Code: "BucketAlreadyOwnedByYou", StatusCode: 409}, kind: transport.ErrBucketOwned},
		{name: "exists", err: minio.ErrorResponse{Code: "BucketAlreadyExists", StatusCode: 409}, kind: transport.ErrBucketExists},
		{name: "refused", err: &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, kind: transport.ErrConnection, transient: true},
		{name: "slow down", err: minio.ErrorResponse{Code: "SlowDown", StatusCode: 503}, transient: true},
		{name: "deadline", err: context.DeadlineExceeded, transient: true},
		{name: "timeout", err: fakeTimeoutErr{}, transient: true},
		{name: "access denied", err: minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := classify(tc.err, "op")
			if tc.kind != nil && !errors.Is(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
			if !strings.HasPrefix(err.Error(), "op: ") {
				t.Fatalf("message not wrapped: %v", err)
			}
			if got := transport.IsTransient(err); got != tc.transient {
				t.Fatalf("transient = %v, want %v", got, tc.transient)
			}
		})
	}
}
