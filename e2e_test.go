package dss

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"

	"pkt.systems/dss/internal/transport"
	s3transport "pkt.systems/dss/internal/transport/s3"
)

func TestClientAgainstFakeS3(t *testing.T) {
	for _, name := range []string{TransportMinio, TransportAWS} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			server := httptest.NewServer(gofakes3.New(s3mem.New()).Server())
			t.Cleanup(server.Close)
			addr := strings.TrimPrefix(server.URL, "http://")
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				t.Fatalf("split %s: %v", addr, err)
			}

			seed, err := s3transport.New(transport.Options{Address: addr, AccessKey: "test", SecretKey: "test"})
			if err != nil {
				t.Fatalf("seed transport: %v", err)
			}
			if err := seed.CreateBucket(ctx, "dss"); err != nil {
				t.Fatalf("create discovery bucket: %v", err)
			}
			doc := fmt.Sprintf(`{"clusters": [
  {"id": 0, "endpoints": [{"ipv4": %q, "port": %s}]},
  {"id": 1, "endpoints": [{"ipv4": %q, "port": %s}]}
]}`, host, port, host, port)
			if _, err := seed.PutObject(ctx, "dss", "conf.json", strings.NewReader(doc), int64(len(doc))); err != nil {
				t.Fatalf("publish topology: %v", err)
			}

			rt, err := NewRuntime(WithWorkers(2, 8))
			if err != nil {
				t.Fatalf("runtime: %v", err)
			}
			t.Cleanup(func() { _ = rt.Shutdown(context.Background()) })
			cli, err := New(ctx, Config{
				Endpoint:    server.URL,
				AccessKey:   "test",
				SecretKey:   "test",
				Transport:   name,
				InstanceID:  "e2e",
				MaxAttempts: 1,
			}, WithRuntime(rt))
			if err != nil {
				t.Fatalf("new client: %v", err)
			}
			defer cli.Close()
			if err := cli.InitClusterMap(ctx); err != nil {
				t.Fatalf("init: %v", err)
			}

			keys := []string{"e2e/a", "e2e/b", "e2e/c", "e2e/d"}
			for _, key := range keys {
				if err := cli.PutObjectBuffer(ctx, key, []byte(key)); err != nil {
					t.Fatalf("put %s: %v", key, err)
				}
			}
			buf := make([]byte, 16)
			n, err := cli.GetObjectBuffer(ctx, "e2e/c", buf)
			if err != nil || string(buf[:n]) != "e2e/c" {
				t.Fatalf("get: %q %v", buf[:n], err)
			}
			listed, err := cli.ListAll(ctx, "e2e/")
			if err != nil || !reflect.DeepEqual(listed, keys) {
				t.Fatalf("list all: %v %v", listed, err)
			}
			if err := cli.DeleteObject(ctx, "e2e/c"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := cli.GetObjectBuffer(ctx, "e2e/c", buf); !errors.Is(err, ErrNoSuchResource) {
				t.Fatalf("expected no such resource, got %v", err)
			}
		})
	}
}
