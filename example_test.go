package dss_test

import (
	"context"
	"fmt"
	"log"

	"pkt.systems/dss"
	"pkt.systems/dss/internal/transport/memory"
)

func Example() {
	ctx := context.Background()
	backend := memory.New()
	backend.Seed("dss", "conf.json", []byte(`{
  "clusters": [
    {"id": 0, "endpoints": [{"ipv4": "10.0.0.1", "port": 9000}]},
    {"id": 1, "endpoints": [{"ipv4": "10.0.1.1", "port": 9000}]}
  ]
}`))
	rt, err := dss.NewRuntime(dss.WithTransport("memory", backend.Constructor()))
	if err != nil {
		log.Fatal(err)
	}
	defer rt.Shutdown(ctx)

	cli, err := dss.New(ctx, dss.Config{Endpoint: "10.0.9.9:9000", Transport: "memory"}, dss.WithRuntime(rt))
	if err != nil {
		log.Fatal(err)
	}
	defer cli.Close()
	if err := cli.InitClusterMap(ctx); err != nil {
		log.Fatal(err)
	}
	if err := cli.PutObjectBuffer(ctx, "greeting", []byte("hello")); err != nil {
		log.Fatal(err)
	}
	buf := make([]byte, 16)
	n, err := cli.GetObjectBuffer(ctx, "greeting", buf)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(buf[:n]))
	// Output: hello
}
