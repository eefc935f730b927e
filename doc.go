// Package dss is a client-side routing layer for a sharded, multi-cluster
// object store speaking the S3 protocol. Each key is owned by exactly one
// cluster, chosen by rendezvous hashing over the cluster ids, and served by
// one replica of that cluster, chosen from the winning hash weight. The
// cluster layout is read at startup from a discovery document (bucket "dss",
// key "conf.json") or from a local file.
//
// # Quick start
//
//	cfg := dss.Config{
//	    Endpoint:  "http://10.0.0.10:9000",
//	    AccessKey: os.Getenv("DSS_ACCESS_KEY"),
//	    SecretKey: os.Getenv("DSS_SECRET_KEY"),
//	}
//	cli, err := dss.New(ctx, dss.ConfigFromEnv(cfg))
//	if err != nil { log.Fatal(err) }
//	defer cli.Close()
//	if err := cli.InitClusterMap(ctx); err != nil { log.Fatal(err) }
//	if err := cli.PutObjectBuffer(ctx, "reports/q1.csv", data); err != nil {
//	    log.Fatal(err)
//	}
//
// InitClusterMap fetches the topology and runs the bootstrap sequence: every
// cluster bucket is created on its primary replica, the propagation wait from
// the document's init_time elapses, and all buckets must then be visible.
//
// # Runtime
//
// Process-wide state lives in a Runtime: the logger, the transport
// constructors, the async worker pool, the bootstrap mutex and the
// Prometheus registry. Clients share DefaultRuntime unless WithRuntime is
// given. RuntimeFromEnv reads DSS_LOG_* (pslog level and mode) and
// DSS_LOG_FILENAME.
//
// # Listing
//
// GetObjects returns an Objects cursor that walks every cluster in id order.
// Each Advance fills a page of at most Config.PageSize keys, possibly spanning
// clusters. Once Advance reports false the cursor must be Reset before reuse.
//
// # Correlation
//
// WithCorrelationID tags a context so the dispatch and transport log lines of
// every operation issued with it carry the same "cid" field.
//
// # Errors
//
// Every failure is a *Error classified by one of ErrNetwork, ErrDiscover,
// ErrGeneric, ErrNoSuchResource, ErrFileIO, ErrNewClient or ErrNoIterator,
// matched with errors.Is.
package dss
