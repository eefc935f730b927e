package clustermap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"pkt.systems/dss/internal/correlation"
	"pkt.systems/dss/internal/dsserr"
	"pkt.systems/dss/internal/transport"
)

// Op selects the object operation a request performs.
type Op int

const (
	OpGet Op = iota
	OpPut
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpGet:
		return "get_object"
	case OpPut:
		return "put_object"
	case OpDelete:
		return "delete_object"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Result is the outcome of a successful dispatch. For a get without a local
// path Body is the open object stream and must be closed by the caller.
type Result struct {
	Body io.ReadCloser
	Size int64
	Info transport.ObjectInfo
}

// Dispatch routes req and performs op against the owning replica.
func (m *ClusterMap) Dispatch(ctx context.Context, op Op, req *Request) (Result, error) {
	c, err := m.Route(req)
	if err != nil {
		return Result{}, err
	}
	ep := c.ResolveEndpoint(req.weight)
	ctx, cid := correlation.Ensure(ctx, req.ID())
	start := time.Now()
	res, err := m.perform(ctx, op, c, ep, req)
	m.opts.Metrics.ObserveRequest(op.String(), c.id, err, time.Since(start))
	if err != nil {
		m.logger.Debug("clustermap.dispatch.error",
			"cid", cid,
			"op", op.String(),
			"key", req.key,
			"cluster", c.id,
			"endpoint", ep.Address(),
			"error", err,
		)
		return Result{}, err
	}
	m.logger.Trace("clustermap.dispatch.success",
		"cid", cid,
		"op", op.String(),
		"key", req.key,
		"cluster", c.id,
		"endpoint", ep.Address(),
		"elapsed", time.Since(start),
	)
	return res, nil
}

func (m *ClusterMap) perform(ctx context.Context, op Op, c *Cluster, ep *Endpoint, req *Request) (Result, error) {
	switch op {
	case OpGet:
		body, info, err := ep.GetObject(ctx, c.bucket, req.key)
		if err != nil {
			return Result{}, dsserr.FromTransport(op.String(), err)
		}
		if req.path == "" {
			return Result{Body: body, Size: info.Size, Info: info}, nil
		}
		defer body.Close()
		n, err := writeFileAtomic(op.String(), req.path, body)
		if err != nil {
			return Result{}, err
		}
		return Result{Size: n, Info: info}, nil
	case OpPut:
		body, size, closeFn, err := uploadSource(op.String(), req)
		if err != nil {
			return Result{}, err
		}
		defer closeFn()
		info, err := ep.PutObject(ctx, c.bucket, req.key, body, size)
		if err != nil {
			return Result{}, dsserr.FromTransport(op.String(), err)
		}
		return Result{Size: info.Size, Info: info}, nil
	case OpDelete:
		if err := ep.DeleteObject(ctx, c.bucket, req.key); err != nil {
			return Result{}, dsserr.FromTransport(op.String(), err)
		}
		return Result{}, nil
	default:
		return Result{}, dsserr.New(dsserr.ErrGeneric, op.String(), "unsupported operation")
	}
}

func uploadSource(op string, req *Request) (io.Reader, int64, func(), error) {
	if req.path == "" {
		if req.Body == nil {
			return nil, 0, nil, dsserr.New(dsserr.ErrGeneric, op, "request has neither a body nor a path")
		}
		return req.Body, req.Size, func() {}, nil
	}
	f, err := os.Open(req.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, nil, dsserr.Wrap(dsserr.ErrGeneric, op, fmt.Sprintf("file '%s' does not exist", req.path), err)
		}
		return nil, 0, nil, dsserr.Wrap(dsserr.ErrGeneric, op, "", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, nil, dsserr.Wrap(dsserr.ErrGeneric, op, "", err)
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, 0, nil, dsserr.New(dsserr.ErrGeneric, op, fmt.Sprintf("'%s' is a directory", req.path))
	}
	return f, st.Size(), func() { _ = f.Close() }, nil
}

type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}

// writeFileAtomic streams src into a temporary file beside dest and renames
// it into place once complete. A failed transfer never leaves dest partially
// written.
func writeFileAtomic(op, dest string, src io.Reader) (int64, error) {
	dir, base := filepath.Split(dest)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".dss-*")
	if err != nil {
		return 0, dsserr.Wrap(dsserr.ErrFileIO, op, "create temporary file", err)
	}
	tmpName := tmp.Name()
	fail := func(err error) (int64, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return 0, err
	}
	reader := &trackingReader{r: src}
	n, err := io.Copy(tmp, reader)
	if err != nil {
		if reader.err != nil {
			return fail(dsserr.FromTransport(op, reader.err))
		}
		return fail(dsserr.Wrap(dsserr.ErrFileIO, op, "write "+dest, err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(dsserr.Wrap(dsserr.ErrFileIO, op, "sync "+dest, err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return 0, dsserr.Wrap(dsserr.ErrFileIO, op, "close "+dest, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return 0, dsserr.Wrap(dsserr.ErrFileIO, op, "rename into "+dest, err)
	}
	return n, nil
}
