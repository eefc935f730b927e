package dss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"pkt.systems/dss/internal/clock"
	"pkt.systems/dss/internal/logutil"
	"pkt.systems/dss/internal/metrics"
	"pkt.systems/dss/internal/transport"
	awstransport "pkt.systems/dss/internal/transport/aws"
	s3transport "pkt.systems/dss/internal/transport/s3"
	"pkt.systems/dss/internal/workpool"
	"pkt.systems/pslog"
)

const (
	// EnvLogPrefix is the pslog environment prefix read by RuntimeFromEnv.
	EnvLogPrefix = "DSS_LOG_"
	// EnvLogFilename redirects runtime logging to a file.
	EnvLogFilename = "DSS_LOG_FILENAME"
)

// bootstrapMu serialises bucket bootstrap across every Runtime in the process.
var bootstrapMu sync.Mutex

// Runtime holds the collaborators shared by every Client built on it: the
// logger, transport constructors, async worker pool, clock and metrics
// registry. Bootstrap verification is serialised process-wide, also across
// separate Runtimes.
type Runtime struct {
	logger     pslog.Logger
	transports map[string]transport.Constructor
	pool       *workpool.Pool
	bootstrap  *sync.Mutex
	clock      clock.Clock
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	logFile    io.Closer

	shutdownOnce sync.Once
	shutdownErr  error
}

type runtimeOptions struct {
	logger     pslog.Logger
	workers    int
	queueSize  int
	clock      clock.Clock
	registry   *prometheus.Registry
	transports map[string]transport.Constructor
	logFile    io.Closer
}

// RuntimeOption customises NewRuntime.
type RuntimeOption func(*runtimeOptions)

// WithRuntimeLogger sets the base logger.
func WithRuntimeLogger(l pslog.Logger) RuntimeOption {
	return func(o *runtimeOptions) {
		o.logger = l
	}
}

// WithWorkers sizes the async worker pool and its queue.
func WithWorkers(workers, queueSize int) RuntimeOption {
	return func(o *runtimeOptions) {
		o.workers = workers
		o.queueSize = queueSize
	}
}

// WithClock overrides the clock used for bootstrap waits and retry backoff.
func WithClock(c clock.Clock) RuntimeOption {
	return func(o *runtimeOptions) {
		o.clock = c
	}
}

// WithRegistry registers runtime metrics with reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) RuntimeOption {
	return func(o *runtimeOptions) {
		o.registry = reg
	}
}

// WithTransport registers ctor under name, replacing any built-in
// constructor of that name.
func WithTransport(name string, ctor transport.Constructor) RuntimeOption {
	return func(o *runtimeOptions) {
		if o.transports == nil {
			o.transports = make(map[string]transport.Constructor)
		}
		o.transports[strings.ToLower(name)] = ctor
	}
}

func withLogFile(f io.Closer) RuntimeOption {
	return func(o *runtimeOptions) {
		o.logFile = f
	}
}

// NewRuntime builds a Runtime. It starts the worker pool, so Shutdown must
// be called when the Runtime is no longer needed.
func NewRuntime(opts ...RuntimeOption) (*Runtime, error) {
	o := runtimeOptions{
		workers:   runtime.GOMAXPROCS(0) * 4,
		queueSize: 1024,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.clock == nil {
		o.clock = clock.Real{}
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}
	m, err := metrics.New(o.registry)
	if err != nil {
		return nil, fmt.Errorf("dss: register metrics: %w", err)
	}
	logger := logutil.Ensure(o.logger)
	transports := map[string]transport.Constructor{
		TransportMinio: s3transport.Constructor,
		TransportAWS:   awstransport.Constructor,
	}
	for name, ctor := range o.transports {
		transports[name] = ctor
	}
	rt := &Runtime{
		logger:     logger,
		transports: transports,
		pool:       workpool.New(o.workers, o.queueSize, logger),
		bootstrap:  &bootstrapMu,
		clock:      o.clock,
		registry:   o.registry,
		metrics:    m,
		logFile:    o.logFile,
	}
	logutil.WithSubsystem(logger, "dss.runtime").Debug("runtime.start", "workers", o.workers, "queue", o.queueSize)
	return rt, nil
}

// RuntimeFromEnv builds a Runtime whose logger is configured from DSS_LOG_*
// and written to DSS_LOG_FILENAME when set, otherwise to stderr.
func RuntimeFromEnv(ctx context.Context, opts ...RuntimeOption) (*Runtime, error) {
	var writer io.Writer = os.Stderr
	var logFile *os.File
	if name := strings.TrimSpace(os.Getenv(EnvLogFilename)); name != "" {
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("dss: open log file: %w", err)
		}
		writer = f
		logFile = f
	}
	logger := pslog.LoggerFromEnv(ctx,
		pslog.WithEnvPrefix(EnvLogPrefix),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(writer),
	).With("app", "dss")
	all := append([]RuntimeOption{WithRuntimeLogger(logger)}, opts...)
	if logFile != nil {
		all = append(all, withLogFile(logFile))
	}
	rt, err := NewRuntime(all...)
	if err != nil && logFile != nil {
		_ = logFile.Close()
	}
	return rt, err
}

var (
	defaultRuntimeOnce sync.Once
	defaultRuntime     *Runtime
	defaultRuntimeErr  error
)

// DefaultRuntime returns the process-wide Runtime, building it from the
// environment on first use.
func DefaultRuntime() (*Runtime, error) {
	defaultRuntimeOnce.Do(func() {
		defaultRuntime, defaultRuntimeErr = RuntimeFromEnv(context.Background())
	})
	return defaultRuntime, defaultRuntimeErr
}

// Logger returns the runtime's base logger.
func (r *Runtime) Logger() pslog.Logger { return r.logger }

// Registry returns the Prometheus registry holding dss metrics.
func (r *Runtime) Registry() *prometheus.Registry { return r.registry }

// Pool returns the async worker pool.
func (r *Runtime) Pool() *workpool.Pool { return r.pool }

func (r *Runtime) constructor(name string) (transport.Constructor, error) {
	ctor, ok := r.transports[strings.ToLower(name)]
	if !ok || ctor == nil {
		names := make([]string, 0, len(r.transports))
		for n := range r.transports {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("dss: unknown transport %q (options: %s)", name, strings.Join(names, ", "))
	}
	return ctor, nil
}

// Shutdown drains the worker pool and closes the log file. Only the first
// call has any effect; later calls return the first result.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.shutdownOnce.Do(func() {
		var errs []error
		if err := r.pool.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("dss: drain worker pool: %w", err))
		}
		logutil.WithSubsystem(r.logger, "dss.runtime").Debug("runtime.shutdown", "error", errors.Join(errs...))
		if r.logFile != nil {
			if err := r.logFile.Close(); err != nil {
				errs = append(errs, fmt.Errorf("dss: close log file: %w", err))
			}
		}
		r.shutdownErr = errors.Join(errs...)
	})
	return r.shutdownErr
}
