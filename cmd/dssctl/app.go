package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"pkt.systems/dss"
	"pkt.systems/dss/internal/logutil"
	"pkt.systems/pslog"
)

// extraRuntimeOptions lets tests register additional transports.
var extraRuntimeOptions []dss.RuntimeOption

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(context.Background(),
		pslog.WithEnvPrefix(dss.EnvLogPrefix),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.WarnLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "dssctl")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if err != context.Canceled {
			fmt.Fprintf(os.Stderr, "dssctl: %s\n", err)
		}
		return 1
	}
	return 0
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}

func humanizeBytes(n int64) string {
	if n < 0 {
		return "unknown size"
	}
	return strings.ReplaceAll(humanize.Bytes(uint64(n)), " ", "")
}

func loadConfigFile() (string, error) {
	cfgPath := strings.TrimSpace(viper.GetString("config"))
	if cfgPath == "" {
		return "", nil
	}
	expanded, err := expandPath(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}
	viper.SetConfigFile(expanded)
	if err := viper.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func expandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	return filepath.Abs(p)
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dssctl",
		Short:         "dssctl talks to a sharded multi-cluster object store",
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: `
  # Upload and download through the discovery node at 10.0.0.10
  DSS_ENDPOINT=10.0.0.10:9000 DSS_ACCESS_KEY=key DSS_SECRET_KEY=secret dssctl put reports/q1.csv ./q1.csv
  dssctl get reports/q1.csv ./q1-copy.csv

  # Show which cluster and replica own a key
  dssctl route reports/q1.csv

  # Page through every cluster, 100 keys at a time
  dssctl ls reports/ --page-size 100
`,
	}

	flags := cmd.PersistentFlags()
	flags.StringP("config", "c", "", "path to YAML config file")
	flags.String("endpoint", "", "discovery node (host:port or http(s) URL)")
	flags.String("access-key", "", "S3 access key")
	flags.String("secret-key", "", "S3 secret key")
	flags.String("region", dss.DefaultRegion, "S3 signing region")
	flags.String("transport", dss.DefaultTransport, "S3 client implementation (minio, aws)")
	flags.String("instance-id", "", "placement identity; replicas are chosen per instance (default random)")
	flags.Int("endpoints-per-cluster", dss.DefaultEndpointsPerCluster, "replicas used per cluster")
	flags.String("discovery-file", "", "local topology document used instead of dss/conf.json")
	flags.Bool("insecure-skip-verify", false, "skip TLS certificate verification")
	flags.Duration("request-timeout", dss.DefaultRequestTimeout, "timeout per storage request")
	flags.Duration("connect-timeout", dss.DefaultConnectTimeout, "TCP connect timeout")
	flags.Int("max-attempts", dss.DefaultMaxAttempts, "attempts per storage request, including the first")
	flags.Int("max-connections", dss.DefaultMaxConnections, "idle connections kept per node")
	flags.String("log-level", "", "log level (trace, debug, info, warn, error)")

	viper.SetEnvPrefix("DSS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	bindFlags(flags,
		"config", "endpoint", "access-key", "secret-key", "region", "transport", "instance-id",
		"endpoints-per-cluster", "discovery-file", "insecure-skip-verify", "request-timeout",
		"connect-timeout", "max-attempts", "max-connections", "log-level",
	)

	cmd.AddCommand(newPutCommand(baseLogger))
	cmd.AddCommand(newGetCommand(baseLogger))
	cmd.AddCommand(newRemoveCommand(baseLogger))
	cmd.AddCommand(newListCommand(baseLogger))
	cmd.AddCommand(newRouteCommand(baseLogger))
	cmd.AddCommand(newTopologyCommand(baseLogger))
	cmd.AddCommand(newVerifyCommand(baseLogger))
	cmd.AddCommand(newLockCommand(baseLogger))
	cmd.AddCommand(newUnlockCommand(baseLogger))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func bindFlags(flags *pflag.FlagSet, names ...string) {
	for _, name := range names {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func bindConfig() (dss.Config, error) {
	cfg := dss.Config{
		Endpoint:            viper.GetString("endpoint"),
		AccessKey:           viper.GetString("access-key"),
		SecretKey:           viper.GetString("secret-key"),
		Region:              viper.GetString("region"),
		Transport:           viper.GetString("transport"),
		InstanceID:          viper.GetString("instance-id"),
		EndpointsPerCluster: viper.GetInt("endpoints-per-cluster"),
		DiscoveryFile:       viper.GetString("discovery-file"),
		SkipVerify:          viper.GetBool("insecure-skip-verify"),
		RequestTimeout:      viper.GetDuration("request-timeout"),
		ConnectTimeout:      viper.GetDuration("connect-timeout"),
		MaxAttempts:         viper.GetInt("max-attempts"),
		MaxConnections:      viper.GetInt("max-connections"),
	}
	cfg = dss.ConfigFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return dss.Config{}, err
	}
	return cfg, nil
}

// session is an open client plus the runtime it owns.
type session struct {
	client  *dss.Client
	runtime *dss.Runtime
	logger  pslog.Logger
}

func (s *session) Close() {
	_ = s.client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.runtime.Shutdown(ctx)
}

// openSession builds a client from flags, env and the config file. With
// bootstrap set the cluster map is fully initialised; otherwise only the
// topology is loaded.
func openSession(cmd *cobra.Command, baseLogger pslog.Logger, subsystem string, bootstrap bool) (*session, error) {
	configFile, err := loadConfigFile()
	if err != nil {
		return nil, err
	}
	logger := baseLogger
	if lvl := strings.TrimSpace(viper.GetString("log-level")); lvl != "" {
		if level, ok := pslog.ParseLevel(lvl); ok {
			logger = logger.LogLevel(level)
		} else {
			return nil, fmt.Errorf("unknown log level %q", lvl)
		}
	}
	cliLogger := logutil.WithSubsystem(logger, logutil.Subsystem("cli", subsystem))
	if configFile != "" {
		cliLogger.Debug("loaded config file", "path", configFile)
	}
	cfg, err := bindConfig()
	if err != nil {
		return nil, err
	}
	opts := append([]dss.RuntimeOption{dss.WithRuntimeLogger(logger), dss.WithWorkers(4, 64)}, extraRuntimeOptions...)
	rt, err := dss.NewRuntime(opts...)
	if err != nil {
		return nil, err
	}
	ctx := cmd.Context()
	client, err := dss.New(ctx, cfg, dss.WithRuntime(rt))
	if err != nil {
		_ = rt.Shutdown(ctx)
		return nil, err
	}
	s := &session{client: client, runtime: rt, logger: cliLogger}
	if bootstrap {
		err = client.InitClusterMap(ctx)
	} else {
		err = client.LoadTopology(ctx)
	}
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
