package dss

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"pkt.systems/dss/internal/instanceid"
)

const (
	// TransportMinio selects the minio-go transport.
	TransportMinio = "minio"
	// TransportAWS selects the aws-sdk-go-v2 transport.
	TransportAWS = "aws"
)

const (
	// DefaultTransport is used when Config.Transport is empty.
	DefaultTransport = TransportMinio
	// DefaultRegion is the signing region when none is configured.
	DefaultRegion = "us-east-1"
	// DefaultEndpointsPerCluster is how many replicas each client uses per cluster.
	DefaultEndpointsPerCluster = 1
	// DefaultRequestTimeout bounds a single transport call.
	DefaultRequestTimeout = 30 * time.Second
	// DefaultConnectTimeout bounds TCP connection establishment.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultKeepAlive is the TCP keep-alive period.
	DefaultKeepAlive = 30 * time.Second
	// DefaultMaxConnections caps idle connections per node.
	DefaultMaxConnections = 64
	// DefaultMaxAttempts is the transport retry budget, including the first try.
	DefaultMaxAttempts = 3
	// DefaultRetryBaseDelay is the first retry backoff.
	DefaultRetryBaseDelay = 100 * time.Millisecond
	// DefaultRetryMaxDelay caps retry backoff.
	DefaultRetryMaxDelay = 2 * time.Second
)

// EnvConfigFile names a local topology document that overrides the remote one.
const EnvConfigFile = "DSS_CONFIG_FILE"

// Config captures everything a Client needs to reach the discovery endpoint
// and the storage nodes it lists.
type Config struct {
	// Endpoint is the discovery node as host:port or an http(s) URL. An
	// https URL implies Secure.
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	// Transport is TransportMinio or TransportAWS.
	Transport string
	// InstanceID seeds replica placement. Empty generates a fresh identity,
	// so placement only replays when an id is configured.
	InstanceID          string
	EndpointsPerCluster int
	// DiscoveryFile is read instead of the remote topology document.
	DiscoveryFile  string
	Secure         bool
	SkipVerify     bool
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	MaxConnections int
	// MaxAttempts of 1 disables retries.
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// PageSize is the default page size for GetObjects. Zero lists each
	// cluster to completion per page.
	PageSize int
}

// Validate normalises the configuration and fills defaults.
func (c *Config) Validate() error {
	endpoint := strings.TrimSpace(c.Endpoint)
	if endpoint == "" && c.DiscoveryFile == "" {
		return fmt.Errorf("config: endpoint is required")
	}
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return fmt.Errorf("config: endpoint: %w", err)
		}
		switch strings.ToLower(u.Scheme) {
		case "http":
		case "https":
			c.Secure = true
		default:
			return fmt.Errorf("config: endpoint scheme must be http or https, got %q", u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("config: endpoint %q has no host", endpoint)
		}
		endpoint = u.Host
	}
	c.Endpoint = endpoint
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	if c.Transport == "" {
		c.Transport = DefaultTransport
	}
	c.InstanceID = instanceid.Normalize(c.InstanceID)
	if c.EndpointsPerCluster == 0 {
		c.EndpointsPerCluster = DefaultEndpointsPerCluster
	} else if c.EndpointsPerCluster < 0 {
		return fmt.Errorf("config: endpoints per cluster must be >= 1")
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	} else if c.MaxAttempts < 0 {
		return fmt.Errorf("config: max attempts must be >= 1")
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("config: retry max delay must be >= retry base delay")
	}
	if c.PageSize < 0 {
		return fmt.Errorf("config: page size must be >= 0")
	}
	return nil
}

// ConfigFromEnv returns base with environment overrides applied. Only
// DSS_CONFIG_FILE is consulted; it replaces DiscoveryFile when set.
func ConfigFromEnv(base Config) Config {
	if path, ok := os.LookupEnv(EnvConfigFile); ok && strings.TrimSpace(path) != "" {
		base.DiscoveryFile = strings.TrimSpace(path)
	}
	return base
}
