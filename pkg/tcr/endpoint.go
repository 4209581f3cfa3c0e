package tcr

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	standaloneScheme = "redis"
	clusterScheme    = "redis-cluster"
)

// BuildConnectionURI turns pool settings into a connection URI string.
//
// Standalone: redis://host:port/partition
// Cluster:    redis-cluster://host:port?node=url1&node=url2
//
// In cluster mode the host:port is present only to satisfy URI parsing; the
// driver addresses the nodes from the query string.
func BuildConnectionURI(cfg *PoolConfig) string {
	if cfg.ClusterEnabled {
		params := make([]string, 0, len(cfg.ClusterURLs))
		for _, nodeURL := range cfg.ClusterURLs {
			params = append(params, "node="+nodeURL)
		}

		return fmt.Sprintf("%s://%s:%d?%s", clusterScheme, cfg.Host, cfg.Port, strings.Join(params, "&"))
	}

	return fmt.Sprintf("%s://%s:%d/%d", standaloneScheme, cfg.Host, cfg.Port, cfg.Partition)
}

// ParseConnectionURI parses a connection URI back into a driver ConnectionConfig.
func ParseConnectionURI(uri string) (*ConnectionConfig, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, &ConfigurationError{Op: "parse uri", Err: err}
	}

	config := &ConnectionConfig{URI: uri}

	if parsed.User != nil {
		config.Username = parsed.User.Username()
		config.Password, _ = parsed.User.Password()
	}

	switch parsed.Scheme {
	case standaloneScheme:
		if parsed.Host == "" {
			return nil, &ConfigurationError{Op: "parse uri", Err: fmt.Errorf("missing host in %q", uri)}
		}

		config.Addresses = []string{parsed.Host}

		if partition := strings.TrimPrefix(parsed.Path, "/"); partition != "" {
			db, err := strconv.Atoi(partition)
			if err != nil {
				return nil, &ConfigurationError{Op: "parse uri", Err: fmt.Errorf("invalid partition %q", partition)}
			}
			config.Database = db
		}

	case clusterScheme:
		config.ClusterMode = true

		// The authority host:port is the first node, the rest ride in the query.
		if parsed.Host != "" {
			config.Addresses = append(config.Addresses, parsed.Host)
		}
		config.Addresses = append(config.Addresses, parsed.Query()["node"]...)
		if len(config.Addresses) == 0 {
			return nil, &ConfigurationError{Op: "parse uri", Err: fmt.Errorf("no cluster nodes in %q", uri)}
		}

	default:
		return nil, &ConfigurationError{Op: "parse uri", Err: fmt.Errorf("unsupported scheme %q", parsed.Scheme)}
	}

	return config, nil
}

// BuildConnectionConfig resolves the endpoint and layers the remaining driver
// options on top: RESP3 unless the legacy flag is set, tracing on, credentials,
// TLS and the broadcast buffer capacity.
func BuildConnectionConfig(cfg *PoolConfig) (*ConnectionConfig, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	connConfig, err := ParseConnectionURI(BuildConnectionURI(cfg))
	if err != nil {
		return nil, err
	}

	connConfig.ClientName = cfg.ApplicationName
	connConfig.UseLegacyVersion = cfg.UseLegacyVersion
	connConfig.TracingEnabled = true
	connConfig.BroadcastChannelCapacity = cfg.BroadcastChannelCapacity
	connConfig.ConnectionTimeout = time.Duration(cfg.ConnectionTimeout) * time.Millisecond

	if cfg.Username != "" {
		connConfig.Username = cfg.Username
		connConfig.Password = cfg.Password
	}

	if cfg.TLSConfig != nil && cfg.TLSConfig.EnableTLS {
		tlsConfig, err := CreateTLSConfig(cfg.TLSConfig.PEMCertLocation, cfg.TLSConfig.LocalCertLocation)
		if err != nil {
			return nil, &ConfigurationError{Op: "build tls config", Err: err}
		}

		tlsConfig.ServerName = cfg.TLSConfig.CertServerName
		connConfig.TLS = tlsConfig
	}

	return connConfig, nil
}

// ReconnectPolicy is a stateless constant-backoff reconnection policy. The
// attempt counter is owned by the connection host, not the policy.
type ReconnectPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// NewReconnectPolicy creates the constant policy from pool settings.
func NewReconnectPolicy(cfg *PoolConfig) ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts: cfg.ReconnectMaxAttempts,
		Delay:       time.Duration(cfg.ReconnectDelayInterval) * time.Millisecond,
	}
}

// Exhausted reports whether the policy gives up after the given number of
// consecutive failed attempts.
func (rp ReconnectPolicy) Exhausted(attempts int) bool {
	return attempts >= rp.MaxAttempts
}
