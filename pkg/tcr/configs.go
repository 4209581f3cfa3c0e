package tcr

import "fmt"

// RedisSeasoning represents the configuration values.
type RedisSeasoning struct {
	EncryptionConfig  *EncryptionConfig  `json:"EncryptionConfig" yaml:"EncryptionConfig"`
	CompressionConfig *CompressionConfig `json:"CompressionConfig" yaml:"CompressionConfig"`
	PoolConfig        *PoolConfig        `json:"PoolConfig" yaml:"PoolConfig"`
	ReplicaPoolConfig *PoolConfig        `json:"ReplicaPoolConfig,omitempty" yaml:"ReplicaPoolConfig,omitempty"`
	PublisherConfig   *PublisherConfig   `json:"PublisherConfig" yaml:"PublisherConfig"`
}

// PoolConfig represents settings for creating/configuring the reader or writer pool.
type PoolConfig struct {
	ApplicationName          string     `json:"ApplicationName" yaml:"ApplicationName"`
	Host                     string     `json:"Host" yaml:"Host"`
	Port                     int        `json:"Port" yaml:"Port"`
	ClusterEnabled           bool       `json:"ClusterEnabled" yaml:"ClusterEnabled"`
	ClusterURLs              []string   `json:"ClusterURLs" yaml:"ClusterURLs"`
	UseLegacyVersion         bool       `json:"UseLegacyVersion" yaml:"UseLegacyVersion"` // forces the RESP2 wire protocol
	Username                 string     `json:"Username,omitempty" yaml:"Username,omitempty"`
	Password                 string     `json:"Password,omitempty" yaml:"Password,omitempty"`
	PoolSize                 int        `json:"PoolSize" yaml:"PoolSize"`                             // number of connections to create in the pool
	ReconnectMaxAttempts     int        `json:"ReconnectMaxAttempts" yaml:"ReconnectMaxAttempts"`     // consecutive failures before a connection is abandoned
	ReconnectDelayInterval   uint32     `json:"ReconnectDelayInterval" yaml:"ReconnectDelayInterval"` // delay between reconnect attempts (ms)
	HeartbeatInterval        uint32     `json:"HeartbeatInterval" yaml:"HeartbeatInterval"`           // how often each connection is pinged (ms)
	ConnectionTimeout        uint32     `json:"ConnectionTimeout" yaml:"ConnectionTimeout"`           // dial/ping deadline (ms)
	SleepOnErrorInterval     uint32     `json:"SleepOnErrorInterval" yaml:"SleepOnErrorInterval"`     // sleep length on relay receive errors (ms)
	DefaultTTL               uint32     `json:"DefaultTTL" yaml:"DefaultTTL"`                         // TTL in seconds
	DefaultHashTTL           uint32     `json:"DefaultHashTTL" yaml:"DefaultHashTTL"`                 // TTL for hash-tables in seconds
	StreamReadCount          int64      `json:"StreamReadCount" yaml:"StreamReadCount"`               // batch size for stream reads
	Partition                int        `json:"Partition" yaml:"Partition"`                           // database index, standalone only
	BroadcastChannelCapacity int        `json:"BroadcastChannelCapacity" yaml:"BroadcastChannelCapacity"`
	TLSConfig                *TLSConfig `json:"TLSConfig,omitempty" yaml:"TLSConfig,omitempty"`
}

// TLSConfig represents settings for configuring TLS.
type TLSConfig struct {
	EnableTLS         bool   `json:"EnableTLS" yaml:"EnableTLS"`
	PEMCertLocation   string `json:"PEMCertLocation" yaml:"PEMCertLocation"`
	LocalCertLocation string `json:"LocalCertLocation" yaml:"LocalCertLocation"`
	CertServerName    string `json:"CertServerName" yaml:"CertServerName"`
}

// PublisherConfig represents settings for configuring global settings for all Publishers with ease.
type PublisherConfig struct {
	SleepOnIdleInterval  uint32 `json:"SleepOnIdleInterval" yaml:"SleepOnIdleInterval"`
	SleepOnErrorInterval uint32 `json:"SleepOnErrorInterval" yaml:"SleepOnErrorInterval"`
	PublishTimeout       uint32 `json:"PublishTimeout" yaml:"PublishTimeout"`
	MaxRetryCount        uint32 `json:"MaxRetryCount" yaml:"MaxRetryCount"`
}

// CompressionConfig allows you to configure compression of letter payloads.
type CompressionConfig struct {
	Enabled bool   `json:"Enabled" yaml:"Enabled"`
	Type    string `json:"Type,omitempty" yaml:"Type,omitempty"`
}

// EncryptionConfig allows you to configure symmetric key encryption of letter payloads.
type EncryptionConfig struct {
	Enabled           bool   `json:"Enabled" yaml:"Enabled"`
	Type              string `json:"Type,omitempty" yaml:"Type,omitempty"`
	Hashkey           []byte `json:"-" yaml:"-"`
	TimeConsideration uint32 `json:"TimeConsideration,omitempty" yaml:"TimeConsideration,omitempty"`
	MemoryMultiplier  uint32 `json:"MemoryMultiplier,omitempty" yaml:"MemoryMultiplier,omitempty"`
	Threads           uint8  `json:"Threads,omitempty" yaml:"Threads,omitempty"`
}

// DefaultPoolConfig yields the baseline settings for a localhost standalone deployment.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		ApplicationName:          "turbocookedredis",
		Host:                     "localhost",
		Port:                     6379,
		ClusterEnabled:           false,
		ClusterURLs:              nil,
		UseLegacyVersion:         false,
		PoolSize:                 10,
		ReconnectMaxAttempts:     5,
		ReconnectDelayInterval:   1000,
		HeartbeatInterval:        1000,
		ConnectionTimeout:        5000,
		SleepOnErrorInterval:     50,
		DefaultTTL:               3600,
		DefaultHashTTL:           3600,
		StreamReadCount:          100,
		Partition:                0,
		BroadcastChannelCapacity: 32,
	}
}

// Validate verifies a PoolConfig upfront so malformed settings fail the
// construction instead of surfacing later as dial errors.
func (cfg *PoolConfig) Validate() error {
	if cfg.PoolSize <= 0 {
		return &ConfigurationError{Op: "validate", Err: fmt.Errorf("pool size can't be %d", cfg.PoolSize)}
	}

	if cfg.ClusterEnabled && len(cfg.ClusterURLs) == 0 {
		return &ConfigurationError{Op: "validate", Err: fmt.Errorf("cluster enabled but no cluster urls provided")}
	}

	if !cfg.ClusterEnabled && cfg.Host == "" {
		return &ConfigurationError{Op: "validate", Err: fmt.Errorf("host can't be blank")}
	}

	return nil
}
