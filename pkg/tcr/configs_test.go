package tcr

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolConfigValidate(t *testing.T) {
	cfg := DefaultPoolConfig()
	assert.NoError(t, cfg.Validate())

	cfg = DefaultPoolConfig()
	cfg.PoolSize = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultPoolConfig()
	cfg.Host = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultPoolConfig()
	cfg.ClusterEnabled = true
	assert.Error(t, cfg.Validate())

	cfg = DefaultPoolConfig()
	cfg.ClusterEnabled = true
	cfg.ClusterURLs = []string{"node1:7001"}
	assert.NoError(t, cfg.Validate())
}

func TestConvertJSONFileToConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seasoning.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"PoolConfig": {
			"ApplicationName": "orders-svc",
			"Host": "redis.internal",
			"Port": 6380,
			"PoolSize": 8,
			"ReconnectMaxAttempts": 3,
			"ReconnectDelayInterval": 500,
			"DefaultTTL": 120,
			"Partition": 2
		},
		"CompressionConfig": { "Enabled": true, "Type": "zstd" }
	}`), 0o644))

	seasoning, err := ConvertJSONFileToConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "orders-svc", seasoning.PoolConfig.ApplicationName)
	assert.Equal(t, "redis.internal", seasoning.PoolConfig.Host)
	assert.Equal(t, 6380, seasoning.PoolConfig.Port)
	assert.Equal(t, 8, seasoning.PoolConfig.PoolSize)
	assert.Equal(t, uint32(120), seasoning.PoolConfig.DefaultTTL)
	assert.Equal(t, 2, seasoning.PoolConfig.Partition)
	require.NotNil(t, seasoning.CompressionConfig)
	assert.True(t, seasoning.CompressionConfig.Enabled)
	assert.Equal(t, ZstdCompressionType, seasoning.CompressionConfig.Type)
}

func TestConvertYAMLFileToConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seasoning.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
PoolConfig:
  ApplicationName: orders-svc
  Host: redis.internal
  Port: 6380
  ClusterEnabled: true
  ClusterURLs:
    - node1:7001
    - node2:7002
  PoolSize: 4
ReplicaPoolConfig:
  ApplicationName: orders-svc-reader
  Host: replica.internal
  Port: 6381
  PoolSize: 12
`), 0o644))

	seasoning, err := ConvertYAMLFileToConfig(path)
	require.NoError(t, err)

	assert.True(t, seasoning.PoolConfig.ClusterEnabled)
	assert.Equal(t, []string{"node1:7001", "node2:7002"}, seasoning.PoolConfig.ClusterURLs)
	require.NotNil(t, seasoning.ReplicaPoolConfig)
	assert.Equal(t, "replica.internal", seasoning.ReplicaPoolConfig.Host)
	assert.Equal(t, 12, seasoning.ReplicaPoolConfig.PoolSize)
}

func TestConvertJSONFileToConfigMissingFile(t *testing.T) {
	_, err := ConvertJSONFileToConfig("does-not-exist.json")
	assert.Error(t, err)
}
