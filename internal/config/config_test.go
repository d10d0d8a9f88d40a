package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/cachesink/session"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cachesink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "standalone", cfg.Redis.Mode)
	assert.Equal(t, []string{"localhost:6379"}, cfg.Redis.Addrs)
	assert.Equal(t, 10*time.Second, cfg.Sink.FlushTimeout)
	assert.Equal(t, "cachesink", cfg.Kafka.Group)
	assert.Equal(t, 5, cfg.Kafka.Retry.Attempts)
	assert.Equal(t, "zap", cfg.Log.Driver)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
redis:
  mode: cluster
  addrs: ["n1:7000", "n2:7000"]
  dial_timeout: 2s
sink:
  flush_timeout: 750ms
  key_prefix: "orders:"
  codec: msgpack
  track_offsets: true
  suppress:
    enabled: true
    max_keys: 10000
kafka:
  brokers: ["k1:9092"]
  topics: ["orders"]
  retry:
    attempts: 2
log:
  driver: slog
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "cluster", cfg.Redis.Mode)
	assert.Equal(t, []string{"n1:7000", "n2:7000"}, cfg.Redis.Addrs)
	assert.Equal(t, 2*time.Second, cfg.Redis.DialTimeout)
	assert.Equal(t, 750*time.Millisecond, cfg.Sink.FlushTimeout)
	assert.Equal(t, "orders:", cfg.Sink.KeyPrefix)
	assert.True(t, cfg.Sink.TrackOffsets)
	assert.Equal(t, int64(10000), cfg.Sink.Suppress.MaxKeys)
	assert.Equal(t, []string{"orders"}, cfg.Kafka.Topics)
	assert.Equal(t, 2, cfg.Kafka.Retry.Attempts)
	// untouched fields keep their defaults
	assert.Equal(t, 500*time.Millisecond, cfg.Kafka.Retry.Backoff)
	assert.Equal(t, "cachesink", cfg.Kafka.Group)

	topo, err := cfg.Topology()
	require.NoError(t, err)
	assert.Equal(t, session.ModeCluster, topo.Mode)
	assert.Nil(t, topo.TLS)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeFile(t, "redis:\n  mode: standalone\n  addrs: [\"file:6379\"]\n")
	t.Setenv("CACHESINK_REDIS_MODE", "sentinel")
	t.Setenv("CACHESINK_REDIS_ADDRS", "s1:26379, s2:26379,")
	t.Setenv("CACHESINK_REDIS_MASTER_NAME", "mymaster")
	t.Setenv("CACHESINK_SINK_FLUSH_TIMEOUT", "3s")
	t.Setenv("CACHESINK_KAFKA_TOPICS", "a,b")
	t.Setenv("CACHESINK_LOG_JSON", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sentinel", cfg.Redis.Mode)
	assert.Equal(t, []string{"s1:26379", "s2:26379"}, cfg.Redis.Addrs)
	assert.Equal(t, 3*time.Second, cfg.Sink.FlushTimeout)
	assert.Equal(t, []string{"a", "b"}, cfg.Kafka.Topics)
	assert.False(t, cfg.Log.JSON)

	topo, err := cfg.Topology()
	require.NoError(t, err)
	assert.Equal(t, "mymaster", topo.MasterName)
}

func TestLoadRejectsMalformedEnv(t *testing.T) {
	t.Setenv("CACHESINK_SINK_FLUSH_TIMEOUT", "soon")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{"defaults", func(*Config) {}, false},
		{"memory without addrs", func(c *Config) { c.Redis.Mode = "memory"; c.Redis.Addrs = nil }, false},
		{"unknown mode", func(c *Config) { c.Redis.Mode = "ring" }, true},
		{"standalone two addrs", func(c *Config) { c.Redis.Addrs = []string{"a:1", "b:1"} }, true},
		{"cluster no addrs", func(c *Config) { c.Redis.Mode = "cluster"; c.Redis.Addrs = nil }, true},
		{"sentinel no master", func(c *Config) { c.Redis.Mode = "sentinel" }, true},
		{"cert without key", func(c *Config) { c.Redis.TLS.CertFile = "c.pem" }, true},
		{"zero flush timeout", func(c *Config) { c.Sink.FlushTimeout = 0 }, true},
		{"unknown codec", func(c *Config) { c.Sink.Codec = "avro" }, true},
		{"no brokers", func(c *Config) { c.Kafka.Brokers = nil }, true},
		{"bad start offset", func(c *Config) { c.Kafka.StartOffset = "middle" }, true},
		{"bad log driver", func(c *Config) { c.Log.Driver = "glog" }, true},
		{"negative retries", func(c *Config) { c.Kafka.Retry.Attempts = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTopologyTLS(t *testing.T) {
	cfg := Default()
	cfg.Redis.TLS = TLSConfig{Enabled: true, ServerName: "redis.internal"}
	topo, err := cfg.Topology()
	require.NoError(t, err)
	require.NotNil(t, topo.TLS)
	assert.Equal(t, "redis.internal", topo.TLS.ServerName)

	cfg.Redis.TLS.CAFile = writeFile(t, "not a certificate")
	_, err = cfg.Topology()
	assert.Error(t, err)
}

func TestTopologyMemoryDropsAddrs(t *testing.T) {
	cfg := Default()
	cfg.Redis.Mode = "memory"
	topo, err := cfg.Topology()
	require.NoError(t, err)
	assert.Equal(t, session.ModeMemory, topo.Mode)
	assert.Empty(t, topo.Addrs)
}
