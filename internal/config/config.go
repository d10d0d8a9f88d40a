package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/cachesink/codec"
	"github.com/unkn0wn-root/cachesink/session"
)

const envPrefix = "CACHESINK_"

// Config is the cachesink binary configuration.
type Config struct {
	Redis RedisConfig `yaml:"redis"`
	Sink  SinkConfig  `yaml:"sink"`
	Kafka KafkaConfig `yaml:"kafka"`
	Log   LogConfig   `yaml:"log"`
	HTTP  HTTPConfig  `yaml:"http"`
	Hooks HooksConfig `yaml:"hooks"`
}

// RedisConfig describes the cache backend topology.
type RedisConfig struct {
	Mode             string        `yaml:"mode"`  // standalone | cluster | sentinel | memory
	Addrs            []string      `yaml:"addrs"` // sentinel addresses in sentinel mode
	MasterName       string        `yaml:"master_name"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	SentinelUsername string        `yaml:"sentinel_username"`
	SentinelPassword string        `yaml:"sentinel_password"`
	DB               int           `yaml:"db"`
	TLS              TLSConfig     `yaml:"tls"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PoolSize         int           `yaml:"pool_size"`
}

type TLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CAFile             string `yaml:"ca_file"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// SinkConfig maps onto cachesink.Options.
type SinkConfig struct {
	FlushTimeout  time.Duration  `yaml:"flush_timeout"`
	KeyPrefix     string         `yaml:"key_prefix"`
	Codec         string         `yaml:"codec"`           // raw | json | msgpack | cbor | protobuf
	MaxValueBytes int            `yaml:"max_value_bytes"` // 0 = unlimited
	TrackOffsets  bool           `yaml:"track_offsets"`
	Suppress      SuppressConfig `yaml:"suppress"`
}

type SuppressConfig struct {
	Enabled bool          `yaml:"enabled"`
	MaxKeys int64         `yaml:"max_keys"`
	TTL     time.Duration `yaml:"ttl"`
}

type KafkaConfig struct {
	Brokers        []string    `yaml:"brokers"`
	Topics         []string    `yaml:"topics"`
	Group          string      `yaml:"group"`
	ClientID       string      `yaml:"client_id"`
	StartOffset    string      `yaml:"start_offset"` // earliest | latest
	MaxPollRecords int         `yaml:"max_poll_records"`
	Retry          RetryConfig `yaml:"retry"`
}

// RetryConfig bounds how often a failed batch is re-applied before the
// consumer halts.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

type LogConfig struct {
	Driver string `yaml:"driver"` // zap | logrus | slog
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"` // empty disables the server
}

type HooksConfig struct {
	Metrics    bool `yaml:"metrics"`
	Log        bool `yaml:"log"`
	AsyncQueue int  `yaml:"async_queue"` // 0 = synchronous hooks
}

// Default returns the configuration used when neither file nor env set a field.
func Default() Config {
	return Config{
		Redis: RedisConfig{
			Mode:        string(session.ModeStandalone),
			Addrs:       []string{"localhost:6379"},
			DialTimeout: 5 * time.Second,
		},
		Sink: SinkConfig{
			FlushTimeout: 10 * time.Second,
			Codec:        "raw",
		},
		Kafka: KafkaConfig{
			Brokers:        []string{"localhost:9092"},
			Group:          "cachesink",
			ClientID:       "cachesink",
			StartOffset:    "earliest",
			MaxPollRecords: 500,
			Retry: RetryConfig{
				Attempts:   5,
				Backoff:    500 * time.Millisecond,
				MaxBackoff: 10 * time.Second,
			},
		},
		Log: LogConfig{
			Driver: "zap",
			Level:  "info",
			JSON:   true,
		},
		HTTP: HTTPConfig{Addr: ":9090"},
		Hooks: HooksConfig{
			Metrics:    true,
			AsyncQueue: 1024,
		},
	}
}

// Load reads path (optional) over the defaults, then applies CACHESINK_*
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration
func (c *Config) Validate() error {
	mode, err := session.ParseMode(c.Redis.Mode)
	if err != nil {
		return err
	}
	if mode != session.ModeMemory && len(c.Redis.Addrs) == 0 {
		return fmt.Errorf("redis.addrs is required in %s mode", mode)
	}
	if mode == session.ModeStandalone && len(c.Redis.Addrs) != 1 {
		return fmt.Errorf("redis.addrs must hold exactly one address in standalone mode")
	}
	if mode == session.ModeSentinel && c.Redis.MasterName == "" {
		return fmt.Errorf("redis.master_name is required in sentinel mode")
	}
	if (c.Redis.TLS.CertFile == "") != (c.Redis.TLS.KeyFile == "") {
		return fmt.Errorf("redis.tls.cert_file and redis.tls.key_file must be set together")
	}
	if c.Sink.FlushTimeout <= 0 {
		return fmt.Errorf("sink.flush_timeout must be positive")
	}
	if c.Sink.MaxValueBytes < 0 {
		return fmt.Errorf("sink.max_value_bytes cannot be negative")
	}
	if _, err := codec.ByName(c.Sink.Codec); err != nil {
		return err
	}
	if c.Sink.Suppress.MaxKeys < 0 {
		return fmt.Errorf("sink.suppress.max_keys cannot be negative")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required")
	}
	if c.Kafka.Group == "" {
		return fmt.Errorf("kafka.group is required")
	}
	switch c.Kafka.StartOffset {
	case "earliest", "latest":
	default:
		return fmt.Errorf("kafka.start_offset must be earliest or latest, got %q", c.Kafka.StartOffset)
	}
	if c.Kafka.MaxPollRecords <= 0 {
		return fmt.Errorf("kafka.max_poll_records must be positive")
	}
	if c.Kafka.Retry.Attempts < 0 {
		return fmt.Errorf("kafka.retry.attempts cannot be negative")
	}
	switch c.Log.Driver {
	case "zap", "logrus", "slog":
	default:
		return fmt.Errorf("log.driver must be zap, logrus or slog, got %q", c.Log.Driver)
	}
	if c.Hooks.AsyncQueue < 0 {
		return fmt.Errorf("hooks.async_queue cannot be negative")
	}
	return nil
}

// Topology resolves the redis section into a session.Topology, loading any
// TLS material from disk.
func (c *Config) Topology() (session.Topology, error) {
	mode, err := session.ParseMode(c.Redis.Mode)
	if err != nil {
		return session.Topology{}, err
	}
	topo := session.Topology{
		Mode:             mode,
		Addrs:            append([]string(nil), c.Redis.Addrs...),
		MasterName:       c.Redis.MasterName,
		SentinelUsername: c.Redis.SentinelUsername,
		SentinelPassword: c.Redis.SentinelPassword,
		Username:         c.Redis.Username,
		Password:         c.Redis.Password,
		DB:               c.Redis.DB,
		DialTimeout:      c.Redis.DialTimeout,
		ReadTimeout:      c.Redis.ReadTimeout,
		WriteTimeout:     c.Redis.WriteTimeout,
		PoolSize:         c.Redis.PoolSize,
	}
	if mode == session.ModeMemory {
		topo.Addrs = nil
	}
	if c.Redis.TLS.Enabled {
		tc, err := c.Redis.TLS.build()
		if err != nil {
			return session.Topology{}, err
		}
		topo.TLS = tc
	}
	return topo, topo.Validate()
}

func (t TLSConfig) build() (*tls.Config, error) {
	tc := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         t.ServerName,
		InsecureSkipVerify: t.InsecureSkipVerify,
	}
	if t.CAFile != "" {
		pem, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read redis.tls.ca_file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("redis.tls.ca_file %s holds no certificates", t.CAFile)
		}
		tc.RootCAs = pool
	}
	if t.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis client certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return tc, nil
}

// applyEnv overrides fields from CACHESINK_* variables. Malformed values are
// errors rather than silently ignored.
func applyEnv(cfg *Config) error {
	setString("REDIS_MODE", &cfg.Redis.Mode)
	setList("REDIS_ADDRS", &cfg.Redis.Addrs)
	setString("REDIS_MASTER_NAME", &cfg.Redis.MasterName)
	setString("REDIS_USERNAME", &cfg.Redis.Username)
	setString("REDIS_PASSWORD", &cfg.Redis.Password)
	setString("REDIS_SENTINEL_PASSWORD", &cfg.Redis.SentinelPassword)
	setString("SINK_KEY_PREFIX", &cfg.Sink.KeyPrefix)
	setString("SINK_CODEC", &cfg.Sink.Codec)
	setList("KAFKA_BROKERS", &cfg.Kafka.Brokers)
	setList("KAFKA_TOPICS", &cfg.Kafka.Topics)
	setString("KAFKA_GROUP", &cfg.Kafka.Group)
	setString("LOG_DRIVER", &cfg.Log.Driver)
	setString("LOG_LEVEL", &cfg.Log.Level)
	setString("HTTP_ADDR", &cfg.HTTP.Addr)

	if err := setInt("REDIS_DB", &cfg.Redis.DB); err != nil {
		return err
	}
	if err := setDuration("SINK_FLUSH_TIMEOUT", &cfg.Sink.FlushTimeout); err != nil {
		return err
	}
	if err := setBool("SINK_TRACK_OFFSETS", &cfg.Sink.TrackOffsets); err != nil {
		return err
	}
	if err := setBool("REDIS_TLS_ENABLED", &cfg.Redis.TLS.Enabled); err != nil {
		return err
	}
	return setBool("LOG_JSON", &cfg.Log.JSON)
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func setString(key string, dst *string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

// setList splits a comma separated value and drops empty parts.
func setList(key string, dst *[]string) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

func setInt(key string, dst *int) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*dst = n
	return nil
}

func setBool(key string, dst *bool) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*dst = b
	return nil
}

func setDuration(key string, dst *time.Duration) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*dst = d
	return nil
}
