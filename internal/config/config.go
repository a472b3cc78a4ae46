package config

import (
	"errors"
	"strings"
	"time"

	"github.com/devrev/pairdb/directclient/internal/model"
)

// Config represents the direct client configuration
type Config struct {
	Client       ClientConfig       `mapstructure:"client"`
	Transport    TransportConfig    `mapstructure:"transport"`
	Rntbd        RntbdConfig        `mapstructure:"rntbd"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Retry        RetryConfig        `mapstructure:"retry"`
	Quorum       QuorumConfig       `mapstructure:"quorum"`
	AddressCache AddressCacheConfig `mapstructure:"address_cache"`
	Session      SessionConfig      `mapstructure:"session"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ClientConfig represents account level settings of the client
type ClientConfig struct {
	DefaultConsistencyLevel string        `mapstructure:"default_consistency_level"`
	UserReplicaCount        int           `mapstructure:"user_replica_count"`
	SystemReplicaCount      int           `mapstructure:"system_replica_count"`
	RequestTimeout          time.Duration `mapstructure:"request_timeout"`
	UserAgent               string        `mapstructure:"user_agent"`
}

// TransportConfig selects the wire protocol used against replicas
type TransportConfig struct {
	Protocol string `mapstructure:"protocol"`
}

// RntbdConfig represents binary transport configuration
type RntbdConfig struct {
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	MaxFrameSize     int           `mapstructure:"max_frame_size"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	InsecureSkipTLS  bool          `mapstructure:"insecure_skip_tls"`
	ProtocolVersion  string        `mapstructure:"protocol_version"`
	ConnectionsLimit int           `mapstructure:"connections_limit"`
}

// HTTPConfig represents HTTP transport configuration
type HTTPConfig struct {
	ConnectTimeout      time.Duration `mapstructure:"connect_timeout"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`
	InsecureSkipTLS     bool          `mapstructure:"insecure_skip_tls"`
}

// RetryConfig represents the Gone and RetryWith retry policy budget
type RetryConfig struct {
	WaitTimeout             time.Duration `mapstructure:"wait_timeout"`
	InitialGoneBackoff      time.Duration `mapstructure:"initial_gone_backoff"`
	MaxGoneBackoff          time.Duration `mapstructure:"max_gone_backoff"`
	InitialRetryWithBackoff time.Duration `mapstructure:"initial_retry_with_backoff"`
	MaxRetryWithBackoff     time.Duration `mapstructure:"max_retry_with_backoff"`
	MaxInvalidPartition     int           `mapstructure:"max_invalid_partition"`
	MaxPartitionMigrating   int           `mapstructure:"max_partition_migrating"`
}

// QuorumConfig represents quorum read and barrier configuration
type QuorumConfig struct {
	MaxReadRounds          int           `mapstructure:"max_read_rounds"`
	MaxBarrierRetries      int           `mapstructure:"max_barrier_retries"`
	BarrierRetryInterval   time.Duration `mapstructure:"barrier_retry_interval"`
	MaxWriteBarrierRetries int           `mapstructure:"max_write_barrier_retries"`
	WriteBarrierShortDelay time.Duration `mapstructure:"write_barrier_short_delay"`
	WriteBarrierLongDelay  time.Duration `mapstructure:"write_barrier_long_delay"`
	ShortDelayRounds       int           `mapstructure:"short_delay_rounds"`
}

// AddressCacheConfig represents address cache and background refresh configuration
type AddressCacheConfig struct {
	TopologyFile          string  `mapstructure:"topology_file"`
	RefreshRateLimit      float64 `mapstructure:"refresh_rate_limit"`
	RefreshBurst          int     `mapstructure:"refresh_burst"`
	BackgroundWorkers     int     `mapstructure:"background_workers"`
	BackgroundQueueSize   int     `mapstructure:"background_queue_size"`
	PreferInternalAddress bool    `mapstructure:"prefer_internal_address"`
}

// SessionConfig selects where session tokens are kept
type SessionConfig struct {
	Store string        `mapstructure:"store"`
	TTL   time.Duration `mapstructure:"ttl"`
}

// RedisConfig represents Redis session store configuration
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	MaxRetries   int    `mapstructure:"max_retries"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	KeyPrefix    string `mapstructure:"key_prefix"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Client.DefaultConsistencyLevel == "" {
		c.Client.DefaultConsistencyLevel = string(model.ConsistencySession)
	}
	if _, err := model.ParseConsistencyLevel(c.Client.DefaultConsistencyLevel); err != nil {
		return errors.New("client.default_consistency_level must be one of: Strong, BoundedStaleness, Session, Eventual, ConsistentPrefix")
	}
	if c.Client.UserReplicaCount <= 0 {
		return errors.New("client.user_replica_count must be positive")
	}
	if c.Client.SystemReplicaCount <= 0 {
		return errors.New("client.system_replica_count must be positive")
	}
	if c.Client.RequestTimeout <= 0 {
		return errors.New("client.request_timeout must be positive")
	}
	if !isValidProtocol(c.Transport.Protocol) {
		return errors.New("transport.protocol must be one of: https, http, rntbd, tcp")
	}
	if c.Rntbd.MaxFrameSize <= 0 {
		return errors.New("rntbd.max_frame_size must be positive")
	}
	if c.Retry.WaitTimeout <= 0 {
		return errors.New("retry.wait_timeout must be positive")
	}
	if c.Retry.MaxGoneBackoff < c.Retry.InitialGoneBackoff {
		return errors.New("retry.max_gone_backoff must not be less than retry.initial_gone_backoff")
	}
	if c.Retry.MaxInvalidPartition <= 0 || c.Retry.MaxPartitionMigrating <= 0 {
		return errors.New("retry.max_invalid_partition and retry.max_partition_migrating must be positive")
	}
	if c.Quorum.MaxReadRounds <= 0 {
		return errors.New("quorum.max_read_rounds must be positive")
	}
	if c.Quorum.MaxBarrierRetries <= 0 || c.Quorum.MaxWriteBarrierRetries <= 0 {
		return errors.New("quorum barrier retries must be positive")
	}
	if c.AddressCache.BackgroundWorkers <= 0 {
		return errors.New("address_cache.background_workers must be positive")
	}
	if c.AddressCache.RefreshRateLimit <= 0 {
		return errors.New("address_cache.refresh_rate_limit must be positive")
	}
	if c.Session.Store == "" {
		c.Session.Store = "memory"
	}
	if !isValidSessionStore(c.Session.Store) {
		return errors.New("session.store must be one of: memory, redis")
	}
	if c.Session.Store == "redis" && c.Redis.Host == "" {
		return errors.New("redis.host is required when session.store is redis")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

// isValidProtocol checks if the transport protocol is supported
func isValidProtocol(protocol string) bool {
	switch strings.ToLower(protocol) {
	case "https", "http", "rntbd", "tcp":
		return true
	default:
		return false
	}
}

// isValidSessionStore checks if the session store kind is supported
func isValidSessionStore(kind string) bool {
	switch kind {
	case "memory", "redis":
		return true
	default:
		return false
	}
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			DefaultConsistencyLevel: string(model.ConsistencySession),
			UserReplicaCount:        4,
			SystemReplicaCount:      4,
			RequestTimeout:          60 * time.Second,
			UserAgent:               "pairdb-directclient/1.0",
		},
		Transport: TransportConfig{
			Protocol: string(model.ProtocolHTTPS),
		},
		Rntbd: RntbdConfig{
			ConnectTimeout:   5 * time.Second,
			RequestTimeout:   10 * time.Second,
			MaxFrameSize:     16 * 1024 * 1024,
			IdleTimeout:      60 * time.Second,
			InsecureSkipTLS:  false,
			ProtocolVersion:  "1",
			ConnectionsLimit: 30,
		},
		HTTP: HTTPConfig{
			ConnectTimeout:      5 * time.Second,
			RequestTimeout:      10 * time.Second,
			MaxIdleConnsPerHost: 64,
			IdleConnTimeout:     90 * time.Second,
			InsecureSkipTLS:     false,
		},
		Retry: RetryConfig{
			WaitTimeout:             30 * time.Second,
			InitialGoneBackoff:      1 * time.Second,
			MaxGoneBackoff:          15 * time.Second,
			InitialRetryWithBackoff: 10 * time.Millisecond,
			MaxRetryWithBackoff:     1 * time.Second,
			MaxInvalidPartition:     2,
			MaxPartitionMigrating:   2,
		},
		Quorum: QuorumConfig{
			MaxReadRounds:          6,
			MaxBarrierRetries:      6,
			BarrierRetryInterval:   10 * time.Millisecond,
			MaxWriteBarrierRetries: 30,
			WriteBarrierShortDelay: 10 * time.Millisecond,
			WriteBarrierLongDelay:  30 * time.Millisecond,
			ShortDelayRounds:       4,
		},
		AddressCache: AddressCacheConfig{
			TopologyFile:          "topology.yaml",
			RefreshRateLimit:      50,
			RefreshBurst:          10,
			BackgroundWorkers:     4,
			BackgroundQueueSize:   256,
			PreferInternalAddress: true,
		},
		Session: SessionConfig{
			Store: "memory",
			TTL:   24 * time.Hour,
		},
		Redis: RedisConfig{
			Host:         "localhost",
			Port:         6379,
			Password:     "",
			DB:           0,
			MaxRetries:   3,
			PoolSize:     20,
			MinIdleConns: 2,
			KeyPrefix:    "directclient:session:",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
