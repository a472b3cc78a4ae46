package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "DIRECT_"

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		v := viper.New()
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")

		// Config file is optional if environment variables are set
		if err := v.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Could not read config file %s: %v. Using defaults and environment variables.\n", configPath, err)
		} else if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	// Environment variables take precedence over the file
	applyEnvironmentOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnvironmentOverrides applies environment variable overrides to config
func applyEnvironmentOverrides(cfg *Config) {
	// Client configuration
	if level := getenv("CONSISTENCY_LEVEL"); level != "" {
		cfg.Client.DefaultConsistencyLevel = level
	}
	if n, ok := getenvInt("USER_REPLICA_COUNT"); ok {
		cfg.Client.UserReplicaCount = n
	}
	if d, ok := getenvDuration("REQUEST_TIMEOUT"); ok {
		cfg.Client.RequestTimeout = d
	}

	// Transport configuration
	if protocol := getenv("PROTOCOL"); protocol != "" {
		cfg.Transport.Protocol = protocol
	}

	// Retry configuration
	if d, ok := getenvDuration("RETRY_WAIT_TIMEOUT"); ok {
		cfg.Retry.WaitTimeout = d
	}

	// Address cache configuration
	if topology := getenv("TOPOLOGY_FILE"); topology != "" {
		cfg.AddressCache.TopologyFile = topology
	}

	// Session and Redis configuration
	if store := getenv("SESSION_STORE"); store != "" {
		cfg.Session.Store = store
	}
	if redisHost := getenv("REDIS_HOST"); redisHost != "" {
		cfg.Redis.Host = redisHost
	}
	if p, ok := getenvInt("REDIS_PORT"); ok {
		cfg.Redis.Port = p
	}
	if redisPassword := getenv("REDIS_PASSWORD"); redisPassword != "" {
		cfg.Redis.Password = redisPassword
	}

	// Metrics configuration
	if p, ok := getenvInt("METRICS_PORT"); ok {
		cfg.Metrics.Port = p
	}

	// Logging configuration
	if logLevel := getenv("LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat := getenv("LOG_FORMAT"); logFormat != "" {
		cfg.Logging.Format = logFormat
	}
}

func getenv(key string) string {
	return os.Getenv(EnvPrefix + key)
}

func getenvInt(key string) (int, bool) {
	raw := getenv(key)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func getenvDuration(key string) (time.Duration, bool) {
	raw := getenv(key)
	if raw == "" {
		return 0, false
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return d, true
}
