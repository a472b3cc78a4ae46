package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/devrev/pairdb/directclient/internal/client"
	"github.com/devrev/pairdb/directclient/internal/config"
	"github.com/devrev/pairdb/directclient/internal/metrics"
	"github.com/devrev/pairdb/directclient/internal/model"
	"github.com/devrev/pairdb/directclient/internal/service"
	"github.com/devrev/pairdb/directclient/internal/store"
	"github.com/devrev/pairdb/directclient/internal/util/clock"
	"github.com/devrev/pairdb/directclient/internal/util/workerpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// stack is a fully wired direct client and the resources it owns
type stack struct {
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	topology  *store.TopologyFile
	pool      *workerpool.Pool
	cache     *service.AddressCache
	transport client.TransportClient
	sessions  store.SessionStore
	client    *service.ReplicatedResourceClient
	logger    *zap.Logger
}

// newStack wires topology, address cache, transport, session store, readers,
// writer and the retrying client from cfg
func newStack(cfg *config.Config, logger *zap.Logger) (*stack, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry)

	topology, err := store.NewTopologyFile(cfg.AddressCache.TopologyFile, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load topology: %w", err)
	}

	sessions, err := newSessionStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	pool := workerpool.New(workerpool.Config{
		Name:          "address-refresh",
		MaxWorkers:    cfg.AddressCache.BackgroundWorkers,
		QueueSize:     cfg.AddressCache.BackgroundQueueSize,
		TaskTimeout:   cfg.Retry.WaitTimeout,
		Logger:        logger,
		OnQueueChange: m.UpdateBackgroundRefreshQueue,
	})

	cache := service.NewAddressCache(topology, service.AddressCacheConfig{
		RefreshRateLimit:  cfg.AddressCache.RefreshRateLimit,
		RefreshBurst:      cfg.AddressCache.RefreshBurst,
		BackgroundTimeout: cfg.Retry.WaitTimeout,
	}, pool, m, logger)

	protocol := model.ParseProtocol(cfg.Transport.Protocol)
	transport := newTransport(cfg, protocol, m, logger)
	selector := service.NewAddressSelector(cache, protocol, cfg.AddressCache.PreferInternalAddress)

	clk := clock.NewReal()
	serviceConfig := service.NewServiceConfig(cfg.Client)

	storeReader := service.NewStoreReader(transport, selector, sessions, logger)
	quorumReader := service.NewQuorumReader(storeReader, serviceConfig, clk, service.QuorumReaderConfig{
		MaxReadRounds:           cfg.Quorum.MaxReadRounds,
		MaxBarrierRetries:       cfg.Quorum.MaxBarrierRetries,
		BarrierRetryInterval:    cfg.Quorum.BarrierRetryInterval,
		MaxGlobalBarrierRetries: cfg.Quorum.MaxWriteBarrierRetries,
		ShortDelay:              cfg.Quorum.WriteBarrierShortDelay,
		LongDelay:               cfg.Quorum.WriteBarrierLongDelay,
		ShortDelayRounds:        cfg.Quorum.ShortDelayRounds,
	}, m, logger)
	reader := service.NewConsistencyReader(storeReader, quorumReader, serviceConfig, logger)
	writer := service.NewConsistencyWriter(selector, transport, storeReader, cache, serviceConfig, clk, service.WriteBarrierConfig{
		MaxRetries:       cfg.Quorum.MaxWriteBarrierRetries,
		ShortDelay:       cfg.Quorum.WriteBarrierShortDelay,
		LongDelay:        cfg.Quorum.WriteBarrierLongDelay,
		ShortDelayRounds: cfg.Quorum.ShortDelayRounds,
	}, m, logger)

	rrc := service.NewReplicatedResourceClient(reader, writer, sessions, clk, service.RetryPolicyConfig{
		WaitTimeout:             cfg.Retry.WaitTimeout,
		InitialGoneBackoff:      cfg.Retry.InitialGoneBackoff,
		MaxGoneBackoff:          cfg.Retry.MaxGoneBackoff,
		InitialRetryWithBackoff: cfg.Retry.InitialRetryWithBackoff,
		MaxRetryWithBackoff:     cfg.Retry.MaxRetryWithBackoff,
		MaxInvalidPartition:     cfg.Retry.MaxInvalidPartition,
		MaxPartitionMigrating:   cfg.Retry.MaxPartitionMigrating,
	}, cfg.Client.RequestTimeout, m, logger)

	logger.Info("direct client ready",
		zap.String("protocol", string(protocol)),
		zap.String("default_consistency", string(serviceConfig.DefaultConsistencyLevel())),
		zap.String("session_store", cfg.Session.Store),
		zap.String("topology_file", cfg.AddressCache.TopologyFile))

	return &stack{
		registry:  registry,
		metrics:   m,
		topology:  topology,
		pool:      pool,
		cache:     cache,
		transport: transport,
		sessions:  sessions,
		client:    rrc,
		logger:    logger,
	}, nil
}

// newTransport picks the replica transport for protocol
func newTransport(cfg *config.Config, protocol model.Protocol, m *metrics.Metrics, logger *zap.Logger) client.TransportClient {
	if protocol == model.ProtocolTCP {
		return client.NewRntbdTransportClient(client.RntbdConfig{
			ConnectTimeout:  cfg.Rntbd.ConnectTimeout,
			RequestTimeout:  cfg.Rntbd.RequestTimeout,
			MaxFrameSize:    cfg.Rntbd.MaxFrameSize,
			ProtocolVersion: cfg.Rntbd.ProtocolVersion,
			UserAgent:       cfg.Client.UserAgent,
			TLSConfig:       &tls.Config{InsecureSkipVerify: cfg.Rntbd.InsecureSkipTLS},
		}, m, logger)
	}
	return client.NewHTTPTransportClient(client.HTTPConfig{
		ConnectTimeout:      cfg.HTTP.ConnectTimeout,
		RequestTimeout:      cfg.HTTP.RequestTimeout,
		MaxIdleConnsPerHost: cfg.HTTP.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.HTTP.IdleConnTimeout,
		InsecureSkipTLS:     cfg.HTTP.InsecureSkipTLS,
		UserAgent:           cfg.Client.UserAgent,
	}, m, logger)
}

// newSessionStore opens the configured session token store
func newSessionStore(cfg *config.Config, logger *zap.Logger) (store.SessionStore, error) {
	if cfg.Session.Store != "redis" {
		return store.NewMemorySessionStore(cfg.Session.TTL), nil
	}
	sessions, err := store.NewRedisSessionStore(store.RedisOptions{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		MaxRetries:   cfg.Redis.MaxRetries,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		KeyPrefix:    cfg.Redis.KeyPrefix,
		TTL:          cfg.Session.TTL,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return sessions, nil
}

// Close drains background refreshes and releases connections
func (s *stack) Close(ctx context.Context) error {
	var errs []error
	if err := s.pool.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("address refresh pool: %w", err))
	}
	if err := s.transport.Close(); err != nil {
		errs = append(errs, fmt.Errorf("transport: %w", err))
	}
	if err := s.sessions.Close(); err != nil {
		errs = append(errs, fmt.Errorf("session store: %w", err))
	}

	stats := s.pool.Stats()
	s.logger.Debug("direct client closed",
		zap.Uint64("background_refreshes", stats.Completed),
		zap.Uint64("background_refresh_failures", stats.Failed),
		zap.Uint64("background_refreshes_rejected", stats.Rejected))
	return errors.Join(errs...)
}
