package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisSessionStore implements SessionStore for Redis so several client
// processes can share read-your-writes state
type RedisSessionStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// RedisOptions configures a RedisSessionStore
type RedisOptions struct {
	Host         string
	Port         int
	Password     string
	DB           int
	MaxRetries   int
	PoolSize     int
	MinIdleConns int
	KeyPrefix    string
	TTL          time.Duration
}

// NewRedisSessionStore creates a new Redis session store
func NewRedisSessionStore(opts RedisOptions, logger *zap.Logger) (*RedisSessionStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Password:     opts.Password,
		DB:           opts.DB,
		MaxRetries:   opts.MaxRetries,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisSessionStore(client, opts.KeyPrefix, opts.TTL, logger), nil
}

func newRedisSessionStore(client *redis.Client, keyPrefix string, ttl time.Duration, logger *zap.Logger) *RedisSessionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSessionStore{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger,
	}
}

func (s *RedisSessionStore) key(partitionKeyRangeID string) string {
	return s.keyPrefix + partitionKeyRangeID
}

// Get retrieves the token of a partition key range
func (s *RedisSessionStore) Get(ctx context.Context, partitionKeyRangeID string) (string, error) {
	token, err := s.client.Get(ctx, s.key(partitionKeyRangeID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get session token: %w", err)
	}
	return token, nil
}

// Set stores the token of a partition key range
func (s *RedisSessionStore) Set(ctx context.Context, partitionKeyRangeID, token string) error {
	if err := s.client.Set(ctx, s.key(partitionKeyRangeID), token, s.ttl).Err(); err != nil {
		s.logger.Warn("Failed to store session token",
			zap.String("partition_key_range_id", partitionKeyRangeID),
			zap.Error(err))
		return fmt.Errorf("failed to set session token: %w", err)
	}
	return nil
}

// Ping checks the Redis connection
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}
