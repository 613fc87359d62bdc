package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ONEONUORA/stellar-insights/internal/infrastructure/config"
)

// RedisClient is the hot-read cache the query facade puts in front of
// event queries. Every key passed in is namespaced before it reaches
// Redis, so callers never have to prefix their own keys.
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
	Client() *redis.Client
}

// redisClient implements RedisClient using go-redis. It namespaces every
// key under config.KeyPrefix so this service's cache entries can't
// collide with another service's keys on a shared Redis instance.
type redisClient struct {
	client    *redis.Client
	logger    *zap.Logger
	config    *config.RedisConfig
	keyPrefix string
}

// NewRedisClient creates a new Redis client
func NewRedisClient(cfg *config.RedisConfig, logger *zap.Logger) (RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:       fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:   cfg.Password,
		DB:         cfg.DB,
		MaxRetries: cfg.MaxRetries,
		PoolSize:   cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := rdb.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "stellar-insights"
	}

	logger.Info("Connected to Redis successfully", zap.String("host", cfg.Host), zap.Int("port", cfg.Port), zap.String("key_prefix", prefix))

	return &redisClient{
		client:    rdb,
		logger:    logger,
		config:    cfg,
		keyPrefix: prefix,
	}, nil
}

// namespace prepends the configured prefix to a cache key. Keys/pattern
// matching always operates within this service's own namespace, so
// Keys("*") can't enumerate another service's entries on a shared Redis.
func (r *redisClient) namespace(key string) string {
	return r.keyPrefix + ":" + key
}

// Set sets a key-value pair with an expiration
func (r *redisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return r.client.Set(ctx, r.namespace(key), data, expiration).Err()
}

// Get retrieves a value by key and unmarshals it into dest
func (r *redisClient) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := r.client.Get(ctx, r.namespace(key)).Result()
	if err == redis.Nil {
		return fmt.Errorf("key '%s' not found: %w", key, err)
	} else if err != nil {
		return fmt.Errorf("failed to get key '%s' from Redis: %w", key, err)
	}
	return json.Unmarshal([]byte(val), dest)
}

// Del deletes a key
func (r *redisClient) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.namespace(key)).Err()
}

// Exists checks if a key exists
func (r *redisClient) Exists(ctx context.Context, key string) (bool, error) {
	count, err := r.client.Exists(ctx, r.namespace(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check existence of key '%s': %w", key, err)
	}
	return count > 0, nil
}

// Incr increments the integer value of a key by one. If the key does not exist, it is set to 0 before performing the operation.
func (r *redisClient) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, r.namespace(key)).Result()
}

// Expire sets a timeout on key. After the timeout has expired, the key will automatically be deleted.
func (r *redisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return r.client.Expire(ctx, r.namespace(key), expiration).Err()
}

// Keys returns all keys matching pattern, scoped to this service's
// namespace, with the namespace prefix stripped back off each result so
// callers see the same unprefixed keys they passed to Set.
func (r *redisClient) Keys(ctx context.Context, pattern string) ([]string, error) {
	raw, err := r.client.Keys(ctx, r.namespace(pattern)).Result()
	if err != nil {
		return nil, err
	}
	trimPrefix := r.keyPrefix + ":"
	keys := make([]string, len(raw))
	for i, k := range raw {
		if len(k) > len(trimPrefix) && k[:len(trimPrefix)] == trimPrefix {
			keys[i] = k[len(trimPrefix):]
		} else {
			keys[i] = k
		}
	}
	return keys, nil
}

// Ping checks the connection to Redis
func (r *redisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (r *redisClient) Close() error {
	return r.client.Close()
}

// Client returns the underlying Redis client for advanced operations
func (r *redisClient) Client() *redis.Client {
	return r.client
}
