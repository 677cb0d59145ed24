package helper

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/redis/go-redis/v9"
)

// Cache stores LLM and embedding responses keyed by their inputs.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
}

// CacheConfiguration holds the Redis connection settings.
type CacheConfiguration struct {
	Addr     string        `env:"RETRIEVER_CACHE_ADDR" envDefault:"localhost:6379"`
	Password string        `env:"RETRIEVER_CACHE_PASSWORD"`
	DB       int           `env:"RETRIEVER_CACHE_DB" envDefault:"0"`
	TTL      time.Duration `env:"RETRIEVER_CACHE_TTL" envDefault:"24h"`
	Prefix   string        `env:"RETRIEVER_CACHE_PREFIX" envDefault:"retriever"`
}

// NewCacheConfiguration parses the cache configuration from the environment.
func NewCacheConfiguration() (*CacheConfiguration, error) {
	config := &CacheConfiguration{}
	if err := env.Parse(config); err != nil {
		return nil, NewError("parse cache configuration", err)
	}
	return config, nil
}

// RedisCache is a Cache backed by Redis.
type RedisCache struct {
	client *redis.Client
	config *CacheConfiguration
	logger *slog.Logger
}

// NewRedisCache connects to Redis and pings it once.
func NewRedisCache(ctx context.Context, config *CacheConfiguration, logger *slog.Logger) (*RedisCache, error) {
	if config == nil {
		return nil, NewError("cache configuration validation", fmt.Errorf("configuration is nil"))
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, NewError("ping redis", err)
	}

	logger.Info("Connected to cache", slog.String("addr", config.Addr))

	return &RedisCache{client: client, config: config, logger: logger}, nil
}

// Get returns the cached value and whether it was present.
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, c.config.Prefix+":"+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, NewError("cache get", err)
	}
	return value, true, nil
}

// Set stores value with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value string) error {
	if err := c.client.Set(ctx, c.config.Prefix+":"+key, value, c.config.TTL).Err(); err != nil {
		return NewError("cache set", err)
	}
	return nil
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// CacheKey derives a stable key from its parts.
func CacheKey(kind string, parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return kind + ":" + hex.EncodeToString(h[:])
}
