package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// Compile-time check that RedisCache implements Cache.
var _ Cache = (*RedisCache)(nil)

// Opts holds configuration options for the Redis cache.
type Opts struct {
	Addr     string // host:port
	URL      string // redis://[:password@]host:port/db, takes precedence over Addr
	Password string
	DB       int
}

// Option defines a configuration option for the Redis cache.
type Option func(*Opts)

// WithRedisAddr sets the Redis server address.
func WithRedisAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithRedisURL sets a redis:// connection URL.
func WithRedisURL(url string) Option {
	return func(o *Opts) {
		o.URL = url
	}
}

// WithRedisPassword sets the Redis password.
func WithRedisPassword(password string) Option {
	return func(o *Opts) {
		o.Password = password
	}
}

// WithRedisDB selects the Redis logical database.
func WithRedisDB(db int) Option {
	return func(o *Opts) {
		o.DB = db
	}
}

// RedisCache is a Cache backed by Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, opts ...Option) (*RedisCache, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	var options *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		options = parsed
	} else {
		if cfg.Addr == "" {
			return nil, errors.New("redis address not set")
		}
		options = &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	}

	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		slog.Error("NewRedisCache: ping failed", "addr", options.Addr, "error", err)
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	slog.Info("NewRedisCache: connected", "addr", options.Addr, "db", options.DB)
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) HGet(ctx context.Context, key, field string) ([]byte, bool, error) {
	value, err := c.client.HGet(ctx, key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis hget %s %s: %w", key, field, err)
	}
	return value, true, nil
}

func (c *RedisCache) HSet(ctx context.Context, key, field string, value []byte) error {
	if err := c.client.HSet(ctx, key, field, value).Err(); err != nil {
		return fmt.Errorf("redis hset %s %s: %w", key, field, err)
	}
	return nil
}

func (c *RedisCache) HDel(ctx context.Context, key, field string) error {
	if err := c.client.HDel(ctx, key, field).Err(); err != nil {
		return fmt.Errorf("redis hdel %s %s: %w", key, field, err)
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
