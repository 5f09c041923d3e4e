// Package redis implements the Redis-backed parts of the notification engine:
// a thin JSON cache, the preference read-through cache and the digest queue.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrCacheMiss          = errors.New("cache: miss")
	ErrCacheSerialization = errors.New("cache: bad payload")
	ErrCacheKeyEmpty      = errors.New("cache: empty key")
	ErrCacheNilValue      = errors.New("cache: nil value")
	ErrCacheInvalidTTL    = errors.New("cache: negative ttl")
)

// ══════════════════════════════════════════════════════════════════════════════
// KEYSPACE
// ══════════════════════════════════════════════════════════════════════════════

const (
	PrefixPreference = "pref:"
	PrefixDigest     = "digest:"

	// KeyDigestPending is the set of "user:type" members with queued entries.
	KeyDigestPending = PrefixDigest + "pending"

	// TTLPreference is used when the preference cache is given no TTL.
	TTLPreference = 10 * time.Minute
)

func PreferenceKey(userID string) string { return PrefixPreference + userID }

// ══════════════════════════════════════════════════════════════════════════════
// CONNECTION
// ══════════════════════════════════════════════════════════════════════════════

// Config describes how to reach Redis. URL wins over the discrete fields.
// Zero pool and timeout values keep go-redis defaults.
type Config struct {
	URL string

	Host     string
	Port     int
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig points at a local Redis.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

func (c Config) clientOptions() (*redis.Options, error) {
	opts := &redis.Options{
		Addr:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Password: c.Password,
		DB:       c.DB,
	}
	if c.URL != "" {
		parsed, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("redis: parse url: %w", err)
		}
		opts = parsed
	}

	for _, o := range []struct {
		dst *int
		v   int
	}{
		{&opts.PoolSize, c.PoolSize},
		{&opts.MinIdleConns, c.MinIdleConns},
		{&opts.MaxRetries, c.MaxRetries},
	} {
		if o.v > 0 {
			*o.dst = o.v
		}
	}
	for _, o := range []struct {
		dst *time.Duration
		v   time.Duration
	}{
		{&opts.DialTimeout, c.DialTimeout},
		{&opts.ReadTimeout, c.ReadTimeout},
		{&opts.WriteTimeout, c.WriteTimeout},
	} {
		if o.v > 0 {
			*o.dst = o.v
		}
	}
	return opts, nil
}

// Cache is a go-redis client plus JSON get/set.
type Cache struct {
	client *redis.Client
}

// NewCache connects and verifies the server answers PING.
func NewCache(ctx context.Context, cfg Config) (*Cache, error) {
	opts, err := cfg.clientOptions()
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", opts.Addr, err)
	}
	return &Cache{client: client}, nil
}

// NewCacheFromClient wraps an existing client.
func NewCacheFromClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Client is shared with the event bus and the digest queue.
func (c *Cache) Client() *redis.Client { return c.client }

func (c *Cache) Close() error { return c.client.Close() }

func (c *Cache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

// Set stores value as JSON. A zero ttl means no expiry.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	switch {
	case key == "":
		return ErrCacheKeyEmpty
	case value == nil:
		return ErrCacheNilValue
	case ttl < 0:
		return ErrCacheInvalidTTL
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Join(ErrCacheSerialization, err)
	}
	return c.client.Set(ctx, key, raw, ttl).Err()
}

// Get decodes the value at key into dest, or returns ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	if key == "" {
		return ErrCacheKeyEmpty
	}

	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return errors.Join(ErrCacheSerialization, err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
