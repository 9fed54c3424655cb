package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrEmptyAddress is returned when the Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

// connectionTimeout bounds the startup ping.
const connectionTimeout = 5 * time.Second

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Address   string `yaml:"address"    env:"NETPULSE_REDIS_ADDR"`
	Password  string `yaml:"password"   env:"NETPULSE_REDIS_PASSWORD"`
	DB        int    `yaml:"db"         env:"NETPULSE_REDIS_DB"`
	KeyPrefix string `yaml:"key_prefix" env:"NETPULSE_REDIS_PREFIX"`
}

// RedisStore implements Store on a Redis server, which lets several
// netpulse processes share tracker mirrors and the analysis cache.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{client: client, prefix: cfg.KeyPrefix}, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return b, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(r.prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
