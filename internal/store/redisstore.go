package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "scanclient:tokens"

// RedisStoreConfig configures the Redis-backed store.
type RedisStoreConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	Profile   string
}

// RedisStore keeps the token record under <prefix>:<profile>.
type RedisStore struct {
	records
	client *redis.Client
	key    string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisStoreConfig) (*RedisStore, error) {
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis token store: addr is required")
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis token store: ping: %w", err)
	}
	return newRedisStore(client, cfg.KeyPrefix, cfg.Profile), nil
}

func newRedisStore(client *redis.Client, prefix, profile string) *RedisStore {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	s := &RedisStore{client: client, key: prefix + ":" + normalizeProfile(profile)}
	s.records = records{name: "redis token store", backend: s}
	return s
}

// Key returns the Redis key holding the record.
func (s *RedisStore) Key() string { return s.key }

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) load(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return data, err
}

func (s *RedisStore) save(ctx context.Context, data []byte) error {
	return s.client.Set(ctx, s.key, data, 0).Err()
}

func (s *RedisStore) remove(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}
