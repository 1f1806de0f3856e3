package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // defaults to "doclens"
}

// RedisStore keeps each collection in one Redis hash.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and checks the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "doclens"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) hash(collection string) string {
	return s.prefix + ":" + collection
}

// Put stores v as JSON in the collection hash.
func (s *RedisStore) Put(ctx context.Context, collection, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", collection, key, err)
	}
	if err := s.client.HSet(ctx, s.hash(collection), key, data).Err(); err != nil {
		return fmt.Errorf("failed to store %s/%s: %w", collection, key, err)
	}
	return nil
}

// Get reads collection/key into v.
func (s *RedisStore) Get(ctx context.Context, collection, key string, v any) error {
	data, err := s.client.HGet(ctx, s.hash(collection), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%s/%s: %w", collection, key, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s/%s: %w", collection, key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s/%s: %w", collection, key, err)
	}
	return nil
}

// Delete removes collection/key.
func (s *RedisStore) Delete(ctx context.Context, collection, key string) error {
	if err := s.client.HDel(ctx, s.hash(collection), key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, key, err)
	}
	return nil
}

// Keys lists the keys in a collection.
func (s *RedisStore) Keys(ctx context.Context, collection string) ([]string, error) {
	keys, err := s.client.HKeys(ctx, s.hash(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	return keys, nil
}

// DeleteAll removes the collection hash.
func (s *RedisStore) DeleteAll(ctx context.Context, collection string) error {
	if err := s.client.Del(ctx, s.hash(collection)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", collection, err)
	}
	return nil
}

// Close closes the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
