package recognition

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	backend "github.com/redis/go-redis/v9"
)

// Store is an optional second cache level shared between engines, for
// example several drawing surfaces of one application.
type Store interface {
	Load(ctx context.Context, key string) (Result, bool, error)
	Save(ctx context.Context, key string, r Result, ttl time.Duration) error
	Clear(ctx context.Context) error
}

// RedisStore keeps accepted results in Redis as JSON.
type RedisStore struct {
	client *backend.Client
	prefix string
}

type StoreOption func(*RedisStore)

// WithPrefix sets the key prefix, "inkcore:shape:" by default.
func WithPrefix(prefix string) StoreOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore connects to address.
func NewRedisStore(address, password string, db int, opts ...StoreOption) *RedisStore {
	return NewRedisStoreFromClient(backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}), opts...)
}

func NewRedisStoreFromClient(client *backend.Client, opts ...StoreOption) *RedisStore {
	s := &RedisStore{client: client, prefix: "inkcore:shape:"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) Load(ctx context.Context, key string) (Result, bool, error) {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == backend.Nil {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, errors.Wrap(err, "failed to load shape result")
	}
	var r Result
	if err := json.Unmarshal(val, &r); err != nil {
		return Result{}, false, errors.Wrap(err, "corrupt shape result")
	}
	return r, true, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, r Result, ttl time.Duration) error {
	data, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "failed to marshal shape result")
	}
	if err := s.client.Set(ctx, s.key(key), data, ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to save shape result")
	}
	return nil
}

// Clear deletes every key under the prefix.
func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return errors.Wrap(err, "failed to scan shape results")
	}
	if len(keys) == 0 {
		return nil
	}
	return errors.Wrap(s.client.Del(ctx, keys...).Err(), "failed to clear shape results")
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
