/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cache

import (
	"context"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"

	"github.com/jerry-enebeli/beacon/config"
	redis_db "github.com/jerry-enebeli/beacon/internal/redis-db"
)

// ErrCacheMiss is returned by Get when the key is not cached.
var ErrCacheMiss = cache.ErrCacheMiss

// Cache interface provides the basic operations for a cache system.
type Cache interface {
	// Set stores a value under key for ttl.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Get decodes the value stored under key into data. It returns ErrCacheMiss when absent.
	Get(ctx context.Context, key string, data interface{}) error

	// Once returns the cached value under key, calling load and caching its
	// result on a miss. Concurrent callers share one load.
	Once(ctx context.Context, key string, data interface{}, ttl time.Duration, load func() (interface{}, error)) error

	// Delete removes the value stored under key.
	Delete(ctx context.Context, key string) error
}

// cacheSize defines the size of the local cache (in number of entries).
const cacheSize = 1024

// RedisCache is a two level cache: a TinyLFU in-process layer in front of an optional Redis.
type RedisCache struct {
	cache *cache.Cache
}

// NewCache builds the cache described by the configuration. Without a Redis
// address only the local layer is used.
func NewCache(cnf *config.Configuration) (Cache, error) {
	if cnf == nil || cnf.Redis.Dns == "" {
		return NewRedisCache(nil), nil
	}

	client, err := redis_db.NewRedisClient([]string{cnf.Redis.Dns}, cnf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	return NewRedisCache(client.Client()), nil
}

// NewRedisCache creates a cache over client. A nil client gives a local only cache.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	opts := &cache.Options{
		LocalCache: cache.NewTinyLFU(cacheSize, time.Minute),
	}
	if client != nil {
		opts.Redis = client
	}
	return &RedisCache{cache: cache.New(opts)}
}

func (r *RedisCache) Set(ctx context.Context, key string, data interface{}, ttl time.Duration) error {
	return r.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: data,
		TTL:   ttl,
	})
}

func (r *RedisCache) Get(ctx context.Context, key string, data interface{}) error {
	return r.cache.Get(ctx, key, data)
}

func (r *RedisCache) Once(ctx context.Context, key string, data interface{}, ttl time.Duration, load func() (interface{}, error)) error {
	return r.cache.Once(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: data,
		TTL:   ttl,
		Do: func(*cache.Item) (interface{}, error) {
			return load()
		},
	})
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.cache.Delete(ctx, key)
}
