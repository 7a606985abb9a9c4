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
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jerry-enebeli/beacon/config"
)

func newMiniredisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client), s
}

func TestSetGetDelete(t *testing.T) {
	c, s := newMiniredisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "criteria", []byte(`{"count":1}`), 10*time.Minute))
	assert.True(t, s.Exists("criteria"))

	var got []byte
	require.NoError(t, c.Get(ctx, "criteria", &got))
	assert.Equal(t, `{"count":1}`, string(got))

	require.NoError(t, c.Delete(ctx, "criteria"))
	assert.False(t, s.Exists("criteria"))

	err := c.Get(ctx, "criteria", &got)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestOnce_LoadsOnce(t *testing.T) {
	c, _ := newMiniredisCache(t)
	ctx := context.Background()

	loads := 0
	load := func() (interface{}, error) {
		loads++
		return []byte("payload"), nil
	}

	for i := 0; i < 3; i++ {
		var got []byte
		require.NoError(t, c.Once(ctx, "criteria", &got, time.Minute, load))
		assert.Equal(t, "payload", string(got))
	}
	assert.Equal(t, 1, loads)
}

func TestOnce_LoadErrorIsNotCached(t *testing.T) {
	c := NewRedisCache(nil)
	ctx := context.Background()

	boom := errors.New("nothing stored")
	var got []byte
	err := c.Once(ctx, "criteria", &got, time.Minute, func() (interface{}, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	err = c.Once(ctx, "criteria", &got, time.Minute, func() (interface{}, error) { return []byte("ok"), nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", string(got))
}

func TestNewCache_LocalOnly(t *testing.T) {
	c, err := NewCache(&config.Configuration{})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	var got []byte
	require.NoError(t, c.Get(ctx, "k", &got))
	assert.Equal(t, "v", string(got))
}

func TestNewCache_Redis(t *testing.T) {
	s := miniredis.RunT(t)
	c, err := NewCache(&config.Configuration{Redis: config.RedisConfig{Dns: s.Addr()}})
	require.NoError(t, err)
	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), time.Minute))
	assert.True(t, s.Exists("k"))
}
