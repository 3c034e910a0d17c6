/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

//go:build integration

package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) Store {
	t.Helper()

	pool, err := dockertest.NewPool("")
	require.NoError(t, err)
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "redis",
		Tag:        "7-alpine",
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Purge(resource) })

	port, err := strconv.Atoi(resource.GetPort("6379/tcp"))
	require.NoError(t, err)

	var store Store
	require.NoError(t, pool.Retry(func() error {
		store, err = New(Config{Driver: "redis", Host: "localhost", Port: port, Prefix: "it", TTL: time.Minute})
		return err
	}))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	s := setupRedis(t)
	assert.Equal(t, "redis", s.Driver())

	_, err := s.Get(ctx, "member:1")
	assert.ErrorIs(t, err, ErrNotFound)

	rs := NewRegions(s, time.Minute)
	for id := int64(1); id <= 3; id++ {
		require.NoError(t, rs.Region("member").Put(ctx, id, row{ID: id}))
	}
	require.NoError(t, rs.Region("team").Put(ctx, 1, row{ID: 1}))

	var got row
	ok, err := rs.Region("member").Get(ctx, 2, &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 2, got.ID)

	n, err := rs.Region("member").Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	ok, err = rs.Region("team").Get(ctx, 1, &got)
	require.NoError(t, err)
	assert.True(t, ok)
}
