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

package app_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/datajpa/cache"
	"github.com/tomoncle/datajpa/config"
	"github.com/tomoncle/datajpa/entity"
	"github.com/tomoncle/datajpa/internal/app"
	"github.com/tomoncle/datajpa/internal/dbtest"
	"github.com/tomoncle/datajpa/orm"
	"github.com/tomoncle/datajpa/repository"
)

func testConfig(t *testing.T) *config.AppConfig {
	return &config.AppConfig{
		Database: *dbtest.Config(t),
		Cache:    cache.Config{Driver: "memory", Prefix: "app"},
		Log:      config.LogConfig{Level: "warn", Format: "text"},
		Audit:    config.AuditConfig{Enabled: true, Actor: "batch"},
	}
}

func TestNewWiresSessions(t *testing.T) {
	ctx := context.Background()
	a, err := app.New(ctx, testConfig(t), true)
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.Close()) }()

	assert.Equal(t, "memory", a.Cache.Driver())
	require.NotNil(t, a.Sessions.Regions())

	member := entity.NewMember("member1", 10, nil)
	require.NoError(t, a.Sessions.InTransaction(ctx, func(ctx context.Context, s *orm.Session) error {
		_, err := repository.NewMemberRepository(s).Save(ctx, member)
		return err
	}))
	assert.Equal(t, "batch", member.CreatedBy)

	require.NoError(t, a.Sessions.InTransaction(orm.WithActor(ctx, "alice"), func(ctx context.Context, s *orm.Session) error {
		m, err := repository.NewMemberRepository(s).FindByID(ctx, member.ID)
		if err != nil {
			return err
		}
		m.Age++
		return nil
	}))

	s, err := a.Sessions.OpenSession(ctx)
	require.NoError(t, err)
	defer s.Close()
	m, err := repository.NewMemberRepository(s).FindByID(ctx, member.ID)
	require.NoError(t, err)
	assert.Equal(t, 11, m.Age)
	assert.Equal(t, "alice", m.LastModifiedBy)
}

func TestNewWithoutAuditing(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Audit.Enabled = false
	cfg.Cache.Driver = "none"
	a, err := app.New(ctx, cfg, true)
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.Close()) }()
	assert.Nil(t, a.Sessions.Regions())

	member := entity.NewMember("member1", 10, nil)
	require.NoError(t, a.Sessions.InTransaction(ctx, func(ctx context.Context, s *orm.Session) error {
		return s.Persist(member)
	}))
	assert.Empty(t, member.CreatedBy)
	assert.True(t, member.CreatedDate.IsZero())
}

func TestNewRejectsUnknownCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Driver = "memcached"
	_, err := app.New(context.Background(), cfg, true)
	assert.Error(t, err)
}

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, app.RegisterMetrics(reg))
	require.NoError(t, app.RegisterMetrics(reg))
}
