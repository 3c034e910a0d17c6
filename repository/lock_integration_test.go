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

package repository_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/datajpa/database"
	"github.com/tomoncle/datajpa/orm"
	"github.com/tomoncle/datajpa/repository"
	"github.com/uptrace/bun"
)

func setupPostgres(t *testing.T) *bun.DB {
	t.Helper()

	pool, err := dockertest.NewPool("")
	require.NoError(t, err)

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "16-alpine",
		Env: []string{
			"POSTGRES_PASSWORD=postgres",
			"POSTGRES_USER=postgres",
			"POSTGRES_DB=datajpa",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Purge(resource) })

	port, err := strconv.Atoi(resource.GetPort("5432/tcp"))
	require.NoError(t, err)

	cfg := database.DefaultConfig()
	cfg.ConnectionConfig.Type = "postgres"
	cfg.ConnectionConfig.Driver = "pgx"
	cfg.ConnectionConfig.Host = "localhost"
	cfg.ConnectionConfig.Port = port
	cfg.ConnectionConfig.Username = "postgres"
	cfg.ConnectionConfig.Password = "postgres"
	cfg.ConnectionConfig.DBName = "datajpa"
	cfg.ConnectionConfig.SSLMode = "disable"
	cfg.ConnectionConfig.EnableReconnect = false
	cfg.ConnectionConfig.HealthCheckInterval = 0
	cfg.DataMigrateConfig.ForeignKeyFile = ""

	ctx := context.Background()
	var manager database.AbstractDatabaseManager
	require.NoError(t, pool.Retry(func() error {
		manager = database.NewDatabaseManager(&cfg.ConnectionConfig)
		return manager.Connect(ctx)
	}))
	t.Cleanup(func() { _ = manager.Disconnect() })

	db := manager.GetDB()
	require.NoError(t, database.NewMigrationManager(db, database.GetLogger()).
		SetOptions(cfg.DataMigrateConfig, cfg.DataInitConfig).
		RunMigrations(ctx))
	return db
}

func TestPessimisticLockTimesOut(t *testing.T) {
	ctx := context.Background()
	db := setupPostgres(t)
	f := orm.NewSessionFactory(db)
	seedMembers(t, f)

	holder, err := f.OpenSession(ctx)
	require.NoError(t, err)
	defer holder.Close()
	locked, err := repository.NewMemberRepository(holder).FindLockByUsername(ctx, "member1")
	require.NoError(t, err)
	require.Len(t, locked, 1)

	impatient := orm.NewSessionFactory(db, orm.WithLockTimeout(200*time.Millisecond))
	waiter, err := impatient.OpenSession(ctx)
	require.NoError(t, err)
	start := time.Now()
	_, err = repository.NewMemberRepository(waiter).FindLockByUsername(ctx, "member1")
	require.ErrorIs(t, err, orm.ErrLockTimeout)
	require.Less(t, time.Since(start), 5*time.Second)
	waiter.Close()

	// other rows are not locked
	waiter, err = impatient.OpenSession(ctx)
	require.NoError(t, err)
	others, err := repository.NewMemberRepository(waiter).FindLockByUsername(ctx, "member2")
	require.NoError(t, err)
	require.Len(t, others, 1)
	waiter.Close()

	locked[0].Age = 11
	require.NoError(t, holder.Commit(ctx))

	require.NoError(t, impatient.InTransaction(ctx, func(ctx context.Context, s *orm.Session) error {
		m, err := repository.NewMemberRepository(s).FindLockByUsername(ctx, "member1")
		if err != nil {
			return err
		}
		require.Equal(t, 11, m[0].Age)
		return nil
	}))
}

func TestPostgresPagingAndBulkUpdate(t *testing.T) {
	ctx := context.Background()
	db := setupPostgres(t)
	f := orm.NewSessionFactory(db)
	seedMembers(t, f)

	require.NoError(t, f.InTransaction(ctx, func(ctx context.Context, s *orm.Session) error {
		repo := repository.NewMemberRepository(s)
		n, err := repo.BulkAgePlus(ctx, 20)
		if err != nil {
			return err
		}
		require.EqualValues(t, 3, n)
		dtos, err := repo.FindMemberDto(ctx)
		if err != nil {
			return err
		}
		require.Len(t, dtos, 4)
		return nil
	}))
}
