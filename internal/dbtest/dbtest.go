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

// Package dbtest opens migrated in-memory SQLite databases for tests.
package dbtest

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/datajpa/database"
	_ "github.com/tomoncle/datajpa/entity"
	"github.com/tomoncle/datajpa/orm"
	"github.com/uptrace/bun"
)

// Config returns a connection config for a private in-memory database.
func Config(t testing.TB) *database.Config {
	cfg := database.DefaultConfig()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	cfg.ConnectionConfig.DBName = "file:" + name + "_" + uuid.NewString()[:8] + "?mode=memory&cache=shared"
	cfg.ConnectionConfig.HealthCheckInterval = 0
	cfg.ConnectionConfig.EnableReconnect = false
	cfg.ConnectionConfig.SlowQueryTime = 0
	cfg.DataMigrateConfig.ForeignKeyFile = ""
	return cfg
}

// Open connects to a fresh database with every migration applied. The
// connection is closed when the test ends.
func Open(t testing.TB) *bun.DB {
	t.Helper()
	cfg := Config(t)
	manager := database.NewDatabaseManager(&cfg.ConnectionConfig)
	manager.SetLogger(database.GetLogger())
	ctx := context.Background()
	require.NoError(t, manager.Connect(ctx))
	t.Cleanup(func() { _ = manager.Disconnect() })

	db := manager.GetDB()
	err := database.NewMigrationManager(db, database.GetLogger()).
		SetOptions(cfg.DataMigrateConfig, cfg.DataInitConfig).
		RunMigrations(ctx)
	require.NoError(t, err)
	return db
}

// Factory opens a fresh database and returns a session factory over it.
func Factory(t testing.TB, opts ...orm.Option) *orm.SessionFactory {
	t.Helper()
	return orm.NewSessionFactory(Open(t), opts...)
}

// Session opens a session that is closed when the test ends. SQLite runs
// on one connection, so a test must not hold two sessions at once.
func Session(t testing.TB, f *orm.SessionFactory) *orm.Session {
	t.Helper()
	s, err := f.OpenSession(context.Background())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}
