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

package database_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/datajpa/database"
	"github.com/tomoncle/datajpa/internal/dbtest"
)

func TestMigrationsCreateTablesWithInlineForeignKey(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()

	applied, err := database.NewMigrationManager(db, nil).GetAppliedMigrations(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, "create_base_tables", applied[0].Name)

	_, err = db.ExecContext(ctx, "INSERT INTO member (username, age, team_id) VALUES ('ghost', 1, 999)")
	is, kind := database.IsSqlError(err)
	require.True(t, is, "expected a foreign key error, got %v", err)
	assert.Equal(t, database.ForeignKeyViolationErr, kind)
}

func TestRollbackMigrationDropsTables(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	mm := database.NewMigrationManager(db, nil)

	require.NoError(t, mm.RollbackMigration(ctx, "001"))
	_, err := db.ExecContext(ctx, "SELECT count(*) FROM member")
	_, kind := database.IsSqlError(err)
	assert.Equal(t, database.NoTableErr, kind)

	assert.Error(t, mm.RollbackMigration(ctx, "001"), "already rolled back")
	assert.Error(t, mm.RollbackMigration(ctx, "404"))

	require.NoError(t, mm.RunMigrations(ctx))
	_, err = db.ExecContext(ctx, "SELECT count(*) FROM member")
	assert.NoError(t, err)
}

func TestSQLInitManagerSeeds(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "common"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "environments", "test"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "common", "001_team.sql"),
		[]byte("INSERT INTO team (name) VALUES ('teamA');\nINSERT INTO team (name) VALUES ('teamB');\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "environments", "test", "001_member.sql"),
		[]byte("INSERT INTO member (username, age, created_by) VALUES ('m1', 10, '{{.ENVIRONMENT}}');\n"), 0o644))

	require.NoError(t, database.NewSQLInitManager(db, "test").SetSQLRootPath(root).ExecuteInitialization(ctx))

	var teams int
	require.NoError(t, db.NewRaw("SELECT count(*) FROM team").Scan(ctx, &teams))
	assert.Equal(t, 2, teams)
	var createdBy string
	require.NoError(t, db.NewRaw("SELECT created_by FROM member WHERE username = 'm1'").Scan(ctx, &createdBy))
	assert.Equal(t, "test", createdBy)

	require.NoError(t, os.WriteFile(filepath.Join(root, "common", "002_bad.sql"), []byte("INSERT INTO nowhere VALUES (1);"), 0o644))
	err := database.NewSQLInitManager(db, "test").SetSQLRootPath(root).ExecuteInitialization(ctx)
	assert.ErrorContains(t, err, "002_bad.sql")
}

func TestQueryHooks(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()

	var buf bytes.Buffer
	db.AddQueryHook(database.NewQueryHook(&buf, false))
	db.AddQueryHook(database.NewMetricsHook("sqlite"))

	before := testutil.ToFloat64(database.QueriesTotal.WithLabelValues("sqlite", "select", "ok"))
	_, err := db.ExecContext(ctx, "SELECT 1")
	require.NoError(t, err)
	assert.Empty(t, buf.String(), "successful queries are not printed without verbose")

	_, err = db.ExecContext(ctx, "SELECT * FROM nowhere")
	require.Error(t, err)
	assert.Contains(t, buf.String(), "nowhere")

	assert.Equal(t, before+1, testutil.ToFloat64(database.QueriesTotal.WithLabelValues("sqlite", "select", "ok")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(database.QueriesTotal.WithLabelValues("sqlite", "select", "error")), 1.0)

	database.EnableBunSqlSilent(true)
	defer database.EnableBunSqlSilent(false)
	buf.Reset()
	_, _ = db.ExecContext(ctx, "SELECT * FROM nowhere")
	assert.Empty(t, buf.String())
}

func TestRegisterMetricsTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, database.RegisterMetrics(reg))
	require.NoError(t, database.RegisterMetrics(reg))
}
