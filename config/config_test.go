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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.ConnectionConfig.Type)
	assert.Equal(t, "datajpa", cfg.Database.ConnectionConfig.DBName)
	assert.Equal(t, 3*time.Second, cfg.Database.ConnectionConfig.LockTimeout)
	assert.Equal(t, "none", cfg.Cache.Driver)
	assert.False(t, cfg.Cache.Enabled())
	assert.Equal(t, "text", cfg.Log.Format)
	assert.True(t, cfg.Audit.Enabled)
}

func TestLoadBundledConfig(t *testing.T) {
	cfg, err := Load(Options{File: "../configs/config.yaml"})
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Database.ConnectionConfig.MaxOpenConns)
	assert.Equal(t, 500*time.Millisecond, cfg.Database.ConnectionConfig.SlowQueryTime)
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "dev", cfg.Database.DataInitConfig.Environment)
}

func TestLoadFileThenEnvironment(t *testing.T) {
	path := writeFile(t, "config.yaml", `
database:
  connection:
    type: postgres
    driver: pgx
    host: db.internal
    port: 5432
    dbname: members
    lock_timeout: 750ms
cache:
  driver: redis
  host: cache.internal
  port: 6380
audit:
  actor: batch
`)
	t.Setenv("DATAJPA_DATABASE_CONNECTION_DBNAME", "members_test")
	t.Setenv("DATAJPA_CACHE_TTL", "30s")

	cfg, err := Load(Options{File: path})
	require.NoError(t, err)
	conn := cfg.Database.ConnectionConfig
	assert.Equal(t, "postgres", conn.Type)
	assert.Equal(t, "pgx", conn.Driver)
	assert.Equal(t, "db.internal", conn.Host)
	assert.Equal(t, 5432, conn.Port)
	assert.Equal(t, "members_test", conn.DBName)
	assert.Equal(t, 750*time.Millisecond, conn.LockTimeout)
	assert.Equal(t, "redis", cfg.Cache.Driver)
	assert.Equal(t, 6380, cfg.Cache.Port)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, "batch", cfg.Audit.Actor)
}

func TestLoadEnvFileDoesNotOverrideEnvironment(t *testing.T) {
	envFile := writeFile(t, ".env", "DATAJPA_LOG_LEVEL=warn\nDATAJPA_LOG_FORMAT=json\n")
	t.Setenv("DATAJPA_LOG_LEVEL", "debug")
	t.Cleanup(func() { _ = os.Unsetenv("DATAJPA_LOG_FORMAT") })

	cfg, err := Load(Options{EnvFile: envFile})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	_, err = Load(Options{EnvFile: filepath.Join(t.TempDir(), "missing.env")})
	assert.NoError(t, err)
}

func TestLoadRejectsInvalidFiles(t *testing.T) {
	_, err := Load(Options{File: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)

	path := writeFile(t, "config.yaml", "cache:\n  driver: memcached\n")
	_, err = Load(Options{File: path})
	assert.ErrorContains(t, err, "memcached")
}

func TestValidate(t *testing.T) {
	valid := func() *AppConfig {
		cfg, err := Load(Options{})
		require.NoError(t, err)
		return cfg
	}
	cases := map[string]func(c *AppConfig){
		"unknown type":       func(c *AppConfig) { c.Database.ConnectionConfig.Type = "oracle" },
		"mysql without host": func(c *AppConfig) { c.Database.ConnectionConfig.Type, c.Database.ConnectionConfig.Host = "mysql", "" },
		"unknown pg driver": func(c *AppConfig) {
			c.Database.ConnectionConfig.Type = "postgres"
			c.Database.ConnectionConfig.Driver = "odbc"
		},
		"no dbname":             func(c *AppConfig) { c.Database.ConnectionConfig.DBName = "" },
		"negative lock timeout": func(c *AppConfig) { c.Database.ConnectionConfig.LockTimeout = -time.Second },
		"no connections":        func(c *AppConfig) { c.Database.ConnectionConfig.MaxOpenConns = 0 },
		"redis without port":    func(c *AppConfig) { c.Cache.Driver, c.Cache.Port = "redis", 0 },
		"negative ttl":          func(c *AppConfig) { c.Cache.TTL = -time.Second },
		"log format":            func(c *AppConfig) { c.Log.Format = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, valid().Validate())
}
