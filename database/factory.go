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

package database

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/uptrace/bun"
)

var supportedTypes = []string{"mysql", "postgres", "sqlite"}

// BaseDatabaseFactory creates and manages a configured database manager and
// provides helpers for initialization, health checks, and statistics.
type BaseDatabaseFactory struct {
	manager AbstractDatabaseManager
	config  *Config
	logger  Logger
}

// NewDatabaseFactory returns a new database factory using the global logger.
func NewDatabaseFactory() *BaseDatabaseFactory {
	return &BaseDatabaseFactory{
		logger: GetLogger(),
	}
}

// CreateFromConfig constructs a database manager from the given configuration,
// applying environment overrides and setting the factory logger.
func (f *BaseDatabaseFactory) CreateFromConfig(cfg *Config) (AbstractDatabaseManager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration cannot be empty")
	}

	f.overrideFromEnv(&cfg.ConnectionConfig)
	if !slices.Contains(supportedTypes, cfg.ConnectionConfig.Type) {
		return nil, fmt.Errorf("unsupported database type: %s, supported types: %v", cfg.ConnectionConfig.Type, supportedTypes)
	}

	manager := NewDatabaseManager(&cfg.ConnectionConfig)
	manager.SetLogger(f.logger)

	f.manager = manager
	f.config = cfg
	return manager, nil
}

// envOverrides maps DB_* variables onto connection settings. Values that
// do not parse are ignored.
var envOverrides = map[string]func(c *ConnectionConfig, v string){
	"DB_TYPE":     func(c *ConnectionConfig, v string) { c.Type = v },
	"DB_DRIVER":   func(c *ConnectionConfig, v string) { c.Driver = v },
	"DB_HOST":     func(c *ConnectionConfig, v string) { c.Host = v },
	"DB_PORT":     intEnv(func(c *ConnectionConfig, n int) { c.Port = n }),
	"DB_USERNAME": func(c *ConnectionConfig, v string) { c.Username = v },
	"DB_PASSWORD": func(c *ConnectionConfig, v string) { c.Password = v },
	"DB_NAME":     func(c *ConnectionConfig, v string) { c.DBName = v },
	"DB_SSLMODE":  func(c *ConnectionConfig, v string) { c.SSLMode = v },

	"DB_MAX_IDLE_CONNS":   intEnv(func(c *ConnectionConfig, n int) { c.MaxIdleConns = n }),
	"DB_MAX_OPEN_CONNS":   intEnv(func(c *ConnectionConfig, n int) { c.MaxOpenConns = n }),
	"DB_LOCK_TIMEOUT_MS":  intEnv(func(c *ConnectionConfig, n int) { c.LockTimeout = time.Duration(n) * time.Millisecond }),
	"DB_ENABLE_QUERY_LOG": func(c *ConnectionConfig, v string) { c.EnableQueryLog = v == "true" },
	"DB_ENABLE_METRICS":   func(c *ConnectionConfig, v string) { c.EnableMetrics = v == "true" },
}

func intEnv(set func(c *ConnectionConfig, n int)) func(c *ConnectionConfig, v string) {
	return func(c *ConnectionConfig, v string) {
		if n, err := strconv.Atoi(v); err == nil {
			set(c, n)
		}
	}
}

func (f *BaseDatabaseFactory) overrideFromEnv(cfg *ConnectionConfig) {
	for name, apply := range envOverrides {
		if v := os.Getenv(name); v != "" {
			apply(cfg, v)
		}
	}
}

// InitializeDatabase connects to the database and optionally runs migrations.
func (f *BaseDatabaseFactory) InitializeDatabase(ctx context.Context, runMigrations bool) error {
	if f.manager == nil {
		return fmt.Errorf("database manager not created")
	}

	if err := f.manager.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if runMigrations {
		if err := f.Migrator().RunMigrations(ctx); err != nil {
			return fmt.Errorf("failed to run database migrations: %w", err)
		}
	}
	f.logger.Info("Database initialization completed")
	return nil
}

// Migrator returns a migration manager configured from the factory config.
func (f *BaseDatabaseFactory) Migrator() *MigrationManager {
	mm := NewMigrationManager(f.GetDB(), f.logger)
	if f.config != nil {
		mm.SetOptions(f.config.DataMigrateConfig, f.config.DataInitConfig)
	}
	return mm
}

// GetManager returns the underlying database manager.
func (f *BaseDatabaseFactory) GetManager() AbstractDatabaseManager {
	return f.manager
}

// GetDB returns the Bun database instance, or nil if not initialized.
func (f *BaseDatabaseFactory) GetDB() *bun.DB {
	if f.manager == nil {
		return nil
	}
	return f.manager.GetDB()
}

// Config returns the configuration the factory was created from.
func (f *BaseDatabaseFactory) Config() *Config {
	return f.config
}

// SetLogger sets the logger on the factory and the underlying manager.
func (f *BaseDatabaseFactory) SetLogger(logger Logger) {
	f.logger = logger
	if f.manager != nil {
		f.manager.SetLogger(logger)
	}
}

// Close closes the database connection managed by the factory.
func (f *BaseDatabaseFactory) Close() error {
	if f.manager == nil {
		return nil
	}
	return f.manager.Disconnect()
}

// GetHealthStatus returns the current database health status from the manager.
func (f *BaseDatabaseFactory) GetHealthStatus(ctx context.Context) *HealthStatus {
	if f.manager == nil {
		return &HealthStatus{
			Healthy:       false,
			Connected:     false,
			LastError:     "Database manager not initialized",
			LastCheckTime: time.Now(),
		}
	}
	return f.manager.HealthCheck(ctx)
}

// GetStats returns database connection statistics from the manager.
func (f *BaseDatabaseFactory) GetStats() *DBStats {
	if f.manager == nil {
		return &DBStats{}
	}
	return f.manager.GetStats()
}
