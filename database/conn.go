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
	"errors"
	"fmt"

	"github.com/uptrace/bun"
)

// The process-wide database, set by InitDatabaseWithOptions and cleared by
// CloseDB. Library code receives *bun.DB explicitly; only the CLI and the
// generic service constructor reach for these accessors.
var (
	globalFactory *BaseDatabaseFactory
	DB            *bun.DB
)

var errNotInitialized = errors.New("database not initialized")

// GetDB returns the process-wide database, or nil before initialization.
func GetDB() *bun.DB {
	if globalFactory != nil {
		return globalFactory.GetDB()
	}
	return DB
}

func GetDatabaseFactory() *BaseDatabaseFactory {
	return globalFactory
}

// InitDatabaseWithOptions connects using cfg, optionally creates the schema
// of every registered model, seeds data when DataInitConfig asks for it,
// and publishes the result as the process-wide database.
func InitDatabaseWithOptions(cfg *Config, runMigrations bool) (*bun.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration cannot be empty")
	}
	factory := NewDatabaseFactory()
	manager, err := factory.CreateFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create database manager: %w", err)
	}

	ctx := context.Background()
	if err := factory.InitializeDatabase(ctx, runMigrations); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	globalFactory = factory
	DB = manager.GetDB()
	DB.RegisterModel(RegisteredModelInstances()...)

	if cfg.DataInitConfig.AutoInitOnStartup {
		if err := InitData(ctx); err != nil {
			return nil, fmt.Errorf("failed to seed initial data: %w", err)
		}
	}
	return DB, nil
}

// CloseDB closes and forgets the process-wide database. Calling it twice is
// harmless.
func CloseDB() error {
	if globalFactory == nil {
		return nil
	}
	err := globalFactory.Close()
	globalFactory, DB = nil, nil
	return err
}

func GetHealthStatus(ctx context.Context) *HealthStatus {
	if globalFactory == nil {
		return &HealthStatus{LastError: errNotInitialized.Error()}
	}
	return globalFactory.GetHealthStatus(ctx)
}

func GetDatabaseStats() *DBStats {
	if globalFactory == nil {
		return &DBStats{}
	}
	return globalFactory.GetStats()
}

// InitData runs the SQL seed files for the configured environment, reading
// DataInitConfig.Filepath (default configs/sql).
func InitData(ctx context.Context) error {
	if globalFactory == nil || globalFactory.GetDB() == nil {
		return errNotInitialized
	}
	env, root := "prod", "configs/sql"
	if cfg := globalFactory.Config(); cfg != nil {
		if cfg.DataInitConfig.Environment != "" {
			env = cfg.DataInitConfig.Environment
		}
		if cfg.DataInitConfig.Filepath != "" {
			root = cfg.DataInitConfig.Filepath
		}
	}
	return NewSQLInitManager(globalFactory.GetDB(), env).
		SetSQLRootPath(root).
		ExecuteInitialization(ctx)
}
