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

package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tomoncle/datajpa/cache"
	"github.com/tomoncle/datajpa/config"
	"github.com/tomoncle/datajpa/database"
	"github.com/tomoncle/datajpa/orm"
	"github.com/uptrace/bun"
)

// App holds the wired database, cache and session factory of one process.
type App struct {
	Config   *config.AppConfig
	DB       *bun.DB
	Cache    cache.Store
	Sessions *orm.SessionFactory
}

// New connects to the configured database and builds the session factory.
// Migrations run only when migrate is set.
func New(ctx context.Context, cfg *config.AppConfig, migrate bool) (*App, error) {
	cfg.ApplyLogging()
	db, err := database.InitDatabaseWithOptions(&cfg.Database, migrate)
	if err != nil {
		return nil, err
	}

	store, err := cache.New(cfg.Cache)
	if err != nil {
		_ = database.CloseDB()
		return nil, err
	}

	opts := []orm.Option{
		orm.WithLockTimeout(cfg.Database.ConnectionConfig.LockTimeout),
		orm.WithAuditor(auditor(cfg.Audit)),
	}
	if !cfg.Audit.Enabled {
		opts = append(opts, orm.WithoutAuditing())
	}
	if cfg.Cache.Enabled() {
		opts = append(opts, orm.WithCache(cache.NewRegions(store, cfg.Cache.TTL)))
	}

	return &App{
		Config:   cfg,
		DB:       db,
		Cache:    store,
		Sessions: orm.NewSessionFactory(db, opts...),
	}, nil
}

func auditor(cfg config.AuditConfig) orm.AuditorAware {
	if cfg.Actor == "" {
		return orm.ContextAuditor(orm.RandomAuditor)
	}
	actor := cfg.Actor
	return orm.ContextAuditor(orm.AuditorFunc(func(context.Context) string { return actor }))
}

// RegisterMetrics registers the query and cache collectors on reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	if err := database.RegisterMetrics(reg); err != nil {
		return fmt.Errorf("register database metrics: %w", err)
	}
	if err := cache.RegisterMetrics(reg); err != nil {
		return fmt.Errorf("register cache metrics: %w", err)
	}
	return nil
}

func (a *App) Close() error {
	return errors.Join(a.Cache.Close(), database.CloseDB())
}
