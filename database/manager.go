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
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
	"github.com/uptrace/bun/schema"
)

var errNotConnected = errors.New("database not connected")

// endpoint is what a connection type needs to open a pool.
type endpoint struct {
	driver  string
	dsn     string
	dialect schema.Dialect
}

func endpointFor(c *ConnectionConfig) (endpoint, error) {
	switch c.Type {
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%s&readTimeout=%s&writeTimeout=%s",
			c.Username, c.Password, c.Host, c.Port, c.DBName, c.ConnectTimeout, c.ReadTimeout, c.WriteTimeout)
		return endpoint{driver: "mysql", dsn: dsn, dialect: mysqldialect.New()}, nil
	case "postgres", "postgresql":
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&connect_timeout=%d",
			c.Username, c.Password, c.Host, c.Port, c.DBName, sslMode, int(c.ConnectTimeout.Seconds()))
		driver := "postgres"
		if c.Driver == "pgx" {
			driver = "pgx"
		}
		return endpoint{driver: driver, dsn: dsn, dialect: pgdialect.New()}, nil
	case "sqlite", "sqlite3":
		return endpoint{driver: sqliteshim.ShimName, dsn: SQLiteDSN(c.DBName), dialect: sqlitedialect.New()}, nil
	default:
		return endpoint{}, fmt.Errorf("unsupported database type: %s", c.Type)
	}
}

func isSQLite(c *ConnectionConfig) bool { return c.Type == "sqlite" || c.Type == "sqlite3" }

// SQLiteDSN maps a database name to a sqlite DSN: ":memory:" becomes a
// shared in-memory database, "file:" DSNs pass through, anything else is a
// file named after the database.
func SQLiteDSN(name string) string {
	switch {
	case name == "" || name == ":memory:":
		return "file::memory:?cache=shared"
	case strings.HasPrefix(name, "file:"):
		return name
	default:
		return fmt.Sprintf("%s.db", name)
	}
}

type defaultDatabaseManager struct {
	config *ConnectionConfig
	logger Logger

	mu     sync.RWMutex
	db     *bun.DB
	sqlDB  *sql.DB
	status HealthStatus

	// stopMonitor cancels the health monitor; nil when none runs.
	stopMonitor context.CancelFunc
	monitorDone chan struct{}
}

// NewDatabaseManager returns an AbstractDatabaseManager backed by Bun.
// A nil config selects DefaultConnectionConfig.
func NewDatabaseManager(config *ConnectionConfig) AbstractDatabaseManager {
	if config == nil {
		config = DefaultConnectionConfig()
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 30 * time.Second
	}
	return &defaultDatabaseManager{config: config}
}

func (dm *defaultDatabaseManager) Connect(ctx context.Context) error {
	dm.mu.Lock()
	err := dm.openLocked(ctx)
	dm.mu.Unlock()
	if err != nil {
		return err
	}
	if dm.config.HealthCheckInterval > 0 {
		dm.startMonitor()
	}
	dm.log().Info("Database connected", "type", dm.config.Type, "host", dm.config.Host, "dbname", dm.config.DBName)
	return nil
}

// openLocked opens, tunes and verifies a new pool. The caller holds mu.
func (dm *defaultDatabaseManager) openLocked(ctx context.Context) error {
	if dm.db != nil {
		return nil
	}
	ep, err := endpointFor(dm.config)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	sqlDB, err := sql.Open(ep.driver, ep.dsn)
	if err != nil {
		dm.status.LastError = err.Error()
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	dm.tunePool(sqlDB)
	db := bun.NewDB(sqlDB, ep.dialect)

	pingCtx, cancel := context.WithTimeout(ctx, dm.config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		dm.status.LastError = err.Error()
		return fmt.Errorf("database connection test failed: %w", err)
	}
	if isSQLite(dm.config) {
		if err := sqlitePragmas(ctx, db, dm.config.LockTimeout); err != nil {
			_ = db.Close()
			dm.status.LastError = err.Error()
			return fmt.Errorf("failed to apply sqlite pragmas: %w", err)
		}
	}
	dm.installHooks(db)

	dm.db, dm.sqlDB = db, sqlDB
	dm.status.Connected, dm.status.LastError = true, ""
	return nil
}

func (dm *defaultDatabaseManager) installHooks(db *bun.DB) {
	c := dm.config
	if c.EnableQueryLog {
		if c.QueryLogStyle == "color" {
			db.AddQueryHook(NewQueryHook(os.Stdout, true))
		} else {
			db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true), bundebug.FromEnv("BUNDEBUG")))
		}
	}
	if c.SlowQueryTime > 0 {
		db.AddQueryHook(NewSlowQueryHook(c.SlowQueryTime, dm.logger))
	}
	if c.EnableMetrics {
		db.AddQueryHook(NewMetricsHook(c.Type))
	}
}

func sqlitePragmas(ctx context.Context, db *bun.DB, busy time.Duration) error {
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return err
	}
	if busy > 0 {
		_, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
		return err
	}
	return nil
}

func (dm *defaultDatabaseManager) tunePool(sqlDB *sql.DB) {
	// one sqlite connection: a single writer, and an in-memory database
	// lives as long as its connection
	if isSQLite(dm.config) {
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxLifetime(0)
		sqlDB.SetConnMaxIdleTime(0)
		return
	}
	sqlDB.SetMaxIdleConns(dm.config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(dm.config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(dm.config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(dm.config.ConnMaxIdleTime)
}

func (dm *defaultDatabaseManager) closeLocked() error {
	if dm.db == nil {
		return nil
	}
	err := dm.db.Close()
	dm.db, dm.sqlDB = nil, nil
	dm.status.Connected = false
	return err
}

func (dm *defaultDatabaseManager) Disconnect() error {
	dm.stopMonitoring()

	dm.mu.Lock()
	wasOpen := dm.db != nil
	err := dm.closeLocked()
	dm.mu.Unlock()

	switch {
	case err != nil:
		dm.log().Error("Failed to close database connection", "error", err)
	case wasOpen:
		dm.log().Info("Database connection closed")
	}
	return err
}

// Reconnect replaces the pool. A running health monitor keeps running.
func (dm *defaultDatabaseManager) Reconnect(ctx context.Context) error {
	log := dm.log()
	log.Info("Attempting to reconnect to the database")
	dm.mu.Lock()
	closeErr := dm.closeLocked()
	err := dm.openLocked(ctx)
	dm.mu.Unlock()
	if closeErr != nil {
		log.Warn("Error disconnecting existing connection", "error", closeErr)
	}
	return err
}

func (dm *defaultDatabaseManager) Ping(ctx context.Context) error {
	db := dm.GetDB()
	if db == nil {
		return errNotConnected
	}
	return db.PingContext(ctx)
}

func (dm *defaultDatabaseManager) GetDB() *bun.DB {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.db
}

func (dm *defaultDatabaseManager) GetSQLDB() *sql.DB {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.sqlDB
}

func (dm *defaultDatabaseManager) HealthCheck(ctx context.Context) *HealthStatus {
	dm.mu.RLock()
	db, sqlDB := dm.db, dm.sqlDB
	dm.mu.RUnlock()

	start := time.Now()
	status := HealthStatus{LastCheckTime: start}
	if db == nil {
		status.LastError = "Database not initialized"
		return &status
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := db.PingContext(pingCtx)
	status.ResponseTime = time.Since(start)
	status.Healthy, status.Connected = err == nil, err == nil
	if err != nil {
		status.LastError = err.Error()
	}
	stats := sqlDB.Stats()
	status.ActiveConns = stats.InUse
	status.IdleConns = stats.Idle
	status.MaxOpenConns = stats.MaxOpenConnections

	dm.mu.Lock()
	dm.status = status
	dm.mu.Unlock()
	return &status
}

func (dm *defaultDatabaseManager) startMonitor() {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.stopMonitor != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	dm.stopMonitor = cancel
	dm.monitorDone = make(chan struct{})
	go dm.monitor(ctx, dm.monitorDone)
}

func (dm *defaultDatabaseManager) stopMonitoring() {
	dm.mu.Lock()
	cancel, done := dm.stopMonitor, dm.monitorDone
	dm.stopMonitor, dm.monitorDone = nil, nil
	dm.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// monitor pings on every tick and, when enabled, reconnects an unhealthy
// pool up to MaxReconnectTries times in a row.
func (dm *defaultDatabaseManager) monitor(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(dm.config.HealthCheckInterval)
	defer ticker.Stop()

	tries := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		healthy := dm.HealthCheck(checkCtx).Healthy
		cancel()
		if healthy {
			tries = 0
			continue
		}
		if !dm.config.EnableReconnect {
			continue
		}
		if tries >= dm.config.MaxReconnectTries {
			dm.log().Error("Max reconnect attempts reached, stopping", "tries", tries)
			continue
		}
		tries++
		dm.log().Info("Starting database reconnect", "try", tries)
		select {
		case <-ctx.Done():
			return
		case <-time.After(dm.config.ReconnectInterval):
		}
		reconnectCtx, cancel := context.WithTimeout(ctx, dm.config.ConnectTimeout)
		if err := dm.Reconnect(reconnectCtx); err != nil {
			dm.log().Error("Reconnect failed", "error", err, "try", tries)
		} else {
			dm.log().Info("Reconnect succeeded")
			tries = 0
		}
		cancel()
	}
}

func (dm *defaultDatabaseManager) GetStats() *DBStats {
	sqlDB := dm.GetSQLDB()
	if sqlDB == nil {
		return &DBStats{}
	}
	s := sqlDB.Stats()
	return &DBStats{
		MaxOpenConns:      s.MaxOpenConnections,
		OpenConns:         s.OpenConnections,
		InUse:             s.InUse,
		Idle:              s.Idle,
		WaitCount:         s.WaitCount,
		WaitDuration:      s.WaitDuration,
		MaxIdleClosed:     s.MaxIdleClosed,
		MaxIdleTimeClosed: s.MaxIdleTimeClosed,
		MaxLifetimeClosed: s.MaxLifetimeClosed,
	}
}

func (dm *defaultDatabaseManager) RunMigrations(ctx context.Context) error {
	db := dm.GetDB()
	if db == nil {
		return errNotConnected
	}
	return NewMigrationManager(db, dm.log()).RunMigrations(ctx)
}

func (dm *defaultDatabaseManager) InitData(ctx context.Context) error {
	db := dm.GetDB()
	if db == nil {
		return errNotConnected
	}
	return NewSQLInitManager(db, "dev").ExecuteInitialization(ctx)
}

func (dm *defaultDatabaseManager) SetLogger(logger Logger) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.logger = logger
}

func (dm *defaultDatabaseManager) log() Logger {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	if dm.logger == nil {
		return nopLogger{}
	}
	return dm.logger
}
