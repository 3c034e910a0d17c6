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

package orm

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/tomoncle/datajpa/cache"
	"github.com/tomoncle/datajpa/database"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// SessionFactory opens sessions over one database.
type SessionFactory struct {
	db          *bun.DB
	hooks       []Hook
	auditor     AuditorAware
	clock       Clock
	auditing    bool
	regions     *cache.Regions
	lockTimeout time.Duration
	txOptions   *sql.TxOptions
	logger      database.Logger
	priorities  map[reflect.Type]int
}

type Option func(*SessionFactory)

// WithAuditor replaces the random UUID auditor.
func WithAuditor(a AuditorAware) Option {
	return func(f *SessionFactory) { f.auditor = a }
}

func WithClock(c Clock) Option {
	return func(f *SessionFactory) { f.clock = c }
}

// WithoutAuditing disables the built-in AuditListener.
func WithoutAuditing() Option {
	return func(f *SessionFactory) { f.auditing = false }
}

// WithHooks appends hooks that run after the audit listener.
func WithHooks(hooks ...Hook) Option {
	return func(f *SessionFactory) { f.hooks = append(f.hooks, hooks...) }
}

// WithCache enables the second-level cache.
func WithCache(regions *cache.Regions) Option {
	return func(f *SessionFactory) { f.regions = regions }
}

// WithLockTimeout bounds how long a statement waits for a row lock. Zero
// keeps the database default.
func WithLockTimeout(d time.Duration) Option {
	return func(f *SessionFactory) { f.lockTimeout = d }
}

func WithTxOptions(opts *sql.TxOptions) Option {
	return func(f *SessionFactory) { f.txOptions = opts }
}

func WithLogger(l database.Logger) Option {
	return func(f *SessionFactory) { f.logger = l }
}

func NewSessionFactory(db *bun.DB, opts ...Option) *SessionFactory {
	f := &SessionFactory{
		db:         db,
		auditing:   true,
		logger:     database.GetLogger(),
		priorities: make(map[reflect.Type]int),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.auditing {
		f.hooks = append([]Hook{NewAuditListener(f.auditor, f.clock)}, f.hooks...)
	}
	for _, m := range database.GetRegisteredModels() {
		f.priorities[reflect.TypeOf(m.Instance())] = m.Priority()
	}
	return f
}

func (f *SessionFactory) DB() *bun.DB { return f.db }

// Regions returns the second-level cache, or nil when it is disabled.
func (f *SessionFactory) Regions() *cache.Regions { return f.regions }

// OpenSession begins a transaction and returns a session bound to it.
//
// Postgres scopes the lock timeout to the transaction. MySQL and SQLite
// only have a connection setting, so the session pins a connection, sets
// the timeout on it and restores the previous value when the session ends.
func (f *SessionFactory) OpenSession(ctx context.Context) (*Session, error) {
	if setting, ok := connLockTimeouts[f.db.Dialect().Name()]; ok && f.lockTimeout > 0 {
		return f.openPinned(ctx, setting)
	}
	tx, err := f.db.BeginTx(ctx, f.txOptions)
	if err != nil {
		return nil, fmt.Errorf("begin session: %w", Translate(err))
	}
	if f.lockTimeout > 0 && f.db.Dialect().Name() == dialect.PG {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", f.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("set lock timeout: %w", err)
		}
	}
	return newSession(uuid.NewString(), f, tx), nil
}

// InTransaction runs fn in a new session and commits when fn returns nil.
// Otherwise the session is rolled back and fn's error returned.
func (f *SessionFactory) InTransaction(ctx context.Context, fn func(ctx context.Context, s *Session) error) (err error) {
	s, err := f.OpenSession(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			s.Close()
			panic(p)
		}
	}()
	if err := fn(ctx, s); err != nil {
		s.Close()
		return err
	}
	return s.Commit(ctx)
}

// connSetting reads and writes one integer connection variable.
type connSetting struct {
	read  string
	write string
	// value converts the lock timeout into the variable's unit.
	value func(d time.Duration) int64
}

var connLockTimeouts = map[dialect.Name]connSetting{
	dialect.MySQL: {
		read:  "SELECT @@SESSION.innodb_lock_wait_timeout",
		write: "SET SESSION innodb_lock_wait_timeout = %d",
		value: func(d time.Duration) int64 { return int64((d + time.Second - 1) / time.Second) },
	},
	dialect.SQLite: {
		read:  "PRAGMA busy_timeout",
		write: "PRAGMA busy_timeout = %d",
		value: func(d time.Duration) int64 { return d.Milliseconds() },
	},
}

func (f *SessionFactory) openPinned(ctx context.Context, setting connSetting) (*Session, error) {
	conn, err := f.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin session: %w", Translate(err))
	}
	var prior int64
	if err := conn.QueryRowContext(ctx, setting.read).Scan(&prior); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read lock timeout: %w", err)
	}
	restore := func() {
		if _, err := conn.ExecContext(context.Background(), fmt.Sprintf(setting.write, prior)); err != nil {
			f.logger.Warn("Failed to restore lock timeout", "error", err)
		}
		_ = conn.Close()
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf(setting.write, setting.value(f.lockTimeout))); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set lock timeout: %w", err)
	}
	tx, err := conn.BeginTx(ctx, f.txOptions)
	if err != nil {
		restore()
		return nil, fmt.Errorf("begin session: %w", Translate(err))
	}
	s := newSession(uuid.NewString(), f, tx)
	s.release = restore
	return s, nil
}

func (f *SessionFactory) priority(v interface{}) int {
	if p, ok := f.priorities[reflect.TypeOf(v)]; ok {
		return p
	}
	return 1 << 16
}
