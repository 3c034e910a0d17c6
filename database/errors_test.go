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
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsSqlError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		is   bool
		kind SQLError
	}{
		{"nil", nil, false, UnknownErr},
		{"no rows", fmt.Errorf("scan: %w", sql.ErrNoRows), true, NoRowsErr},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062}, true, DuplicateKeyErr},
		{"mysql fk", &mysql.MySQLError{Number: 1452}, true, ForeignKeyViolationErr},
		{"mysql lock wait", &mysql.MySQLError{Number: 1205}, true, LockTimeoutErr},
		{"mysql nowait", &mysql.MySQLError{Number: 3572}, true, LockTimeoutErr},
		{"mysql deadlock", &mysql.MySQLError{Number: 1213}, true, DeadlockErr},
		{"mysql other", &mysql.MySQLError{Number: 9999}, true, UnknownErr},
		{"pgx unique", &pgconn.PgError{Code: "23505"}, true, DuplicateKeyErr},
		{"pgx lock", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "55P03"}), true, LockTimeoutErr},
		{"pq not null", &pq.Error{Code: "23502"}, true, NotNullViolationErr},
		{"pq deadlock", &pq.Error{Code: "40P01"}, true, DeadlockErr},
		{"pq other", &pq.Error{Code: "XX000"}, true, UnknownErr},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true, LockTimeoutErr},
		{"sqlite fk", errors.New("FOREIGN KEY constraint failed"), true, ForeignKeyViolationErr},
		{"sqlite unique", errors.New("UNIQUE constraint failed: team.name"), true, DuplicateKeyErr},
		{"sqlite table", errors.New("no such table: member"), true, NoTableErr},
		{"unrelated", errors.New("boom"), false, UnknownErr},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			is, kind := IsSqlError(tc.err)
			assert.Equal(t, tc.is, is)
			if tc.is {
				assert.Equal(t, tc.kind, kind)
			}
		})
	}
}

func TestIsConstraintViolation(t *testing.T) {
	for _, kind := range []SQLError{DuplicateKeyErr, NotNullViolationErr, ForeignKeyViolationErr, CheckConstraintViolationErr} {
		assert.True(t, kind.IsConstraintViolation(), kind)
	}
	for _, kind := range []SQLError{NoRowsErr, LockTimeoutErr, NoTableErr, UnknownErr} {
		assert.False(t, kind.IsConstraintViolation(), kind)
	}
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "file::memory:?cache=shared", SQLiteDSN(""))
	assert.Equal(t, "file::memory:?cache=shared", SQLiteDSN(":memory:"))
	assert.Equal(t, "file:x?mode=memory", SQLiteDSN("file:x?mode=memory"))
	assert.Equal(t, "datajpa.db", SQLiteDSN("datajpa"))
}
