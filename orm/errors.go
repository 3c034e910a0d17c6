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
	"errors"
	"fmt"

	"github.com/tomoncle/datajpa/database"
	"github.com/tomoncle/datajpa/entity"
)

var (
	ErrNotFound            = errors.New("entity not found")
	ErrNonUniqueResult     = errors.New("query did not return a unique result")
	ErrLockTimeout         = errors.New("lock could not be acquired")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrSessionClosed       = errors.New("session is closed")
	// ErrDetached is entity.ErrDetached, re-exported for callers that only
	// import orm.
	ErrDetached = entity.ErrDetached
)

// Translate maps driver errors onto the sentinel errors of this package.
// The driver error stays in the chain.
func Translate(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrNotFound, ErrNonUniqueResult, ErrLockTimeout, ErrConstraintViolation, ErrSessionClosed, ErrDetached} {
		if errors.Is(err, known) {
			return err
		}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, entity.ErrTransientReference) {
		return fmt.Errorf("%w: %w", ErrConstraintViolation, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if is, kind := database.IsSqlError(err); is {
		switch {
		case kind == database.LockTimeoutErr, kind == database.DeadlockErr:
			return fmt.Errorf("%w: %w", ErrLockTimeout, err)
		case kind.IsConstraintViolation():
			return fmt.Errorf("%w: %w", ErrConstraintViolation, err)
		}
	}
	return err
}
