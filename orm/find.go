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

	"github.com/tomoncle/datajpa/entity"
)

// EntityPtr constrains a type parameter to a pointer entity type.
type EntityPtr[T any] interface {
	*T
	entity.Entity
}

// Find returns the managed instance for id, reading it if needed.
func Find[T any, PT EntityPtr[T]](ctx context.Context, s *Session, id int64) (*T, error) {
	e, err := s.Load(ctx, PT(new(T)), id)
	if err != nil {
		return nil, err
	}
	return (*T)(e.(PT)), nil
}

// Reference returns an unresolved reference to id without touching the
// database. Resolving it yields the same instance Find returns, and fails
// with ErrDetached once the session is closed.
func Reference[T any, PT EntityPtr[T]](s *Session, id int64) *entity.Ref[T] {
	key := entity.Key{Name: PT(new(T)).EntityName(), ID: id}
	if s.open {
		if en, ok := s.entries[key]; ok && en.state == stateManaged {
			return entity.ResolvedRef((*T)(en.e.(PT)), id)
		}
		s.reference(key)
	}
	return entity.NewRef[T](key, id, s)
}

// ManageOption tunes Manage.
type ManageOption func(*manageOptions)

type manageOptions struct {
	readOnly bool
}

// ReadOnly skips dirty checking for the managed rows.
func ReadOnly() ManageOption {
	return func(o *manageOptions) { o.readOnly = true }
}

// Manage replaces query rows with the session's canonical instances,
// registering the ones it did not track yet.
func Manage[T any, PT EntityPtr[T]](s *Session, rows []*T, opts ...ManageOption) []*T {
	var o manageOptions
	for _, opt := range opts {
		opt(&o)
	}
	out := make([]*T, len(rows))
	for i, row := range rows {
		out[i] = (*T)(s.manage(PT(row), o.readOnly).(PT))
	}
	return out
}

// ManageOne is Manage for a single row.
func ManageOne[T any, PT EntityPtr[T]](s *Session, row *T, opts ...ManageOption) *T {
	if row == nil {
		return nil
	}
	return Manage[T, PT](s, []*T{row}, opts...)[0]
}

// IsReadOnly reports whether e is managed without dirty checking.
func (s *Session) IsReadOnly(e entity.Entity) bool {
	en, ok := s.entries[entity.KeyOf(e)]
	return ok && en.e == e && en.readOnly
}
