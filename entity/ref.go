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

package entity

import (
	"context"
	"fmt"
)

// Ref is a many-to-one association that holds only the target key until it
// is resolved inside an active scope.
type Ref[T any] struct {
	id    int64
	owner Key
	scope Scope
	value *T
}

// NewRef returns an unresolved reference to id owned by owner.
func NewRef[T any](owner Key, id int64, scope Scope) *Ref[T] {
	return &Ref[T]{id: id, owner: owner, scope: scope}
}

// ResolvedRef wraps an already materialised value.
func ResolvedRef[T any](value *T, id int64) *Ref[T] {
	return &Ref[T]{id: id, value: value}
}

func (r *Ref[T]) ID() int64 { return r.id }

// IsNil reports whether the reference points nowhere.
func (r *Ref[T]) IsNil() bool { return r == nil || (r.id == 0 && r.value == nil) }

func (r *Ref[T]) IsResolved() bool { return r != nil && r.value != nil }

func (r *Ref[T]) Owner() Key { return r.owner }

// Resolve materialises the target. A resolved reference keeps its value
// after the scope ends; an unresolved one fails with ErrDetached.
func (r *Ref[T]) Resolve(ctx context.Context) (*T, error) {
	if r.IsNil() {
		return nil, nil
	}
	if r.value != nil {
		return r.value, nil
	}
	if r.scope == nil || !r.scope.Attached(r.owner) {
		return nil, fmt.Errorf("%w: %s via %s", ErrDetached, r.target(), r.owner)
	}
	proto, ok := any(new(T)).(Entity)
	if !ok {
		return nil, fmt.Errorf("reference target %T is not an entity", new(T))
	}
	loaded, err := r.scope.Load(ctx, proto, r.id)
	if err != nil {
		return nil, err
	}
	v, ok := any(loaded).(*T)
	if !ok {
		return nil, fmt.Errorf("scope returned %T for %s", loaded, r.target())
	}
	r.value = v
	return v, nil
}

func (r *Ref[T]) target() string {
	if e, ok := any(new(T)).(Entity); ok {
		return Key{Name: e.EntityName(), ID: r.id}.String()
	}
	return fmt.Sprintf("%T#%d", new(T), r.id)
}
