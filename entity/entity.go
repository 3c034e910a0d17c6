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
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDetached is returned when a lazy association is resolved after its
	// owner left the scope it was loaded in.
	ErrDetached = errors.New("detached access to lazy association")
	// ErrTransientReference is returned at flush time when an entity points
	// at an association that was never persisted.
	ErrTransientReference = errors.New("association references a transient entity")
)

// Entity is a persistent object with a surrogate key.
type Entity interface {
	GetID() int64
	SetID(id int64)
	// EntityName names the entity for identity and cache keys.
	EntityName() string
	// Snapshot returns a comparable value of the persistent state used for
	// dirty checking.
	Snapshot() any
}

// Key identifies an entity instance inside a scope.
type Key struct {
	Name string
	ID   int64
}

func KeyOf(e Entity) Key { return Key{Name: e.EntityName(), ID: e.GetID()} }

func (k Key) String() string { return fmt.Sprintf("%s#%d", k.Name, k.ID) }

// Scope is the unit of work that entities and references are attached to.
type Scope interface {
	// Attached reports whether owner is still tracked by an open scope.
	Attached(owner Key) bool
	// Load returns the canonical instance for id, reading it when needed.
	// proto is a zero value of the wanted entity type.
	Load(ctx context.Context, proto Entity, id int64) (Entity, error)
	// Manage registers e and returns the canonical instance for its key.
	Manage(e Entity) Entity
}

// Associated entities wire their association references when they are
// attached. fetched is the freshly scanned row or merged copy for the same
// key; it differs from the receiver when the scope already tracked an
// instance. Associated entities without an id must not be handed to
// Scope.Manage.
type Associated interface {
	BindAssociations(scope Scope, fetched Entity)
}

// FlushAware entities synchronise derived columns before they are written.
type FlushAware interface {
	BeforeFlush() error
}

// Auditable entities carry creation and modification stamps.
type Auditable interface {
	MarkCreated(at time.Time, by string)
	MarkModified(at time.Time, by string)
}
