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
	"cmp"
	"reflect"
	"slices"
	"sync"
)

var defaultRegistry = newModelRegistry()

// SQLModel is a table created by the migrations. Instance returns a Bun
// struct pointer; tables are created in ascending Priority, so referenced
// tables need the lower value. The session flush inserts in the same order.
type SQLModel interface {
	Instance() interface{}
	Priority() int
}

// ModelRegistry stores SQL models and exposes them in a deterministic order.
type ModelRegistry interface {
	Register(model SQLModel)
	Models() []SQLModel
}

type modelRegistry struct {
	mu     sync.RWMutex
	models []SQLModel
	index  map[reflect.Type]int
}

func newModelRegistry() ModelRegistry {
	return &modelRegistry{index: make(map[reflect.Type]int)}
}

// Register adds model, replacing a previous registration of the same type.
func (r *modelRegistry) Register(model SQLModel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	typ := reflect.TypeOf(model.Instance())
	if i, ok := r.index[typ]; ok {
		r.models[i] = model
		return
	}
	r.index[typ] = len(r.models)
	r.models = append(r.models, model)
}

// Models returns the registrations by ascending priority; equal priorities
// keep registration order.
func (r *modelRegistry) Models() []SQLModel {
	r.mu.RLock()
	out := slices.Clone(r.models)
	r.mu.RUnlock()
	slices.SortStableFunc(out, func(a, b SQLModel) int {
		return cmp.Compare(a.Priority(), b.Priority())
	})
	return out
}

// ModelAdapter pairs a Bun model pointer with its creation priority.
type ModelAdapter struct {
	instance interface{}
	priority int
}

func NewModelAdapter(instance interface{}, priority int) SQLModel {
	return &ModelAdapter{instance: instance, priority: priority}
}

func (a *ModelAdapter) Instance() interface{} { return a.instance }

func (a *ModelAdapter) Priority() int { return a.priority }

func GetRegisteredModels() []SQLModel { return defaultRegistry.Models() }

func RegisteredModel(model SQLModel) { defaultRegistry.Register(model) }

// RegisteredModelInstances returns the registered struct pointers in
// creation order.
func RegisteredModelInstances() []interface{} {
	models := GetRegisteredModels()
	out := make([]interface{}, len(models))
	for i, m := range models {
		out[i] = m.Instance()
	}
	return out
}
