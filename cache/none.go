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

package cache

import (
	"context"
	"time"
)

type noneStore struct{}

// NewNone returns a store that keeps nothing.
func NewNone() Store { return noneStore{} }

func (noneStore) Get(context.Context, string) ([]byte, error) { return nil, ErrNotFound }

func (noneStore) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (noneStore) Delete(context.Context, ...string) error { return nil }

func (noneStore) DeletePrefix(context.Context, string) (int, error) { return 0, nil }

func (noneStore) Ping(context.Context) error { return nil }

func (noneStore) Close() error { return nil }

func (noneStore) Driver() string { return "none" }
