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

import "time"

// CreationColumns are written once on insert and never updated.
var CreationColumns = []string{"created_date", "created_by"}

// BaseEntity carries the audit stamps shared by auditable entities.
type BaseEntity struct {
	CreatedDate      time.Time `bun:"created_date,nullzero" json:"created_date"`
	LastModifiedDate time.Time `bun:"last_modified_date,nullzero" json:"last_modified_date"`
	CreatedBy        string    `bun:"created_by" json:"created_by"`
	LastModifiedBy   string    `bun:"last_modified_by" json:"last_modified_by"`
}

var _ Auditable = (*BaseEntity)(nil)

// MarkCreated stamps creation and modification on first persist only.
func (b *BaseEntity) MarkCreated(at time.Time, by string) {
	if !b.CreatedDate.IsZero() {
		return
	}
	b.CreatedDate = at
	b.CreatedBy = by
	b.LastModifiedDate = at
	b.LastModifiedBy = by
}

func (b *BaseEntity) MarkModified(at time.Time, by string) {
	b.LastModifiedDate = at
	b.LastModifiedBy = by
}
