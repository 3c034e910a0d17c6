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
	"fmt"

	"github.com/uptrace/bun"
)

// Team groups members; it is the inverse side of Member.Team.
type Team struct {
	bun.BaseModel `bun:"table:team,alias:t"`

	ID      int64     `bun:"team_id,pk,autoincrement" json:"id"`
	Name    string    `bun:"name,notnull" json:"name"`
	Members []*Member `bun:"rel:has-many,join:team_id=team_id" json:"-"`
}

type teamState struct {
	Name string
}

var (
	_ Entity     = (*Team)(nil)
	_ Associated = (*Team)(nil)
)

func NewTeam(name string) *Team { return &Team{Name: name} }

func (t *Team) GetID() int64 { return t.ID }

func (t *Team) SetID(id int64) { t.ID = id }

func (t *Team) EntityName() string { return "team" }

func (t *Team) Snapshot() any { return teamState{Name: t.Name} }

// BindAssociations attaches members fetched together with the team.
// Members that are not saved yet stay as they are; members the scope
// already moved to another team are dropped from the list.
func (t *Team) BindAssociations(scope Scope, fetched Entity) {
	f, ok := fetched.(*Team)
	if !ok || len(f.Members) == 0 {
		return
	}
	members := make([]*Member, 0, len(f.Members))
	for _, fm := range f.Members {
		m := fm
		if fm.ID != 0 {
			m, _ = scope.Manage(fm).(*Member)
			if m.Team != t && t.ID != 0 && m.TeamID != t.ID {
				continue
			}
		}
		m.Team = t
		m.team = ResolvedRef(t, t.ID)
		members = append(members, m)
	}
	t.Members = members
}

func (t *Team) addMember(m *Member) {
	for _, existing := range t.Members {
		if existing == m {
			return
		}
	}
	t.Members = append(t.Members, m)
}

func (t *Team) removeMember(m *Member) {
	for i, existing := range t.Members {
		if existing == m {
			t.Members = append(t.Members[:i], t.Members[i+1:]...)
			return
		}
	}
}

func (t *Team) String() string { return fmt.Sprintf("Team(id=%d, name=%s)", t.ID, t.Name) }
