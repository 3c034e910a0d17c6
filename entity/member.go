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

	"github.com/uptrace/bun"
)

// Member is a user that optionally belongs to one Team.
type Member struct {
	bun.BaseModel `bun:"table:member,alias:m"`

	ID       int64  `bun:"member_id,pk,autoincrement" json:"id"`
	Username string `bun:"username" json:"username"`
	Age      int    `bun:"age,notnull" json:"age"`
	TeamID   int64  `bun:"team_id,nullzero" json:"team_id,omitempty"`
	// Team is set only when the team was fetched together with the member
	// or resolved through LoadTeam.
	Team *Team `bun:"rel:belongs-to,join:team_id=team_id" json:"-"`
	BaseEntity

	team *Ref[Team]
}

type memberState struct {
	Username string
	Age      int
	TeamID   int64
}

var (
	_ Entity     = (*Member)(nil)
	_ Associated = (*Member)(nil)
	_ FlushAware = (*Member)(nil)
)

// NewMember builds a transient member, joining team when it is not nil.
func NewMember(username string, age int, team *Team) *Member {
	m := &Member{Username: username, Age: age}
	if team != nil {
		m.ChangeTeam(team)
	}
	return m
}

func (m *Member) GetID() int64 { return m.ID }

func (m *Member) SetID(id int64) { m.ID = id }

func (m *Member) EntityName() string { return "member" }

func (m *Member) Snapshot() any {
	return memberState{Username: m.Username, Age: m.Age, TeamID: m.TeamID}
}

// ChangeTeam moves the member to team and keeps the inverse side in sync.
func (m *Member) ChangeTeam(team *Team) {
	if m.Team != nil && m.Team != team {
		m.Team.removeMember(m)
	}
	if team == nil {
		m.Team, m.TeamID, m.team = nil, 0, nil
		return
	}
	m.Team = team
	m.TeamID = team.ID
	m.team = ResolvedRef(team, team.ID)
	team.addMember(m)
}

// TeamRef returns the lazy reference to the member's team.
func (m *Member) TeamRef() *Ref[Team] {
	switch {
	case m.team != nil:
		return m.team
	case m.Team != nil:
		return ResolvedRef(m.Team, m.Team.ID)
	default:
		return NewRef[Team](KeyOf(m), m.TeamID, nil)
	}
}

// LoadTeam resolves the team, failing with ErrDetached outside the scope
// the member was loaded in.
func (m *Member) LoadTeam(ctx context.Context) (*Team, error) {
	team, err := m.TeamRef().Resolve(ctx)
	if err != nil {
		return nil, err
	}
	m.Team = team
	return team, nil
}

func (m *Member) BindAssociations(scope Scope, fetched Entity) {
	if f, ok := fetched.(*Member); ok && f.Team != nil && f.Team.ID != 0 && f.Team.ID == f.TeamID {
		team, _ := scope.Manage(f.Team).(*Team)
		m.Team = team
		m.team = ResolvedRef(team, team.ID)
		return
	}
	// Team and the reference only survive while they still match TeamID
	if m.Team != nil && (m.Team.ID == 0 || m.Team.ID != m.TeamID) {
		m.Team = nil
	}
	if m.team.IsResolved() && m.team.ID() == m.TeamID {
		return
	}
	m.team = NewRef[Team](KeyOf(m), m.TeamID, scope)
}

func (m *Member) BeforeFlush() error {
	if m.Team == nil {
		return nil
	}
	if m.Team.ID == 0 {
		return fmt.Errorf("%w: member %q -> team %q", ErrTransientReference, m.Username, m.Team.Name)
	}
	m.TeamID = m.Team.ID
	return nil
}

func (m *Member) String() string {
	return fmt.Sprintf("Member(id=%d, username=%s, age=%d)", m.ID, m.Username, m.Age)
}
