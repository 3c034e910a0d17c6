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

package dto

import "github.com/tomoncle/datajpa/entity"

// MemberDto is a read-only join of a member and its team name.
type MemberDto struct {
	ID       int64  `bun:"id" json:"id"`
	Username string `bun:"username" json:"username"`
	TeamName string `bun:"team_name" json:"team_name"`
}

// NewMemberDto builds the projection from a member whose team is loaded.
func NewMemberDto(m *entity.Member) *MemberDto {
	d := &MemberDto{ID: m.ID, Username: m.Username}
	if m.Team != nil {
		d.TeamName = m.Team.Name
	}
	return d
}

// UsernameOnly is the narrowest member view.
type UsernameOnly interface {
	GetUsername() string
}

// UsernameOnlyDto selects just the username column.
type UsernameOnlyDto struct {
	Username string `bun:"username" json:"username"`
}

var _ UsernameOnly = UsernameOnlyDto{}

func (d UsernameOnlyDto) GetUsername() string { return d.Username }
