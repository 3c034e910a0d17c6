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

package repository

import (
	"context"

	"github.com/tomoncle/datajpa/entity"
	"github.com/tomoncle/datajpa/orm"
	"github.com/uptrace/bun"
)

// MemberRepositoryCustom holds member queries written as plain SQL.
type MemberRepositoryCustom interface {
	FindMemberCustom(ctx context.Context) ([]*entity.Member, error)
}

// FindMemberCustom lists all members with a hand-written statement.
func (r *memberRepository) FindMemberCustom(ctx context.Context) ([]*entity.Member, error) {
	if err := r.flush(ctx); err != nil {
		return nil, err
	}
	var members []*entity.Member
	err := r.db.NewRaw(
		"SELECT ? FROM ? AS m ORDER BY ? ASC",
		bun.Safe("m.member_id, m.username, m.age, m.team_id, m.created_date, m.last_modified_date, m.created_by, m.last_modified_by"),
		bun.Ident("member"),
		bun.Ident("m.member_id"),
	).Scan(ctx, &members)
	if err != nil {
		return nil, orm.Translate(err)
	}
	return orm.Manage(r.session, members), nil
}
