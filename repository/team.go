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
	"github.com/tomoncle/datajpa/types"
	"github.com/uptrace/bun"
)

func TeamProperties() *Properties {
	return NewProperties("t", "id", "team_id").
		Column("name", "name")
}

// TeamRepository reads and writes teams through one session.
type TeamRepository interface {
	Save(ctx context.Context, t *entity.Team) (*entity.Team, error)
	FindByID(ctx context.Context, id int64) (*entity.Team, error)
	FindByName(ctx context.Context, name string) ([]*entity.Team, error)
	// FindWithMembers fetches teams with all their members.
	FindWithMembers(ctx context.Context) ([]*entity.Team, error)
	FindAll(ctx context.Context) ([]*entity.Team, error)
	Delete(ctx context.Context, t *entity.Team) error
}

type teamRepository struct {
	*baseRepositoryImpl[entity.Team, *entity.Team]
}

func NewTeamRepository(s *orm.Session) TeamRepository {
	return &teamRepository{
		baseRepositoryImpl: newSessionRepository[entity.Team, *entity.Team](s, TeamProperties()),
	}
}

func (r *teamRepository) Save(ctx context.Context, t *entity.Team) (*entity.Team, error) {
	if t.ID == 0 {
		return t, r.session.Persist(t)
	}
	merged, err := r.session.Merge(t)
	if err != nil {
		return nil, err
	}
	return merged.(*entity.Team), nil
}

func (r *teamRepository) FindByID(ctx context.Context, id int64) (*entity.Team, error) {
	return orm.Find[entity.Team](ctx, r.session, id)
}

func (r *teamRepository) FindByName(ctx context.Context, name string) ([]*entity.Team, error) {
	teams, err := r.find(ctx, nil, types.Where("name", types.Eq, name), types.By("id"))
	if err != nil {
		return nil, err
	}
	return orm.Manage(r.session, teams), nil
}

func (r *teamRepository) FindWithMembers(ctx context.Context) ([]*entity.Team, error) {
	members := func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Relation("Members", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.OrderExpr("m.member_id ASC")
		})
	}
	teams, err := r.find(ctx, members, nil, types.By("id"))
	if err != nil {
		return nil, err
	}
	return orm.Manage(r.session, teams), nil
}

func (r *teamRepository) FindAll(ctx context.Context) ([]*entity.Team, error) {
	teams, err := r.find(ctx, nil, nil, types.By("id"))
	if err != nil {
		return nil, err
	}
	return orm.Manage(r.session, teams), nil
}

// Delete removes t. Members of t keep existing; the foreign key sets their
// team to null.
func (r *teamRepository) Delete(ctx context.Context, t *entity.Team) error {
	if !r.session.Contains(t) {
		merged, err := r.session.Merge(t)
		if err != nil {
			return err
		}
		t = merged.(*entity.Team)
	}
	return r.session.Remove(t)
}
