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
	"database/sql"
	"fmt"

	"github.com/tomoncle/datajpa/database"
	"github.com/tomoncle/datajpa/dto"
	"github.com/tomoncle/datajpa/entity"
	"github.com/tomoncle/datajpa/orm"
	"github.com/tomoncle/datajpa/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// MemberGraphAll names the graph that fetches a member with its team.
const MemberGraphAll = "Member.all"

var (
	memberRelations = map[string]string{"team": "Team"}
	memberGraphs    = map[string][]string{MemberGraphAll: {"team"}}
)

// MemberProperties maps the filterable and sortable member properties.
func MemberProperties() *Properties {
	return NewProperties("m", "id", "member_id").
		Column("username", "username").
		Column("age", "age").
		Column("teamId", "team_id").
		Column("createdDate", "created_date").
		Column("createdBy", "created_by").
		Column("lastModifiedDate", "last_modified_date").
		Column("lastModifiedBy", "last_modified_by").
		Column("team.id", "team_id").
		Column("team.name", "name").
		Join("team", "LEFT JOIN team AS team ON team.team_id = m.team_id")
}

// MemberRepository reads and writes members through one session. Every
// member it returns is the session's managed instance, and every query
// flushes the session first so it sees the session's own changes.
type MemberRepository interface {
	MemberRepositoryCustom
	MemberSpecificationExecutor

	Save(ctx context.Context, m *entity.Member) (*entity.Member, error)
	FindByID(ctx context.Context, id int64) (*entity.Member, error)
	// FindAll fetches every member together with its team.
	FindAll(ctx context.Context) ([]*entity.Member, error)
	Delete(ctx context.Context, m *entity.Member) error
	Count(ctx context.Context) (int, error)

	FindBy(ctx context.Context, criteria *types.Criteria, sort types.Sort) ([]*entity.Member, error)
	FindByUsernameAndAgeGreaterThan(ctx context.Context, username string, age int) ([]*entity.Member, error)
	FindByUsername(ctx context.Context, username string) ([]*entity.Member, error)
	FindListByUsername(ctx context.Context, username string) ([]*entity.Member, error)
	// FindMemberByUsername fails with orm.ErrNotFound or
	// orm.ErrNonUniqueResult unless exactly one member matches.
	FindMemberByUsername(ctx context.Context, username string) (*entity.Member, error)
	// FindOptionalByUsername reports false when nobody matches.
	FindOptionalByUsername(ctx context.Context, username string) (*entity.Member, bool, error)

	FindUser(ctx context.Context, username string, age int) ([]*entity.Member, error)
	FindUsernameList(ctx context.Context) ([]string, error)
	FindMemberDto(ctx context.Context) ([]*dto.MemberDto, error)
	FindByNames(ctx context.Context, names []string) ([]*entity.Member, error)

	FindByAge(ctx context.Context, age int, pageable *types.PageRequest) (*types.Page[entity.Member], error)
	FindSliceByAge(ctx context.Context, age int, pageable *types.PageRequest) (*types.Slice[entity.Member], error)
	FindPage(ctx context.Context, criteria *types.Criteria, pageable *types.PageRequest) (*types.Page[entity.Member], error)
	FindSlice(ctx context.Context, criteria *types.Criteria, pageable *types.PageRequest) (*types.Slice[entity.Member], error)

	// BulkAgePlus increments the age of every member at least age years
	// old and detaches all managed entities.
	BulkAgePlus(ctx context.Context, age int) (int64, error)

	FindMemberFetchJoin(ctx context.Context) ([]*entity.Member, error)
	FindAllWithGraph(ctx context.Context, paths ...string) ([]*entity.Member, error)
	FindMemberEntityGraph(ctx context.Context) ([]*entity.Member, error)
	FindEntityGraphByUsername(ctx context.Context, username string) ([]*entity.Member, error)

	// FindReadOnlyByUsername returns a member whose changes are never
	// flushed.
	FindReadOnlyByUsername(ctx context.Context, username string) (*entity.Member, error)
	// FindLockByUsername locks the matching rows until the session ends.
	FindLockByUsername(ctx context.Context, username string) ([]*entity.Member, error)
	FindProjectionsByUsername(ctx context.Context, username string) ([]*dto.UsernameOnlyDto, error)
}

type memberRepository struct {
	*baseRepositoryImpl[entity.Member, *entity.Member]
	logger database.Logger
}

func NewMemberRepository(s *orm.Session) MemberRepository {
	return &memberRepository{
		baseRepositoryImpl: newSessionRepository[entity.Member, *entity.Member](s, MemberProperties()),
		logger:             database.GetLogger(),
	}
}

func (r *memberRepository) manage(rows []*entity.Member, err error) ([]*entity.Member, error) {
	if err != nil {
		return nil, err
	}
	return orm.Manage(r.session, rows), nil
}

func (r *memberRepository) Save(ctx context.Context, m *entity.Member) (*entity.Member, error) {
	if m.ID == 0 {
		return m, r.session.Persist(m)
	}
	merged, err := r.session.Merge(m)
	if err != nil {
		return nil, err
	}
	return merged.(*entity.Member), nil
}

func (r *memberRepository) FindByID(ctx context.Context, id int64) (*entity.Member, error) {
	return orm.Find[entity.Member](ctx, r.session, id)
}

func (r *memberRepository) FindAll(ctx context.Context) ([]*entity.Member, error) {
	return r.FindAllWithGraph(ctx, "team")
}

func (r *memberRepository) Delete(ctx context.Context, m *entity.Member) error {
	if !r.session.Contains(m) {
		merged, err := r.session.Merge(m)
		if err != nil {
			return err
		}
		m = merged.(*entity.Member)
	}
	return r.session.Remove(m)
}

func (r *memberRepository) Count(ctx context.Context) (int, error) {
	return r.baseRepositoryImpl.Count(ctx, nil)
}

func (r *memberRepository) FindBy(ctx context.Context, criteria *types.Criteria, sort types.Sort) ([]*entity.Member, error) {
	if !sort.IsSorted() {
		sort = types.By("id")
	}
	return r.manage(r.find(ctx, nil, criteria, sort))
}

func (r *memberRepository) FindByUsernameAndAgeGreaterThan(ctx context.Context, username string, age int) ([]*entity.Member, error) {
	return r.FindBy(ctx, types.Where("username", types.Eq, username).And("age", types.Gt, age), nil)
}

func (r *memberRepository) FindByUsername(ctx context.Context, username string) ([]*entity.Member, error) {
	return r.FindBy(ctx, types.Where("username", types.Eq, username), nil)
}

func (r *memberRepository) FindListByUsername(ctx context.Context, username string) ([]*entity.Member, error) {
	return r.FindByUsername(ctx, username)
}

func (r *memberRepository) FindMemberByUsername(ctx context.Context, username string) (*entity.Member, error) {
	members, err := r.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return single(members, "username", username)
}

func (r *memberRepository) FindOptionalByUsername(ctx context.Context, username string) (*entity.Member, bool, error) {
	members, err := r.FindByUsername(ctx, username)
	if err != nil {
		return nil, false, err
	}
	if len(members) == 0 {
		return nil, false, nil
	}
	m, err := single(members, "username", username)
	return m, err == nil, err
}

func single(members []*entity.Member, property string, value interface{}) (*entity.Member, error) {
	switch len(members) {
	case 0:
		return nil, fmt.Errorf("%w: member with %s=%v", orm.ErrNotFound, property, value)
	case 1:
		return members[0], nil
	default:
		return nil, fmt.Errorf("%w: %d members with %s=%v", orm.ErrNonUniqueResult, len(members), property, value)
	}
}

func (r *memberRepository) FindUser(ctx context.Context, username string, age int) ([]*entity.Member, error) {
	if err := r.flush(ctx); err != nil {
		return nil, err
	}
	var members []*entity.Member
	err := r.db.NewSelect().
		Model(&members).
		Where("m.username = ?", username).
		Where("m.age = ?", age).
		OrderExpr("m.member_id ASC").
		Scan(ctx)
	return r.manage(members, orm.Translate(err))
}

func (r *memberRepository) FindUsernameList(ctx context.Context) ([]string, error) {
	if err := r.flush(ctx); err != nil {
		return nil, err
	}
	var names []string
	err := r.db.NewSelect().
		Model((*entity.Member)(nil)).
		Column("username").
		OrderExpr("m.member_id ASC").
		Scan(ctx, &names)
	if err != nil {
		return nil, orm.Translate(err)
	}
	return names, nil
}

// FindMemberDto inner-joins team, so members without a team are skipped.
func (r *memberRepository) FindMemberDto(ctx context.Context) ([]*dto.MemberDto, error) {
	if err := r.flush(ctx); err != nil {
		return nil, err
	}
	var rows []*dto.MemberDto
	err := r.db.NewSelect().
		Model((*entity.Member)(nil)).
		ColumnExpr("m.member_id AS id").
		ColumnExpr("m.username AS username").
		ColumnExpr("t.name AS team_name").
		Join("JOIN team AS t ON t.team_id = m.team_id").
		OrderExpr("m.member_id ASC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, orm.Translate(err)
	}
	return rows, nil
}

func (r *memberRepository) FindByNames(ctx context.Context, names []string) ([]*entity.Member, error) {
	if len(names) == 0 {
		return []*entity.Member{}, nil
	}
	return r.FindBy(ctx, types.Where("username", types.In, names), nil)
}

// FindByAge pages over a query that joins team, so sorting by team.name
// works; the total counts member keys without the join.
func (r *memberRepository) FindByAge(ctx context.Context, age int, pageable *types.PageRequest) (*types.Page[entity.Member], error) {
	page, err := r.page(ctx, withRelations("Team"), types.Where("age", types.Eq, age), pageable, "team")
	if err != nil {
		return nil, err
	}
	page.Content = orm.Manage(r.session, page.Content)
	return page, nil
}

func (r *memberRepository) FindSliceByAge(ctx context.Context, age int, pageable *types.PageRequest) (*types.Slice[entity.Member], error) {
	return r.FindSlice(ctx, types.Where("age", types.Eq, age), pageable)
}

func (r *memberRepository) FindPage(ctx context.Context, criteria *types.Criteria, pageable *types.PageRequest) (*types.Page[entity.Member], error) {
	page, err := r.page(ctx, nil, criteria, pageable)
	if err != nil {
		return nil, err
	}
	page.Content = orm.Manage(r.session, page.Content)
	return page, nil
}

func (r *memberRepository) FindSlice(ctx context.Context, criteria *types.Criteria, pageable *types.PageRequest) (*types.Slice[entity.Member], error) {
	slice, err := r.slice(ctx, nil, criteria, pageable)
	if err != nil {
		return nil, err
	}
	slice.Content = orm.Manage(r.session, slice.Content)
	return slice, nil
}

func (r *memberRepository) BulkAgePlus(ctx context.Context, age int) (int64, error) {
	n, err := r.session.BulkUpdate(ctx, (&entity.Member{}).EntityName(), func(ctx context.Context, db bun.IDB) (sql.Result, error) {
		return db.NewUpdate().
			Model((*entity.Member)(nil)).
			Set("age = age + 1").
			Where("age >= ?", age).
			Exec(ctx)
	})
	if err != nil {
		return 0, err
	}
	r.logger.Debug("Bulk age update", "min_age", age, "affected", n)
	return n, nil
}

func (r *memberRepository) FindMemberFetchJoin(ctx context.Context) ([]*entity.Member, error) {
	return r.FindAllWithGraph(ctx, "team")
}

// FindAllWithGraph fetches members with the listed association paths in
// the same query. Paths not listed stay lazy.
func (r *memberRepository) FindAllWithGraph(ctx context.Context, paths ...string) ([]*entity.Member, error) {
	return r.findWithGraph(ctx, nil, paths)
}

func (r *memberRepository) FindMemberEntityGraph(ctx context.Context) ([]*entity.Member, error) {
	return r.FindAllWithGraph(ctx, "team")
}

func (r *memberRepository) FindEntityGraphByUsername(ctx context.Context, username string) ([]*entity.Member, error) {
	return r.findWithGraph(ctx, types.Where("username", types.Eq, username), memberGraphs[MemberGraphAll])
}

func (r *memberRepository) findWithGraph(ctx context.Context, criteria *types.Criteria, paths []string) ([]*entity.Member, error) {
	relations := make([]string, 0, len(paths))
	for _, path := range paths {
		rel, ok := memberRelations[path]
		if !ok {
			return nil, fmt.Errorf("%w: association %q", ErrUnknownProperty, path)
		}
		relations = append(relations, rel)
	}
	return r.manage(r.find(ctx, withRelations(relations...), criteria, types.By("id"), paths...))
}

func (r *memberRepository) FindReadOnlyByUsername(ctx context.Context, username string) (*entity.Member, error) {
	if err := r.flush(ctx); err != nil {
		return nil, err
	}
	var members []*entity.Member
	err := r.db.NewSelect().
		Model(&members).
		Where("m.username = ?", username).
		OrderExpr("m.member_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, orm.Translate(err)
	}
	m, err := single(members, "username", username)
	if err != nil {
		return nil, err
	}
	return orm.ManageOne(r.session, m, orm.ReadOnly()), nil
}

// FindLockByUsername issues SELECT ... FOR UPDATE. SQLite has no row locks;
// there the transaction itself serializes writers.
func (r *memberRepository) FindLockByUsername(ctx context.Context, username string) ([]*entity.Member, error) {
	lock := func(q *bun.SelectQuery) *bun.SelectQuery {
		if r.session.Dialect() == dialect.SQLite {
			return q
		}
		return q.For("UPDATE")
	}
	members, err := r.find(ctx, lock, types.Where("username", types.Eq, username), types.By("id"))
	if err != nil {
		return nil, err
	}
	r.logger.Debug("Locked members", "username", username, "rows", len(members))
	return orm.Manage(r.session, members), nil
}

func (r *memberRepository) FindProjectionsByUsername(ctx context.Context, username string) ([]*dto.UsernameOnlyDto, error) {
	if err := r.flush(ctx); err != nil {
		return nil, err
	}
	var rows []*dto.UsernameOnlyDto
	err := r.db.NewSelect().
		Model((*entity.Member)(nil)).
		Column("username").
		Where("m.username = ?", username).
		OrderExpr("m.member_id ASC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, orm.Translate(err)
	}
	return rows, nil
}

func withRelations(relations ...string) prepareFunc {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		for _, rel := range relations {
			q = q.Relation(rel)
		}
		return q
	}
}
