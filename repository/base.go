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
	"fmt"
	"reflect"
	"strings"

	"github.com/tomoncle/datajpa/orm"
	"github.com/tomoncle/datajpa/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/feature"
	"github.com/uptrace/bun/schema"
)

type baseRepositoryImpl[T any, PT orm.EntityPtr[T]] struct {
	db    bun.IDB
	props *Properties
	// session, when set, owns db: queries flush it first and writes are
	// reported to it.
	session *orm.Session
}

// NewRepository returns a generic repository over db. Rows it returns are
// not tracked by any session; use NewSessionRepository inside a unit of
// work.
func NewRepository[T any, PT orm.EntityPtr[T]](db bun.IDB, props *Properties) Repository[T] {
	return &baseRepositoryImpl[T, PT]{db: db, props: props}
}

// NewSessionRepository returns a generic repository on the transaction of
// s. Queries see the pending changes of s, and Create, Update, Delete and
// Upsert detach the rows they touch from s and from the second-level
// cache. The *WithTx variants run on their own transaction and bypass s.
func NewSessionRepository[T any, PT orm.EntityPtr[T]](s *orm.Session, props *Properties) Repository[T] {
	return newSessionRepository[T, PT](s, props)
}

func newSessionRepository[T any, PT orm.EntityPtr[T]](s *orm.Session, props *Properties) *baseRepositoryImpl[T, PT] {
	return &baseRepositoryImpl[T, PT]{db: s.IDB(), props: props, session: s}
}

// flush makes pending changes of the owning session visible to the next
// query.
func (r *baseRepositoryImpl[T, PT]) flush(ctx context.Context) error {
	if r.session == nil {
		return nil
	}
	return r.session.Flush(ctx)
}

// written reports rows changed outside the unit of work to the owning
// session. Without ids the whole entity cache region is dropped.
func (r *baseRepositoryImpl[T, PT]) written(ctx context.Context, ids ...int64) {
	if r.session == nil {
		return
	}
	r.session.Invalidate(ctx, PT(new(T)).EntityName(), ids...)
}

func (r *baseRepositoryImpl[T, PT]) Properties() *Properties { return r.props }

func (r *baseRepositoryImpl[T, PT]) Dialect() schema.Dialect { return r.db.Dialect() }

func (r *baseRepositoryImpl[T, PT]) NewSelect() *bun.SelectQuery { return r.db.NewSelect() }

func (r *baseRepositoryImpl[T, PT]) NewInsert() *bun.InsertQuery { return r.db.NewInsert() }

func (r *baseRepositoryImpl[T, PT]) NewUpdate() *bun.UpdateQuery { return r.db.NewUpdate() }

func (r *baseRepositoryImpl[T, PT]) NewDelete() *bun.DeleteQuery { return r.db.NewDelete() }

func (r *baseRepositoryImpl[T, PT]) withID(id int64) *T {
	e := PT(new(T))
	e.SetID(id)
	return (*T)(e)
}

func (r *baseRepositoryImpl[T, PT]) GetOne(ctx context.Context, id int64) (*T, error) {
	if err := r.flush(ctx); err != nil {
		return nil, err
	}
	e := r.withID(id)
	if err := r.db.NewSelect().Model(e).WherePK().Scan(ctx); err != nil {
		return nil, orm.Translate(err)
	}
	return e, nil
}

func (r *baseRepositoryImpl[T, PT]) GetAll(ctx context.Context) ([]*T, error) {
	if err := r.flush(ctx); err != nil {
		return nil, err
	}
	var entities []*T
	err := r.db.NewSelect().Model(&entities).OrderExpr("? ASC", bun.Ident(r.props.IDColumn())).Scan(ctx)
	return entities, orm.Translate(err)
}

func (r *baseRepositoryImpl[T, PT]) List(ctx context.Context, filter *types.QueryFilter) ([]*T, error) {
	if err := r.flush(ctx); err != nil {
		return nil, err
	}
	var entities []*T
	query := r.db.NewSelect().Model(&entities)
	if filter != nil {
		query = query.Where(filter.Schema, filter.Args...)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, orm.Translate(err)
	}
	return entities, nil
}

func (r *baseRepositoryImpl[T, PT]) Query(ctx context.Context, query string, args ...interface{}) ([]*T, error) {
	if err := r.flush(ctx); err != nil {
		return nil, err
	}
	var entities []*T
	err := r.db.NewSelect().Model(&entities).Where(query, args...).Scan(ctx)
	return entities, orm.Translate(err)
}

// Find returns the rows matching criteria in the order of sort.
func (r *baseRepositoryImpl[T, PT]) Find(ctx context.Context, criteria *types.Criteria, sort types.Sort) ([]*T, error) {
	return r.find(ctx, nil, criteria, sort)
}

// prepareFunc adjusts a query after its model is set, e.g. to add
// relations or a locking clause.
type prepareFunc func(q *bun.SelectQuery) *bun.SelectQuery

func (r *baseRepositoryImpl[T, PT]) selectInto(dest *[]*T, prepare prepareFunc) *bun.SelectQuery {
	q := r.db.NewSelect().Model(dest)
	if prepare != nil {
		q = prepare(q)
	}
	return q
}

func (r *baseRepositoryImpl[T, PT]) find(ctx context.Context, prepare prepareFunc, criteria *types.Criteria, sort types.Sort, joined ...string) ([]*T, error) {
	if err := r.flush(ctx); err != nil {
		return nil, err
	}
	var entities []*T
	q, err := r.props.Apply(r.selectInto(&entities, prepare), criteria, sort, joined...)
	if err != nil {
		return nil, err
	}
	if err := q.Scan(ctx); err != nil {
		return nil, orm.Translate(err)
	}
	return entities, nil
}

// Count counts primary keys of the matching rows. It never joins more than
// criteria needs.
func (r *baseRepositoryImpl[T, PT]) Count(ctx context.Context, criteria *types.Criteria) (int, error) {
	if err := r.flush(ctx); err != nil {
		return 0, err
	}
	q, err := r.props.Apply(
		r.db.NewSelect().
			Model((*T)(nil)).
			ColumnExpr("count(?)", bun.Ident(r.props.IDColumn())),
		criteria, nil)
	if err != nil {
		return 0, err
	}
	var total int
	if err := q.Scan(ctx, &total); err != nil {
		return 0, orm.Translate(err)
	}
	return total, nil
}

func (r *baseRepositoryImpl[T, PT]) Page(ctx context.Context, criteria *types.Criteria, pageable *types.PageRequest) (*types.Page[T], error) {
	return r.page(ctx, nil, criteria, pageable)
}

func (r *baseRepositoryImpl[T, PT]) page(ctx context.Context, prepare prepareFunc, criteria *types.Criteria, pageable *types.PageRequest, joined ...string) (*types.Page[T], error) {
	if err := r.flush(ctx); err != nil {
		return nil, err
	}
	var entities []*T
	q, err := r.props.Apply(r.selectInto(&entities, prepare), criteria, sortOf(pageable, r.props), joined...)
	if err != nil {
		return nil, err
	}
	err = q.Offset(pageable.Offset()).Limit(pageable.Size()).Scan(ctx)
	if err != nil {
		return nil, orm.Translate(err)
	}
	total, err := pageTotal(ctx, len(entities), pageable, func(ctx context.Context) (int, error) {
		return r.Count(ctx, criteria)
	})
	if err != nil {
		return nil, err
	}
	return types.NewPage(entities, pageable, total), nil
}

func (r *baseRepositoryImpl[T, PT]) Slice(ctx context.Context, criteria *types.Criteria, pageable *types.PageRequest) (*types.Slice[T], error) {
	return r.slice(ctx, nil, criteria, pageable)
}

func (r *baseRepositoryImpl[T, PT]) slice(ctx context.Context, prepare prepareFunc, criteria *types.Criteria, pageable *types.PageRequest, joined ...string) (*types.Slice[T], error) {
	if err := r.flush(ctx); err != nil {
		return nil, err
	}
	var entities []*T
	q, err := r.props.Apply(r.selectInto(&entities, prepare), criteria, sortOf(pageable, r.props), joined...)
	if err != nil {
		return nil, err
	}
	err = q.Offset(pageable.Offset()).Limit(pageable.Size() + 1).Scan(ctx)
	if err != nil {
		return nil, orm.Translate(err)
	}
	return types.NewSlice(entities, pageable), nil
}

// sortOf returns the requested ordering, or the primary key when none was
// requested, so OFFSET paging is always over a total order.
func sortOf(pageable *types.PageRequest, props *Properties) types.Sort {
	if s := pageable.Sort(); s.IsSorted() {
		return s
	}
	return types.By(props.id)
}

// pageTotal derives the total from the page itself when it can: a short
// first page holds everything, a short later page ends the result. Only an
// empty or full page needs the count query.
func pageTotal(ctx context.Context, n int, pageable *types.PageRequest, count func(ctx context.Context) (int, error)) (int, error) {
	if pageable.Offset() == 0 && n < pageable.Size() {
		return n, nil
	}
	if n != 0 && n < pageable.Size() {
		return pageable.Offset() + n, nil
	}
	return count(ctx)
}

func (r *baseRepositoryImpl[T, PT]) Create(ctx context.Context, entity ...*T) error {
	if err := r.CreateWithIDB(ctx, r.db, entity...); err != nil {
		return err
	}
	ids := make([]int64, 0, len(entity))
	for _, e := range entity {
		if id := PT(e).GetID(); id != 0 {
			ids = append(ids, id)
		}
	}
	if len(ids) > 0 {
		r.written(ctx, ids...)
	}
	return nil
}

func (r *baseRepositoryImpl[T, PT]) CreateWithIDB(ctx context.Context, db bun.IDB, entity ...*T) error {
	if len(entity) == 0 {
		return nil
	}
	entities := append([]*T(nil), entity...)
	_, err := db.NewInsert().Model(&entities).Exec(ctx)
	return orm.Translate(err)
}

func (r *baseRepositoryImpl[T, PT]) Upsert(ctx context.Context, fields []string, duplicateKeys []string, entity ...*T) error {
	if err := r.multipleUpsert(ctx, r.db, fields, duplicateKeys, entity...); err != nil {
		return err
	}
	// conflicting rows are matched on duplicateKeys, not on ids
	r.written(ctx)
	return nil
}

func (r *baseRepositoryImpl[T, PT]) Update(ctx context.Context, entity *T) error {
	if _, err := r.db.NewUpdate().Model(entity).WherePK().Exec(ctx); err != nil {
		return orm.Translate(err)
	}
	r.written(ctx, PT(entity).GetID())
	return nil
}

func (r *baseRepositoryImpl[T, PT]) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.NewDelete().Model(r.withID(id)).WherePK().Exec(ctx); err != nil {
		return orm.Translate(err)
	}
	r.written(ctx, id)
	return nil
}

func (r *baseRepositoryImpl[T, PT]) CreateWithTx(ctx context.Context, tx *bun.Tx, entity ...*T) error {
	return r.CreateWithIDB(ctx, tx, entity...)
}

func (r *baseRepositoryImpl[T, PT]) UpsertWithTx(ctx context.Context, tx *bun.Tx, fields []string, duplicateKeys []string, entity ...*T) error {
	return r.multipleUpsert(ctx, tx, fields, duplicateKeys, entity...)
}

func (r *baseRepositoryImpl[T, PT]) UpdateWithTx(ctx context.Context, tx *bun.Tx, entity *T) error {
	_, err := tx.NewUpdate().Model(entity).WherePK().Exec(ctx)
	return orm.Translate(err)
}

func (r *baseRepositoryImpl[T, PT]) DeleteWithTx(ctx context.Context, tx *bun.Tx, id int64) error {
	_, err := tx.NewDelete().Model(r.withID(id)).WherePK().Exec(ctx)
	return orm.Translate(err)
}

func (r *baseRepositoryImpl[T, PT]) table() *schema.Table {
	return r.db.Dialect().Tables().Get(reflect.TypeOf((*T)(nil)).Elem())
}

func (r *baseRepositoryImpl[T, PT]) multipleUpsert(ctx context.Context, db bun.IDB, fields []string, duplicateKeys []string, entity ...*T) error {
	if len(fields) == 0 {
		return fmt.Errorf("fields cannot be empty")
	}
	if len(entity) == 0 {
		return nil
	}
	entities := append([]*T(nil), entity...)
	insertQuery := db.NewInsert().Model(&entities)

	switch {
	case db.Dialect().Features().Has(feature.InsertOnConflict):
		if len(duplicateKeys) == 0 {
			for _, pk := range r.table().PKs {
				duplicateKeys = append(duplicateKeys, pk.Name)
			}
		}
		sets := make([]string, 0, len(fields))
		for _, field := range fields {
			sets = append(sets, fmt.Sprintf("%[1]s = EXCLUDED.%[1]s", field))
		}
		insertQuery = insertQuery.
			On("CONFLICT (" + strings.Join(duplicateKeys, ",") + ") DO UPDATE").
			Set(strings.Join(sets, ", "))
	case db.Dialect().Features().Has(feature.InsertOnDuplicateKey):
		sets := make([]string, 0, len(fields))
		for _, field := range fields {
			sets = append(sets, fmt.Sprintf("%[1]s = VALUES(%[1]s)", field))
		}
		insertQuery = insertQuery.On("DUPLICATE KEY UPDATE " + strings.Join(sets, ", "))
	default:
		return r.upsertFallback(ctx, db, entities)
	}
	_, err := insertQuery.Exec(ctx)
	return orm.Translate(err)
}

func (r *baseRepositoryImpl[T, PT]) upsertFallback(ctx context.Context, db bun.IDB, entities []*T) error {
	for _, e := range entities {
		if _, err := db.NewInsert().Model(e).Exec(ctx); err != nil {
			if _, updateErr := db.NewUpdate().Model(e).WherePK().Exec(ctx); updateErr != nil {
				return fmt.Errorf("upsert failed for entity: insert error: %v, update error: %w", err, updateErr)
			}
		}
	}
	return nil
}
