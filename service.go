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

package datajpa

import (
	"context"
	"sync"

	"github.com/tomoncle/datajpa/database"
	"github.com/tomoncle/datajpa/orm"
	"github.com/tomoncle/datajpa/repository"
	"github.com/tomoncle/datajpa/types"
)

// Service runs each call in its own transactional session. Entities it
// returns are detached once the call completes.
type Service[T any] interface {
	// Get returns a single entity by its identifier.
	Get(ctx context.Context, id int64) (*T, error)

	// All returns all entities ordered by identifier.
	All(ctx context.Context) ([]*T, error)

	// Find returns entities that match criteria.
	Find(ctx context.Context, criteria *types.Criteria, sort types.Sort) ([]*T, error)

	// Page returns a counted page of entities.
	Page(ctx context.Context, criteria *types.Criteria, page *types.PageRequest) (*types.Page[T], error)

	// Save inserts one or more new entities.
	Save(ctx context.Context, model ...*T) error

	// Update writes the state of a detached entity.
	Update(ctx context.Context, model *T) error

	// Delete removes an entity by its identifier.
	Delete(ctx context.Context, id int64) error

	// Transactional runs fn as one unit of work. The session is committed
	// when fn returns nil and rolled back otherwise.
	Transactional(ctx context.Context, fn func(ctx context.Context, s *orm.Session) error) error
}

type baseServiceImpl[T any, PT orm.EntityPtr[T]] struct {
	props   *repository.Properties
	factory *orm.SessionFactory
	once    sync.Once
}

// NewService returns a Service backed by a session factory over the global
// database connection, created on first use.
func NewService[T any, PT orm.EntityPtr[T]](props *repository.Properties) Service[T] {
	return &baseServiceImpl[T, PT]{props: props}
}

// NewServiceWithFactory returns a Service that opens its sessions from f.
func NewServiceWithFactory[T any, PT orm.EntityPtr[T]](f *orm.SessionFactory, props *repository.Properties) Service[T] {
	return &baseServiceImpl[T, PT]{props: props, factory: f}
}

func (s *baseServiceImpl[T, PT]) sessions() *orm.SessionFactory {
	s.once.Do(func() {
		if s.factory == nil {
			s.factory = orm.NewSessionFactory(database.GetDB())
		}
	})
	return s.factory
}

func (s *baseServiceImpl[T, PT]) repo(session *orm.Session) repository.Repository[T] {
	return repository.NewSessionRepository[T, PT](session, s.props)
}

func (s *baseServiceImpl[T, PT]) Transactional(ctx context.Context, fn func(ctx context.Context, s *orm.Session) error) error {
	return s.sessions().InTransaction(ctx, fn)
}

func (s *baseServiceImpl[T, PT]) Get(ctx context.Context, id int64) (model *T, err error) {
	err = s.Transactional(ctx, func(ctx context.Context, session *orm.Session) error {
		model, err = orm.Find[T, PT](ctx, session, id)
		return err
	})
	return model, err
}

func (s *baseServiceImpl[T, PT]) All(ctx context.Context) ([]*T, error) {
	return s.Find(ctx, nil, nil)
}

func (s *baseServiceImpl[T, PT]) Find(ctx context.Context, criteria *types.Criteria, sort types.Sort) (models []*T, err error) {
	if !sort.IsSorted() {
		sort = types.By(s.props.ID())
	}
	err = s.Transactional(ctx, func(ctx context.Context, session *orm.Session) error {
		rows, err := s.repo(session).Find(ctx, criteria, sort)
		if err != nil {
			return err
		}
		models = orm.Manage[T, PT](session, rows)
		return nil
	})
	return models, err
}

func (s *baseServiceImpl[T, PT]) Page(ctx context.Context, criteria *types.Criteria, page *types.PageRequest) (result *types.Page[T], err error) {
	err = s.Transactional(ctx, func(ctx context.Context, session *orm.Session) error {
		result, err = s.repo(session).Page(ctx, criteria, page)
		if err != nil {
			return err
		}
		result.Content = orm.Manage[T, PT](session, result.Content)
		return nil
	})
	return result, err
}

func (s *baseServiceImpl[T, PT]) Save(ctx context.Context, model ...*T) error {
	return s.Transactional(ctx, func(ctx context.Context, session *orm.Session) error {
		for _, m := range model {
			if err := session.Persist(PT(m)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *baseServiceImpl[T, PT]) Update(ctx context.Context, model *T) error {
	return s.Transactional(ctx, func(ctx context.Context, session *orm.Session) error {
		_, err := session.Merge(PT(model))
		return err
	})
}

func (s *baseServiceImpl[T, PT]) Delete(ctx context.Context, id int64) error {
	return s.Transactional(ctx, func(ctx context.Context, session *orm.Session) error {
		model, err := orm.Find[T, PT](ctx, session, id)
		if err != nil {
			return err
		}
		return session.Remove(PT(model))
	})
}
