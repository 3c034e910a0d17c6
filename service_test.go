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

package datajpa_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/datajpa"
	"github.com/tomoncle/datajpa/entity"
	"github.com/tomoncle/datajpa/internal/dbtest"
	"github.com/tomoncle/datajpa/orm"
	"github.com/tomoncle/datajpa/repository"
	"github.com/tomoncle/datajpa/types"
)

func TestServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	f := dbtest.Factory(t)
	teams := datajpa.NewServiceWithFactory[entity.Team](f, repository.TeamProperties())
	members := datajpa.NewServiceWithFactory[entity.Member](f, repository.MemberProperties())

	team := entity.NewTeam("teamA")
	require.NoError(t, teams.Save(ctx, team))
	require.NoError(t, members.Save(ctx,
		entity.NewMember("member1", 10, team),
		entity.NewMember("member2", 20, team),
		entity.NewMember("member3", 30, nil),
	))

	all, err := members.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, team.ID, all[0].TeamID)

	// entities returned by a service call are detached
	_, err = all[0].LoadTeam(ctx)
	assert.ErrorIs(t, err, orm.ErrDetached)

	inTeam, err := members.Find(ctx, types.Where("team.name", types.Eq, "teamA"), types.By("age").Descending())
	require.NoError(t, err)
	require.Len(t, inTeam, 2)
	assert.Equal(t, "member2", inTeam[0].Username)

	page, err := members.Page(ctx, types.Where("age", types.Ge, 10), types.PageOf(0, 2))
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalElements)
	assert.True(t, page.HasNext())

	m := all[2]
	m.Age = 31
	require.NoError(t, members.Update(ctx, m))
	got, err := members.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 31, got.Age)

	require.NoError(t, members.Delete(ctx, m.ID))
	_, err = members.Get(ctx, m.ID)
	assert.ErrorIs(t, err, orm.ErrNotFound)
	assert.ErrorIs(t, members.Delete(ctx, m.ID), orm.ErrNotFound)
}

func TestServiceTransactionalRollsBack(t *testing.T) {
	ctx := context.Background()
	f := dbtest.Factory(t)
	members := datajpa.NewServiceWithFactory[entity.Member](f, repository.MemberProperties())
	boom := errors.New("boom")

	err := members.Transactional(ctx, func(ctx context.Context, s *orm.Session) error {
		if _, err := repository.NewMemberRepository(s).Save(ctx, entity.NewMember("member1", 10, nil)); err != nil {
			return err
		}
		if err := s.Flush(ctx); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	all, err := members.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
