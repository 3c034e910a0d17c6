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

package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/datajpa/cache"
	"github.com/tomoncle/datajpa/entity"
	"github.com/tomoncle/datajpa/internal/dbtest"
	"github.com/tomoncle/datajpa/orm"
	"github.com/tomoncle/datajpa/repository"
	"github.com/tomoncle/datajpa/types"
)

func TestBaseRepositoryCrud(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := repository.NewRepository[entity.Team, *entity.Team](db, repository.TeamProperties())

	teamA, teamB := entity.NewTeam("teamA"), entity.NewTeam("teamB")
	require.NoError(t, repo.Create(ctx, teamA, teamB))
	require.NoError(t, repo.Create(ctx))

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "teamA", all[0].Name)

	one, err := repo.GetOne(ctx, all[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "teamB", one.Name)

	_, err = repo.GetOne(ctx, 404)
	assert.ErrorIs(t, err, orm.ErrNotFound)

	one.Name = "teamB2"
	require.NoError(t, repo.Update(ctx, one))

	listed, err := repo.List(ctx, types.NewQueryFilter("t.name = ?", "teamB2"))
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	queried, err := repo.Query(ctx, "t.name LIKE ?", "team%")
	require.NoError(t, err)
	assert.Len(t, queried, 2)

	require.NoError(t, repo.Delete(ctx, one.ID))
	count, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestBaseRepositoryUpsert(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := repository.NewRepository[entity.Team, *entity.Team](db, repository.TeamProperties())

	team := entity.NewTeam("teamA")
	require.NoError(t, repo.Create(ctx, team))
	require.NotZero(t, team.ID)

	replacement := &entity.Team{ID: team.ID, Name: "renamed"}
	extra := &entity.Team{ID: team.ID + 1, Name: "teamB"}
	require.NoError(t, repo.Upsert(ctx, []string{"name"}, nil, replacement, extra))

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "renamed", all[0].Name)
	assert.Equal(t, "teamB", all[1].Name)

	assert.Error(t, repo.Upsert(ctx, nil, nil, extra))
}

func TestBaseRepositoryPaging(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := repository.NewRepository[entity.Team, *entity.Team](db, repository.TeamProperties())
	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, repo.Create(ctx, entity.NewTeam(name)))
	}

	page, err := repo.Page(ctx, nil, types.PageOf(0, 2, types.AscOrder("name")))
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalElements)
	require.Len(t, page.Content, 2)
	assert.Equal(t, "a", page.Content[0].Name)

	slice, err := repo.Slice(ctx, types.Where("name", types.Ne, "a"), types.PageOf(0, 2))
	require.NoError(t, err)
	assert.Len(t, slice.Content, 2)
	assert.False(t, slice.HasNext)

	found, err := repo.Find(ctx, types.Where("name", types.In, []string{"a", "c"}), types.By("name").Descending())
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "c", found[0].Name)
}

func TestPropertiesResolve(t *testing.T) {
	props := repository.MemberProperties()

	col, path, err := props.Resolve("age")
	require.NoError(t, err)
	assert.Equal(t, "m.age", col)
	assert.Empty(t, path)

	col, path, err = props.Resolve("team.name")
	require.NoError(t, err)
	assert.Equal(t, "team.name", col)
	assert.Equal(t, "team", path)

	_, _, err = props.Resolve("password")
	assert.ErrorIs(t, err, repository.ErrUnknownProperty)

	assert.Equal(t, "id", props.ID())
	assert.Equal(t, "m.member_id", props.IDColumn())
	assert.Contains(t, props.Properties(), "lastModifiedBy")
}

func TestSessionRepositoryWritesInvalidateSession(t *testing.T) {
	ctx := context.Background()
	regions := cache.NewRegions(cache.NewMemory("test", time.Minute), time.Minute)
	f := dbtest.Factory(t, orm.WithCache(regions))
	region := regions.Region("team")

	teamA := entity.NewTeam("teamA")
	require.NoError(t, f.InTransaction(ctx, func(ctx context.Context, s *orm.Session) error {
		return s.Persist(teamA)
	}))

	s := dbtest.Session(t, f)
	tracked, err := orm.Find[entity.Team](ctx, s, teamA.ID)
	require.NoError(t, err)
	var cached entity.Team
	ok, err := region.Get(ctx, teamA.ID, &cached)
	require.NoError(t, err)
	require.True(t, ok)

	repo := repository.NewSessionRepository[entity.Team](s, repository.TeamProperties())
	require.NoError(t, repo.Update(ctx, &entity.Team{ID: teamA.ID, Name: "renamed"}))
	assert.False(t, s.Contains(tracked))
	reread, err := orm.Find[entity.Team](ctx, s, teamA.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", reread.Name)

	teamB := entity.NewTeam("teamB")
	require.NoError(t, repo.Create(ctx, teamB))
	require.NoError(t, repo.Delete(ctx, teamB.ID))
	_, err = orm.Find[entity.Team](ctx, s, teamB.ID)
	assert.ErrorIs(t, err, orm.ErrNotFound)

	require.NoError(t, s.Commit(ctx))
	ok, err = region.Get(ctx, teamA.ID, &cached)
	require.NoError(t, err)
	assert.False(t, ok)
}
