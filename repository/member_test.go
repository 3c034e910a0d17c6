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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/datajpa/dto"
	"github.com/tomoncle/datajpa/entity"
	"github.com/tomoncle/datajpa/internal/dbtest"
	"github.com/tomoncle/datajpa/orm"
	"github.com/tomoncle/datajpa/repository"
	"github.com/tomoncle/datajpa/types"
)

// seedMembers stores teamA with member1 and member2 and teamB with member3
// and member4, aged 10 to 40.
func seedMembers(t *testing.T, f *orm.SessionFactory) {
	t.Helper()
	require.NoError(t, f.InTransaction(context.Background(), func(ctx context.Context, s *orm.Session) error {
		teams := repository.NewTeamRepository(s)
		members := repository.NewMemberRepository(s)
		teamA, teamB := entity.NewTeam("teamA"), entity.NewTeam("teamB")
		for _, team := range []*entity.Team{teamA, teamB} {
			if _, err := teams.Save(ctx, team); err != nil {
				return err
			}
		}
		for i, team := range []*entity.Team{teamA, teamA, teamB, teamB} {
			m := entity.NewMember(fmt.Sprintf("member%d", i+1), (i+1)*10, team)
			if _, err := members.Save(ctx, m); err != nil {
				return err
			}
		}
		return nil
	}))
}

// seedPaging stores member1..member5, all aged 10; the first three belong
// to teamA.
func seedPaging(t *testing.T, f *orm.SessionFactory) {
	t.Helper()
	require.NoError(t, f.InTransaction(context.Background(), func(ctx context.Context, s *orm.Session) error {
		team := entity.NewTeam("teamA")
		if err := s.Persist(team); err != nil {
			return err
		}
		for i := 1; i <= 5; i++ {
			var tm *entity.Team
			if i <= 3 {
				tm = team
			}
			if err := s.Persist(entity.NewMember(fmt.Sprintf("member%d", i), 10, tm)); err != nil {
				return err
			}
		}
		return nil
	}))
}

func memberRepo(t *testing.T, f *orm.SessionFactory) (repository.MemberRepository, *orm.Session) {
	t.Helper()
	s := dbtest.Session(t, f)
	return repository.NewMemberRepository(s), s
}

func usernames(members []*entity.Member) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.Username)
	}
	return out
}

func TestSaveFindAndCount(t *testing.T) {
	ctx := context.Background()
	f := dbtest.Factory(t)
	repo, s := memberRepo(t, f)

	saved, err := repo.Save(ctx, entity.NewMember("memberA", 0, nil))
	require.NoError(t, err)
	require.NoError(t, s.Flush(ctx))
	require.NotZero(t, saved.ID)

	found, err := repo.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Same(t, saved, found)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, repo.Delete(ctx, found))
	require.NoError(t, s.Flush(ctx))
	count, err = repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDerivedQueries(t *testing.T) {
	ctx := context.Background()
	f := dbtest.Factory(t)
	seedMembers(t, f)
	repo, _ := memberRepo(t, f)

	result, err := repo.FindByUsernameAndAgeGreaterThan(ctx, "member2", 15)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, 20, result[0].Age)

	result, err = repo.FindByUsernameAndAgeGreaterThan(ctx, "member2", 25)
	require.NoError(t, err)
	assert.Empty(t, result)

	result, err = repo.FindBy(ctx, types.Where("age", types.Ge, 20), types.By("age").Descending())
	require.NoError(t, err)
	assert.Equal(t, []string{"member4", "member3", "member2"}, usernames(result))

	list, err := repo.FindListByUsername(ctx, "member1")
	require.NoError(t, err)
	byName, err := repo.FindByUsername(ctx, "member1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Same(t, list[0], byName[0])

	_, err = repo.FindBy(ctx, types.Where("password", types.Eq, "x"), nil)
	assert.ErrorIs(t, err, repository.ErrUnknownProperty)
}

func TestSingleAndOptionalResults(t *testing.T) {
	ctx := context.Background()
	f := dbtest.Factory(t)
	seedMembers(t, f)
	repo, s := memberRepo(t, f)

	m, err := repo.FindMemberByUsername(ctx, "member3")
	require.NoError(t, err)
	assert.Equal(t, 30, m.Age)

	_, err = repo.FindMemberByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, orm.ErrNotFound)

	m, ok, err := repo.FindOptionalByUsername(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, m)

	require.NoError(t, s.Persist(entity.NewMember("member3", 99, nil)))
	require.NoError(t, s.Flush(ctx))
	_, err = repo.FindMemberByUsername(ctx, "member3")
	assert.ErrorIs(t, err, orm.ErrNonUniqueResult)
	_, _, err = repo.FindOptionalByUsername(ctx, "member3")
	assert.ErrorIs(t, err, orm.ErrNonUniqueResult)
}

func TestExplicitQueries(t *testing.T) {
	ctx := context.Background()
	f := dbtest.Factory(t)
	seedMembers(t, f)
	repo, s := memberRepo(t, f)

	users, err := repo.FindUser(ctx, "member1", 10)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.True(t, s.Contains(users[0]))

	names, err := repo.FindUsernameList(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"member1", "member2", "member3", "member4"}, names)

	require.NoError(t, s.Persist(entity.NewMember("loner", 50, nil)))
	require.NoError(t, s.Flush(ctx))
	dtos, err := repo.FindMemberDto(ctx)
	require.NoError(t, err)
	require.Len(t, dtos, 4)
	assert.Equal(t, "member1", dtos[0].Username)
	assert.Equal(t, "teamA", dtos[0].TeamName)
	assert.Equal(t, "teamB", dtos[3].TeamName)

	byNames, err := repo.FindByNames(ctx, []string{"member1", "member3", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, []string{"member1", "member3"}, usernames(byNames))

	byNames, err = repo.FindByNames(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, byNames)
}

func TestFindByAgePage(t *testing.T) {
	ctx := context.Background()
	f := dbtest.Factory(t)
	seedPaging(t, f)
	repo, _ := memberRepo(t, f)

	request := types.PageOf(0, 3, types.DescOrder("username"))
	page, err := repo.FindByAge(ctx, 10, request)
	require.NoError(t, err)
	assert.Equal(t, []string{"member5", "member4", "member3"}, usernames(page.Content))
	assert.Equal(t, 5, page.TotalElements)
	assert.Equal(t, 2, page.TotalPages())
	assert.Equal(t, 0, page.Number)
	assert.True(t, page.IsFirst())
	assert.True(t, page.HasNext())
	// the team is fetched with the page
	assert.Nil(t, page.Content[0].Team)
	require.NotNil(t, page.Content[2].Team)
	assert.Equal(t, "teamA", page.Content[2].Team.Name)

	dtos := types.MapPage(page, dto.NewMemberDto)
	assert.Equal(t, 5, dtos.TotalElements)
	assert.Equal(t, "teamA", dtos.Content[2].TeamName)

	next, err := repo.FindByAge(ctx, 10, request.Next())
	require.NoError(t, err)
	assert.Equal(t, []string{"member2", "member1"}, usernames(next.Content))
	assert.Equal(t, 5, next.TotalElements)
	assert.True(t, next.IsLast())

	beyond, err := repo.FindByAge(ctx, 10, types.PageOf(4, 3))
	require.NoError(t, err)
	assert.Empty(t, beyond.Content)
	assert.Equal(t, 5, beyond.TotalElements)
	assert.False(t, beyond.HasNext())

	none, err := repo.FindByAge(ctx, 99, types.PageOf(0, 3))
	require.NoError(t, err)
	assert.Zero(t, none.TotalElements)
	assert.Zero(t, none.TotalPages())

	// members without a team sort first; ties fall back to the id
	byTeamOrder := []string{"member4", "member5", "member1", "member2", "member3"}
	byTeam, err := repo.FindByAge(ctx, 10, types.PageOf(0, 5, types.AscOrder("team.name")))
	require.NoError(t, err)
	assert.Equal(t, byTeamOrder, usernames(byTeam.Content))
	again, err := repo.FindByAge(ctx, 10, types.PageOf(0, 5, types.AscOrder("team.name")))
	require.NoError(t, err)
	assert.Equal(t, usernames(byTeam.Content), usernames(again.Content))

	var walked []string
	for req := types.PageOf(0, 2, types.AscOrder("team.name")); ; req = req.Next() {
		p, err := repo.FindByAge(ctx, 10, req)
		require.NoError(t, err)
		walked = append(walked, usernames(p.Content)...)
		if !p.HasNext() {
			break
		}
	}
	assert.Equal(t, byTeamOrder, walked)
}

func TestQueriesSeePendingChanges(t *testing.T) {
	ctx := context.Background()
	f := dbtest.Factory(t)
	seedMembers(t, f)
	repo, s := memberRepo(t, f)

	member5, err := repo.Save(ctx, entity.NewMember("member5", 50, nil))
	require.NoError(t, err)
	found, err := repo.FindMemberByUsername(ctx, "member5")
	require.NoError(t, err)
	assert.Same(t, member5, found)

	member1, err := repo.FindMemberByUsername(ctx, "member1")
	require.NoError(t, err)
	member1.Age = 60
	older, err := repo.FindBy(ctx, types.Where("age", types.Ge, 50), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"member1", "member5"}, usernames(older))

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	names, err := repo.FindUsernameList(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "member5")

	// a pending insert that cannot be written fails the query
	require.NoError(t, s.Persist(entity.NewMember("member6", 60, entity.NewTeam("teamC"))))
	_, err = repo.FindByUsername(ctx, "member6")
	assert.ErrorIs(t, err, entity.ErrTransientReference)
}

func TestFindSliceByAge(t *testing.T) {
	ctx := context.Background()
	f := dbtest.Factory(t)
	seedPaging(t, f)
	repo, _ := memberRepo(t, f)

	slice, err := repo.FindSliceByAge(ctx, 10, types.PageOf(0, 3, types.DescOrder("username")))
	require.NoError(t, err)
	assert.Equal(t, []string{"member5", "member4", "member3"}, usernames(slice.Content))
	assert.True(t, slice.HasNext)

	slice, err = repo.FindSliceByAge(ctx, 10, types.PageOf(1, 3, types.DescOrder("username")))
	require.NoError(t, err)
	assert.Equal(t, []string{"member2", "member1"}, usernames(slice.Content))
	assert.False(t, slice.HasNext)
	assert.True(t, slice.HasPrevious())

	_, err = repo.FindSlice(ctx, nil, types.PageOf(0, 3, types.AscOrder("password")))
	assert.ErrorIs(t, err, repository.ErrUnknownProperty)
}

func TestFindPageDefaultsToIDOrder(t *testing.T) {
	ctx := context.Background()
	f := dbtest.Factory(t)
	seedMembers(t, f)
	repo, _ := memberRepo(t, f)

	page, err := repo.FindPage(ctx, nil, types.PageOf(1, 2))
	require.NoError(t, err)
	assert.Equal(t, []string{"member3", "member4"}, usernames(page.Content))
	assert.Equal(t, 4, page.TotalElements)
}

func TestBulkAgePlus(t *testing.T) {
	ctx := context.Background()
	f := dbtest.Factory(t)
	seedMembers(t, f)
	repo, s := memberRepo(t, f)

	before, err := repo.FindMemberByUsername(ctx, "member4")
	require.NoError(t, err)

	n, err := repo.BulkAgePlus(ctx, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.False(t, s.Contains(before))
	assert.Equal(t, 40, before.Age)

	after, err := repo.FindMemberByUsername(ctx, "member4")
	require.NoError(t, err)
	assert.Equal(t, 41, after.Age)

	untouched, err := repo.FindMemberByUsername(ctx, "member1")
	require.NoError(t, err)
	assert.Equal(t, 10, untouched.Age)
}

func TestGraphFetchesTeam(t *testing.T) {
	ctx := context.Background()
	f := dbtest.Factory(t)
	seedMembers(t, f)
	repo, s := memberRepo(t, f)

	fetched, err := repo.FindMemberFetchJoin(ctx)
	require.NoError(t, err)
	require.Len(t, fetched, 4)
	for _, m := range fetched {
		assert.True(t, m.TeamRef().IsResolved(), m.Username)
	}
	assert.Same(t, fetched[0].Team, fetched[1].Team)

	graph, err := repo.FindEntityGraphByUsername(ctx, "member3")
	require.NoError(t, err)
	require.Len(t, graph, 1)
	assert.Same(t, fetched[2], graph[0])

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	entityGraph, err := repo.FindMemberEntityGraph(ctx)
	require.NoError(t, err)
	assert.Equal(t, usernames(all), usernames(entityGraph))

	_, err = repo.FindAllWithGraph(ctx, "friends")
	assert.ErrorIs(t, err, repository.ErrUnknownProperty)

	s.Close()
	team, err := fetched[3].LoadTeam(ctx)
	require.NoError(t, err)
	assert.Equal(t, "teamB", team.Name)
}

func TestLazyTeamWithoutGraphIsDetachedAfterClose(t *testing.T) {
	ctx := context.Background()
	f := dbtest.Factory(t)
	seedMembers(t, f)
	repo, s := memberRepo(t, f)

	members, err := repo.FindByUsername(ctx, "member1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.False(t, members[0].TeamRef().IsResolved())
	s.Close()

	_, err = members[0].LoadTeam(ctx)
	assert.ErrorIs(t, err, orm.ErrDetached)
}

func TestReadOnlyMemberIsNotFlushed(t *testing.T) {
	ctx := context.Background()
	f := dbtest.Factory(t)
	seedMembers(t, f)

	repo, s := memberRepo(t, f)
	m, err := repo.FindReadOnlyByUsername(ctx, "member1")
	require.NoError(t, err)
	assert.True(t, s.IsReadOnly(m))
	m.Username = "member99"
	require.NoError(t, s.Commit(ctx))

	repo, _ = memberRepo(t, f)
	_, err = repo.FindMemberByUsername(ctx, "member1")
	assert.NoError(t, err)
}

func TestLockProjectionAndCustom(t *testing.T) {
	ctx := context.Background()
	f := dbtest.Factory(t)
	seedMembers(t, f)
	repo, _ := memberRepo(t, f)

	locked, err := repo.FindLockByUsername(ctx, "member1")
	require.NoError(t, err)
	require.Len(t, locked, 1)

	projections, err := repo.FindProjectionsByUsername(ctx, "member1")
	require.NoError(t, err)
	require.Len(t, projections, 1)
	var view dto.UsernameOnly = projections[0]
	assert.Equal(t, "member1", view.GetUsername())

	custom, err := repo.FindMemberCustom(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"member1", "member2", "member3", "member4"}, usernames(custom))
	assert.Same(t, locked[0], custom[0])
}

func TestSpecifications(t *testing.T) {
	ctx := context.Background()
	f := dbtest.Factory(t)
	seedMembers(t, f)
	repo, _ := memberRepo(t, f)

	result, err := repo.FindAllBySpec(ctx, repository.UsernameEquals("member1"), repository.TeamNameEquals("teamA"))
	require.NoError(t, err)
	assert.Equal(t, []string{"member1"}, usernames(result))

	result, err = repo.FindAllBySpec(ctx, repository.TeamNameEquals("teamB"))
	require.NoError(t, err)
	assert.Equal(t, []string{"member3", "member4"}, usernames(result))

	result, err = repo.FindAllBySpec(ctx, repository.UsernameEquals(""), repository.TeamNameEquals(""), nil)
	require.NoError(t, err)
	assert.Len(t, result, 4)

	count, err := repo.CountBySpec(ctx, repository.AgeAtLeast(20))
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = repo.CountBySpec(ctx, repository.TeamNameEquals("teamA"), repository.AgeAtLeast(20))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
