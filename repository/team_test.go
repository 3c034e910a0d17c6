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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/datajpa/entity"
	"github.com/tomoncle/datajpa/internal/dbtest"
	"github.com/tomoncle/datajpa/orm"
	"github.com/tomoncle/datajpa/repository"
	"github.com/tomoncle/datajpa/types"
)

func TestTeamRepository(t *testing.T) {
	ctx := context.Background()
	f := dbtest.Factory(t)
	seedMembers(t, f)

	s := dbtest.Session(t, f)
	teams := repository.NewTeamRepository(s)
	members := repository.NewMemberRepository(s)

	all, err := teams.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	byName, err := teams.FindByName(ctx, "teamB")
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Same(t, all[1], byName[0])

	withMembers, err := teams.FindWithMembers(ctx)
	require.NoError(t, err)
	require.Len(t, withMembers, 2)
	assert.Equal(t, []string{"member1", "member2"}, usernames(withMembers[0].Members))
	assert.Same(t, withMembers[0], withMembers[0].Members[1].Team)

	member1, err := members.FindMemberByUsername(ctx, "member1")
	require.NoError(t, err)
	assert.Same(t, withMembers[0].Members[0], member1)

	found, err := teams.FindByID(ctx, all[0].ID)
	require.NoError(t, err)
	assert.Same(t, all[0], found)
}

func TestTeamRenameAndDelete(t *testing.T) {
	ctx := context.Background()
	f := dbtest.Factory(t)
	seedMembers(t, f)

	var teamB *entity.Team
	require.NoError(t, f.InTransaction(ctx, func(ctx context.Context, s *orm.Session) error {
		found, err := repository.NewTeamRepository(s).FindByName(ctx, "teamB")
		if err != nil {
			return err
		}
		teamB = found[0]
		teamB.Name = "teamC"
		return nil
	}))

	require.NoError(t, f.InTransaction(ctx, func(ctx context.Context, s *orm.Session) error {
		teams := repository.NewTeamRepository(s)
		renamed, err := teams.FindByName(ctx, "teamC")
		if err != nil {
			return err
		}
		assert.Len(t, renamed, 1)
		// teamB is detached here; Delete attaches it first
		return teams.Delete(ctx, teamB)
	}))

	s := dbtest.Session(t, f)
	orphans, err := repository.NewMemberRepository(s).FindBy(ctx, types.Where("teamId", types.IsNull, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"member3", "member4"}, usernames(orphans))
}

func TestMoveMemberBetweenTeams(t *testing.T) {
	ctx := context.Background()
	f := dbtest.Factory(t)
	seedMembers(t, f)

	require.NoError(t, f.InTransaction(ctx, func(ctx context.Context, s *orm.Session) error {
		teams := repository.NewTeamRepository(s)
		members := repository.NewMemberRepository(s)
		m, err := members.FindMemberByUsername(ctx, "member1")
		if err != nil {
			return err
		}
		teamB, err := teams.FindByName(ctx, "teamB")
		if err != nil {
			return err
		}
		m.ChangeTeam(teamB[0])
		return nil
	}))

	s := dbtest.Session(t, f)
	result, err := repository.NewMemberRepository(s).FindAllBySpec(ctx, repository.TeamNameEquals("teamB"))
	require.NoError(t, err)
	assert.Equal(t, []string{"member1", "member3", "member4"}, usernames(result))
}
