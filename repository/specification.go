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
	"github.com/tomoncle/datajpa/types"
)

// Specification contributes predicates to a member query. Specifications
// are composable with And.
type Specification interface {
	Criteria() *types.Criteria
}

// SpecFunc adapts a function to Specification.
type SpecFunc func() *types.Criteria

func (f SpecFunc) Criteria() *types.Criteria { return f() }

// And combines specifications; nil entries are skipped.
func And(specs ...Specification) Specification {
	return SpecFunc(func() *types.Criteria {
		var out *types.Criteria
		for _, spec := range specs {
			if spec == nil {
				continue
			}
			for _, cond := range spec.Criteria().Conditions() {
				if out == nil {
					out = types.Where(cond.Property, cond.Op, cond.Value)
				} else {
					out = out.And(cond.Property, cond.Op, cond.Value)
				}
			}
		}
		return out
	})
}

// UsernameEquals matches members by exact username. An empty name matches
// everybody.
func UsernameEquals(username string) Specification {
	return SpecFunc(func() *types.Criteria {
		if username == "" {
			return nil
		}
		return types.Where("username", types.Eq, username)
	})
}

// TeamNameEquals matches members whose team has the given name. The team
// is joined only when this specification is used.
func TeamNameEquals(name string) Specification {
	return SpecFunc(func() *types.Criteria {
		if name == "" {
			return nil
		}
		return types.Where("team.name", types.Eq, name)
	})
}

func AgeAtLeast(age int) Specification {
	return SpecFunc(func() *types.Criteria {
		return types.Where("age", types.Ge, age)
	})
}

// MemberSpecificationExecutor runs specifications against members.
type MemberSpecificationExecutor interface {
	FindAllBySpec(ctx context.Context, specs ...Specification) ([]*entity.Member, error)
	CountBySpec(ctx context.Context, specs ...Specification) (int, error)
}

func (r *memberRepository) FindAllBySpec(ctx context.Context, specs ...Specification) ([]*entity.Member, error) {
	return r.FindBy(ctx, And(specs...).Criteria(), nil)
}

func (r *memberRepository) CountBySpec(ctx context.Context, specs ...Specification) (int, error) {
	return r.baseRepositoryImpl.Count(ctx, And(specs...).Criteria())
}
