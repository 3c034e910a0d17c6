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
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tomoncle/datajpa/types"
	"github.com/uptrace/bun"
)

// ErrUnknownProperty is returned for a criteria or sort property that is
// not mapped to a column.
var ErrUnknownProperty = errors.New("unknown property")

// Properties maps entity property paths ("age", "team.name") to qualified
// columns. Only mapped properties can be filtered or sorted on.
type Properties struct {
	alias   string
	id      string
	columns map[string]string
	joins   map[string]string
}

// NewProperties starts a mapping for a table alias. id is the property of
// the primary key, used as the ordering tiebreak.
func NewProperties(alias, id, idColumn string) *Properties {
	p := &Properties{
		alias:   alias,
		id:      id,
		columns: make(map[string]string),
		joins:   make(map[string]string),
	}
	return p.Column(id, idColumn)
}

// Column maps property to column. Unqualified columns get the table alias;
// properties of a joined path are qualified with the path.
func (p *Properties) Column(property, column string) *Properties {
	if !strings.Contains(column, ".") {
		prefix := p.alias
		if path, _, ok := strings.Cut(property, "."); ok {
			prefix = path
		}
		column = prefix + "." + column
	}
	p.columns[property] = column
	return p
}

// Join registers the clause that makes the columns of path available. The
// join must use path as its alias.
func (p *Properties) Join(path, clause string) *Properties {
	p.joins[path] = clause
	return p
}

// Resolve returns the column of property and the path it needs joined, if
// any.
func (p *Properties) Resolve(property string) (column, path string, err error) {
	column, ok := p.columns[property]
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownProperty, property)
	}
	if before, _, ok := strings.Cut(property, "."); ok {
		if _, joined := p.joins[before]; joined {
			path = before
		}
	}
	return column, path, nil
}

// ID is the primary key property.
func (p *Properties) ID() string { return p.id }

// IDColumn is the qualified primary key column.
func (p *Properties) IDColumn() string { return p.columns[p.id] }

// Properties lists the mapped property names in order.
func (p *Properties) Properties() []string {
	out := make([]string, 0, len(p.columns))
	for k := range p.columns {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Apply adds the predicates of c and the ordering of s to q. joined lists
// paths the query already joins, e.g. through a bun relation; the joins of
// every other referenced path are added once. A non-empty ordering always
// ends with the primary key so equal sort keys come back in a stable order.
func (p *Properties) Apply(q *bun.SelectQuery, c *types.Criteria, s types.Sort, joined ...string) (*bun.SelectQuery, error) {
	have := make(map[string]bool, len(joined))
	for _, path := range joined {
		have[path] = true
	}
	need := func(path string) {
		if path != "" && !have[path] {
			q = q.Join(p.joins[path])
			have[path] = true
		}
	}

	for _, cond := range c.Conditions() {
		col, path, err := p.Resolve(cond.Property)
		if err != nil {
			return nil, err
		}
		need(path)
		q, err = where(q, col, cond)
		if err != nil {
			return nil, err
		}
	}

	if s == nil {
		return q, nil
	}
	for _, o := range s {
		if !o.Direction.IsValid() {
			return nil, fmt.Errorf("invalid direction for %q", o.Property)
		}
		col, path, err := p.Resolve(o.Property)
		if err != nil {
			return nil, err
		}
		need(path)
		q = q.OrderExpr("? "+o.Direction.Name(), bun.Ident(col))
	}
	if !s.Contains(p.id) {
		q = q.OrderExpr("? ASC", bun.Ident(p.IDColumn()))
	}
	return q, nil
}

func where(q *bun.SelectQuery, col string, cond types.Condition) (*bun.SelectQuery, error) {
	ident := bun.Ident(col)
	switch cond.Op {
	case types.Eq, types.Ne, types.Gt, types.Ge, types.Lt, types.Le, types.Like:
		return q.Where("? "+cond.Op.Desc()+" ?", ident, cond.Value), nil
	case types.In:
		return q.Where("? IN (?)", ident, bun.In(cond.Value)), nil
	case types.IsNull, types.NotNull:
		return q.Where("? "+cond.Op.Desc(), ident), nil
	default:
		return nil, fmt.Errorf("unsupported operator %v on %s", cond.Op, col)
	}
}
