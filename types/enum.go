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

package types

import "strings"

// Common illegal/default values used by enums.
const (
	IllegalValue = -1
	IllegalName  = "unknown"
	IllegalDesc  = "unknown"
)

// BaseEnum represents a basic enum contract used by domain types.
type BaseEnum interface {
	IsValid() bool
	Number() int
	String() string
	Desc() string
	Name() string
}

// Direction is the sort direction of a single Order.
type Direction int

const (
	Asc Direction = iota
	Desc
)

var _ BaseEnum = Direction(0)

func (d Direction) IsValid() bool { return d == Asc || d == Desc }

func (d Direction) Number() int {
	if !d.IsValid() {
		return IllegalValue
	}
	return int(d)
}

func (d Direction) Name() string {
	switch d {
	case Asc:
		return "ASC"
	case Desc:
		return "DESC"
	default:
		return IllegalName
	}
}

func (d Direction) String() string { return d.Name() }

func (d Direction) Desc() string {
	switch d {
	case Asc:
		return "ascending"
	case Desc:
		return "descending"
	default:
		return IllegalDesc
	}
}

// ParseDirection accepts "asc"/"desc" in any case; anything else is Asc.
func ParseDirection(s string) Direction {
	if strings.EqualFold(strings.TrimSpace(s), "desc") {
		return Desc
	}
	return Asc
}

// Operator is the comparison applied by a Condition.
type Operator int

const (
	Eq Operator = iota
	Ne
	Gt
	Ge
	Lt
	Le
	In
	Like
	IsNull
	NotNull
)

var _ BaseEnum = Operator(0)

var operatorNames = [...]string{"EQ", "NE", "GT", "GE", "LT", "LE", "IN", "LIKE", "IS_NULL", "NOT_NULL"}

var operatorSQL = [...]string{"=", "<>", ">", ">=", "<", "<=", "IN", "LIKE", "IS NULL", "IS NOT NULL"}

func (o Operator) IsValid() bool { return o >= Eq && o <= NotNull }

func (o Operator) Number() int {
	if !o.IsValid() {
		return IllegalValue
	}
	return int(o)
}

func (o Operator) Name() string {
	if !o.IsValid() {
		return IllegalName
	}
	return operatorNames[o]
}

func (o Operator) String() string { return o.Name() }

// Desc returns the SQL spelling of the operator.
func (o Operator) Desc() string {
	if !o.IsValid() {
		return IllegalDesc
	}
	return operatorSQL[o]
}

// Unary reports whether the operator takes no value.
func (o Operator) Unary() bool { return o == IsNull || o == NotNull }
