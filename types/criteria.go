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

// QueryFilter describes a WHERE clause schema and its argument values.
type QueryFilter struct {
	Schema string
	Args   []interface{}
}

// NewQueryFilter creates a new query filter with schema and args.
func NewQueryFilter(schema string, args ...interface{}) *QueryFilter {
	return &QueryFilter{schema, args}
}

// Condition compares one entity property with a value.
type Condition struct {
	Property string
	Op       Operator
	Value    interface{}
}

// Criteria is a conjunction of conditions over entity properties. Property
// names are resolved to columns by the repository, never spliced into SQL.
type Criteria struct {
	conditions []Condition
}

// Where starts a Criteria with a single condition.
func Where(property string, op Operator, value interface{}) *Criteria {
	return (&Criteria{}).And(property, op, value)
}

// And adds a condition and returns the receiver.
func (c *Criteria) And(property string, op Operator, value interface{}) *Criteria {
	c.conditions = append(c.conditions, Condition{Property: property, Op: op, Value: value})
	return c
}

// Conditions returns the conditions in insertion order. A nil Criteria has
// none.
func (c *Criteria) Conditions() []Condition {
	if c == nil {
		return nil
	}
	return c.conditions
}

func (c *Criteria) IsEmpty() bool { return c == nil || len(c.conditions) == 0 }
