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

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPageRequest is returned for a negative page index or a
// non-positive page size.
var ErrInvalidPageRequest = errors.New("invalid page request")

// Order is a single (property, direction) sort key.
type Order struct {
	Property  string
	Direction Direction
}

// AscOrder returns an ascending Order on property.
func AscOrder(property string) Order { return Order{Property: property, Direction: Asc} }

// DescOrder returns a descending Order on property.
func DescOrder(property string) Order { return Order{Property: property, Direction: Desc} }

func (o Order) String() string { return o.Property + " " + o.Direction.Name() }

// Sort is an ordered list of sort keys; earlier keys take precedence.
type Sort []Order

// Unsorted is the empty sort.
var Unsorted = Sort{}

// By returns an ascending sort over the given properties.
func By(properties ...string) Sort {
	s := make(Sort, 0, len(properties))
	for _, p := range properties {
		s = append(s, AscOrder(p))
	}
	return s
}

// Descending returns a copy of s with every direction set to Desc.
func (s Sort) Descending() Sort {
	out := make(Sort, len(s))
	for i, o := range s {
		out[i] = Order{Property: o.Property, Direction: Desc}
	}
	return out
}

// And appends the orders of other to a copy of s.
func (s Sort) And(other Sort) Sort {
	out := make(Sort, 0, len(s)+len(other))
	out = append(out, s...)
	return append(out, other...)
}

// Contains reports whether property is already a sort key.
func (s Sort) Contains(property string) bool {
	for _, o := range s {
		if o.Property == property {
			return true
		}
	}
	return false
}

func (s Sort) IsSorted() bool { return len(s) > 0 }

func (s Sort) String() string {
	if len(s) == 0 {
		return "UNSORTED"
	}
	parts := make([]string, len(s))
	for i, o := range s {
		parts[i] = o.String()
	}
	return strings.Join(parts, ", ")
}

// ParseSort parses "username,desc;age" style input: orders are separated by
// ';' and each order is "property[,direction]".
func ParseSort(expr string) Sort {
	var s Sort
	for _, part := range strings.Split(expr, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.SplitN(part, ",", 2)
		o := AscOrder(strings.TrimSpace(fields[0]))
		if len(fields) == 2 {
			o.Direction = ParseDirection(fields[1])
		}
		s = append(s, o)
	}
	return s
}

// PageRequest describes a zero-based page index, a page size and ordering.
type PageRequest struct {
	index int
	size  int
	sort  Sort
}

// NewPageRequest validates and builds a PageRequest.
func NewPageRequest(index, size int, sort Sort) (*PageRequest, error) {
	if index < 0 {
		return nil, fmt.Errorf("%w: page index must not be negative, got %d", ErrInvalidPageRequest, index)
	}
	if size < 1 {
		return nil, fmt.Errorf("%w: page size must be positive, got %d", ErrInvalidPageRequest, size)
	}
	return &PageRequest{index: index, size: size, sort: sort}, nil
}

// PageOf is NewPageRequest for callers with constant, known-valid arguments.
// It panics on invalid input.
func PageOf(index, size int, orders ...Order) *PageRequest {
	p, err := NewPageRequest(index, size, Sort(orders))
	if err != nil {
		panic(err)
	}
	return p
}

func (p *PageRequest) Index() int { return p.index }

func (p *PageRequest) Size() int { return p.size }

func (p *PageRequest) Sort() Sort { return p.sort }

func (p *PageRequest) Offset() int { return p.index * p.size }

// WithSort returns a copy of p using sort.
func (p *PageRequest) WithSort(sort Sort) *PageRequest {
	return &PageRequest{index: p.index, size: p.size, sort: sort}
}

func (p *PageRequest) Next() *PageRequest {
	return &PageRequest{index: p.index + 1, size: p.size, sort: p.sort}
}

// Previous returns the previous page, or the first page when already there.
func (p *PageRequest) Previous() *PageRequest {
	if p.index == 0 {
		return p
	}
	return &PageRequest{index: p.index - 1, size: p.size, sort: p.sort}
}

func (p *PageRequest) First() *PageRequest {
	return &PageRequest{index: 0, size: p.size, sort: p.sort}
}

func (p *PageRequest) String() string {
	return fmt.Sprintf("page=%d size=%d sort=%s", p.index, p.size, p.sort)
}

// Page is a bounded slice of results together with the total number of
// matching elements.
type Page[T any] struct {
	Content       []*T
	Number        int
	Size          int
	TotalElements int
}

// NewPage builds a page for request; content is never nil.
func NewPage[T any](content []*T, request *PageRequest, total int) *Page[T] {
	if content == nil {
		content = make([]*T, 0)
	}
	return &Page[T]{Content: content, Number: request.Index(), Size: request.Size(), TotalElements: total}
}

func (p *Page[T]) TotalPages() int {
	if p.Size == 0 {
		return 1
	}
	return (p.TotalElements + p.Size - 1) / p.Size
}

func (p *Page[T]) NumberOfElements() int { return len(p.Content) }

func (p *Page[T]) HasNext() bool { return p.Number+1 < p.TotalPages() }

func (p *Page[T]) HasPrevious() bool { return p.Number > 0 }

func (p *Page[T]) IsFirst() bool { return !p.HasPrevious() }

func (p *Page[T]) IsLast() bool { return !p.HasNext() }

// MapPage converts the content of a page keeping its metadata.
func MapPage[T, R any](p *Page[T], fn func(*T) *R) *Page[R] {
	out := make([]*R, len(p.Content))
	for i, v := range p.Content {
		out[i] = fn(v)
	}
	return &Page[R]{Content: out, Number: p.Number, Size: p.Size, TotalElements: p.TotalElements}
}

// Slice is a bounded slice of results that only knows whether a further
// page exists.
type Slice[T any] struct {
	Content []*T
	Number  int
	Size    int
	HasNext bool
}

// NewSlice builds a slice from up to size+1 fetched rows, trimming the
// look-ahead row.
func NewSlice[T any](fetched []*T, request *PageRequest) *Slice[T] {
	hasNext := len(fetched) > request.Size()
	if hasNext {
		fetched = fetched[:request.Size()]
	}
	if fetched == nil {
		fetched = make([]*T, 0)
	}
	return &Slice[T]{Content: fetched, Number: request.Index(), Size: request.Size(), HasNext: hasNext}
}

func (s *Slice[T]) NumberOfElements() int { return len(s.Content) }

func (s *Slice[T]) HasPrevious() bool { return s.Number > 0 }
