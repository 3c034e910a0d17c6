// Package repository provides bun-backed repositories. The generic
// repository covers CRUD, criteria queries, paging and upserts over any
// bun.IDB; the member and team repositories are bound to an orm.Session so
// that every entity they return is tracked by its unit of work.
//
// Query methods take a types.Criteria or a Specification instead of being
// derived from method names. Filterable and sortable properties are mapped
// per entity by Properties.
package repository
