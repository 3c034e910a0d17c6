// Package orm is the unit of work on top of Bun: sessions bound to a
// transaction, an identity map, snapshot dirty checking, pre-write hooks
// with auditing, lazy references and the second-level cache.
package orm
