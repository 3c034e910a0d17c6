// Package dto holds projections that are read from the database but never
// persisted.
package dto
