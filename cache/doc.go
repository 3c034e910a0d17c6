// Package cache is the second-level entity cache: a Store backed by
// go-cache or redis, and per-entity Regions on top of it.
package cache
