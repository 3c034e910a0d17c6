// Package database owns the connection lifecycle on top of Bun: the
// manager and factory, DB_* overrides, query hooks (debug, colored, slow
// query, prometheus), migrations with foreign keys from YAML, SQL seed
// files and driver error classification for MySQL, PostgreSQL and SQLite.
package database
