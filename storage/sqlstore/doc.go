// Package sqlstore implements the storage interfaces on a relational database.
//
// PostgreSQL (lib/pq) and SQLite (mattn/go-sqlite3) are supported. Queries are
// built with squirrel using the placeholder format of the selected driver.
// Timestamps are stored as Unix microseconds so both engines share a schema.
//
// Document uniqueness rests on a UNIQUE (scope, canonical_url) constraint.
// Claims and completions are single conditional UPDATE statements whose
// affected-row count tells the caller whether it won.
package sqlstore
