// Package sql provides a relational storage backend for the oauth-lifecycle
// engine built on GORM. SQLite and PostgreSQL are supported out of the box;
// further dialects can be added with RegisterDriver.
//
// Each record kind lives in its own table keyed by its identifier. Saves are
// plain inserts, so a taken identifier fails with storage.ErrAlreadyExists.
// Deletes run in a transaction and only the caller whose DELETE affected a
// row receives the record, which gives the single-winner guarantee the
// engine relies on for authorization codes.
//
// Expiry timestamps are stored in UTC so that the sweep's range query
// compares like with like on every dialect.
package sql
