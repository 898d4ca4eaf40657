// Package waldb is an embeddable, ordered key-value storage engine.
//
// A caller opens a directory, gets back a *Database, and performs point
// Set, Delete and Get operations over byte-string keys and values. Every
// mutation is appended to a write-ahead log before it is visible in the
// in-memory table, so the database can recover its state after a crash by
// replaying the log. See Open for the recovery protocol.
package waldb
