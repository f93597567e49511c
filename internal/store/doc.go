// Package store persists speedtest records in SQLite.
//
// The table is an append-only log: records are created once per probe run,
// never updated, and only removed by explicit deletes. Typed query methods
// replace ad-hoc query building so callers never construct SQL.
package store
