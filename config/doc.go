// Package config provides database configuration helpers for PostgreSQL
// connections used by the lending storage engines.
//
// This package contains factory functions for creating database connections
// using different PostgreSQL drivers (pgx.Pool, sql.DB, sqlx.DB) with
// pre-configured DSNs for single-node and primary/replica setups.
//
// This package is infrastructure wiring for embedding applications; nothing
// in the lending packages depends on it. PostgresSQLDBSingleConfig and
// PostgresSQLXSingleConfig open and ping a live database and terminate the
// process when that fails, so they belong in process bootstrap only.
package config
