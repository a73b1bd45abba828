// Package migrations embeds and applies the PostgreSQL schema for the
// optional durable PositionStore backend, grounded on the teacher's
// embed.FS + RunPostgresMigrations idiom (ClickHouse's timeseries
// schema has no SPEC_FULL equivalent, so only the postgres set survives).
package migrations

import "embed"

// PostgresFS embeds all PostgreSQL migration files.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS
