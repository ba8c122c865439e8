// Package attrstore implements a schema-driven, dynamically typed
// composite-attribute store over Postgres.
//
// Attributes are named, typed quantities ("latitude", "temperature").
// Schemas group attributes into named sets. Entities are composite rows
// holding exactly one value per schema attribute, with each value stored in
// the physical partition matching its datatype. The same engine is
// instantiated once per domain (locations, sensor measures, model measures)
// with different table names.
//
// The engine never opens or closes transactions: every method takes a
// Querier, satisfied by *sql.DB and *sql.Tx, and the caller owns commit and
// rollback.
package attrstore

import (
	"context"
	"database/sql"
	"fmt"
)

// Querier is the subset of database/sql used by the engine.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Config names the tables of one domain instance.
type Config struct {
	// AttributeTable holds attribute definitions (name, unit, datatype).
	AttributeTable string
	// SchemaTable holds named attribute sets. Empty for domains that only
	// use the attribute registry.
	SchemaTable string
	// MembershipTable relates schemas to their attributes.
	MembershipTable string
	// EntityTable holds composite entity rows, or the rows referencing a
	// schema (e.g. sensors referencing their sensor type).
	EntityTable string
	// EntityFK is the EntityTable column referencing SchemaTable. Defaults
	// to "schema_id".
	EntityFK string
	// ValuePrefix names the four typed value partitions,
	// <ValuePrefix>_<datatype>_value. Empty for domains without composite
	// entities.
	ValuePrefix string
}

// Store is one domain instance of the engine.
type Store struct {
	cfg Config
}

// New constructs a store for the given table layout.
func New(cfg Config) *Store {
	if cfg.EntityFK == "" {
		cfg.EntityFK = "schema_id"
	}
	return &Store{cfg: cfg}
}

// valueTable returns the partition holding values of the given datatype.
func (s *Store) valueTable(datatype Datatype) string {
	return fmt.Sprintf("%s_%s_value", s.cfg.ValuePrefix, datatype)
}

// DDL returns idempotent CREATE TABLE statements for this domain instance,
// in dependency order.
func (c Config) DDL() []string {
	if c.EntityFK == "" {
		c.EntityFK = "schema_id"
	}
	stmts := []string{fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	unit TEXT NOT NULL DEFAULT '',
	datatype TEXT NOT NULL CHECK (datatype IN ('string', 'integer', 'float', 'boolean')),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (name, unit)
)`, c.AttributeTable)}

	if c.SchemaTable != "" {
		stmts = append(stmts, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, c.SchemaTable), fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	schema_id BIGINT NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
	attribute_id BIGINT NOT NULL REFERENCES %s (id),
	position INT NOT NULL,
	UNIQUE (schema_id, attribute_id)
)`, c.MembershipTable, c.SchemaTable, c.AttributeTable))
	}

	if c.ValuePrefix != "" {
		stmts = append(stmts, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	%s BIGINT NOT NULL REFERENCES %s (id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, c.EntityTable, c.EntityFK, c.SchemaTable))
		for _, datatype := range Datatypes {
			stmts = append(stmts, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s_%s_value (
	id BIGSERIAL PRIMARY KEY,
	entity_id BIGINT NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
	attribute_id BIGINT NOT NULL REFERENCES %s (id),
	value %s NOT NULL,
	UNIQUE (attribute_id, entity_id)
)`, c.ValuePrefix, datatype, c.EntityTable, c.AttributeTable, datatype.columnType()))
		}
	}
	return stmts
}
