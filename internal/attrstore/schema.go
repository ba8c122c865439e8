package attrstore

import (
	"context"
	"fmt"
	"sort"
)

// Schema is a named, ordered set of attributes. The attribute set is fixed at
// creation.
type Schema struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Attributes  []Attribute `json:"attributes"`
}

// CanonicalSchemaName derives a schema name from a set of attribute names:
// sorted lexicographically, deduplicated and joined with hyphens, so that
// callers supplying the same set in any order converge on the same schema.
func CanonicalSchemaName(attributeNames []string) string {
	names := append([]string(nil), attributeNames...)
	sort.Strings(names)
	out := ""
	written := 0
	for i, name := range names {
		if i > 0 && name == names[i-1] {
			continue
		}
		if written > 0 {
			out += "-"
		}
		out += name
		written++
	}
	return out
}

// CreateSchema registers a named schema over existing attributes and returns
// its id. Attribute names are resolved via the registry (ErrNotFound on an
// unknown name) and stored in canonical sorted order, deduplicated. A schema
// name collision fails with ErrAlreadyExists.
func (s *Store) CreateSchema(ctx context.Context, q Querier, name, description string, attributeNames []string) (int64, error) {
	names := append([]string(nil), attributeNames...)
	sort.Strings(names)

	attributes := make([]Attribute, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, attrName := range names {
		if _, ok := seen[attrName]; ok {
			continue
		}
		seen[attrName] = struct{}{}
		attr, err := s.AttributeByName(ctx, q, attrName)
		if err != nil {
			return 0, err
		}
		attributes = append(attributes, attr)
	}

	var schemaID int64
	insertSchema := fmt.Sprintf(`
INSERT INTO %s (name, description)
VALUES ($1, $2)
RETURNING id`, s.cfg.SchemaTable)
	if err := q.QueryRowContext(ctx, insertSchema, name, description).Scan(&schemaID); err != nil {
		return 0, TranslateUnique(err, "schema %q", name)
	}

	insertMember := fmt.Sprintf(`
INSERT INTO %s (schema_id, attribute_id, position)
VALUES ($1, $2, $3)`, s.cfg.MembershipTable)
	for position, attr := range attributes {
		if _, err := q.ExecContext(ctx, insertMember, schemaID, attr.ID, position); err != nil {
			return 0, err
		}
	}
	return schemaID, nil
}

// SchemaDetails returns a schema with its resolved attributes.
func (s *Store) SchemaDetails(ctx context.Context, q Querier, name string) (Schema, error) {
	var schema Schema
	query := fmt.Sprintf(`SELECT id, name, description FROM %s WHERE name = $1`, s.cfg.SchemaTable)
	err := q.QueryRowContext(ctx, query, name).Scan(&schema.ID, &schema.Name, &schema.Description)
	if err != nil {
		return Schema{}, notFoundOnNoRows(err, "schema %q", name)
	}

	schema.Attributes, err = s.schemaAttributes(ctx, q, schema.ID)
	if err != nil {
		return Schema{}, err
	}
	return schema, nil
}

func (s *Store) schemaAttributes(ctx context.Context, q Querier, schemaID int64) ([]Attribute, error) {
	query := fmt.Sprintf(`
SELECT a.id, a.name, a.unit, a.datatype
FROM %s m
JOIN %s a ON a.id = m.attribute_id
WHERE m.schema_id = $1
ORDER BY m.position`, s.cfg.MembershipTable, s.cfg.AttributeTable)

	rows, err := q.QueryContext(ctx, query, schemaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attributes := make([]Attribute, 0)
	for rows.Next() {
		var attr Attribute
		if err := rows.Scan(&attr.ID, &attr.Name, &attr.Unit, &attr.Datatype); err != nil {
			return nil, err
		}
		attributes = append(attributes, attr)
	}
	return attributes, rows.Err()
}

// DeleteSchema removes a schema and its attribute memberships. It refuses
// with a ReferencedError while any entity still uses the schema.
func (s *Store) DeleteSchema(ctx context.Context, q Querier, name string) error {
	if s.cfg.EntityTable != "" {
		query := fmt.Sprintf(`
SELECT COUNT(*)
FROM %s e
JOIN %s sc ON sc.id = e.%s
WHERE sc.name = $1`, s.cfg.EntityTable, s.cfg.SchemaTable, s.cfg.EntityFK)
		var count int64
		if err := q.QueryRowContext(ctx, query, name).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return &ReferencedError{Name: name, By: "entity"}
		}
	}

	result, err := q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE name = $1`, s.cfg.SchemaTable), name)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("schema %q: %w", name, ErrNotFound)
	}
	return nil
}

// ListSchemas returns all schemas with their attributes, in insertion order.
func (s *Store) ListSchemas(ctx context.Context, q Querier) ([]Schema, error) {
	query := fmt.Sprintf(`SELECT id, name, description FROM %s ORDER BY id`, s.cfg.SchemaTable)
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	schemas := make([]Schema, 0)
	for rows.Next() {
		var schema Schema
		if err := rows.Scan(&schema.ID, &schema.Name, &schema.Description); err != nil {
			return nil, err
		}
		schemas = append(schemas, schema)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range schemas {
		schemas[i].Attributes, err = s.schemaAttributes(ctx, q, schemas[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return schemas, nil
}
