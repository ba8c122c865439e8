package attrstore

import (
	"context"
	"fmt"
)

// InsertEntity stores a new composite entity for the named schema. The
// provided map must contain exactly one value per schema attribute, each of
// the declared datatype, and no other entity of the schema may already hold
// the same value tuple. Validation happens before any write; the caller is
// expected to run the operation inside one transaction so a failure after
// the entity row is created rolls everything back.
func (s *Store) InsertEntity(ctx context.Context, q Querier, schemaName string, values map[string]Value) (int64, error) {
	schema, err := s.SchemaDetails(ctx, q, schemaName)
	if err != nil {
		return 0, err
	}
	if err := checkAttributeSet(schema, values); err != nil {
		return 0, err
	}
	for _, attr := range schema.Attributes {
		value := values[attr.Name]
		if value.Datatype() != attr.Datatype {
			return 0, &DatatypeMismatchError{
				Attribute: attr.Name,
				Expected:  attr.Datatype,
				Actual:    string(value.Datatype()),
			}
		}
	}

	// Same query as DeleteEntityByValues: an entity is identified by its
	// full value tuple.
	existing, err := s.selectEntities(ctx, q, schema, values, 0)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, fmt.Errorf("entity of schema %q with these values: %w", schemaName, ErrAlreadyExists)
	}

	var entityID int64
	insert := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1) RETURNING id`, s.cfg.EntityTable, s.cfg.EntityFK)
	if err := q.QueryRowContext(ctx, insert, schema.ID).Scan(&entityID); err != nil {
		return 0, err
	}
	for _, attr := range schema.Attributes {
		if err := s.PutValue(ctx, q, attr, entityID, values[attr.Name]); err != nil {
			return 0, err
		}
	}
	return entityID, nil
}

// DeleteEntityByValues deletes the single entity identified by its full value
// tuple, cascading to its typed values. Zero matches fail with ErrNotFound.
// More than one match means the uniqueness invariant has been violated and
// fails with ErrAmbiguous rather than deleting an arbitrary row.
func (s *Store) DeleteEntityByValues(ctx context.Context, q Querier, schemaName string, values map[string]Value) error {
	schema, err := s.SchemaDetails(ctx, q, schemaName)
	if err != nil {
		return err
	}
	if err := checkAttributeSet(schema, values); err != nil {
		return err
	}
	matches, err := s.selectEntities(ctx, q, schema, values, 0)
	if err != nil {
		return err
	}
	switch len(matches) {
	case 0:
		return fmt.Errorf("entity of schema %q with these values: %w", schemaName, ErrNotFound)
	case 1:
	default:
		return fmt.Errorf("%d entities of schema %q share one value tuple: %w", len(matches), schemaName, ErrAmbiguous)
	}

	entityID := matches[0].EntityID
	if err := s.DeleteValuesForEntity(ctx, q, entityID); err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.cfg.EntityTable), entityID)
	return err
}

// checkAttributeSet enforces strict equality between the schema's attribute
// set and the provided keys, reporting the symmetric difference.
func checkAttributeSet(schema Schema, values map[string]Value) error {
	missing := make(map[string]struct{})
	for _, attr := range schema.Attributes {
		if _, ok := values[attr.Name]; !ok {
			missing[attr.Name] = struct{}{}
		}
	}
	extra := make(map[string]struct{})
	expected := make(map[string]struct{}, len(schema.Attributes))
	for _, attr := range schema.Attributes {
		expected[attr.Name] = struct{}{}
	}
	for name := range values {
		if _, ok := expected[name]; !ok {
			extra[name] = struct{}{}
		}
	}
	if len(missing) > 0 || len(extra) > 0 {
		return &AttributeSetError{
			Schema:  schema.Name,
			Missing: sortedNames(missing),
			Extra:   sortedNames(extra),
		}
	}
	return nil
}
