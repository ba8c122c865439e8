package attrstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Attribute is one registered attribute definition. Attributes are immutable
// after registration; (name, unit) pairs are unique within a domain.
type Attribute struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	Unit     string   `json:"unit,omitempty"`
	Datatype Datatype `json:"datatype"`
}

// RegisterAttribute registers a new attribute definition and returns its id.
// It fails with ErrInvalidDatatype for an unrecognized datatype and with
// ErrAlreadyExists when the (name, unit) pair is taken.
func (s *Store) RegisterAttribute(ctx context.Context, q Querier, name, unit string, datatype Datatype) (int64, error) {
	if !datatype.Valid() {
		return 0, fmt.Errorf("datatype %q: %w", datatype, ErrInvalidDatatype)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (name, unit, datatype)
VALUES ($1, $2, $3)
RETURNING id`, s.cfg.AttributeTable)

	var id int64
	err := q.QueryRowContext(ctx, query, name, unit, string(datatype)).Scan(&id)
	if err != nil {
		return 0, TranslateUnique(err, "attribute %q (unit %q)", name, unit)
	}
	return id, nil
}

// EnsureAttribute registers the attribute if needed and returns the id of
// the existing or new row. Registration is idempotent at the (name, unit)
// level. The insert carries ON CONFLICT DO NOTHING because a raw
// unique-violation would abort the caller's transaction in Postgres and the
// fallback lookup runs on the same Querier.
func (s *Store) EnsureAttribute(ctx context.Context, q Querier, name, unit string, datatype Datatype) (int64, error) {
	if !datatype.Valid() {
		return 0, fmt.Errorf("datatype %q: %w", datatype, ErrInvalidDatatype)
	}
	insert := fmt.Sprintf(`
INSERT INTO %s (name, unit, datatype)
VALUES ($1, $2, $3)
ON CONFLICT (name, unit) DO NOTHING
RETURNING id`, s.cfg.AttributeTable)

	var id int64
	err := q.QueryRowContext(ctx, insert, name, unit, string(datatype)).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	query := fmt.Sprintf(`SELECT id FROM %s WHERE name = $1 AND unit = $2`, s.cfg.AttributeTable)
	if err := q.QueryRowContext(ctx, query, name, unit).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// AttributeByName resolves an attribute by name. It fails with ErrNotFound on
// zero matches and ErrAmbiguous when several attributes share the name with
// different units; callers that allow ambiguity must resolve by (name, unit).
func (s *Store) AttributeByName(ctx context.Context, q Querier, name string) (Attribute, error) {
	query := fmt.Sprintf(`SELECT id, name, unit, datatype FROM %s WHERE name = $1`, s.cfg.AttributeTable)
	rows, err := q.QueryContext(ctx, query, name)
	if err != nil {
		return Attribute{}, err
	}
	defer rows.Close()

	var matches []Attribute
	for rows.Next() {
		var attr Attribute
		if err := rows.Scan(&attr.ID, &attr.Name, &attr.Unit, &attr.Datatype); err != nil {
			return Attribute{}, err
		}
		matches = append(matches, attr)
	}
	if err := rows.Err(); err != nil {
		return Attribute{}, err
	}
	switch len(matches) {
	case 0:
		return Attribute{}, fmt.Errorf("attribute %q: %w", name, ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return Attribute{}, fmt.Errorf("attribute %q: %w", name, ErrAmbiguous)
	}
}

// ResolveAttribute resolves an attribute name to its id.
func (s *Store) ResolveAttribute(ctx context.Context, q Querier, name string) (int64, error) {
	attr, err := s.AttributeByName(ctx, q, name)
	if err != nil {
		return 0, err
	}
	return attr.ID, nil
}

// DeleteAttribute removes an attribute definition. It refuses with a
// ReferencedError while any schema still includes the attribute.
func (s *Store) DeleteAttribute(ctx context.Context, q Querier, name string) error {
	if s.cfg.MembershipTable != "" {
		query := fmt.Sprintf(`
SELECT COUNT(*)
FROM %s m
JOIN %s a ON a.id = m.attribute_id
WHERE a.name = $1`, s.cfg.MembershipTable, s.cfg.AttributeTable)
		var count int64
		if err := q.QueryRowContext(ctx, query, name).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return &ReferencedError{Name: name, By: "schema"}
		}
	}

	result, err := q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE name = $1`, s.cfg.AttributeTable), name)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("attribute %q: %w", name, ErrNotFound)
	}
	return nil
}

// ListAttributes returns all attribute definitions in insertion order.
func (s *Store) ListAttributes(ctx context.Context, q Querier) ([]Attribute, error) {
	query := fmt.Sprintf(`SELECT id, name, unit, datatype FROM %s ORDER BY id`, s.cfg.AttributeTable)
	rows, err := q.QueryContext(ctx, query)
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
