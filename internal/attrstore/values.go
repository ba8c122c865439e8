package attrstore

import (
	"context"
	"fmt"
)

// PutValue stores one typed value for (entity, attribute) in the partition
// matching the attribute's datatype. It fails with a DatatypeMismatchError
// when the value's runtime type disagrees with the declared datatype, and
// with ErrAlreadyExists when the (entity, attribute) pair already holds a
// value in that partition.
func (s *Store) PutValue(ctx context.Context, q Querier, attr Attribute, entityID int64, value Value) error {
	if value.Datatype() != attr.Datatype {
		return &DatatypeMismatchError{
			Attribute: attr.Name,
			Expected:  attr.Datatype,
			Actual:    string(value.Datatype()),
		}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (entity_id, attribute_id, value)
VALUES ($1, $2, $3)`, s.valueTable(attr.Datatype))
	_, err := q.ExecContext(ctx, query, entityID, attr.ID, value.Any())
	return TranslateUnique(err, "value for attribute %q on entity %d", attr.Name, entityID)
}

// ValuesForAttribute returns the values a set of entities hold for one
// attribute, keyed by entity id. Entities without a value for the attribute
// are absent from the result.
func (s *Store) ValuesForAttribute(ctx context.Context, q Querier, attr Attribute, entityIDs []int64) (map[int64]Value, error) {
	values := make(map[int64]Value, len(entityIDs))
	if len(entityIDs) == 0 {
		return values, nil
	}
	query := fmt.Sprintf(`
SELECT entity_id, value
FROM %s
WHERE attribute_id = $1 AND entity_id = ANY($2)`, s.valueTable(attr.Datatype))

	rows, err := q.QueryContext(ctx, query, attr.ID, entityIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var entityID int64
		holder := newValueHolder(attr.Datatype)
		if err := rows.Scan(&entityID, holder.dest()); err != nil {
			return nil, err
		}
		values[entityID] = holder.value()
	}
	return values, rows.Err()
}

// DeleteValuesForEntity removes the entity's values from all four partitions.
// Idempotent: partitions without a value for the entity are left untouched.
func (s *Store) DeleteValuesForEntity(ctx context.Context, q Querier, entityID int64) error {
	for _, datatype := range Datatypes {
		query := fmt.Sprintf(`DELETE FROM %s WHERE entity_id = $1`, s.valueTable(datatype))
		if _, err := q.ExecContext(ctx, query, entityID); err != nil {
			return err
		}
	}
	return nil
}

// valueHolder is a typed scan destination for one partition.
type valueHolder struct {
	datatype Datatype
	str      string
	integer  int64
	float    float64
	boolean  bool
}

func newValueHolder(datatype Datatype) *valueHolder {
	return &valueHolder{datatype: datatype}
}

func (h *valueHolder) dest() any {
	switch h.datatype {
	case DatatypeString:
		return &h.str
	case DatatypeInteger:
		return &h.integer
	case DatatypeFloat:
		return &h.float
	case DatatypeBoolean:
		return &h.boolean
	}
	panic(fmt.Sprintf("attrstore: unknown datatype %q", h.datatype))
}

func (h *valueHolder) value() Value {
	switch h.datatype {
	case DatatypeString:
		return String(h.str)
	case DatatypeInteger:
		return Integer(h.integer)
	case DatatypeFloat:
		return Float(h.float)
	case DatatypeBoolean:
		return Boolean(h.boolean)
	}
	panic(fmt.Sprintf("attrstore: unknown datatype %q", h.datatype))
}
