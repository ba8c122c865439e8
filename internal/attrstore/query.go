package attrstore

import (
	"context"
	"fmt"
	"strings"
)

// Record is one reconstructed composite entity: the entity id plus one typed
// value per schema attribute, keyed by attribute name.
type Record struct {
	EntityID int64            `json:"id"`
	Values   map[string]Value `json:"values"`
}

// joinClause is one step of a join plan: reconstructing a schema attribute
// means joining the partition matching its datatype, optionally constrained
// to an exact value.
type joinClause struct {
	attribute Attribute
	filter    *Value
}

// entityQuery is a fully resolved query over one schema. The number and type
// of joined partitions is derived from the schema at call time.
type entityQuery struct {
	schema   Schema
	clauses  []joinClause
	entityID int64 // optional; 0 means no id constraint
}

// planEntityQuery validates filters against the schema and builds the join
// plan: one clause per schema attribute, in schema order.
func planEntityQuery(schema Schema, filters map[string]Value, entityID int64) (entityQuery, error) {
	byName := make(map[string]Attribute, len(schema.Attributes))
	for _, attr := range schema.Attributes {
		byName[attr.Name] = attr
	}
	for name, value := range filters {
		attr, ok := byName[name]
		if !ok {
			return entityQuery{}, &UnknownAttributeError{Schema: schema.Name, Attribute: name}
		}
		if value.Datatype() != attr.Datatype {
			return entityQuery{}, &DatatypeMismatchError{
				Attribute: attr.Name,
				Expected:  attr.Datatype,
				Actual:    string(value.Datatype()),
			}
		}
	}

	query := entityQuery{schema: schema, entityID: entityID}
	for _, attr := range schema.Attributes {
		clause := joinClause{attribute: attr}
		if value, ok := filters[attr.Name]; ok {
			clause.filter = &value
		}
		query.clauses = append(query.clauses, clause)
	}
	return query, nil
}

// sql renders the plan as one SELECT: the entity table joined against
// exactly the typed partitions the schema needs, one aliased join per
// attribute, projecting the entity id plus one column per attribute.
// Output order is by entity id ascending, which keeps results deterministic
// for a fixed storage state.
func (e entityQuery) sql(s *Store) (string, []any) {
	var (
		projections = []string{"e.id"}
		joins       []string
		args        []any
	)
	for i, clause := range e.clauses {
		alias := fmt.Sprintf("v%d", i)
		projections = append(projections, fmt.Sprintf("%s.value AS %s", alias, quoteIdent(clause.attribute.Name)))

		args = append(args, clause.attribute.ID)
		join := fmt.Sprintf("JOIN %s %s ON %s.entity_id = e.id AND %s.attribute_id = $%d",
			s.valueTable(clause.attribute.Datatype), alias, alias, alias, len(args))
		if clause.filter != nil {
			args = append(args, clause.filter.Any())
			join += fmt.Sprintf(" AND %s.value = $%d", alias, len(args))
		}
		joins = append(joins, join)
	}

	args = append(args, e.schema.ID)
	where := fmt.Sprintf("WHERE e.%s = $%d", s.cfg.EntityFK, len(args))
	if e.entityID != 0 {
		args = append(args, e.entityID)
		where += fmt.Sprintf(" AND e.id = $%d", len(args))
	}

	query := fmt.Sprintf("SELECT %s\nFROM %s e\n%s\n%s\nORDER BY e.id",
		strings.Join(projections, ", "),
		s.cfg.EntityTable,
		strings.Join(joins, "\n"),
		where,
	)
	return query, args
}

// SelectEntities reconstructs the composite rows of a schema, optionally
// narrowed by exact-match filters on attribute values. Filter keys must name
// attributes of the schema.
func (s *Store) SelectEntities(ctx context.Context, q Querier, schemaName string, filters map[string]Value) ([]Record, error) {
	schema, err := s.SchemaDetails(ctx, q, schemaName)
	if err != nil {
		return nil, err
	}
	return s.selectEntities(ctx, q, schema, filters, 0)
}

// SelectEntityByID reconstructs one composite row by its entity id.
func (s *Store) SelectEntityByID(ctx context.Context, q Querier, schemaName string, entityID int64) (Record, error) {
	schema, err := s.SchemaDetails(ctx, q, schemaName)
	if err != nil {
		return Record{}, err
	}
	records, err := s.selectEntities(ctx, q, schema, nil, entityID)
	if err != nil {
		return Record{}, err
	}
	if len(records) == 0 {
		return Record{}, fmt.Errorf("entity %d of schema %q: %w", entityID, schemaName, ErrNotFound)
	}
	return records[0], nil
}

func (s *Store) selectEntities(ctx context.Context, q Querier, schema Schema, filters map[string]Value, entityID int64) ([]Record, error) {
	plan, err := planEntityQuery(schema, filters, entityID)
	if err != nil {
		return nil, err
	}
	query, args := plan.sql(s)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		record := Record{Values: make(map[string]Value, len(plan.clauses))}
		dests := make([]any, 0, len(plan.clauses)+1)
		dests = append(dests, &record.EntityID)
		holders := make([]*valueHolder, len(plan.clauses))
		for i, clause := range plan.clauses {
			holders[i] = newValueHolder(clause.attribute.Datatype)
			dests = append(dests, holders[i].dest())
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, err
		}
		for i, clause := range plan.clauses {
			record.Values[clause.attribute.Name] = holders[i].value()
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// quoteIdent quotes an attribute name for use as a projection alias.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
