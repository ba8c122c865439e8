package attrstore

import (
	"errors"
	"strings"
	"testing"
)

func locationStore() *Store {
	return New(Config{
		AttributeTable:  "location_identifier",
		SchemaTable:     "location_schema",
		MembershipTable: "location_schema_identifier",
		EntityTable:     "location",
		ValuePrefix:     "location",
	})
}

func latlongSchema() Schema {
	return Schema{
		ID:   7,
		Name: "latitude-longitude",
		Attributes: []Attribute{
			{ID: 1, Name: "latitude", Datatype: DatatypeFloat},
			{ID: 2, Name: "longitude", Datatype: DatatypeFloat},
		},
	}
}

func TestEntityQuerySQL(t *testing.T) {
	store := locationStore()
	plan, err := planEntityQuery(latlongSchema(), nil, 0)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	query, args := plan.sql(store)

	want := strings.Join([]string{
		`SELECT e.id, v0.value AS "latitude", v1.value AS "longitude"`,
		`FROM location e`,
		`JOIN location_float_value v0 ON v0.entity_id = e.id AND v0.attribute_id = $1`,
		`JOIN location_float_value v1 ON v1.entity_id = e.id AND v1.attribute_id = $2`,
		`WHERE e.schema_id = $3`,
		`ORDER BY e.id`,
	}, "\n")
	if query != want {
		t.Fatalf("query mismatch:\ngot:\n%s\nwant:\n%s", query, want)
	}
	if len(args) != 3 || args[0] != int64(1) || args[1] != int64(2) || args[2] != int64(7) {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestEntityQuerySQLWithFilter(t *testing.T) {
	store := locationStore()
	plan, err := planEntityQuery(latlongSchema(), map[string]Value{"latitude": Float(-2.0)}, 0)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	query, args := plan.sql(store)

	if !strings.Contains(query, "JOIN location_float_value v0 ON v0.entity_id = e.id AND v0.attribute_id = $1 AND v0.value = $2") {
		t.Fatalf("filter clause missing:\n%s", query)
	}
	if len(args) != 4 {
		t.Fatalf("expected 4 args, got %v", args)
	}
	if args[1] != -2.0 {
		t.Fatalf("filter value not bound: %v", args)
	}
}

func TestEntityQueryMixedPartitions(t *testing.T) {
	// The join set is derived per schema: each attribute pulls in exactly
	// the partition of its own datatype.
	store := locationStore()
	schema := Schema{
		ID:   3,
		Name: "aisle-column-occupied",
		Attributes: []Attribute{
			{ID: 10, Name: "aisle", Datatype: DatatypeString},
			{ID: 11, Name: "column", Datatype: DatatypeInteger},
			{ID: 12, Name: "occupied", Datatype: DatatypeBoolean},
		},
	}
	plan, err := planEntityQuery(schema, nil, 0)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	query, _ := plan.sql(store)

	for _, table := range []string{"location_string_value", "location_integer_value", "location_boolean_value"} {
		if !strings.Contains(query, table) {
			t.Fatalf("expected join on %s:\n%s", table, query)
		}
	}
	if strings.Contains(query, "location_float_value") {
		t.Fatalf("float partition joined without a float attribute:\n%s", query)
	}
}

func TestEntityQueryEntityIDConstraint(t *testing.T) {
	store := locationStore()
	plan, err := planEntityQuery(latlongSchema(), nil, 42)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	query, args := plan.sql(store)
	if !strings.Contains(query, "AND e.id = $4") {
		t.Fatalf("entity id constraint missing:\n%s", query)
	}
	if args[len(args)-1] != int64(42) {
		t.Fatalf("entity id not bound last: %v", args)
	}
}

func TestPlanRejectsUnknownFilterKey(t *testing.T) {
	_, err := planEntityQuery(latlongSchema(), map[string]Value{"altitude": Float(1)}, 0)
	var unknown *UnknownAttributeError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownAttributeError, got %v", err)
	}
	if unknown.Attribute != "altitude" {
		t.Fatalf("wrong attribute reported: %q", unknown.Attribute)
	}
}

func TestPlanRejectsFilterOfWrongType(t *testing.T) {
	_, err := planEntityQuery(latlongSchema(), map[string]Value{"latitude": String("north")}, 0)
	var mismatch *DatatypeMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected DatatypeMismatchError, got %v", err)
	}
	if mismatch.Expected != DatatypeFloat {
		t.Fatalf("wrong expected datatype: %q", mismatch.Expected)
	}
}

func TestCheckAttributeSetReportsSymmetricDifference(t *testing.T) {
	err := checkAttributeSet(latlongSchema(), map[string]Value{
		"latitude": Float(1),
		"altitude": Float(2),
	})
	var setErr *AttributeSetError
	if !errors.As(err, &setErr) {
		t.Fatalf("expected AttributeSetError, got %v", err)
	}
	if len(setErr.Missing) != 1 || setErr.Missing[0] != "longitude" {
		t.Fatalf("missing: %v", setErr.Missing)
	}
	if len(setErr.Extra) != 1 || setErr.Extra[0] != "altitude" {
		t.Fatalf("extra: %v", setErr.Extra)
	}
}

func TestCanonicalSchemaName(t *testing.T) {
	a := CanonicalSchemaName([]string{"longitude", "latitude"})
	b := CanonicalSchemaName([]string{"latitude", "longitude"})
	if a != b {
		t.Fatalf("order must not matter: %q vs %q", a, b)
	}
	if a != "latitude-longitude" {
		t.Fatalf("got %q", a)
	}
}

func TestCanonicalSchemaNameDedupesNames(t *testing.T) {
	// Repeated names must collapse to one member, matching the set
	// semantics of CreateSchema.
	got := CanonicalSchemaName([]string{"aisle", "aisle", "column"})
	if got != "aisle-column" {
		t.Fatalf("got %q, want %q", got, "aisle-column")
	}
	if got := CanonicalSchemaName([]string{"aisle", "aisle"}); got != "aisle" {
		t.Fatalf("got %q, want %q", got, "aisle")
	}
}
