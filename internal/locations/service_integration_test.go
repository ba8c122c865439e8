package locations

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"testing"

	"twinhub/internal/attrstore"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func setupService(t *testing.T) *Service {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	ctx := context.Background()
	for _, stmt := range Tables.DDL() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("ddl: %v", err)
		}
	}
	t.Cleanup(func() {
		for _, table := range []string{
			"location_string_value", "location_integer_value",
			"location_float_value", "location_boolean_value",
			"location", "location_schema_identifier",
			"location_schema", "location_identifier",
		} {
			_, _ = db.Exec("DROP TABLE IF EXISTS " + table + " CASCADE")
		}
		db.Close()
	})

	service, err := NewService(db, log.New(os.Stderr, "", 0))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

func TestInlineInsertDerivesSchema(t *testing.T) {
	service := setupService(t)
	ctx := context.Background()

	identifiers := []IdentifierValue{
		{Name: "longitude", Datatype: attrstore.DatatypeFloat, Value: 23.5},
		{Name: "latitude", Datatype: attrstore.DatatypeFloat, Value: -2.0},
	}
	id, schemaName, err := service.InsertLocation(ctx, identifiers)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if schemaName != "latitude-longitude" {
		t.Fatalf("derived schema name: got %q", schemaName)
	}

	// A second insert with the same identifier set in a different order
	// reuses the schema and the identifiers instead of failing on conflicts.
	id2, schemaName2, err := service.InsertLocation(ctx, []IdentifierValue{
		{Name: "latitude", Datatype: attrstore.DatatypeFloat, Value: 10.0},
		{Name: "longitude", Datatype: attrstore.DatatypeFloat, Value: 20.0},
	})
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if schemaName2 != schemaName {
		t.Fatalf("schema not reused: %q vs %q", schemaName2, schemaName)
	}
	if id2 == id {
		t.Fatalf("distinct locations share id %d", id)
	}

	schemas, err := service.ListSchemas(ctx)
	if err != nil {
		t.Fatalf("list schemas: %v", err)
	}
	if len(schemas) != 1 {
		t.Fatalf("expected 1 schema, got %d", len(schemas))
	}

	// An exact duplicate of the first location is rejected.
	_, _, err = service.InsertLocation(ctx, identifiers)
	if !errors.Is(err, attrstore.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestLocationLifecycle(t *testing.T) {
	service := setupService(t)
	ctx := context.Background()

	if _, err := service.RegisterIdentifier(ctx, "latitude", "", attrstore.DatatypeFloat); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := service.RegisterIdentifier(ctx, "longitude", "", attrstore.DatatypeFloat); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := service.CreateSchema(ctx, "latlong", "lat/long pairs", []string{"latitude", "longitude"}); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	coords := map[string]any{"latitude": -2.0, "longitude": 23.5}
	id, err := service.InsertLocationForSchema(ctx, "latlong", coords)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	records, err := service.ListLocations(ctx, "latlong", map[string]any{"latitude": -2.0})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].EntityID != id {
		t.Fatalf("filtered list: %+v", records)
	}

	record, schemaName, err := service.Location(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if schemaName != "latlong" {
		t.Fatalf("schema name: got %q", schemaName)
	}
	if !record.Values["longitude"].Equal(attrstore.Float(23.5)) {
		t.Fatalf("longitude: got %v", record.Values["longitude"].Any())
	}

	resolved, err := service.ResolveLocation(ctx, "latlong", coords)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved != id {
		t.Fatalf("resolved %d, want %d", resolved, id)
	}

	if err := service.DeleteLocation(ctx, "latlong", coords); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := service.DeleteLocation(ctx, "latlong", coords); !errors.Is(err, attrstore.ErrNotFound) {
		t.Fatalf("re-delete: expected ErrNotFound, got %v", err)
	}

	if err := service.DeleteSchema(ctx, "latlong"); err != nil {
		t.Fatalf("delete schema: %v", err)
	}
	if err := service.DeleteIdentifier(ctx, "latitude"); err != nil {
		t.Fatalf("delete identifier: %v", err)
	}
}

func TestListLocationsRejectsForeignFilterKey(t *testing.T) {
	service := setupService(t)
	ctx := context.Background()

	if _, err := service.RegisterIdentifier(ctx, "aisle", "", attrstore.DatatypeString); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := service.CreateSchema(ctx, "aisles", "", []string{"aisle"}); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	var unknown *attrstore.UnknownAttributeError
	_, err := service.ListLocations(ctx, "aisles", map[string]any{"shelf": 1})
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownAttributeError, got %v", err)
	}
}
