package attrstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"twinhub/internal/attrstore"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// testStore creates a throwaway domain instance with unique table names so
// runs do not interfere.
func testStore(t *testing.T, db *sql.DB) *attrstore.Store {
	t.Helper()
	prefix := fmt.Sprintf("it_%d", time.Now().UnixNano())
	cfg := attrstore.Config{
		AttributeTable:  prefix + "_identifier",
		SchemaTable:     prefix + "_schema",
		MembershipTable: prefix + "_schema_identifier",
		EntityTable:     prefix + "_entity",
		ValuePrefix:     prefix,
	}
	ctx := context.Background()
	for _, stmt := range cfg.DDL() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("ddl: %v", err)
		}
	}
	t.Cleanup(func() {
		for _, table := range []string{
			prefix + "_string_value", prefix + "_integer_value",
			prefix + "_float_value", prefix + "_boolean_value",
			prefix + "_entity", prefix + "_schema_identifier",
			prefix + "_schema", prefix + "_identifier",
		} {
			_, _ = db.Exec("DROP TABLE IF EXISTS " + table)
		}
	})
	return attrstore.New(cfg)
}

func TestCompositeEntityRoundTrip(t *testing.T) {
	db := openTestDB(t)
	store := testStore(t, db)
	ctx := context.Background()

	if _, err := store.RegisterAttribute(ctx, db, "latitude", "", attrstore.DatatypeFloat); err != nil {
		t.Fatalf("register latitude: %v", err)
	}
	if _, err := store.RegisterAttribute(ctx, db, "longitude", "", attrstore.DatatypeFloat); err != nil {
		t.Fatalf("register longitude: %v", err)
	}

	// Registering the same (name, unit) pair twice is a conflict.
	if _, err := store.RegisterAttribute(ctx, db, "latitude", "", attrstore.DatatypeFloat); !errors.Is(err, attrstore.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	if _, err := store.CreateSchema(ctx, db, "latlong", "lat/long pairs", []string{"latitude", "longitude"}); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	values := map[string]attrstore.Value{
		"latitude":  attrstore.Float(-2.0),
		"longitude": attrstore.Float(23.5),
	}
	if _, err := store.InsertEntity(ctx, db, "latlong", values); err != nil {
		t.Fatalf("insert entity: %v", err)
	}

	records, err := store.SelectEntities(ctx, db, "latlong", nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if got := records[0].Values["latitude"]; !got.Equal(attrstore.Float(-2.0)) {
		t.Fatalf("latitude: got %v", got.Any())
	}
	if got := records[0].Values["longitude"]; !got.Equal(attrstore.Float(23.5)) {
		t.Fatalf("longitude: got %v", got.Any())
	}

	// Duplicate value tuple is a conflict.
	if _, err := store.InsertEntity(ctx, db, "latlong", values); !errors.Is(err, attrstore.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	// Exact-match filters.
	records, err = store.SelectEntities(ctx, db, "latlong", map[string]attrstore.Value{"latitude": attrstore.Float(-2.0)})
	if err != nil {
		t.Fatalf("filtered list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 filtered record, got %d", len(records))
	}
	records, err = store.SelectEntities(ctx, db, "latlong", map[string]attrstore.Value{"latitude": attrstore.Float(99.0)})
	if err != nil {
		t.Fatalf("filtered list: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestInsertEntityValidation(t *testing.T) {
	db := openTestDB(t)
	store := testStore(t, db)
	ctx := context.Background()

	if _, err := store.RegisterAttribute(ctx, db, "aisle", "", attrstore.DatatypeString); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := store.RegisterAttribute(ctx, db, "shelf", "", attrstore.DatatypeInteger); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := store.CreateSchema(ctx, db, "warehouse", "", []string{"aisle", "shelf"}); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	// Missing key.
	var setErr *attrstore.AttributeSetError
	_, err := store.InsertEntity(ctx, db, "warehouse", map[string]attrstore.Value{"aisle": attrstore.String("A")})
	if !errors.As(err, &setErr) {
		t.Fatalf("expected AttributeSetError, got %v", err)
	}

	// Extra key.
	_, err = store.InsertEntity(ctx, db, "warehouse", map[string]attrstore.Value{
		"aisle": attrstore.String("A"),
		"shelf": attrstore.Integer(3),
		"bin":   attrstore.Integer(1),
	})
	if !errors.As(err, &setErr) {
		t.Fatalf("expected AttributeSetError, got %v", err)
	}

	// Wrong runtime type with matching keys.
	var mismatch *attrstore.DatatypeMismatchError
	_, err = store.InsertEntity(ctx, db, "warehouse", map[string]attrstore.Value{
		"aisle": attrstore.String("A"),
		"shelf": attrstore.String("three"),
	})
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected DatatypeMismatchError, got %v", err)
	}

	// Unknown schema.
	if _, err := store.InsertEntity(ctx, db, "nope", nil); !errors.Is(err, attrstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteEntityCascades(t *testing.T) {
	db := openTestDB(t)
	store := testStore(t, db)
	ctx := context.Background()

	if _, err := store.RegisterAttribute(ctx, db, "room", "", attrstore.DatatypeString); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := store.CreateSchema(ctx, db, "rooms", "", []string{"room"}); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	values := map[string]attrstore.Value{"room": attrstore.String("42b")}
	if _, err := store.InsertEntity(ctx, db, "rooms", values); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Schema delete is blocked while the entity exists.
	var referenced *attrstore.ReferencedError
	if err := store.DeleteSchema(ctx, db, "rooms"); !errors.As(err, &referenced) {
		t.Fatalf("expected ReferencedError, got %v", err)
	}
	// Attribute delete is blocked while the schema includes it.
	if err := store.DeleteAttribute(ctx, db, "room"); !errors.As(err, &referenced) {
		t.Fatalf("expected ReferencedError, got %v", err)
	}

	if err := store.DeleteEntityByValues(ctx, db, "rooms", values); err != nil {
		t.Fatalf("delete entity: %v", err)
	}
	records, err := store.SelectEntities(ctx, db, "rooms", nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records after delete, got %d", len(records))
	}
	if err := store.DeleteEntityByValues(ctx, db, "rooms", values); !errors.Is(err, attrstore.ErrNotFound) {
		t.Fatalf("re-delete: expected ErrNotFound, got %v", err)
	}

	// With the entity gone the schema and then the attribute can go too.
	if err := store.DeleteSchema(ctx, db, "rooms"); err != nil {
		t.Fatalf("delete schema: %v", err)
	}
	if err := store.DeleteAttribute(ctx, db, "room"); err != nil {
		t.Fatalf("delete attribute: %v", err)
	}
}

func TestEnsureAttributeInsideTransaction(t *testing.T) {
	db := openTestDB(t)
	store := testStore(t, db)
	ctx := context.Background()

	existingID, err := store.RegisterAttribute(ctx, db, "latitude", "", attrstore.DatatypeFloat)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	// Ensuring an attribute that already exists must not poison the
	// surrounding transaction: later statements on the same tx and the
	// commit itself have to succeed.
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()

	id, err := store.EnsureAttribute(ctx, tx, "latitude", "", attrstore.DatatypeFloat)
	if err != nil {
		t.Fatalf("ensure existing: %v", err)
	}
	if id != existingID {
		t.Fatalf("expected id %d, got %d", existingID, id)
	}
	if _, err := store.EnsureAttribute(ctx, tx, "longitude", "", attrstore.DatatypeFloat); err != nil {
		t.Fatalf("ensure new after existing: %v", err)
	}
	if _, err := store.CreateSchema(ctx, tx, "latlong", "", []string{"latitude", "longitude"}); err != nil {
		t.Fatalf("create schema in same tx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	schema, err := store.SchemaDetails(ctx, db, "latlong")
	if err != nil {
		t.Fatalf("schema details: %v", err)
	}
	if len(schema.Attributes) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(schema.Attributes))
	}

	// EnsureAttribute keeps validating the datatype up front.
	if _, err := store.EnsureAttribute(ctx, db, "altitude", "", attrstore.Datatype("decimal")); !errors.Is(err, attrstore.ErrInvalidDatatype) {
		t.Fatalf("expected ErrInvalidDatatype, got %v", err)
	}
}

func TestSeriesRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	prefix := fmt.Sprintf("its_%d", time.Now().UnixNano())

	registry := attrstore.New(attrstore.Config{AttributeTable: prefix + "_measure"})
	for _, stmt := range (attrstore.Config{AttributeTable: prefix + "_measure"}).DDL() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("ddl: %v", err)
		}
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s_subject (id BIGSERIAL PRIMARY KEY)`, prefix)); err != nil {
		t.Fatalf("ddl: %v", err)
	}
	seriesCfg := attrstore.SeriesConfig{
		TablePrefix:   prefix,
		Suffix:        "reading",
		SubjectTable:  prefix + "_subject",
		SubjectColumn: "subject_id",
		MeasureTable:  prefix + "_measure",
	}
	for _, stmt := range seriesCfg.DDL() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("ddl: %v", err)
		}
	}
	t.Cleanup(func() {
		for _, table := range []string{
			prefix + "_string_reading", prefix + "_integer_reading",
			prefix + "_float_reading", prefix + "_boolean_reading",
			prefix + "_subject", prefix + "_measure",
		} {
			_, _ = db.Exec("DROP TABLE IF EXISTS " + table)
		}
	})
	series := attrstore.NewSeries(seriesCfg)

	measureID, err := registry.RegisterAttribute(ctx, db, "temperature", "degrees C", attrstore.DatatypeFloat)
	if err != nil {
		t.Fatalf("register measure: %v", err)
	}
	var subjectID int64
	if err := db.QueryRowContext(ctx, fmt.Sprintf(`INSERT INTO %s_subject DEFAULT VALUES RETURNING id`, prefix)).Scan(&subjectID); err != nil {
		t.Fatalf("insert subject: %v", err)
	}

	t1 := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	values := []attrstore.Value{attrstore.Float(1.0), attrstore.Float(2.0)}
	if err := series.InsertPoints(ctx, db, subjectID, measureID, attrstore.DatatypeFloat, values, []time.Time{t1, t2}); err != nil {
		t.Fatalf("insert points: %v", err)
	}

	points, err := series.QueryPoints(ctx, db, subjectID, measureID, attrstore.DatatypeFloat, t1, t2)
	if err != nil {
		t.Fatalf("query points: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if !points[0].Value.Equal(attrstore.Float(1.0)) || !points[0].Timestamp.Equal(t1) {
		t.Fatalf("first point: %v @ %v", points[0].Value.Any(), points[0].Timestamp)
	}
	if !points[1].Value.Equal(attrstore.Float(2.0)) || !points[1].Timestamp.Equal(t2) {
		t.Fatalf("second point: %v @ %v", points[1].Value.Any(), points[1].Timestamp)
	}

	// A duplicate (subject, measure, timestamp) fails the batch.
	err = series.InsertPoints(ctx, db, subjectID, measureID, attrstore.DatatypeFloat,
		[]attrstore.Value{attrstore.Float(9.0)}, []time.Time{t1})
	if !errors.Is(err, attrstore.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	// Length mismatch is rejected before any write.
	var lengthErr *attrstore.LengthMismatchError
	err = series.InsertPoints(ctx, db, subjectID, measureID, attrstore.DatatypeFloat,
		[]attrstore.Value{attrstore.Float(1.0)}, nil)
	if !errors.As(err, &lengthErr) {
		t.Fatalf("expected LengthMismatchError, got %v", err)
	}

	// Empty input is a no-op.
	if err := series.InsertPoints(ctx, db, subjectID, measureID, attrstore.DatatypeFloat, nil, nil); err != nil {
		t.Fatalf("empty insert: %v", err)
	}
}
