package models

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	"twinhub/internal/attrstore"
	"twinhub/internal/locations"
	"twinhub/internal/sensors"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func setupService(t *testing.T) (*Service, *sensors.Service) {
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
	ddl := append(locations.Tables.DDL(), sensors.DDL()...)
	for _, stmt := range append(ddl, DDL()...) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("ddl: %v", err)
		}
	}
	t.Cleanup(func() {
		for _, table := range []string{
			"model_string_value", "model_integer_value",
			"model_float_value", "model_boolean_value",
			"model_product", "model_run", "model_scenario",
			"model", "model_measure",
			"sensor_string_reading", "sensor_integer_reading",
			"sensor_float_reading", "sensor_boolean_reading",
			"sensor_location", "sensor", "sensor_type_measure",
			"sensor_type", "sensor_measure",
			"location_string_value", "location_integer_value",
			"location_float_value", "location_boolean_value",
			"location", "location_schema_identifier",
			"location_schema", "location_identifier",
		} {
			_, _ = db.Exec("DROP TABLE IF EXISTS " + table + " CASCADE")
		}
		db.Close()
	})

	logger := log.New(os.Stderr, "", 0)
	sensorService, err := sensors.NewService(db, nil, logger)
	if err != nil {
		t.Fatalf("sensors service: %v", err)
	}
	service, err := NewService(db, logger)
	if err != nil {
		t.Fatalf("models service: %v", err)
	}
	return service, sensorService
}

func TestRunRoundTrip(t *testing.T) {
	service, sensorService := setupService(t)
	ctx := context.Background()

	if _, err := service.InsertModel(ctx, "arima"); err != nil {
		t.Fatalf("insert model: %v", err)
	}
	if _, err := service.InsertModel(ctx, "arima"); !errors.Is(err, attrstore.ErrAlreadyExists) {
		t.Fatalf("duplicate model: expected ErrAlreadyExists, got %v", err)
	}
	if _, err := service.InsertScenario(ctx, "arima", "business as usual"); err != nil {
		t.Fatalf("insert scenario: %v", err)
	}
	if _, err := service.RegisterMeasure(ctx, "mean prediction", "degrees C", attrstore.DatatypeFloat); err != nil {
		t.Fatalf("register measure: %v", err)
	}
	if _, err := service.RegisterMeasure(ctx, "upper bound", "degrees C", attrstore.DatatypeFloat); err != nil {
		t.Fatalf("register measure: %v", err)
	}

	if _, err := sensorService.RegisterMeasure(ctx, "temperature", "degrees C", attrstore.DatatypeFloat); err != nil {
		t.Fatalf("register sensor measure: %v", err)
	}
	if _, err := sensorService.InsertType(ctx, "weather-station", "", []string{"temperature"}); err != nil {
		t.Fatalf("insert sensor type: %v", err)
	}
	if _, err := sensorService.InsertSensor(ctx, "weather-station", "ws-0001", "", ""); err != nil {
		t.Fatalf("insert sensor: %v", err)
	}

	base := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	products := []ProductData{
		{
			MeasureName: "mean prediction",
			Values:      []any{20.0, 21.0},
			Timestamps:  []time.Time{base, base.Add(time.Hour)},
		},
		{
			MeasureName: "upper bound",
			Values:      []any{22.0, 23.0},
			Timestamps:  []time.Time{base, base.Add(time.Hour)},
		},
	}
	runID, err := service.InsertRun(ctx, "arima", "business as usual", base, products,
		&SensorLink{UniqueIdentifier: "ws-0001", MeasureName: "temperature"})
	if err != nil {
		t.Fatalf("insert run: %v", err)
	}

	runs, err := service.ListRuns(ctx, "arima", base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].ScenarioDescription != "business as usual" {
		t.Fatalf("scenario: %q", runs[0].ScenarioDescription)
	}
	if runs[0].SensorIdentifier != "ws-0001" || runs[0].SensorMeasure != "temperature" {
		t.Fatalf("sensor link: %+v", runs[0])
	}

	points, err := service.RunResultsForMeasure(ctx, runID, "mean prediction")
	if err != nil {
		t.Fatalf("run results: %v", err)
	}
	if len(points) != 2 || !points[0].Value.Equal(attrstore.Float(20.0)) {
		t.Fatalf("mean prediction series: %+v", points)
	}

	results, err := service.RunResults(ctx, runID)
	if err != nil {
		t.Fatalf("all run results: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 series, got %d", len(results))
	}
	if len(results["upper bound"]) != 2 {
		t.Fatalf("upper bound series: %+v", results["upper bound"])
	}
}

func TestRunValidation(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	if _, err := service.InsertModel(ctx, "hodmd"); err != nil {
		t.Fatalf("insert model: %v", err)
	}
	if _, err := service.RegisterMeasure(ctx, "prediction", "", attrstore.DatatypeFloat); err != nil {
		t.Fatalf("register measure: %v", err)
	}

	// Unknown model.
	_, err := service.InsertRun(ctx, "nope", "", time.Time{}, []ProductData{
		{MeasureName: "prediction", Values: []any{1.0}, Timestamps: []time.Time{time.Now().UTC()}},
	}, nil)
	if !errors.Is(err, attrstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Unknown scenario.
	_, err = service.InsertRun(ctx, "hodmd", "nope", time.Time{}, []ProductData{
		{MeasureName: "prediction", Values: []any{1.0}, Timestamps: []time.Time{time.Now().UTC()}},
	}, nil)
	if !errors.Is(err, attrstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Length mismatch rolls the whole run back.
	_, err = service.InsertRun(ctx, "hodmd", "", time.Time{}, []ProductData{
		{MeasureName: "prediction", Values: []any{1.0, 2.0}, Timestamps: []time.Time{time.Now().UTC()}},
	}, nil)
	var length *attrstore.LengthMismatchError
	if !errors.As(err, &length) {
		t.Fatalf("expected LengthMismatchError, got %v", err)
	}
	runs, err := service.ListRuns(ctx, "hodmd",
		time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("failed run left rows: %d", len(runs))
	}
}

func TestDeletionGuards(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	if _, err := service.InsertModel(ctx, "arima"); err != nil {
		t.Fatalf("insert model: %v", err)
	}
	if _, err := service.InsertScenario(ctx, "arima", "baseline"); err != nil {
		t.Fatalf("insert scenario: %v", err)
	}
	if _, err := service.RegisterMeasure(ctx, "prediction", "", attrstore.DatatypeFloat); err != nil {
		t.Fatalf("register measure: %v", err)
	}
	now := time.Now().UTC()
	_, err := service.InsertRun(ctx, "arima", "baseline", now, []ProductData{
		{MeasureName: "prediction", Values: []any{1.0}, Timestamps: []time.Time{now}},
	}, nil)
	if err != nil {
		t.Fatalf("insert run: %v", err)
	}

	var referenced *attrstore.ReferencedError
	if err := service.DeleteModel(ctx, "arima"); !errors.As(err, &referenced) {
		t.Fatalf("delete model: expected ReferencedError, got %v", err)
	}
	if err := service.DeleteScenario(ctx, "arima", "baseline"); !errors.As(err, &referenced) {
		t.Fatalf("delete scenario: expected ReferencedError, got %v", err)
	}
	if err := service.DeleteMeasure(ctx, "prediction"); !errors.As(err, &referenced) {
		t.Fatalf("delete measure: expected ReferencedError, got %v", err)
	}
}
