// Package models manages predictive models, their scenarios, the measures
// they emit, and model runs whose per-measure products carry typed value
// series, optionally linked to the sensor they should be compared against.
package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"twinhub/internal/attrstore"
	"twinhub/internal/sensors"
)

// Tables is the storage layout of the model measure registry.
var Tables = attrstore.Config{
	AttributeTable: "model_measure",
}

// ValueTables is the storage layout of the product value series. Product
// values carry no measure dimension of their own: the product row already
// fixes the measure.
var ValueTables = attrstore.SeriesConfig{
	TablePrefix:   "model",
	Suffix:        "value",
	SubjectTable:  "model_product",
	SubjectColumn: "product_id",
}

// Model is one registered predictive model.
type Model struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Scenario is one named variant of a model's configuration.
type Scenario struct {
	ID          int64  `json:"id"`
	ModelName   string `json:"model_name"`
	Description string `json:"description"`
}

// Run is one recorded execution of a model.
type Run struct {
	ID                  int64     `json:"id"`
	ModelName           string    `json:"model_name"`
	ScenarioDescription string    `json:"scenario_description,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
	SensorIdentifier    string    `json:"sensor_unique_identifier,omitempty"`
	SensorMeasure       string    `json:"sensor_measure,omitempty"`
}

// ProductData is the value series one run emitted for one measure.
type ProductData struct {
	MeasureName string      `json:"measure_name"`
	Values      []any       `json:"values"`
	Timestamps  []time.Time `json:"timestamps"`
}

// SensorLink ties a run to the sensor measure its products predict.
type SensorLink struct {
	UniqueIdentifier string `json:"unique_identifier"`
	MeasureName      string `json:"measure_name"`
}

// Service handles model use cases.
type Service struct {
	db       *sql.DB
	measures *attrstore.Store
	values   *attrstore.Series
	logger   *log.Logger
}

// NewService constructs the service.
func NewService(db *sql.DB, logger *log.Logger) (*Service, error) {
	if db == nil {
		return nil, errors.New("models service: nil db")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		db:       db,
		measures: attrstore.New(Tables),
		values:   attrstore.NewSeries(ValueTables),
		logger:   logger,
	}, nil
}

// DDL returns the CREATE TABLE statements of the model domain, in dependency
// order. The sensor tables must exist first.
func DDL() []string {
	stmts := Tables.DDL()
	stmts = append(stmts, `
CREATE TABLE IF NOT EXISTS model (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, `
CREATE TABLE IF NOT EXISTS model_scenario (
	id BIGSERIAL PRIMARY KEY,
	model_id BIGINT NOT NULL REFERENCES model (id) ON DELETE CASCADE,
	description TEXT NOT NULL,
	UNIQUE (model_id, description)
)`, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS model_run (
	id BIGSERIAL PRIMARY KEY,
	model_id BIGINT NOT NULL REFERENCES model (id),
	scenario_id BIGINT REFERENCES model_scenario (id),
	sensor_id BIGINT REFERENCES %s (id),
	sensor_measure_id BIGINT REFERENCES %s (id),
	time_created TIMESTAMPTZ NOT NULL
)`, sensors.Tables.EntityTable, sensors.Tables.AttributeTable), `
CREATE TABLE IF NOT EXISTS model_product (
	id BIGSERIAL PRIMARY KEY,
	run_id BIGINT NOT NULL REFERENCES model_run (id) ON DELETE CASCADE,
	measure_id BIGINT NOT NULL REFERENCES model_measure (id),
	UNIQUE (run_id, measure_id)
)`)
	return append(stmts, ValueTables.DDL()...)
}

// InsertModel registers a model by name.
func (s *Service) InsertModel(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, errors.New("models: name is required")
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO model (name) VALUES ($1) RETURNING id`, name).Scan(&id)
	if err != nil {
		return 0, attrstore.TranslateUnique(err, "model %q", name)
	}
	return id, nil
}

// DeleteModel removes a model and its scenarios. It refuses while runs of
// the model exist.
func (s *Service) DeleteModel(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var count int64
	err = tx.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM model_run r
JOIN model m ON m.id = r.model_id
WHERE m.name = $1`, name).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return &attrstore.ReferencedError{Name: name, By: "run"}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM model WHERE name = $1`, name)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("model %q: %w", name, attrstore.ErrNotFound)
	}
	return tx.Commit()
}

// ListModels returns all models in insertion order.
func (s *Service) ListModels(ctx context.Context) ([]Model, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM model ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	models := make([]Model, 0)
	for rows.Next() {
		var model Model
		if err := rows.Scan(&model.ID, &model.Name); err != nil {
			return nil, err
		}
		models = append(models, model)
	}
	return models, rows.Err()
}

// InsertScenario registers a scenario of an existing model. The
// (model, description) pair must be unused.
func (s *Service) InsertScenario(ctx context.Context, modelName, description string) (int64, error) {
	if description == "" {
		return 0, errors.New("models: scenario description is required")
	}
	modelID, err := s.modelID(ctx, modelName)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRowContext(ctx, `
INSERT INTO model_scenario (model_id, description)
VALUES ($1, $2)
RETURNING id`, modelID, description).Scan(&id)
	if err != nil {
		return 0, attrstore.TranslateUnique(err, "scenario %q of model %q", description, modelName)
	}
	return id, nil
}

// DeleteScenario removes a scenario. It refuses while runs of the scenario
// exist.
func (s *Service) DeleteScenario(ctx context.Context, modelName, description string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var count int64
	err = tx.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM model_run r
JOIN model_scenario sc ON sc.id = r.scenario_id
JOIN model m ON m.id = sc.model_id
WHERE m.name = $1 AND sc.description = $2`, modelName, description).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return &attrstore.ReferencedError{Name: description, By: "run"}
	}

	result, err := tx.ExecContext(ctx, `
DELETE FROM model_scenario sc
USING model m
WHERE m.id = sc.model_id AND m.name = $1 AND sc.description = $2`, modelName, description)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("scenario %q of model %q: %w", description, modelName, attrstore.ErrNotFound)
	}
	return tx.Commit()
}

// ListScenarios returns all scenarios, optionally narrowed to one model.
func (s *Service) ListScenarios(ctx context.Context, modelName string) ([]Scenario, error) {
	query := `
SELECT sc.id, m.name, sc.description
FROM model_scenario sc
JOIN model m ON m.id = sc.model_id`
	var args []any
	if modelName != "" {
		query += "\nWHERE m.name = $1"
		args = append(args, modelName)
	}
	query += "\nORDER BY sc.id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scenarios := make([]Scenario, 0)
	for rows.Next() {
		var scenario Scenario
		if err := rows.Scan(&scenario.ID, &scenario.ModelName, &scenario.Description); err != nil {
			return nil, err
		}
		scenarios = append(scenarios, scenario)
	}
	return scenarios, rows.Err()
}

// RegisterMeasure registers a model measure definition.
func (s *Service) RegisterMeasure(ctx context.Context, name, unit string, datatype attrstore.Datatype) (int64, error) {
	return s.measures.RegisterAttribute(ctx, s.db, name, unit, datatype)
}

// DeleteMeasure removes a measure definition unless a product uses it.
func (s *Service) DeleteMeasure(ctx context.Context, name string) error {
	var count int64
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM model_product p
JOIN model_measure me ON me.id = p.measure_id
WHERE me.name = $1`, name).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return &attrstore.ReferencedError{Name: name, By: "product"}
	}
	return s.measures.DeleteAttribute(ctx, s.db, name)
}

// ListMeasures returns all model measure definitions.
func (s *Service) ListMeasures(ctx context.Context) ([]attrstore.Attribute, error) {
	return s.measures.ListAttributes(ctx, s.db)
}

// InsertRun records one model execution with the value series it produced,
// one product per measure. The scenario and the sensor link are optional.
// The run and all its products commit or roll back together.
func (s *Service) InsertRun(ctx context.Context, modelName, scenarioDescription string, timestamp time.Time, products []ProductData, link *SensorLink) (int64, error) {
	if len(products) == 0 {
		return 0, errors.New("models: a run needs at least one product")
	}
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	modelID, err := s.modelIDQ(ctx, tx, modelName)
	if err != nil {
		return 0, err
	}
	var scenarioID sql.NullInt64
	if scenarioDescription != "" {
		err = tx.QueryRowContext(ctx, `
SELECT id FROM model_scenario WHERE model_id = $1 AND description = $2`,
			modelID, scenarioDescription).Scan(&scenarioID.Int64)
		if err != nil {
			return 0, notFoundErr(err, "scenario %q of model %q", scenarioDescription, modelName)
		}
		scenarioID.Valid = true
	}

	var sensorID, sensorMeasureID sql.NullInt64
	if link != nil {
		err = tx.QueryRowContext(ctx, fmt.Sprintf(
			`SELECT id FROM %s WHERE unique_identifier = $1`, sensors.Tables.EntityTable),
			link.UniqueIdentifier).Scan(&sensorID.Int64)
		if err != nil {
			return 0, notFoundErr(err, "sensor %q", link.UniqueIdentifier)
		}
		sensorID.Valid = true
		err = tx.QueryRowContext(ctx, fmt.Sprintf(
			`SELECT id FROM %s WHERE name = $1`, sensors.Tables.AttributeTable),
			link.MeasureName).Scan(&sensorMeasureID.Int64)
		if err != nil {
			return 0, notFoundErr(err, "sensor measure %q", link.MeasureName)
		}
		sensorMeasureID.Valid = true
	}

	var runID int64
	err = tx.QueryRowContext(ctx, `
INSERT INTO model_run (model_id, scenario_id, sensor_id, sensor_measure_id, time_created)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`, modelID, scenarioID, sensorID, sensorMeasureID, timestamp.UTC()).Scan(&runID)
	if err != nil {
		return 0, err
	}

	for _, product := range products {
		measure, err := s.measures.AttributeByName(ctx, tx, product.MeasureName)
		if err != nil {
			return 0, err
		}
		values := make([]attrstore.Value, len(product.Values))
		for i, raw := range product.Values {
			values[i], err = attrstore.ParseValue(measure.Datatype, raw)
			if err != nil {
				return 0, fmt.Errorf("measure %q: %w", measure.Name, err)
			}
		}

		var productID int64
		err = tx.QueryRowContext(ctx, `
INSERT INTO model_product (run_id, measure_id)
VALUES ($1, $2)
RETURNING id`, runID, measure.ID).Scan(&productID)
		if err != nil {
			return 0, attrstore.TranslateUnique(err, "product %q of run %d", measure.Name, runID)
		}
		if err := s.values.InsertPoints(ctx, tx, productID, 0, measure.Datatype, values, product.Timestamps); err != nil {
			return 0, err
		}
	}
	return runID, tx.Commit()
}

// ListRuns returns the runs of a model within [from, to], newest first.
func (s *Service) ListRuns(ctx context.Context, modelName string, from, to time.Time) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
SELECT r.id, m.name, COALESCE(sc.description, ''), r.time_created,
	COALESCE(se.unique_identifier, ''), COALESCE(sm.name, '')
FROM model_run r
JOIN model m ON m.id = r.model_id
LEFT JOIN model_scenario sc ON sc.id = r.scenario_id
LEFT JOIN %s se ON se.id = r.sensor_id
LEFT JOIN %s sm ON sm.id = r.sensor_measure_id
WHERE m.name = $1 AND r.time_created >= $2 AND r.time_created <= $3
ORDER BY r.time_created DESC, r.id DESC`,
		sensors.Tables.EntityTable, sensors.Tables.AttributeTable),
		modelName, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.ModelName, &run.ScenarioDescription,
			&run.Timestamp, &run.SensorIdentifier, &run.SensorMeasure); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Run returns one run by id.
func (s *Service) Run(ctx context.Context, runID int64) (Run, error) {
	var run Run
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT r.id, m.name, COALESCE(sc.description, ''), r.time_created,
	COALESCE(se.unique_identifier, ''), COALESCE(sm.name, '')
FROM model_run r
JOIN model m ON m.id = r.model_id
LEFT JOIN model_scenario sc ON sc.id = r.scenario_id
LEFT JOIN %s se ON se.id = r.sensor_id
LEFT JOIN %s sm ON sm.id = r.sensor_measure_id
WHERE r.id = $1`, sensors.Tables.EntityTable, sensors.Tables.AttributeTable), runID).
		Scan(&run.ID, &run.ModelName, &run.ScenarioDescription,
			&run.Timestamp, &run.SensorIdentifier, &run.SensorMeasure)
	if err != nil {
		return Run{}, notFoundErr(err, "run %d", runID)
	}
	return run, nil
}

// RunResultsForMeasure returns the value series one run produced for one
// measure, oldest first.
func (s *Service) RunResultsForMeasure(ctx context.Context, runID int64, measureName string) ([]attrstore.Point, error) {
	measure, err := s.measures.AttributeByName(ctx, s.db, measureName)
	if err != nil {
		return nil, err
	}
	var productID int64
	err = s.db.QueryRowContext(ctx, `
SELECT id FROM model_product WHERE run_id = $1 AND measure_id = $2`,
		runID, measure.ID).Scan(&productID)
	if err != nil {
		return nil, notFoundErr(err, "product %q of run %d", measureName, runID)
	}
	return s.values.AllPoints(ctx, s.db, productID, 0, measure.Datatype)
}

// RunResults returns every value series of a run, keyed by measure name.
func (s *Service) RunResults(ctx context.Context, runID int64) (map[string][]attrstore.Point, error) {
	if _, err := s.Run(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT p.id, me.id, me.name, me.unit, me.datatype
FROM model_product p
JOIN model_measure me ON me.id = p.measure_id
WHERE p.run_id = $1
ORDER BY p.id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type product struct {
		id      int64
		measure attrstore.Attribute
	}
	products := make([]product, 0)
	for rows.Next() {
		var p product
		if err := rows.Scan(&p.id, &p.measure.ID, &p.measure.Name, &p.measure.Unit, &p.measure.Datatype); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make(map[string][]attrstore.Point, len(products))
	for _, p := range products {
		points, err := s.values.AllPoints(ctx, s.db, p.id, 0, p.measure.Datatype)
		if err != nil {
			return nil, err
		}
		results[p.measure.Name] = points
	}
	return results, nil
}

func (s *Service) modelID(ctx context.Context, name string) (int64, error) {
	return s.modelIDQ(ctx, s.db, name)
}

func (s *Service) modelIDQ(ctx context.Context, q attrstore.Querier, name string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM model WHERE name = $1`, name).Scan(&id)
	if err != nil {
		return 0, notFoundErr(err, "model %q", name)
	}
	return id, nil
}

func notFoundErr(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, attrstore.ErrNotFound)...)
	}
	return err
}
