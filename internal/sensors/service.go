// Package sensors manages sensor measures, sensor types (named measure
// sets), the sensors themselves, their typed reading series, and the history
// of locations a sensor has been installed at.
package sensors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"twinhub/internal/attrstore"
	"twinhub/internal/locations"
)

// Tables is the storage layout of the measure and type registries. Sensors
// reference their type the way entities reference their schema, which is
// what blocks type deletion while sensors of that type exist.
var Tables = attrstore.Config{
	AttributeTable:  "sensor_measure",
	SchemaTable:     "sensor_type",
	MembershipTable: "sensor_type_measure",
	EntityTable:     "sensor",
	EntityFK:        "type_id",
}

// ReadingTables is the storage layout of the reading series.
var ReadingTables = attrstore.SeriesConfig{
	TablePrefix:   "sensor",
	Suffix:        "reading",
	SubjectTable:  "sensor",
	SubjectColumn: "sensor_id",
	MeasureTable:  "sensor_measure",
}

// Sensor is one registered sensor.
type Sensor struct {
	ID               int64  `json:"id"`
	TypeName         string `json:"type_name"`
	UniqueIdentifier string `json:"unique_identifier"`
	Name             string `json:"name,omitempty"`
	Notes            string `json:"notes,omitempty"`
}

// Installation is one entry of a sensor's location history.
type Installation struct {
	LocationID  int64                      `json:"location_id"`
	SchemaName  string                     `json:"schema_name"`
	Coordinates map[string]attrstore.Value `json:"coordinates"`
	InstalledAt time.Time                  `json:"installed_at"`
}

// Service handles sensor use cases.
type Service struct {
	db        *sql.DB
	store     *attrstore.Store
	readings  *attrstore.Series
	locations *locations.Service
	logger    *log.Logger
}

// NewService constructs the service. The locations service is optional; when
// nil, location assignment and history are disabled.
func NewService(db *sql.DB, locationService *locations.Service, logger *log.Logger) (*Service, error) {
	if db == nil {
		return nil, errors.New("sensors service: nil db")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		db:        db,
		store:     attrstore.New(Tables),
		readings:  attrstore.NewSeries(ReadingTables),
		locations: locationService,
		logger:    logger,
	}, nil
}

// DDL returns the CREATE TABLE statements of the sensor domain, in
// dependency order. The location table must exist first.
func DDL() []string {
	stmts := Tables.DDL()
	stmts = append(stmts, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	type_id BIGINT NOT NULL REFERENCES %s (id),
	unique_identifier TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, Tables.EntityTable, Tables.SchemaTable), fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS sensor_location (
	id BIGSERIAL PRIMARY KEY,
	sensor_id BIGINT NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
	location_id BIGINT NOT NULL REFERENCES %s (id),
	installed_at TIMESTAMPTZ NOT NULL,
	UNIQUE (sensor_id, installed_at)
)`, Tables.EntityTable, locations.Tables.EntityTable))
	return append(stmts, ReadingTables.DDL()...)
}

// RegisterMeasure registers a sensor measure definition.
func (s *Service) RegisterMeasure(ctx context.Context, name, unit string, datatype attrstore.Datatype) (int64, error) {
	return s.store.RegisterAttribute(ctx, s.db, name, unit, datatype)
}

// DeleteMeasure removes a measure definition unless a type uses it.
func (s *Service) DeleteMeasure(ctx context.Context, name string) error {
	return s.store.DeleteAttribute(ctx, s.db, name)
}

// ListMeasures returns all measure definitions.
func (s *Service) ListMeasures(ctx context.Context) ([]attrstore.Attribute, error) {
	return s.store.ListAttributes(ctx, s.db)
}

// InsertType registers a sensor type: a named set of existing measures.
func (s *Service) InsertType(ctx context.Context, name, description string, measureNames []string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	id, err := s.store.CreateSchema(ctx, tx, name, description, measureNames)
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

// TypeDetails returns a sensor type with its resolved measures.
func (s *Service) TypeDetails(ctx context.Context, name string) (attrstore.Schema, error) {
	return s.store.SchemaDetails(ctx, s.db, name)
}

// DeleteType removes a sensor type unless sensors still use it.
func (s *Service) DeleteType(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.store.DeleteSchema(ctx, tx, name); err != nil {
		return err
	}
	return tx.Commit()
}

// ListTypes returns all sensor types with their measures.
func (s *Service) ListTypes(ctx context.Context) ([]attrstore.Schema, error) {
	return s.store.ListSchemas(ctx, s.db)
}

// InsertSensor registers a sensor of an existing type. The unique identifier
// must be unused.
func (s *Service) InsertSensor(ctx context.Context, typeName, uniqueIdentifier, name, notes string) (int64, error) {
	if uniqueIdentifier == "" {
		return 0, errors.New("sensors: unique identifier is required")
	}
	sensorType, err := s.store.SchemaDetails(ctx, s.db, typeName)
	if err != nil {
		return 0, err
	}

	var id int64
	query := fmt.Sprintf(`
INSERT INTO %s (type_id, unique_identifier, name, notes)
VALUES ($1, $2, $3, $4)
RETURNING id`, Tables.EntityTable)
	err = s.db.QueryRowContext(ctx, query, sensorType.ID, uniqueIdentifier, name, notes).Scan(&id)
	if err != nil {
		return 0, attrstore.TranslateUnique(err, "sensor %q", uniqueIdentifier)
	}
	return id, nil
}

// SensorByIdentifier resolves a sensor by its unique identifier.
func (s *Service) SensorByIdentifier(ctx context.Context, uniqueIdentifier string) (Sensor, error) {
	var sensor Sensor
	query := fmt.Sprintf(`
SELECT se.id, t.name, se.unique_identifier, se.name, se.notes
FROM %s se
JOIN %s t ON t.id = se.type_id
WHERE se.unique_identifier = $1`, Tables.EntityTable, Tables.SchemaTable)
	err := s.db.QueryRowContext(ctx, query, uniqueIdentifier).
		Scan(&sensor.ID, &sensor.TypeName, &sensor.UniqueIdentifier, &sensor.Name, &sensor.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return Sensor{}, fmt.Errorf("sensor %q: %w", uniqueIdentifier, attrstore.ErrNotFound)
	}
	return sensor, err
}

// ListSensors returns all sensors, optionally narrowed to one type.
func (s *Service) ListSensors(ctx context.Context, typeName string) ([]Sensor, error) {
	query := fmt.Sprintf(`
SELECT se.id, t.name, se.unique_identifier, se.name, se.notes
FROM %s se
JOIN %s t ON t.id = se.type_id`, Tables.EntityTable, Tables.SchemaTable)
	var args []any
	if typeName != "" {
		query += "\nWHERE t.name = $1"
		args = append(args, typeName)
	}
	query += "\nORDER BY se.id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sensors := make([]Sensor, 0)
	for rows.Next() {
		var sensor Sensor
		if err := rows.Scan(&sensor.ID, &sensor.TypeName, &sensor.UniqueIdentifier, &sensor.Name, &sensor.Notes); err != nil {
			return nil, err
		}
		sensors = append(sensors, sensor)
	}
	return sensors, rows.Err()
}

// DeleteSensor removes a sensor, cascading to its readings and location
// history.
func (s *Service) DeleteSensor(ctx context.Context, uniqueIdentifier string) error {
	result, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE unique_identifier = $1`, Tables.EntityTable), uniqueIdentifier)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("sensor %q: %w", uniqueIdentifier, attrstore.ErrNotFound)
	}
	return nil
}

// InsertReadings stores a batch of readings for one (sensor, measure) pair.
// The measure must belong to the sensor's type, and raw values are parsed
// against the measure's declared datatype. The batch is all-or-nothing.
func (s *Service) InsertReadings(ctx context.Context, uniqueIdentifier, measureName string, raw []any, timestamps []time.Time) error {
	if len(raw) != len(timestamps) {
		return &attrstore.LengthMismatchError{Values: len(raw), Timestamps: len(timestamps)}
	}
	sensor, err := s.SensorByIdentifier(ctx, uniqueIdentifier)
	if err != nil {
		return err
	}
	measure, err := s.typeMeasure(ctx, sensor.TypeName, measureName)
	if err != nil {
		return err
	}
	values := make([]attrstore.Value, len(raw))
	for i, rawValue := range raw {
		values[i], err = attrstore.ParseValue(measure.Datatype, rawValue)
		if err != nil {
			return fmt.Errorf("measure %q: %w", measureName, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.readings.InsertPoints(ctx, tx, sensor.ID, measure.ID, measure.Datatype, values, timestamps); err != nil {
		return err
	}
	return tx.Commit()
}

// Readings returns the readings of one (sensor, measure) pair within
// [from, to], both bounds inclusive, oldest first.
func (s *Service) Readings(ctx context.Context, uniqueIdentifier, measureName string, from, to time.Time) ([]attrstore.Point, error) {
	sensor, err := s.SensorByIdentifier(ctx, uniqueIdentifier)
	if err != nil {
		return nil, err
	}
	measure, err := s.typeMeasure(ctx, sensor.TypeName, measureName)
	if err != nil {
		return nil, err
	}
	return s.readings.QueryPoints(ctx, s.db, sensor.ID, measure.ID, measure.Datatype, from, to)
}

// Measure resolves a measure within the type of the named sensor.
func (s *Service) Measure(ctx context.Context, uniqueIdentifier, measureName string) (attrstore.Attribute, error) {
	sensor, err := s.SensorByIdentifier(ctx, uniqueIdentifier)
	if err != nil {
		return attrstore.Attribute{}, err
	}
	return s.typeMeasure(ctx, sensor.TypeName, measureName)
}

// typeMeasure resolves a measure name within the sensor type's measure set.
func (s *Service) typeMeasure(ctx context.Context, typeName, measureName string) (attrstore.Attribute, error) {
	sensorType, err := s.store.SchemaDetails(ctx, s.db, typeName)
	if err != nil {
		return attrstore.Attribute{}, err
	}
	for _, measure := range sensorType.Attributes {
		if measure.Name == measureName {
			return measure, nil
		}
	}
	return attrstore.Attribute{}, &attrstore.InvalidMeasureError{Measure: measureName, Subject: typeName}
}

// AssignLocation records that a sensor was installed at the location
// identified by its coordinates from the given time on. The installation
// time must be later than any already recorded for the sensor.
func (s *Service) AssignLocation(ctx context.Context, uniqueIdentifier, schemaName string, coordinates map[string]any, installedAt time.Time) error {
	if s.locations == nil {
		return errors.New("sensors: location assignment is not configured")
	}
	sensor, err := s.SensorByIdentifier(ctx, uniqueIdentifier)
	if err != nil {
		return err
	}
	locationID, err := s.locations.ResolveLocation(ctx, schemaName, coordinates)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var latest sql.NullTime
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(installed_at) FROM sensor_location WHERE sensor_id = $1`, sensor.ID).Scan(&latest)
	if err != nil {
		return err
	}
	if latest.Valid && !installedAt.UTC().After(latest.Time.UTC()) {
		return fmt.Errorf("sensors: installation at %s is not after the latest one at %s",
			installedAt.UTC().Format(time.RFC3339), latest.Time.UTC().Format(time.RFC3339))
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO sensor_location (sensor_id, location_id, installed_at)
VALUES ($1, $2, $3)`, sensor.ID, locationID, installedAt.UTC())
	if err != nil {
		return attrstore.TranslateUnique(err, "installation of sensor %q at %s",
			uniqueIdentifier, installedAt.UTC().Format(time.RFC3339))
	}
	return tx.Commit()
}

// LocationHistory returns the sensor's installations, newest first, with the
// coordinates of each location reconstructed from its schema.
func (s *Service) LocationHistory(ctx context.Context, uniqueIdentifier string) ([]Installation, error) {
	if s.locations == nil {
		return nil, errors.New("sensors: location assignment is not configured")
	}
	sensor, err := s.SensorByIdentifier(ctx, uniqueIdentifier)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT location_id, installed_at
FROM sensor_location
WHERE sensor_id = $1
ORDER BY installed_at DESC`, sensor.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]Installation, 0)
	for rows.Next() {
		var entry Installation
		if err := rows.Scan(&entry.LocationID, &entry.InstalledAt); err != nil {
			return nil, err
		}
		history = append(history, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range history {
		record, schemaName, err := s.locations.Location(ctx, history[i].LocationID)
		if err != nil {
			return nil, err
		}
		history[i].SchemaName = schemaName
		history[i].Coordinates = record.Values
	}
	return history, nil
}
