package attrstore

import (
	"context"
	"fmt"
	"time"
)

// SeriesConfig names the tables of one time-series attachment instance:
// typed, time-ordered values keyed by (subject, measure, timestamp), one
// physical table per datatype. Sensor readings and model products are both
// instances of this pattern.
type SeriesConfig struct {
	// TablePrefix and Suffix name the partitions,
	// <TablePrefix>_<datatype>_<Suffix>.
	TablePrefix string
	Suffix      string
	// SubjectTable is the table subjects live in (sensors, model products).
	SubjectTable string
	// SubjectColumn is the partition column referencing the subject.
	SubjectColumn string
	// MeasureTable is the attribute registry partitions reference. Empty
	// when points carry no measure dimension (model product values).
	MeasureTable string
}

// Series is one time-series attachment instance.
type Series struct {
	cfg SeriesConfig
}

// NewSeries constructs a series store for the given table layout.
func NewSeries(cfg SeriesConfig) *Series {
	if cfg.Suffix == "" {
		cfg.Suffix = "reading"
	}
	return &Series{cfg: cfg}
}

// Point is one (value, timestamp) pair of a series.
type Point struct {
	Value     Value     `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

func (se *Series) table(datatype Datatype) string {
	return fmt.Sprintf("%s_%s_%s", se.cfg.TablePrefix, datatype, se.cfg.Suffix)
}

// InsertPoints bulk-inserts a typed sequence of values with their
// timestamps. The batch is all-or-nothing: a duplicate
// (subject, measure, timestamp) triple fails the whole batch with
// ErrAlreadyExists, relying on the caller's transaction to discard the rest.
// Empty input is a no-op.
func (se *Series) InsertPoints(ctx context.Context, q Querier, subjectID, measureID int64, datatype Datatype, values []Value, timestamps []time.Time) error {
	if len(values) != len(timestamps) {
		return &LengthMismatchError{Values: len(values), Timestamps: len(timestamps)}
	}
	if len(values) == 0 {
		return nil
	}
	for _, value := range values {
		if value.Datatype() != datatype {
			return &DatatypeMismatchError{Expected: datatype, Actual: string(value.Datatype())}
		}
	}

	var insert string
	if se.cfg.MeasureTable != "" {
		insert = fmt.Sprintf(`
INSERT INTO %s (%s, measure_id, timestamp, value)
VALUES ($1, $2, $3, $4)`, se.table(datatype), se.cfg.SubjectColumn)
	} else {
		insert = fmt.Sprintf(`
INSERT INTO %s (%s, timestamp, value)
VALUES ($1, $2, $3)`, se.table(datatype), se.cfg.SubjectColumn)
	}

	for i, value := range values {
		var err error
		if se.cfg.MeasureTable != "" {
			_, err = q.ExecContext(ctx, insert, subjectID, measureID, timestamps[i].UTC(), value.Any())
		} else {
			_, err = q.ExecContext(ctx, insert, subjectID, timestamps[i].UTC(), value.Any())
		}
		if err != nil {
			return TranslateUnique(err, "point at %s for subject %d", timestamps[i].UTC().Format(time.RFC3339), subjectID)
		}
	}
	return nil
}

// QueryPoints returns the points of one (subject, measure) pair within
// [from, to], both bounds inclusive, ordered by timestamp ascending.
func (se *Series) QueryPoints(ctx context.Context, q Querier, subjectID, measureID int64, datatype Datatype, from, to time.Time) ([]Point, error) {
	var query string
	var args []any
	if se.cfg.MeasureTable != "" {
		query = fmt.Sprintf(`
SELECT value, timestamp
FROM %s
WHERE %s = $1 AND measure_id = $2 AND timestamp >= $3 AND timestamp <= $4
ORDER BY timestamp ASC`, se.table(datatype), se.cfg.SubjectColumn)
		args = []any{subjectID, measureID, from.UTC(), to.UTC()}
	} else {
		query = fmt.Sprintf(`
SELECT value, timestamp
FROM %s
WHERE %s = $1 AND timestamp >= $2 AND timestamp <= $3
ORDER BY timestamp ASC`, se.table(datatype), se.cfg.SubjectColumn)
		args = []any{subjectID, from.UTC(), to.UTC()}
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := make([]Point, 0)
	for rows.Next() {
		holder := newValueHolder(datatype)
		var ts time.Time
		if err := rows.Scan(holder.dest(), &ts); err != nil {
			return nil, err
		}
		points = append(points, Point{Value: holder.value(), Timestamp: ts})
	}
	return points, rows.Err()
}

// AllPoints returns every point of one (subject, measure) pair, oldest first.
func (se *Series) AllPoints(ctx context.Context, q Querier, subjectID, measureID int64, datatype Datatype) ([]Point, error) {
	begin := time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	return se.QueryPoints(ctx, q, subjectID, measureID, datatype, begin, end)
}

// DDL returns idempotent CREATE TABLE statements for the four partitions.
func (c SeriesConfig) DDL() []string {
	if c.Suffix == "" {
		c.Suffix = "reading"
	}
	stmts := make([]string, 0, len(Datatypes))
	for _, datatype := range Datatypes {
		table := fmt.Sprintf("%s_%s_%s", c.TablePrefix, datatype, c.Suffix)
		if c.MeasureTable != "" {
			stmts = append(stmts, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	%s BIGINT NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
	measure_id BIGINT NOT NULL REFERENCES %s (id),
	timestamp TIMESTAMPTZ NOT NULL,
	value %s NOT NULL,
	UNIQUE (measure_id, %s, timestamp)
)`, table, c.SubjectColumn, c.SubjectTable, c.MeasureTable, datatype.columnType(), c.SubjectColumn))
		} else {
			stmts = append(stmts, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	%s BIGINT NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
	timestamp TIMESTAMPTZ NOT NULL,
	value %s NOT NULL,
	UNIQUE (%s, timestamp)
)`, table, c.SubjectColumn, c.SubjectTable, datatype.columnType(), c.SubjectColumn))
		}
	}
	return stmts
}
