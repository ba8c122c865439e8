// Package services manages callable external services: named HTTP endpoints,
// reusable parameter sets for them, and a log of every invocation.
package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"twinhub/internal/attrstore"
)

// Definition is one registered external service.
type Definition struct {
	Name       string `json:"name"`
	URL        string `json:"url"`
	HTTPMethod string `json:"http_method"`
}

// ParameterSet is a named, reusable request body for one service.
type ParameterSet struct {
	ServiceName string          `json:"service_name"`
	Name        string          `json:"name"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Run is one logged invocation of a service.
type Run struct {
	ID                 int64           `json:"id"`
	ServiceName        string          `json:"service_name"`
	ParameterSetName   string          `json:"parameter_set_name,omitempty"`
	Parameters         json.RawMessage `json:"parameters,omitempty"`
	ResponseStatusCode int             `json:"response_status_code"`
	ResponseBody       json.RawMessage `json:"response_body,omitempty"`
	Timestamp          time.Time       `json:"timestamp"`
}

// Registry handles service registration, parameter sets and invocation.
type Registry struct {
	db     *sql.DB
	client *http.Client
	logger *log.Logger
}

// NewRegistry constructs the registry. A nil client gets a default with a
// 30 second timeout.
func NewRegistry(db *sql.DB, client *http.Client, logger *log.Logger) (*Registry, error) {
	if db == nil {
		return nil, errors.New("service registry: nil db")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{db: db, client: client, logger: logger}, nil
}

// DDL returns idempotent CREATE TABLE statements for the registry.
func DDL() []string {
	return []string{`
CREATE TABLE IF NOT EXISTS service (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	url TEXT NOT NULL,
	http_method TEXT NOT NULL DEFAULT 'POST',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, `
CREATE TABLE IF NOT EXISTS service_parameter_set (
	id BIGSERIAL PRIMARY KEY,
	service_id BIGINT NOT NULL REFERENCES service (id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	parameters JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (service_id, name)
)`, `
CREATE TABLE IF NOT EXISTS service_run (
	id BIGSERIAL PRIMARY KEY,
	service_id BIGINT NOT NULL REFERENCES service (id) ON DELETE CASCADE,
	parameter_set_id BIGINT REFERENCES service_parameter_set (id) ON DELETE SET NULL,
	parameters JSONB,
	response_status INTEGER NOT NULL,
	response_body JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`}
}

// InsertService registers an external service endpoint. The HTTP method
// defaults to POST.
func (r *Registry) InsertService(ctx context.Context, name, url, method string) error {
	if name == "" || url == "" {
		return errors.New("services: name and url are required")
	}
	if method == "" {
		method = http.MethodPost
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO service (name, url, http_method) VALUES ($1, $2, $3)`, name, url, method)
	return attrstore.TranslateUnique(err, "service %q", name)
}

// ListServices returns all registered services in insertion order.
func (r *Registry) ListServices(ctx context.Context) ([]Definition, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, url, http_method FROM service ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]Definition, 0)
	for rows.Next() {
		var def Definition
		if err := rows.Scan(&def.Name, &def.URL, &def.HTTPMethod); err != nil {
			return nil, err
		}
		list = append(list, def)
	}
	return list, rows.Err()
}

// DeleteService removes a service; its parameter sets and run log entries go
// with it.
func (r *Registry) DeleteService(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM service WHERE name = $1`, name)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("service %q: %w", name, attrstore.ErrNotFound)
	}
	return nil
}

func (r *Registry) serviceByName(ctx context.Context, name string) (id int64, def Definition, err error) {
	err = r.db.QueryRowContext(ctx,
		`SELECT id, name, url, http_method FROM service WHERE name = $1`, name).
		Scan(&id, &def.Name, &def.URL, &def.HTTPMethod)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, Definition{}, fmt.Errorf("service %q: %w", name, attrstore.ErrNotFound)
	}
	return id, def, err
}

// InsertParameterSet stores a named parameter set for a service.
func (r *Registry) InsertParameterSet(ctx context.Context, serviceName, name string, parameters json.RawMessage) error {
	if name == "" {
		return errors.New("services: parameter set name is required")
	}
	if len(parameters) == 0 || !json.Valid(parameters) {
		return errors.New("services: parameters must be valid json")
	}
	serviceID, _, err := r.serviceByName(ctx, serviceName)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO service_parameter_set (service_id, name, parameters) VALUES ($1, $2, $3)`,
		serviceID, name, []byte(parameters))
	return attrstore.TranslateUnique(err, "parameter set %q of service %q", name, serviceName)
}

// EditParameterSet replaces the parameters of an existing set.
func (r *Registry) EditParameterSet(ctx context.Context, serviceName, name string, parameters json.RawMessage) error {
	if len(parameters) == 0 || !json.Valid(parameters) {
		return errors.New("services: parameters must be valid json")
	}
	serviceID, _, err := r.serviceByName(ctx, serviceName)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE service_parameter_set SET parameters = $3 WHERE service_id = $1 AND name = $2`,
		serviceID, name, []byte(parameters))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("parameter set %q of service %q: %w", name, serviceName, attrstore.ErrNotFound)
	}
	return nil
}

// DeleteParameterSet removes one named parameter set of a service. Other
// sets of the same service are untouched.
func (r *Registry) DeleteParameterSet(ctx context.Context, serviceName, name string) error {
	serviceID, _, err := r.serviceByName(ctx, serviceName)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM service_parameter_set WHERE service_id = $1 AND name = $2`, serviceID, name)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("parameter set %q of service %q: %w", name, serviceName, attrstore.ErrNotFound)
	}
	return nil
}

// ListParameterSets returns parameter sets, optionally restricted to one
// service.
func (r *Registry) ListParameterSets(ctx context.Context, serviceName string) ([]ParameterSet, error) {
	query := `
SELECT s.name, p.name, p.parameters
FROM service_parameter_set p
JOIN service s ON s.id = p.service_id`
	var args []any
	if serviceName != "" {
		if _, _, err := r.serviceByName(ctx, serviceName); err != nil {
			return nil, err
		}
		query += ` WHERE s.name = $1`
		args = append(args, serviceName)
	}
	query += ` ORDER BY p.id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]ParameterSet, 0)
	for rows.Next() {
		var set ParameterSet
		var raw []byte
		if err := rows.Scan(&set.ServiceName, &set.Name, &raw); err != nil {
			return nil, err
		}
		set.Parameters = json.RawMessage(raw)
		list = append(list, set)
	}
	return list, rows.Err()
}

// RunService invokes a service and logs the outcome. Parameters come either
// inline or from a named parameter set, never both; with neither, the
// request is sent without a body. The run is logged whatever status the
// service answers with.
func (r *Registry) RunService(ctx context.Context, serviceName, parameterSetName string, parameters json.RawMessage) (Run, error) {
	if parameterSetName != "" && len(parameters) > 0 {
		return Run{}, errors.New("services: supply parameters or a parameter set name, not both")
	}
	if len(parameters) > 0 && !json.Valid(parameters) {
		return Run{}, errors.New("services: parameters must be valid json")
	}

	serviceID, def, err := r.serviceByName(ctx, serviceName)
	if err != nil {
		return Run{}, err
	}

	var setID sql.NullInt64
	if parameterSetName != "" {
		var raw []byte
		err := r.db.QueryRowContext(ctx, `
SELECT id, parameters
FROM service_parameter_set
WHERE service_id = $1 AND name = $2`, serviceID, parameterSetName).Scan(&setID.Int64, &raw)
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, fmt.Errorf("parameter set %q of service %q: %w", parameterSetName, serviceName, attrstore.ErrNotFound)
		}
		if err != nil {
			return Run{}, err
		}
		setID.Valid = true
		parameters = json.RawMessage(raw)
	}

	status, body, err := r.invoke(ctx, def, parameters)
	if err != nil {
		return Run{}, fmt.Errorf("service %q: %w", serviceName, err)
	}

	run := Run{
		ServiceName:        serviceName,
		ParameterSetName:   parameterSetName,
		Parameters:         parameters,
		ResponseStatusCode: status,
		Timestamp:          time.Now().UTC(),
	}
	if json.Valid(body) {
		run.ResponseBody = json.RawMessage(body)
	}

	var storedParams, storedBody any
	if len(run.Parameters) > 0 {
		storedParams = []byte(run.Parameters)
	}
	if len(run.ResponseBody) > 0 {
		storedBody = []byte(run.ResponseBody)
	}
	err = r.db.QueryRowContext(ctx, `
INSERT INTO service_run (service_id, parameter_set_id, parameters, response_status, response_body, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`, serviceID, setID, storedParams, run.ResponseStatusCode, storedBody, run.Timestamp).Scan(&run.ID)
	if err != nil {
		return Run{}, err
	}
	return run, nil
}

func (r *Registry) invoke(ctx context.Context, def Definition, parameters json.RawMessage) (int, []byte, error) {
	var reqBody io.Reader
	if len(parameters) > 0 {
		reqBody = bytes.NewReader(parameters)
	}
	req, err := http.NewRequestWithContext(ctx, def.HTTPMethod, def.URL, reqBody)
	if err != nil {
		return 0, nil, err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

// ListRuns returns logged invocations, newest last, optionally restricted to
// one service and further to one of its parameter sets. A parameter set
// filter requires a service filter.
func (r *Registry) ListRuns(ctx context.Context, serviceName, parameterSetName string) ([]Run, error) {
	if parameterSetName != "" && serviceName == "" {
		return nil, errors.New("services: a parameter set filter requires a service name")
	}

	query := `
SELECT r.id, s.name, COALESCE(p.name, ''), r.parameters, r.response_status, r.response_body, r.created_at
FROM service_run r
JOIN service s ON s.id = r.service_id
LEFT JOIN service_parameter_set p ON p.id = r.parameter_set_id`
	var args []any
	if serviceName != "" {
		if _, _, err := r.serviceByName(ctx, serviceName); err != nil {
			return nil, err
		}
		query += ` WHERE s.name = $1`
		args = append(args, serviceName)
		if parameterSetName != "" {
			query += ` AND p.name = $2`
			args = append(args, parameterSetName)
		}
	}
	query += ` ORDER BY r.id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]Run, 0)
	for rows.Next() {
		var run Run
		var params, body []byte
		if err := rows.Scan(&run.ID, &run.ServiceName, &run.ParameterSetName,
			&params, &run.ResponseStatusCode, &body, &run.Timestamp); err != nil {
			return nil, err
		}
		run.Parameters = json.RawMessage(params)
		run.ResponseBody = json.RawMessage(body)
		list = append(list, run)
	}
	return list, rows.Err()
}
