package services_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"twinhub/internal/attrstore"
	"twinhub/internal/services"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func setupRegistry(t *testing.T) *services.Registry {
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

	ctx := context.Background()
	for _, stmt := range services.DDL() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("ddl: %v", err)
		}
	}
	t.Cleanup(func() {
		for _, table := range []string{"service_run", "service_parameter_set", "service"} {
			_, _ = db.Exec("DROP TABLE IF EXISTS " + table + " CASCADE")
		}
	})

	registry, err := services.NewRegistry(db, nil, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return registry
}

func TestServiceRegistryLifecycle(t *testing.T) {
	registry := setupRegistry(t)
	ctx := context.Background()

	var lastBody []byte
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true}`))
	}))
	defer target.Close()

	if err := registry.InsertService(ctx, "forecast", target.URL, ""); err != nil {
		t.Fatalf("insert service: %v", err)
	}
	if err := registry.InsertService(ctx, "forecast", target.URL, "GET"); !errors.Is(err, attrstore.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	list, err := registry.ListServices(ctx)
	if err != nil {
		t.Fatalf("list services: %v", err)
	}
	if len(list) != 1 || list[0].Name != "forecast" || list[0].HTTPMethod != "POST" {
		t.Fatalf("unexpected services: %+v", list)
	}

	params := json.RawMessage(`{"horizon_hours": 24}`)
	if err := registry.InsertParameterSet(ctx, "forecast", "daily", params); err != nil {
		t.Fatalf("insert parameter set: %v", err)
	}
	if err := registry.InsertParameterSet(ctx, "forecast", "daily", params); !errors.Is(err, attrstore.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if err := registry.InsertParameterSet(ctx, "forecast", "weekly", json.RawMessage(`{"horizon_hours": 168}`)); err != nil {
		t.Fatalf("insert second set: %v", err)
	}
	if err := registry.InsertParameterSet(ctx, "nope", "x", params); !errors.Is(err, attrstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := registry.EditParameterSet(ctx, "forecast", "daily", json.RawMessage(`{"horizon_hours": 48}`)); err != nil {
		t.Fatalf("edit parameter set: %v", err)
	}
	if err := registry.EditParameterSet(ctx, "forecast", "monthly", params); !errors.Is(err, attrstore.ErrNotFound) {
		t.Fatalf("edit missing set: expected ErrNotFound, got %v", err)
	}

	sets, err := registry.ListParameterSets(ctx, "forecast")
	if err != nil {
		t.Fatalf("list parameter sets: %v", err)
	}
	if len(sets) != 2 || sets[0].Name != "daily" || sets[1].Name != "weekly" {
		t.Fatalf("unexpected sets: %+v", sets)
	}

	// Deleting one set must leave the service's other sets alone.
	if err := registry.DeleteParameterSet(ctx, "forecast", "weekly"); err != nil {
		t.Fatalf("delete parameter set: %v", err)
	}
	sets, err = registry.ListParameterSets(ctx, "forecast")
	if err != nil {
		t.Fatalf("list parameter sets: %v", err)
	}
	if len(sets) != 1 || sets[0].Name != "daily" {
		t.Fatalf("expected only the daily set, got %+v", sets)
	}
	if err := registry.DeleteParameterSet(ctx, "forecast", "weekly"); !errors.Is(err, attrstore.ErrNotFound) {
		t.Fatalf("re-delete: expected ErrNotFound, got %v", err)
	}

	// Inline parameters.
	run, err := registry.RunService(ctx, "forecast", "", json.RawMessage(`{"horizon_hours": 6}`))
	if err != nil {
		t.Fatalf("run with inline parameters: %v", err)
	}
	if run.ResponseStatusCode != http.StatusOK {
		t.Fatalf("status: got %d", run.ResponseStatusCode)
	}
	if string(run.ResponseBody) != `{"ok": true}` {
		t.Fatalf("response body: got %s", run.ResponseBody)
	}
	if string(lastBody) != `{"horizon_hours": 6}` {
		t.Fatalf("target received %s", lastBody)
	}

	// Named parameter set.
	run, err = registry.RunService(ctx, "forecast", "daily", nil)
	if err != nil {
		t.Fatalf("run with parameter set: %v", err)
	}
	if run.ParameterSetName != "daily" {
		t.Fatalf("set name: got %q", run.ParameterSetName)
	}
	var sent struct {
		HorizonHours int `json:"horizon_hours"`
	}
	if err := json.Unmarshal(lastBody, &sent); err != nil || sent.HorizonHours != 48 {
		t.Fatalf("target received %s (err %v)", lastBody, err)
	}

	// Both at once is rejected, and nothing is logged for it.
	if _, err := registry.RunService(ctx, "forecast", "daily", json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected error for parameters and set name together")
	}
	if _, err := registry.RunService(ctx, "forecast", "monthly", nil); !errors.Is(err, attrstore.ErrNotFound) {
		t.Fatalf("unknown set: expected ErrNotFound, got %v", err)
	}

	runs, err := registry.ListRuns(ctx, "forecast", "")
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	runs, err = registry.ListRuns(ctx, "forecast", "daily")
	if err != nil {
		t.Fatalf("list runs by set: %v", err)
	}
	if len(runs) != 1 || runs[0].ParameterSetName != "daily" {
		t.Fatalf("unexpected filtered runs: %+v", runs)
	}
	if _, err := registry.ListRuns(ctx, "", "daily"); err == nil {
		t.Fatal("expected error for set filter without service filter")
	}

	if err := registry.DeleteService(ctx, "forecast"); err != nil {
		t.Fatalf("delete service: %v", err)
	}
	if err := registry.DeleteService(ctx, "forecast"); !errors.Is(err, attrstore.ErrNotFound) {
		t.Fatalf("re-delete: expected ErrNotFound, got %v", err)
	}
	if _, err := registry.ListRuns(ctx, "forecast", ""); !errors.Is(err, attrstore.ErrNotFound) {
		t.Fatalf("runs of deleted service: expected ErrNotFound, got %v", err)
	}
}

func TestRunServiceKeepsNonJSONResponseOut(t *testing.T) {
	registry := setupRegistry(t)
	ctx := context.Background()

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>upstream broke</html>"))
	}))
	defer target.Close()

	if err := registry.InsertService(ctx, "flaky", target.URL, http.MethodGet); err != nil {
		t.Fatalf("insert service: %v", err)
	}

	// A failing upstream is still a logged run, but a non-JSON body is not
	// stored.
	run, err := registry.RunService(ctx, "flaky", "", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.ResponseStatusCode != http.StatusBadGateway {
		t.Fatalf("status: got %d", run.ResponseStatusCode)
	}
	if len(run.ResponseBody) != 0 {
		t.Fatalf("expected no stored body, got %s", run.ResponseBody)
	}

	runs, err := registry.ListRuns(ctx, "flaky", "")
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ResponseStatusCode != http.StatusBadGateway {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}
