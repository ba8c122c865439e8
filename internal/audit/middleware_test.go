package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"twinhub/internal/auth"
)

type captureLogger struct {
	entries []Entry
}

func (c *captureLogger) Log(_ context.Context, entry Entry) error {
	c.entries = append(c.entries, entry)
	return nil
}

func TestMiddlewareRecordsMutation(t *testing.T) {
	sink := &captureLogger{}
	handler := Middleware(sink, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sensor/insert-sensor", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.RoleOperator, "user@example.com"))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if len(sink.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(sink.entries))
	}
	entry := sink.entries[0]
	if entry.Actor != "user@example.com" || entry.Role != "operator" {
		t.Fatalf("identity not recorded: %+v", entry)
	}
	if entry.Action != "insert-sensor" || entry.Status != http.StatusCreated {
		t.Fatalf("action or status wrong: %+v", entry)
	}
}

func TestMiddlewareSkipsReads(t *testing.T) {
	sink := &captureLogger{}
	handler := Middleware(sink, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sensor/list-sensors", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if len(sink.entries) != 0 {
		t.Fatalf("read request audited: %+v", sink.entries)
	}
}

func TestMiddlewareSkipsNonAPIPaths(t *testing.T) {
	sink := &captureLogger{}
	handler := Middleware(sink, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if len(sink.entries) != 0 {
		t.Fatalf("auth request audited: %+v", sink.entries)
	}
}
