package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	apihttp "twinhub/internal/api/http"
	"twinhub/internal/attrstore"
	"twinhub/internal/locations"
)

// Handler serves location endpoints under /api/v1/location/.
type Handler struct {
	service *locations.Service
	logger  *log.Logger
}

// NewHandler constructs a Handler.
func NewHandler(service *locations.Service, logger *log.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("location handler: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{service: service, logger: logger}, nil
}

// ServeHTTP routes location requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/api/v1/location/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	op := strings.TrimPrefix(r.URL.Path, "/api/v1/location/")

	switch {
	case op == "insert-location" && r.Method == http.MethodPost:
		h.handleInsertLocation(w, r)
	case op == "insert-location-for-schema" && r.Method == http.MethodPost:
		h.handleInsertLocationForSchema(w, r)
	case op == "insert-location-schema" && r.Method == http.MethodPost:
		h.handleInsertSchema(w, r)
	case op == "insert-location-identifier" && r.Method == http.MethodPost:
		h.handleInsertIdentifier(w, r)
	case op == "list-locations" && (r.Method == http.MethodGet || r.Method == http.MethodPost):
		h.handleListLocations(w, r)
	case op == "list-location-schemas" && r.Method == http.MethodGet:
		h.handleListSchemas(w, r)
	case op == "list-location-identifiers" && r.Method == http.MethodGet:
		h.handleListIdentifiers(w, r)
	case op == "get-schema-details" && r.Method == http.MethodGet:
		h.handleSchemaDetails(w, r)
	case op == "get-location" && r.Method == http.MethodGet:
		h.handleGetLocation(w, r)
	case op == "delete-location" && r.Method == http.MethodPost:
		h.handleDeleteLocation(w, r)
	case op == "delete-location-schema" && r.Method == http.MethodPost:
		h.handleDeleteSchema(w, r)
	case op == "delete-location-identifier" && r.Method == http.MethodPost:
		h.handleDeleteIdentifier(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleInsertLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifiers []locations.IdentifierValue `json:"identifiers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	id, schemaName, err := h.service.InsertLocation(r.Context(), req.Identifiers)
	if err != nil {
		apihttp.WriteError(w, h.logger, "insert location", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusCreated, map[string]any{"id": id, "schema_name": schemaName})
}

func (h *Handler) handleInsertLocationForSchema(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SchemaName string         `json:"schema_name"`
		Values     map[string]any `json:"values"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.SchemaName == "" {
		http.Error(w, "schema_name is required", http.StatusBadRequest)
		return
	}
	id, err := h.service.InsertLocationForSchema(r.Context(), req.SchemaName, req.Values)
	if err != nil {
		apihttp.WriteError(w, h.logger, "insert location for schema", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *Handler) handleInsertSchema(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Identifiers []string `json:"identifiers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Name == "" || len(req.Identifiers) == 0 {
		http.Error(w, "name and identifiers are required", http.StatusBadRequest)
		return
	}
	id, err := h.service.CreateSchema(r.Context(), req.Name, req.Description, req.Identifiers)
	if err != nil {
		apihttp.WriteError(w, h.logger, "insert location schema", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *Handler) handleInsertIdentifier(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Unit     string `json:"unit"`
		Datatype string `json:"datatype"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	datatype, err := attrstore.ParseDatatype(req.Datatype)
	if err != nil {
		apihttp.WriteError(w, h.logger, "insert location identifier", err)
		return
	}
	id, err := h.service.RegisterIdentifier(r.Context(), req.Name, req.Unit, datatype)
	if err != nil {
		apihttp.WriteError(w, h.logger, "insert location identifier", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *Handler) handleListLocations(w http.ResponseWriter, r *http.Request) {
	schemaName := r.URL.Query().Get("schema_name")
	var filters map[string]any
	if r.Method == http.MethodPost {
		var req struct {
			SchemaName string         `json:"schema_name"`
			Filters    map[string]any `json:"filters"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		schemaName = req.SchemaName
		filters = req.Filters
	}
	if schemaName == "" {
		http.Error(w, "schema_name is required", http.StatusBadRequest)
		return
	}
	records, err := h.service.ListLocations(r.Context(), schemaName, filters)
	if err != nil {
		apihttp.WriteError(w, h.logger, "list locations", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, records)
}

func (h *Handler) handleListSchemas(w http.ResponseWriter, r *http.Request) {
	schemas, err := h.service.ListSchemas(r.Context())
	if err != nil {
		apihttp.WriteError(w, h.logger, "list location schemas", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, schemas)
}

func (h *Handler) handleListIdentifiers(w http.ResponseWriter, r *http.Request) {
	identifiers, err := h.service.ListIdentifiers(r.Context())
	if err != nil {
		apihttp.WriteError(w, h.logger, "list location identifiers", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, identifiers)
}

func (h *Handler) handleSchemaDetails(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("schema_name")
	if name == "" {
		http.Error(w, "schema_name is required", http.StatusBadRequest)
		return
	}
	schema, err := h.service.SchemaDetails(r.Context(), name)
	if err != nil {
		apihttp.WriteError(w, h.logger, "get schema details", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, schema)
}

func (h *Handler) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		http.Error(w, "id must be an integer", http.StatusBadRequest)
		return
	}
	record, schemaName, err := h.service.Location(r.Context(), id)
	if err != nil {
		apihttp.WriteError(w, h.logger, "get location", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, map[string]any{
		"id":          record.EntityID,
		"schema_name": schemaName,
		"values":      record.Values,
	})
}

func (h *Handler) handleDeleteLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SchemaName string         `json:"schema_name"`
		Values     map[string]any `json:"values"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.SchemaName == "" {
		http.Error(w, "schema_name is required", http.StatusBadRequest)
		return
	}
	if err := h.service.DeleteLocation(r.Context(), req.SchemaName, req.Values); err != nil {
		apihttp.WriteError(w, h.logger, "delete location", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteSchema(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := h.service.DeleteSchema(r.Context(), req.Name); err != nil {
		apihttp.WriteError(w, h.logger, "delete location schema", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteIdentifier(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := h.service.DeleteIdentifier(r.Context(), req.Name); err != nil {
		apihttp.WriteError(w, h.logger, "delete location identifier", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
