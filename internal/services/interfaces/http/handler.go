package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	apihttp "twinhub/internal/api/http"
	"twinhub/internal/services"
)

// Handler serves the service registry endpoints under /api/v1/service/.
type Handler struct {
	registry *services.Registry
	logger   *log.Logger
}

// NewHandler constructs a Handler.
func NewHandler(registry *services.Registry, logger *log.Logger) (*Handler, error) {
	if registry == nil {
		return nil, errors.New("service handler: nil registry")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{registry: registry, logger: logger}, nil
}

// ServeHTTP routes service registry requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/api/v1/service/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	op := strings.TrimPrefix(r.URL.Path, "/api/v1/service/")

	switch {
	case op == "insert-service" && r.Method == http.MethodPost:
		h.handleInsertService(w, r)
	case op == "list-services" && r.Method == http.MethodGet:
		h.handleListServices(w, r)
	case op == "delete-service" && r.Method == http.MethodPost:
		h.handleDeleteService(w, r)
	case op == "insert-parameter-set" && r.Method == http.MethodPost:
		h.handleInsertParameterSet(w, r)
	case op == "edit-parameter-set" && r.Method == http.MethodPost:
		h.handleEditParameterSet(w, r)
	case op == "delete-parameter-set" && r.Method == http.MethodPost:
		h.handleDeleteParameterSet(w, r)
	case op == "list-parameter-sets" && r.Method == http.MethodGet:
		h.handleListParameterSets(w, r)
	case op == "run-service" && r.Method == http.MethodPost:
		h.handleRunService(w, r)
	case op == "list-service-runs" && r.Method == http.MethodGet:
		h.handleListRuns(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleInsertService(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string `json:"name"`
		URL        string `json:"url"`
		HTTPMethod string `json:"http_method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.URL == "" {
		http.Error(w, "name and url are required", http.StatusBadRequest)
		return
	}
	if err := h.registry.InsertService(r.Context(), req.Name, req.URL, req.HTTPMethod); err != nil {
		apihttp.WriteError(w, h.logger, "insert service", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleListServices(w http.ResponseWriter, r *http.Request) {
	list, err := h.registry.ListServices(r.Context())
	if err != nil {
		apihttp.WriteError(w, h.logger, "list services", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	if err := h.registry.DeleteService(r.Context(), req.Name); err != nil {
		apihttp.WriteError(w, h.logger, "delete service", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleInsertParameterSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServiceName string          `json:"service_name"`
		Name        string          `json:"name"`
		Parameters  json.RawMessage `json:"parameters"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.ServiceName == "" || req.Name == "" || len(req.Parameters) == 0 {
		http.Error(w, "service_name, name and parameters are required", http.StatusBadRequest)
		return
	}
	if err := h.registry.InsertParameterSet(r.Context(), req.ServiceName, req.Name, req.Parameters); err != nil {
		apihttp.WriteError(w, h.logger, "insert parameter set", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleEditParameterSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServiceName string          `json:"service_name"`
		Name        string          `json:"name"`
		Parameters  json.RawMessage `json:"parameters"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.ServiceName == "" || req.Name == "" || len(req.Parameters) == 0 {
		http.Error(w, "service_name, name and parameters are required", http.StatusBadRequest)
		return
	}
	if err := h.registry.EditParameterSet(r.Context(), req.ServiceName, req.Name, req.Parameters); err != nil {
		apihttp.WriteError(w, h.logger, "edit parameter set", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteParameterSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServiceName string `json:"service_name"`
		Name        string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.ServiceName == "" || req.Name == "" {
		http.Error(w, "service_name and name are required", http.StatusBadRequest)
		return
	}
	if err := h.registry.DeleteParameterSet(r.Context(), req.ServiceName, req.Name); err != nil {
		apihttp.WriteError(w, h.logger, "delete parameter set", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListParameterSets(w http.ResponseWriter, r *http.Request) {
	list, err := h.registry.ListParameterSets(r.Context(), r.URL.Query().Get("service"))
	if err != nil {
		apihttp.WriteError(w, h.logger, "list parameter sets", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleRunService(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServiceName      string          `json:"service_name"`
		ParameterSetName string          `json:"parameter_set_name"`
		Parameters       json.RawMessage `json:"parameters"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.ServiceName == "" {
		http.Error(w, "service_name is required", http.StatusBadRequest)
		return
	}
	if req.ParameterSetName != "" && len(req.Parameters) > 0 {
		http.Error(w, "supply parameters or parameter_set_name, not both", http.StatusBadRequest)
		return
	}
	run, err := h.registry.RunService(r.Context(), req.ServiceName, req.ParameterSetName, req.Parameters)
	if err != nil {
		apihttp.WriteError(w, h.logger, "run service", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, run)
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	serviceName := query.Get("service")
	setName := query.Get("parameter_set")
	if setName != "" && serviceName == "" {
		http.Error(w, "parameter_set filter requires service", http.StatusBadRequest)
		return
	}
	list, err := h.registry.ListRuns(r.Context(), serviceName, setName)
	if err != nil {
		apihttp.WriteError(w, h.logger, "list service runs", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, list)
}
