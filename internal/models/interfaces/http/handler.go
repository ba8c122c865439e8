package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	apihttp "twinhub/internal/api/http"
	"twinhub/internal/attrstore"
	"twinhub/internal/models"
	"twinhub/internal/observability/metrics"
)

const timeLayout = time.RFC3339

// Handler serves model endpoints under /api/v1/model/.
type Handler struct {
	service *models.Service
	logger  *log.Logger
}

// NewHandler constructs a Handler.
func NewHandler(service *models.Service, logger *log.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("model handler: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{service: service, logger: logger}, nil
}

// ServeHTTP routes model requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/api/v1/model/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	op := strings.TrimPrefix(r.URL.Path, "/api/v1/model/")

	switch {
	case op == "insert-model" && r.Method == http.MethodPost:
		h.handleInsertModel(w, r)
	case op == "list-models" && r.Method == http.MethodGet:
		h.handleListModels(w, r)
	case op == "delete-model" && r.Method == http.MethodPost:
		h.handleDeleteModel(w, r)
	case op == "insert-model-scenario" && r.Method == http.MethodPost:
		h.handleInsertScenario(w, r)
	case op == "list-model-scenarios" && r.Method == http.MethodGet:
		h.handleListScenarios(w, r)
	case op == "delete-model-scenario" && r.Method == http.MethodPost:
		h.handleDeleteScenario(w, r)
	case op == "insert-model-measure" && r.Method == http.MethodPost:
		h.handleInsertMeasure(w, r)
	case op == "list-model-measures" && r.Method == http.MethodGet:
		h.handleListMeasures(w, r)
	case op == "delete-model-measure" && r.Method == http.MethodPost:
		h.handleDeleteMeasure(w, r)
	case op == "insert-model-run" && r.Method == http.MethodPost:
		h.handleInsertRun(w, r)
	case op == "list-model-runs" && r.Method == http.MethodGet:
		h.handleListRuns(w, r)
	case op == "get-model-run" && r.Method == http.MethodGet:
		h.handleRunResults(w, r)
	case op == "get-model-run-sensor-measure" && r.Method == http.MethodGet:
		h.handleRunSensorMeasure(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleInsertModel(w http.ResponseWriter, r *http.Request) {
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
	id, err := h.service.InsertModel(r.Context(), req.Name)
	if err != nil {
		apihttp.WriteError(w, h.logger, "insert model", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListModels(r.Context())
	if err != nil {
		apihttp.WriteError(w, h.logger, "list models", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := h.service.DeleteModel(r.Context(), req.Name); err != nil {
		apihttp.WriteError(w, h.logger, "delete model", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleInsertScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ModelName   string `json:"model_name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.ModelName == "" || req.Description == "" {
		http.Error(w, "model_name and description are required", http.StatusBadRequest)
		return
	}
	id, err := h.service.InsertScenario(r.Context(), req.ModelName, req.Description)
	if err != nil {
		apihttp.WriteError(w, h.logger, "insert model scenario", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *Handler) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListScenarios(r.Context(), r.URL.Query().Get("model_name"))
	if err != nil {
		apihttp.WriteError(w, h.logger, "list model scenarios", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleDeleteScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ModelName   string `json:"model_name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := h.service.DeleteScenario(r.Context(), req.ModelName, req.Description); err != nil {
		apihttp.WriteError(w, h.logger, "delete model scenario", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleInsertMeasure(w http.ResponseWriter, r *http.Request) {
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
		apihttp.WriteError(w, h.logger, "insert model measure", err)
		return
	}
	id, err := h.service.RegisterMeasure(r.Context(), req.Name, req.Unit, datatype)
	if err != nil {
		apihttp.WriteError(w, h.logger, "insert model measure", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *Handler) handleListMeasures(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListMeasures(r.Context())
	if err != nil {
		apihttp.WriteError(w, h.logger, "list model measures", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleDeleteMeasure(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := h.service.DeleteMeasure(r.Context(), req.Name); err != nil {
		apihttp.WriteError(w, h.logger, "delete model measure", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleInsertRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ModelName           string               `json:"model_name"`
		ScenarioDescription string               `json:"scenario_description"`
		Timestamp           string               `json:"timestamp"`
		Products            []models.ProductData `json:"products"`
		SensorLink          *models.SensorLink   `json:"sensor_link"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.ModelName == "" {
		http.Error(w, "model_name is required", http.StatusBadRequest)
		return
	}
	var timestamp time.Time
	if req.Timestamp != "" {
		parsed, err := time.Parse(timeLayout, req.Timestamp)
		if err != nil {
			http.Error(w, "timestamp must be RFC3339", http.StatusBadRequest)
			return
		}
		timestamp = parsed.UTC()
	}
	start := time.Now()
	id, err := h.service.InsertRun(r.Context(), req.ModelName, req.ScenarioDescription, timestamp, req.Products, req.SensorLink)
	if err != nil {
		metrics.ObserveModelRunInsert(metrics.ResultError, time.Since(start))
		apihttp.WriteError(w, h.logger, "insert model run", err)
		return
	}
	metrics.ObserveModelRunInsert(metrics.ResultSuccess, time.Since(start))
	apihttp.WriteJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	modelName := r.URL.Query().Get("model_name")
	if modelName == "" {
		http.Error(w, "model_name is required", http.StatusBadRequest)
		return
	}
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	runs, err := h.service.ListRuns(r.Context(), modelName, from, to)
	if err != nil {
		apihttp.WriteError(w, h.logger, "list model runs", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, runs)
}

func (h *Handler) handleRunResults(w http.ResponseWriter, r *http.Request) {
	runID, err := strconv.ParseInt(r.URL.Query().Get("run_id"), 10, 64)
	if err != nil {
		http.Error(w, "run_id must be an integer", http.StatusBadRequest)
		return
	}
	if measureName := r.URL.Query().Get("measure_name"); measureName != "" {
		points, err := h.service.RunResultsForMeasure(r.Context(), runID, measureName)
		if err != nil {
			apihttp.WriteError(w, h.logger, "get model run", err)
			return
		}
		apihttp.WriteJSON(w, http.StatusOK, points)
		return
	}
	results, err := h.service.RunResults(r.Context(), runID)
	if err != nil {
		apihttp.WriteError(w, h.logger, "get model run", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, results)
}

func (h *Handler) handleRunSensorMeasure(w http.ResponseWriter, r *http.Request) {
	runID, err := strconv.ParseInt(r.URL.Query().Get("run_id"), 10, 64)
	if err != nil {
		http.Error(w, "run_id must be an integer", http.StatusBadRequest)
		return
	}
	run, err := h.service.Run(r.Context(), runID)
	if err != nil {
		apihttp.WriteError(w, h.logger, "get model run sensor measure", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, map[string]any{
		"unique_identifier": run.SensorIdentifier,
		"measure_name":      run.SensorMeasure,
	})
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}
