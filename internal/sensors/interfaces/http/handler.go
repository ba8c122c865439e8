package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	apihttp "twinhub/internal/api/http"
	"twinhub/internal/attrstore"
	"twinhub/internal/observability/metrics"
	"twinhub/internal/sensors"
	"twinhub/internal/sensors/interfaces"
)

const timeLayout = time.RFC3339

// Handler serves sensor endpoints under /api/v1/sensor/.
type Handler struct {
	service *sensors.Service
	logger  *log.Logger
}

// NewHandler constructs a Handler.
func NewHandler(service *sensors.Service, logger *log.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("sensor handler: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{service: service, logger: logger}, nil
}

// ServeHTTP routes sensor requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/api/v1/sensor/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	op := strings.TrimPrefix(r.URL.Path, "/api/v1/sensor/")

	switch {
	case op == "insert-sensor-measure" && r.Method == http.MethodPost:
		h.handleInsertMeasure(w, r)
	case op == "list-sensor-measures" && r.Method == http.MethodGet:
		h.handleListMeasures(w, r)
	case op == "delete-sensor-measure" && r.Method == http.MethodPost:
		h.handleDeleteMeasure(w, r)
	case op == "insert-sensor-type" && r.Method == http.MethodPost:
		h.handleInsertType(w, r)
	case op == "list-sensor-types" && r.Method == http.MethodGet:
		h.handleListTypes(w, r)
	case op == "get-type-details" && r.Method == http.MethodGet:
		h.handleTypeDetails(w, r)
	case op == "delete-sensor-type" && r.Method == http.MethodPost:
		h.handleDeleteType(w, r)
	case op == "insert-sensor" && r.Method == http.MethodPost:
		h.handleInsertSensor(w, r)
	case op == "list-sensors" && r.Method == http.MethodGet:
		h.handleListSensors(w, r)
	case op == "delete-sensor" && r.Method == http.MethodPost:
		h.handleDeleteSensor(w, r)
	case op == "insert-sensor-readings" && r.Method == http.MethodPost:
		h.handleInsertReadings(w, r)
	case op == "sensor-readings" && r.Method == http.MethodGet:
		h.handleReadings(w, r)
	case op == "readings-export.xlsx" && r.Method == http.MethodGet:
		h.handleReadingsExport(w, r, "xlsx")
	case op == "readings-export.pdf" && r.Method == http.MethodGet:
		h.handleReadingsExport(w, r, "pdf")
	case op == "insert-sensor-location" && r.Method == http.MethodPost:
		h.handleAssignLocation(w, r)
	case op == "list-sensor-locations" && r.Method == http.MethodGet:
		h.handleLocationHistory(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
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
		apihttp.WriteError(w, h.logger, "insert sensor measure", err)
		return
	}
	id, err := h.service.RegisterMeasure(r.Context(), req.Name, req.Unit, datatype)
	if err != nil {
		apihttp.WriteError(w, h.logger, "insert sensor measure", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *Handler) handleListMeasures(w http.ResponseWriter, r *http.Request) {
	measures, err := h.service.ListMeasures(r.Context())
	if err != nil {
		apihttp.WriteError(w, h.logger, "list sensor measures", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, measures)
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
		apihttp.WriteError(w, h.logger, "delete sensor measure", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleInsertType(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Measures    []string `json:"measures"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Name == "" || len(req.Measures) == 0 {
		http.Error(w, "name and measures are required", http.StatusBadRequest)
		return
	}
	id, err := h.service.InsertType(r.Context(), req.Name, req.Description, req.Measures)
	if err != nil {
		apihttp.WriteError(w, h.logger, "insert sensor type", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *Handler) handleListTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.service.ListTypes(r.Context())
	if err != nil {
		apihttp.WriteError(w, h.logger, "list sensor types", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, types)
}

func (h *Handler) handleTypeDetails(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("type_name")
	if name == "" {
		http.Error(w, "type_name is required", http.StatusBadRequest)
		return
	}
	details, err := h.service.TypeDetails(r.Context(), name)
	if err != nil {
		apihttp.WriteError(w, h.logger, "get type details", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, details)
}

func (h *Handler) handleDeleteType(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := h.service.DeleteType(r.Context(), req.Name); err != nil {
		apihttp.WriteError(w, h.logger, "delete sensor type", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleInsertSensor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TypeName         string `json:"type_name"`
		UniqueIdentifier string `json:"unique_identifier"`
		Name             string `json:"name"`
		Notes            string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.TypeName == "" || req.UniqueIdentifier == "" {
		http.Error(w, "type_name and unique_identifier are required", http.StatusBadRequest)
		return
	}
	id, err := h.service.InsertSensor(r.Context(), req.TypeName, req.UniqueIdentifier, req.Name, req.Notes)
	if err != nil {
		apihttp.WriteError(w, h.logger, "insert sensor", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *Handler) handleListSensors(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListSensors(r.Context(), r.URL.Query().Get("type_name"))
	if err != nil {
		apihttp.WriteError(w, h.logger, "list sensors", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleDeleteSensor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UniqueIdentifier string `json:"unique_identifier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := h.service.DeleteSensor(r.Context(), req.UniqueIdentifier); err != nil {
		apihttp.WriteError(w, h.logger, "delete sensor", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleInsertReadings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UniqueIdentifier string   `json:"unique_identifier"`
		MeasureName      string   `json:"measure_name"`
		Readings         []any    `json:"readings"`
		Timestamps       []string `json:"timestamps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.UniqueIdentifier == "" || req.MeasureName == "" {
		http.Error(w, "unique_identifier and measure_name are required", http.StatusBadRequest)
		return
	}
	timestamps := make([]time.Time, len(req.Timestamps))
	for i, raw := range req.Timestamps {
		parsed, err := time.Parse(timeLayout, raw)
		if err != nil {
			http.Error(w, "timestamps must be RFC3339", http.StatusBadRequest)
			return
		}
		timestamps[i] = parsed.UTC()
	}
	start := time.Now()
	if err := h.service.InsertReadings(r.Context(), req.UniqueIdentifier, req.MeasureName, req.Readings, timestamps); err != nil {
		metrics.ObserveReadingsIngest(metrics.ResultError, 0, time.Since(start))
		apihttp.WriteError(w, h.logger, "insert sensor readings", err)
		return
	}
	metrics.ObserveReadingsIngest(metrics.ResultSuccess, len(req.Readings), time.Since(start))
	apihttp.WriteJSON(w, http.StatusCreated, map[string]any{"inserted": len(req.Readings)})
}

func (h *Handler) handleReadings(w http.ResponseWriter, r *http.Request) {
	params, ok := parseReadingParams(w, r)
	if !ok {
		return
	}
	points, err := h.service.Readings(r.Context(), params.uniqueIdentifier, params.measureName, params.from, params.to)
	if err != nil {
		apihttp.WriteError(w, h.logger, "sensor readings", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, points)
}

func (h *Handler) handleReadingsExport(w http.ResponseWriter, r *http.Request, format string) {
	params, ok := parseReadingParams(w, r)
	if !ok {
		return
	}
	start := time.Now()
	sensor, err := h.service.SensorByIdentifier(r.Context(), params.uniqueIdentifier)
	if err != nil {
		metrics.ObserveReadingsExport(format, metrics.ResultError, time.Since(start))
		apihttp.WriteError(w, h.logger, "readings export", err)
		return
	}
	measure, err := h.service.Measure(r.Context(), params.uniqueIdentifier, params.measureName)
	if err != nil {
		metrics.ObserveReadingsExport(format, metrics.ResultError, time.Since(start))
		apihttp.WriteError(w, h.logger, "readings export", err)
		return
	}
	points, err := h.service.Readings(r.Context(), params.uniqueIdentifier, params.measureName, params.from, params.to)
	if err != nil {
		metrics.ObserveReadingsExport(format, metrics.ResultError, time.Since(start))
		apihttp.WriteError(w, h.logger, "readings export", err)
		return
	}

	var payload []byte
	var contentType string
	switch format {
	case "xlsx":
		payload, err = interfaces.BuildReadingsXLSX(sensor, measure, points)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		payload, err = interfaces.BuildReadingsPDF(sensor, measure, points)
		contentType = "application/pdf"
	}
	if err != nil {
		metrics.ObserveReadingsExport(format, metrics.ResultError, time.Since(start))
		apihttp.WriteError(w, h.logger, "readings export", err)
		return
	}
	metrics.ObserveReadingsExport(format, metrics.ResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(payload)
}

type readingParams struct {
	uniqueIdentifier string
	measureName      string
	from, to         time.Time
}

func parseReadingParams(w http.ResponseWriter, r *http.Request) (readingParams, bool) {
	params := readingParams{
		uniqueIdentifier: r.URL.Query().Get("unique_identifier"),
		measureName:      r.URL.Query().Get("measure_name"),
	}
	if params.uniqueIdentifier == "" || params.measureName == "" {
		http.Error(w, "unique_identifier and measure_name are required", http.StatusBadRequest)
		return readingParams{}, false
	}
	var err error
	if params.from, err = parseTimeQuery(r, "from"); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return readingParams{}, false
	}
	if params.to, err = parseTimeQuery(r, "to"); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return readingParams{}, false
	}
	return params, true
}

func (h *Handler) handleAssignLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UniqueIdentifier string         `json:"unique_identifier"`
		SchemaName       string         `json:"schema_name"`
		Coordinates      map[string]any `json:"coordinates"`
		InstalledAt      string         `json:"installed_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.UniqueIdentifier == "" || req.SchemaName == "" {
		http.Error(w, "unique_identifier and schema_name are required", http.StatusBadRequest)
		return
	}
	installedAt, err := time.Parse(timeLayout, req.InstalledAt)
	if err != nil {
		http.Error(w, "installed_at must be RFC3339", http.StatusBadRequest)
		return
	}
	if err := h.service.AssignLocation(r.Context(), req.UniqueIdentifier, req.SchemaName, req.Coordinates, installedAt.UTC()); err != nil {
		apihttp.WriteError(w, h.logger, "insert sensor location", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleLocationHistory(w http.ResponseWriter, r *http.Request) {
	uniqueIdentifier := r.URL.Query().Get("unique_identifier")
	if uniqueIdentifier == "" {
		http.Error(w, "unique_identifier is required", http.StatusBadRequest)
		return
	}
	history, err := h.service.LocationHistory(r.Context(), uniqueIdentifier)
	if err != nil {
		apihttp.WriteError(w, h.logger, "list sensor locations", err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, history)
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
