package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"vitalwatch/internal/metrics"
	"vitalwatch/internal/models"
)

// IngestHandler accepts measurements over HTTP and queues them for the
// worker pool
type IngestHandler struct {
	// Channel drained by the worker pool into the record store
	measurementChan chan<- models.Measurement

	// Max body size (default 10MB)
	maxBodySize int64
}

// IngestConfig holds configuration for the ingest handler
type IngestConfig struct {
	MeasurementChan chan<- models.Measurement
	MaxBodySize     int64
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(cfg IngestConfig) *IngestHandler {
	maxBodySize := cfg.MaxBodySize
	if maxBodySize == 0 {
		maxBodySize = 10 * 1024 * 1024 // 10MB default
	}

	return &IngestHandler{
		measurementChan: cfg.MeasurementChan,
		maxBodySize:     maxBodySize,
	}
}

// IngestRequest is the batch form of the payload
type IngestRequest struct {
	Measurements []models.MeasurementInput `json:"measurements"`
}

// IngestResponse is the response returned to clients
type IngestResponse struct {
	Success  bool          `json:"success"`
	Accepted int           `json:"accepted"`
	Rejected int           `json:"rejected"`
	Errors   []IngestError `json:"errors,omitempty"`
}

// IngestError describes a validation error for a specific measurement
type IngestError struct {
	Index     int    `json:"index"`
	PatientID int    `json:"patient_id"`
	Error     string `json:"error"`
}

// ServeHTTP handles the ingest HTTP request
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Only accept POST
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// Check content type
	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" && contentType != "" {
		writeError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}

	// Limit body size
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	inputs, err := parseBody(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if len(inputs) == 0 {
		writeError(w, http.StatusBadRequest, "no measurements provided")
		return
	}
	metrics.IngestBatchSize.Observe(float64(len(inputs)))

	response := h.processMeasurements(inputs)

	status := http.StatusOK
	if response.Rejected > 0 && response.Accepted == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, response)
}

// parseBody accepts {"measurements":[...]}, a bare array or a single object
func parseBody(body []byte) ([]models.MeasurementInput, error) {
	var req IngestRequest
	if err := json.Unmarshal(body, &req); err == nil && req.Measurements != nil {
		return req.Measurements, nil
	}

	var batch []models.MeasurementInput
	if err := json.Unmarshal(body, &batch); err == nil {
		return batch, nil
	}

	// Single object; field errors are reported per item
	var single models.MeasurementInput
	if err := json.Unmarshal(body, &single); err == nil {
		return []models.MeasurementInput{single}, nil
	}

	return nil, fmt.Errorf("invalid JSON format: expected measurement object or array of measurements")
}

// processMeasurements validates each input and pushes it to the channel
func (h *IngestHandler) processMeasurements(inputs []models.MeasurementInput) IngestResponse {
	response := IngestResponse{
		Errors: make([]IngestError, 0),
	}

	reject := func(i int, in models.MeasurementInput, err error) {
		response.Errors = append(response.Errors, IngestError{
			Index:     i,
			PatientID: in.PatientID,
			Error:     err.Error(),
		})
		response.Rejected++
		metrics.IngestMeasurementsTotal.WithLabelValues("http", "rejected").Inc()
	}

	for i, input := range inputs {
		m, err := input.ToMeasurement()
		if err != nil {
			metrics.IngestValidationErrors.WithLabelValues(errorType(err)).Inc()
			reject(i, input, err)
			continue
		}

		// Non-blocking send
		select {
		case h.measurementChan <- m:
			response.Accepted++
			metrics.IngestMeasurementsTotal.WithLabelValues("http", "accepted").Inc()
		default:
			reject(i, input, errQueueFull)
		}
	}

	response.Success = response.Rejected == 0
	return response
}

var errQueueFull = errors.New("internal queue full, try again later")

// errorType maps a validation error to a metric label
func errorType(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidPatientID):
		return "patient_id"
	case errors.Is(err, models.ErrEmptyKind):
		return "kind"
	case errors.Is(err, models.ErrInvalidTimestamp):
		return "timestamp"
	case errors.Is(err, models.ErrInvalidValue):
		return "value"
	default:
		return "other"
	}
}

// writeJSON writes v as a JSON response
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
