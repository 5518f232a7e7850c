package handlers

import (
	"context"
	"math"
	"net/http"
	"strconv"

	"vitalwatch/internal/alerts"
	"vitalwatch/internal/logger"
	"vitalwatch/internal/models"
)

// PatientStore is the read side of the record store used by the query API
type PatientStore interface {
	alerts.SnapshotReader
	PatientIDs() []int
	GetMeasurements(patientID int, start, end int64) []models.Measurement
}

// AlertHistoryReader returns a patient's persisted alerts, newest first
type AlertHistoryReader interface {
	List(ctx context.Context, patientID int, limit int) ([]models.Alert, error)
}

// PatientsHandler serves the patient query endpoints
type PatientsHandler struct {
	store   PatientStore
	engine  *alerts.Engine
	history AlertHistoryReader
}

// NewPatientsHandler creates the patient query handler
func NewPatientsHandler(store PatientStore, engine *alerts.Engine) *PatientsHandler {
	return &PatientsHandler{store: store, engine: engine}
}

// WithHistory enables the alert history endpoint
func (h *PatientsHandler) WithHistory(history AlertHistoryReader) *PatientsHandler {
	h.history = history
	return h
}

// Register mounts the handler's routes on mux
func (h *PatientsHandler) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	mux.Handle("GET /patients", wrap(http.HandlerFunc(h.List)))
	mux.Handle("GET /patients/{id}/measurements", wrap(http.HandlerFunc(h.Measurements)))
	mux.Handle("GET /patients/{id}/alerts", wrap(http.HandlerFunc(h.Alerts)))
	mux.Handle("GET /patients/{id}/alerts/history", wrap(http.HandlerFunc(h.History)))
}

// PatientsResponse lists known patient IDs
type PatientsResponse struct {
	Patients []int `json:"patients"`
}

// MeasurementsResponse holds one patient's records for a time range
type MeasurementsResponse struct {
	PatientID    int                  `json:"patient_id"`
	Start        int64                `json:"start"`
	End          int64                `json:"end"`
	Measurements []models.Measurement `json:"measurements"`
}

// AlertsResponse holds the alerts a fresh evaluation produced
type AlertsResponse struct {
	PatientID int            `json:"patient_id"`
	Alerts    []models.Alert `json:"alerts"`
}

// List handles GET /patients
func (h *PatientsHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, PatientsResponse{Patients: h.store.PatientIDs()})
}

// Measurements handles GET /patients/{id}/measurements?start=&end=.
// Bounds are inclusive epoch milliseconds and default to the full range.
func (h *PatientsHandler) Measurements(w http.ResponseWriter, r *http.Request) {
	id, ok := patientID(w, r)
	if !ok {
		return
	}

	start, err := queryInt(r, "start", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start")
		return
	}
	end, err := queryInt(r, "end", math.MaxInt64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end")
		return
	}

	writeJSON(w, http.StatusOK, MeasurementsResponse{
		PatientID:    id,
		Start:        start,
		End:          end,
		Measurements: h.store.GetMeasurements(id, start, end),
	})
}

// Alerts handles GET /patients/{id}/alerts. The patient is evaluated on
// demand and alerts are returned without reaching the configured sinks.
func (h *PatientsHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	id, ok := patientID(w, r)
	if !ok {
		return
	}

	collected := &alerts.CollectSink{}
	h.engine.EvaluateTo(id, h.store.Snapshot(id), collected)

	writeJSON(w, http.StatusOK, AlertsResponse{PatientID: id, Alerts: collected.Alerts()})
}

// History handles GET /patients/{id}/alerts/history?limit=. It returns
// 404 when no alert history is configured.
func (h *PatientsHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "alert history disabled")
		return
	}
	id, ok := patientID(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil || limit < 0 || limit > math.MaxInt32 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	found, err := h.history.List(r.Context(), id, int(limit))
	if err != nil {
		log := logger.WithPatient(id)
		log.Error().Err(err).Msg("alert history query failed")
		writeError(w, http.StatusInternalServerError, "alert history unavailable")
		return
	}
	if found == nil {
		found = []models.Alert{}
	}
	writeJSON(w, http.StatusOK, AlertsResponse{PatientID: id, Alerts: found})
}

func patientID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id < 0 {
		writeError(w, http.StatusBadRequest, "invalid patient id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int64) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
