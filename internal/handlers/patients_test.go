package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalwatch/internal/alerts"
	"vitalwatch/internal/handlers"
	"vitalwatch/internal/models"
	"vitalwatch/internal/storage"
)

func newPatientsMux(t *testing.T) (*http.ServeMux, *storage.Store, *alerts.CollectSink) {
	t.Helper()
	store := storage.NewStore()
	store.AddMeasurement(1, 185, models.KindSystolic, 1000)
	store.AddMeasurement(1, 80, models.KindDiastolic, 2000)
	store.AddMeasurement(1, 95, models.KindBloodSaturation, 3000)
	store.AddMeasurement(4, 100, models.KindSystolic, 1000)

	global := &alerts.CollectSink{}
	mux := http.NewServeMux()
	handlers.NewPatientsHandler(store, alerts.NewEngine(global)).Register(mux, func(h http.Handler) http.Handler { return h })
	return mux, store, global
}

func get(t *testing.T, mux http.Handler, target string, v interface{}) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if v != nil && w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
	}
	return w.Code
}

func TestPatientsList(t *testing.T) {
	mux, _, _ := newPatientsMux(t)

	var resp handlers.PatientsResponse
	require.Equal(t, http.StatusOK, get(t, mux, "/patients", &resp))
	assert.Equal(t, []int{1, 4}, resp.Patients)
}

func TestPatientMeasurementsRange(t *testing.T) {
	mux, _, _ := newPatientsMux(t)

	var all handlers.MeasurementsResponse
	require.Equal(t, http.StatusOK, get(t, mux, "/patients/1/measurements", &all))
	assert.Len(t, all.Measurements, 3)

	var ranged handlers.MeasurementsResponse
	require.Equal(t, http.StatusOK, get(t, mux, "/patients/1/measurements?start=1000&end=2000", &ranged))
	require.Len(t, ranged.Measurements, 2)
	assert.Equal(t, models.KindDiastolic, ranged.Measurements[1].Kind)

	var unknown handlers.MeasurementsResponse
	require.Equal(t, http.StatusOK, get(t, mux, "/patients/99/measurements", &unknown))
	assert.NotNil(t, unknown.Measurements)
	assert.Empty(t, unknown.Measurements)
}

func TestPatientMeasurementsBadInput(t *testing.T) {
	mux, _, _ := newPatientsMux(t)

	assert.Equal(t, http.StatusBadRequest, get(t, mux, "/patients/abc/measurements", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, mux, "/patients/1/measurements?start=x", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, mux, "/patients/1/measurements?end=x", nil))
}

func TestPatientAlertsOnDemand(t *testing.T) {
	mux, _, global := newPatientsMux(t)

	var resp handlers.AlertsResponse
	require.Equal(t, http.StatusOK, get(t, mux, "/patients/1/alerts", &resp))

	require.Len(t, resp.Alerts, 1)
	assert.Equal(t, "Critical Systolic: 185.0", resp.Alerts[0].Condition)
	assert.Empty(t, global.Alerts(), "on-demand evaluation must not reach the engine sink")

	var none handlers.AlertsResponse
	require.Equal(t, http.StatusOK, get(t, mux, "/patients/4/alerts", &none))
	assert.Empty(t, none.Alerts)
}

func TestPatientAlertHistory(t *testing.T) {
	history, err := storage.OpenAlertHistory("sqlite://:memory:")
	require.NoError(t, err)
	defer history.Close()

	ctx := context.Background()
	for i, cond := range []string{"Manual Alert Triggered", "Critical Systolic: 185.0", "Low Saturation: 88.0"} {
		require.NoError(t, history.Publish(ctx, models.Alert{PatientID: 1, Condition: cond, Timestamp: int64(1000 + i)}))
	}

	store := storage.NewStore()
	mux := http.NewServeMux()
	handlers.NewPatientsHandler(store, alerts.NewEngine(&alerts.CollectSink{})).
		WithHistory(history).
		Register(mux, func(h http.Handler) http.Handler { return h })

	var resp handlers.AlertsResponse
	require.Equal(t, http.StatusOK, get(t, mux, "/patients/1/alerts/history?limit=2", &resp))
	require.Len(t, resp.Alerts, 2)
	assert.Equal(t, "Low Saturation: 88.0", resp.Alerts[0].Condition)
	assert.Equal(t, "Critical Systolic: 185.0", resp.Alerts[1].Condition)

	var empty handlers.AlertsResponse
	require.Equal(t, http.StatusOK, get(t, mux, "/patients/7/alerts/history", &empty))
	assert.NotNil(t, empty.Alerts)
	assert.Empty(t, empty.Alerts)

	assert.Equal(t, http.StatusBadRequest, get(t, mux, "/patients/1/alerts/history?limit=x", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, mux, "/patients/1/alerts/history?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, mux, "/patients/x/alerts/history", nil))
}

func TestPatientAlertHistoryDisabled(t *testing.T) {
	mux, _, _ := newPatientsMux(t)
	assert.Equal(t, http.StatusNotFound, get(t, mux, "/patients/1/alerts/history", nil))
}

type failingHistory struct{}

func (failingHistory) List(ctx context.Context, patientID int, limit int) ([]models.Alert, error) {
	return nil, errors.New("database is locked")
}

func TestPatientAlertHistoryError(t *testing.T) {
	mux := http.NewServeMux()
	handlers.NewPatientsHandler(storage.NewStore(), alerts.NewEngine(&alerts.CollectSink{})).
		WithHistory(failingHistory{}).
		Register(mux, func(h http.Handler) http.Handler { return h })

	assert.Equal(t, http.StatusInternalServerError, get(t, mux, "/patients/1/alerts/history", nil))
}
