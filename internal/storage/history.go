package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"vitalwatch/internal/models"
)

// ErrEmptyDSN is returned when the alert history is opened without a DSN
var ErrEmptyDSN = errors.New("empty SQLite DSN")

// AlertHistory appends emitted alerts to a SQLite table.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
type AlertHistory struct {
	db *sql.DB
}

// OpenAlertHistory opens the database and ensures the schema exists.
func OpenAlertHistory(dsn string) (*AlertHistory, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrEmptyDSN
	}

	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// :memory: databases are per-connection
	db.SetMaxOpenConns(1)

	h := &AlertHistory{db: db}
	if err := h.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return h, nil
}

func (h *AlertHistory) ensureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS alert_history(
		recorded_at TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
		patient_id INTEGER NOT NULL,
		condition TEXT NOT NULL,
		rule TEXT NOT NULL,
		category TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);`
	if _, err := h.db.ExecContext(ctx, stmt); err != nil {
		return err
	}
	_, err := h.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS alert_history_patient ON alert_history(patient_id, timestamp);`)
	return err
}

// Publish records one alert.
func (h *AlertHistory) Publish(ctx context.Context, alert models.Alert) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO alert_history(recorded_at, patient_id, condition, rule, category, timestamp)
		VALUES(?, ?, ?, ?, ?, ?);`,
		time.Now().UTC(), alert.PatientID, alert.Condition, alert.Rule, string(alert.Category), alert.Timestamp)
	return err
}

// List returns up to limit recorded alerts for a patient, newest first.
func (h *AlertHistory) List(ctx context.Context, patientID int, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT patient_id, condition, rule, category, timestamp
		FROM alert_history
		WHERE patient_id = ?
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?;`, patientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		var (
			a        models.Alert
			category string
		)
		if err := rows.Scan(&a.PatientID, &a.Condition, &a.Rule, &category, &a.Timestamp); err != nil {
			return nil, err
		}
		a.Category = models.Category(category)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Close closes the database
func (h *AlertHistory) Close() error {
	if h.db != nil {
		return h.db.Close()
	}
	return nil
}
