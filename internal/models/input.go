package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// MeasurementInput is the JSON form accepted by the HTTP and Kafka
// ingestion paths. The kind may arrive as "kind", "type" or "label", and
// the timestamp as epoch milliseconds or a quoted string.
type MeasurementInput struct {
	PatientID int             `json:"patient_id"`
	Value     float64         `json:"value"`
	Kind      string          `json:"kind,omitempty"`
	Type      string          `json:"type,omitempty"`
	Label     string          `json:"label,omitempty"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// ToMeasurement converts, normalizes and validates the input.
func (in MeasurementInput) ToMeasurement() (Measurement, error) {
	kind := in.Kind
	if kind == "" {
		kind = in.Type
	}
	if kind == "" {
		kind = in.Label
	}

	ts, err := in.timestamp()
	if err != nil {
		return Measurement{}, fmt.Errorf("timestamp: %w", err)
	}

	m := Measurement{
		PatientID: in.PatientID,
		Value:     in.Value,
		Kind:      Kind(kind),
		Timestamp: ts,
	}
	m.Normalize()

	if err := m.Validate(); err != nil {
		return Measurement{}, err
	}
	return m, nil
}

func (in MeasurementInput) timestamp() (int64, error) {
	if len(in.Timestamp) == 0 {
		return 0, ErrInvalidTimestamp
	}
	raw := string(in.Timestamp)
	if raw[0] == '"' {
		s, err := strconv.Unquote(raw)
		if err != nil {
			return 0, ErrInvalidTimestamp
		}
		raw = s
	}
	return ParseTimestamp(raw)
}
