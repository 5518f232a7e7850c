package models

import (
	"errors"
	"math"
	"strings"
)

// Kind tags the physiological signal a measurement carries
type Kind string

const (
	KindSystolic        Kind = "Systolic"
	KindDiastolic       Kind = "Diastolic"
	KindBloodSaturation Kind = "BloodSaturation"
	KindECG             Kind = "ECG"
	KindManualAlert     Kind = "ManualAlert"
)

// Measurement is one timestamped health signal value for a patient.
// Values are immutable once created; the store only ever copies them.
type Measurement struct {
	PatientID int     `json:"patient_id"`
	Value     float64 `json:"value"`
	Kind      Kind    `json:"kind"`

	// Milliseconds since the Unix epoch
	Timestamp int64 `json:"timestamp"`
}

// Validation errors
var (
	ErrInvalidPatientID = errors.New("patient ID cannot be negative")
	ErrEmptyKind        = errors.New("measurement kind cannot be empty")
	ErrInvalidTimestamp = errors.New("timestamp must be positive epoch milliseconds")
	ErrInvalidValue     = errors.New("measurement value must be finite")
	ErrMalformedLine    = errors.New("malformed measurement line")
)

// Is reports whether k names the same kind as other, ignoring case.
func (k Kind) Is(other Kind) bool {
	return strings.EqualFold(string(k), string(other))
}

// IsRecognized reports whether any rule consumes this kind. Unrecognized
// kinds are still accepted and stored.
func (k Kind) IsRecognized() bool {
	switch {
	case k.Is(KindSystolic), k.Is(KindDiastolic), k.Is(KindBloodSaturation), k.Is(KindECG), k.Is(KindManualAlert):
		return true
	default:
		return false
	}
}

// Validate checks the fields an ingestion adapter must guarantee before
// handing a measurement to the store.
func (m *Measurement) Validate() error {
	if m.PatientID < 0 {
		return ErrInvalidPatientID
	}

	if m.Kind == "" {
		return ErrEmptyKind
	}

	if m.Timestamp <= 0 {
		return ErrInvalidTimestamp
	}

	if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
		return ErrInvalidValue
	}

	return nil
}
