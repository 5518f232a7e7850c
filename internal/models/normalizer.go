package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SupportedTimestampFormats lists textual formats we accept in addition to
// epoch milliseconds
var SupportedTimestampFormats = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// canonicalKinds maps lower-cased kind names to their canonical spelling.
// Only letter case is fixed: any other label is kept as sent so rules
// ignore it.
var canonicalKinds = map[string]Kind{
	"systolic":        KindSystolic,
	"diastolic":       KindDiastolic,
	"bloodsaturation": KindBloodSaturation,
	"ecg":             KindECG,
	"manualalert":     KindManualAlert,
}

// NormalizeKind trims the kind and fixes the case of recognized names.
// Unknown kinds are only trimmed.
func NormalizeKind(raw string) Kind {
	raw = strings.TrimSpace(raw)
	if k, ok := canonicalKinds[strings.ToLower(raw)]; ok {
		return k
	}
	return Kind(raw)
}

// Normalize rewrites the kind to its canonical spelling
func (m *Measurement) Normalize() {
	m.Kind = NormalizeKind(string(m.Kind))
}

// ParseTimestamp accepts epoch milliseconds or one of the supported textual
// formats and returns epoch milliseconds.
func ParseTimestamp(ts string) (int64, error) {
	ts = strings.TrimSpace(ts)

	if ms, err := strconv.ParseInt(ts, 10, 64); err == nil {
		if ms <= 0 {
			return 0, ErrInvalidTimestamp
		}
		return ms, nil
	}

	for _, format := range SupportedTimestampFormats {
		if t, err := time.Parse(format, ts); err == nil {
			return t.UTC().UnixMilli(), nil
		}
	}

	return 0, ErrInvalidTimestamp
}

// ParseRecordLine parses the file format `patientId,value,kind,timestamp`.
func ParseRecordLine(line string) (Measurement, error) {
	parts, err := splitLine(line)
	if err != nil {
		return Measurement{}, err
	}
	return build(parts[0], parts[1], parts[2], parts[3])
}

// ParseStreamLine parses the simulator stream format
// `patientId,timestamp,label,value`.
func ParseStreamLine(line string) (Measurement, error) {
	parts, err := splitLine(line)
	if err != nil {
		return Measurement{}, err
	}
	return build(parts[0], parts[3], parts[2], parts[1])
}

func splitLine(line string) ([]string, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("%w: expected 4 fields, got %d", ErrMalformedLine, len(parts))
	}
	return parts, nil
}

func build(id, value, kind, ts string) (Measurement, error) {
	patientID, err := strconv.Atoi(strings.TrimSpace(id))
	if err != nil {
		return Measurement{}, fmt.Errorf("%w: patient id: %v", ErrMalformedLine, err)
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return Measurement{}, fmt.Errorf("%w: value: %v", ErrMalformedLine, err)
	}

	timestamp, err := ParseTimestamp(ts)
	if err != nil {
		return Measurement{}, fmt.Errorf("timestamp: %w", err)
	}

	m := Measurement{
		PatientID: patientID,
		Value:     v,
		Kind:      NormalizeKind(kind),
		Timestamp: timestamp,
	}
	if err := m.Validate(); err != nil {
		return Measurement{}, err
	}
	return m, nil
}
