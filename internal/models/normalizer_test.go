package models_test

import (
	"errors"
	"testing"

	"vitalwatch/internal/models"
)

func TestNormalizeKind(t *testing.T) {
	tests := []struct {
		in   string
		want models.Kind
	}{
		{"  systolic ", models.KindSystolic},
		{"DIASTOLIC", models.KindDiastolic},
		{"bloodSATURATION", models.KindBloodSaturation},
		{"ecg", models.KindECG},
		{"manualalert", models.KindManualAlert},
		{"Saturation", "Saturation"},
		{"Alert", "Alert"},
		{" WhiteBloodCells ", "WhiteBloodCells"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := models.NormalizeKind(tt.in); got != tt.want {
				t.Errorf("NormalizeKind(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{"epoch millis", "1714376789050", 1714376789050, false},
		{"with whitespace", "  1714376789050 ", 1714376789050, false},
		{"RFC3339", "2024-01-15T10:30:00Z", 1705314600000, false},
		{"datetime with space", "2024-01-15 10:30:00", 1705314600000, false},
		{"zero", "0", 0, true},
		{"invalid", "not-a-timestamp", 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := models.ParseTimestamp(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTimestamp(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseTimestamp(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseRecordLine(t *testing.T) {
	m, err := models.ParseRecordLine("12, 185.0, Systolic, 1714376789050")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := models.Measurement{PatientID: 12, Value: 185, Kind: models.KindSystolic, Timestamp: 1714376789050}
	if m != want {
		t.Errorf("got %+v, want %+v", m, want)
	}
}

func TestParseStreamLine(t *testing.T) {
	m, err := models.ParseStreamLine("3,1714376789050,BloodSaturation,94.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := models.Measurement{PatientID: 3, Value: 94, Kind: models.KindBloodSaturation, Timestamp: 1714376789050}
	if m != want {
		t.Errorf("got %+v, want %+v", m, want)
	}
}

func TestParseLineErrors(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr error
	}{
		{"too few fields", "1,2,3", models.ErrMalformedLine},
		{"bad id", "x,120,Systolic,1714376789050", models.ErrMalformedLine},
		{"bad value", "1,abc,Systolic,1714376789050", models.ErrMalformedLine},
		{"bad timestamp", "1,120,Systolic,soon", models.ErrInvalidTimestamp},
		{"negative id", "-4,120,Systolic,1714376789050", models.ErrInvalidPatientID},
		{"empty kind", "1,120, ,1714376789050", models.ErrEmptyKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := models.ParseRecordLine(tt.line)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseRecordLine(%q) error = %v, want %v", tt.line, err, tt.wantErr)
			}
		})
	}
}
