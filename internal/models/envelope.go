package models

import (
	"strconv"
	"time"
)

// Envelope wraps an Alert with delivery metadata for external transports
type Envelope struct {
	ID    string `json:"id"`
	Alert Alert  `json:"alert"`

	EmittedAt    time.Time `json:"emitted_at"`
	Node         string    `json:"node"`
	PartitionKey string    `json:"partition_key"`
}

// NewEnvelope creates a new envelope for an alert
func NewEnvelope(id string, alert Alert, node string) *Envelope {
	return &Envelope{
		ID:           id,
		Alert:        alert,
		EmittedAt:    time.Now().UTC(),
		Node:         node,
		PartitionKey: strconv.Itoa(alert.PatientID), // keep per-patient ordering
	}
}
