// Package storage holds per-patient measurement history in memory and
// persists alert history.
//
// The Store is safe for concurrent writers and readers. Appends take a
// per-patient lock; reads copy one patient's records under that lock, so a
// read started after an append always observes it. No consistency across
// patients is offered.
package storage

import (
	"sort"
	"sync"

	"vitalwatch/internal/models"
)

// history is the append-only record list of one patient
type history struct {
	mu      sync.RWMutex
	records []models.Measurement
}

// Store maps patient IDs to their measurement history. Patients are
// created on first measurement and never removed.
type Store struct {
	mu       sync.RWMutex
	patients map[int]*history
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{patients: make(map[int]*history)}
}

// AddMeasurement appends a measurement to the patient's history, creating
// the patient if absent. Values and kinds are accepted as-is.
func (s *Store) AddMeasurement(patientID int, value float64, kind models.Kind, timestamp int64) {
	s.Add(models.Measurement{
		PatientID: patientID,
		Value:     value,
		Kind:      kind,
		Timestamp: timestamp,
	})
}

// Add appends a single measurement.
func (s *Store) Add(m models.Measurement) {
	h := s.getOrCreate(m.PatientID)

	h.mu.Lock()
	h.records = append(h.records, m)
	h.mu.Unlock()
}

// AddBatch appends measurements in order. Consecutive measurements for the
// same patient share one lock acquisition.
func (s *Store) AddBatch(batch []models.Measurement) {
	for i := 0; i < len(batch); {
		j := i + 1
		for j < len(batch) && batch[j].PatientID == batch[i].PatientID {
			j++
		}

		h := s.getOrCreate(batch[i].PatientID)
		h.mu.Lock()
		h.records = append(h.records, batch[i:j]...)
		h.mu.Unlock()

		i = j
	}
}

// getOrCreate returns the patient's history, creating it atomically if absent
func (s *Store) getOrCreate(patientID int) *history {
	s.mu.RLock()
	h, ok := s.patients[patientID]
	s.mu.RUnlock()
	if ok {
		return h
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// another writer may have created it between the two locks
	if h, ok = s.patients[patientID]; ok {
		return h
	}
	h = &history{}
	s.patients[patientID] = h
	return h
}

func (s *Store) lookup(patientID int) (*history, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.patients[patientID]
	return h, ok
}

// GetMeasurements returns the patient's measurements with
// start <= timestamp <= end, in insertion order. The result is an
// independent copy. Unknown patients yield an empty slice.
func (s *Store) GetMeasurements(patientID int, start, end int64) []models.Measurement {
	h, ok := s.lookup(patientID)
	if !ok {
		return []models.Measurement{}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]models.Measurement, 0, len(h.records))
	for _, m := range h.records {
		if m.Timestamp >= start && m.Timestamp <= end {
			out = append(out, m)
		}
	}
	return out
}

// Snapshot returns a copy of the patient's full history.
func (s *Store) Snapshot(patientID int) []models.Measurement {
	h, ok := s.lookup(patientID)
	if !ok {
		return []models.Measurement{}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]models.Measurement, len(h.records))
	copy(out, h.records)
	return out
}

// Len returns the number of measurements held for a patient.
func (s *Store) Len(patientID int) int {
	h, ok := s.lookup(patientID)
	if !ok {
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// PatientIDs returns the currently known patient IDs in ascending order.
func (s *Store) PatientIDs() []int {
	s.mu.RLock()
	ids := make([]int, 0, len(s.patients))
	for id := range s.patients {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Ints(ids)
	return ids
}

// Stats returns store-wide counts. Counts are summed patient by patient and
// are not a single consistent snapshot.
func (s *Store) Stats() Stats {
	var st Stats
	for _, id := range s.PatientIDs() {
		st.Patients++
		st.Measurements += s.Len(id)
	}
	return st
}

// Stats holds store counts
type Stats struct {
	Patients     int `json:"patients"`
	Measurements int `json:"measurements"`
}
