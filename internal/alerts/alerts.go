// Package alerts evaluates patient measurement snapshots against a fixed
// battery of clinical rules and delivers the resulting alerts to a Sink.
//
// Rules are stateless: each call sees only the snapshot it is given, so an
// Engine may be used from many goroutines at once, for the same patient or
// different ones.
package alerts

import (
	"vitalwatch/internal/models"
)

// Emit reports one alert from inside a rule
type Emit func(condition string, timestamp int64)

// Rule is a pure function from one patient's snapshot to zero or more alerts.
type Rule struct {
	Name     string
	Category models.Category
	Check    func(records []models.Measurement, emit Emit)
}

// SnapshotReader provides a copy of one patient's full history.
type SnapshotReader interface {
	Snapshot(patientID int) []models.Measurement
}

// Engine runs every rule over a snapshot and calls the sink once per alert.
type Engine struct {
	rules []Rule
	sink  Sink
}

// Option configures an Engine
type Option func(*Engine)

// WithRules replaces the default rule battery.
func WithRules(rules ...Rule) Option {
	return func(e *Engine) { e.rules = rules }
}

// NewEngine creates an engine delivering to sink with the default rules.
// A nil sink discards alerts.
func NewEngine(sink Sink, opts ...Option) *Engine {
	if sink == nil {
		sink = Discard
	}

	e := &Engine{
		rules: DefaultRules(),
		sink:  sink,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rules returns the rule battery in evaluation order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate runs every rule over records and delivers alerts to the engine's
// sink. It returns the number of alerts delivered. Records are not modified.
func (e *Engine) Evaluate(patientID int, records []models.Measurement) int {
	return e.EvaluateTo(patientID, records, e.sink)
}

// EvaluateTo is Evaluate with an explicit sink.
func (e *Engine) EvaluateTo(patientID int, records []models.Measurement, sink Sink) int {
	count := 0
	for _, rule := range e.rules {
		rule.Check(records, func(condition string, timestamp int64) {
			count++
			sink.Send(models.Alert{
				PatientID: patientID,
				Condition: condition,
				Timestamp: timestamp,
				Rule:      rule.Name,
				Category:  rule.Category,
			})
		})
	}
	return count
}

// EvaluatePatient snapshots the patient from src and evaluates it.
func (e *Engine) EvaluatePatient(src SnapshotReader, patientID int) int {
	return e.Evaluate(patientID, src.Snapshot(patientID))
}
