// Package monitor drives periodic rule evaluation over every patient in
// the record store.
package monitor

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"vitalwatch/internal/alerts"
	"vitalwatch/internal/logger"
	"vitalwatch/internal/metrics"
	"vitalwatch/internal/storage"
)

// Source is the read side of the record store
type Source interface {
	alerts.SnapshotReader
	PatientIDs() []int
}

// Evaluator runs the alert engine over all patients, on demand or on a ticker
type Evaluator struct {
	source      Source
	engine      *alerts.Engine
	interval    time.Duration
	concurrency int

	passes atomic.Uint64
}

// Config holds evaluator configuration
type Config struct {
	Source      Source
	Engine      *alerts.Engine
	Interval    time.Duration
	Concurrency int
}

// NewEvaluator creates an evaluator. Interval defaults to 10s and
// Concurrency to 1.
func NewEvaluator(cfg Config) *Evaluator {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Evaluator{
		source:      cfg.Source,
		engine:      cfg.Engine,
		interval:    cfg.Interval,
		concurrency: cfg.Concurrency,
	}
}

// RunOnce evaluates every known patient and returns how many were
// evaluated. ctx is checked before each patient; a patient already being
// evaluated runs to completion.
func (e *Evaluator) RunOnce(ctx context.Context) int {
	start := time.Now()
	ids := e.source.PatientIDs()

	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup
	var evaluated, raised atomic.Int64

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(patientID int) {
			defer wg.Done()
			defer func() { <-sem }()
			if n, ok := e.evaluate(patientID); ok {
				evaluated.Add(1)
				raised.Add(int64(n))
			}
		}(id)
	}
	wg.Wait()

	e.passes.Add(1)
	e.observe(start)

	log := logger.WithComponent("evaluator")
	log.Debug().
		Int("patients", len(ids)).
		Int64("evaluated", evaluated.Load()).
		Int64("alerts", raised.Load()).
		Dur("duration", time.Since(start)).
		Msg("evaluation pass complete")

	return int(evaluated.Load())
}

// evaluate runs the engine for one patient, recovering a panicking rule or sink.
func (e *Evaluator) evaluate(patientID int) (n int, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log := logger.WithPatient(patientID)
			log.Error().
				Str("component", "evaluator").
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("evaluation panic recovered")
			metrics.PanicsRecovered.WithLabelValues("evaluator").Inc()
			ok = false
		}
	}()
	return e.engine.EvaluatePatient(e.source, patientID), true
}

func (e *Evaluator) observe(start time.Time) {
	metrics.EvaluationPassesTotal.Inc()
	metrics.EvaluationDuration.Observe(time.Since(start).Seconds())

	if s, ok := e.source.(interface{ Stats() storage.Stats }); ok {
		stats := s.Stats()
		metrics.StorePatients.Set(float64(stats.Patients))
		metrics.StoreMeasurements.Set(float64(stats.Measurements))
	}
}

// Run evaluates all patients every interval until ctx is cancelled.
func (e *Evaluator) Run(ctx context.Context) {
	log := logger.WithComponent("evaluator")
	log.Info().Dur("interval", e.interval).Int("concurrency", e.concurrency).Msg("evaluator started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Uint64("passes", e.passes.Load()).Msg("evaluator stopped")
			return
		case <-ticker.C:
			e.RunOnce(ctx)
		}
	}
}

// Passes returns the number of completed evaluation passes
func (e *Evaluator) Passes() uint64 {
	return e.passes.Load()
}
