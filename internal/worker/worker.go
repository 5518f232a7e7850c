package worker

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"vitalwatch/internal/logger"
	"vitalwatch/internal/metrics"
	"vitalwatch/internal/models"
)

// Writer stores a batch of measurements
type Writer interface {
	AddBatch(batch []models.Measurement)
}

// Pool manages a pool of workers that drain the ingest channel into the record store
type Pool struct {
	writer       Writer
	input        <-chan models.Measurement
	workers      int
	batchSize    int
	batchTimeout time.Duration

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// Metrics
	processed    atomic.Uint64
	failed       atomic.Uint64
	unrecognized atomic.Uint64
}

// Config holds worker pool configuration
type Config struct {
	Writer       Writer
	Input        <-chan models.Measurement
	Workers      int
	BatchSize    int
	BatchTimeout time.Duration
}

// NewPool creates a new worker pool
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 100 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		writer:       cfg.Writer,
		input:        cfg.Input,
		workers:      cfg.Workers,
		batchSize:    cfg.BatchSize,
		batchTimeout: cfg.BatchTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins processing measurements
func (p *Pool) Start() {
	log := logger.WithComponent("worker_pool")
	log.Info().
		Int("workers", p.workers).
		Int("batch_size", p.batchSize).
		Dur("batch_timeout", p.batchTimeout).
		Msg("starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop stops all workers. Measurements already buffered by a worker are
// flushed; measurements still in the channel are drained first.
func (p *Pool) Stop() {
	log := logger.WithComponent("worker_pool")
	log.Info().Msg("stopping worker pool")
	p.cancel()
	p.wg.Wait()
	log.Info().Msg("worker pool stopped")
}

// worker batches measurements from the channel
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := logger.WithComponent("worker").With().Int("worker_id", id).Logger()

	log.Debug().Msg("worker started")
	defer log.Debug().Msg("worker stopped")

	batch := make([]models.Measurement, 0, p.batchSize)
	timer := time.NewTimer(p.batchTimeout)
	defer timer.Stop()

	for {
		select {
		case <-p.ctx.Done():
			batch = p.drain(batch)
			if len(batch) > 0 {
				p.writeBatch(batch)
			}
			return

		case m, ok := <-p.input:
			if !ok {
				// Channel closed, flush and exit
				if len(batch) > 0 {
					p.writeBatch(batch)
				}
				return
			}

			batch = append(batch, m)

			if len(batch) >= p.batchSize {
				p.writeBatch(batch)
				batch = batch[:0]
				timer.Reset(p.batchTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				p.writeBatch(batch)
				batch = batch[:0]
			}
			timer.Reset(p.batchTimeout)
		}
	}
}

// drain moves whatever is immediately available on the channel into batch
func (p *Pool) drain(batch []models.Measurement) []models.Measurement {
	for {
		select {
		case m, ok := <-p.input:
			if !ok {
				return batch
			}
			batch = append(batch, m)
		default:
			return batch
		}
	}
}

// writeBatch hands a batch to the writer. A panicking writer loses only
// this batch.
func (p *Pool) writeBatch(batch []models.Measurement) {
	if len(batch) == 0 {
		return
	}

	log := logger.WithComponent("worker")
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Int("batch_size", len(batch)).
				Msg("worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues("worker").Inc()
			p.failed.Add(uint64(len(batch)))
			metrics.WorkerFailedTotal.Add(float64(len(batch)))
		}
	}()

	p.countUnrecognized(batch)
	p.writer.AddBatch(batch)

	duration := time.Since(start)
	metrics.WorkerBatchWriteDuration.Observe(duration.Seconds())

	log.Debug().
		Int("batch_size", len(batch)).
		Dur("duration", duration).
		Msg("batch stored")

	p.processed.Add(uint64(len(batch)))
	metrics.WorkerProcessedTotal.Add(float64(len(batch)))
}

// countUnrecognized tracks measurements whose kind no rule reads. They are
// still stored.
func (p *Pool) countUnrecognized(batch []models.Measurement) {
	log := logger.WithComponent("worker")
	n := 0
	for _, m := range batch {
		if !m.Kind.IsRecognized() {
			n++
			log.Debug().
				Int("patient_id", m.PatientID).
				Str("kind", string(m.Kind)).
				Msg("unrecognized measurement kind")
		}
	}
	if n > 0 {
		p.unrecognized.Add(uint64(n))
		metrics.IngestUnrecognizedKinds.WithLabelValues("queue").Add(float64(n))
	}
}

// Stats returns worker pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Processed:    p.processed.Load(),
		Failed:       p.failed.Load(),
		Unrecognized: p.unrecognized.Load(),
	}
}

// Stats holds worker pool metrics
type Stats struct {
	Processed    uint64 `json:"processed"`
	Failed       uint64 `json:"failed"`
	Unrecognized uint64 `json:"unrecognized"`
}
