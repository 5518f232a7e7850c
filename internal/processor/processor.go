package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vitalwatch/internal/alerts"
	"vitalwatch/internal/config"
	"vitalwatch/internal/handlers"
	"vitalwatch/internal/kafka"
	"vitalwatch/internal/logger"
	"vitalwatch/internal/metrics"
	"vitalwatch/internal/middleware"
	"vitalwatch/internal/models"
	"vitalwatch/internal/monitor"
	"vitalwatch/internal/reader"
	"vitalwatch/internal/storage"
	"vitalwatch/internal/worker"
)

// Processor wires ingestion, the record store, periodic evaluation and the
// alert sinks, and serves the HTTP API.
type Processor struct {
	cfg             *config.Config
	store           *storage.Store
	engine          *alerts.Engine
	evaluator       *monitor.Evaluator
	workerPool      *worker.Pool
	producer        *kafka.Producer
	consumer        *kafka.Consumer
	tcpReader       *reader.TCPReader
	history         *storage.AlertHistory
	httpServer      *http.Server
	listener        net.Listener
	measurementChan chan models.Measurement
	ready           chan struct{}
	wg              sync.WaitGroup
}

// New constructs a Processor with given config.
func New(cfg *config.Config) *Processor {
	return &Processor{
		cfg:             cfg,
		store:           storage.NewStore(),
		measurementChan: make(chan models.Measurement, cfg.Ingest.QueueSize),
		ready:           make(chan struct{}),
	}
}

// Store returns the record store
func (p *Processor) Store() *storage.Store {
	return p.store
}

// Ready is closed once the HTTP listener is bound
func (p *Processor) Ready() <-chan struct{} {
	return p.ready
}

// Addr returns the bound HTTP address. Valid after Ready.
func (p *Processor) Addr() string {
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Run starts background goroutines and blocks until context cancelled.
func (p *Processor) Run(ctx context.Context) error {
	log := logger.WithComponent("processor")
	log.Info().Msg("processor starting")

	if err := p.initSinks(); err != nil {
		log.Error().Err(err).Msg("failed to initialize alert sinks")
		p.closeSinks()
		return fmt.Errorf("failed to initialize alert sinks: %w", err)
	}

	if p.cfg.Ingest.Dir != "" {
		if _, err := reader.LoadDir(p.cfg.Ingest.Dir, p.store); err != nil {
			p.closeSinks()
			return fmt.Errorf("failed to load %s: %w", p.cfg.Ingest.Dir, err)
		}
	}

	if err := p.initReaders(); err != nil {
		log.Error().Err(err).Msg("failed to initialize readers")
		p.closeSinks()
		return fmt.Errorf("failed to initialize readers: %w", err)
	}

	p.evaluator = monitor.NewEvaluator(monitor.Config{
		Source:      p.store,
		Engine:      p.engine,
		Interval:    p.cfg.Evaluation.Interval,
		Concurrency: p.cfg.Evaluation.Concurrency,
	})

	p.initWorkerPool()
	p.workerPool.Start()

	if err := p.initHTTPServer(); err != nil {
		log.Error().Err(err).Msg("failed to initialize HTTP server")
		p.workerPool.Stop()
		p.closeReaders()
		p.closeSinks()
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}
	close(p.ready)

	// Start HTTP server in background
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Info().Str("addr", p.Addr()).Msg("starting HTTP server")
		if err := p.httpServer.Serve(p.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	// Readers stop on ctx; the worker pool outlives them so nothing they
	// queued is lost
	var readers sync.WaitGroup
	p.startReaders(ctx, &readers)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.evaluator.Run(ctx)
	}()

	// Stats reporting goroutine
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reportStats(ctx)
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	return p.shutdown(&readers)
}

// initSinks builds the alert sink chain: structured log, then the optional
// SQLite history and Kafka alert topic.
func (p *Processor) initSinks() error {
	log := logger.WithComponent("processor")
	sinks := alerts.MultiSink{alerts.NewLogSink()}

	if p.cfg.History.DSN != "" {
		history, err := storage.OpenAlertHistory(p.cfg.History.DSN)
		if err != nil {
			return err
		}
		p.history = history
		sinks = append(sinks, alerts.PublisherSink("sqlite", history, 0))
		log.Info().Str("dsn", p.cfg.History.DSN).Msg("alert history enabled")
	}

	if p.cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(
			p.cfg.Kafka.Brokers,
			p.cfg.Kafka.AlertTopic,
			p.cfg.Kafka.Producer,
		)
		if err != nil {
			return err
		}
		p.producer = producer
		sinks = append(sinks, alerts.PublisherSink("kafka", producer, p.cfg.Kafka.Producer.WriteTimeout))
		log.Info().
			Strs("brokers", p.cfg.Kafka.Brokers).
			Str("topic", p.cfg.Kafka.AlertTopic).
			Msg("kafka alert producer initialized")
	}

	p.engine = alerts.NewEngine(alerts.Counted(sinks))
	return nil
}

// initReaders creates the Kafka consumer and TCP reader when configured
func (p *Processor) initReaders() error {
	if p.cfg.Kafka.Enabled {
		consumer, err := kafka.NewConsumer(
			p.cfg.Kafka.Brokers,
			p.cfg.Kafka.Topic,
			p.cfg.Kafka.GroupID,
			p.measurementChan,
		)
		if err != nil {
			return err
		}
		p.consumer = consumer
	}

	if p.cfg.Ingest.TCPAddr != "" {
		p.tcpReader = reader.NewTCPReader(p.cfg.Ingest.TCPAddr, p.measurementChan)
	}
	return nil
}

// startReaders runs the configured readers until ctx ends
func (p *Processor) startReaders(ctx context.Context, wg *sync.WaitGroup) {
	log := logger.WithComponent("processor")

	if p.consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.consumer.Run(ctx); err != nil {
				log.Error().Err(err).Msg("kafka consumer exited")
			}
		}()
	}

	if p.tcpReader != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.tcpReader.Run(ctx)
		}()
	}
}

func (p *Processor) closeReaders() {
	if p.consumer != nil {
		if err := p.consumer.Close(); err != nil {
			log := logger.WithComponent("processor")
			log.Error().Err(err).Msg("kafka consumer close error")
		}
	}
}

// initWorkerPool initializes the worker pool
func (p *Processor) initWorkerPool() {
	log := logger.WithComponent("processor")
	p.workerPool = worker.NewPool(worker.Config{
		Writer:       p.store,
		Input:        p.measurementChan,
		Workers:      p.cfg.Ingest.Workers,
		BatchSize:    p.cfg.Ingest.BatchSize,
		BatchTimeout: p.cfg.Ingest.BatchTimeout,
	})
	log.Info().Int("workers", p.cfg.Ingest.Workers).Msg("worker pool initialized")
}

// initHTTPServer binds the listener and registers the routes
func (p *Processor) initHTTPServer() error {
	mux := http.NewServeMux()

	wrap := func(h http.Handler) http.Handler {
		return middleware.Chain(h, middleware.Recovery, middleware.Logging)
	}

	ingestHandler := handlers.NewIngestHandler(handlers.IngestConfig{
		MeasurementChan: p.measurementChan,
		MaxBodySize:     p.cfg.HTTP.MaxBodySize,
	})
	mux.Handle("/ingest", wrap(ingestHandler))

	patients := handlers.NewPatientsHandler(p.store, p.engine)
	if p.history != nil {
		patients.WithHistory(p.history)
	}
	patients.Register(mux, wrap)

	// Health check
	mux.HandleFunc("/health", p.healthHandler)

	// Stats endpoint
	mux.HandleFunc("/stats", p.statsHandler)

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Initialize queue capacity metric
	metrics.WorkerQueueCapacity.Set(float64(cap(p.measurementChan)))

	ln, err := net.Listen("tcp", p.cfg.HTTP.Addr)
	if err != nil {
		return err
	}
	p.listener = ln

	p.httpServer = &http.Server{
		Handler:      mux,
		ReadTimeout:  p.cfg.HTTP.ReadTimeout,
		WriteTimeout: p.cfg.HTTP.WriteTimeout,
		IdleTimeout:  p.cfg.HTTP.IdleTimeout,
	}

	return nil
}

// shutdown performs graceful shutdown
func (p *Processor) shutdown(readers *sync.WaitGroup) error {
	log := logger.WithComponent("processor")
	log.Info().Msg("initiating graceful shutdown")

	// 1. Stop accepting new HTTP requests
	timeout := p.cfg.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Info().Msg("stopping HTTP server")
	handlersDone := true
	if err := p.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
		handlersDone = false
	}

	// 2. Wait for readers, then close their sources
	readers.Wait()
	p.closeReaders()

	// 3. Close measurement channel to signal no more incoming measurements.
	// A handler still running may send on it, so it stays open then; the
	// pool stops on cancel either way.
	if handlersDone {
		log.Info().Msg("closing measurement channel")
		close(p.measurementChan)
	} else {
		log.Warn().Msg("HTTP handlers still running, leaving measurement channel open")
	}

	// 4. Wait for workers to finish storing (with timeout)
	done := make(chan struct{})
	go func() {
		p.workerPool.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("workers stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("worker shutdown timeout - forcing exit")
	}

	// 5. Wait for evaluator and stats goroutines
	p.wg.Wait()

	// 6. Close sinks
	p.closeSinks()

	log.Info().Msg("processor stopped gracefully")
	return nil
}

func (p *Processor) closeSinks() {
	log := logger.WithComponent("processor")
	if p.producer != nil {
		log.Info().Msg("closing kafka producer")
		if err := p.producer.Close(); err != nil {
			log.Error().Err(err).Msg("producer close error")
		}
	}
	if p.history != nil {
		if err := p.history.Close(); err != nil {
			log.Error().Err(err).Msg("alert history close error")
		}
	}
}

// reportStats periodically logs statistics
func (p *Processor) reportStats(ctx context.Context) {
	log := logger.WithComponent("processor")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := p.collectStats()

			metrics.WorkerQueueSize.Set(float64(stats.Channel.Buffered))

			event := log.Info().
				Int("patients", stats.Store.Patients).
				Int("measurements", stats.Store.Measurements).
				Uint64("worker_processed", stats.Worker.Processed).
				Uint64("worker_failed", stats.Worker.Failed).
				Uint64("evaluation_passes", stats.EvaluationPasses).
				Int("queue_size", stats.Channel.Buffered)
			if stats.Producer != nil {
				event = event.
					Uint64("producer_sent", stats.Producer.MessagesSent).
					Uint64("producer_failed", stats.Producer.MessagesFailed)
			}
			event.Msg("stats")
		}
	}
}

// Stats is the body of GET /stats
type Stats struct {
	Store            storage.Stats        `json:"store"`
	Worker           worker.Stats         `json:"worker"`
	EvaluationPasses uint64               `json:"evaluation_passes"`
	Producer         *kafka.ProducerStats `json:"producer,omitempty"`
	Consumer         *kafka.ConsumerStats `json:"consumer,omitempty"`
	TCP              *reader.TCPStats     `json:"tcp,omitempty"`
	Channel          ChannelStats         `json:"channel"`
}

// ChannelStats reports ingest queue occupancy
type ChannelStats struct {
	Buffered int `json:"buffered"`
	Capacity int `json:"capacity"`
}

func (p *Processor) collectStats() Stats {
	stats := Stats{
		Store:  p.store.Stats(),
		Worker: p.workerPool.Stats(),
		Channel: ChannelStats{
			Buffered: len(p.measurementChan),
			Capacity: cap(p.measurementChan),
		},
	}
	if p.evaluator != nil {
		stats.EvaluationPasses = p.evaluator.Passes()
	}
	if p.producer != nil {
		s := p.producer.Stats()
		stats.Producer = &s
	}
	if p.consumer != nil {
		s := p.consumer.Stats()
		stats.Consumer = &s
	}
	if p.tcpReader != nil {
		s := p.tcpReader.Stats()
		stats.TCP = &s
	}
	return stats
}

// healthHandler handles health check requests
func (p *Processor) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	// Check Kafka connectivity
	if p.producer != nil {
		if err := p.producer.HealthCheck(ctx); err != nil {
			http.Error(w, fmt.Sprintf("unhealthy: %v", err), http.StatusServiceUnavailable)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// statsHandler returns current statistics
func (p *Processor) statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(p.collectStats())
}
