package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalwatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vitalwatch_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Ingest metrics
	IngestMeasurementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalwatch_ingest_measurements_total",
			Help: "Total number of measurements received",
		},
		[]string{"source", "status"}, // status: accepted, rejected
	)

	IngestBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vitalwatch_ingest_batch_size",
			Help:    "Size of measurement batches received over HTTP",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	IngestValidationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalwatch_ingest_validation_errors_total",
			Help: "Total number of validation errors",
		},
		[]string{"error_type"},
	)

	IngestUnrecognizedKinds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalwatch_ingest_unrecognized_kinds_total",
			Help: "Measurements stored with a kind no rule reads",
		},
		[]string{"source"},
	)

	// Worker metrics
	WorkerQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vitalwatch_worker_queue_size",
			Help: "Current size of the worker queue",
		},
	)

	WorkerQueueCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vitalwatch_worker_queue_capacity",
			Help: "Capacity of the worker queue",
		},
	)

	WorkerProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalwatch_worker_processed_total",
			Help: "Total number of measurements stored by workers",
		},
	)

	WorkerFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalwatch_worker_failed_total",
			Help: "Total number of measurements workers failed to store",
		},
	)

	WorkerBatchWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vitalwatch_worker_batch_write_duration_seconds",
			Help:    "Time taken to write a batch into the record store",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	// Store metrics
	StorePatients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vitalwatch_store_patients",
			Help: "Number of patients known to the record store",
		},
	)

	StoreMeasurements = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vitalwatch_store_measurements",
			Help: "Number of measurements held by the record store",
		},
	)

	// Evaluation metrics
	EvaluationPassesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalwatch_evaluation_passes_total",
			Help: "Total number of evaluation passes over all patients",
		},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vitalwatch_evaluation_duration_seconds",
			Help:    "Time taken by one evaluation pass",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalwatch_alerts_total",
			Help: "Total number of alerts emitted",
		},
		[]string{"rule", "category"},
	)

	SinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalwatch_sink_errors_total",
			Help: "Total number of alerts a sink failed to deliver",
		},
		[]string{"sink"},
	)

	// Kafka metrics
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalwatch_kafka_publish_total",
			Help: "Total number of alerts published to Kafka",
		},
		[]string{"status"}, // status: success, failed
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vitalwatch_kafka_publish_duration_seconds",
			Help:    "Time taken to publish to Kafka",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	KafkaPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalwatch_kafka_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	KafkaMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalwatch_kafka_messages_consumed_total",
			Help: "Total number of measurement messages read from Kafka",
		},
		[]string{"status"}, // status: accepted, malformed, dropped
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalwatch_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
