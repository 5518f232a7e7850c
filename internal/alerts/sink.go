package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vitalwatch/internal/logger"
	"vitalwatch/internal/metrics"
	"vitalwatch/internal/models"
)

// Sink receives alerts synchronously, one call per alert. Implementations
// must not block for long and must be safe for concurrent use.
type Sink interface {
	Send(alert models.Alert)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(alert models.Alert)

func (f SinkFunc) Send(alert models.Alert) { f(alert) }

// Discard drops every alert
var Discard Sink = SinkFunc(func(models.Alert) {})

// Publisher delivers an alert to an external system and may fail.
type Publisher interface {
	Publish(ctx context.Context, alert models.Alert) error
}

// publisherSink adapts a Publisher to Sink. Failures are logged and counted,
// never returned to the engine.
type publisherSink struct {
	name    string
	pub     Publisher
	timeout time.Duration
	log     zerolog.Logger
}

// PublisherSink wraps p so it can be used as a Sink. Each publish is bounded
// by timeout (5s when zero).
func PublisherSink(name string, p Publisher, timeout time.Duration) Sink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &publisherSink{
		name:    name,
		pub:     p,
		timeout: timeout,
		log:     logger.WithComponent("sink").With().Str("sink", name).Logger(),
	}
}

func (s *publisherSink) Send(alert models.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.pub.Publish(ctx, alert); err != nil {
		s.log.Error().
			Err(err).
			Int("patient_id", alert.PatientID).
			Str("rule", alert.Rule).
			Msg("failed to deliver alert")
		metrics.SinkErrorsTotal.WithLabelValues(s.name).Inc()
	}
}

// LogSink writes one structured log line per alert
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink creates a LogSink on the global logger
func NewLogSink() *LogSink {
	return &LogSink{log: logger.WithComponent("alerts")}
}

func (s *LogSink) Send(alert models.Alert) {
	s.log.Warn().
		Int("patient_id", alert.PatientID).
		Str("condition", alert.Condition).
		Int64("timestamp", alert.Timestamp).
		Str("rule", alert.Rule).
		Str("category", string(alert.Category)).
		Msg("ALERT")
}

// MultiSink fans each alert out to every sink in order
type MultiSink []Sink

func (m MultiSink) Send(alert models.Alert) {
	for _, s := range m {
		s.Send(alert)
	}
}

// Counted increments the alerts metric before forwarding to next.
func Counted(next Sink) Sink {
	return SinkFunc(func(alert models.Alert) {
		metrics.AlertsTotal.WithLabelValues(alert.Rule, string(alert.Category)).Inc()
		next.Send(alert)
	})
}

// CollectSink keeps alerts in memory
type CollectSink struct {
	mu     sync.Mutex
	alerts []models.Alert
}

func (c *CollectSink) Send(alert models.Alert) {
	c.mu.Lock()
	c.alerts = append(c.alerts, alert)
	c.mu.Unlock()
}

// Alerts returns a copy of the collected alerts
func (c *CollectSink) Alerts() []models.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

// Reset drops collected alerts
func (c *CollectSink) Reset() {
	c.mu.Lock()
	c.alerts = nil
	c.mu.Unlock()
}
