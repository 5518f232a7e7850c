package kafka

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"vitalwatch/internal/logger"
	"vitalwatch/internal/metrics"
	"vitalwatch/internal/models"
)

// messageReader is the subset of *kafka.Reader the consumer uses
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer reads measurement messages from a topic and forwards them to
// the ingest channel. Messages are either a JSON MeasurementInput or a
// stream line `patientId,timestamp,label,value`.
type Consumer struct {
	reader messageReader
	out    chan<- models.Measurement

	accepted  atomic.Uint64
	malformed atomic.Uint64
}

// NewConsumer creates a consumer in the given consumer group
func NewConsumer(brokers []string, topic, groupID string, out chan<- models.Measurement) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if topic == "" {
		return nil, ErrNoTopic
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
	})
	return newConsumer(reader, out), nil
}

func newConsumer(r messageReader, out chan<- models.Measurement) *Consumer {
	return &Consumer{reader: r, out: out}
}

// Run consumes until ctx is cancelled or the reader fails for good.
func (c *Consumer) Run(ctx context.Context) error {
	log := logger.WithComponent("kafka_consumer")
	log.Info().Msg("consumer started")
	defer log.Info().Msg("consumer stopped")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			log.Error().Err(err).Msg("failed to read message")
			return err
		}

		m, err := DecodeMeasurement(msg.Value)
		if err != nil {
			log.Warn().
				Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("dropping malformed measurement")
			c.malformed.Add(1)
			metrics.KafkaMessagesConsumed.WithLabelValues("malformed").Inc()
			continue
		}

		select {
		case c.out <- m:
			c.accepted.Add(1)
			metrics.KafkaMessagesConsumed.WithLabelValues("accepted").Inc()
			metrics.IngestMeasurementsTotal.WithLabelValues("kafka", "accepted").Inc()
		case <-ctx.Done():
			metrics.KafkaMessagesConsumed.WithLabelValues("dropped").Inc()
			return nil
		}
	}
}

// Close closes the underlying reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Stats returns consumer statistics
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Accepted:  c.accepted.Load(),
		Malformed: c.malformed.Load(),
	}
}

// ConsumerStats holds consumer counters
type ConsumerStats struct {
	Accepted  uint64 `json:"accepted"`
	Malformed uint64 `json:"malformed"`
}

// DecodeMeasurement parses a JSON object or a stream line.
func DecodeMeasurement(value []byte) (models.Measurement, error) {
	value = bytes.TrimSpace(value)
	if len(value) > 0 && value[0] == '{' {
		var in models.MeasurementInput
		if err := json.Unmarshal(value, &in); err != nil {
			return models.Measurement{}, err
		}
		return in.ToMeasurement()
	}
	return models.ParseStreamLine(string(value))
}
