package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalwatch/internal/config"
	"vitalwatch/internal/models"
)

// skipIfNoKafka skips the test if Kafka is not available
func skipIfNoKafka(t *testing.T) {
	if os.Getenv("KAFKA_TEST") != "1" {
		t.Skip("Skipping Kafka integration test. Set KAFKA_TEST=1 to run.")
	}
}

type mockWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	failures int
	closed   bool
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return errors.New("leader not available")
	}
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

func testProducerConfig() config.ProducerConfig {
	cfg := config.Default().Kafka.Producer
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

var testAlert = models.Alert{
	PatientID: 12,
	Condition: "Critical Systolic: 185.0",
	Timestamp: 1714376789050,
	Rule:      "critical_systolic",
	Category:  models.CategoryBloodPressure,
}

func TestNewProducerValidation(t *testing.T) {
	_, err := NewProducer(nil, "alerts", testProducerConfig())
	assert.ErrorIs(t, err, ErrNoBrokers)

	_, err = NewProducer([]string{"localhost:9092"}, "", testProducerConfig())
	assert.ErrorIs(t, err, ErrNoTopic)
}

func TestProducerPublishEnvelope(t *testing.T) {
	w := &mockWriter{}
	p, err := NewProducer([]string{"localhost:9092"}, "alerts", testProducerConfig(), withWriters(w), WithNode("node-a"))
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), testAlert))

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "12", string(msg.Key))

	var env models.Envelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	assert.Equal(t, testAlert, env.Alert)
	assert.Equal(t, "node-a", env.Node)
	assert.NotEmpty(t, env.ID)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, env.ID, headers["alert_id"])
	assert.Equal(t, "12", headers["patient_id"])
	assert.Equal(t, "critical_systolic", headers["rule"])

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.MessagesSent)
	assert.Equal(t, uint64(len(msg.Value)), stats.BytesWritten)
}

func TestProducerRetries(t *testing.T) {
	w := &mockWriter{failures: 2}
	p, err := NewProducer([]string{"localhost:9092"}, "alerts", testProducerConfig(), withWriters(w))
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), testAlert))
	assert.Len(t, w.messages, 1)
}

func TestProducerGivesUp(t *testing.T) {
	w := &mockWriter{failures: 100}
	cfg := testProducerConfig()
	cfg.MaxRetries = 1
	p, err := NewProducer([]string{"localhost:9092"}, "alerts", cfg, withWriters(w))
	require.NoError(t, err)

	err = p.Publish(context.Background(), testAlert)
	require.Error(t, err)
	assert.Equal(t, uint64(1), p.Stats().MessagesFailed)
}

func TestProducerClose(t *testing.T) {
	w := &mockWriter{}
	p, err := NewProducer([]string{"localhost:9092"}, "alerts", testProducerConfig(), withWriters(w))
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
	require.NoError(t, p.Close(), "second close is a no-op")

	assert.ErrorIs(t, p.Publish(context.Background(), testAlert), ErrProducerClosed)
	assert.ErrorIs(t, p.HealthCheck(context.Background()), ErrProducerClosed)
}

func TestProducerHealthCheck(t *testing.T) {
	p, err := NewProducer([]string{"localhost:9092"}, "alerts", testProducerConfig(), withWriters(&mockWriter{}))
	require.NoError(t, err)
	assert.NoError(t, p.HealthCheck(context.Background()))
}

type mockReader struct {
	messages []kafka.Message
	pos      int
}

func (m *mockReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if m.pos >= len(m.messages) {
		return kafka.Message{}, io.EOF
	}
	msg := m.messages[m.pos]
	m.pos++
	return msg, nil
}

func (m *mockReader) Close() error { return nil }

func TestConsumerForwardsMeasurements(t *testing.T) {
	r := &mockReader{messages: []kafka.Message{
		{Value: []byte(`{"patient_id": 1, "value": 185, "kind": "Systolic", "timestamp": 1714376789050}`)},
		{Value: []byte(`2,1714376789051,ECG,0.92`)},
		{Value: []byte(`garbage`)},
		{Value: []byte(`{"patient_id": "x"}`)},
	}}
	out := make(chan models.Measurement, 10)
	c := newConsumer(r, out)

	require.NoError(t, c.Run(context.Background()))
	close(out)

	var got []models.Measurement
	for m := range out {
		got = append(got, m)
	}

	require.Len(t, got, 2)
	assert.Equal(t, models.Measurement{PatientID: 1, Value: 185, Kind: models.KindSystolic, Timestamp: 1714376789050}, got[0])
	assert.Equal(t, models.Measurement{PatientID: 2, Value: 0.92, Kind: models.KindECG, Timestamp: 1714376789051}, got[1])

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Accepted)
	assert.Equal(t, uint64(2), stats.Malformed)
}

func TestConsumerStopsOnCancel(t *testing.T) {
	r := &mockReader{messages: []kafka.Message{
		{Value: []byte(`1,1714376789050,ECG,1.0`)},
	}}
	// unbuffered and never read: the consumer must give up on cancel
	out := make(chan models.Measurement)
	c := newConsumer(r, out)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.NoError(t, c.Run(ctx))
}

func TestProducerIntegration(t *testing.T) {
	skipIfNoKafka(t)

	cfg := config.Default()
	producer, err := NewProducer(cfg.Kafka.Brokers, cfg.Kafka.AlertTopic, cfg.Kafka.Producer)
	require.NoError(t, err)
	defer producer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, producer.Publish(ctx, testAlert))
	assert.Equal(t, uint64(1), producer.Stats().MessagesSent)
}

func TestProducerWritersDoNotRetry(t *testing.T) {
	cfg := testProducerConfig()
	cfg.MaxRetries = 5
	p, err := NewProducer([]string{"localhost:9092"}, "alerts", cfg)
	require.NoError(t, err)
	defer p.Close()

	require.Len(t, p.writers, cfg.PoolSize)
	for _, w := range p.writers {
		kw, ok := w.(*kafka.Writer)
		require.True(t, ok)
		assert.Equal(t, 1, kw.MaxAttempts)
	}
}

func TestProducerAttemptsBoundedByMaxRetries(t *testing.T) {
	w := &mockWriter{failures: 100}
	cfg := testProducerConfig()
	cfg.MaxRetries = 2
	p, err := NewProducer([]string{"localhost:9092"}, "alerts", cfg, withWriters(w))
	require.NoError(t, err)

	require.Error(t, p.Publish(context.Background(), testAlert))
	assert.Equal(t, 100-(cfg.MaxRetries+1), w.failures)
}
