package monitor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalwatch/internal/alerts"
	"vitalwatch/internal/models"
	"vitalwatch/internal/storage"
)

func seededStore(patients int) *storage.Store {
	s := storage.NewStore()
	for id := 0; id < patients; id++ {
		s.AddMeasurement(id, 185, models.KindSystolic, 1000)
		s.AddMeasurement(id, 80, models.KindDiastolic, 1000)
	}
	return s
}

func TestRunOnceEvaluatesEveryPatient(t *testing.T) {
	store := seededStore(20)
	sink := &alerts.CollectSink{}
	ev := NewEvaluator(Config{
		Source:      store,
		Engine:      alerts.NewEngine(sink),
		Concurrency: 4,
	})

	n := ev.RunOnce(context.Background())
	assert.Equal(t, 20, n)

	got := sink.Alerts()
	require.Len(t, got, 20)
	seen := map[int]bool{}
	for _, a := range got {
		assert.Equal(t, "Critical Systolic: 185.0", a.Condition)
		seen[a.PatientID] = true
	}
	assert.Len(t, seen, 20)
	assert.Equal(t, uint64(1), ev.Passes())
}

func TestRunOnceRespectsConcurrency(t *testing.T) {
	store := seededStore(12)
	var inFlight, peak atomic.Int32

	slow := alerts.Rule{
		Name:     "slow",
		Category: models.CategoryManual,
		Check: func(records []models.Measurement, emit alerts.Emit) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
		},
	}

	ev := NewEvaluator(Config{
		Source:      store,
		Engine:      alerts.NewEngine(nil, alerts.WithRules(slow)),
		Concurrency: 3,
	})

	assert.Equal(t, 12, ev.RunOnce(context.Background()))
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRunOnceCancelledContext(t *testing.T) {
	ev := NewEvaluator(Config{
		Source: seededStore(5),
		Engine: alerts.NewEngine(nil),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, 0, ev.RunOnce(ctx))
}

func TestRunOnceEmptyStore(t *testing.T) {
	ev := NewEvaluator(Config{
		Source: storage.NewStore(),
		Engine: alerts.NewEngine(nil),
	})
	assert.Equal(t, 0, ev.RunOnce(context.Background()))
}

func TestRunOnceRecoversPanic(t *testing.T) {
	boom := alerts.Rule{
		Name: "boom",
		Check: func(records []models.Measurement, emit alerts.Emit) {
			panic("rule failure")
		},
	}
	ev := NewEvaluator(Config{
		Source: seededStore(3),
		Engine: alerts.NewEngine(nil, alerts.WithRules(boom)),
	})

	assert.NotPanics(t, func() {
		assert.Equal(t, 0, ev.RunOnce(context.Background()))
	})
}

func TestRunTicksUntilCancelled(t *testing.T) {
	sink := &alerts.CollectSink{}
	ev := NewEvaluator(Config{
		Source:   seededStore(1),
		Engine:   alerts.NewEngine(sink),
		Interval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ev.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return ev.Passes() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// repeated passes re-raise the same alert
	assert.GreaterOrEqual(t, len(sink.Alerts()), 2)
}
