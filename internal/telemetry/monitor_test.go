package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mudd00/sensorgamehub-sub001/internal/event"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestMonitor(clock *fakeClock, heap uint64, bus *event.Bus[Alert]) *Monitor {
	return NewMonitor(Options{
		Now:       clock.Now,
		HeapInUse: func() uint64 { return heap },
		Alerts:    bus,
	})
}

func TestMonitor_RunAggregates(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	m := newTestMonitor(clock, 0, nil)

	for i, ok := range []bool{true, false, true, true} {
		h := m.StartRun("SES-1")
		m.RecordStage(h, "retrieval", 40*time.Millisecond, nil)
		clock.Advance(time.Duration(i+1) * time.Second)
		m.CompleteRun(h, ok, map[string]float64{KeyValidationScore: 90, KeyOutputTokens: 1000})
	}

	snap := m.Snapshot()
	assert.Equal(t, int64(4), snap.Runs)
	assert.InDelta(t, 0.75, snap.SuccessRate, 1e-9)
	assert.Zero(t, snap.ActiveRuns)

	run := snap.Families[FamilyRunDuration]
	assert.Equal(t, int64(4), run.Count)
	assert.InDelta(t, 2500, run.Mean, 1e-9)
	assert.Equal(t, float64(2500), run.P50)

	stage := snap.Families[StageFamily("retrieval")]
	assert.Equal(t, int64(4), stage.Count)
	assert.Equal(t, float64(50), stage.P95)

	assert.InDelta(t, 90, snap.Families[FamilyValidationScore].Mean, 1e-9)
	assert.Len(t, snap.Recent, 8)
}

func TestMonitor_WindowIsBounded(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	m := NewMonitor(Options{Window: 5, TrendWindow: 2, Now: clock.Now, HeapInUse: func() uint64 { return 0 }})

	for i := 1; i <= 12; i++ {
		h := m.StartRun("s")
		m.CompleteRun(h, true, map[string]float64{KeyValidationScore: float64(i)})
	}

	snap := m.Snapshot()
	score := snap.Families[FamilyValidationScore]
	assert.Equal(t, int64(12), score.Count)
	assert.InDelta(t, 10, score.WindowMean, 1e-9, "window keeps 8..12")
	assert.InDelta(t, 11.5, score.Trend.Recent, 1e-9)
	assert.InDelta(t, 9.5, score.Trend.Previous, 1e-9)
	assert.InDelta(t, 2, score.Trend.Delta, 1e-9)
	assert.Len(t, snap.Recent, 5)
	assert.Equal(t, float64(8), snap.Recent[0].Payload[KeyValidationScore])
}

func TestMonitor_AlertsFireOnEdges(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	bus := event.NewBus[Alert](16)
	alerts, cancel := bus.Subscribe()
	defer cancel()
	m := newTestMonitor(clock, 0, bus)

	run := func(d time.Duration, score float64) {
		h := m.StartRun("s")
		clock.Advance(d)
		m.CompleteRun(h, true, map[string]float64{KeyValidationScore: score})
	}

	run(90*time.Second, 100)
	a := <-alerts
	assert.Equal(t, AlertGenerationTime, a.Name)
	assert.True(t, a.Firing)

	// still above the limit: no new alert
	run(80*time.Second, 100)
	assert.Empty(t, alerts)

	// a mean of exactly 70 over three samples is not below the limit
	run(time.Second, 10)
	for a := range drain(alerts) {
		assert.NotEqual(t, AlertValidation, a.Name)
	}
	run(time.Second, 10)
	run(time.Second, 10)
	var names []string
	for a := range drain(alerts) {
		names = append(names, a.Name)
	}
	assert.Contains(t, names, AlertValidation)
	assert.Contains(t, m.Snapshot().Firing, AlertValidation)
}

func TestMonitor_MemoryAlert(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	bus := event.NewBus[Alert](4)
	alerts, cancel := bus.Subscribe()
	defer cancel()
	m := newTestMonitor(clock, 1<<30, bus)

	m.CheckMemory()
	m.CheckMemory()

	require.Len(t, alerts, 1)
	a := <-alerts
	assert.Equal(t, AlertMemory, a.Name)
	assert.True(t, a.Firing)
}

func TestMonitor_NoListenerNeverBlocks(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	bus := event.NewBus[Alert](1)
	_, cancel := bus.Subscribe()
	defer cancel()
	m := newTestMonitor(clock, 1<<30, bus)

	for i := 0; i < 10; i++ {
		h := m.StartRun("s")
		clock.Advance(2 * time.Minute)
		m.CompleteRun(h, false, nil)
		clock.Advance(time.Hour)
		h = m.StartRun("s")
		m.CompleteRun(h, true, nil)
	}
	assert.Equal(t, int64(20), m.Snapshot().Runs)
}

func TestPercentile(t *testing.T) {
	assert.Zero(t, percentile(nil, 0.5))
	assert.Equal(t, float64(10), percentile([]float64{1, 2, 3}, 0.5))
	assert.Equal(t, float64(120000), percentile([]float64{120000}, 0.95))
}

func drain(ch <-chan Alert) <-chan Alert {
	out := make(chan Alert, len(ch))
	for len(ch) > 0 {
		out <- <-ch
	}
	close(out)
	return out
}
