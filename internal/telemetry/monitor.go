// Package telemetry records pipeline stage durations and outcomes, keeps bounded
// rolling aggregates and raises threshold alerts.
package telemetry

import (
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mudd00/sensorgamehub-sub001/internal/event"
)

// Metric families.
const (
	FamilyRunDuration     = "run.duration"
	FamilyValidationScore = "validation.score"
	FamilyOutputTokens    = "tokens.output"
	familyStagePrefix     = "stage."
	familyStageSuffix     = ".duration"
)

// Payload keys understood by CompleteRun.
const (
	KeyValidationScore = "validation.score"
	KeyOutputTokens    = "tokens.output"
	KeyInputTokens     = "tokens.input"
)

// Alert names.
const (
	AlertGenerationTime = "generation_time"
	AlertValidation     = "validation_score"
	AlertMemory         = "memory"
)

// StageFamily is the family name for a stage's durations.
func StageFamily(stage string) string {
	return familyStagePrefix + stage + familyStageSuffix
}

// Sample is one recorded stage or run entry.
type Sample struct {
	SessionID  string             `json:"sessionId"`
	RunID      string             `json:"runId"`
	Stage      string             `json:"stage"`
	DurationMs float64            `json:"durationMs"`
	Payload    map[string]float64 `json:"payload,omitempty"`
	At         time.Time          `json:"at"`
}

// Alert is published when a threshold is crossed, and again when it clears.
type Alert struct {
	Name      string    `json:"name"`
	Firing    bool      `json:"firing"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Handle identifies a run between StartRun and CompleteRun.
type Handle struct {
	ID        string
	SessionID string
	started   time.Time
}

// Options configures a Monitor. Zero values select defaults.
type Options struct {
	Window             int
	TrendWindow        int
	MaxGenerationTime  time.Duration
	MinValidationScore float64
	MinScoreSamples    int
	HeapCeiling        uint64
	Alerts             *event.Bus[Alert]
	Now                func() time.Time
	HeapInUse          func() uint64
}

func (o *Options) defaults() {
	if o.Window <= 0 {
		o.Window = 100
	}
	if o.TrendWindow <= 0 {
		o.TrendWindow = 10
	}
	if o.MaxGenerationTime <= 0 {
		o.MaxGenerationTime = 60 * time.Second
	}
	if o.MinValidationScore <= 0 {
		o.MinValidationScore = 70
	}
	if o.MinScoreSamples <= 0 {
		o.MinScoreSamples = 3
	}
	if o.HeapCeiling == 0 {
		o.HeapCeiling = 512 << 20
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.HeapInUse == nil {
		o.HeapInUse = func() uint64 {
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			return ms.HeapInuse
		}
	}
}

// Monitor is safe for concurrent use.
type Monitor struct {
	opts Options

	mu        sync.Mutex
	families  map[string]*family
	samples   []Sample
	active    map[string]Handle
	runs      int64
	succeeded int64
	firing    map[string]bool
}

// NewMonitor creates a monitor.
func NewMonitor(opts Options) *Monitor {
	opts.defaults()
	return &Monitor{
		opts:     opts,
		families: make(map[string]*family),
		active:   make(map[string]Handle),
		firing:   make(map[string]bool),
	}
}

// StartRun opens a run for a session.
func (m *Monitor) StartRun(sessionID string) Handle {
	h := Handle{ID: uuid.New().String(), SessionID: sessionID, started: m.opts.Now()}
	m.mu.Lock()
	m.active[h.ID] = h
	m.mu.Unlock()
	return h
}

// RecordStage appends a stage sample for the run.
func (m *Monitor) RecordStage(h Handle, stage string, d time.Duration, payload map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms := float64(d) / float64(time.Millisecond)
	m.observe(StageFamily(stage), ms)
	m.appendSample(Sample{SessionID: h.SessionID, RunID: h.ID, Stage: stage, DurationMs: ms, Payload: payload, At: m.opts.Now()})
}

// CompleteRun closes the run, feeds the run families and evaluates alert thresholds.
func (m *Monitor) CompleteRun(h Handle, success bool, payload map[string]float64) {
	now := m.opts.Now()
	ms := float64(now.Sub(h.started)) / float64(time.Millisecond)

	m.mu.Lock()
	delete(m.active, h.ID)
	m.runs++
	if success {
		m.succeeded++
	}
	m.observe(FamilyRunDuration, ms)
	if v, ok := payload[KeyValidationScore]; ok {
		m.observe(FamilyValidationScore, v)
	}
	if v, ok := payload[KeyOutputTokens]; ok {
		m.observe(FamilyOutputTokens, v)
	}
	m.appendSample(Sample{SessionID: h.SessionID, RunID: h.ID, Stage: "run", DurationMs: ms, Payload: payload, At: now})
	alerts := m.evaluate(now)
	m.mu.Unlock()

	m.publish(alerts)
}

// CheckMemory evaluates the heap ceiling outside of a run.
func (m *Monitor) CheckMemory() {
	m.mu.Lock()
	alerts := m.edge(AlertMemory, float64(m.opts.HeapInUse()), float64(m.opts.HeapCeiling), true, m.opts.Now(),
		"heap in use above ceiling")
	m.mu.Unlock()
	m.publish(alerts)
}

func (m *Monitor) observe(name string, v float64) {
	f, ok := m.families[name]
	if !ok {
		f = newFamily(m.opts.Window)
		m.families[name] = f
	}
	f.add(v)
}

func (m *Monitor) appendSample(s Sample) {
	if len(m.samples) >= m.opts.Window {
		// oldest first
		copy(m.samples, m.samples[1:])
		m.samples = m.samples[:len(m.samples)-1]
	}
	m.samples = append(m.samples, s)
}

func (m *Monitor) evaluate(now time.Time) []Alert {
	var out []Alert
	if f := m.families[FamilyRunDuration]; f != nil {
		limit := float64(m.opts.MaxGenerationTime.Milliseconds())
		out = append(out, m.edge(AlertGenerationTime, mean(f.recent()), limit, true, now, "mean generation time above limit")...)
	}
	if f := m.families[FamilyValidationScore]; f != nil && f.count >= int64(m.opts.MinScoreSamples) {
		out = append(out, m.edge(AlertValidation, mean(f.recent()), m.opts.MinValidationScore, false, now, "mean validation score below limit")...)
	}
	out = append(out, m.edge(AlertMemory, float64(m.opts.HeapInUse()), float64(m.opts.HeapCeiling), true, now, "heap in use above ceiling")...)
	return out
}

// edge returns an alert only when the breach state changes.
func (m *Monitor) edge(name string, value, threshold float64, above bool, now time.Time, msg string) []Alert {
	breach := value > threshold
	if !above {
		breach = value < threshold
	}
	if breach == m.firing[name] {
		return nil
	}
	m.firing[name] = breach
	if !breach {
		msg = "resolved: " + msg
	}
	return []Alert{{Name: name, Firing: breach, Value: value, Threshold: threshold, Message: msg, At: now}}
}

func (m *Monitor) publish(alerts []Alert) {
	for _, a := range alerts {
		if a.Firing {
			slog.Warn("Telemetry alert", "alert", a.Name, "value", a.Value, "threshold", a.Threshold)
		} else {
			slog.Info("Telemetry alert resolved", "alert", a.Name, "value", a.Value)
		}
		if m.opts.Alerts != nil {
			m.opts.Alerts.Publish(a)
		}
	}
}

// FamilyStats is the derived view of one metric family.
type FamilyStats struct {
	Count      int64   `json:"count"`
	Mean       float64 `json:"mean"`
	WindowMean float64 `json:"windowMean"`
	P50        float64 `json:"p50,omitempty"`
	P95        float64 `json:"p95,omitempty"`
	Trend      Trend   `json:"trend"`
}

// Snapshot is a point-in-time copy of the monitor state.
type Snapshot struct {
	Runs        int64                  `json:"runs"`
	SuccessRate float64                `json:"successRate"`
	ActiveRuns  int                    `json:"activeRuns"`
	Families    map[string]FamilyStats `json:"families"`
	Firing      []string               `json:"firing"`
	Recent      []Sample               `json:"recent"`
}

// Snapshot derives aggregates from the current window.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Runs:       m.runs,
		ActiveRuns: len(m.active),
		Families:   make(map[string]FamilyStats, len(m.families)),
		Firing:     []string{},
	}
	if m.runs > 0 {
		snap.SuccessRate = float64(m.succeeded) / float64(m.runs)
	}
	for name, f := range m.families {
		vals := f.recent()
		st := FamilyStats{Count: f.count, Mean: f.mean(), WindowMean: mean(vals), Trend: trend(vals, m.opts.TrendWindow)}
		if strings.HasSuffix(name, "duration") {
			st.P50 = percentile(vals, 0.5)
			st.P95 = percentile(vals, 0.95)
		}
		snap.Families[name] = st
	}
	for name, on := range m.firing {
		if on {
			snap.Firing = append(snap.Firing, name)
		}
	}
	sort.Strings(snap.Firing)
	snap.Recent = append([]Sample(nil), m.samples...)
	return snap
}

// String renders a one-line summary for logs and the CLI.
func (s Snapshot) String() string {
	run := s.Families[FamilyRunDuration]
	score := s.Families[FamilyValidationScore]
	return fmt.Sprintf("runs=%d success=%.0f%% mean_run=%.0fms p95_run=%.0fms mean_score=%.1f firing=%v",
		s.Runs, s.SuccessRate*100, run.WindowMean, run.P95, score.WindowMean, s.Firing)
}
