package generation

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mudd00/sensorgamehub-sub001/internal/event"
	"github.com/mudd00/sensorgamehub-sub001/internal/llm"
	"github.com/mudd00/sensorgamehub-sub001/internal/telemetry"
	"github.com/mudd00/sensorgamehub-sub001/pkg/schema"
)

type step struct {
	text   string
	stop   schema.StopReason
	err    error
	usage  schema.TokenUsage
	delay  time.Duration
	waitOn chan struct{}
	// chunks, when set, are streamed instead of text; text stays the final response
	chunks []string
}

// fakeBackend replays a script; the last step repeats.
type fakeBackend struct {
	mu      sync.Mutex
	script  []step
	prompts []string
	temps   []float64
}

func (f *fakeBackend) Stream(ctx context.Context, req llm.Request, onChunk func(string)) (*llm.Response, error) {
	f.mu.Lock()
	idx := len(f.prompts)
	f.prompts = append(f.prompts, req.Prompt)
	f.temps = append(f.temps, req.Temperature)
	s := f.script[min(idx, len(f.script)-1)]
	f.mu.Unlock()

	if s.waitOn != nil {
		select {
		case <-s.waitOn:
		case <-ctx.Done():
			return nil, llm.NewTimeoutError(ctx.Err())
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	if onChunk != nil {
		if s.chunks != nil {
			for _, c := range s.chunks {
				onChunk(c)
			}
		} else {
			onChunk(s.text)
		}
	}
	stop := s.stop
	if stop == "" {
		stop = schema.StopReasonStop
	}
	return &llm.Response{Text: s.text, StopReason: stop, Usage: s.usage, Model: "fake"}, nil
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *fakeBackend) prompt(i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts[i]
}

func mazeGame(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("../validation/testdata/maze.html")
	require.NoError(t, err)
	return "Here is your game:\n```html\n" + string(data) + "\n```\n"
}

func confirmedView() schema.SessionView {
	return schema.SessionView{
		ID:    "SES-test",
		Stage: schema.StageConfirmation,
		Requirements: schema.Requirements{
			Title:       "Marble Quest",
			Description: "Tilt the phone to roll a marble through a maze",
			Genre:       "maze",
			PlayerMode:  schema.PlayerSolo,
			Mechanics:   []string{"tilt"},
			Difficulty:  "hard",
			Objectives:  []string{"reach-goal"},
			Confirmed:   true,
		},
	}
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return nil
}

func newLive(backend llm.Streamer, mutate ...func(*Options)) (*Orchestrator, *sleepRecorder) {
	rec := &sleepRecorder{}
	opts := Options{Backend: backend, BackoffBase: 10 * time.Millisecond, Sleep: rec.sleep}
	for _, m := range mutate {
		m(&opts)
	}
	return New(opts), rec
}

func TestPrecheck(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*schema.SessionView)
		ok     bool
	}{
		{name: "confirmed", mutate: func(*schema.SessionView) {}, ok: true},
		{name: "wrong stage", mutate: func(v *schema.SessionView) { v.Stage = schema.StageMechanics }},
		{name: "unconfirmed", mutate: func(v *schema.SessionView) { v.Requirements.Confirmed = false }},
		{name: "already generating", mutate: func(v *schema.SessionView) { v.Stage = schema.StageGenerating }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view := confirmedView()
			tt.mutate(&view)
			err := Precheck(view)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var pe *schema.PreconditionError
			assert.ErrorAs(t, err, &pe)
		})
	}
}

func TestGeneratePreconditionDoesNotCallBackend(t *testing.T) {
	backend := &fakeBackend{script: []step{{text: "x"}}}
	o, _ := newLive(backend)

	view := confirmedView()
	view.Requirements.Confirmed = false
	run, err := o.Generate(context.Background(), view, "run-1")

	require.Error(t, err)
	assert.Nil(t, run)
	assert.Equal(t, 0, backend.calls())
	_, inflight := o.InFlight(view.ID)
	assert.False(t, inflight)
}

func TestGenerateSuccess(t *testing.T) {
	bus := event.NewBus[schema.ProgressEvent](64)
	events, cancel := bus.Subscribe()
	defer cancel()

	backend := &fakeBackend{script: []step{{text: mazeGame(t), usage: schema.TokenUsage{InputTokens: 900, OutputTokens: 2500}}}}
	o, _ := newLive(backend, func(o *Options) { o.Progress = bus })
	assert.Equal(t, LiveCall, o.Mode())

	run, err := o.Generate(context.Background(), confirmedView(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, "SES-test", run.SessionID)
	assert.Equal(t, 1, run.Attempt)
	assert.Equal(t, "html-fence", run.Strategy)
	assert.Equal(t, schema.StopReasonStop, run.StopReason)
	assert.Equal(t, 2500, run.TokenUsage.OutputTokens)
	assert.False(t, run.Degraded)
	assert.False(t, run.Truncated)
	assert.True(t, run.ContextFallback)
	assert.True(t, strings.HasPrefix(run.PromptDigest, "sha256:"))
	assert.True(t, strings.HasPrefix(run.Artifact(), "<!DOCTYPE html>"))
	assert.False(t, run.EndedAt.Before(run.StartedAt))

	require.NotNil(t, run.Validation)
	assert.True(t, run.Validation.IsValid)
	assert.Equal(t, "maze", run.Validation.Genre)

	bus.Close()
	var pcts []int
	for ev := range events {
		assert.Equal(t, "run-1", ev.RunID)
		assert.Equal(t, len(pcts), ev.StepIndex)
		pcts = append(pcts, ev.Percentage)
	}
	require.NotEmpty(t, pcts)
	assert.Equal(t, percentRetrieval, pcts[0])
	assert.Equal(t, percentDone, pcts[len(pcts)-1])
	for i := 1; i < len(pcts); i++ {
		assert.GreaterOrEqual(t, pcts[i], pcts[i-1])
	}
}

func TestGenerateSingleFlight(t *testing.T) {
	gate := make(chan struct{})
	backend := &fakeBackend{script: []step{{text: mazeGame(t), waitOn: gate}}}
	o, _ := newLive(backend)

	var (
		wg       sync.WaitGroup
		firstRun *schema.GenerationRun
		firstErr error
	)
	wg.Go(func() {
		firstRun, firstErr = o.Generate(context.Background(), confirmedView(), "run-1")
	})

	require.Eventually(t, func() bool { return backend.calls() == 1 }, time.Second, time.Millisecond)
	id, ok := o.InFlight("SES-test")
	require.True(t, ok)
	assert.Equal(t, "run-1", id)

	run, err := o.Generate(context.Background(), confirmedView(), "run-2")
	assert.Nil(t, run)
	var inflight *schema.RunInFlightError
	require.ErrorAs(t, err, &inflight)
	assert.Equal(t, "run-1", inflight.RunID)

	close(gate)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.Equal(t, "run-1", firstRun.ID)
	assert.Equal(t, 1, backend.calls())

	_, ok = o.InFlight("SES-test")
	assert.False(t, ok)
}

func TestGenerateRetriesTransientErrors(t *testing.T) {
	backend := &fakeBackend{script: []step{
		{err: llm.NewAPIError(503, "unavailable")},
		{err: llm.NewNetworkError(errors.New("connection reset"))},
		{text: mazeGame(t)},
	}}
	o, rec := newLive(backend)

	run, err := o.Generate(context.Background(), confirmedView(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, 3, backend.calls())
	assert.Equal(t, 3, run.Attempt)
	assert.False(t, run.Degraded)
	assert.Empty(t, run.LastError)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, rec.delays)
}

func TestGeneratePermanentErrorFallsBackToDegraded(t *testing.T) {
	backend := &fakeBackend{script: []step{{err: llm.NewAPIError(401, "bad key")}}}
	o, rec := newLive(backend)

	run, err := o.Generate(context.Background(), confirmedView(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, 1, backend.calls())
	assert.Empty(t, rec.delays)
	assert.True(t, run.Degraded)
	assert.Contains(t, run.LastError, "text-generation")
	assert.Contains(t, run.LastError, "bad key")
	assert.NotEmpty(t, run.Artifact())
	assert.NotNil(t, run.Validation)
}

func TestGenerateExhaustedRetriesFallBackToDegraded(t *testing.T) {
	backend := &fakeBackend{script: []step{{err: llm.NewAPIError(502, "bad gateway")}}}
	o, rec := newLive(backend, func(o *Options) { o.MaxRetries = 2 })

	run, err := o.Generate(context.Background(), confirmedView(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, 3, backend.calls())
	assert.Equal(t, 3, run.Attempt)
	assert.Len(t, rec.delays, 2)
	assert.True(t, run.Degraded)
	assert.Contains(t, run.LastError, "bad gateway")
}

func TestGenerateErrorStopReasonIsRetried(t *testing.T) {
	backend := &fakeBackend{script: []step{
		{text: "partial", stop: schema.StopReasonError},
		{text: mazeGame(t)},
	}}
	o, _ := newLive(backend)

	run, err := o.Generate(context.Background(), confirmedView(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, run.Attempt)
	assert.False(t, run.Degraded)
}

func TestGenerateStrictRetryAfterExtractionFailure(t *testing.T) {
	backend := &fakeBackend{script: []step{
		{text: "I would love to help you build that game!"},
		{text: mazeGame(t)},
	}}
	o, _ := newLive(backend)

	run, err := o.Generate(context.Background(), confirmedView(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, 2, run.Attempt)
	assert.NotContains(t, backend.prompt(0), "PREVIOUS ATTEMPT FAILED")
	assert.Contains(t, backend.prompt(1), "PREVIOUS ATTEMPT FAILED")
	assert.NotEmpty(t, run.Artifact())
}

func TestGenerateExtractionFailureIsTerminal(t *testing.T) {
	backend := &fakeBackend{script: []step{{text: "Sorry, I can't do that."}}}
	o, _ := newLive(backend)

	run, err := o.Generate(context.Background(), confirmedView(), "run-1")

	var extractErr *schema.ArtifactExtractionError
	require.ErrorAs(t, err, &extractErr)
	assert.Equal(t, "run-1", extractErr.RunID)
	assert.Equal(t, llm.StrategyNames(), extractErr.Strategies)

	require.NotNil(t, run)
	assert.Equal(t, 2, backend.calls())
	assert.Empty(t, run.Artifact())
	assert.Nil(t, run.Validation)
	assert.Equal(t, err.Error(), run.LastError)
	assert.False(t, run.Degraded)
}

func TestGenerateTruncationRetriesConcise(t *testing.T) {
	backend := &fakeBackend{script: []step{
		{text: mazeGame(t), stop: schema.StopReasonMaxTokens},
		{text: mazeGame(t)},
	}}
	o, _ := newLive(backend)

	run, err := o.Generate(context.Background(), confirmedView(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, 2, run.Attempt)
	assert.Contains(t, backend.prompt(1), "CUT OFF")
	assert.False(t, run.Truncated)
}

func TestGenerateKeepsFinalTruncatedRun(t *testing.T) {
	backend := &fakeBackend{script: []step{{text: mazeGame(t), stop: schema.StopReasonMaxTokens}}}
	o, _ := newLive(backend)

	run, err := o.Generate(context.Background(), confirmedView(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, 2, backend.calls())
	assert.True(t, run.Truncated)
	assert.Equal(t, schema.StopReasonMaxTokens, run.StopReason)
	require.NotNil(t, run.Validation)
	last := run.Validation.Warnings[len(run.Validation.Warnings)-1]
	assert.True(t, strings.HasPrefix(last, "output: "))
}

func TestGenerateDegradedMode(t *testing.T) {
	o := New(Options{})
	assert.Equal(t, DegradedCall, o.Mode())

	run, err := o.Generate(context.Background(), confirmedView(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, 1, run.Attempt)
	assert.True(t, run.Degraded)
	assert.Empty(t, run.LastError)
	assert.Contains(t, run.Artifact(), "Marble Quest")
	require.NotNil(t, run.Validation)

	again, err := o.Generate(context.Background(), confirmedView(), "run-2")
	require.NoError(t, err)
	assert.Equal(t, run.Artifact(), again.Artifact())
}

func TestGenerateCeiling(t *testing.T) {
	backend := &fakeBackend{script: []step{{waitOn: make(chan struct{})}}}
	o, _ := newLive(backend, func(o *Options) { o.Ceiling = 20 * time.Millisecond })

	run, err := o.Generate(context.Background(), confirmedView(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, 1, backend.calls())
	assert.True(t, run.Degraded)
	assert.Contains(t, run.LastError, "timed out")
}

func TestGenerateStreamingProgressBuckets(t *testing.T) {
	bus := event.NewBus[schema.ProgressEvent](256)
	events, cancel := bus.Subscribe()
	defer cancel()

	backend := &fakeBackend{script: []step{{text: mazeGame(t), delay: 60 * time.Millisecond}}}
	o, _ := newLive(backend, func(o *Options) {
		o.Progress = bus
		o.ProgressInterval = 5 * time.Millisecond
		o.ExpectedDuration = 40 * time.Millisecond
	})

	_, err := o.Generate(context.Background(), confirmedView(), "run-1")
	require.NoError(t, err)
	bus.Close()

	var streaming []int
	prev := 0
	for ev := range events {
		assert.GreaterOrEqual(t, ev.Percentage, prev)
		prev = ev.Percentage
		if ev.Percentage > percentStreaming && ev.Percentage <= percentStreamCap {
			streaming = append(streaming, ev.Percentage)
		}
	}
	assert.NotEmpty(t, streaming)
	assert.Equal(t, percentDone, prev)
}

func TestGenerateRecordsTelemetry(t *testing.T) {
	mon := telemetry.NewMonitor(telemetry.Options{})
	backend := &fakeBackend{script: []step{{text: mazeGame(t), usage: schema.TokenUsage{OutputTokens: 1200}}}}
	o, _ := newLive(backend, func(o *Options) { o.Telemetry = mon })

	_, err := o.Generate(context.Background(), confirmedView(), "run-1")
	require.NoError(t, err)

	snap := mon.Snapshot()
	assert.Equal(t, int64(1), snap.Runs)
	assert.Equal(t, 1.0, snap.SuccessRate)
	assert.Equal(t, 0, snap.ActiveRuns)
	assert.Equal(t, int64(1), snap.Families[telemetry.FamilyOutputTokens].Count)
	for _, stage := range []string{StageRetrieval, StageStreaming, StageExtraction, StageValidation} {
		assert.Contains(t, snap.Families, telemetry.StageFamily(stage))
	}
}

func TestDegradedRunCountsAsFailure(t *testing.T) {
	mon := telemetry.NewMonitor(telemetry.Options{})
	o := New(Options{Telemetry: mon})

	_, err := o.Generate(context.Background(), confirmedView(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, mon.Snapshot().SuccessRate)
}

func TestGenerate_AccumulatesStreamedChunks(t *testing.T) {
	game := mazeGame(t)
	half := len(game) / 2
	backend := &fakeBackend{script: []step{{chunks: []string{game[:half], game[half:]}}}}
	o, _ := newLive(backend)

	run, err := o.Generate(context.Background(), confirmedView(), "run-chunks")
	require.NoError(t, err)
	assert.Equal(t, game, run.RawResponse, "fragments are used when the final text is empty")
	assert.Equal(t, "html-fence", run.Strategy)
	require.NotNil(t, run.Validation)
	assert.True(t, run.Validation.IsValid)
}

func TestGenerate_FinalTextWinsOverFragments(t *testing.T) {
	game := mazeGame(t)
	backend := &fakeBackend{script: []step{{text: game, chunks: []string{"partial"}}}}
	o, _ := newLive(backend)

	run, err := o.Generate(context.Background(), confirmedView(), "run-final")
	require.NoError(t, err)
	assert.Equal(t, game, run.RawResponse)
}

func TestChunkBuffer_DropsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	buf := newChunkBuffer(ctx)
	buf.add("<html>")
	cancel()
	buf.add("late")

	assert.Equal(t, "<html>", buf.text(""))
	assert.Equal(t, "final", buf.text("final"))
}

func TestTemperature(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"default", 0, 0.4},
		{"explicit", 1.1, 1.1},
		{"negative selects zero", -1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{script: []step{{text: mazeGame(t)}}}
			o, _ := newLive(backend, func(o *Options) { o.Temperature = tt.in })

			_, err := o.Generate(context.Background(), confirmedView(), "run-temp")
			require.NoError(t, err)
			require.Len(t, backend.temps, 1)
			assert.Equal(t, tt.want, backend.temps[0])
		})
	}
}
