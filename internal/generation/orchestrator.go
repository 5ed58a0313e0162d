// Package generation turns a confirmed requirement snapshot into a generated game.
package generation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mudd00/sensorgamehub-sub001/internal/event"
	"github.com/mudd00/sensorgamehub-sub001/internal/llm"
	"github.com/mudd00/sensorgamehub-sub001/internal/retrieval"
	"github.com/mudd00/sensorgamehub-sub001/internal/telemetry"
	"github.com/mudd00/sensorgamehub-sub001/internal/validation"
	"github.com/mudd00/sensorgamehub-sub001/pkg/schema"
)

// Mode is the backend variant, fixed when the orchestrator is built.
type Mode int

const (
	// LiveCall streams from an external text-generation backend.
	LiveCall Mode = iota
	// DegradedCall synthesizes placeholder output without calling out.
	DegradedCall
)

func (m Mode) String() string {
	if m == DegradedCall {
		return "degraded"
	}
	return "live"
}

// Telemetry stage names.
const (
	StageRetrieval  = "retrieval"
	StageStreaming  = "streaming"
	StageExtraction = "extraction"
	StageValidation = "validation"
)

// Options configures an Orchestrator. Zero values select defaults.
type Options struct {
	// Backend is the live text-generation backend; nil selects DegradedCall
	Backend llm.Streamer

	Retriever *retrieval.Retriever
	Validator *validation.Validator
	Telemetry *telemetry.Monitor
	Progress  *event.Bus[schema.ProgressEvent]

	// MaxRetries is the number of attempts after the first; negative disables retries
	// Default: 3
	MaxRetries int

	// BackoffBase is the first retry delay, doubled on every further retry
	// Default: 500ms
	BackoffBase time.Duration

	// Ceiling bounds all external calls of one run
	// Default: 3 minutes
	Ceiling time.Duration

	// ProgressInterval is the time bucket for streaming progress events
	// Default: 2s
	ProgressInterval time.Duration

	// ExpectedDuration is the streaming time that maps to 90%
	// Default: 45s
	ExpectedDuration time.Duration

	MaxOutputTokens int

	// Temperature is the sampling temperature; negative selects 0
	// Default: 0.4
	Temperature float64

	// Sleep waits between retries; replaced in tests
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o *Options) defaults() {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 500 * time.Millisecond
	}
	if o.Ceiling <= 0 {
		o.Ceiling = 3 * time.Minute
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = 2 * time.Second
	}
	if o.ExpectedDuration <= 0 {
		o.ExpectedDuration = 45 * time.Second
	}
	if o.MaxOutputTokens <= 0 {
		o.MaxOutputTokens = 16000
	}
	switch {
	case o.Temperature < 0:
		o.Temperature = 0
	case o.Temperature == 0:
		o.Temperature = 0.4
	}
	if o.Validator == nil {
		o.Validator = validation.New()
	}
	if o.Retriever == nil {
		o.Retriever = retrieval.NewRetriever(nil, 0, 0)
	}
	if o.Sleep == nil {
		o.Sleep = sleep
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Orchestrator runs generations. It is safe for concurrent use; at most one run
// is in flight per session.
type Orchestrator struct {
	opts     Options
	mode     Mode
	degraded llm.Degraded

	mu       sync.Mutex
	inflight map[string]string
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	opts.defaults()
	mode := LiveCall
	if opts.Backend == nil {
		mode = DegradedCall
	}
	slog.Info("Generation orchestrator ready", "mode", mode.String(), "max_retries", opts.MaxRetries)
	return &Orchestrator{opts: opts, mode: mode, inflight: make(map[string]string)}
}

// Mode reports the backend variant.
func (o *Orchestrator) Mode() Mode {
	return o.mode
}

// InFlight returns the run currently generating for a session.
func (o *Orchestrator) InFlight(sessionID string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id, ok := o.inflight[sessionID]
	return id, ok
}

// Precheck fails unless the session sits in Confirmation with confirmed requirements.
func Precheck(view schema.SessionView) error {
	if view.Stage != schema.StageConfirmation {
		return &schema.PreconditionError{Op: "generate", Stage: view.Stage, Reason: "session is not awaiting confirmation"}
	}
	if !view.Requirements.Confirmed {
		return &schema.PreconditionError{Op: "generate", Stage: view.Stage, Reason: "requirements are not confirmed"}
	}
	return nil
}

func (o *Orchestrator) acquire(sessionID, runID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cur, ok := o.inflight[sessionID]; ok {
		return &schema.RunInFlightError{SessionID: sessionID, RunID: cur}
	}
	o.inflight[sessionID] = runID
	return nil
}

func (o *Orchestrator) release(sessionID string) {
	o.mu.Lock()
	delete(o.inflight, sessionID)
	o.mu.Unlock()
}

// Generate produces exactly one GenerationRun for the session snapshot. It never
// touches the session itself.
//
// A run whose output held no artifact is returned together with an
// ArtifactExtractionError. External failures that survive every retry do not
// return an error: the run is synthesized in degraded mode and flagged.
func (o *Orchestrator) Generate(ctx context.Context, view schema.SessionView, runID string) (*schema.GenerationRun, error) {
	if err := Precheck(view); err != nil {
		return nil, err
	}
	if err := o.acquire(view.ID, runID); err != nil {
		return nil, err
	}
	defer o.release(view.ID)

	req := view.Requirements.Clone()
	run := &schema.GenerationRun{
		ID:        runID,
		SessionID: view.ID,
		StartedAt: time.Now(),
	}
	p := newProgress(o.opts.Progress, view.ID, runID)
	var handle telemetry.Handle
	if o.opts.Telemetry != nil {
		handle = o.opts.Telemetry.StartRun(view.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.Ceiling)
	defer cancel()

	p.emit(percentRetrieval, "Retrieving reference context")
	start := time.Now()
	ref := o.opts.Retriever.Retrieve(ctx, &req)
	run.ContextFallback = ref.Fallback
	o.recordStage(handle, StageRetrieval, time.Since(start), map[string]float64{"documents": float64(len(ref.Documents))})

	p.emit(percentPrompt, "Building prompt")

	var err error
	switch o.mode {
	case LiveCall:
		err = o.live(ctx, handle, run, &req, ref.Text, p)
	default:
		run.Attempt = 1
		o.synthesize(run, &req, "")
	}

	if err != nil {
		run.EndedAt = time.Now()
		run.LastError = err.Error()
		o.complete(handle, run)
		p.emit(percentDone, "Generation failed")
		slog.Warn("Generation produced no artifact", "session_id", view.ID, "run_id", runID, "attempts", run.Attempt)
		return run, err
	}

	p.emit(percentExtraction, "Checking game quality")
	start = time.Now()
	result := o.opts.Validator.ValidateFor(run.Artifact(), req.Genre)
	if run.Truncated {
		result.Warnings = append(result.Warnings, "output: generation hit the output token limit, the game may be incomplete")
	}
	run.Validation = &result
	o.recordStage(handle, StageValidation, time.Since(start), map[string]float64{telemetry.KeyValidationScore: float64(result.Score)})

	run.EndedAt = time.Now()
	o.complete(handle, run)
	p.emit(percentDone, "Done")

	slog.Info("Generation finished",
		"session_id", view.ID,
		"run_id", runID,
		"attempts", run.Attempt,
		"degraded", run.Degraded,
		"truncated", run.Truncated,
		"score", result.Score,
		"valid", result.IsValid,
		"duration", run.Duration(),
	)
	return run, nil
}

// live drives the retry policy against the live backend. It returns an error only
// for an artifact extraction failure; exhausted external failures fall back to
// degraded output.
func (o *Orchestrator) live(ctx context.Context, handle telemetry.Handle, run *schema.GenerationRun, req *schema.Requirements, reference string, p *progress) error {
	var (
		variant     = llm.PromptStandard
		lastErr     error
		strictTried bool
		conciseUsed bool
		maxAttempts = 1 + o.opts.MaxRetries
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		run.Attempt = attempt
		run.ExtractedArtifact = nil
		run.Strategy = ""
		run.Truncated = false

		prompt := llm.BuildGenerationPrompt(req, reference, variant)
		run.PromptDigest = digest(prompt)

		slog.Info("Generation attempt",
			"session_id", run.SessionID,
			"run_id", run.ID,
			"attempt", attempt,
			"variant", variant.String(),
			"prompt_length", len(prompt),
		)

		p.emit(percentStreaming, "Generating game code")
		stop := p.tick(o.opts.ProgressInterval, o.opts.ExpectedDuration)
		start := time.Now()
		buf := newChunkBuffer(ctx)
		resp, err := o.opts.Backend.Stream(ctx, llm.Request{
			Prompt:          prompt,
			MaxOutputTokens: o.opts.MaxOutputTokens,
			Temperature:     o.opts.Temperature,
		}, buf.add)
		stop()

		if err == nil && resp.StopReason == schema.StopReasonError {
			err = llm.NewStreamError("stream stopped with an error", nil)
		}
		if err != nil {
			lastErr = err
			if resp != nil {
				run.StopReason = resp.StopReason
			} else {
				run.StopReason = schema.StopReasonError
			}
			slog.Warn("Generation attempt failed",
				"session_id", run.SessionID,
				"run_id", run.ID,
				"attempt", attempt,
				"error", err.Error(),
			)
			if ctx.Err() != nil || !llm.IsTransient(err) || attempt == maxAttempts {
				break
			}
			if serr := o.opts.Sleep(ctx, o.backoff(attempt)); serr != nil {
				lastErr = errors.Join(lastErr, serr)
				break
			}
			continue
		}

		run.RawResponse = buf.text(resp.Text)
		run.StopReason = resp.StopReason
		run.TokenUsage = resp.Usage
		run.LastError = ""
		o.recordStage(handle, StageStreaming, time.Since(start), map[string]float64{
			telemetry.KeyOutputTokens: float64(resp.Usage.OutputTokens),
			telemetry.KeyInputTokens:  float64(resp.Usage.InputTokens),
		})

		start = time.Now()
		artifact, strategy, ok := llm.ExtractArtifact(run.RawResponse)
		found := 0.0
		if ok {
			found = 1
		}
		o.recordStage(handle, StageExtraction, time.Since(start), map[string]float64{"found": found})
		if !ok {
			extractErr := &schema.ArtifactExtractionError{RunID: run.ID, Strategies: llm.StrategyNames()}
			if !strictTried && attempt < maxAttempts {
				strictTried = true
				variant = llm.PromptStrict
				slog.Warn("No artifact in output, retrying with strict prompt", "run_id", run.ID, "attempt", attempt)
				continue
			}
			return extractErr
		}
		run.ExtractedArtifact = &artifact
		run.Strategy = strategy

		if resp.StopReason == schema.StopReasonMaxTokens {
			run.Truncated = true
			if !conciseUsed && attempt < maxAttempts {
				conciseUsed = true
				variant = llm.PromptConcise
				slog.Warn("Output truncated, retrying with concise prompt", "run_id", run.ID, "attempt", attempt)
				continue
			}
		}
		return nil
	}

	msg := "text generation failed"
	if lastErr != nil {
		msg = lastErr.Error()
	}
	o.synthesize(run, req, (&schema.ExternalServiceError{Service: "text-generation", Message: msg, Err: lastErr}).Error())
	return nil
}

// synthesize fills the run from the degraded backend.
func (o *Orchestrator) synthesize(run *schema.GenerationRun, req *schema.Requirements, lastErr string) {
	resp := o.degraded.Generate(req)
	artifact, strategy, _ := llm.ExtractArtifact(resp.Text)
	run.RawResponse = resp.Text
	run.ExtractedArtifact = &artifact
	run.Strategy = strategy
	run.StopReason = resp.StopReason
	run.TokenUsage = resp.Usage
	run.Truncated = false
	run.Degraded = true
	run.LastError = lastErr
	run.PromptDigest = digest(llm.BuildGenerationPrompt(req, "", llm.PromptStandard))
}

func (o *Orchestrator) backoff(attempt int) time.Duration {
	return o.opts.BackoffBase * time.Duration(1<<(attempt-1))
}

func (o *Orchestrator) recordStage(h telemetry.Handle, stage string, d time.Duration, payload map[string]float64) {
	if o.opts.Telemetry != nil {
		o.opts.Telemetry.RecordStage(h, stage, d, payload)
	}
}

func (o *Orchestrator) complete(h telemetry.Handle, run *schema.GenerationRun) {
	if o.opts.Telemetry == nil {
		return
	}
	success := !run.Degraded && run.Validation != nil && run.Validation.IsValid
	payload := map[string]float64{
		telemetry.KeyOutputTokens: float64(run.TokenUsage.OutputTokens),
		telemetry.KeyInputTokens:  float64(run.TokenUsage.InputTokens),
	}
	if run.Validation != nil {
		payload[telemetry.KeyValidationScore] = float64(run.Validation.Score)
	}
	o.opts.Telemetry.CompleteRun(h, success, payload)
}

func digest(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return fmt.Sprintf("sha256:%s", hex.EncodeToString(sum[:8]))
}
