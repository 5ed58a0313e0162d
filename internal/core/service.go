package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mudd00/sensorgamehub-sub001/internal/conversation"
	"github.com/mudd00/sensorgamehub-sub001/internal/generation"
	"github.com/mudd00/sensorgamehub-sub001/internal/repository"
	"github.com/mudd00/sensorgamehub-sub001/pkg/schema"
)

const (
	defaultStoreRetries = 3
	defaultStoreBackoff = 200 * time.Millisecond
)

// ServiceOptions wires the collaborators of a Service.
type ServiceOptions struct {
	Engine       *conversation.Engine
	Store        Store
	Orchestrator *generation.Orchestrator
	// Gateway may be nil, in which case accepted artifacts are not persisted.
	Gateway repository.Gateway
	// Archive is optional; Get falls back to it for sessions no longer registered.
	Archive      *Archive
	StoreRetries int
	StoreBackoff time.Duration
	Logger       Logger
	Now          func() time.Time
}

// Outcome describes how one ConfirmAndGenerate call ended.
type Outcome struct {
	SessionID  string                   `json:"sessionId"`
	Stage      schema.Stage             `json:"stage"`
	Run        *schema.GenerationRun    `json:"run,omitempty"`
	Validation *schema.ValidationResult `json:"validation,omitempty"`
	ArtifactID string                   `json:"artifactId,omitempty"`
	Locator    string                   `json:"locator,omitempty"`
	PublicURL  string                   `json:"publicUrl,omitempty"`
	Degraded   bool                     `json:"degraded"`
	Error      string                   `json:"error,omitempty"`
}

// Accepted reports whether the run produced a stored, valid game.
func (o *Outcome) Accepted() bool {
	return o.Stage == schema.StageCompleted
}

// Service is the facade every surface (HTTP, CLI) drives sessions through.
type Service struct {
	opts ServiceOptions
	log  Logger
}

// NewService validates the options and applies defaults.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Engine == nil {
		return nil, errors.New("service: engine is required")
	}
	if opts.Orchestrator == nil {
		return nil, errors.New("service: orchestrator is required")
	}
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.StoreRetries <= 0 {
		opts.StoreRetries = defaultStoreRetries
	}
	if opts.StoreBackoff <= 0 {
		opts.StoreBackoff = defaultStoreBackoff
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = NewLogger("info")
	}
	return &Service{opts: opts, log: opts.Logger}, nil
}

// Sessions exposes the registry, for the sweeper.
func (s *Service) Sessions() Store {
	return s.opts.Store
}

// StartSession registers a new session. An empty id generates one.
func (s *Service) StartSession(id string) (schema.SessionView, error) {
	if id == "" {
		var err error
		if id, err = schema.NewSessionID(); err != nil {
			return schema.SessionView{}, fmt.Errorf("generate session id: %w", err)
		}
	}
	sess := conversation.NewSession(id, s.opts.Now())
	if err := s.opts.Store.Insert(sess); err != nil {
		return schema.SessionView{}, err
	}
	s.log.Info("Session started", "session_id", id)
	return sess.View(), nil
}

func (s *Service) lookup(id string) (*conversation.Session, error) {
	sess, ok := s.opts.Store.Get(id)
	if !ok {
		return nil, &schema.SessionNotFoundError{ID: id}
	}
	return sess, nil
}

// Get returns a session snapshot, consulting the archive for evicted sessions.
func (s *Service) Get(ctx context.Context, id string) (schema.SessionView, error) {
	if sess, ok := s.opts.Store.Get(id); ok {
		return sess.View(), nil
	}
	if s.opts.Archive != nil {
		v, err := s.opts.Archive.Load(ctx, id)
		if err == nil {
			return *v, nil
		}
		var nf *schema.SessionNotFoundError
		if !errors.As(err, &nf) {
			return schema.SessionView{}, &schema.ExternalServiceError{Service: "archive", Message: err.Error(), Err: err}
		}
	}
	return schema.SessionView{}, &schema.SessionNotFoundError{ID: id}
}

// SubmitTurn feeds one user turn into the session.
func (s *Service) SubmitTurn(id, text string) (conversation.TurnResult, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return conversation.TurnResult{}, err
	}
	res, err := sess.SubmitTurn(s.opts.Engine, text, s.opts.Now())
	if err != nil {
		return conversation.TurnResult{}, err
	}
	s.log.Debug("Turn processed",
		"session_id", id,
		"stage", res.Stage,
		"progress", res.Progress,
		"transitioned", res.Transitioned,
	)
	return res, nil
}

// Restart resets the session to Initial.
func (s *Service) Restart(id string) (schema.SessionView, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return schema.SessionView{}, err
	}
	if err := sess.Restart(s.opts.Now()); err != nil {
		return schema.SessionView{}, err
	}
	s.log.Info("Session restarted", "session_id", id)
	return sess.View(), nil
}

// Retry returns a failed session to Confirmation with its requirements intact.
func (s *Service) Retry(id string) (schema.SessionView, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return schema.SessionView{}, err
	}
	if err := sess.Retry(s.opts.Now()); err != nil {
		return schema.SessionView{}, err
	}
	s.log.Info("Session returned to confirmation", "session_id", id)
	return sess.View(), nil
}

// ConfirmAndGenerate confirms the requirements and runs one generation.
//
// The returned error is reserved for calls that could not run at all (unknown
// session, precondition, run in flight), results that arrived for an abandoned
// run, and artifacts that could not be persisted. Invalid games, degraded runs
// and extraction failures come back as an Outcome with Stage failed.
func (s *Service) ConfirmAndGenerate(ctx context.Context, id string) (*Outcome, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if runID := sess.ActiveRun(); runID != "" {
		return nil, &schema.RunInFlightError{SessionID: id, RunID: runID}
	}
	if err := sess.Confirm(s.opts.Now()); err != nil {
		return nil, err
	}
	view := sess.View()
	if err := generation.Precheck(view); err != nil {
		return nil, err
	}

	runID := schema.NewRunID()
	if err := sess.BeginGeneration(runID, s.opts.Now()); err != nil {
		if current := sess.ActiveRun(); current != "" {
			return nil, &schema.RunInFlightError{SessionID: id, RunID: current}
		}
		return nil, err
	}
	log := s.log.With("session_id", id, "run_id", runID)
	log.Info("Generation started", "mode", s.opts.Orchestrator.Mode().String())

	run, genErr := s.opts.Orchestrator.Generate(ctx, view, runID)
	out := &Outcome{SessionID: id, Run: run}
	if run != nil {
		out.Validation = run.Validation
		out.Degraded = run.Degraded
	}

	if genErr == nil && sess.ActiveRun() != runID {
		log.Warn("Discarding result of abandoned run")
		return nil, &schema.RunAbandonedError{SessionID: id, RunID: runID}
	}

	var storeErr error
	switch {
	case genErr != nil && run == nil:
		// Rejected before a run existed; give the session back to Confirmation.
		sess.FinishGeneration(runID, false, genErr.Error(), s.opts.Now())
		_ = sess.Retry(s.opts.Now())
		return nil, genErr
	case genErr != nil:
		out.Error = genErr.Error()
	case run.Degraded:
		out.Error = run.LastError
		if out.Error == "" {
			out.Error = "text generation is unavailable; a placeholder game was produced and not saved"
		}
	case run.Validation == nil || !run.Validation.IsValid:
		out.Error = validationMessage(run.Validation)
	default:
		storeErr = s.persist(ctx, out, run, view.Requirements)
		if storeErr != nil {
			out.Error = storeErr.Error()
		}
	}

	success := out.Error == ""
	if !sess.FinishGeneration(runID, success, out.Error, s.opts.Now()) {
		log.Warn("Discarding result of abandoned run")
		return nil, &schema.RunAbandonedError{SessionID: id, RunID: runID}
	}
	out.Stage = sess.Stage()
	sess.AppendAssistant(outcomeReply(out), s.opts.Now())

	if success {
		log.Info("Generation accepted", "artifact_id", out.ArtifactID, "locator", out.Locator)
	} else {
		log.Warn("Generation failed", "error", out.Error, "degraded", out.Degraded)
	}
	if storeErr != nil {
		return out, storeErr
	}
	return out, nil
}

// persist stores the accepted artifact, retrying with the same id.
func (s *Service) persist(ctx context.Context, out *Outcome, run *schema.GenerationRun, req schema.Requirements) error {
	artifactID, err := schema.NewArtifactID()
	if err != nil {
		return &schema.ExternalServiceError{Service: "persistence", Message: "generate artifact id", Err: err}
	}
	out.ArtifactID = artifactID
	if s.opts.Gateway == nil {
		return nil
	}

	artifact := repository.NewArtifact(artifactID, run, req)
	var lastErr error
	for i := range s.opts.StoreRetries {
		if i > 0 {
			delay := s.opts.StoreBackoff * time.Duration(1<<(i-1))
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				return &schema.ExternalServiceError{Service: "persistence", Message: lastErr.Error(), Err: lastErr}
			case <-time.After(delay):
			}
		}
		loc, err := s.opts.Gateway.Store(ctx, artifact)
		if err == nil {
			out.Locator = loc.Locator
			out.PublicURL = loc.PublicURL
			return nil
		}
		lastErr = err
		s.log.Warn("Artifact store failed", "artifact_id", artifactID, "attempt", i+1, "error", err)
	}
	return &schema.ExternalServiceError{Service: "persistence", Message: lastErr.Error(), Err: lastErr}
}

func validationMessage(v *schema.ValidationResult) string {
	if v == nil {
		return "validation failed: no result"
	}
	msg := fmt.Sprintf("validation failed: score %d/%d", v.Score, v.MaxScore)
	if len(v.Errors) > 0 {
		msg += " (" + v.Errors[0] + ")"
	}
	return msg
}

func outcomeReply(out *Outcome) string {
	if out.Accepted() {
		reply := fmt.Sprintf("Your game is ready (score %d/%d).", out.Validation.Score, out.Validation.MaxScore)
		if out.PublicURL != "" {
			reply += " Play it at " + out.PublicURL
		}
		return reply
	}
	return "Generation did not produce a playable game: " + out.Error + ". Retry to go back to confirmation and try again."
}
