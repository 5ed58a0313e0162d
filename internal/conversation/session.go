package conversation

import (
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mudd00/sensorgamehub-sub001/pkg/schema"
)

// ErrEmptyTurn is returned for a turn without any text.
var ErrEmptyTurn = errors.New("turn text is empty")

// Engine bundles the stateless collaborators a session consults on every turn.
type Engine struct {
	Extractor *Extractor
	Planner   *Planner
}

// NewEngine builds an engine from the embedded rule table and question catalog.
func NewEngine() (*Engine, error) {
	ex, err := NewExtractor()
	if err != nil {
		return nil, err
	}
	pl, err := NewPlanner()
	if err != nil {
		return nil, err
	}
	return &Engine{Extractor: ex, Planner: pl}, nil
}

// TurnResult is returned for every processed user turn.
type TurnResult struct {
	Stage           schema.Stage     `json:"stage"`
	Transitioned    bool             `json:"transitioned"`
	NextQuestion    *schema.Question `json:"nextQuestion,omitempty"`
	Progress        int              `json:"progress"`
	Reply           string           `json:"reply"`
	ReadyToGenerate bool             `json:"readyToGenerate"`
}

// Session is the conversation aggregate. All state changes go through its methods,
// each of which is atomic.
type Session struct {
	mu sync.Mutex

	id              string
	stage           schema.Stage
	requirements    schema.Requirements
	history         []schema.Message
	confidence      map[string]float64
	asked           map[string]bool
	completionScore int
	activeRunID     string
	generatingSince time.Time
	lastError       string
	createdAt       time.Time
	lastActivity    time.Time
}

// NewSession creates a session in the Initial stage.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		id:           id,
		stage:        schema.StageInitial,
		confidence:   make(map[string]float64),
		asked:        make(map[string]bool),
		createdAt:    now,
		lastActivity: now,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Stage returns the current stage.
func (s *Session) Stage() schema.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// SubmitTurn processes one user turn: extraction over the full history, merge into
// the snapshot, one state machine step and the next planner question.
func (s *Session) SubmitTurn(eng *Engine, text string, now time.Time) (TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return TurnResult{}, ErrEmptyTurn
	}
	text = truncateRunes(text, schema.TurnTextMax)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stage.Collecting() && s.stage != schema.StageConfirmation {
		reason := "session is finished; restart or retry first"
		if s.stage == schema.StageGenerating {
			reason = "turns are not accepted while generating"
		}
		return TurnResult{}, &schema.PreconditionError{Op: "submitTurn", Stage: s.stage, Reason: reason}
	}

	s.history = append(s.history, schema.Message{Role: schema.RoleUser, Text: text, Timestamp: now, Stage: s.stage})
	s.lastActivity = now

	full := eng.Extractor.Extract(s.userTexts())
	latest := eng.Extractor.Extract([]string{text})
	intent := eng.Extractor.DetectIntent(text)
	articulated := latest.Detected() || len(strings.Fields(text)) >= articulatedWords

	if s.stage == schema.StageInitial && s.requirements.Description == "" && (articulated || intent.Ready) {
		s.requirements.Description = truncateRunes(text, schema.DescriptionMax)
	}
	if s.stage == schema.StageConfirmation && intent.Change {
		Patch(&s.requirements, latest.Requirements)
		s.requirements.Confirmed = false
		s.requirements.ConfirmedAt = nil
	}
	Merge(&s.requirements, full.Requirements)

	for cat, c := range full.Confidence {
		s.confidence[cat] = max(s.confidence[cat], c)
	}
	s.completionScore = max(s.completionScore, s.requirements.CompletionScore())

	prev := s.stage
	s.stage = Transition(s.stage, &s.requirements, TurnInput{Intent: intent, Articulated: articulated})

	if s.stage == schema.StageConfirmation && prev == schema.StageConfirmation && intent.Generate &&
		schema.ValidateRequirements(&s.requirements) == nil {
		s.confirmLocked(now)
	}

	var q *schema.Question
	if s.stage.Collecting() {
		q = eng.Planner.Next(PlannerInput{Requirements: &s.requirements, Confidence: s.confidence, Asked: s.asked})
		if q != nil {
			s.asked[q.Key()] = true
		}
	}

	res := TurnResult{
		Stage:           s.stage,
		Transitioned:    prev != s.stage,
		NextQuestion:    q,
		Progress:        s.completionScore,
		ReadyToGenerate: s.stage == schema.StageConfirmation && s.requirements.Confirmed,
	}
	res.Reply = composeReply(s.stage, res.Transitioned, q, &s.requirements)
	s.history = append(s.history, schema.Message{Role: schema.RoleAssistant, Text: res.Reply, Timestamp: now, Stage: s.stage})
	return res, nil
}

// Confirm marks the requirements confirmed. Only valid in Confirmation.
func (s *Session) Confirm(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != schema.StageConfirmation {
		return &schema.PreconditionError{Op: "confirm", Stage: s.stage, Reason: "requirements can only be confirmed in the confirmation stage"}
	}
	if err := schema.ValidateRequirements(&s.requirements); err != nil {
		return &schema.PreconditionError{Op: "confirm", Stage: s.stage, Reason: err.Error()}
	}
	s.confirmLocked(now)
	return nil
}

func (s *Session) confirmLocked(now time.Time) {
	if s.requirements.Confirmed {
		return
	}
	s.requirements.Confirmed = true
	t := now
	s.requirements.ConfirmedAt = &t
}

// BeginGeneration moves a confirmed session into Generating under the given run id.
func (s *Session) BeginGeneration(runID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != schema.StageConfirmation {
		return &schema.PreconditionError{Op: "beginGeneration", Stage: s.stage, Reason: "generation starts from the confirmation stage"}
	}
	if !s.requirements.Confirmed {
		return &schema.PreconditionError{Op: "beginGeneration", Stage: s.stage, Reason: "requirements not confirmed"}
	}
	s.stage = schema.StageGenerating
	s.activeRunID = runID
	s.generatingSince = now
	s.lastError = ""
	s.lastActivity = now
	return nil
}

// FinishGeneration resolves the active run. It returns false, leaving the session
// untouched, when runID is not the active run (the run was abandoned).
func (s *Session) FinishGeneration(runID string, success bool, errMsg string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != schema.StageGenerating || s.activeRunID != runID {
		return false
	}
	s.activeRunID = ""
	s.lastActivity = now
	if success {
		s.stage = schema.StageCompleted
		return true
	}
	s.stage = schema.StageFailed
	s.lastError = errMsg
	return true
}

// AbandonIfStale fails a session that has been generating for longer than ceiling.
// It returns the abandoned run id.
func (s *Session) AbandonIfStale(now time.Time, ceiling time.Duration) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != schema.StageGenerating || now.Sub(s.generatingSince) <= ceiling {
		return "", false
	}
	runID := s.activeRunID
	s.stage = schema.StageFailed
	s.activeRunID = ""
	s.lastError = "generation exceeded the time ceiling"
	s.lastActivity = now
	return runID, true
}

// Restart resets the session to Initial, clearing requirements and history.
func (s *Session) Restart(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage == schema.StageGenerating {
		return &schema.PreconditionError{Op: "restart", Stage: s.stage, Reason: "cannot restart while generating"}
	}
	s.stage = schema.StageInitial
	s.requirements = schema.Requirements{}
	s.history = nil
	s.confidence = make(map[string]float64)
	s.asked = make(map[string]bool)
	s.completionScore = 0
	s.lastError = ""
	s.lastActivity = now
	return nil
}

// Retry returns a failed session to Confirmation keeping its requirements.
func (s *Session) Retry(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != schema.StageFailed {
		return &schema.PreconditionError{Op: "retry", Stage: s.stage, Reason: "only failed sessions can be retried"}
	}
	s.stage = schema.StageConfirmation
	s.requirements.Confirmed = false
	s.requirements.ConfirmedAt = nil
	s.lastActivity = now
	return nil
}

// AppendAssistant records an assistant message produced outside a turn.
func (s *Session) AppendAssistant(text string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, schema.Message{Role: schema.RoleAssistant, Text: text, Timestamp: now, Stage: s.stage})
	s.lastActivity = now
}

// InFlight reports whether a generation run is active.
func (s *Session) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRunID != ""
}

// ActiveRun returns the active run id, or "".
func (s *Session) ActiveRun() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRunID
}

// LastActivity returns the time of the last state change.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// View returns a deep copy of the session state.
func (s *Session) View() schema.SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return schema.SessionView{
		ID:              s.id,
		Stage:           s.stage,
		Requirements:    s.requirements.Clone(),
		History:         slices.Clone(s.history),
		CompletionScore: s.completionScore,
		Confidence:      maps.Clone(s.confidence),
		ActiveRunID:     s.activeRunID,
		LastError:       s.lastError,
		CreatedAt:       s.createdAt,
		LastActivity:    s.lastActivity,
	}
}

func (s *Session) userTexts() []string {
	var out []string
	for _, m := range s.history {
		if m.Role == schema.RoleUser {
			out = append(out, m.Text)
		}
	}
	return out
}
