package schema

// Stage is a named state of the conversation state machine.
type Stage string

const (
	StageInitial      Stage = "initial"
	StageDetails      Stage = "details"
	StageMechanics    Stage = "mechanics"
	StageConfirmation Stage = "confirmation"
	StageGenerating   Stage = "generating"
	StageCompleted    Stage = "completed"
	StageFailed       Stage = "failed"
)

var stageOrder = map[Stage]int{
	StageInitial:      0,
	StageDetails:      1,
	StageMechanics:    2,
	StageConfirmation: 3,
	StageGenerating:   4,
	StageCompleted:    5,
	StageFailed:       5,
}

// Ordinal returns the position of the stage in the forward sequence.
// Completed and Failed share the last position. Unknown stages return -1.
func (s Stage) Ordinal() int {
	if o, ok := stageOrder[s]; ok {
		return o
	}
	return -1
}

// Terminal reports whether no further conversation turns are accepted.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Collecting reports whether the stage still gathers requirements.
func (s Stage) Collecting() bool {
	return s == StageInitial || s == StageDetails || s == StageMechanics
}

// PlayerMode is the number of people the game is designed for.
type PlayerMode string

const (
	PlayerSolo  PlayerMode = "solo"
	PlayerDual  PlayerMode = "dual"
	PlayerMulti PlayerMode = "multi"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Field limits applied when requirement values are merged into a session.
const (
	TitleMax       = 80
	DescriptionMax = 500
	ValueMax       = 64
	MechanicsMax   = 12
	ObjectivesMax  = 8
	TurnTextMax    = 4000
)
