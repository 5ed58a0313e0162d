package conversation

import "github.com/mudd00/sensorgamehub-sub001/pkg/schema"

// articulatedWords is the turn length at which an opening message counts as an idea
// even when no category matched.
const articulatedWords = 8

// TurnInput is what the state machine sees of the latest user turn.
type TurnInput struct {
	Intent      Intent
	Articulated bool
}

// Transition computes the next stage of a conversation. It advances at most one
// step per turn and never leaves Confirmation; the move into Generating belongs to
// the generation entry point.
func Transition(current schema.Stage, req *schema.Requirements, in TurnInput) schema.Stage {
	switch current {
	case schema.StageInitial:
		if in.Articulated || in.Intent.Ready {
			return schema.StageDetails
		}
	case schema.StageDetails:
		// The player mode picks the game type, so it is settled before mechanics.
		if (req.Has(schema.CategoryGenre) && req.Has(schema.CategoryPlayerMode) &&
			req.Has(schema.CategoryTitle) && req.Has(schema.CategoryDescription)) ||
			in.Intent.Progress {
			return schema.StageMechanics
		}
	case schema.StageMechanics:
		if (req.Has(schema.CategoryMechanics) && req.Has(schema.CategoryDifficulty) && req.Has(schema.CategoryObjectives)) ||
			in.Intent.Progress {
			return schema.StageConfirmation
		}
	}
	return current
}
