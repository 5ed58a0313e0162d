package conversation

import (
	"fmt"
	"strings"

	"github.com/mudd00/sensorgamehub-sub001/pkg/schema"
)

var stageIntro = map[schema.Stage]string{
	schema.StageDetails:      "Nice idea! Let's pin down the details.",
	schema.StageMechanics:    "Great. Now let's talk about how it plays.",
	schema.StageConfirmation: "I think I have everything I need.",
}

// composeReply renders the assistant answer for a processed turn. The text depends
// only on its inputs.
func composeReply(stage schema.Stage, transitioned bool, q *schema.Question, req *schema.Requirements) string {
	var b strings.Builder
	if transitioned {
		if intro, ok := stageIntro[stage]; ok {
			b.WriteString(intro)
			b.WriteString(" ")
		}
	} else if stage.Collecting() {
		b.WriteString("Got it. ")
	}

	switch {
	case stage == schema.StageConfirmation && req.Confirmed:
		b.WriteString("Confirmed. I'll start building your game now.")
	case stage == schema.StageConfirmation:
		b.WriteString(Summary(req))
		b.WriteString(" Say \"generate\" to build it, or tell me what to change.")
	case q != nil:
		b.WriteString(q.Text)
	default:
		b.WriteString("Say \"next\" when you're ready to move on.")
	}
	return b.String()
}

// Summary describes a requirement snapshot in one paragraph.
func Summary(req *schema.Requirements) string {
	title := req.Title
	if title == "" {
		title = "Untitled game"
	}
	parts := []string{fmt.Sprintf("Here is the plan for %q:", title)}
	add := func(label, v string) {
		if v != "" {
			parts = append(parts, fmt.Sprintf("%s %s;", label, v))
		}
	}
	add("genre", req.Genre)
	add("players", string(req.PlayerMode))
	add("controls", strings.Join(req.Mechanics, ", "))
	add("difficulty", req.Difficulty)
	add("goals", strings.Join(req.Objectives, ", "))
	add("style", req.VisualStyle)
	add("round length", req.Duration)
	add("scored by", req.TargetMetric)
	out := strings.Join(parts, " ")
	return strings.TrimSuffix(out, ";") + "."
}
