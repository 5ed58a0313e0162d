package llm

import (
	"fmt"
	"strings"

	"github.com/mudd00/sensorgamehub-sub001/pkg/schema"
)

// PromptVariant selects the extra instructions appended on a retry.
type PromptVariant int

const (
	// PromptStandard is the first attempt.
	PromptStandard PromptVariant = iota
	// PromptStrict follows an attempt whose output had no recognizable artifact.
	PromptStrict
	// PromptConcise follows an attempt that ran out of output tokens.
	PromptConcise
)

func (v PromptVariant) String() string {
	switch v {
	case PromptStrict:
		return "strict"
	case PromptConcise:
		return "concise"
	default:
		return "standard"
	}
}

// GameContract lists the integration rules every generated game must follow.
const GameContract = `
GAME CONTRACT:
- One self-contained HTML document starting with <!DOCTYPE html>.
- <meta name="viewport" content="width=device-width, initial-scale=1.0"> and a <title>.
- Include <script src="/js/SessionSDK.js"></script> before the game script.
- Create the SDK with new SessionSDK({ gameId, gameType }) and call sdk.createSession() after the 'connected' event.
- Show the session code from the 'session-created' event on screen.
- Handle sdk.on('sensor-data', ...) and read data.orientation (beta, gamma) and data.acceleration.
- Clamp or smooth sensor values before applying them.
- Drive the game with requestAnimationFrame, split into update() and render().
- Keep a score, detect win/lose, support game over and restart.
- Draw on a full-screen <canvas> and include a <style> block.
`

// BuildGenerationPrompt creates the single generation prompt for a confirmed
// requirement snapshot and its reference context.
func BuildGenerationPrompt(req *schema.Requirements, reference string, variant PromptVariant) string {
	var b strings.Builder

	b.WriteString("You are generating a browser game controlled by a phone's motion sensors.\n\n")
	b.WriteString("REQUIREMENTS:\n")
	b.WriteString(formatRequirements(req))
	b.WriteString("\n")
	b.WriteString(GameContract)

	if strings.TrimSpace(reference) != "" {
		b.WriteString("\nREFERENCE:\n")
		b.WriteString(strings.TrimSpace(reference))
		b.WriteString("\n")
	}

	if req.Genre != "" {
		fmt.Fprintf(&b, "\nAdd <meta name=\"game-genre\" content=\"%s\"> to the head.\n", req.Genre)
	}

	switch variant {
	case PromptStrict:
		b.WriteString(`
PREVIOUS ATTEMPT FAILED:
No HTML document could be found in your answer.
Return exactly one fenced block that starts with ` + "```html" + ` and contains the complete document. No other text.
`)
	case PromptConcise:
		b.WriteString(`
PREVIOUS ATTEMPT WAS CUT OFF:
The answer exceeded the output limit. Keep the game small: short names, no comments, no unused code.
`)
	}

	b.WriteString("\nReturn the complete HTML document in a single ```html fenced block.")
	return b.String()
}

func formatRequirements(req *schema.Requirements) string {
	var lines []string
	add := func(label, value string) {
		if value != "" {
			lines = append(lines, fmt.Sprintf("- %s: %s", label, value))
		}
	}
	add("Title", req.Title)
	add("Description", req.Description)
	add("Genre", req.Genre)
	add("Players", string(req.PlayerMode))
	add("Sensor mechanics", strings.Join(req.Mechanics, ", "))
	add("Difficulty", req.Difficulty)
	add("Objectives", strings.Join(req.Objectives, ", "))
	add("Visual style", req.VisualStyle)
	add("Round length", req.Duration)
	add("Scored by", req.TargetMetric)
	if len(lines) == 0 {
		return "- (none)\n"
	}
	return strings.Join(lines, "\n") + "\n"
}

// GameType maps a player mode to the SDK game type.
func GameType(mode schema.PlayerMode) string {
	switch mode {
	case schema.PlayerDual:
		return "dual"
	case schema.PlayerMulti:
		return "multi"
	default:
		return "solo"
	}
}
