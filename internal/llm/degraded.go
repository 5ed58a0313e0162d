package llm

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/mudd00/sensorgamehub-sub001/pkg/schema"
)

// Degraded produces deterministic canned output without contacting any service.
// Runs answered by it are flagged and never accepted as final artifacts.
type Degraded struct{}

var stageReplies = map[schema.Stage]string{
	schema.StageInitial:      "Tell me about the game you have in mind.",
	schema.StageDetails:      "Let's collect the details: genre, title and a short description.",
	schema.StageMechanics:    "How should the phone control the game, and how does the player win?",
	schema.StageConfirmation: "Review the summary and say \"generate\" when you're ready.",
	schema.StageCompleted:    "Your game is ready.",
	schema.StageFailed:       "Generation failed. You can retry from the confirmation step.",
}

var placeholderTmpl = template.Must(template.New("placeholder").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  {{- if .Genre}}
  <meta name="game-genre" content="{{.Genre}}">
  {{- end}}
  <title>{{.Title}}</title>
  <style>body { margin: 0; background: #101018; color: #f0f0f0; font-family: sans-serif; }</style>
</head>
<body>
  <div id="session-code">Connecting...</div>
  <canvas id="game"></canvas>
  <script src="/js/SessionSDK.js"></script>
  <script>
    const sdk = new SessionSDK({ gameId: 'placeholder', gameType: '{{.GameType}}' });
    const canvas = document.getElementById('game');
    const ctx = canvas.getContext('2d');
    let score = 0;
    let tilt = { beta: 0, gamma: 0 };
    sdk.on('connected', () => sdk.createSession());
    sdk.on('session-created', (e) => {
      document.getElementById('session-code').textContent = (e.detail || e).sessionCode;
    });
    sdk.on('sensor-data', (e) => {
      const o = (e.detail || e).data.orientation;
      tilt = { beta: Math.max(-90, Math.min(90, o.beta)), gamma: Math.max(-90, Math.min(90, o.gamma)) };
    });
    function update() { score += Math.abs(tilt.gamma) > 10 ? 1 : 0; }
    function render() {
      ctx.clearRect(0, 0, canvas.width, canvas.height);
      ctx.fillText('Placeholder: {{.Title}} | score ' + score, 10, 20);
    }
    function loop() { update(); render(); requestAnimationFrame(loop); }
    requestAnimationFrame(loop);
  </script>
</body>
</html>`))

// Reply returns the canned text for a conversation stage.
func (Degraded) Reply(stage schema.Stage) string {
	if r, ok := stageReplies[stage]; ok {
		return r
	}
	return stageReplies[schema.StageInitial]
}

// Generate returns a placeholder game for the requirement snapshot, wrapped the
// way a live model answers.
func (Degraded) Generate(req *schema.Requirements) *Response {
	title := req.Title
	if strings.TrimSpace(title) == "" {
		title = "Untitled sensor game"
	}
	var buf bytes.Buffer
	err := placeholderTmpl.Execute(&buf, struct {
		Title, Genre, GameType string
	}{title, req.Genre, GameType(req.PlayerMode)})
	if err != nil {
		// the template is static; execution only fails on a writer error
		panic(err)
	}
	text := "```html\n" + buf.String() + "\n```"
	return &Response{
		Text:       text,
		StopReason: schema.StopReasonStop,
		Model:      "degraded",
	}
}
