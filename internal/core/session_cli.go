package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mudd00/sensorgamehub-sub001/internal/conversation"
	"github.com/mudd00/sensorgamehub-sub001/pkg/schema"
)

// CLISession drives one conversation from a terminal.
type CLISession struct {
	Service *Service
	in      *bufio.Reader
	out     io.Writer
}

// NewCLISession creates a CLI session reading turns from in and printing to out.
func NewCLISession(svc *Service, in io.Reader, out io.Writer) *CLISession {
	return &CLISession{Service: svc, in: bufio.NewReader(in), out: out}
}

// Run executes the interactive loop until the user quits, input ends or a game
// is accepted. A non-empty initialPrompt is submitted as the first turn.
func (s *CLISession) Run(ctx context.Context, initialPrompt string) error {
	view, err := s.Service.StartSession("")
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	id := view.ID
	s.printf("🎮 Session %s started. Describe the sensor game you want.\n", id)
	s.printf("   Commands: /status /restart /retry /quit\n")

	prompt := strings.TrimSpace(initialPrompt)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if prompt == "" {
			s.printf("\n> ")
			line, err := s.in.ReadString('\n')
			prompt = strings.TrimSpace(line)
			if err != nil {
				if errors.Is(err, io.EOF) && prompt == "" {
					s.printf("\n👋 Bye\n")
					return nil
				}
				if !errors.Is(err, io.EOF) {
					return fmt.Errorf("read input: %w", err)
				}
			}
			if prompt == "" {
				continue
			}
		}

		done, err := s.handle(ctx, id, prompt)
		prompt = ""
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// handle processes one input line; it reports true when the loop should end.
func (s *CLISession) handle(ctx context.Context, id, line string) (bool, error) {
	switch strings.ToLower(line) {
	case "/quit", "/exit":
		s.printf("👋 Bye\n")
		return true, nil
	case "/status":
		v, err := s.Service.Get(ctx, id)
		if err != nil {
			return false, err
		}
		s.printStatus(v)
		return false, nil
	case "/restart":
		if _, err := s.Service.Restart(id); err != nil {
			s.printf("⚠️  %v\n", err)
			return false, nil
		}
		s.printf("🔄 Starting over. What game would you like?\n")
		return false, nil
	case "/retry":
		v, err := s.Service.Retry(id)
		if err != nil {
			s.printf("⚠️  %v\n", err)
			return false, nil
		}
		s.printf("🔁 Back to confirmation.\n%s\n", conversation.Summary(&v.Requirements))
		return false, nil
	}

	res, err := s.Service.SubmitTurn(id, line)
	if err != nil {
		var pe *schema.PreconditionError
		if errors.As(err, &pe) || errors.Is(err, conversation.ErrEmptyTurn) {
			s.printf("⚠️  %v\n", err)
			return false, nil
		}
		return false, err
	}
	s.printf("\n🤖 %s\n", res.Reply)
	s.printf("   [%s · %d%%]\n", res.Stage, res.Progress)
	if !res.ReadyToGenerate {
		return false, nil
	}
	return s.generate(ctx, id)
}

func (s *CLISession) generate(ctx context.Context, id string) (bool, error) {
	s.printf("\n⚙️  Generating your game...\n")
	out, err := s.Service.ConfirmAndGenerate(ctx, id)
	if err != nil && out == nil {
		var pe *schema.PreconditionError
		var inflight *schema.RunInFlightError
		if errors.As(err, &pe) || errors.As(err, &inflight) {
			s.printf("⚠️  %v\n", err)
			return false, nil
		}
		return false, err
	}
	if v := out.Validation; v != nil {
		s.printf("📊 Quality score: %d/%d (%.0f%%)\n", v.Score, v.MaxScore, v.Percent())
		for _, e := range v.Errors {
			s.printf("  [x] %s\n", truncate(e, 100))
		}
		for _, w := range v.Warnings {
			s.printf("  [!] %s\n", truncate(w, 100))
		}
	}
	if !out.Accepted() {
		s.printf("❌ %s\n", out.Error)
		s.printf("   Type /retry to try again or /restart to start over.\n")
		return false, nil
	}
	s.printf("✅ Game saved as %s\n", out.ArtifactID)
	if out.Locator != "" {
		s.printf("   %s\n", out.Locator)
	}
	if out.PublicURL != "" {
		s.printf("   %s\n", out.PublicURL)
	}
	s.printf("\n✨ Done!\n")
	return true, nil
}

func (s *CLISession) printStatus(v schema.SessionView) {
	s.printf("📋 Session %s\n", v.ID)
	s.printf("   Stage: %s\n", v.Stage)
	s.printf("   Completion: %d%%\n", v.CompletionScore)
	if v.LastError != "" {
		s.printf("   Last error: %s\n", truncate(v.LastError, 100))
	}
	s.printf("%s\n", conversation.Summary(&v.Requirements))
}

func (s *CLISession) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.out, format, args...)
}

// truncate truncates a string to max length.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
