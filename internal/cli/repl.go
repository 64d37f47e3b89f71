package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"
	"go.uber.org/zap"

	"github.com/RichardoC/localchat/internal/chat"
	"github.com/RichardoC/localchat/internal/models"
)

var (
	bannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("141")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")).
			Bold(true)
)

const (
	userPrompt = "You: "
	farewell   = "Bye!"
)

// LineReader is the subset of *liner.State the loop needs.
type LineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

// Chatter runs one chat turn.
type Chatter interface {
	Chat(ctx context.Context, req chat.Request, emit chat.Emitter) (int64, chat.Result)
}

type REPL struct {
	chat   Chatter
	in     LineReader
	out    io.Writer
	logger *zap.Logger

	conversationID int64
}

func NewREPL(chatter Chatter, in LineReader, out io.Writer, logger *zap.Logger) *REPL {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &REPL{chat: chatter, in: in, out: out, logger: logger}
}

// Resume continues an existing conversation and replays its messages.
func (r *REPL) Resume(conv models.Conversation, messages []models.Message) {
	r.conversationID = conv.ID
	fmt.Fprintln(r.out, infoStyle.Render(fmt.Sprintf("Resuming %q (%d messages)", conv.Title, len(messages))))
	for _, m := range messages {
		if m.Role == models.RoleUser {
			fmt.Fprintln(r.out, userPrompt+m.Content)
			continue
		}
		fmt.Fprintln(r.out, assistantStyle.Render("Assistant:")+" "+m.Content)
	}
}

// ConversationID is the conversation the session is currently writing to,
// zero before the first turn.
func (r *REPL) ConversationID() int64 {
	return r.conversationID
}

// Banner prints the startup header.
func (r *REPL) Banner(model, baseURL string) {
	fmt.Fprintln(r.out, bannerStyle.Render("Local LLM Chat"))
	fmt.Fprintln(r.out, infoStyle.Render(fmt.Sprintf("Model: %s at %s", model, baseURL)))
	fmt.Fprintln(r.out, infoStyle.Render("Type /exit, exit, quit or /quit to leave."))
	fmt.Fprintln(r.out)
}

// Run reads lines until an exit command, EOF, Ctrl-C or ctx cancellation.
func (r *REPL) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			r.bye()
			return nil
		}

		line, err := r.in.Prompt(userPrompt)
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Fprintln(r.out)
			r.bye()
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		r.in.AppendHistory(line)
		if IsExitCommand(text) {
			r.bye()
			return nil
		}

		r.turn(ctx, text)
	}
}

func (r *REPL) turn(ctx context.Context, text string) {
	fmt.Fprint(r.out, assistantStyle.Render("Assistant:")+" ")

	printed := false
	emit := func(e chat.Event) error {
		switch e.Type {
		case chat.EventContent:
			printed = true
			_, err := io.WriteString(r.out, e.Content)
			return err
		case chat.EventFallback:
			if printed {
				fmt.Fprintln(r.out)
			}
			fmt.Fprintln(r.out, warningStyle.Render("Streaming error: "+e.Error+". Retrying without streaming."))
			fmt.Fprint(r.out, assistantStyle.Render("Assistant:")+" ")
			printed = false
		case chat.EventError:
			if printed {
				fmt.Fprintln(r.out)
			}
			fmt.Fprintln(r.out, errorStyle.Render("Error: "+e.Error))
			printed = false
		case chat.EventDone:
			fmt.Fprintln(r.out)
			printed = false
		}
		return nil
	}

	convID, res := r.chat.Chat(ctx, chat.Request{Message: text, ConversationID: r.conversationID}, emit)
	if convID != 0 {
		r.conversationID = convID
	}
	if res.Outcome == chat.Failed {
		if printed {
			fmt.Fprintln(r.out)
		}
		r.logger.Debug("turn failed", zap.Int64("conversation_id", convID), zap.Error(res.Reason))
	}
}

func (r *REPL) bye() {
	fmt.Fprintln(r.out, farewell)
}

// IsExitCommand reports whether input ends the session.
func IsExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "/exit", "exit", "quit", "/quit":
		return true
	}
	return false
}
