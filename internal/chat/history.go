package chat

import (
	"context"
	"fmt"

	"github.com/RichardoC/localchat/internal/llm"
	"github.com/RichardoC/localchat/internal/models"
)

// MessageLister is the part of the store the history builder reads from.
type MessageLister interface {
	ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error)
}

// Window keeps the last 2*turns stored messages, in order, behind a system
// message. Storage itself is never trimmed.
func Window(systemPrompt string, stored []models.Message, turns int) []llm.Message {
	keep := 2 * turns
	if keep < 0 {
		keep = 0
	}
	if len(stored) > keep {
		stored = stored[len(stored)-keep:]
	}

	out := make([]llm.Message, 0, len(stored)+2)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	for _, m := range stored {
		role := llm.RoleUser
		if m.Role == models.RoleAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

type HistoryBuilder struct {
	Store        MessageLister
	SystemPrompt string
	Turns        int
}

// Build returns the windowed history for a conversation. A zero id is a
// conversation that has not been stored yet.
func (b *HistoryBuilder) Build(ctx context.Context, conversationID int64) ([]llm.Message, error) {
	if conversationID == 0 {
		return Window(b.SystemPrompt, nil, b.Turns), nil
	}
	stored, err := b.Store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return Window(b.SystemPrompt, stored, b.Turns), nil
}
