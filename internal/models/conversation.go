package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	ID        int64     `json:"id"`
	ConvID    int64     `json:"conversation_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type Conversation struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationWithMessages is the API shape for a conversation. Listings
// carry an empty message slice.
type ConversationWithMessages struct {
	Conversation
	Messages []Message `json:"messages"`
}
