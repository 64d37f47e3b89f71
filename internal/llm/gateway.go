package llm

import "context"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the ordered list sent to the model.
type Message struct {
	Role    Role
	Content string
}

// Gateway is the model-serving capability. Implementations are stateless per
// call.
type Gateway interface {
	// Stream calls onFragment for every non-empty fragment in generation
	// order. An error from onFragment stops the stream and is returned.
	Stream(ctx context.Context, messages []Message, onFragment func(string) error) error
	// Invoke blocks until the complete response is available.
	Invoke(ctx context.Context, messages []Message) (string, error)
}
