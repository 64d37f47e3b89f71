package chat

import "encoding/json"

type EventType string

const (
	EventConversationID EventType = "conversation_id"
	EventContent        EventType = "content"
	EventDone           EventType = "done"
	EventError          EventType = "error"

	// EventFallback announces that the stream broke and a blocking call
	// follows. Already emitted fragments are superseded by the next content
	// event. It is a local signal and is not part of the HTTP event stream.
	EventFallback EventType = "fallback"
)

// Event is one message pushed to the caller while a turn runs.
type Event struct {
	Type           EventType
	ConversationID int64
	Content        string
	Error          string
}

// Emitter delivers events to the caller. A non-nil error means the caller
// is gone and the turn should be abandoned.
type Emitter func(Event) error

// MarshalJSON renders only the fields that belong to the event type, so a
// content event with empty text still carries "content".
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventConversationID:
		return json.Marshal(struct {
			Type           EventType `json:"type"`
			ConversationID int64     `json:"conversation_id"`
		}{e.Type, e.ConversationID})
	case EventContent:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Content string    `json:"content"`
		}{e.Type, e.Content})
	case EventError:
		return json.Marshal(struct {
			Type  EventType `json:"type"`
			Error string    `json:"error"`
		}{e.Type, e.Error})
	default:
		return json.Marshal(struct {
			Type EventType `json:"type"`
		}{e.Type})
	}
}
