package chat

import "strings"

const (
	DefaultTitle   = "New Conversation"
	titleWords     = 6
	titleMaxLength = 50
)

// DeriveTitle builds a conversation title from the first user message: its
// first six words, cut to 47 characters plus an ellipsis when longer than 50.
func DeriveTitle(message string) string {
	words := strings.Fields(message)
	if len(words) > titleWords {
		words = words[:titleWords]
	}
	title := strings.Join(words, " ")
	if r := []rune(title); len(r) > titleMaxLength {
		title = string(r[:titleMaxLength-3]) + "..."
	}
	if title == "" {
		return DefaultTitle
	}
	return title
}
