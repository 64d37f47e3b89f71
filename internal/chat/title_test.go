package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"short", "hello there", "hello there"},
		{"six words kept", "hello world this is a very long first message indeed surely", "hello world this is a very"},
		{"whitespace collapsed", "  what\tis\n\nGo   ", "what is Go"},
		{"empty", "", DefaultTitle},
		{"whitespace only", " \t\n ", DefaultTitle},
		{
			"long words truncated",
			"internationalization localization containerization orchestration observability",
			"internationalization localization containerizat...",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveTitle(tt.input))
		})
	}
}

func TestDeriveTitle_LengthBound(t *testing.T) {
	long := strings.Repeat("x", 30) + " " + strings.Repeat("y", 30)
	title := DeriveTitle(long)
	assert.Len(t, []rune(title), 50)
	assert.True(t, strings.HasSuffix(title, "..."))

	exactly50 := strings.Repeat("a", 25) + " " + strings.Repeat("b", 24)
	assert.Equal(t, exactly50, DeriveTitle(exactly50))
}

func TestDeriveTitle_CountsRunes(t *testing.T) {
	title := DeriveTitle(strings.Repeat("é", 60))
	assert.Equal(t, strings.Repeat("é", 47)+"...", title)
}
