package chat

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichardoC/localchat/internal/llm"
)

// droppingOllama streams one fragment and then cuts the connection; blocking
// requests get the full reply.
func droppingOllama(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	line := func(content string, done bool) string {
		b, _ := json.Marshal(map[string]any{
			"message": map[string]string{"role": "assistant", "content": content},
			"done":    done,
		})
		return string(b) + "\n"
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Stream bool `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !req.Stream {
			io.WriteString(w, line(reply, true))
			return
		}
		io.WriteString(w, line("Hel", false))
		w.(http.Flusher).Flush()
		if conn, _, err := w.(http.Hijacker).Hijack(); err == nil {
			conn.Close()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPipeline_OllamaDropFallsBack(t *testing.T) {
	srv := droppingOllama(t, "fallback text")
	gw, err := llm.New(llm.Options{Provider: "ollama", BaseURL: srv.URL, Model: "gemma:2b", Timeout: time.Second})
	require.NoError(t, err)

	store := newStore(t)
	conv := newConversation(t, store)
	rec := &recorder{}

	res := runPipeline(t, gw, store, conv.ID, true, rec)

	require.Equal(t, Completed, res.Outcome)
	assert.True(t, res.FellBack)
	assert.Equal(t, "fallback text", res.Text)
	require.Len(t, rec.events, 4)
	assert.Equal(t, content("Hel"), rec.events[0])
	assert.Equal(t, EventFallback, rec.events[1].Type)
	assert.Contains(t, rec.events[1].Error, llm.ErrIncompleteResponse.Error())
	assert.Equal(t, []Event{content("fallback text"), done}, rec.events[2:])

	msgs := messagesOf(t, store, conv.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "fallback text", msgs[1].Content)
}
