package chat

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichardoC/localchat/internal/db"
	"github.com/RichardoC/localchat/internal/llm"
	"github.com/RichardoC/localchat/internal/models"
)

// scriptedGateway streams the configured fragments and then returns
// streamErr; Invoke returns invokeText or invokeErr.
type scriptedGateway struct {
	fragments  []string
	streamErr  error
	invokeText string
	invokeErr  error

	streamCalls int
	invokeCalls int
	gotMessages []llm.Message
}

func (g *scriptedGateway) Stream(ctx context.Context, messages []llm.Message, onFragment func(string) error) error {
	g.streamCalls++
	g.gotMessages = messages
	for _, f := range g.fragments {
		if err := onFragment(f); err != nil {
			return err
		}
	}
	return g.streamErr
}

func (g *scriptedGateway) Invoke(ctx context.Context, messages []llm.Message) (string, error) {
	g.invokeCalls++
	g.gotMessages = messages
	return g.invokeText, g.invokeErr
}

type recorder struct {
	events []Event
	failOn EventType
}

func (r *recorder) emit(e Event) error {
	if r.failOn != "" && e.Type == r.failOn {
		return errors.New("broken pipe")
	}
	r.events = append(r.events, e)
	return nil
}

func content(s string) Event { return Event{Type: EventContent, Content: s} }

var done = Event{Type: EventDone}

func fallback(reason string) Event { return Event{Type: EventFallback, Error: reason} }

func newStore(t *testing.T) *db.Database {
	t.Helper()
	store, err := db.New(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newConversation(t *testing.T, store *db.Database) *models.Conversation {
	t.Helper()
	conv, err := store.CreateConversation(context.Background(), "test")
	require.NoError(t, err)
	return conv
}

func messagesOf(t *testing.T, store *db.Database, convID int64) []models.Message {
	t.Helper()
	msgs, err := store.ListMessages(context.Background(), convID)
	require.NoError(t, err)
	return msgs
}

func runPipeline(t *testing.T, gw llm.Gateway, store *db.Database, convID int64, streaming bool, rec *recorder) Result {
	t.Helper()
	p := &Pipeline{Gateway: gw, Store: store, Streaming: streaming}
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: "sys"}, {Role: llm.RoleUser, Content: "question"}}
	return p.Run(context.Background(), convID, "question", msgs, rec.emit)
}

func TestPipeline_StreamingSuccess(t *testing.T) {
	store := newStore(t)
	conv := newConversation(t, store)
	gw := &scriptedGateway{fragments: []string{"Hel", "lo"}}
	rec := &recorder{}

	res := runPipeline(t, gw, store, conv.ID, true, rec)

	assert.Equal(t, Completed, res.Outcome)
	assert.Equal(t, "Hello", res.Text)
	assert.False(t, res.FellBack)
	assert.Equal(t, []Event{content("Hel"), content("lo"), done}, rec.events)
	assert.Equal(t, 0, gw.invokeCalls)

	msgs := messagesOf(t, store, conv.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "question", msgs[0].Content)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hello", msgs[1].Content)
}

func TestPipeline_FallbackAfterZeroFragments(t *testing.T) {
	store := newStore(t)
	conv := newConversation(t, store)
	gw := &scriptedGateway{streamErr: errors.New("stream dropped"), invokeText: "fallback text"}
	rec := &recorder{}

	res := runPipeline(t, gw, store, conv.ID, true, rec)

	assert.Equal(t, Completed, res.Outcome)
	assert.True(t, res.FellBack)
	assert.Equal(t, []Event{fallback("stream dropped"), content("fallback text"), done}, rec.events)
	assert.Equal(t, 1, gw.invokeCalls)

	msgs := messagesOf(t, store, conv.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "fallback text", msgs[1].Content)
}

func TestPipeline_FallbackDiscardsPartialStream(t *testing.T) {
	store := newStore(t)
	conv := newConversation(t, store)
	gw := &scriptedGateway{
		fragments:  []string{"partial "},
		streamErr:  errors.New("stream dropped"),
		invokeText: "complete answer",
	}
	rec := &recorder{}

	res := runPipeline(t, gw, store, conv.ID, true, rec)

	assert.Equal(t, Completed, res.Outcome)
	assert.Equal(t, "complete answer", res.Text)
	assert.Equal(t, []Event{content("partial "), fallback("stream dropped"), content("complete answer"), done}, rec.events)

	msgs := messagesOf(t, store, conv.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "complete answer", msgs[1].Content)
}

func TestPipeline_TotalFailure(t *testing.T) {
	store := newStore(t)
	conv := newConversation(t, store)
	require.NoError(t, store.AppendTurn(context.Background(), conv.ID, "earlier", "reply"))
	before := len(messagesOf(t, store, conv.ID))

	gw := &scriptedGateway{streamErr: errors.New("stream dropped"), invokeErr: errors.New("model crashed")}
	rec := &recorder{}

	res := runPipeline(t, gw, store, conv.ID, true, rec)

	assert.Equal(t, Failed, res.Outcome)
	assert.ErrorContains(t, res.Reason, "model crashed")
	require.Len(t, rec.events, 2)
	assert.Equal(t, fallback("stream dropped"), rec.events[0])
	assert.Equal(t, EventError, rec.events[1].Type)
	assert.Equal(t, "model crashed", rec.events[1].Error)
	assert.Len(t, messagesOf(t, store, conv.ID), before)
}

func TestPipeline_NonStreamingUsesBlockingCall(t *testing.T) {
	store := newStore(t)
	conv := newConversation(t, store)
	gw := &scriptedGateway{invokeText: "whole reply"}
	rec := &recorder{}

	res := runPipeline(t, gw, store, conv.ID, false, rec)

	assert.Equal(t, Completed, res.Outcome)
	assert.False(t, res.FellBack)
	assert.Equal(t, 0, gw.streamCalls)
	assert.Equal(t, []Event{content("whole reply"), done}, rec.events)
	assert.Len(t, messagesOf(t, store, conv.ID), 2)
}

func TestPipeline_ClientGoneMidStream(t *testing.T) {
	store := newStore(t)
	conv := newConversation(t, store)
	gw := &scriptedGateway{fragments: []string{"a", "b"}, invokeText: "never"}
	rec := &recorder{failOn: EventContent}

	res := runPipeline(t, gw, store, conv.ID, true, rec)

	assert.Equal(t, Failed, res.Outcome)
	assert.True(t, isAbort(res.Reason))
	assert.Equal(t, 0, gw.invokeCalls, "no fallback once the caller is gone")
	assert.Empty(t, rec.events)
	assert.Empty(t, messagesOf(t, store, conv.ID))
}

func TestPipeline_CancelledContext(t *testing.T) {
	store := newStore(t)
	conv := newConversation(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	gw := &cancellingGateway{cancel: cancel}
	rec := &recorder{}
	p := &Pipeline{Gateway: gw, Store: store, Streaming: true}

	res := p.Run(ctx, conv.ID, "question", nil, rec.emit)

	assert.Equal(t, Failed, res.Outcome)
	assert.ErrorIs(t, res.Reason, context.Canceled)
	assert.False(t, gw.invoked)
	assert.Equal(t, []Event{content("half")}, rec.events)
	assert.Empty(t, messagesOf(t, store, conv.ID))
}

type cancellingGateway struct {
	cancel  context.CancelFunc
	invoked bool
}

func (g *cancellingGateway) Stream(ctx context.Context, _ []llm.Message, onFragment func(string) error) error {
	if err := onFragment("half"); err != nil {
		return err
	}
	g.cancel()
	return ctx.Err()
}

func (g *cancellingGateway) Invoke(context.Context, []llm.Message) (string, error) {
	g.invoked = true
	return "", nil
}

func TestPipeline_PersistFailureIsError(t *testing.T) {
	store := newStore(t)
	gw := &scriptedGateway{fragments: []string{"orphan"}}
	rec := &recorder{}

	res := runPipeline(t, gw, store, 404, true, rec)

	assert.Equal(t, Failed, res.Outcome)
	assert.ErrorIs(t, res.Reason, db.ErrNotFound)
	require.Len(t, rec.events, 2)
	assert.Equal(t, content("orphan"), rec.events[0])
	assert.Equal(t, EventError, rec.events[1].Type)
	for _, e := range rec.events {
		assert.NotEqual(t, EventDone, e.Type)
	}
}

func TestPipeline_ClientGoneAtFallback(t *testing.T) {
	store := newStore(t)
	conv := newConversation(t, store)
	gw := &scriptedGateway{streamErr: errors.New("stream dropped"), invokeText: "never"}
	rec := &recorder{failOn: EventFallback}

	res := runPipeline(t, gw, store, conv.ID, true, rec)

	assert.Equal(t, Failed, res.Outcome)
	assert.True(t, isAbort(res.Reason))
	assert.Equal(t, 0, gw.invokeCalls)
	assert.Empty(t, messagesOf(t, store, conv.ID))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "stream_failed", StateStreamFailed.String())
	assert.Equal(t, "fallback", StateFallback.String())
	assert.Equal(t, "unknown", State(99).String())
}
