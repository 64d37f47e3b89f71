package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/RichardoC/localchat/internal/llm"
	"github.com/RichardoC/localchat/internal/metrics"
)

type State int

const (
	StateIdle State = iota
	StateStreaming
	StateStreamFailed
	StateFallback
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateStreamFailed:
		return "stream_failed"
	case StateFallback:
		return "fallback"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type Outcome int

const (
	Completed Outcome = iota
	Failed
)

// Result is Completed{Text} or Failed{Reason}.
type Result struct {
	Outcome Outcome
	Text    string
	Reason  error
	// FellBack is set when the text came from the blocking call after the
	// stream broke.
	FellBack bool
}

// TurnStore persists a finished turn atomically.
type TurnStore interface {
	AppendTurn(ctx context.Context, conversationID int64, userText, assistantText string) error
}

// Pipeline drives the gateway for one turn: stream, fall back to a single
// blocking call if the stream breaks, persist only completed turns.
type Pipeline struct {
	Gateway   llm.Gateway
	Store     TurnStore
	Streaming bool
	Logger    *zap.Logger
}

type turn struct {
	p      *Pipeline
	log    *zap.Logger
	state  State
	convID int64
	user   string
	emit   Emitter
}

func (p *Pipeline) Run(ctx context.Context, conversationID int64, userText string, messages []llm.Message, emit Emitter) Result {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &turn{
		p:      p,
		log:    logger.With(zap.Int64("conversation_id", conversationID)),
		state:  StateIdle,
		convID: conversationID,
		user:   userText,
		emit:   emit,
	}

	start := time.Now()
	var res Result
	if p.Streaming {
		res = t.stream(ctx, messages)
	} else {
		res = t.blocking(ctx, messages)
	}

	outcome := outcomeLabel(res)
	metrics.TurnsTotal.WithLabelValues(outcome).Inc()
	metrics.TurnDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return res
}

func outcomeLabel(res Result) string {
	switch {
	case res.Outcome == Completed && res.FellBack:
		return metrics.OutcomeFallback
	case res.Outcome == Completed:
		return metrics.OutcomeCompleted
	case isAbort(res.Reason):
		return metrics.OutcomeAborted
	default:
		return metrics.OutcomeFailed
	}
}

func (t *turn) to(next State, fields ...zap.Field) {
	t.log.Debug("turn state change",
		append(fields, zap.Stringer("from", t.state), zap.Stringer("to", next))...)
	t.state = next
}

// errDelivery marks a failure to hand an event to the caller.
type errDelivery struct{ err error }

func (e *errDelivery) Error() string { return "failed to deliver event: " + e.err.Error() }
func (e *errDelivery) Unwrap() error { return e.err }

func isAbort(err error) bool {
	var de *errDelivery
	return errors.As(err, &de) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (t *turn) stream(ctx context.Context, messages []llm.Message) Result {
	t.to(StateStreaming)

	var (
		acc         strings.Builder
		fragments   int
		deliveryErr error
	)
	err := t.p.Gateway.Stream(ctx, messages, func(fragment string) error {
		acc.WriteString(fragment)
		if err := t.emit(Event{Type: EventContent, Content: fragment}); err != nil {
			deliveryErr = &errDelivery{err: err}
			return deliveryErr
		}
		fragments++
		metrics.FragmentsTotal.Inc()
		return nil
	})
	if deliveryErr != nil {
		return t.abort(deliveryErr)
	}
	if ctx.Err() != nil {
		return t.abort(ctx.Err())
	}
	if err == nil {
		return t.complete(ctx, acc.String(), false, zap.Int("fragments", fragments))
	}

	t.to(StateStreamFailed, zap.Error(err), zap.Int("fragments", fragments))
	t.log.Warn("streaming failed, falling back to blocking call", zap.Error(err))
	metrics.StreamFallbacksTotal.Inc()
	acc.Reset()

	t.to(StateFallback)
	if emitErr := t.emit(Event{Type: EventFallback, Error: err.Error()}); emitErr != nil {
		return t.abort(&errDelivery{err: emitErr})
	}
	return t.invoke(ctx, messages, true)
}

func (t *turn) blocking(ctx context.Context, messages []llm.Message) Result {
	return t.invoke(ctx, messages, false)
}

func (t *turn) invoke(ctx context.Context, messages []llm.Message, fellBack bool) Result {
	text, err := t.p.Gateway.Invoke(ctx, messages)
	if ctx.Err() != nil {
		return t.abort(ctx.Err())
	}
	if err != nil {
		return t.fail(err)
	}
	if err := t.emit(Event{Type: EventContent, Content: text}); err != nil {
		return t.abort(&errDelivery{err: err})
	}
	return t.complete(ctx, text, fellBack)
}

func (t *turn) complete(ctx context.Context, text string, fellBack bool, fields ...zap.Field) Result {
	if err := t.p.Store.AppendTurn(ctx, t.convID, t.user, text); err != nil {
		return t.fail(err)
	}
	t.to(StateCompleted, fields...)
	if err := t.emit(Event{Type: EventDone}); err != nil {
		t.log.Debug("caller left before done", zap.Error(err))
	}
	return Result{Outcome: Completed, Text: text, FellBack: fellBack}
}

func (t *turn) fail(err error) Result {
	t.to(StateFailed, zap.Error(err))
	t.log.Error("turn failed", zap.Error(err))
	if emitErr := t.emit(Event{Type: EventError, Error: err.Error()}); emitErr != nil {
		t.log.Debug("caller left before error", zap.Error(emitErr))
	}
	return Result{Outcome: Failed, Reason: err}
}

// abort ends the turn silently: the caller is gone, so nothing is emitted and
// nothing is stored.
func (t *turn) abort(reason error) Result {
	t.to(StateFailed, zap.Error(reason))
	t.log.Info("turn aborted", zap.Error(reason))
	return Result{Outcome: Failed, Reason: reason}
}
