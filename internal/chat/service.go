package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/RichardoC/localchat/internal/db"
	"github.com/RichardoC/localchat/internal/llm"
	"github.com/RichardoC/localchat/internal/models"
)

var (
	ErrEmptyMessage         = errors.New("message is empty")
	ErrConversationNotFound = errors.New("conversation not found")
)

// Store is everything the chat service needs from persistence.
type Store interface {
	MessageLister
	TurnStore
	CreateConversation(ctx context.Context, title string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id int64) (*models.Conversation, error)
}

type Options struct {
	SystemPrompt string
	HistoryTurns int
	Streaming    bool
}

// Service owns the conversation lifecycle around a turn: it creates or
// resolves the conversation, builds the windowed history and runs the
// pipeline.
type Service struct {
	store    Store
	history  *HistoryBuilder
	pipeline *Pipeline
	logger   *zap.Logger
}

func NewService(store Store, gateway llm.Gateway, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store: store,
		history: &HistoryBuilder{
			Store:        store,
			SystemPrompt: opts.SystemPrompt,
			Turns:        opts.HistoryTurns,
		},
		pipeline: &Pipeline{
			Gateway:   gateway,
			Store:     store,
			Streaming: opts.Streaming,
			Logger:    logger,
		},
		logger: logger,
	}
}

type Request struct {
	Message        string
	ConversationID int64
}

// Chat runs one turn and reports the conversation it landed in. For a new
// conversation the id event is emitted before any content.
func (s *Service) Chat(ctx context.Context, req Request, emit Emitter) (int64, Result) {
	if strings.TrimSpace(req.Message) == "" {
		return req.ConversationID, s.reject(ErrEmptyMessage, emit)
	}

	convID := req.ConversationID
	if convID == 0 {
		conv, err := s.store.CreateConversation(ctx, DeriveTitle(req.Message))
		if err != nil {
			return 0, s.reject(err, emit)
		}
		convID = conv.ID
		s.logger.Info("conversation created", zap.Int64("conversation_id", convID), zap.String("title", conv.Title))
		if err := emit(Event{Type: EventConversationID, ConversationID: convID}); err != nil {
			return convID, Result{Outcome: Failed, Reason: &errDelivery{err: err}}
		}
	} else if _, err := s.store.GetConversation(ctx, convID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			err = fmt.Errorf("conversation %d: %w", convID, ErrConversationNotFound)
		}
		return convID, s.reject(err, emit)
	}

	history, err := s.history.Build(ctx, convID)
	if err != nil {
		return convID, s.reject(err, emit)
	}
	messages := append(history, llm.Message{Role: llm.RoleUser, Content: req.Message})

	return convID, s.pipeline.Run(ctx, convID, req.Message, messages, emit)
}

func (s *Service) reject(err error, emit Emitter) Result {
	s.logger.Warn("chat request rejected", zap.Error(err))
	if emitErr := emit(Event{Type: EventError, Error: err.Error()}); emitErr != nil {
		s.logger.Debug("caller left before error", zap.Error(emitErr))
	}
	return Result{Outcome: Failed, Reason: err}
}
