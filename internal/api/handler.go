package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/RichardoC/localchat/internal/chat"
	"github.com/RichardoC/localchat/internal/db"
	"github.com/RichardoC/localchat/internal/models"
)

// ConversationStore is the read/delete side of persistence used by the
// conversation routes.
type ConversationStore interface {
	ListConversations(ctx context.Context, skip, limit int) ([]models.Conversation, error)
	GetConversation(ctx context.Context, id int64) (*models.Conversation, error)
	ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error)
	DeleteConversation(ctx context.Context, id int64) (bool, error)
	RenameConversation(ctx context.Context, id int64, title string) (bool, error)
}

// Chatter runs one chat turn.
type Chatter interface {
	Chat(ctx context.Context, req chat.Request, emit chat.Emitter) (int64, chat.Result)
}

type Handler struct {
	db     ConversationStore
	chat   Chatter
	logger *zap.Logger
}

func NewHandler(database ConversationStore, chatService Chatter, logger *zap.Logger) *Handler {
	return &Handler{
		db:     database,
		chat:   chatService,
		logger: logger,
	}
}

type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID *int64 `json:"conversation_id,omitempty"`
}

type UpdateConversationRequest struct {
	Title string `json:"title"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, detail string) {
	h.writeJSON(w, status, errorResponse{Detail: detail})
}

func (h *Handler) StreamChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		h.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	stream, ok := newSSEWriter(w)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	var convID int64
	if req.ConversationID != nil {
		convID = *req.ConversationID
	}
	convID, res := h.chat.Chat(r.Context(), chat.Request{Message: req.Message, ConversationID: convID}, stream.Send)

	fields := []zap.Field{
		zap.Int64("conversation_id", convID),
		zap.Bool("fallback", res.FellBack),
	}
	if res.Outcome == chat.Failed {
		h.logger.Warn("Chat turn failed", append(fields, zap.Error(res.Reason))...)
		return
	}
	h.logger.Debug("Chat turn completed", append(fields, zap.Int("length", len(res.Text)))...)
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid skip")
		return
	}
	limit, err := queryInt(r, "limit", db.DefaultListLimit)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	conversations, err := h.db.ListConversations(r.Context(), skip, limit)
	if err != nil {
		h.logger.Error("Failed to get conversations",
			zap.Error(err),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path))
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	out := make([]models.ConversationWithMessages, 0, len(conversations))
	for _, c := range conversations {
		out = append(out, models.ConversationWithMessages{Conversation: c, Messages: []models.Message{}})
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	convID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	conv, err := h.db.GetConversation(r.Context(), convID)
	if errors.Is(err, db.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to get conversation", zap.Int64("conversation_id", convID), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	messages, err := h.db.ListMessages(r.Context(), convID)
	if err != nil {
		h.logger.Error("Failed to get messages", zap.Int64("conversation_id", convID), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, models.ConversationWithMessages{Conversation: *conv, Messages: messages})
}

func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	convID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	deleted, err := h.db.DeleteConversation(r.Context(), convID)
	if err != nil {
		h.logger.Error("Failed to delete conversation", zap.Int64("conversation_id", convID), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !deleted {
		h.writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Conversation deleted successfully"})
}

func (h *Handler) UpdateConversation(w http.ResponseWriter, r *http.Request) {
	convID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req UpdateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	renamed, err := h.db.RenameConversation(r.Context(), convID, strings.TrimSpace(req.Title))
	if err != nil {
		h.logger.Error("Failed to update conversation", zap.Int64("conversation_id", convID), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !renamed {
		h.writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}

	conv, err := h.db.GetConversation(r.Context(), convID)
	if err != nil {
		h.logger.Error("Failed to reload conversation", zap.Int64("conversation_id", convID), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, conv)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Local LLM Chat API"})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "Invalid conversation ID")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + key)
	}
	return n, nil
}
