package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/stylist-ai/shopping-assistant/internal/middleware"
	"github.com/stylist-ai/shopping-assistant/internal/model"
	"github.com/stylist-ai/shopping-assistant/internal/store"
	"github.com/stylist-ai/shopping-assistant/pkg/logger"
	"github.com/stylist-ai/shopping-assistant/pkg/metrics"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	store  store.ConversationStore
	logger *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(st store.ConversationStore, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		store:  st,
		logger: log,
	}
}

// Create handles POST /api/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := middleware.GetSessionID(ctx)

	var req model.CreateConversationRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	conv, err := h.store.CreateConversation(ctx, sessionID, req.Title, req.SelfieImageID)
	if err != nil {
		h.logger.Error("failed to create conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}
	metrics.ConversationsTotal.Inc()

	writeJSON(w, http.StatusCreated, conv)
}

// List handles GET /api/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := middleware.GetSessionID(ctx)

	conversations, err := h.store.ListConversations(ctx, sessionID)
	if err != nil {
		h.logger.Error("failed to list conversations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	if conversations == nil {
		conversations = []model.Conversation{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": conversations,
	})
}

// Get handles GET /api/conversations/{id} and returns the conversation
// with its full message log.
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := middleware.GetSessionID(ctx)
	conversationID := chi.URLParam(r, "id")

	conv, err := h.store.GetConversation(ctx, sessionID, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("failed to get conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get conversation")
		return
	}

	messages, err := h.store.GetMessages(ctx, sessionID, conversationID)
	if err != nil {
		h.logger.Error("failed to get messages", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}
	if messages == nil {
		messages = []model.Message{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation": conv,
		"messages":     messages,
	})
}

// Update handles PATCH /api/conversations/{id}
func (h *ConversationHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := middleware.GetSessionID(ctx)
	conversationID := chi.URLParam(r, "id")

	var req model.UpdateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == nil && req.SelfieImageID == nil {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	conv, err := h.store.UpdateConversation(ctx, sessionID, conversationID, model.ConversationUpdate{
		Title:         req.Title,
		SelfieImageID: req.SelfieImageID,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("failed to update conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update conversation")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Delete handles DELETE /api/conversations/{id} and cascades to the
// conversation's messages.
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := middleware.GetSessionID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := h.store.DeleteConversation(ctx, sessionID, conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("failed to delete conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
