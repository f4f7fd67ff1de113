// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/stylist-ai/shopping-assistant/internal/chat"
	"github.com/stylist-ai/shopping-assistant/internal/middleware"
	"github.com/stylist-ai/shopping-assistant/internal/model"
	"github.com/stylist-ai/shopping-assistant/pkg/logger"
	"github.com/stylist-ai/shopping-assistant/pkg/metrics"
)

// ChatHandler handles the streaming turn endpoint.
type ChatHandler struct {
	orchestrator *chat.Orchestrator
	logger       *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(orch *chat.Orchestrator, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		orchestrator: orch,
		logger:       log,
	}
}

// Chat handles POST /api/chat.
//
// With newConversation set, a fresh conversation is created and
// returned as JSON with no model call. Otherwise the response is a
// live text stream with the resolved conversation id in the
// X-Conversation-Id header. Product results travel in-band inside the
// stream's delimited marker.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := middleware.GetSessionID(ctx)

	var req model.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.NewConversation {
		conv, err := h.orchestrator.ResolveConversation(ctx, sessionID, "")
		if err != nil {
			h.logger.Error("failed to create conversation", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to create conversation")
			return
		}
		writeJSON(w, http.StatusOK, conv)
		return
	}

	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "Message is required")
		return
	}

	conv, err := h.orchestrator.ResolveConversation(ctx, sessionID, req.ConversationID)
	if err != nil {
		h.logger.Error("failed to resolve conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to resolve conversation")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Headers must be out before the first flushed byte.
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Conversation-Id", conv.ID)
	w.WriteHeader(http.StatusOK)

	metrics.IncrementStreamConnections()
	defer metrics.DecrementStreamConnections()

	sink := &flushSink{w: w, flusher: flusher}
	if _, err := h.orchestrator.RunTurn(ctx, sessionID, conv, req.Message, sink); err != nil {
		// Pre-stream failure with the status line already sent; the
		// fallback text is the only thing left to say.
		h.logger.Error("turn failed before streaming", zap.Error(err))
		sink.WriteText(chat.FallbackMessage)
	}
}

// flushSink writes text to the response and flushes immediately so
// the client sees every delta as it arrives.
type flushSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *flushSink) WriteText(text string) error {
	if _, err := s.w.Write([]byte(text)); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
