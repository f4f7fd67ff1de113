package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/stylist-ai/shopping-assistant/internal/middleware"
	"github.com/stylist-ai/shopping-assistant/internal/store"
	"github.com/stylist-ai/shopping-assistant/internal/tryon"
	"github.com/stylist-ai/shopping-assistant/pkg/logger"
)

// TryOnHandler handles virtual try-on generation.
type TryOnHandler struct {
	generator *tryon.Client
	images    store.ImageStore
	logger    *logger.Logger
}

// NewTryOnHandler creates a new try-on handler.
func NewTryOnHandler(generator *tryon.Client, images store.ImageStore, log *logger.Logger) *TryOnHandler {
	return &TryOnHandler{
		generator: generator,
		images:    images,
		logger:    log,
	}
}

type tryOnRequest struct {
	SelfieImage    string `json:"selfieImage,omitempty"`
	SelfieImageID  string `json:"selfieImageId,omitempty"`
	ProductImage   string `json:"productImage"`
	ProductTitle   string `json:"productTitle,omitempty"`
	ProductID      string `json:"productId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

// Generate handles POST /api/tryon. The selfie arrives either inline
// as a data URL or as a previously uploaded image id. The composite is
// stored as a generated image and returned inline as well.
func (h *TryOnHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := middleware.GetSessionID(ctx)

	var req tryOnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	selfie := req.SelfieImage
	if selfie == "" && req.SelfieImageID != "" {
		stored, err := h.images.Get(ctx, sessionID, req.SelfieImageID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "selfie image not found or expired")
				return
			}
			h.logger.Error("failed to load selfie image", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load selfie image")
			return
		}
		selfie = "data:" + stored.Meta.ContentType + ";base64," + base64.StdEncoding.EncodeToString(stored.Data)
	}

	if selfie == "" || req.ProductImage == "" {
		writeError(w, http.StatusBadRequest, "Both selfieImage and productImage are required")
		return
	}

	composite, err := h.generator.Generate(ctx, selfie, req.ProductImage, req.ProductTitle)
	if err != nil {
		h.logger.Error("try-on generation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to generate try-on image")
		return
	}

	response := map[string]interface{}{
		"success":        true,
		"compositeImage": composite,
	}

	// Persist inline composites so later requests can fetch them by
	// id. A storage failure still returns the inline image.
	if data, contentType, err := decodeDataURL(composite); looksLikeDataURL(composite) && err == nil {
		imageID, err := h.images.Put(ctx, sessionID, store.ImageKindGenerated, data, contentType, req.ConversationID, req.ProductID)
		if err != nil {
			h.logger.Warn("failed to store generated image", zap.Error(err))
		} else {
			response["imageId"] = imageID
			response["url"] = "/api/images/" + imageID
		}
	}

	writeJSON(w, http.StatusOK, response)
}

// looksLikeDataURL reports whether the model returned an inline image
// rather than a remote URL.
func looksLikeDataURL(s string) bool {
	return strings.HasPrefix(s, "data:")
}
