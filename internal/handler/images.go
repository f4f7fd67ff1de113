package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/stylist-ai/shopping-assistant/internal/middleware"
	"github.com/stylist-ai/shopping-assistant/internal/store"
	"github.com/stylist-ai/shopping-assistant/pkg/logger"
)

// maxImageBytes bounds decoded upload size.
const maxImageBytes = 10 << 20

var dataURLPattern = regexp.MustCompile(`^data:([^;]+);base64,(.+)$`)

// ImageHandler handles image upload and retrieval.
type ImageHandler struct {
	images store.ImageStore
	logger *logger.Logger
}

// NewImageHandler creates a new image handler.
func NewImageHandler(images store.ImageStore, log *logger.Logger) *ImageHandler {
	return &ImageHandler{
		images: images,
		logger: log,
	}
}

type uploadRequest struct {
	Image          string `json:"image"`
	ConversationID string `json:"conversationId,omitempty"`
}

// Upload handles POST /api/upload-image. The body carries the image as
// a base64 data URL (or bare base64, assumed PNG).
func (h *ImageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := middleware.GetSessionID(ctx)

	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Image == "" {
		writeError(w, http.StatusBadRequest, "Image data is required")
		return
	}

	data, contentType, err := decodeDataURL(req.Image)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid image format")
		return
	}
	if len(data) > maxImageBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}

	imageID, err := h.images.Put(ctx, sessionID, store.ImageKindUploaded, data, contentType, req.ConversationID, "")
	if err != nil {
		h.logger.Error("failed to store image", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to upload image")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"imageId": imageID,
		"url":     "/api/images/" + imageID,
	})
}

// Get handles GET /api/images/{id}. Expired images read as not found.
func (h *ImageHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := middleware.GetSessionID(ctx)
	imageID := chi.URLParam(r, "id")

	img, err := h.images.Get(ctx, sessionID, imageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Image not found or expired", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to get image", zap.Error(err))
		http.Error(w, "Failed to retrieve image", http.StatusInternalServerError)
		return
	}

	contentType := img.Meta.ContentType
	if contentType == "" {
		contentType = "image/png"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(img.Data)
}

// decodeDataURL decodes a base64 data URL, or bare base64 assumed to
// be PNG, into raw bytes plus a content type.
func decodeDataURL(image string) ([]byte, string, error) {
	contentType := "image/png"
	payload := image

	if len(image) > 5 && image[:5] == "data:" {
		matches := dataURLPattern.FindStringSubmatch(image)
		if matches == nil {
			return nil, "", errors.New("malformed data URL")
		}
		contentType = matches[1]
		payload = matches[2]
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", err
	}
	return data, contentType, nil
}
