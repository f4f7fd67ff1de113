package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/stylist-ai/shopping-assistant/internal/checkout"
	"github.com/stylist-ai/shopping-assistant/internal/model"
	"github.com/stylist-ai/shopping-assistant/pkg/logger"
)

// CheckoutHandler creates Shopify carts for selected variants.
type CheckoutHandler struct {
	client *checkout.Client
	logger *logger.Logger
}

// NewCheckoutHandler creates a new checkout handler.
func NewCheckoutHandler(client *checkout.Client, log *logger.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		client: client,
		logger: log,
	}
}

type checkoutRequest struct {
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity,omitempty"`
	CartID    string `json:"cartId,omitempty"`
}

// Checkout handles POST /api/checkout. When cartId is present the
// variant is added to that cart; otherwise a new cart is created.
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.VariantID == "" {
		writeError(w, http.StatusBadRequest, "variantId is required")
		return
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}

	cart, err := h.client.AddToCart(ctx, req.CartID, []model.CartLine{
		{VariantID: req.VariantID, Quantity: req.Quantity},
	})
	if err != nil {
		h.logger.Error("checkout failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to add item to cart")
		return
	}

	writeJSON(w, http.StatusOK, cart)
}
