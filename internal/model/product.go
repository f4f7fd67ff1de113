package model

// Price is a normalized product price.
type Price struct {
	Amount       float64 `json:"amount"`
	CurrencyCode string  `json:"currencyCode"`
}

// ProductVariant is a purchasable variant of a product.
type ProductVariant struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Price            string `json:"price"`
	AvailableForSale bool   `json:"availableForSale"`
}

// ProductResult is the canonical product shape used across the system.
// Optional fields are omitted rather than zero-filled so clients can
// distinguish "unknown" from "free"/"empty".
type ProductResult struct {
	ID              string           `json:"id"`
	Title           string           `json:"title"`
	Description     string           `json:"description,omitempty"`
	Handle          string           `json:"handle,omitempty"`
	URL             string           `json:"url,omitempty"`
	ImageURL        string           `json:"imageUrl,omitempty"`
	Price           *Price           `json:"price,omitempty"`
	Variants        []ProductVariant `json:"variants,omitempty"`
	OverlayAssetURL string           `json:"overlayAssetUrl,omitempty"`
}

// ToolError is the error shape folded into a tool-result payload when a
// catalog search fails. It never propagates past the tool boundary.
type ToolError struct {
	Message string `json:"error"`
}

// CartLine is one variant/quantity pair submitted to checkout.
type CartLine struct {
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
}
