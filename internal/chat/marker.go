package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stylist-ai/shopping-assistant/internal/model"
)

// Product marker delimiters. The marker carries the serialized product
// list in-band within the otherwise free-text response stream; clients
// strip it from displayed text and parse its payload.
const (
	MarkerStart = "[SHOPIFY_PRODUCTS]"
	MarkerEnd   = "[/SHOPIFY_PRODUCTS]"
)

// FormatProductMarker frames a product list for in-band transport. A
// nil list is framed as an empty JSON array, never null.
func FormatProductMarker(products []model.ProductResult) (string, error) {
	if products == nil {
		products = []model.ProductResult{}
	}
	payload, err := json.Marshal(products)
	if err != nil {
		return "", fmt.Errorf("failed to marshal products: %w", err)
	}
	return MarkerStart + string(payload) + MarkerEnd + "\n", nil
}

// ExtractProductMarker splits a response stream into its product list
// and remaining narrative text. found reports whether a marker was
// present; a malformed payload is treated as an empty product list.
func ExtractProductMarker(text string) (products []model.ProductResult, remainder string, found bool) {
	start := strings.Index(text, MarkerStart)
	if start < 0 {
		return nil, text, false
	}
	end := strings.Index(text[start:], MarkerEnd)
	if end < 0 {
		return nil, text, false
	}
	end += start

	payload := text[start+len(MarkerStart) : end]
	if err := json.Unmarshal([]byte(payload), &products); err != nil {
		products = nil
	}

	remainder = text[:start] + strings.TrimPrefix(text[end+len(MarkerEnd):], "\n")
	return products, remainder, true
}
