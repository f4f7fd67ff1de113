package catalog

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/stylist-ai/shopping-assistant/internal/model"
)

// NormalizeProducts maps a raw MCP search result into the canonical
// ProductResult shape. It tolerates the shape drift observed across
// storefront versions: the product list may live under products, items,
// or data.products, and the whole payload may itself be wrapped in an
// MCP content block whose text is a JSON document.
func NormalizeProducts(raw json.RawMessage) []model.ProductResult {
	payload := unwrapPayload(raw)
	if payload == nil {
		return nil
	}

	items := extractList(payload)
	results := make([]model.ProductResult, 0, len(items))
	for _, item := range items {
		p, ok := item.(map[string]any)
		if !ok {
			continue
		}
		results = append(results, normalizeProduct(p))
	}
	return results
}

// unwrapPayload peels MCP content-block framing until it reaches the
// object that carries the product list.
func unwrapPayload(raw json.RawMessage) map[string]any {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}

	content, ok := payload["content"].([]any)
	if !ok {
		return payload
	}
	for _, block := range content {
		b, ok := block.(map[string]any)
		if !ok {
			continue
		}
		text, ok := b["text"].(string)
		if !ok {
			continue
		}
		var inner map[string]any
		if err := json.Unmarshal([]byte(text), &inner); err == nil {
			return inner
		}
	}
	return payload
}

func extractList(payload map[string]any) []any {
	if products, ok := payload["products"].([]any); ok {
		return products
	}
	if items, ok := payload["items"].([]any); ok {
		return items
	}
	if data, ok := payload["data"].(map[string]any); ok {
		if products, ok := data["products"].([]any); ok {
			return products
		}
	}
	return nil
}

func normalizeProduct(p map[string]any) model.ProductResult {
	product := model.ProductResult{
		ID:     firstString(p, "id", "gid", "product_id"),
		Title:  firstString(p, "title"),
		Handle: firstString(p, "handle"),
		URL:    firstString(p, "url"),
	}
	if product.Title == "" {
		product.Title = "Untitled Product"
	}
	if product.URL == "" && product.Handle != "" {
		product.URL = "/products/" + product.Handle
	}

	product.Description = StripHTML(firstString(p, "description"))

	product.ImageURL = firstString(p, "imageUrl", "image_url")
	if product.ImageURL == "" {
		if images, ok := p["images"].([]any); ok && len(images) > 0 {
			if img, ok := images[0].(map[string]any); ok {
				product.ImageURL = firstString(img, "url", "src")
			}
		}
	}
	if product.ImageURL == "" {
		for _, key := range []string{"featuredImage", "image"} {
			if img, ok := p[key].(map[string]any); ok {
				if u := firstString(img, "url", "src"); u != "" {
					product.ImageURL = u
					break
				}
			}
		}
	}

	product.Price = normalizePrice(p)
	product.Variants = normalizeVariants(p)

	if metafields, ok := p["metafields"].(map[string]any); ok {
		if custom, ok := metafields["custom"].(map[string]any); ok {
			product.OverlayAssetURL = firstString(custom, "overlay_asset_shirt")
		}
	}
	if product.OverlayAssetURL == "" {
		product.OverlayAssetURL = firstString(p, "overlayAssetUrl")
	}

	return product
}

// normalizePrice tries the known price locations in order: a top-level
// price, the first variant's price, and the minimum of the price range.
// Missing or unparseable prices collapse to nil.
func normalizePrice(p map[string]any) *model.Price {
	candidates := []any{p["price"]}
	if variants, ok := p["variants"].([]any); ok && len(variants) > 0 {
		if v, ok := variants[0].(map[string]any); ok {
			candidates = append(candidates, v["price"])
		}
	}
	if pr, ok := p["priceRange"].(map[string]any); ok {
		candidates = append(candidates, pr["minVariantPrice"])
	}
	if pr, ok := p["price_range"].(map[string]any); ok {
		candidates = append(candidates, pr["min"])
	}

	for _, candidate := range candidates {
		if price := parsePrice(candidate); price != nil {
			return price
		}
	}
	return nil
}

func parsePrice(v any) *model.Price {
	switch value := v.(type) {
	case float64:
		return &model.Price{Amount: value, CurrencyCode: "USD"}
	case string:
		if amount, err := strconv.ParseFloat(value, 64); err == nil {
			return &model.Price{Amount: amount, CurrencyCode: "USD"}
		}
	case map[string]any:
		amountRaw, ok := value["amount"]
		if !ok {
			amountRaw = value["value"]
		}
		var amount float64
		switch a := amountRaw.(type) {
		case float64:
			amount = a
		case string:
			parsed, err := strconv.ParseFloat(a, 64)
			if err != nil {
				return nil
			}
			amount = parsed
		default:
			return nil
		}
		currency := "USD"
		if c, ok := value["currencyCode"].(string); ok && c != "" {
			currency = c
		} else if c, ok := value["currency"].(string); ok && c != "" {
			currency = c
		}
		return &model.Price{Amount: amount, CurrencyCode: currency}
	}
	return nil
}

func normalizeVariants(p map[string]any) []model.ProductVariant {
	raw, ok := p["variants"].([]any)
	if !ok {
		return nil
	}

	var variants []model.ProductVariant
	for _, item := range raw {
		v, ok := item.(map[string]any)
		if !ok {
			continue
		}
		variant := model.ProductVariant{
			ID:    firstString(v, "id", "variant_id"),
			Title: firstString(v, "title"),
		}
		switch price := v["price"].(type) {
		case string:
			variant.Price = price
		case float64:
			variant.Price = strconv.FormatFloat(price, 'f', 2, 64)
		case map[string]any:
			variant.Price = firstString(price, "amount")
		}
		if available, ok := v["availableForSale"].(bool); ok {
			variant.AvailableForSale = available
		} else if available, ok := v["available"].(bool); ok {
			variant.AvailableForSale = available
		}
		if variant.ID != "" {
			variants = append(variants, variant)
		}
	}
	return variants
}

// StripHTML reduces an HTML-bearing description to plain text. Text that
// is empty after stripping collapses to the empty string so the field is
// omitted from serialization.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	if !strings.ContainsAny(s, "<>") {
		return strings.TrimSpace(s)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(doc.Text())
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
