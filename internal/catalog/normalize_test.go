package catalog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stylist-ai/shopping-assistant/internal/model"
)

func TestNormalizeProductsBasicShape(t *testing.T) {
	raw := json.RawMessage(`{
		"products": [
			{
				"id": "gid://shopify/Product/1",
				"title": "Blue Linen Shirt",
				"handle": "blue-linen-shirt",
				"description": "<p>A <b>breezy</b> linen shirt.</p>",
				"price": "49.99",
				"imageUrl": "https://cdn.example.com/shirt.jpg",
				"variants": [
					{"id": "gid://shopify/ProductVariant/11", "title": "M", "price": "49.99", "availableForSale": true}
				]
			}
		]
	}`)

	products := NormalizeProducts(raw)
	require.Len(t, products, 1)

	p := products[0]
	assert.Equal(t, "gid://shopify/Product/1", p.ID)
	assert.Equal(t, "Blue Linen Shirt", p.Title)
	assert.Equal(t, "/products/blue-linen-shirt", p.URL)
	assert.Equal(t, "A breezy linen shirt.", p.Description)
	assert.Equal(t, "https://cdn.example.com/shirt.jpg", p.ImageURL)
	require.NotNil(t, p.Price)
	assert.Equal(t, 49.99, p.Price.Amount)
	require.Len(t, p.Variants, 1)
	assert.Equal(t, "gid://shopify/ProductVariant/11", p.Variants[0].ID)
	assert.True(t, p.Variants[0].AvailableForSale)
}

func TestNormalizeProductsMCPContentBlock(t *testing.T) {
	inner := `{"products":[{"id":"p1","title":"Shirt"}]}`
	raw, err := json.Marshal(map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": inner},
		},
	})
	require.NoError(t, err)

	products := NormalizeProducts(raw)
	require.Len(t, products, 1)
	assert.Equal(t, "p1", products[0].ID)
}

func TestNormalizeProductsAlternateListKeys(t *testing.T) {
	for name, raw := range map[string]string{
		"items":         `{"items":[{"id":"p1","title":"Shirt"}]}`,
		"data.products": `{"data":{"products":[{"id":"p1","title":"Shirt"}]}}`,
	} {
		t.Run(name, func(t *testing.T) {
			products := NormalizeProducts(json.RawMessage(raw))
			require.Len(t, products, 1)
			assert.Equal(t, "p1", products[0].ID)
		})
	}
}

func TestNormalizeProductsPriceShapes(t *testing.T) {
	tests := []struct {
		name     string
		product  string
		amount   float64
		currency string
	}{
		{"number", `{"id":"p","price":12.5}`, 12.5, "USD"},
		{"string", `{"id":"p","price":"12.50"}`, 12.5, "USD"},
		{"object", `{"id":"p","price":{"amount":"12.50","currencyCode":"EUR"}}`, 12.5, "EUR"},
		{"variant fallback", `{"id":"p","variants":[{"id":"v","price":"9.99"}]}`, 9.99, "USD"},
		{"price range", `{"id":"p","priceRange":{"minVariantPrice":{"amount":"19.00","currencyCode":"GBP"}}}`, 19.0, "GBP"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			products := NormalizeProducts(json.RawMessage(`{"products":[` + tt.product + `]}`))
			require.Len(t, products, 1)
			require.NotNil(t, products[0].Price)
			assert.Equal(t, tt.amount, products[0].Price.Amount)
			assert.Equal(t, tt.currency, products[0].Price.CurrencyCode)
		})
	}
}

func TestNormalizeProductsMissingPrice(t *testing.T) {
	products := NormalizeProducts(json.RawMessage(`{"products":[{"id":"p","price":"not a number"}]}`))
	require.Len(t, products, 1)
	assert.Nil(t, products[0].Price)
}

func TestNormalizeProductsDefaults(t *testing.T) {
	products := NormalizeProducts(json.RawMessage(`{"products":[{}, "not an object", {"title":"Named"}]}`))
	require.Len(t, products, 2)
	assert.Equal(t, "Untitled Product", products[0].Title)
	assert.Equal(t, "Named", products[1].Title)
}

func TestNormalizeProductsGarbage(t *testing.T) {
	assert.Nil(t, NormalizeProducts(json.RawMessage(`not json`)))
	assert.Nil(t, NormalizeProducts(json.RawMessage(`{"unrelated":true}`)))
	assert.Empty(t, NormalizeProducts(json.RawMessage(`{"products":[]}`)))
}

func TestNormalizeProductsImageFallbacks(t *testing.T) {
	tests := map[string]string{
		"images array":   `{"id":"p","images":[{"url":"https://cdn/img.jpg"}]}`,
		"featured image": `{"id":"p","featuredImage":{"url":"https://cdn/img.jpg"}}`,
		"image src":      `{"id":"p","image":{"src":"https://cdn/img.jpg"}}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			products := NormalizeProducts(json.RawMessage(`{"products":[` + raw + `]}`))
			require.Len(t, products, 1)
			assert.Equal(t, "https://cdn/img.jpg", products[0].ImageURL)
		})
	}
}

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "plain text", StripHTML("plain text"))
	assert.Equal(t, "bold and linked", StripHTML("<p><b>bold</b> and <a href='#'>linked</a></p>"))
	assert.Equal(t, "", StripHTML(""))
	assert.Equal(t, "", StripHTML("<p>  </p>"))
}

func assertProductJSONOmitsEmpty(t *testing.T, p model.ProductResult) {
	t.Helper()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"price":null`)
}

func TestProductSerializationOmitsNilPrice(t *testing.T) {
	assertProductJSONOmitsEmpty(t, model.ProductResult{ID: "p", Title: "Shirt"})
}
