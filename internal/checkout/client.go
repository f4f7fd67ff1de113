// Package checkout creates Shopify carts through the Storefront
// GraphQL API and returns a hosted checkout URL.
package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stylist-ai/shopping-assistant/internal/model"
)

const apiVersion = "2024-01"

const cartCreateMutation = `mutation cartCreate($input: CartInput!) {
  cartCreate(input: $input) {
    cart {
      id
      checkoutUrl
      totalQuantity
    }
    userErrors {
      field
      message
    }
  }
}`

const cartLinesAddMutation = `mutation cartLinesAdd($cartId: ID!, $lines: [CartLineInput!]!) {
  cartLinesAdd(cartId: $cartId, lines: $lines) {
    cart {
      id
      checkoutUrl
      totalQuantity
    }
    userErrors {
      field
      message
    }
  }
}`

// Cart is the result of a cart mutation.
type Cart struct {
	CartID        string `json:"cartId"`
	CheckoutURL   string `json:"checkoutUrl"`
	TotalQuantity int    `json:"totalQuantity"`
}

// Client talks to the shop's Storefront GraphQL endpoint. The endpoint
// is derived from the MCP endpoint origin so both clients always point
// at the same shop.
type Client struct {
	graphqlURL  string
	accessToken string
	httpClient  *http.Client
}

// NewClient builds a checkout client from the MCP endpoint URL and a
// Storefront API access token.
func NewClient(mcpEndpoint, accessToken string) (*Client, error) {
	parsed, err := url.Parse(mcpEndpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid MCP endpoint %q", mcpEndpoint)
	}
	return &Client{
		graphqlURL:  fmt.Sprintf("%s://%s/api/%s/graphql.json", parsed.Scheme, parsed.Host, apiVersion),
		accessToken: accessToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type cartPayload struct {
	Cart *struct {
		ID            string `json:"id"`
		CheckoutURL   string `json:"checkoutUrl"`
		TotalQuantity int    `json:"totalQuantity"`
	} `json:"cart"`
	UserErrors []struct {
		Field   []string `json:"field"`
		Message string   `json:"message"`
	} `json:"userErrors"`
}

type graphqlResponse struct {
	Data struct {
		CartCreate   *cartPayload `json:"cartCreate"`
		CartLinesAdd *cartPayload `json:"cartLinesAdd"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// AddToCart adds the given lines to an existing cart, or creates a new
// cart when cartID is empty.
func (c *Client) AddToCart(ctx context.Context, cartID string, lines []model.CartLine) (*Cart, error) {
	if c.accessToken == "" {
		return nil, errors.New("Storefront access token is required for checkout")
	}
	if len(lines) == 0 {
		return nil, errors.New("at least one cart line is required")
	}

	gqlLines := make([]map[string]any, 0, len(lines))
	for _, line := range lines {
		if line.VariantID == "" {
			return nil, errors.New("cart line is missing a variant id")
		}
		quantity := line.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		gqlLines = append(gqlLines, map[string]any{
			"merchandiseId": line.VariantID,
			"quantity":      quantity,
		})
	}

	var req graphqlRequest
	if cartID == "" {
		req = graphqlRequest{
			Query:     cartCreateMutation,
			Variables: map[string]any{"input": map[string]any{"lines": gqlLines}},
		}
	} else {
		req = graphqlRequest{
			Query:     cartLinesAddMutation,
			Variables: map[string]any{"cartId": cartID, "lines": gqlLines},
		}
	}

	parsed, err := c.execute(ctx, req)
	if err != nil {
		return nil, err
	}

	payload := parsed.Data.CartCreate
	if cartID != "" {
		payload = parsed.Data.CartLinesAdd
	}
	if payload == nil {
		return nil, errors.New("cart mutation returned no payload")
	}
	if len(payload.UserErrors) > 0 {
		messages := make([]string, 0, len(payload.UserErrors))
		for _, ue := range payload.UserErrors {
			messages = append(messages, ue.Message)
		}
		return nil, fmt.Errorf("cart mutation rejected: %s", strings.Join(messages, "; "))
	}
	if payload.Cart == nil {
		return nil, errors.New("cart mutation returned no cart")
	}

	return &Cart{
		CartID:        payload.Cart.ID,
		CheckoutURL:   payload.Cart.CheckoutURL,
		TotalQuantity: payload.Cart.TotalQuantity,
	}, nil
}

func (c *Client) execute(ctx context.Context, gql graphqlRequest) (*graphqlResponse, error) {
	body, err := json.Marshal(gql)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build GraphQL request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Storefront-Access-Token", c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GraphQL request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorText, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("GraphQL error %d: %s", resp.StatusCode, strings.TrimSpace(string(errorText)))
	}

	var parsed graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode GraphQL response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("GraphQL error: %s", parsed.Errors[0].Message)
	}
	return &parsed, nil
}
