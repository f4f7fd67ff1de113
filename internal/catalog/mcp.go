// Package catalog provides the product-search tool executor backed by a
// Shopify Storefront MCP server.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stylist-ai/shopping-assistant/pkg/logger"
)

var (
	essentialCookieRe = regexp.MustCompile(`_shopify_essential=([^;]+)`)
	digestCookieRe    = regexp.MustCompile(`storefront_digest=([^;]+)`)
)

// MCPClient calls tools on a Storefront MCP server over JSON-RPC 2.0.
// Password-protected development stores are handled by authenticating
// against the storefront password form and caching the returned cookie.
type MCPClient struct {
	endpoint   string
	password   string
	httpClient *http.Client
	logger     *logger.Logger

	mu          sync.Mutex
	accessToken string
}

// NewMCPClient creates a client for the given MCP endpoint. password
// may be empty for stores without password protection.
func NewMCPClient(endpoint, password string, log *logger.Logger) *MCPClient {
	return &MCPClient{
		endpoint: endpoint,
		password: password,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: log,
	}
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	ID      int64     `json:"id"`
	Params  rpcParams `json:"params"`
}

type rpcParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// CallTool invokes one named tool and returns the raw JSON-RPC result.
// A password redirect triggers exactly one re-authentication and retry;
// everything else is single-attempt.
func (c *MCPClient) CallTool(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	if c.endpoint == "" {
		return nil, fmt.Errorf("MCP endpoint not configured")
	}

	token := c.cachedToken()
	if c.password != "" && token == "" {
		var err error
		token, err = c.authenticate(ctx)
		if err != nil {
			return nil, err
		}
	}

	resp, err := c.doCall(ctx, tool, args, token)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// A redirect to the password page means the cached token expired.
	if resp.StatusCode == http.StatusFound || resp.StatusCode == http.StatusMovedPermanently {
		location := resp.Header.Get("Location")
		if strings.Contains(location, "/password") && c.password != "" {
			c.setToken("")
			token, err = c.authenticate(ctx)
			if err != nil {
				return nil, err
			}
			retry, err := c.doCall(ctx, tool, args, token)
			if err != nil {
				return nil, err
			}
			defer retry.Body.Close()
			return c.parseResponse(retry)
		}
		return nil, fmt.Errorf("store is password-protected")
	}

	return c.parseResponse(resp)
}

func (c *MCPClient) doCall(ctx context.Context, tool string, args map[string]any, token string) (*http.Response, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "tools/call",
		ID:      time.Now().UnixMilli(),
		Params: rpcParams{
			Name:      tool,
			Arguments: args,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool call: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build tool call request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Cookie", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool call failed: %w", err)
	}
	return resp, nil
}

func (c *MCPClient) parseResponse(resp *http.Response) (json.RawMessage, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("MCP error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rpc rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpc); err != nil {
		return nil, fmt.Errorf("invalid JSON response from MCP server: %w", err)
	}
	if rpc.Error != nil {
		return nil, fmt.Errorf("MCP tool error: %s", rpc.Error.Message)
	}
	return rpc.Result, nil
}

// authenticate posts the storefront password form and caches the
// resulting access cookie.
func (c *MCPClient) authenticate(ctx context.Context) (string, error) {
	storeDomain := strings.TrimSuffix(c.endpoint, "/api/mcp")

	form := url.Values{}
	form.Set("form_type", "storefront_password")
	form.Set("utf8", "✓")
	form.Set("password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, storeDomain+"/password", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("storefront authentication failed: %w", err)
	}
	defer resp.Body.Close()

	// Successful authentication is a 302 carrying the session cookie.
	if resp.StatusCode == http.StatusFound {
		setCookie := resp.Header.Get("Set-Cookie")
		if m := essentialCookieRe.FindStringSubmatch(setCookie); m != nil {
			token := "_shopify_essential=" + m[1]
			c.setToken(token)
			return token, nil
		}
		if m := digestCookieRe.FindStringSubmatch(setCookie); m != nil {
			token := "storefront_digest=" + m[1]
			c.setToken(token)
			return token, nil
		}
	}

	c.logger.Warn("storefront authentication did not yield an access token",
		zap.Int("status", resp.StatusCode))
	return "", fmt.Errorf("could not authenticate with storefront password")
}

func (c *MCPClient) cachedToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

func (c *MCPClient) setToken(token string) {
	c.mu.Lock()
	c.accessToken = token
	c.mu.Unlock()
}
