package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stylist-ai/shopping-assistant/pkg/logger"
)

// fakeMCPServer answers tools/call requests with a scripted product
// list and records the arguments it saw.
func fakeMCPServer(t *testing.T, productCount int, lastArgs *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			Params struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			} `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tools/call", req.Method)
		assert.Equal(t, ToolName, req.Params.Name)
		if lastArgs != nil {
			*lastArgs = req.Params.Arguments
		}

		products := make([]map[string]any, 0, productCount)
		for i := 0; i < productCount; i++ {
			products = append(products, map[string]any{
				"id":    fmt.Sprintf("p%d", i),
				"title": fmt.Sprintf("Shirt %d", i),
				"price": "19.99",
			})
		}
		result, _ := json.Marshal(map[string]any{"products": products})
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  json.RawMessage(result),
		})
	}))
}

func TestExecutorSearch(t *testing.T) {
	var args map[string]any
	server := fakeMCPServer(t, 3, &args)
	defer server.Close()

	executor := NewExecutor(NewMCPClient(server.URL, "", logger.NewNop()), logger.NewNop())
	products, err := executor.Search(context.Background(), "  blue shirt  ", 0)
	require.NoError(t, err)
	require.Len(t, products, 3)
	assert.Equal(t, "Shirt 0", products[0].Title)

	// Defaults applied and the query trimmed before it goes upstream.
	assert.Equal(t, "blue shirt", args["query"])
	assert.Equal(t, float64(defaultResultLimit), args["first"])
	assert.Equal(t, "User is searching for: blue shirt", args["context"])
}

func TestExecutorSearchLimitCap(t *testing.T) {
	var args map[string]any
	server := fakeMCPServer(t, 15, &args)
	defer server.Close()

	executor := NewExecutor(NewMCPClient(server.URL, "", logger.NewNop()), logger.NewNop())
	products, err := executor.Search(context.Background(), "shirts", 50)
	require.NoError(t, err)

	assert.Equal(t, float64(maxResultLimit), args["first"])
	assert.Len(t, products, maxResultLimit)
}

func TestExecutorSearchEmptyQuery(t *testing.T) {
	executor := NewExecutor(NewMCPClient("http://unused", "", logger.NewNop()), logger.NewNop())

	_, err := executor.Search(context.Background(), "   ", 5)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestExecutorSearchUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	executor := NewExecutor(NewMCPClient(server.URL, "", logger.NewNop()), logger.NewNop())
	_, err := executor.Search(context.Background(), "shirts", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
