package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stylist-ai/shopping-assistant/internal/model"
	"github.com/stylist-ai/shopping-assistant/pkg/logger"
	"github.com/stylist-ai/shopping-assistant/pkg/metrics"
)

// ToolName is the single capability this executor exposes.
const ToolName = "search_shop_catalog"

const (
	defaultResultLimit = 5
	maxResultLimit     = 10
)

// ErrEmptyQuery is returned when the search query is blank.
var ErrEmptyQuery = errors.New("search query must not be empty")

// Executor invokes the catalog search capability. One outbound call per
// search, no retries: failures are returned as errors for the caller to
// fold into the tool-result payload.
type Executor struct {
	mcp    *MCPClient
	logger *logger.Logger
}

// NewExecutor creates a new tool executor.
func NewExecutor(mcp *MCPClient, log *logger.Logger) *Executor {
	return &Executor{
		mcp:    mcp,
		logger: log,
	}
}

// Search queries the catalog and returns normalized products. limit
// defaults to 5 and is capped at 10.
func (e *Executor) Search(ctx context.Context, query string, limit int) ([]model.ProductResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	if limit <= 0 {
		limit = defaultResultLimit
	}
	if limit > maxResultLimit {
		limit = maxResultLimit
	}

	start := time.Now()
	raw, err := e.mcp.CallTool(ctx, ToolName, map[string]any{
		"query":   query,
		"context": fmt.Sprintf("User is searching for: %s", query),
		"first":   limit,
	})
	if err != nil {
		metrics.RecordCatalogSearch("error", time.Since(start).Seconds(), 0)
		e.logger.Warn("catalog search failed",
			zap.String("query", query),
			zap.Error(err))
		return nil, err
	}

	products := NormalizeProducts(raw)
	if len(products) > limit {
		products = products[:limit]
	}

	metrics.RecordCatalogSearch("success", time.Since(start).Seconds(), len(products))
	e.logger.Debug("catalog search completed",
		zap.String("query", query),
		zap.Int("results", len(products)))

	return products, nil
}
