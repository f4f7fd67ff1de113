// Package chat implements the conversational tool-calling streaming
// orchestrator: it turns a raw model token stream into a well-formed,
// persisted conversation turn that can invoke the catalog search
// capability mid-stream and splice its results back into the
// client-visible output.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stylist-ai/shopping-assistant/internal/catalog"
	"github.com/stylist-ai/shopping-assistant/internal/llm"
	"github.com/stylist-ai/shopping-assistant/internal/model"
	"github.com/stylist-ai/shopping-assistant/internal/store"
	"github.com/stylist-ai/shopping-assistant/pkg/logger"
	"github.com/stylist-ai/shopping-assistant/pkg/metrics"
)

const systemPrompt = `You are a helpful shopping assistant for an online clothing store.

Available Tools:
- search_shop_catalog: Search the product catalog. Use focused, natural language queries like "blue linen shirt" or "women's oxford shirt white". Returns up to 5 products with title, price, image, and details.

When users ask about products:
1. Use search_shop_catalog with concise search terms
2. Present results clearly with product names and prices
3. Be helpful and conversational

Keep responses concise and friendly.`

// FallbackMessage is streamed to the client when a model call fails
// mid-turn.
const FallbackMessage = "Sorry, there was an error processing your request. Please try again."

var searchTool = llm.Tool{
	Name:        catalog.ToolName,
	Description: "Search the store's product catalog. Use natural language queries focused on product type, color, style, or other attributes.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Natural language search query (e.g., 'blue linen shirt', 'men's casual pants')",
			},
			"first": map[string]any{
				"type":        "number",
				"description": "Number of results to return (default: 5, max: 10)",
			},
		},
		"required": []string{"query"},
	},
}

// ToolExecutor invokes the catalog search capability.
type ToolExecutor interface {
	Search(ctx context.Context, query string, limit int) ([]model.ProductResult, error)
}

// Sink receives the turn's outgoing text. Implementations must make
// writes visible to the client immediately; the orchestrator never
// buffers forwarded text to reorder or clean it up.
type Sink interface {
	WriteText(text string) error
}

// TurnResult summarizes one completed turn.
type TurnResult struct {
	Conversation     *model.Conversation
	UserMessage      *model.Message
	AssistantMessage *model.Message
	Products         []model.ProductResult
	ToolInvoked      bool
}

// Orchestrator drives conversation turns end-to-end.
type Orchestrator struct {
	store    store.ConversationStore
	client   llm.Client
	executor ToolExecutor
	model    string
	logger   *logger.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(st store.ConversationStore, client llm.Client, executor ToolExecutor, chatModel string, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		store:    st,
		client:   client,
		executor: executor,
		model:    chatModel,
		logger:   log,
	}
}

// ResolveConversation resolves the target conversation for a turn. A
// supplied id that does not resolve within the session falls back to a
// fresh conversation rather than blocking the user on a stale id.
func (o *Orchestrator) ResolveConversation(ctx context.Context, sessionID, conversationID string) (*model.Conversation, error) {
	if conversationID != "" {
		conv, err := o.store.GetConversation(ctx, sessionID, conversationID)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		o.logger.Info("conversation not found, creating a new one",
			zap.String("conversation_id", conversationID))
	}

	conv, err := o.store.CreateConversation(ctx, sessionID, "", "")
	if err != nil {
		return nil, err
	}
	metrics.ConversationsTotal.Inc()
	return conv, nil
}

// RunTurn executes one conversation turn against an already resolved
// conversation, streaming output to sink. Returned errors are
// pre-stream failures only; once streaming has begun, failures are
// reported to the client in-band and the turn still closes cleanly.
func (o *Orchestrator) RunTurn(ctx context.Context, sessionID string, conv *model.Conversation, userText string, sink Sink) (*TurnResult, error) {
	log := o.logger.WithTurn(sessionID, conv.ID)

	history, err := o.store.GetMessages(ctx, sessionID, conv.ID)
	if err != nil {
		return nil, err
	}

	messages := make([]llm.ChatMessage, 0, len(history)+2)
	if len(history) == 0 {
		messages = append(messages, llm.ChatMessage{Role: llm.RoleSystem, Content: systemPrompt})
	}
	for _, msg := range history {
		messages = append(messages, llm.ChatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	messages = append(messages, llm.ChatMessage{Role: llm.RoleUser, Content: userText})

	// The user message is durable before any model traffic, so a
	// mid-stream failure never rolls it back.
	userMsg, err := o.persistUserMessage(ctx, sessionID, conv, userText)
	if err != nil {
		return nil, err
	}

	result := &TurnResult{Conversation: conv, UserMessage: userMsg}
	out := &guardedSink{sink: sink}

	// STREAM_PRIMARY: forward text immediately, accumulate tool-call
	// fragments per index.
	accumulator := newToolCallAccumulator()
	primaryText, streamErr := o.streamPass(ctx, &llm.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Tools:    []llm.Tool{searchTool},
	}, "primary", out, accumulator)
	if streamErr != nil && ctx.Err() == nil {
		log.Error("primary model stream failed", zap.Error(streamErr))
		out.Write(FallbackMessage)
		metrics.RecordTurn("error", false)
		return result, nil
	}

	assistantText := primaryText
	toolCalls := accumulator.Completed()

	if len(toolCalls) > 0 && ctx.Err() == nil {
		products, toolMessages := o.executeTools(ctx, log, toolCalls)
		if toolMessages != nil {
			result.ToolInvoked = true
			result.Products = products

			// The marker goes out exactly once, before any secondary
			// text, even when the result list is empty.
			marker, err := FormatProductMarker(products)
			if err == nil {
				out.Write(marker)
			}

			// STREAM_SECONDARY: tool outputs appended, no tools
			// offered, fresh buffer becomes the persisted content.
			secondary := append(messages, llm.ChatMessage{
				Role:      llm.RoleAssistant,
				Content:   primaryText,
				ToolCalls: toolCalls,
			})
			secondary = append(secondary, toolMessages...)

			secondaryText, streamErr := o.streamPass(ctx, &llm.ChatRequest{
				Model:    o.model,
				Messages: secondary,
			}, "secondary", out, nil)
			if streamErr != nil && ctx.Err() == nil {
				log.Error("secondary model stream failed", zap.Error(streamErr))
				out.Write(FallbackMessage)
				metrics.RecordTurn("error", true)
				return result, nil
			}
			assistantText = secondaryText
		}
	}

	// FINALIZE: persist the assistant message even when the client has
	// already disconnected.
	o.finalize(context.WithoutCancel(ctx), log, sessionID, conv, result, assistantText)
	metrics.RecordTurn("success", result.ToolInvoked)
	return result, nil
}

func (o *Orchestrator) persistUserMessage(ctx context.Context, sessionID string, conv *model.Conversation, userText string) (*model.Message, error) {
	now := time.Now()
	userMsg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		Role:           model.RoleUser,
		Content:        userText,
		Timestamp:      now,
	}
	if err := o.store.StoreMessage(ctx, sessionID, userMsg); err != nil {
		return nil, err
	}

	update := model.ConversationUpdate{UpdatedAt: &now}
	count := conv.MessageCount + 1
	update.MessageCount = &count
	if conv.MessageCount == 0 {
		title := model.DeriveTitle(userText)
		update.Title = &title
	}

	updated, err := o.store.UpdateConversation(ctx, sessionID, conv.ID, update)
	if err != nil {
		return nil, err
	}
	*conv = *updated

	metrics.MessagesTotal.WithLabelValues(string(model.RoleUser)).Inc()
	return userMsg, nil
}

// streamPass consumes one model response stream. Text deltas are
// forwarded to the sink as they arrive and returned concatenated;
// tool-call fragments go to the accumulator when one is provided.
func (o *Orchestrator) streamPass(ctx context.Context, req *llm.ChatRequest, pass string, out *guardedSink, accumulator *toolCallAccumulator) (string, error) {
	start := time.Now()

	stream, err := o.client.StreamChat(ctx, req)
	if err != nil {
		metrics.LLMStreamDuration.WithLabelValues(req.Model, pass, "error").Observe(time.Since(start).Seconds())
		return "", err
	}
	defer stream.Close()

	var text string
	for {
		event, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Keep whatever already streamed; the caller decides
			// whether this aborts the turn.
			metrics.LLMStreamDuration.WithLabelValues(req.Model, pass, "error").Observe(time.Since(start).Seconds())
			return text, err
		}

		switch event.Type {
		case llm.EventText:
			if event.Text == "" {
				continue
			}
			text += event.Text
			out.Write(event.Text)
		case llm.EventToolCall:
			if accumulator != nil {
				accumulator.Add(event.ToolCall)
			}
		}
	}

	metrics.LLMStreamDuration.WithLabelValues(req.Model, pass, "success").Observe(time.Since(start).Seconds())
	return text, nil
}

// executeTools runs every accumulated call that matches the supported
// capability. Malformed argument JSON skips the call; executor failures
// are folded into the tool-result payload so the secondary pass can
// react conversationally. A nil message slice means nothing was
// executable and the turn proceeds as if no tool had been called.
func (o *Orchestrator) executeTools(ctx context.Context, log *logger.Logger, toolCalls []llm.ToolCall) ([]model.ProductResult, []llm.ChatMessage) {
	var products []model.ProductResult
	var toolMessages []llm.ChatMessage

	for _, call := range toolCalls {
		if call.Name != catalog.ToolName {
			log.Warn("skipping unsupported tool call", zap.String("tool", call.Name))
			continue
		}

		var args struct {
			Query string `json:"query"`
			First int    `json:"first"`
		}
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			log.Warn("skipping tool call with malformed arguments",
				zap.String("arguments", call.Arguments),
				zap.Error(err))
			continue
		}

		var payload any
		results, err := o.executor.Search(ctx, args.Query, args.First)
		if err != nil {
			log.Warn("tool execution failed", zap.String("query", args.Query), zap.Error(err))
			payload = model.ToolError{Message: err.Error()}
		} else {
			products = append(products, results...)
			payload = map[string]any{"products": results}
		}

		content, err := json.Marshal(payload)
		if err != nil {
			content = []byte(`{"error":"failed to serialize tool result"}`)
		}
		toolMessages = append(toolMessages, llm.ChatMessage{
			Role:       llm.RoleTool,
			Content:    string(content),
			ToolCallID: call.ID,
			Name:       call.Name,
		})
	}

	if toolMessages == nil {
		return nil, nil
	}
	if products == nil {
		products = []model.ProductResult{}
	}
	return products, toolMessages
}

// finalize persists the assistant message and updates conversation
// counters. The stream has already closed toward the client by the time
// anything here can fail, so failures are logged, not surfaced.
func (o *Orchestrator) finalize(ctx context.Context, log *logger.Logger, sessionID string, conv *model.Conversation, result *TurnResult, assistantText string) {
	now := time.Now()
	assistantMsg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		Role:           model.RoleAssistant,
		Content:        assistantText,
		Timestamp:      now,
	}
	if result.ToolInvoked {
		assistantMsg.Products = result.Products
	}

	if err := o.store.StoreMessage(ctx, sessionID, assistantMsg); err != nil {
		log.Error("failed to persist assistant message", zap.Error(err))
		return
	}

	count := conv.MessageCount + 1
	updated, err := o.store.UpdateConversation(ctx, sessionID, conv.ID, model.ConversationUpdate{
		MessageCount: &count,
		UpdatedAt:    &now,
	})
	if err != nil {
		log.Error("failed to update conversation counters", zap.Error(err))
	} else {
		*conv = *updated
	}

	metrics.MessagesTotal.WithLabelValues(string(model.RoleAssistant)).Inc()
	result.AssistantMessage = assistantMsg
}

// guardedSink stops forwarding after the first write failure, which
// means the client is gone, without interrupting the rest of the turn.
type guardedSink struct {
	sink Sink
	dead bool
}

func (g *guardedSink) Write(text string) {
	if g.dead {
		return
	}
	if err := g.sink.WriteText(text); err != nil {
		g.dead = true
	}
}
