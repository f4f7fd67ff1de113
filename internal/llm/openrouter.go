package llm

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai"
)

// OpenRouterClient talks to the OpenRouter OpenAI-compatible API.
type OpenRouterClient struct {
	client *openai.Client
}

// NewOpenRouterClient creates a client against the given base URL. An
// empty baseURL targets the OpenAI API directly.
func NewOpenRouterClient(apiKey, baseURL string) (*OpenRouterClient, error) {
	if apiKey == "" {
		return nil, errors.New("OpenRouter API key is required")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenRouterClient{
		client: openai.NewClientWithConfig(cfg),
	}, nil
}

// Name returns the provider name.
func (c *OpenRouterClient) Name() string {
	return "openrouter"
}

// StreamChat sends a streaming chat completion request.
func (c *OpenRouterClient) StreamChat(ctx context.Context, req *ChatRequest) (Stream, error) {
	model := req.Model
	if model == "" {
		model = "openai/gpt-4o-mini"
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		converted := openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
			Name:       msg.Name,
		}
		for _, tc := range msg.ToolCalls {
			converted.ToolCalls = append(converted.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		messages[i] = converted
	}

	var tools []openai.Tool
	for _, tool := range req.Tools {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		Tools:     tools,
		MaxTokens: maxTokens,
		Stream:    true,
	})
	if err != nil {
		return nil, err
	}

	return &openRouterStream{stream: stream}, nil
}

type openRouterStream struct {
	stream  *openai.ChatCompletionStream
	pending []Event
}

// Recv returns the next event, draining chunks that carry both text and
// tool-call deltas in arrival order.
func (s *openRouterStream) Recv() (Event, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}

		resp, err := s.stream.Recv()
		if err != nil {
			return Event{}, err
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta

		if delta.Content != "" {
			s.pending = append(s.pending, Event{
				Type: EventText,
				Text: delta.Content,
			})
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			s.pending = append(s.pending, Event{
				Type: EventToolCall,
				ToolCall: ToolCallDelta{
					Index:     index,
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
	}
}

func (s *openRouterStream) Close() {
	s.stream.Close()
}
