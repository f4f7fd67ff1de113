package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// AnthropicClient is the Anthropic model client.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// StreamChat sends a streaming chat completion request. Tool-result
// turns are folded into user text blocks; the Anthropic API has no
// direct equivalent of the OpenAI tool role outside tool_use/tool_result
// block pairs, and the secondary pass never offers tools anyway.
func (c *AnthropicClient) StreamChat(ctx context.Context, req *ChatRequest) (Stream, error) {
	model := req.Model
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	var system string
	var messages []anthropic.MessageParam
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			system += msg.Content
		case RoleTool:
			messages = append(messages, textMessage(
				anthropic.MessageParamRoleUser,
				fmt.Sprintf("Result of %s: %s", msg.Name, msg.Content),
			))
		case RoleAssistant:
			if msg.Content == "" {
				continue
			}
			messages = append(messages, textMessage(anthropic.MessageParamRoleAssistant, msg.Content))
		default:
			messages = append(messages, textMessage(anthropic.MessageParamRoleUser, msg.Content))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.F(anthropic.Model(model)),
		MaxTokens: anthropic.F(int64(maxTokens)),
		Messages:  anthropic.F(messages),
	}

	if system != "" {
		params.System = anthropic.F([]anthropic.TextBlockParam{
			{
				Type: anthropic.F(anthropic.TextBlockParamTypeText),
				Text: anthropic.F(system),
			},
		})
	}

	if len(req.Tools) > 0 {
		var tools []anthropic.ToolUnionUnionParam
		for _, tool := range req.Tools {
			tools = append(tools, anthropic.ToolParam{
				Name:        anthropic.F(tool.Name),
				Description: anthropic.F(tool.Description),
				InputSchema: anthropic.F[interface{}](tool.Parameters),
			})
		}
		params.Tools = anthropic.F(tools)
	}

	stream := c.client.Messages.NewStreaming(ctx, params)

	return &anthropicStream{stream: stream}, nil
}

func textMessage(role anthropic.MessageParamRole, text string) anthropic.MessageParam {
	return anthropic.MessageParam{
		Role: anthropic.F(role),
		Content: anthropic.F([]anthropic.ContentBlockParamUnion{
			anthropic.TextBlockParam{
				Type: anthropic.F(anthropic.TextBlockParamTypeText),
				Text: anthropic.F(text),
			},
		}),
	}
}

type anthropicStream struct {
	stream  *ssestream.Stream[anthropic.MessageStreamEvent]
	pending []Event
}

func (s *anthropicStream) Recv() (Event, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}

		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				return Event{}, err
			}
			return Event{}, io.EOF
		}

		event := s.stream.Current()

		switch event.Type {
		case anthropic.MessageStreamEventTypeContentBlockStart:
			contentBlock, ok := event.ContentBlock.(anthropic.ContentBlockStartEventContentBlock)
			if ok && contentBlock.Type == anthropic.ContentBlockStartEventContentBlockTypeToolUse {
				s.pending = append(s.pending, Event{
					Type: EventToolCall,
					ToolCall: ToolCallDelta{
						Index: int(event.Index),
						ID:    contentBlock.ID,
						Name:  contentBlock.Name,
					},
				})
			}
		case anthropic.MessageStreamEventTypeContentBlockDelta:
			delta, ok := event.Delta.(anthropic.ContentBlockDeltaEventDelta)
			if !ok {
				continue
			}
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					s.pending = append(s.pending, Event{
						Type: EventText,
						Text: delta.Text,
					})
				}
			case "input_json_delta":
				s.pending = append(s.pending, Event{
					Type: EventToolCall,
					ToolCall: ToolCallDelta{
						Index:     int(event.Index),
						Arguments: delta.PartialJSON,
					},
				})
			}
		}
	}
}

func (s *anthropicStream) Close() {
	_ = s.stream.Close()
}
