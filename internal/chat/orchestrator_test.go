package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stylist-ai/shopping-assistant/internal/llm"
	"github.com/stylist-ai/shopping-assistant/internal/model"
	"github.com/stylist-ai/shopping-assistant/internal/store"
	"github.com/stylist-ai/shopping-assistant/pkg/logger"
)

type scriptedStream struct {
	events []llm.Event
	pos    int
	err    error
}

func (s *scriptedStream) Recv() (llm.Event, error) {
	if s.pos >= len(s.events) {
		if s.err != nil {
			return llm.Event{}, s.err
		}
		return llm.Event{}, io.EOF
	}
	event := s.events[s.pos]
	s.pos++
	return event, nil
}

func (s *scriptedStream) Close() {}

type scriptedClient struct {
	streams  []*scriptedStream
	requests []*llm.ChatRequest
}

func (c *scriptedClient) StreamChat(_ context.Context, req *llm.ChatRequest) (llm.Stream, error) {
	c.requests = append(c.requests, req)
	if len(c.streams) == 0 {
		return nil, errors.New("no scripted response")
	}
	stream := c.streams[0]
	c.streams = c.streams[1:]
	return stream, nil
}

func (c *scriptedClient) Name() string { return "scripted" }

type fakeExecutor struct {
	products []model.ProductResult
	err      error
	queries  []string
	limits   []int
}

func (f *fakeExecutor) Search(_ context.Context, query string, limit int) ([]model.ProductResult, error) {
	f.queries = append(f.queries, query)
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return nil, f.err
	}
	return f.products, nil
}

type bufferSink struct {
	b strings.Builder
}

func (s *bufferSink) WriteText(text string) error {
	s.b.WriteString(text)
	return nil
}

func (s *bufferSink) String() string { return s.b.String() }

func textEvents(deltas ...string) []llm.Event {
	events := make([]llm.Event, 0, len(deltas))
	for _, d := range deltas {
		events = append(events, llm.Event{Type: llm.EventText, Text: d})
	}
	return events
}

func newTestOrchestrator(t *testing.T, client *scriptedClient, executor ToolExecutor) (*Orchestrator, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return NewOrchestrator(st, client, executor, "test-model", logger.NewNop()), st
}

func mustConversation(t *testing.T, st *store.MemoryStore, sessionID string) *model.Conversation {
	t.Helper()
	conv, err := st.CreateConversation(context.Background(), sessionID, "", "")
	require.NoError(t, err)
	return conv
}

func TestRunTurnWithoutToolCall(t *testing.T) {
	client := &scriptedClient{streams: []*scriptedStream{
		{events: textEvents("Hello", ", how can I ", "help?")},
	}}
	orch, st := newTestOrchestrator(t, client, &fakeExecutor{})
	conv := mustConversation(t, st, "sess1")

	sink := &bufferSink{}
	result, err := orch.RunTurn(context.Background(), "sess1", conv, "hi there", sink)
	require.NoError(t, err)

	// Persisted assistant content is exactly the concatenation of the
	// forwarded deltas.
	assert.Equal(t, "Hello, how can I help?", sink.String())
	require.NotNil(t, result.AssistantMessage)
	assert.Equal(t, sink.String(), result.AssistantMessage.Content)
	assert.False(t, result.ToolInvoked)
	assert.Nil(t, result.AssistantMessage.Products)
	assert.NotContains(t, sink.String(), MarkerStart)

	assert.Equal(t, 2, result.Conversation.MessageCount)
	assert.Equal(t, "hi there", result.Conversation.Title)
}

func TestRunTurnWithToolCall(t *testing.T) {
	products := []model.ProductResult{
		{ID: "p1", Title: "Blue Linen Shirt", Price: &model.Price{Amount: 49.99, CurrencyCode: "USD"}},
		{ID: "p2", Title: "Oxford Shirt"},
		{ID: "p3", Title: "Chambray Shirt"},
	}
	primary := &scriptedStream{events: []llm.Event{
		{Type: llm.EventToolCall, ToolCall: llm.ToolCallDelta{Index: 0, ID: "call_1", Name: "search_shop_catalog"}},
		{Type: llm.EventToolCall, ToolCall: llm.ToolCallDelta{Index: 0, Arguments: `{"query":"blue`}},
		{Type: llm.EventToolCall, ToolCall: llm.ToolCallDelta{Index: 0, Arguments: ` shirt","first":3}`}},
	}}
	secondary := &scriptedStream{events: textEvents("I found three great shirts for you.")}
	client := &scriptedClient{streams: []*scriptedStream{primary, secondary}}
	executor := &fakeExecutor{products: products}
	orch, st := newTestOrchestrator(t, client, executor)
	conv := mustConversation(t, st, "sess1")

	sink := &bufferSink{}
	result, err := orch.RunTurn(context.Background(), "sess1", conv, "show me shirts", sink)
	require.NoError(t, err)

	require.Equal(t, []string{"blue shirt"}, executor.queries)
	require.Equal(t, []int{3}, executor.limits)

	// Exactly one marker, ahead of the secondary narrative.
	output := sink.String()
	assert.Equal(t, 1, strings.Count(output, MarkerStart))
	assert.Less(t, strings.Index(output, MarkerStart), strings.Index(output, "I found three"))

	parsed, remainder, found := ExtractProductMarker(output)
	require.True(t, found)
	assert.Equal(t, products, parsed)
	assert.Equal(t, "I found three great shirts for you.", remainder)

	assert.True(t, result.ToolInvoked)
	require.NotNil(t, result.AssistantMessage)
	assert.Equal(t, products, result.AssistantMessage.Products)
	assert.Equal(t, "I found three great shirts for you.", result.AssistantMessage.Content)
	assert.Equal(t, 2, result.Conversation.MessageCount)

	// The secondary request carries the assistant tool calls and the
	// tool result, and offers no tools.
	require.Len(t, client.requests, 2)
	secondaryReq := client.requests[1]
	assert.Empty(t, secondaryReq.Tools)
	last := secondaryReq.Messages[len(secondaryReq.Messages)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Equal(t, "call_1", last.ToolCallID)
	assert.Contains(t, last.Content, "Blue Linen Shirt")
}

func TestRunTurnMalformedToolArguments(t *testing.T) {
	primary := &scriptedStream{events: []llm.Event{
		{Type: llm.EventText, Text: "Let me check."},
		{Type: llm.EventToolCall, ToolCall: llm.ToolCallDelta{Index: 0, ID: "call_1", Name: "search_shop_catalog", Arguments: `{"query":`}},
	}}
	client := &scriptedClient{streams: []*scriptedStream{primary}}
	executor := &fakeExecutor{}
	orch, st := newTestOrchestrator(t, client, executor)
	conv := mustConversation(t, st, "sess1")

	sink := &bufferSink{}
	result, err := orch.RunTurn(context.Background(), "sess1", conv, "shirts?", sink)
	require.NoError(t, err)

	// The call is dropped: no marker, no executor invocation, the turn
	// finalizes as a plain text turn.
	assert.Empty(t, executor.queries)
	assert.NotContains(t, sink.String(), MarkerStart)
	assert.False(t, result.ToolInvoked)
	require.NotNil(t, result.AssistantMessage)
	assert.Equal(t, "Let me check.", result.AssistantMessage.Content)
	assert.Equal(t, 2, result.Conversation.MessageCount)
}

func TestRunTurnUnsupportedToolName(t *testing.T) {
	primary := &scriptedStream{events: []llm.Event{
		{Type: llm.EventText, Text: "One moment."},
		{Type: llm.EventToolCall, ToolCall: llm.ToolCallDelta{Index: 0, ID: "call_1", Name: "delete_everything", Arguments: `{}`}},
	}}
	client := &scriptedClient{streams: []*scriptedStream{primary}}
	orch, st := newTestOrchestrator(t, client, &fakeExecutor{})
	conv := mustConversation(t, st, "sess1")

	sink := &bufferSink{}
	result, err := orch.RunTurn(context.Background(), "sess1", conv, "hello", sink)
	require.NoError(t, err)

	assert.False(t, result.ToolInvoked)
	assert.NotContains(t, sink.String(), MarkerStart)
	assert.Equal(t, "One moment.", result.AssistantMessage.Content)
}

func TestRunTurnExecutorError(t *testing.T) {
	primary := &scriptedStream{events: []llm.Event{
		{Type: llm.EventToolCall, ToolCall: llm.ToolCallDelta{Index: 0, ID: "call_1", Name: "search_shop_catalog", Arguments: `{"query":"shirts"}`}},
	}}
	secondary := &scriptedStream{events: textEvents("The catalog is unavailable right now.")}
	client := &scriptedClient{streams: []*scriptedStream{primary, secondary}}
	executor := &fakeExecutor{err: errors.New("catalog timeout")}
	orch, st := newTestOrchestrator(t, client, executor)
	conv := mustConversation(t, st, "sess1")

	sink := &bufferSink{}
	result, err := orch.RunTurn(context.Background(), "sess1", conv, "shirts?", sink)
	require.NoError(t, err)

	// The marker still goes out, with an empty list, and the model
	// gets the error in the tool-result payload.
	parsed, _, found := ExtractProductMarker(sink.String())
	require.True(t, found)
	assert.Empty(t, parsed)
	assert.True(t, result.ToolInvoked)
	assert.Equal(t, []model.ProductResult{}, result.Products)

	require.Len(t, client.requests, 2)
	secondaryReq := client.requests[1]
	last := secondaryReq.Messages[len(secondaryReq.Messages)-1]
	assert.Contains(t, last.Content, "catalog timeout")
}

func TestRunTurnPrimaryStreamFailure(t *testing.T) {
	primary := &scriptedStream{
		events: textEvents("Partial answer"),
		err:    errors.New("connection reset"),
	}
	client := &scriptedClient{streams: []*scriptedStream{primary}}
	orch, st := newTestOrchestrator(t, client, &fakeExecutor{})
	conv := mustConversation(t, st, "sess1")

	sink := &bufferSink{}
	result, err := orch.RunTurn(context.Background(), "sess1", conv, "hello", sink)
	require.NoError(t, err)

	// Partial output stays, the apology follows, nothing assistant-side
	// is persisted but the user message survives.
	assert.Equal(t, "Partial answer"+FallbackMessage, sink.String())
	assert.Nil(t, result.AssistantMessage)
	assert.Equal(t, 1, result.Conversation.MessageCount)

	messages, err := st.GetMessages(context.Background(), "sess1", conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, model.RoleUser, messages[0].Role)
}

func TestRunTurnClientDisconnectStillPersists(t *testing.T) {
	// The client hangs up mid-stream: the turn context is cancelled and
	// the model stream dies with it. Whatever text already streamed must
	// still land in the store as the assistant message.
	primary := &scriptedStream{
		events: textEvents("partial "),
		err:    context.Canceled,
	}
	client := &scriptedClient{streams: []*scriptedStream{primary}}
	orch, st := newTestOrchestrator(t, client, &fakeExecutor{})
	conv := mustConversation(t, st, "sess1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &bufferSink{}
	result, err := orch.RunTurn(ctx, "sess1", conv, "hello", sink)
	require.NoError(t, err)

	// No apology: the failure is the disconnect, not the model.
	assert.NotContains(t, sink.String(), FallbackMessage)
	require.NotNil(t, result.AssistantMessage)
	assert.Equal(t, "partial ", result.AssistantMessage.Content)
	assert.Equal(t, 2, result.Conversation.MessageCount)

	messages, err := st.GetMessages(context.Background(), "sess1", conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, model.RoleAssistant, messages[1].Role)
	assert.Equal(t, "partial ", messages[1].Content)
}

func TestRunTurnPrimaryTextSupersededBySecondary(t *testing.T) {
	// Narrative emitted alongside a tool call reaches the client, but
	// the persisted content is the secondary pass alone.
	primary := &scriptedStream{events: []llm.Event{
		{Type: llm.EventText, Text: "Let me look that up."},
		{Type: llm.EventToolCall, ToolCall: llm.ToolCallDelta{Index: 0, ID: "call_1", Name: "search_shop_catalog", Arguments: `{"query":"shirts"}`}},
	}}
	secondary := &scriptedStream{events: textEvents("Here are the shirts.")}
	client := &scriptedClient{streams: []*scriptedStream{primary, secondary}}
	executor := &fakeExecutor{products: []model.ProductResult{{ID: "p1", Title: "Oxford Shirt"}}}
	orch, st := newTestOrchestrator(t, client, executor)
	conv := mustConversation(t, st, "sess1")

	sink := &bufferSink{}
	result, err := orch.RunTurn(context.Background(), "sess1", conv, "shirts?", sink)
	require.NoError(t, err)

	output := sink.String()
	assert.Contains(t, output, "Let me look that up.")
	assert.Contains(t, output, "Here are the shirts.")
	assert.Equal(t, 1, strings.Count(output, MarkerStart))
	assert.Less(t, strings.Index(output, "Let me look that up."), strings.Index(output, MarkerStart))

	require.NotNil(t, result.AssistantMessage)
	assert.Equal(t, "Here are the shirts.", result.AssistantMessage.Content)

	messages, err := st.GetMessages(context.Background(), "sess1", conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "Here are the shirts.", messages[1].Content)
	assert.NotContains(t, messages[1].Content, "Let me look that up.")
}

func TestRunTurnSequentialTurnsMessageCount(t *testing.T) {
	client := &scriptedClient{streams: []*scriptedStream{
		{events: textEvents("one")},
		{events: textEvents("two")},
		{events: textEvents("three")},
	}}
	orch, st := newTestOrchestrator(t, client, &fakeExecutor{})
	conv := mustConversation(t, st, "sess1")

	for i := 0; i < 3; i++ {
		sink := &bufferSink{}
		_, err := orch.RunTurn(context.Background(), "sess1", conv, "again", sink)
		require.NoError(t, err)
	}

	stored, err := st.GetConversation(context.Background(), "sess1", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, stored.MessageCount)

	messages, err := st.GetMessages(context.Background(), "sess1", conv.ID)
	require.NoError(t, err)
	assert.Len(t, messages, 6)
}

func TestRunTurnSystemPromptOnlyOnFirstTurn(t *testing.T) {
	client := &scriptedClient{streams: []*scriptedStream{
		{events: textEvents("first")},
		{events: textEvents("second")},
	}}
	orch, st := newTestOrchestrator(t, client, &fakeExecutor{})
	conv := mustConversation(t, st, "sess1")

	for i := 0; i < 2; i++ {
		sink := &bufferSink{}
		_, err := orch.RunTurn(context.Background(), "sess1", conv, "hello", sink)
		require.NoError(t, err)
	}

	require.Len(t, client.requests, 2)
	assert.Equal(t, llm.RoleSystem, client.requests[0].Messages[0].Role)
	for _, msg := range client.requests[1].Messages {
		assert.NotEqual(t, llm.RoleSystem, msg.Role)
	}
}

func TestResolveConversationFallsBackToNew(t *testing.T) {
	client := &scriptedClient{}
	orch, st := newTestOrchestrator(t, client, &fakeExecutor{})

	existing := mustConversation(t, st, "sess1")

	conv, err := orch.ResolveConversation(context.Background(), "sess1", existing.ID)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, conv.ID)

	// Unknown and cross-session ids both resolve to a fresh
	// conversation instead of an error.
	conv, err = orch.ResolveConversation(context.Background(), "sess1", "does-not-exist")
	require.NoError(t, err)
	assert.NotEqual(t, existing.ID, conv.ID)
	assert.Equal(t, model.DefaultConversationTitle, conv.Title)

	conv, err = orch.ResolveConversation(context.Background(), "sess2", existing.ID)
	require.NoError(t, err)
	assert.NotEqual(t, existing.ID, conv.ID)
}
