package chat

import (
	"sort"
	"strings"

	"github.com/stylist-ai/shopping-assistant/internal/llm"
)

// toolCallAccumulator assembles streamed tool-call fragments into
// complete calls. Fragments are keyed by the stable index the upstream
// source assigns; fragments for one index concatenate in arrival order,
// and distinct indexes accumulate independently with no cross-index
// ordering assumption.
type toolCallAccumulator struct {
	calls map[int]*partialToolCall
}

type partialToolCall struct {
	id   string
	name string
	args strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{
		calls: make(map[int]*partialToolCall),
	}
}

// Add merges one fragment. Empty fields are no-ops.
func (a *toolCallAccumulator) Add(delta llm.ToolCallDelta) {
	call, ok := a.calls[delta.Index]
	if !ok {
		call = &partialToolCall{}
		a.calls[delta.Index] = call
	}
	if delta.ID != "" {
		call.id = delta.ID
	}
	if delta.Name != "" {
		call.name = delta.Name
	}
	if delta.Arguments != "" {
		call.args.WriteString(delta.Arguments)
	}
}

// Completed returns the assembled calls in index order. A call that
// never received a name is unusable (the stream terminated mid-fragment)
// and is dropped.
func (a *toolCallAccumulator) Completed() []llm.ToolCall {
	indexes := make([]int, 0, len(a.calls))
	for index := range a.calls {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)

	completed := make([]llm.ToolCall, 0, len(indexes))
	for _, index := range indexes {
		call := a.calls[index]
		if call.name == "" {
			continue
		}
		completed = append(completed, llm.ToolCall{
			ID:        call.id,
			Name:      call.name,
			Arguments: call.args.String(),
		})
	}
	return completed
}
