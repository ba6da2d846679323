package agent

import "github.com/nextlevelbuilder/myclaw/internal/providers"

// Event types emitted during a run, in causal order:
// llm_start, (llm_stream)*, llm_end, (tool_start, tool_end)*,
// [retry* | compaction], ..., done.
const (
	EventLLMStart   = "llm_start"
	EventLLMStream  = "llm_stream"
	EventLLMEnd     = "llm_end"
	EventToolStart  = "tool_start"
	EventToolEnd    = "tool_end"
	EventRetry      = "retry"
	EventCompaction = "compaction"
	EventDone       = "done"
)

// Event is one agent-level progress notification. Type selects which
// fields carry data.
type Event struct {
	Type string `json:"type"`

	// llm_start
	Iteration int `json:"iteration,omitempty"`

	// llm_stream
	Stream *providers.StreamEvent `json:"stream,omitempty"`

	// llm_end
	Message *providers.AssistantMessage `json:"message,omitempty"`

	// tool_start / tool_end
	ToolName   string `json:"toolName,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
	IsError    bool   `json:"isError,omitempty"`

	// retry
	Attempt   int    `json:"attempt,omitempty"`
	Reason    string `json:"reason,omitempty"`
	ProfileID string `json:"profileId,omitempty"`

	// compaction
	OldCount int `json:"oldCount,omitempty"`
	NewCount int `json:"newCount,omitempty"`

	// done
	Result *Result `json:"result,omitempty"`
}

// EventCallback receives run events. A nil callback disables emission.
type EventCallback func(Event)

func emit(cb EventCallback, ev Event) {
	if cb != nil {
		cb(ev)
	}
}
