// Package providers defines the message model shared by the agent loop and
// the LLM clients, plus the client interface every provider implements.
package providers

import "context"

// Block types for message content parts.
const (
	BlockText     = "text"
	BlockThinking = "thinking"
	BlockToolCall = "tool_call"
	BlockImage    = "image"
)

// ContentBlock is one part of a message's content. Type selects which
// fields are meaningful: text, thinking, tool_call (ID/Name/Args) or
// image (MimeType/Data).
type ContentBlock struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	Thinking string         `json:"thinking,omitempty"`
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
	MimeType string         `json:"mimeType,omitempty"`
	Data     string         `json:"data,omitempty"`
}

// TextBlock builds a plain text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// Message is the tagged union over the three conversation message kinds.
// System prompts are not messages; they travel separately in Context.
type Message interface {
	// Role returns "user", "assistant" or "tool".
	Role() string
	// Time returns the message timestamp in epoch milliseconds.
	Time() int64
}

// UserMessage is a message authored by the user.
type UserMessage struct {
	Content   []ContentBlock
	Timestamp int64
}

func (m *UserMessage) Role() string { return "user" }
func (m *UserMessage) Time() int64  { return m.Timestamp }

// Text returns the concatenated text blocks.
func (m *UserMessage) Text() string { return JoinText(m.Content) }

// AssistantMessage is a provider-produced message. Content may interleave
// text, thinking and tool_call blocks in provider order.
type AssistantMessage struct {
	Content    []ContentBlock
	Provider   string
	Model      string
	Usage      Usage
	StopReason string
	Timestamp  int64
}

func (m *AssistantMessage) Role() string { return "assistant" }
func (m *AssistantMessage) Time() int64  { return m.Timestamp }

// Text returns the concatenated text blocks, skipping thinking and tool calls.
func (m *AssistantMessage) Text() string { return JoinText(m.Content) }

// ToolCalls returns the tool_call blocks in content order.
func (m *AssistantMessage) ToolCalls() []ContentBlock {
	var calls []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolCall {
			calls = append(calls, b)
		}
	}
	return calls
}

// ToolResultMessage answers one tool call from a preceding assistant message.
type ToolResultMessage struct {
	ToolCallID string
	ToolName   string
	Content    []ContentBlock
	IsError    bool
	Timestamp  int64
}

func (m *ToolResultMessage) Role() string { return "tool" }
func (m *ToolResultMessage) Time() int64  { return m.Timestamp }

// Text returns the concatenated text blocks.
func (m *ToolResultMessage) Text() string { return JoinText(m.Content) }

// JoinText concatenates the text of all text blocks in order.
func JoinText(blocks []ContentBlock) string {
	var out string
	for _, b := range blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// UsageCost mirrors the token counters in configured currency units.
type UsageCost struct {
	Input      float64 `json:"input,omitempty"`
	Output     float64 `json:"output,omitempty"`
	CacheRead  float64 `json:"cacheRead,omitempty"`
	CacheWrite float64 `json:"cacheWrite,omitempty"`
	Total      float64 `json:"total,omitempty"`
}

// Usage tracks token consumption for one call or one accumulated run.
type Usage struct {
	InputTokens      int       `json:"inputTokens"`
	OutputTokens     int       `json:"outputTokens"`
	CacheReadTokens  int       `json:"cacheReadTokens,omitempty"`
	CacheWriteTokens int       `json:"cacheWriteTokens,omitempty"`
	TotalTokens      int       `json:"totalTokens"`
	Cost             UsageCost `json:"cost,omitempty"`
}

// Accumulate folds a per-call usage into a running total. Input, output and
// total counters sum; cache counters are replaced because providers report
// cumulative cache hits per request, not per increment.
func (u *Usage) Accumulate(call Usage) {
	u.InputTokens += call.InputTokens
	u.OutputTokens += call.OutputTokens
	u.TotalTokens += call.TotalTokens
	u.Cost.Input += call.Cost.Input
	u.Cost.Output += call.Cost.Output
	u.Cost.Total += call.Cost.Total
	u.CacheReadTokens = call.CacheReadTokens
	u.CacheWriteTokens = call.CacheWriteTokens
	u.Cost.CacheRead = call.Cost.CacheRead
	u.Cost.CacheWrite = call.Cost.CacheWrite
}

// ToolDefinition describes a tool schema sent to the provider.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Context is the full input for one provider call.
type Context struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDefinition
}

// Stream event types forwarded to the caller during a streaming call.
const (
	StreamTextDelta     = "text_delta"
	StreamThinkingDelta = "thinking_delta"
	StreamToolCallStart = "tool_call_start"
	StreamToolCallEnd   = "tool_call_end"
	StreamError         = "error"
	StreamDone          = "done"
)

// StreamEvent is one fine-grained event from a streaming provider call.
type StreamEvent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
	ToolName string `json:"toolName,omitempty"`
	ToolID   string `json:"toolId,omitempty"`
	Err      string `json:"error,omitempty"`
}

// Options carries per-call credentials and the optional stream callback.
type Options struct {
	APIKey    string
	MaxTokens int
	OnEvent   func(StreamEvent)
}

// Client is the interface both shipped provider clients implement.
// Stream delivers fine-grained events via Options.OnEvent and resolves to
// the final assistant message; Complete buffers and returns it directly.
type Client interface {
	Complete(ctx context.Context, d Descriptor, pc Context, opts Options) (*AssistantMessage, error)
	Stream(ctx context.Context, d Descriptor, pc Context, opts Options) (*AssistantMessage, error)
}
