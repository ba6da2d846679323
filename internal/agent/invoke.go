package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/myclaw/internal/providers"
	"github.com/nextlevelbuilder/myclaw/internal/tools"
)

// DefaultToolResultCap bounds tool output before it enters the message
// list and the transcript.
const DefaultToolResultCap = 50000

// InvokeTool dispatches one tool call against the registry and returns the
// answering tool-result message. Unknown tools and tool failures become
// error results; they never abort the run.
func InvokeTool(ctx context.Context, reg *tools.Registry, call providers.ContentBlock, resultCap int) *providers.ToolResultMessage {
	if resultCap <= 0 {
		resultCap = DefaultToolResultCap
	}

	result := &providers.ToolResultMessage{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Timestamp:  time.Now().UnixMilli(),
	}

	tool, ok := reg.Get(call.Name)
	if !ok {
		slog.Warn("tool call for unregistered tool", "tool", call.Name)
		result.IsError = true
		result.Content = []providers.ContentBlock{providers.TextBlock("unknown tool: " + call.Name)}
		return result
	}

	out := safeExecute(ctx, tool, call)

	text := out.ForLLM
	if clipped, omitted := clampRunes(text, resultCap); omitted > 0 {
		text = clipped + fmt.Sprintf("\n[truncated %d chars]", omitted)
	}
	result.IsError = out.IsError
	result.Content = []providers.ContentBlock{providers.TextBlock(text)}
	return result
}

// safeExecute converts a tool panic into an error result so a misbehaving
// tool cannot take the run down with it.
func safeExecute(ctx context.Context, tool tools.Tool, call providers.ContentBlock) (out *tools.Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tool panicked", "tool", call.Name, "panic", r)
			out = tools.ErrorResult(fmt.Sprintf("tool %s panicked: %v", call.Name, r))
		}
	}()

	res := tool.Execute(ctx, call.ID, call.Args)
	if res == nil {
		return tools.ErrorResult(fmt.Sprintf("tool %s returned no result", call.Name))
	}
	return res
}
