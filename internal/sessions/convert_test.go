package sessions

import (
	"testing"

	"github.com/nextlevelbuilder/myclaw/internal/providers"
)

func sampleMessages() []providers.Message {
	return []providers.Message{
		&providers.UserMessage{
			Content:   []providers.ContentBlock{providers.TextBlock("run the tests")},
			Timestamp: 1000,
		},
		&providers.AssistantMessage{
			Content: []providers.ContentBlock{
				{Type: providers.BlockThinking, Thinking: "need to run them"},
				providers.TextBlock("Running now."),
				{Type: providers.BlockToolCall, ID: "tc1", Name: "shell", Args: map[string]any{"command": "go test"}},
			},
			Provider:   "anthropic",
			Model:      "m1",
			Usage:      providers.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
			StopReason: "tool_use",
			Timestamp:  1001,
		},
		&providers.ToolResultMessage{
			ToolCallID: "tc1",
			ToolName:   "shell",
			Content:    []providers.ContentBlock{providers.TextBlock("PASS")},
			IsError:    false,
			Timestamp:  1002,
		},
		&providers.AssistantMessage{
			Content:   []providers.ContentBlock{providers.TextBlock("All green.")},
			Timestamp: 1003,
		},
	}
}

func TestRoundTripPreservesStructure(t *testing.T) {
	in := sampleMessages()
	out := ToMessages(FromMessages(in))

	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}

	am := out[1].(*providers.AssistantMessage)
	if len(am.Content) != 3 {
		t.Fatalf("assistant blocks = %d, want 3", len(am.Content))
	}
	if am.Content[0].Type != providers.BlockThinking || am.Content[0].Thinking != "need to run them" {
		t.Errorf("thinking block = %+v", am.Content[0])
	}
	if am.Content[1].Text != "Running now." {
		t.Errorf("text block = %+v", am.Content[1])
	}
	call := am.Content[2]
	if call.Type != providers.BlockToolCall || call.ID != "tc1" || call.Name != "shell" {
		t.Errorf("tool call block = %+v", call)
	}
	if got, ok := call.Args["command"].(string); !ok || got != "go test" {
		t.Errorf("args = %+v", call.Args)
	}
	if am.Provider != "anthropic" || am.Model != "m1" || am.StopReason != "tool_use" {
		t.Errorf("assistant meta = %+v", am)
	}
	if am.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", am.Usage)
	}
	if am.Timestamp != 1001 {
		t.Errorf("timestamp = %d", am.Timestamp)
	}

	tr := out[2].(*providers.ToolResultMessage)
	if tr.ToolCallID != "tc1" || tr.ToolName != "shell" || tr.IsError || tr.Text() != "PASS" {
		t.Errorf("tool result = %+v", tr)
	}

	if out[0].(*providers.UserMessage).Text() != "run the tests" {
		t.Errorf("user text = %q", out[0].(*providers.UserMessage).Text())
	}
}

func TestToMessagesDropsSystemRecords(t *testing.T) {
	records := []TranscriptMessage{
		{Role: "system", Content: "injected prompt", Timestamp: 1},
		{Role: "user", Content: "hi", Timestamp: 2},
	}
	msgs := ToMessages(records)
	if len(msgs) != 1 {
		t.Fatalf("len = %d", len(msgs))
	}
	if msgs[0].Role() != "user" {
		t.Errorf("role = %q", msgs[0].Role())
	}
}

func TestToMessagesFallsBackToPlainText(t *testing.T) {
	// Records written without contentBlocks meta reconstruct a single text
	// block.
	records := []TranscriptMessage{
		{Role: "assistant", Content: "plain reply", Timestamp: 1},
	}
	msgs := ToMessages(records)
	am := msgs[0].(*providers.AssistantMessage)
	if len(am.Content) != 1 || am.Content[0].Text != "plain reply" {
		t.Errorf("content = %+v", am.Content)
	}
}

func TestRepairInjectsMissingResults(t *testing.T) {
	msgs := []providers.Message{
		&providers.UserMessage{Content: []providers.ContentBlock{providers.TextBlock("go")}, Timestamp: 1000},
		&providers.AssistantMessage{
			Content: []providers.ContentBlock{
				{Type: providers.BlockToolCall, ID: "tc1", Name: "shell", Args: map[string]any{}},
			},
			Timestamp: 1001,
		},
		&providers.AssistantMessage{
			Content:   []providers.ContentBlock{providers.TextBlock("next turn")},
			Timestamp: 1002,
		},
	}

	repaired := RepairOrphanedToolCalls(msgs)
	if len(repaired) != 4 {
		t.Fatalf("len = %d, want 4", len(repaired))
	}

	tr, ok := repaired[2].(*providers.ToolResultMessage)
	if !ok {
		t.Fatalf("repaired[2] is %T", repaired[2])
	}
	if tr.ToolCallID != "tc1" || tr.ToolName != "shell" || !tr.IsError {
		t.Errorf("synthetic result = %+v", tr)
	}
	if tr.Text() != OrphanResultText {
		t.Errorf("text = %q", tr.Text())
	}
	if tr.Timestamp != 1001 {
		t.Errorf("timestamp = %d, want the assistant's", tr.Timestamp)
	}
}

func TestRepairIdempotent(t *testing.T) {
	msgs := []providers.Message{
		&providers.AssistantMessage{
			Content: []providers.ContentBlock{
				{Type: providers.BlockToolCall, ID: "tc1", Name: "shell", Args: map[string]any{}},
			},
			Timestamp: 1000,
		},
	}

	once := RepairOrphanedToolCalls(msgs)
	twice := RepairOrphanedToolCalls(once)
	if len(once) != 2 || len(twice) != 2 {
		t.Errorf("lens = %d, %d", len(once), len(twice))
	}
}

func TestRepairLeavesAnsweredCallsAlone(t *testing.T) {
	msgs := []providers.Message{
		&providers.AssistantMessage{
			Content: []providers.ContentBlock{
				{Type: providers.BlockToolCall, ID: "tc1", Name: "shell", Args: map[string]any{}},
				{Type: providers.BlockToolCall, ID: "tc2", Name: "read_file", Args: map[string]any{}},
			},
			Timestamp: 1000,
		},
		&providers.ToolResultMessage{ToolCallID: "tc1", ToolName: "shell", Content: []providers.ContentBlock{providers.TextBlock("ok")}, Timestamp: 1001},
	}

	repaired := RepairOrphanedToolCalls(msgs)
	if len(repaired) != 3 {
		t.Fatalf("len = %d, want 3", len(repaired))
	}

	// Only tc2 gets a synthetic result, injected right after the assistant.
	injected := repaired[1].(*providers.ToolResultMessage)
	if injected.ToolCallID != "tc2" || !injected.IsError {
		t.Errorf("injected = %+v", injected)
	}
	original := repaired[2].(*providers.ToolResultMessage)
	if original.ToolCallID != "tc1" || original.IsError {
		t.Errorf("original result moved or changed: %+v", original)
	}
}
