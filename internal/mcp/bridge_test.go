package mcp

import (
	"context"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/myclaw/internal/config"
	"github.com/nextlevelbuilder/myclaw/internal/tools"
)

type fakeCaller struct {
	lastReq mcpgo.CallToolRequest
	res     *mcpgo.CallToolResult
	err     error
}

func (f *fakeCaller) CallTool(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	f.lastReq = req
	return f.res, f.err
}

func remoteTool(name string) mcpgo.Tool {
	return mcpgo.Tool{
		Name:        name,
		Description: "does " + name,
		InputSchema: mcpgo.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"query": map[string]any{"type": "string"},
			},
			Required: []string{"query"},
		},
	}
}

func TestBridgeToolNaming(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		wantName string
	}{
		{"default prefix", "", "mcp_search_lookup"},
		{"custom prefix", "ext_", "ext_lookup"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bt := NewBridgeTool("search", remoteTool("lookup"), &fakeCaller{}, tt.prefix, 0)
			if bt.Name() != tt.wantName {
				t.Errorf("Name = %q, want %q", bt.Name(), tt.wantName)
			}
			if bt.OriginalName() != "lookup" {
				t.Errorf("OriginalName = %q", bt.OriginalName())
			}
		})
	}
}

func TestBridgeToolParameters(t *testing.T) {
	bt := NewBridgeTool("search", remoteTool("lookup"), &fakeCaller{}, "", 0)

	schema := bt.Parameters()
	if schema["type"] != "object" {
		t.Errorf("type = %v", schema["type"])
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok || props["query"] == nil {
		t.Errorf("properties not converted: %v", schema["properties"])
	}
}

func TestBridgeToolExecute(t *testing.T) {
	fc := &fakeCaller{
		res: &mcpgo.CallToolResult{
			Content: []mcpgo.Content{
				mcpgo.TextContent{Type: "text", Text: "first"},
				mcpgo.TextContent{Type: "text", Text: "second"},
			},
		},
	}
	bt := NewBridgeTool("search", remoteTool("lookup"), fc, "", 0)

	res := bt.Execute(context.Background(), "tc1", map[string]any{"query": "go"})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.ForLLM)
	}
	if res.ForLLM != "first\nsecond" {
		t.Errorf("ForLLM = %q", res.ForLLM)
	}
	if fc.lastReq.Params.Name != "lookup" {
		t.Errorf("called remote tool %q", fc.lastReq.Params.Name)
	}
	args, _ := fc.lastReq.Params.Arguments.(map[string]any)
	if args["query"] != "go" {
		t.Errorf("arguments = %v", fc.lastReq.Params.Arguments)
	}
}

func TestBridgeToolExecuteFailures(t *testing.T) {
	t.Run("transport error", func(t *testing.T) {
		fc := &fakeCaller{err: context.DeadlineExceeded}
		bt := NewBridgeTool("search", remoteTool("lookup"), fc, "", 0)

		res := bt.Execute(context.Background(), "tc1", nil)
		if !res.IsError {
			t.Fatal("expected error result")
		}
		if !strings.Contains(res.ForLLM, "search/lookup") {
			t.Errorf("error should name server and tool: %q", res.ForLLM)
		}
	})

	t.Run("remote error result", func(t *testing.T) {
		fc := &fakeCaller{
			res: &mcpgo.CallToolResult{
				Content: []mcpgo.Content{mcpgo.TextContent{Type: "text", Text: "not found"}},
				IsError: true,
			},
		}
		bt := NewBridgeTool("search", remoteTool("lookup"), fc, "", 0)

		res := bt.Execute(context.Background(), "tc1", nil)
		if !res.IsError || res.ForLLM != "not found" {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("empty content", func(t *testing.T) {
		fc := &fakeCaller{res: &mcpgo.CallToolResult{}}
		bt := NewBridgeTool("search", remoteTool("lookup"), fc, "", 0)

		res := bt.Execute(context.Background(), "tc1", nil)
		if res.ForLLM != "(no output)" {
			t.Errorf("ForLLM = %q", res.ForLLM)
		}
	})
}

func TestManagerStartSkipsDisabled(t *testing.T) {
	off := false
	reg := tools.NewRegistry()
	m := NewManager(reg, map[string]*config.MCPServerConfig{
		"dormant": {Transport: "stdio", Command: "does-not-matter", Enabled: &off},
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start = %v", err)
	}
	if names := reg.List(); len(names) != 0 {
		t.Errorf("registered tools: %v", names)
	}
	m.Stop()
}

func TestManagerStartUnsupportedTransport(t *testing.T) {
	m := NewManager(tools.NewRegistry(), map[string]*config.MCPServerConfig{
		"bad": {Transport: "carrier-pigeon"},
	})

	err := m.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "carrier-pigeon") {
		t.Errorf("Start = %v", err)
	}
}

func TestRegistryUnregister(t *testing.T) {
	reg := tools.NewRegistry()
	fc := &fakeCaller{res: &mcpgo.CallToolResult{}}
	bt := NewBridgeTool("search", remoteTool("lookup"), fc, "", 0)

	reg.Register(bt)
	if _, ok := reg.Get(bt.Name()); !ok {
		t.Fatal("tool not registered")
	}
	reg.Unregister(bt.Name())
	if _, ok := reg.Get(bt.Name()); ok {
		t.Error("tool still registered after Unregister")
	}
	// Unknown names are a no-op.
	reg.Unregister("never-existed")
}
