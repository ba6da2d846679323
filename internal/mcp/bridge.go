package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/myclaw/internal/tools"
)

// defaultCallTimeoutSec bounds one remote tool call when the server config
// does not set its own timeout.
const defaultCallTimeoutSec = 60

// caller is the slice of the MCP client a bridge needs.
type caller interface {
	CallTool(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error)
}

// BridgeTool adapts one remote MCP tool to the registry's Tool interface.
// The registered name is prefixed with the server name so tools from
// different servers cannot collide.
type BridgeTool struct {
	server     string
	remote     mcpgo.Tool
	client     caller
	name       string
	timeoutSec int
}

func NewBridgeTool(server string, remote mcpgo.Tool, client caller, prefix string, timeoutSec int) *BridgeTool {
	if prefix == "" {
		prefix = "mcp_" + server + "_"
	}
	if timeoutSec <= 0 {
		timeoutSec = defaultCallTimeoutSec
	}
	return &BridgeTool{
		server:     server,
		remote:     remote,
		client:     client,
		name:       prefix + remote.Name,
		timeoutSec: timeoutSec,
	}
}

func (b *BridgeTool) Name() string  { return b.name }
func (b *BridgeTool) Label() string { return b.server + ": " + b.remote.Name }

// OriginalName returns the tool name as the server advertises it.
func (b *BridgeTool) OriginalName() string { return b.remote.Name }

func (b *BridgeTool) Description() string {
	if b.remote.Description != "" {
		return b.remote.Description
	}
	return fmt.Sprintf("Tool %s provided by MCP server %s", b.remote.Name, b.server)
}

// Parameters converts the advertised input schema into a plain JSON-schema
// map via a marshal round trip.
func (b *BridgeTool) Parameters() map[string]any {
	empty := map[string]any{"type": "object", "properties": map[string]any{}}

	data, err := json.Marshal(b.remote.InputSchema)
	if err != nil {
		return empty
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil || len(schema) == 0 {
		return empty
	}
	return schema
}

func (b *BridgeTool) Execute(ctx context.Context, id string, args map[string]any) *tools.Result {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(b.timeoutSec)*time.Second)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = b.remote.Name
	req.Params.Arguments = args

	res, err := b.client.CallTool(ctx, req)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("mcp %s/%s: %v", b.server, b.remote.Name, err))
	}

	text := flattenContent(res.Content)
	if text == "" {
		text = "(no output)"
	}
	if res.IsError {
		return tools.ErrorResult(text)
	}
	return tools.NewResult(text)
}

// flattenContent joins the text parts of a tool result. Non-text parts are
// named rather than dropped silently.
func flattenContent(parts []mcpgo.Content) string {
	var out []string
	for _, part := range parts {
		switch c := part.(type) {
		case mcpgo.TextContent:
			out = append(out, c.Text)
		case mcpgo.ImageContent:
			out = append(out, fmt.Sprintf("[image %s, %d bytes]", c.MIMEType, len(c.Data)))
		case mcpgo.EmbeddedResource:
			out = append(out, "[embedded resource]")
		}
	}
	return strings.Join(out, "\n")
}
