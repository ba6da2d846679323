// Package mcp connects external Model Context Protocol servers and exposes
// their tools through the agent's tool registry.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/myclaw/internal/config"
	"github.com/nextlevelbuilder/myclaw/internal/tools"
)

type serverState struct {
	name      string
	transport string
	client    *mcpclient.Client
	toolNames []string
}

// Manager connects the configured MCP servers and registers their tools
// into the shared registry for the lifetime of the process.
type Manager struct {
	mu       sync.Mutex
	registry *tools.Registry
	configs  map[string]*config.MCPServerConfig
	servers  map[string]*serverState
}

func NewManager(registry *tools.Registry, configs map[string]*config.MCPServerConfig) *Manager {
	return &Manager{
		registry: registry,
		configs:  configs,
		servers:  make(map[string]*serverState),
	}
}

// Start connects every enabled server. A server that fails to connect is
// reported in the returned error but does not stop the others.
func (m *Manager) Start(ctx context.Context) error {
	var failed []string
	for name, sc := range m.configs {
		if !sc.IsEnabled() {
			slog.Info("mcp server disabled", "server", name)
			continue
		}
		if err := m.connect(ctx, name, sc); err != nil {
			slog.Warn("mcp server connect failed", "server", name, "error", err)
			failed = append(failed, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("mcp servers failed to connect: %s", strings.Join(failed, "; "))
	}
	return nil
}

func (m *Manager) connect(ctx context.Context, name string, sc *config.MCPServerConfig) error {
	client, err := newClient(sc)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	// stdio transports start on creation; the network ones need an
	// explicit Start.
	if sc.Transport != "stdio" {
		if err := client.Start(ctx); err != nil {
			_ = client.Close()
			return fmt.Errorf("start transport: %w", err)
		}
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "myclaw", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	listed, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	ss := &serverState{name: name, transport: sc.Transport, client: client}
	for _, remote := range listed.Tools {
		bt := NewBridgeTool(name, remote, client, sc.ToolPrefix, sc.TimeoutSec)
		if _, exists := m.registry.Get(bt.Name()); exists {
			slog.Warn("mcp tool name collision, skipping", "server", name, "tool", bt.Name())
			continue
		}
		m.registry.Register(bt)
		ss.toolNames = append(ss.toolNames, bt.Name())
	}

	m.mu.Lock()
	m.servers[name] = ss
	m.mu.Unlock()

	slog.Info("mcp server connected",
		"server", name, "transport", sc.Transport, "tools", len(ss.toolNames))
	return nil
}

// newClient builds the client for the configured transport.
func newClient(sc *config.MCPServerConfig) (*mcpclient.Client, error) {
	switch sc.Transport {
	case "stdio":
		return mcpclient.NewStdioMCPClient(sc.Command, envSlice(sc.Env), sc.Args...)

	case "sse":
		var opts []transport.ClientOption
		if len(sc.Headers) > 0 {
			opts = append(opts, mcpclient.WithHeaders(sc.Headers))
		}
		return mcpclient.NewSSEMCPClient(sc.URL, opts...)

	case "streamable-http":
		var opts []transport.StreamableHTTPCOption
		if len(sc.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(sc.Headers))
		}
		return mcpclient.NewStreamableHttpClient(sc.URL, opts...)

	default:
		return nil, fmt.Errorf("unsupported transport: %q", sc.Transport)
	}
}

// Stop closes all connections and removes their tools from the registry.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, ss := range m.servers {
		if err := ss.client.Close(); err != nil {
			slog.Debug("mcp server close", "server", name, "error", err)
		}
		for _, toolName := range ss.toolNames {
			m.registry.Unregister(toolName)
		}
	}
	m.servers = make(map[string]*serverState)
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
