// Package config loads the runtime configuration: a JSON5 file under the
// state root overlaid with MYCLAW_* environment variables.
package config

import (
	"os"
	"path/filepath"
)

const (
	configFileName = "config.json5"
	stateDirEnv    = "MYCLAW_STATE_DIR"
)

// ProfileConfig is one named credential.
type ProfileConfig struct {
	ID     string `json:"id"`
	APIKey string `json:"apiKey"`
}

// AgentConfig controls the run loop.
type AgentConfig struct {
	Provider          string          `json:"provider"`
	Model             string          `json:"model"`
	BaseURL           string          `json:"baseUrl,omitempty"`
	Profiles          []ProfileConfig `json:"profiles,omitempty"`
	Identity          string          `json:"identity,omitempty"`
	MaxIterations     int             `json:"maxIterations"`
	MaxRetries        int             `json:"maxRetries"`
	ToolResultCap     int             `json:"toolResultCap"`
	OverflowResultCap int             `json:"overflowResultCap"`
	KeepRecent        int             `json:"keepRecent"`
	ShellTimeoutSec   int             `json:"shellTimeoutSec"`
	RateLimitRPM      int             `json:"rateLimitRpm"`
}

// HeartbeatConfig schedules the background prompt.
type HeartbeatConfig struct {
	Enabled bool   `json:"enabled"`
	Cron    string `json:"cron,omitempty"`
	Prompt  string `json:"prompt,omitempty"`
}

// MCPServerConfig describes one external MCP server connection.
type MCPServerConfig struct {
	Transport  string            `json:"transport"`            // "stdio", "sse", "streamable-http"
	Command    string            `json:"command,omitempty"`    // stdio: command to spawn
	Args       []string          `json:"args,omitempty"`       // stdio: command arguments
	Env        map[string]string `json:"env,omitempty"`        // stdio: extra environment variables
	URL        string            `json:"url,omitempty"`        // sse/streamable-http: endpoint
	Headers    map[string]string `json:"headers,omitempty"`    // sse/streamable-http: extra HTTP headers
	Enabled    *bool             `json:"enabled,omitempty"`    // default true
	ToolPrefix string            `json:"toolPrefix,omitempty"` // default "mcp_<name>_"
	TimeoutSec int               `json:"timeoutSec,omitempty"` // per-call timeout, default 60
}

// IsEnabled reports whether the server should be connected (default true).
func (c *MCPServerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// TelemetryConfig enables OTLP trace export.
type TelemetryConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint,omitempty"`
	Protocol string `json:"protocol,omitempty"` // "http" or "grpc"
}

// Config is the full runtime configuration.
type Config struct {
	StateDir   string                      `json:"stateDir,omitempty"`
	Agent      AgentConfig                 `json:"agent"`
	Heartbeat  HeartbeatConfig             `json:"heartbeat"`
	Telemetry  TelemetryConfig             `json:"telemetry"`
	MCPServers map[string]*MCPServerConfig `json:"mcpServers,omitempty"`
}

// Default returns a Config with working defaults for everything except
// credentials.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Provider:          "anthropic",
			Model:             "claude-sonnet-4-5-20250929",
			MaxIterations:     25,
			MaxRetries:        3,
			ToolResultCap:     50000,
			OverflowResultCap: 20000,
			KeepRecent:        10,
			ShellTimeoutSec:   120,
		},
		Heartbeat: HeartbeatConfig{
			Cron:   "*/30 * * * *",
			Prompt: "Check HEARTBEAT.md and act on anything due.",
		},
		Telemetry: TelemetryConfig{
			Protocol: "http",
		},
	}
}

// StateDir resolves the state root: explicit config value, then the
// MYCLAW_STATE_DIR environment variable, then ~/.myclaw.
func (c *Config) ResolvedStateDir() string {
	if c != nil && c.StateDir != "" {
		return expandHome(c.StateDir)
	}
	if dir := os.Getenv(stateDirEnv); dir != "" {
		return expandHome(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".myclaw"
	}
	return filepath.Join(home, ".myclaw")
}

func (c *Config) SessionsDir() string  { return filepath.Join(c.ResolvedStateDir(), "sessions") }
func (c *Config) WorkspaceDir() string { return filepath.Join(c.ResolvedStateDir(), "workspace") }
func (c *Config) LogsDir() string      { return filepath.Join(c.ResolvedStateDir(), "logs") }

// Path returns the config file location under the state root.
func (c *Config) Path() string {
	return filepath.Join(c.ResolvedStateDir(), configFileName)
}

func expandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
