package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/myclaw/internal/agent"
	"github.com/nextlevelbuilder/myclaw/internal/config"
	"github.com/nextlevelbuilder/myclaw/internal/mcp"
	"github.com/nextlevelbuilder/myclaw/internal/providers"
	"github.com/nextlevelbuilder/myclaw/internal/sessions"
	"github.com/nextlevelbuilder/myclaw/internal/telemetry"
	"github.com/nextlevelbuilder/myclaw/internal/tools"
)

func chatCmd() *cobra.Command {
	var (
		agentName  string
		message    string
		sessionKey string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant interactively or send a one-shot message",
		Long: `Chat with the assistant.

Examples:
  myclaw chat                         # Interactive REPL
  myclaw chat -m "What time is it?"   # One-shot message
  myclaw chat -s my-session           # Continue a named session`,
		Run: func(cmd *cobra.Command, args []string) {
			runChat(agentName, message, sessionKey)
		},
	}

	cmd.Flags().StringVarP(&agentName, "agent", "n", "main", "agent name")
	cmd.Flags().StringVarP(&message, "message", "m", "", "one-shot message (omit for interactive mode)")
	cmd.Flags().StringVarP(&sessionKey, "session", "s", "", "session peer id (default: local)")

	return cmd
}

func runChat(agentName, message, sessionKey string) {
	cfg, err := loadConfig()
	if err != nil {
		fatal(err)
	}
	if len(cfg.Agent.Profiles) == 0 {
		fatal(fmt.Errorf("no credentials configured; run 'myclaw onboard' or set MYCLAW_API_KEY"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		fatal(err)
	}
	defer shutdown(context.Background())

	peerID := sessionKey
	if peerID == "" {
		peerID = "local"
	}
	key := sessions.BuildSessionKey(sessions.KeyParams{
		AgentID:  agentName,
		Channel:  "cli",
		Account:  "default",
		PeerKind: sessions.PeerDirect,
		PeerID:   peerID,
	})

	runner := agent.NewRunner(cfg.SessionsDir(), providers.NewRegistry(cfg.Agent.RateLimitRPM))
	registry := buildToolRegistry(ctx, cfg)
	defer registry.close()

	if message != "" {
		if err := runTurn(ctx, runner, cfg, registry.tools, key, message); err != nil {
			fatal(err)
		}
		return
	}

	printBanner(cfg.Agent.Model, key)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return
		}
		if err := runTurn(ctx, runner, cfg, registry.tools, key, line); err != nil {
			if ctx.Err() != nil {
				return
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
}

// toolRegistry bundles the shared registry with the MCP connections that
// feed it, so commands can tear both down together.
type toolRegistry struct {
	tools *tools.Registry
	mcp   *mcp.Manager
}

func (tr *toolRegistry) close() {
	if tr.mcp != nil {
		tr.mcp.Stop()
	}
}

// buildToolRegistry creates the workspace tool set and connects any
// configured MCP servers into it. Unreachable servers are logged, not fatal.
func buildToolRegistry(ctx context.Context, cfg *config.Config) *toolRegistry {
	reg := tools.DefaultRegistry(cfg.WorkspaceDir(), cfg.Agent.ShellTimeoutSec)
	tr := &toolRegistry{tools: reg}
	if len(cfg.MCPServers) > 0 {
		tr.mcp = mcp.NewManager(reg, cfg.MCPServers)
		if err := tr.mcp.Start(ctx); err != nil {
			slog.Warn("some mcp servers unavailable", "error", err)
		}
	}
	return tr
}

func runTurn(ctx context.Context, runner *agent.Runner, cfg *config.Config, reg *tools.Registry, key, text string) error {
	streamed := false
	res, err := runner.Run(ctx, agent.RunConfig{
		SessionKey:        key,
		UserText:          text,
		Tools:             reg,
		Provider:          cfg.Agent.Provider,
		Model:             cfg.Agent.Model,
		BaseURL:           cfg.Agent.BaseURL,
		Profiles:          toProfiles(cfg.Agent.Profiles),
		Workspace:         cfg.WorkspaceDir(),
		Identity:          cfg.Agent.Identity,
		MaxIterations:     cfg.Agent.MaxIterations,
		MaxRetries:        cfg.Agent.MaxRetries,
		ToolResultCap:     cfg.Agent.ToolResultCap,
		OverflowResultCap: cfg.Agent.OverflowResultCap,
		KeepRecent:        cfg.Agent.KeepRecent,
		ShellTimeoutSec:   cfg.Agent.ShellTimeoutSec,
		OnEvent: func(ev agent.Event) {
			switch ev.Type {
			case agent.EventLLMStream:
				if ev.Stream != nil && ev.Stream.Type == providers.StreamTextDelta {
					fmt.Print(ev.Stream.Text)
					streamed = true
				}
			case agent.EventToolStart:
				fmt.Fprintf(os.Stderr, "\n[%s ...]\n", ev.ToolName)
			case agent.EventRetry:
				fmt.Fprintf(os.Stderr, "[retrying with profile %s: %s]\n", ev.ProfileID, ev.Reason)
			case agent.EventCompaction:
				fmt.Fprintf(os.Stderr, "[compacted history %d -> %d messages]\n", ev.OldCount, ev.NewCount)
			}
		},
	})
	if err != nil {
		return err
	}

	if streamed {
		fmt.Println()
	} else {
		fmt.Println(res.Reply)
	}
	if res.MaxIterationsReached {
		fmt.Fprintln(os.Stderr, "[stopped at iteration cap]")
	}
	return nil
}

func toProfiles(pcs []config.ProfileConfig) []agent.Profile {
	out := make([]agent.Profile, len(pcs))
	for i, pc := range pcs {
		out[i] = agent.Profile{ID: pc.ID, APIKey: pc.APIKey}
	}
	return out
}

// printBanner draws a box sized to the widest line, using display width so
// wide characters don't break the frame.
func printBanner(model, key string) {
	lines := []string{
		"myclaw " + Version,
		"model: " + model,
		"session: " + key,
		"type /quit to exit",
	}
	width := 0
	for _, l := range lines {
		if w := runewidth.StringWidth(l); w > width {
			width = w
		}
	}
	fmt.Println("┌" + strings.Repeat("─", width+2) + "┐")
	for _, l := range lines {
		pad := width - runewidth.StringWidth(l)
		fmt.Println("│ " + l + strings.Repeat(" ", pad) + " │")
	}
	fmt.Println("└" + strings.Repeat("─", width+2) + "┘")
}
