package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/myclaw/internal/bootstrap"
	"github.com/nextlevelbuilder/myclaw/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive first-run setup",
		Long:  "Walks through provider selection and credentials, then writes the config\nfile and seeds the workspace.",
		Run: func(cmd *cobra.Command, args []string) {
			runOnboard()
		},
	}
}

func runOnboard() {
	var (
		provider    = "anthropic"
		model       string
		apiKey      string
		fallbackKey string
		enableBeat  bool
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("LLM provider").
				Options(
					huh.NewOption("Anthropic", "anthropic"),
					huh.NewOption("OpenAI", "openai"),
					huh.NewOption("OpenRouter", "openrouter"),
					huh.NewOption("Groq", "groq"),
					huh.NewOption("DeepSeek", "deepseek"),
					huh.NewOption("Mistral", "mistral"),
					huh.NewOption("xAI", "xai"),
				).
				Value(&provider),
			huh.NewInput().
				Title("Model").
				Description("Leave empty for the provider default").
				Value(&model),
			huh.NewInput().
				Title("API key").
				EchoMode(huh.EchoModePassword).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("an API key is required")
					}
					return nil
				}).
				Value(&apiKey),
			huh.NewInput().
				Title("Fallback API key (optional)").
				EchoMode(huh.EchoModePassword).
				Value(&fallbackKey),
			huh.NewConfirm().
				Title("Enable the background heartbeat?").
				Value(&enableBeat),
		),
	)

	if err := form.Run(); err != nil {
		fatal(err)
	}

	cfg := config.Default()
	cfg.Agent.Provider = provider
	if model != "" {
		cfg.Agent.Model = model
	}
	cfg.Agent.Profiles = []config.ProfileConfig{{ID: "default", APIKey: apiKey}}
	if fallbackKey != "" {
		cfg.Agent.Profiles = append(cfg.Agent.Profiles, config.ProfileConfig{ID: "fallback", APIKey: fallbackKey})
	}
	cfg.Heartbeat.Enabled = enableBeat

	path := cfg.Path()
	if err := writeConfigFile(path, cfg); err != nil {
		fatal(err)
	}
	if err := bootstrap.EnsureWorkspace(cfg.WorkspaceDir()); err != nil {
		fatal(err)
	}
	if err := os.MkdirAll(cfg.LogsDir(), 0755); err != nil {
		fatal(err)
	}

	fmt.Printf("Wrote %s\n", path)
	fmt.Printf("Workspace ready at %s\n", cfg.WorkspaceDir())
	fmt.Println("Try: myclaw chat")
}

func writeConfigFile(path string, cfg *config.Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	content := "// myclaw configuration. JSON5: comments and trailing commas allowed.\n"
	content += "// API keys may reference environment variables as \"${VAR}\".\n"
	content += "{\n"
	content += "  agent: {\n"
	content += fmt.Sprintf("    provider: %q,\n", cfg.Agent.Provider)
	content += fmt.Sprintf("    model: %q,\n", cfg.Agent.Model)
	content += "    profiles: [\n"
	for _, p := range cfg.Agent.Profiles {
		content += fmt.Sprintf("      {id: %q, apiKey: %q},\n", p.ID, p.APIKey)
	}
	content += "    ],\n"
	content += "  },\n"
	content += "  heartbeat: {\n"
	content += fmt.Sprintf("    enabled: %v,\n", cfg.Heartbeat.Enabled)
	content += fmt.Sprintf("    cron: %q,\n", cfg.Heartbeat.Cron)
	content += "  },\n"
	content += "}\n"

	// 0600: the file holds credentials.
	return os.WriteFile(path, []byte(content), 0600)
}
