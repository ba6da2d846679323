package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/myclaw/internal/sessions"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the installation and report problems",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	ok := true
	check := func(name string, pass bool, detail string) {
		mark := "✓"
		if !pass {
			mark = "✗"
			ok = false
		}
		fmt.Printf("%s %-24s %s\n", mark, name, detail)
	}

	cfg, err := loadConfig()
	if err != nil {
		check("config", false, err.Error())
		os.Exit(1)
	}
	check("config", true, cfg.Path())

	stateDir := cfg.ResolvedStateDir()
	if info, err := os.Stat(stateDir); err != nil {
		check("state dir", false, stateDir+" missing (run 'myclaw onboard')")
	} else {
		check("state dir", info.IsDir(), stateDir)
	}

	if len(cfg.Agent.Profiles) == 0 {
		check("credentials", false, "no profiles; run 'myclaw onboard' or set MYCLAW_API_KEY")
	} else {
		detail := fmt.Sprintf("%d profile(s), provider %s", len(cfg.Agent.Profiles), cfg.Agent.Provider)
		valid := true
		for _, p := range cfg.Agent.Profiles {
			if p.APIKey == "" {
				valid = false
				detail = fmt.Sprintf("profile %q has an empty API key", p.ID)
				break
			}
		}
		check("credentials", valid, detail)
	}

	index := sessions.NewIndex(cfg.SessionsDir())
	if keys, err := index.List(); err != nil {
		check("session index", false, err.Error())
	} else {
		check("session index", true, fmt.Sprintf("%d session(s)", len(keys)))
	}

	if _, err := os.Stat(cfg.WorkspaceDir()); err != nil {
		// Not fatal: the workspace is created on first chat.
		fmt.Printf("○ %-24s %s\n", "workspace", cfg.WorkspaceDir()+" missing (created on first chat)")
	} else {
		check("workspace", true, cfg.WorkspaceDir())
	}

	if !ok {
		os.Exit(1)
	}
	fmt.Println("\nAll checks passed.")
}
