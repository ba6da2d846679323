package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/myclaw/internal/agent"
	"github.com/nextlevelbuilder/myclaw/internal/config"
	"github.com/nextlevelbuilder/myclaw/internal/heartbeat"
	"github.com/nextlevelbuilder/myclaw/internal/providers"
	"github.com/nextlevelbuilder/myclaw/internal/sessions"
	"github.com/nextlevelbuilder/myclaw/internal/telemetry"
)

func heartbeatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "heartbeat",
		Short: "Run the background heartbeat scheduler",
		Long: "Runs the assistant on its cron schedule so it can act without being\n" +
			"prompted. The config file is watched and reloaded on change.",
		Run: func(cmd *cobra.Command, args []string) {
			runHeartbeat()
		},
	}
}

func runHeartbeat() {
	cfg, err := loadConfig()
	if err != nil {
		fatal(err)
	}
	if !cfg.Heartbeat.Enabled {
		fatal(fmt.Errorf("heartbeat is disabled; set heartbeat.enabled in %s", cfg.Path()))
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

	// The watcher swaps the config under a mutex; each tick reads the
	// latest snapshot.
	var mu sync.Mutex
	current := cfg

	runner := agent.NewRunner(cfg.SessionsDir(), providers.NewRegistry(cfg.Agent.RateLimitRPM))
	key := sessions.BuildSessionKey(sessions.KeyParams{
		AgentID:  "main",
		Channel:  "heartbeat",
		Account:  "default",
		PeerKind: sessions.PeerDirect,
		PeerID:   "scheduler",
	})

	registry := buildToolRegistry(ctx, cfg)
	defer registry.close()

	sched, err := heartbeat.New(cfg.Heartbeat.Cron, cfg.Heartbeat.Prompt, func(ctx context.Context, prompt string) error {
		mu.Lock()
		snapshot := current
		mu.Unlock()
		return runTurn(ctx, runner, snapshot, registry.tools, key, prompt)
	})
	if err != nil {
		fatal(err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// A broken watcher degrades hot reload but must not stop the
		// scheduler.
		err := config.Watch(gctx, cfg.Path(), func(next *config.Config) {
			mu.Lock()
			current = next
			mu.Unlock()
		})
		if err != nil && gctx.Err() == nil {
			slog.Warn("config watcher stopped", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("heartbeat scheduler started", "cron", cfg.Heartbeat.Cron)
		return sched.Start(gctx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		fatal(err)
	}
}
