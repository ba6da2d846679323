// Package heartbeat runs a recurring agent turn on a cron schedule so the
// assistant can act without being prompted.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

const defaultPrompt = "Check HEARTBEAT.md and act on anything due."

// RunFunc executes one heartbeat turn with the given prompt.
type RunFunc func(ctx context.Context, prompt string) error

// Scheduler fires RunFunc at every cron tick.
type Scheduler struct {
	expr   string
	prompt string
	run    RunFunc
}

// New validates the cron expression and builds a scheduler.
func New(expr, prompt string, run RunFunc) (*Scheduler, error) {
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("heartbeat: invalid cron expression %q", expr)
	}
	if prompt == "" {
		prompt = defaultPrompt
	}
	return &Scheduler{expr: expr, prompt: prompt, run: run}, nil
}

// Start blocks, firing the run function at each scheduled tick, until ctx
// is cancelled. A failed tick is logged and the schedule continues.
func (s *Scheduler) Start(ctx context.Context) error {
	for {
		next, err := gronx.NextTick(s.expr, false)
		if err != nil {
			return fmt.Errorf("heartbeat: compute next tick: %w", err)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		slog.Info("heartbeat tick", "scheduled", next.Format(time.RFC3339))
		if err := s.run(ctx, s.prompt); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("heartbeat run failed", "error", err)
		}
	}
}
