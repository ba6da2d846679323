// Package agent drives one conversation turn: provider calls with
// credential failover, context-overflow recovery, tool dispatch, and
// transcript persistence.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/myclaw/internal/bootstrap"
	"github.com/nextlevelbuilder/myclaw/internal/providers"
	"github.com/nextlevelbuilder/myclaw/internal/sessions"
	"github.com/nextlevelbuilder/myclaw/internal/tools"
)

const (
	DefaultMaxIterations = 25
	DefaultMaxRetries    = 3
)

// ErrNoProfiles is returned when a run is started without credentials.
var ErrNoProfiles = errors.New("agent: no credential profiles configured")

// RunConfig is the full input for one turn.
type RunConfig struct {
	SessionKey string
	UserText   string

	Provider string
	Model    string
	BaseURL  string
	Profiles []Profile

	Workspace string
	Identity  string

	MaxIterations     int // default 25
	MaxRetries        int // default 3
	ToolResultCap     int // default 50000, bounds tool output at persistence
	OverflowResultCap int // default 20000, bounds tool output during overflow recovery
	KeepRecent        int // default 10, messages preserved by compaction
	ShellTimeoutSec   int // default 120

	OnEvent EventCallback

	// Tools overrides the default workspace-bound registry, and Client the
	// resolved provider client. Both are optional.
	Tools  *tools.Registry
	Client providers.Client
}

// Result is the outcome of one completed turn.
type Result struct {
	Reply                string          `json:"reply"`
	Usage                providers.Usage `json:"usage"`
	LastCallUsage        providers.Usage `json:"lastCallUsage"`
	Iterations           int             `json:"iterations"`
	MaxIterationsReached bool            `json:"maxIterationsReached"`
}

// Runner owns the per-process collaborators shared across turns.
type Runner struct {
	transcripts *sessions.TranscriptStore
	index       *sessions.Index
	registry    *providers.Registry
	tracer      trace.Tracer
}

func NewRunner(sessionsDir string, registry *providers.Registry) *Runner {
	return &Runner{
		transcripts: sessions.NewTranscriptStore(sessionsDir),
		index:       sessions.NewIndex(sessionsDir),
		registry:    registry,
		tracer:      otel.Tracer("myclaw/agent"),
	}
}

// Run executes one turn for the session. Partial progress is not
// persisted: the transcript gains the turn's messages only after the run
// completes (or hits the iteration cap).
func (r *Runner) Run(ctx context.Context, cfg RunConfig) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(cfg.Profiles) == 0 {
		return nil, ErrNoProfiles
	}

	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	ctx, span := r.tracer.Start(ctx, "agent.run",
		trace.WithAttributes(
			attribute.String("session.key", cfg.SessionKey),
			attribute.String("provider", cfg.Provider),
			attribute.String("model", cfg.Model),
		))
	defer span.End()

	// Setup: workspace, tools, prompt, provider, history.
	if err := bootstrap.EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, fmt.Errorf("ensure workspace: %w", err)
	}
	registry := cfg.Tools
	if registry == nil {
		registry = tools.DefaultRegistry(cfg.Workspace, cfg.ShellTimeoutSec)
	}

	files := bootstrap.LoadWorkspaceFiles(cfg.Workspace, 0, 0)
	systemPrompt := ComposeSystemPrompt(PromptParams{
		Identity:  cfg.Identity,
		Files:     files,
		ToolNames: registry.List(),
		Model:     cfg.Model,
		Workspace: cfg.Workspace,
	})

	desc, client := r.registry.Resolve(cfg.Provider, cfg.Model, cfg.BaseURL)
	if cfg.Client != nil {
		client = cfg.Client
	}

	records, err := r.transcripts.Load(cfg.SessionKey)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	msgs := sessions.ToMessages(records)
	msgs = sessions.RepairOrphanedToolCalls(msgs)

	msgs = append(msgs, &providers.UserMessage{
		Content:   []providers.ContentBlock{providers.TextBlock(cfg.UserText)},
		Timestamp: time.Now().UnixMilli(),
	})
	historyBase := len(msgs)

	chain := NewProfileChain(cfg.Profiles)

	run := &runState{
		cfg:          cfg,
		desc:         desc,
		client:       client,
		registry:     registry,
		systemPrompt: systemPrompt,
		chain:        chain,
		maxRetries:   maxRetries,
		msgs:         msgs,
		historyBase:  historyBase,
		tracer:       r.tracer,
	}

	var lastAssistant *providers.AssistantMessage

	for iter := 0; iter < maxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return nil, err
		}

		assistant, err := run.callProvider(ctx, iter)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		run.msgs = append(run.msgs, assistant)
		lastAssistant = assistant

		calls := assistant.ToolCalls()
		if len(calls) == 0 {
			result := run.finish(assistant, iter+1, false)
			if err := r.persist(run); err != nil {
				return nil, err
			}
			emit(cfg.OnEvent, Event{Type: EventDone, Result: result})
			span.SetAttributes(attribute.Int("iterations", result.Iterations))
			return result, nil
		}

		for _, call := range calls {
			if err := ctx.Err(); err != nil {
				span.SetStatus(codes.Error, "cancelled")
				return nil, err
			}
			emit(cfg.OnEvent, Event{Type: EventToolStart, ToolName: call.Name, ToolCallID: call.ID})
			start := time.Now()
			toolCtx, toolSpan := r.tracer.Start(ctx, "agent.tool",
				trace.WithAttributes(attribute.String("tool.name", call.Name)))
			tr := InvokeTool(toolCtx, registry, call, cfg.ToolResultCap)
			toolSpan.SetAttributes(attribute.Bool("tool.error", tr.IsError))
			toolSpan.End()
			emit(cfg.OnEvent, Event{
				Type:       EventToolEnd,
				ToolName:   call.Name,
				ToolCallID: call.ID,
				DurationMs: time.Since(start).Milliseconds(),
				IsError:    tr.IsError,
			})
			run.msgs = append(run.msgs, tr)
		}
	}

	// Iteration cap reached. Persist what we have and report the cap.
	slog.Warn("run hit iteration cap", "session", cfg.SessionKey, "iterations", maxIterations)
	result := run.finish(lastAssistant, maxIterations, true)
	if err := r.persist(run); err != nil {
		return nil, err
	}
	emit(cfg.OnEvent, Event{Type: EventDone, Result: result})
	span.SetAttributes(attribute.Int("iterations", maxIterations), attribute.Bool("max_iterations", true))
	return result, nil
}

// runState carries the mutable per-turn state between loop phases.
type runState struct {
	cfg          RunConfig
	desc         providers.Descriptor
	client       providers.Client
	registry     *tools.Registry
	systemPrompt string
	chain        *ProfileChain
	maxRetries   int
	tracer       trace.Tracer

	msgs        []providers.Message
	historyBase int

	usage     providers.Usage
	lastUsage providers.Usage
}

// callProvider performs one provider call with credential rotation and
// overflow recovery. Overflow recovery mutates the message list without
// consuming retry budget; each stage runs at most once per iteration.
func (s *runState) callProvider(ctx context.Context, iteration int) (*providers.AssistantMessage, error) {
	retries := 0
	compacted := false
	truncated := false
	var lastErr error

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		profile, ok := s.chain.NextAvailable()
		if !ok {
			if retries >= s.maxRetries {
				return nil, fmt.Errorf("agent: retries exhausted, all profiles cooling down: %w", lastErr)
			}
			if err := sleepCtx(ctx, s.chain.Wait()); err != nil {
				return nil, err
			}
			continue
		}

		emit(s.cfg.OnEvent, Event{Type: EventLLMStart, Iteration: iteration})

		pc := providers.Context{
			SystemPrompt: s.systemPrompt,
			Messages:     s.msgs,
			Tools:        s.registry.Defs(),
		}
		opts := providers.Options{APIKey: profile.APIKey, MaxTokens: s.desc.MaxTokens}

		callCtx, callSpan := s.tracer.Start(ctx, "agent.llm_call",
			trace.WithAttributes(
				attribute.Int("iteration", iteration),
				attribute.String("profile", profile.ID),
			))

		var assistant *providers.AssistantMessage
		var err error
		if s.cfg.OnEvent != nil {
			opts.OnEvent = func(ev providers.StreamEvent) {
				emit(s.cfg.OnEvent, Event{Type: EventLLMStream, Stream: &ev})
			}
			assistant, err = s.client.Stream(callCtx, s.desc, pc, opts)
		} else {
			assistant, err = s.client.Complete(callCtx, s.desc, pc, opts)
		}
		if err != nil {
			callSpan.RecordError(err)
			callSpan.SetStatus(codes.Error, err.Error())
		}
		callSpan.End()

		if err == nil {
			s.usage.Accumulate(assistant.Usage)
			s.lastUsage = assistant.Usage
			s.chain.MarkGood()
			emit(s.cfg.OnEvent, Event{Type: EventLLMEnd, Message: assistant})
			return assistant, nil
		}
		lastErr = err

		switch category := Classify(err); {
		case category == FailOverflow:
			if recovered := s.recoverOverflow(ctx, &compacted, &truncated, profile); recovered {
				continue
			}
			return nil, fmt.Errorf("agent: context overflow after compaction and truncation: %w", err)

		case IsRetriable(category):
			s.chain.MarkFailed()
			s.chain.Advance()
			retries++
			// ProfileID names the profile the run rotates to.
			emit(s.cfg.OnEvent, Event{Type: EventRetry, Attempt: retries, Reason: category, ProfileID: s.chain.Current().ID})
			slog.Warn("provider call failed, rotating profile",
				"category", category, "failed_profile", profile.ID, "attempt", retries, "error", err)
			if retries > s.maxRetries {
				return nil, fmt.Errorf("agent: retries exhausted after %d attempts: %w", retries, err)
			}
			continue

		default:
			return nil, err
		}
	}
}

// recoverOverflow runs the two recovery stages in order, each at most once
// per iteration. Reports whether the message list changed and the call
// should be retried.
func (s *runState) recoverOverflow(ctx context.Context, compacted, truncated *bool, profile Profile) bool {
	if !*compacted {
		*compacted = true
		oldCount := len(s.msgs)
		newMsgs, changed, err := Compact(ctx, s.msgs, s.cfg.KeepRecent, s.summarizer(profile))
		if err != nil {
			slog.Warn("compaction failed, falling back to truncation", "error", err)
		} else if changed {
			// Messages before historyBase were replaced by the summary.
			s.historyBase = len(newMsgs) - (oldCount - s.historyBase)
			if s.historyBase < 1 {
				s.historyBase = 1
			}
			s.msgs = newMsgs
			emit(s.cfg.OnEvent, Event{Type: EventCompaction, OldCount: oldCount, NewCount: len(newMsgs)})
			return true
		}
	}
	if !*truncated {
		*truncated = true
		newMsgs, changed := TruncateToolResults(s.msgs, s.cfg.OverflowResultCap)
		if changed {
			s.msgs = newMsgs
			return true
		}
	}
	return false
}

// summarizer builds the provider-callable closure the compactor uses, bound
// to the currently selected credential.
func (s *runState) summarizer(profile Profile) Summarizer {
	return func(ctx context.Context, prompt string) (string, error) {
		pc := providers.Context{
			Messages: []providers.Message{
				&providers.UserMessage{
					Content:   []providers.ContentBlock{providers.TextBlock(prompt)},
					Timestamp: time.Now().UnixMilli(),
				},
			},
		}
		opts := providers.Options{APIKey: profile.APIKey, MaxTokens: s.desc.MaxTokens}
		assistant, err := s.client.Complete(ctx, s.desc, pc, opts)
		if err != nil {
			return "", err
		}
		return assistant.Text(), nil
	}
}

func (s *runState) finish(last *providers.AssistantMessage, iterations int, capped bool) *Result {
	reply := ""
	if last != nil {
		reply = last.Text()
	}
	return &Result{
		Reply:                reply,
		Usage:                s.usage,
		LastCallUsage:        s.lastUsage,
		Iterations:           iterations,
		MaxIterationsReached: capped,
	}
}

// persist appends the turn's tail (the new user message and everything
// after it) to the transcript and refreshes the index row.
func (r *Runner) persist(s *runState) error {
	tail := s.msgs[s.historyBase-1:]
	records := sessions.FromMessages(tail)
	if err := r.transcripts.AppendBatch(s.cfg.SessionKey, records); err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	_, err := r.index.UpsertMeta(s.cfg.SessionKey, sessions.EntryPatch{
		Model:       s.cfg.Model,
		TotalTokens: int64(s.usage.TotalTokens),
	})
	if err != nil {
		return fmt.Errorf("update session index: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
