package agent

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/myclaw/internal/providers"
	"github.com/nextlevelbuilder/myclaw/internal/sessions"
	"github.com/nextlevelbuilder/myclaw/internal/tools"
)

// fakeClient pops scripted responses from a queue. Stream and Complete
// share the queue so summarisation calls are scripted the same way.
type fakeClient struct {
	queue    []fakeResponse
	calls    int
	contexts []providers.Context
	keys     []string
}

type fakeResponse struct {
	msg *providers.AssistantMessage
	err error
}

func (f *fakeClient) next(pc providers.Context, opts providers.Options) (*providers.AssistantMessage, error) {
	f.calls++
	f.contexts = append(f.contexts, pc)
	f.keys = append(f.keys, opts.APIKey)
	if len(f.queue) == 0 {
		return nil, errors.New("fakeClient: queue exhausted")
	}
	r := f.queue[0]
	f.queue = f.queue[1:]
	return r.msg, r.err
}

func (f *fakeClient) Complete(ctx context.Context, d providers.Descriptor, pc providers.Context, opts providers.Options) (*providers.AssistantMessage, error) {
	return f.next(pc, opts)
}

func (f *fakeClient) Stream(ctx context.Context, d providers.Descriptor, pc providers.Context, opts providers.Options) (*providers.AssistantMessage, error) {
	return f.next(pc, opts)
}

func textReply(text string, usage providers.Usage) fakeResponse {
	return fakeResponse{msg: &providers.AssistantMessage{
		Content:   []providers.ContentBlock{providers.TextBlock(text)},
		Provider:  "anthropic",
		Model:     "test-model",
		Usage:     usage,
		Timestamp: 2000,
	}}
}

func toolCallReply(id, name string) fakeResponse {
	return fakeResponse{msg: &providers.AssistantMessage{
		Content: []providers.ContentBlock{
			{Type: providers.BlockToolCall, ID: id, Name: name, Args: map[string]any{"patch": "x"}},
		},
		Usage:     providers.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
		Timestamp: 2000,
	}}
}

func testRunner(t *testing.T) (*Runner, string) {
	t.Helper()
	dir := t.TempDir()
	return NewRunner(dir, providers.NewRegistry(0)), dir
}

func testConfig(t *testing.T, client providers.Client, reg *tools.Registry) RunConfig {
	t.Helper()
	return RunConfig{
		SessionKey: "agent:main:channel:cli:account:default:peer:direct:me",
		UserText:   "Hi",
		Provider:   "anthropic",
		Model:      "test-model",
		Profiles:   []Profile{{ID: "default", APIKey: "key-0"}},
		Workspace:  t.TempDir(),
		Tools:      reg,
		Client:     client,
	}
}

func TestRunHappyPathNoTools(t *testing.T) {
	r, dir := testRunner(t)
	client := &fakeClient{queue: []fakeResponse{
		textReply("Hello!", providers.Usage{InputTokens: 100, OutputTokens: 50, TotalTokens: 150}),
	}}
	cfg := testConfig(t, client, tools.NewRegistry())

	res, err := r.Run(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if res.Reply != "Hello!" {
		t.Errorf("reply = %q", res.Reply)
	}
	if res.Iterations != 1 || res.MaxIterationsReached {
		t.Errorf("iterations = %d, capped = %v", res.Iterations, res.MaxIterationsReached)
	}
	if res.Usage.TotalTokens != 150 {
		t.Errorf("usage total = %d", res.Usage.TotalTokens)
	}

	// Transcript tail: the user message then the assistant reply.
	records, err := sessions.NewTranscriptStore(dir).Load(cfg.SessionKey)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("transcript has %d records", len(records))
	}
	if records[0].Role != "user" || records[0].Content != "Hi" {
		t.Errorf("record 0 = %+v", records[0])
	}
	if records[1].Role != "assistant" || records[1].Content != "Hello!" {
		t.Errorf("record 1 = %+v", records[1])
	}

	// Index row carries model and token total.
	entries, err := sessions.NewIndex(dir).Load()
	if err != nil {
		t.Fatal(err)
	}
	entry, ok := entries[cfg.SessionKey]
	if !ok {
		t.Fatal("index missing session entry")
	}
	if entry.Model != "test-model" || entry.TotalTokens != 150 {
		t.Errorf("entry = %+v", entry)
	}
}

func TestRunToolCallThenReply(t *testing.T) {
	r, _ := testRunner(t)
	client := &fakeClient{queue: []fakeResponse{
		toolCallReply("tc1", "apply_patch"),
		textReply("Done!", providers.Usage{InputTokens: 20, OutputTokens: 10, TotalTokens: 30}),
	}}

	reg := tools.NewRegistry()
	reg.Register(&scriptTool{name: "apply_patch", result: tools.NewResult("ok")})

	var events []Event
	cfg := testConfig(t, client, reg)
	cfg.OnEvent = func(ev Event) { events = append(events, ev) }

	res, err := r.Run(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if res.Reply != "Done!" || res.Iterations != 2 {
		t.Errorf("reply = %q, iterations = %d", res.Reply, res.Iterations)
	}
	if res.Usage.TotalTokens != 45 {
		t.Errorf("summed usage total = %d", res.Usage.TotalTokens)
	}

	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := []string{
		EventLLMStart, EventLLMEnd,
		EventToolStart, EventToolEnd,
		EventLLMStart, EventLLMEnd,
		EventDone,
	}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("event order = %v, want %v", types, want)
	}
	if events[0].Iteration != 0 || events[4].Iteration != 1 {
		t.Errorf("iteration numbers wrong: %+v", events)
	}
	if events[2].ToolName != "apply_patch" || events[3].IsError {
		t.Errorf("tool events wrong: %+v %+v", events[2], events[3])
	}

	// Second call context includes the tool result answering tc1.
	second := client.contexts[1]
	var sawResult bool
	for _, m := range second.Messages {
		if tr, ok := m.(*providers.ToolResultMessage); ok && tr.ToolCallID == "tc1" && tr.Text() == "ok" {
			sawResult = true
		}
	}
	if !sawResult {
		t.Error("second provider call lacks tool result for tc1")
	}
}

func TestRunAuthFailureRotatesProfile(t *testing.T) {
	r, _ := testRunner(t)
	client := &fakeClient{queue: []fakeResponse{
		{err: &providers.HTTPError{Status: 401, Body: "bad key"}},
		textReply("Recovered", providers.Usage{TotalTokens: 10}),
	}}

	var events []Event
	cfg := testConfig(t, client, tools.NewRegistry())
	cfg.Profiles = []Profile{
		{ID: "default", APIKey: "key-0"},
		{ID: "fallback", APIKey: "key-1"},
	}
	cfg.OnEvent = func(ev Event) { events = append(events, ev) }

	res, err := r.Run(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if res.Reply != "Recovered" {
		t.Errorf("reply = %q", res.Reply)
	}

	var retries []Event
	for _, ev := range events {
		if ev.Type == EventRetry {
			retries = append(retries, ev)
		}
	}
	if len(retries) != 1 {
		t.Fatalf("retry events = %d, want 1", len(retries))
	}
	if retries[0].Attempt != 1 || retries[0].Reason != FailAuth || retries[0].ProfileID != "fallback" {
		t.Errorf("retry event = %+v", retries[0])
	}

	// Second call authenticated with the fallback key.
	if client.keys[1] != "key-1" {
		t.Errorf("second call key = %q", client.keys[1])
	}
}

func TestRunRetriesExhausted(t *testing.T) {
	r, _ := testRunner(t)
	client := &fakeClient{queue: []fakeResponse{
		{err: &providers.HTTPError{Status: 500, Body: "down"}},
		{err: &providers.HTTPError{Status: 500, Body: "down"}},
	}}
	cfg := testConfig(t, client, tools.NewRegistry())
	cfg.MaxRetries = 1

	_, err := r.Run(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "retries exhausted") {
		t.Fatalf("err = %v", err)
	}
}

func TestRunUnknownErrorPropagates(t *testing.T) {
	r, dir := testRunner(t)
	client := &fakeClient{queue: []fakeResponse{
		{err: errors.New("some inexplicable condition")},
	}}
	cfg := testConfig(t, client, tools.NewRegistry())

	_, err := r.Run(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "inexplicable") {
		t.Fatalf("err = %v", err)
	}

	// Failure persists nothing.
	if _, statErr := os.Stat(sessions.NewTranscriptStore(dir).Path(cfg.SessionKey)); !os.IsNotExist(statErr) {
		t.Error("transcript should not exist after a failed run")
	}
}

func TestRunMaxIterationsCap(t *testing.T) {
	r, dir := testRunner(t)
	client := &fakeClient{queue: []fakeResponse{
		toolCallReply("tc1", "step"),
		toolCallReply("tc2", "step"),
		toolCallReply("tc3", "step"),
	}}

	executions := 0
	reg := tools.NewRegistry()
	reg.Register(&countingTool{name: "step", count: &executions})

	cfg := testConfig(t, client, reg)
	cfg.MaxIterations = 3

	res, err := r.Run(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if res.Iterations != 3 || !res.MaxIterationsReached {
		t.Errorf("iterations = %d, capped = %v", res.Iterations, res.MaxIterationsReached)
	}
	if client.calls != 3 || executions != 3 {
		t.Errorf("provider calls = %d, tool executions = %d", client.calls, executions)
	}

	// user + 3 assistants + 3 tool results.
	records, err := sessions.NewTranscriptStore(dir).Load(cfg.SessionKey)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 7 {
		t.Errorf("transcript has %d records, want 7", len(records))
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	r, dir := testRunner(t)
	client := &fakeClient{}
	cfg := testConfig(t, client, tools.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if client.calls != 0 {
		t.Errorf("provider called %d times after cancellation", client.calls)
	}
	if _, statErr := os.Stat(sessions.NewTranscriptStore(dir).Path(cfg.SessionKey)); !os.IsNotExist(statErr) {
		t.Error("transcript should be unchanged")
	}
}

func TestRunRepairsOrphanedHistory(t *testing.T) {
	r, dir := testRunner(t)
	cfg := testConfig(t, nil, tools.NewRegistry())

	// Persist an interrupted turn: a tool call with no answering result.
	store := sessions.NewTranscriptStore(dir)
	history := []providers.Message{
		&providers.UserMessage{Content: []providers.ContentBlock{providers.TextBlock("go")}, Timestamp: 1000},
		&providers.AssistantMessage{Content: []providers.ContentBlock{
			{Type: providers.BlockToolCall, ID: "tc1", Name: "shell", Args: map[string]any{}},
		}, Timestamp: 1001},
		&providers.AssistantMessage{Content: []providers.ContentBlock{providers.TextBlock("next turn")}, Timestamp: 1002},
	}
	if err := store.AppendBatch(cfg.SessionKey, sessions.FromMessages(history)); err != nil {
		t.Fatal(err)
	}

	client := &fakeClient{queue: []fakeResponse{
		textReply("fine", providers.Usage{TotalTokens: 5}),
	}}
	cfg.Client = client

	if _, err := r.Run(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}

	// The provider saw a synthetic error result answering tc1 right after
	// the orphaned assistant message.
	sent := client.contexts[0].Messages
	var repaired *providers.ToolResultMessage
	for i, m := range sent {
		if tr, ok := m.(*providers.ToolResultMessage); ok && tr.ToolCallID == "tc1" {
			repaired = tr
			if i == 0 || sent[i-1].Role() != "assistant" {
				t.Error("synthetic result not adjacent to its assistant message")
			}
		}
	}
	if repaired == nil {
		t.Fatal("orphaned tool call was not repaired")
	}
	if !repaired.IsError || !strings.Contains(repaired.Text(), "Tool result missing") {
		t.Errorf("repaired result = %+v", repaired)
	}
}

func TestRunOverflowCompactsAndRetries(t *testing.T) {
	r, dir := testRunner(t)
	cfg := testConfig(t, nil, tools.NewRegistry())

	// Enough history that compaction has something to fold.
	store := sessions.NewTranscriptStore(dir)
	var history []providers.Message
	for i := 0; i < 14; i++ {
		history = append(history,
			&providers.UserMessage{Content: []providers.ContentBlock{providers.TextBlock("q")}, Timestamp: 1000},
			&providers.AssistantMessage{Content: []providers.ContentBlock{providers.TextBlock("a")}, Timestamp: 1001},
		)
	}
	if err := store.AppendBatch(cfg.SessionKey, sessions.FromMessages(history)); err != nil {
		t.Fatal(err)
	}

	client := &fakeClient{queue: []fakeResponse{
		{err: errors.New("400 context_length_exceeded")},                 // first attempt overflows
		textReply("old stuff happened", providers.Usage{TotalTokens: 5}), // summarisation call
		textReply("compact reply", providers.Usage{TotalTokens: 8}),      // retried attempt
	}}
	cfg.Client = client

	var events []Event
	cfg.OnEvent = func(ev Event) { events = append(events, ev) }

	res, err := r.Run(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if res.Reply != "compact reply" {
		t.Errorf("reply = %q", res.Reply)
	}

	var compactions []Event
	for _, ev := range events {
		if ev.Type == EventCompaction {
			compactions = append(compactions, ev)
		}
	}
	if len(compactions) != 1 {
		t.Fatalf("compaction events = %d, want 1", len(compactions))
	}
	// 28 history + 1 new user = 29 before, 1 summary + 10 recent after.
	if compactions[0].OldCount != 29 || compactions[0].NewCount != 11 {
		t.Errorf("compaction counts = %+v", compactions[0])
	}

	// The retried call leads with the summary message.
	final := client.contexts[2].Messages
	head, ok := final[0].(*providers.UserMessage)
	if !ok || !strings.HasPrefix(head.Text(), SummaryMarker) {
		t.Errorf("retried context head = %+v", final[0])
	}
}

func TestRunOverflowTerminalAfterBothStages(t *testing.T) {
	r, _ := testRunner(t)
	// Short history: compaction is a no-op and there are no oversized tool
	// results, so the guard has nothing left.
	client := &fakeClient{queue: []fakeResponse{
		{err: errors.New("prompt is too long")},
	}}
	cfg := testConfig(t, client, tools.NewRegistry())

	_, err := r.Run(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "context overflow") {
		t.Fatalf("err = %v", err)
	}
}

// countingTool counts executions.
type countingTool struct {
	name  string
	count *int
}

func (t *countingTool) Name() string               { return t.name }
func (t *countingTool) Label() string              { return t.name }
func (t *countingTool) Description() string        { return "counts" }
func (t *countingTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (t *countingTool) Execute(ctx context.Context, id string, args map[string]any) *tools.Result {
	*t.count++
	return tools.NewResult("ok")
}
