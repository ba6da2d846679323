package agent

import (
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/myclaw/internal/bootstrap"
)

func TestComposeSystemPromptSectionOrder(t *testing.T) {
	prompt := ComposeSystemPrompt(PromptParams{
		Files: []bootstrap.ContextFile{
			{Name: "SOUL.md", Content: "be kind"},
		},
		ToolNames: []string{"read_file", "shell"},
		Model:     "claude-sonnet-4-5",
		Workspace: "/tmp/ws",
		Now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})

	markers := []string{
		defaultIdentity,
		`<file path="SOUL.md">`,
		"be kind",
		"- read_file",
		"- shell",
		"Never fabricate tool results",
		"Current time: 2026-03-01T12:00:00Z",
		"Working directory: /tmp/ws",
		"Model: claude-sonnet-4-5",
	}
	pos := -1
	for _, m := range markers {
		idx := strings.Index(prompt, m)
		if idx < 0 {
			t.Fatalf("prompt missing %q:\n%s", m, prompt)
		}
		if idx < pos {
			t.Errorf("%q appears out of order", m)
		}
		pos = idx
	}
}

func TestComposeSystemPromptOmitsEmptySections(t *testing.T) {
	prompt := ComposeSystemPrompt(PromptParams{Workspace: "/tmp/ws"})
	if strings.Contains(prompt, "<context_files>") {
		t.Error("empty files section should be omitted")
	}
	if strings.Contains(prompt, "Available tools:") {
		t.Error("empty tools section should be omitted")
	}
	if strings.Contains(prompt, "Model:") {
		t.Error("model line should be omitted without a model")
	}
	if !strings.Contains(prompt, "Safety rules:") {
		t.Error("safety section must always be present")
	}
}

func TestComposeSystemPromptIdentityOverride(t *testing.T) {
	prompt := ComposeSystemPrompt(PromptParams{Identity: "You are a pirate.", Workspace: "/w"})
	if !strings.HasPrefix(prompt, "You are a pirate.") {
		t.Errorf("identity override not first: %q", prompt[:40])
	}
	if strings.Contains(prompt, defaultIdentity) {
		t.Error("default identity should be replaced")
	}
}
