package agent

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/nextlevelbuilder/myclaw/internal/bootstrap"
)

const defaultIdentity = "You are a capable personal assistant. " +
	"You help the user get things done directly and honestly."

const safetySection = "Safety rules:\n" +
	"- Never fabricate tool results. If a tool fails, report the failure.\n" +
	"- Never attempt to bypass permission checks or workspace boundaries.\n" +
	"- When unsure, say so rather than guessing."

// PromptParams selects the sections of the composed system prompt.
type PromptParams struct {
	// Identity overrides the default identity text when non-empty.
	Identity  string
	Files     []bootstrap.ContextFile
	ToolNames []string
	Model     string
	Workspace string
	// Now defaults to time.Now when zero.
	Now time.Time
}

// ComposeSystemPrompt assembles the system prompt from fixed sections in a
// fixed order: identity, bootstrap files, tools, safety, runtime. Empty
// sections are omitted.
func ComposeSystemPrompt(p PromptParams) string {
	var sections []string

	identity := p.Identity
	if identity == "" {
		identity = defaultIdentity
	}
	sections = append(sections, identity)

	if len(p.Files) > 0 {
		var b strings.Builder
		b.WriteString("<context_files>\n")
		for _, f := range p.Files {
			fmt.Fprintf(&b, "<file path=%q>\n%s\n</file>\n", f.Name, f.Content)
		}
		b.WriteString("</context_files>")
		sections = append(sections, b.String())
	}

	if len(p.ToolNames) > 0 {
		var b strings.Builder
		b.WriteString("Available tools:\n")
		for _, name := range p.ToolNames {
			fmt.Fprintf(&b, "- %s\n", name)
		}
		b.WriteString("Invoke tools when they help. Prefer reading files before editing them.")
		sections = append(sections, b.String())
	}

	sections = append(sections, safetySection)

	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}
	wd := p.Workspace
	if wd == "" {
		wd, _ = os.Getwd()
	}
	runtimeSection := fmt.Sprintf("Current time: %s\nPlatform: %s\nWorking directory: %s",
		now.Format(time.RFC3339), runtime.GOOS, wd)
	if p.Model != "" {
		runtimeSection += "\nModel: " + p.Model
	}
	sections = append(sections, runtimeSection)

	return strings.Join(sections, "\n\n")
}
