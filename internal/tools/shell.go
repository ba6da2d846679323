package tools

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

const (
	defaultShellTimeoutSec = 120
	maxShellOutputChars    = 50000
)

// Commands denied regardless of arguments. The agent runs with the user's
// privileges, so destructive and privilege-escalating commands are blocked
// up front rather than after the fact.
var shellDenyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`\bmkfs\b`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`),
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bsu\s+-`),
	regexp.MustCompile(`\bcurl\b.*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bwget\b.*-O\s*-\s*\|\s*(ba)?sh\b`),
}

// ShellTool runs a shell command in the workspace directory.
type ShellTool struct {
	workspace  string
	timeoutSec int
}

func NewShellTool(workspace string, timeoutSec int) *ShellTool {
	if timeoutSec <= 0 {
		timeoutSec = defaultShellTimeoutSec
	}
	return &ShellTool{workspace: workspace, timeoutSec: timeoutSec}
}

func (t *ShellTool) Name() string  { return "shell" }
func (t *ShellTool) Label() string { return "Shell" }
func (t *ShellTool) Description() string {
	return fmt.Sprintf("Run a shell command in the workspace directory. Commands time out after %d seconds.", t.timeoutSec)
}
func (t *ShellTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Shell command to execute",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ShellTool) Execute(ctx context.Context, id string, args map[string]any) *Result {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return ErrorResult("command is required")
	}
	for _, pat := range shellDenyPatterns {
		if pat.MatchString(command) {
			return ErrorResult(fmt.Sprintf("command denied by policy: matches %s", pat.String()))
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(t.timeoutSec)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", command)
	cmd.Dir = t.workspace

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	output := out.String()
	if len(output) > maxShellOutputChars {
		trimmed := len(output) - maxShellOutputChars
		output = output[:maxShellOutputChars] + fmt.Sprintf("\n[output truncated %d chars]", trimmed)
	}

	if execCtx.Err() == context.DeadlineExceeded {
		slog.Warn("shell command timed out", "timeout_sec", t.timeoutSec)
		return ErrorResult(fmt.Sprintf("command timed out after %ds\n%s", t.timeoutSec, output))
	}
	if err != nil {
		return ErrorResult(fmt.Sprintf("command failed: %v\n%s", err, output))
	}

	slog.Debug("shell command finished", "elapsed", elapsed.Round(time.Millisecond))
	if strings.TrimSpace(output) == "" {
		return NewResult("(no output)")
	}
	return NewResult(output)
}
