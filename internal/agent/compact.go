package agent

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nextlevelbuilder/myclaw/internal/providers"
)

const (
	// DefaultKeepRecent is how many trailing messages compaction preserves.
	DefaultKeepRecent = 10
	// DefaultOverflowResultCap bounds tool-result text during overflow
	// recovery. Distinct from the invoker's persistence cap.
	DefaultOverflowResultCap = 20000

	// summaryToolClamp bounds tool-result text inside the summarisation
	// prompt so the prompt itself cannot overflow.
	summaryToolClamp = 500

	// SummaryMarker prefixes the synthetic message that replaces compacted
	// history, so later turns can recognise it.
	SummaryMarker = "[Conversation summary]"
)

// Summarizer produces a summary for a rendered slice of old history. The
// run loop injects a closure over the provider client here so the guard
// stays decoupled from the transport.
type Summarizer func(ctx context.Context, prompt string) (string, error)

// Compact replaces all but the last keep messages with a single
// summary message produced by summarize. Returns the new list and whether
// anything changed. Lists of keep or fewer messages pass through unchanged.
func Compact(ctx context.Context, msgs []providers.Message, keep int, summarize Summarizer) ([]providers.Message, bool, error) {
	if keep <= 0 {
		keep = DefaultKeepRecent
	}
	if len(msgs) <= keep {
		return msgs, false, nil
	}

	old := msgs[:len(msgs)-keep]
	recent := msgs[len(msgs)-keep:]

	summary, err := summarize(ctx, renderSummaryPrompt(old))
	if err != nil {
		return msgs, false, fmt.Errorf("summarise history: %w", err)
	}

	head := &providers.UserMessage{
		Content:   []providers.ContentBlock{providers.TextBlock(SummaryMarker + "\n" + summary)},
		Timestamp: time.Now().UnixMilli(),
	}
	out := make([]providers.Message, 0, 1+len(recent))
	out = append(out, head)
	out = append(out, recent...)
	return out, true, nil
}

// renderSummaryPrompt flattens old history into a plain-text digest for the
// summarisation call.
func renderSummaryPrompt(old []providers.Message) string {
	var b strings.Builder
	b.WriteString("Summarize the following conversation history concisely. ")
	b.WriteString("Preserve key facts, decisions, and any unfinished work.\n\n")

	for _, m := range old {
		switch msg := m.(type) {
		case *providers.UserMessage:
			b.WriteString("User: ")
			b.WriteString(msg.Text())
		case *providers.AssistantMessage:
			b.WriteString("Assistant: ")
			b.WriteString(assistantDigest(msg))
		case *providers.ToolResultMessage:
			text, _ := clampRunes(msg.Text(), summaryToolClamp)
			fmt.Fprintf(&b, "Tool (%s): %s", msg.ToolName, text)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func assistantDigest(m *providers.AssistantMessage) string {
	var parts []string
	for _, blk := range m.Content {
		switch blk.Type {
		case providers.BlockText:
			parts = append(parts, blk.Text)
		case providers.BlockToolCall:
			parts = append(parts, fmt.Sprintf("[called %s]", blk.Name))
		}
	}
	return strings.Join(parts, " | ")
}

// TruncateToolResults bounds each tool-result text part to limit characters,
// appending a marker naming the omitted length. Under-cap messages are
// returned untouched. Reports whether any message changed.
func TruncateToolResults(msgs []providers.Message, limit int) ([]providers.Message, bool) {
	if limit <= 0 {
		limit = DefaultOverflowResultCap
	}

	changed := false
	out := make([]providers.Message, len(msgs))
	for i, m := range msgs {
		tr, ok := m.(*providers.ToolResultMessage)
		if !ok || !hasOversizedText(tr.Content, limit) {
			out[i] = m
			continue
		}

		blocks := make([]providers.ContentBlock, len(tr.Content))
		for j, blk := range tr.Content {
			if blk.Type == providers.BlockText {
				if clipped, omitted := clampRunes(blk.Text, limit); omitted > 0 {
					blk.Text = clipped + fmt.Sprintf("\n[truncated %d chars]", omitted)
				}
			}
			blocks[j] = blk
		}
		out[i] = &providers.ToolResultMessage{
			ToolCallID: tr.ToolCallID,
			ToolName:   tr.ToolName,
			Content:    blocks,
			IsError:    tr.IsError,
			Timestamp:  tr.Timestamp,
		}
		changed = true
	}
	return out, changed
}

func hasOversizedText(blocks []providers.ContentBlock, limit int) bool {
	for _, blk := range blocks {
		if blk.Type == providers.BlockText && utf8.RuneCountInString(blk.Text) > limit {
			return true
		}
	}
	return false
}

// clampRunes cuts s to at most limit runes so a multi-byte rune is never
// split mid-sequence. Returns the prefix and the number of runes removed.
func clampRunes(s string, limit int) (string, int) {
	if utf8.RuneCountInString(s) <= limit {
		return s, 0
	}
	r := []rune(s)
	return string(r[:limit]), len(r) - limit
}
