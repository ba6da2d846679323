package sessions

import (
	"encoding/json"

	"github.com/nextlevelbuilder/myclaw/internal/providers"
)

// OrphanResultText is the synthetic tool-result body injected for tool
// calls that never received an answer (interrupted runs).
const OrphanResultText = "[Tool result missing — session was interrupted]"

// meta keys used to round-trip in-memory message structure losslessly
// through the flat transcript record form.
const (
	metaContentBlocks = "contentBlocks"
	metaProvider      = "provider"
	metaModel         = "model"
	metaUsage         = "usage"
	metaStopReason    = "stopReason"
	metaToolName      = "toolName"
	metaIsError       = "isError"
)

// ToMessages converts persisted transcript records into in-memory
// messages. System records are discarded — system prompts are composed per
// call, not replayed from the log.
func ToMessages(records []TranscriptMessage) []providers.Message {
	var msgs []providers.Message
	for _, rec := range records {
		switch rec.Role {
		case "user":
			blocks := decodeBlocks(rec.Meta[metaContentBlocks])
			if blocks == nil {
				blocks = []providers.ContentBlock{providers.TextBlock(rec.Content)}
			}
			msgs = append(msgs, &providers.UserMessage{
				Content:   blocks,
				Timestamp: rec.Timestamp,
			})

		case "assistant":
			blocks := decodeBlocks(rec.Meta[metaContentBlocks])
			if blocks == nil {
				blocks = []providers.ContentBlock{providers.TextBlock(rec.Content)}
			}
			am := &providers.AssistantMessage{
				Content:   blocks,
				Timestamp: rec.Timestamp,
			}
			if v, ok := rec.Meta[metaProvider].(string); ok {
				am.Provider = v
			}
			if v, ok := rec.Meta[metaModel].(string); ok {
				am.Model = v
			}
			if v, ok := rec.Meta[metaStopReason].(string); ok {
				am.StopReason = v
			}
			if u, ok := rec.Meta[metaUsage]; ok {
				am.Usage = decodeUsage(u)
			}
			msgs = append(msgs, am)

		case "tool":
			blocks := decodeBlocks(rec.Meta[metaContentBlocks])
			if blocks == nil {
				blocks = []providers.ContentBlock{providers.TextBlock(rec.Content)}
			}
			tm := &providers.ToolResultMessage{
				ToolCallID: rec.ToolCallID,
				Content:    blocks,
				Timestamp:  rec.Timestamp,
			}
			if v, ok := rec.Meta[metaToolName].(string); ok {
				tm.ToolName = v
			}
			if v, ok := rec.Meta[metaIsError].(bool); ok {
				tm.IsError = v
			}
			msgs = append(msgs, tm)
		}
		// system and unknown roles are dropped
	}
	return msgs
}

// FromMessages converts in-memory messages into transcript records,
// preserving the full content-block sequence in metadata so
// ToMessages(FromMessages(L)) is lossless.
func FromMessages(msgs []providers.Message) []TranscriptMessage {
	records := make([]TranscriptMessage, 0, len(msgs))
	for _, m := range msgs {
		switch msg := m.(type) {
		case *providers.UserMessage:
			rec := TranscriptMessage{
				Role:      "user",
				Content:   msg.Text(),
				Timestamp: msg.Timestamp,
			}
			if len(msg.Content) != 1 || msg.Content[0].Type != providers.BlockText {
				rec.Meta = map[string]any{metaContentBlocks: encodeBlocks(msg.Content)}
			}
			records = append(records, rec)

		case *providers.AssistantMessage:
			records = append(records, TranscriptMessage{
				Role:      "assistant",
				Content:   msg.Text(),
				Timestamp: msg.Timestamp,
				Meta: map[string]any{
					metaContentBlocks: encodeBlocks(msg.Content),
					metaProvider:      msg.Provider,
					metaModel:         msg.Model,
					metaUsage:         encodeUsage(msg.Usage),
					metaStopReason:    msg.StopReason,
				},
			})

		case *providers.ToolResultMessage:
			records = append(records, TranscriptMessage{
				Role:       "tool",
				Content:    msg.Text(),
				Timestamp:  msg.Timestamp,
				ToolCallID: msg.ToolCallID,
				Meta: map[string]any{
					metaContentBlocks: encodeBlocks(msg.Content),
					metaToolName:      msg.ToolName,
					metaIsError:       msg.IsError,
				},
			})
		}
	}
	return records
}

// RepairOrphanedToolCalls injects a synthetic error tool-result directly
// after any assistant message whose tool calls are not answered before the
// next assistant message. Idempotent: a repaired list passes through
// unchanged.
func RepairOrphanedToolCalls(msgs []providers.Message) []providers.Message {
	out := make([]providers.Message, 0, len(msgs))

	for i := 0; i < len(msgs); i++ {
		out = append(out, msgs[i])

		am, ok := msgs[i].(*providers.AssistantMessage)
		if !ok {
			continue
		}
		calls := am.ToolCalls()
		if len(calls) == 0 {
			continue
		}

		// Scan forward to the next assistant message collecting answered ids.
		answered := make(map[string]bool)
		for j := i + 1; j < len(msgs); j++ {
			if _, isAssistant := msgs[j].(*providers.AssistantMessage); isAssistant {
				break
			}
			if tr, isResult := msgs[j].(*providers.ToolResultMessage); isResult {
				answered[tr.ToolCallID] = true
			}
		}

		for _, call := range calls {
			if answered[call.ID] {
				continue
			}
			out = append(out, &providers.ToolResultMessage{
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Content:    []providers.ContentBlock{providers.TextBlock(OrphanResultText)},
				IsError:    true,
				Timestamp:  am.Timestamp,
			})
		}
	}

	return out
}

// encodeBlocks round-trips content blocks into the generic JSON shape
// stored in meta, so the persisted form does not depend on Go types.
func encodeBlocks(blocks []providers.ContentBlock) []any {
	data, err := json.Marshal(blocks)
	if err != nil {
		return nil
	}
	var out []any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func decodeBlocks(v any) []providers.ContentBlock {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var blocks []providers.ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil || len(blocks) == 0 {
		return nil
	}
	return blocks
}

func encodeUsage(u providers.Usage) map[string]any {
	data, err := json.Marshal(u)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func decodeUsage(v any) providers.Usage {
	var u providers.Usage
	data, err := json.Marshal(v)
	if err != nil {
		return u
	}
	_ = json.Unmarshal(data, &u)
	return u
}
