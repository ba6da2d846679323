package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type anthropicStreamEvent struct {
	Type    string `json:"type"`
	Message struct {
		Model string `json:"model"`
		Usage struct {
			InputTokens              int `json:"input_tokens"`
			CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
			CacheReadInputTokens     int `json:"cache_read_input_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Index        int `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Stream performs a streaming call, forwarding deltas through opts.OnEvent
// and returning the fully assembled assistant message.
func (c *AnthropicClient) Stream(ctx context.Context, d Descriptor, pc Context, opts Options) (*AssistantMessage, error) {
	body, err := c.doRequest(ctx, d, opts.APIKey, c.buildRequest(d, pc, opts, true))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	emit := func(ev StreamEvent) {
		if opts.OnEvent != nil {
			opts.OnEvent(ev)
		}
	}

	msg := &AssistantMessage{
		Provider:  "anthropic",
		Model:     d.Model,
		Timestamp: time.Now().UnixMilli(),
	}
	// Partial tool-call argument JSON, keyed by content block index.
	toolJSON := make(map[int]string)
	blockIndex := make(map[int]int) // SSE block index → msg.Content index

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) // large thinking chunks

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var ev anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "message_start":
			if ev.Message.Model != "" {
				msg.Model = ev.Message.Model
			}
			msg.Usage.InputTokens = ev.Message.Usage.InputTokens
			msg.Usage.CacheWriteTokens = ev.Message.Usage.CacheCreationInputTokens
			msg.Usage.CacheReadTokens = ev.Message.Usage.CacheReadInputTokens

		case "content_block_start":
			switch ev.ContentBlock.Type {
			case "text":
				blockIndex[ev.Index] = len(msg.Content)
				msg.Content = append(msg.Content, TextBlock(""))
			case "thinking":
				blockIndex[ev.Index] = len(msg.Content)
				msg.Content = append(msg.Content, ContentBlock{Type: BlockThinking})
			case "tool_use":
				blockIndex[ev.Index] = len(msg.Content)
				msg.Content = append(msg.Content, ContentBlock{
					Type: BlockToolCall,
					ID:   ev.ContentBlock.ID,
					Name: strings.TrimSpace(ev.ContentBlock.Name),
					Args: make(map[string]any),
				})
				emit(StreamEvent{Type: StreamToolCallStart, ToolName: ev.ContentBlock.Name, ToolID: ev.ContentBlock.ID})
			}

		case "content_block_delta":
			idx, ok := blockIndex[ev.Index]
			if !ok {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				msg.Content[idx].Text += ev.Delta.Text
				emit(StreamEvent{Type: StreamTextDelta, Text: ev.Delta.Text})
			case "thinking_delta":
				msg.Content[idx].Thinking += ev.Delta.Thinking
				emit(StreamEvent{Type: StreamThinkingDelta, Thinking: ev.Delta.Thinking})
			case "input_json_delta":
				toolJSON[ev.Index] += ev.Delta.PartialJSON
			}

		case "content_block_stop":
			idx, ok := blockIndex[ev.Index]
			if !ok {
				continue
			}
			if msg.Content[idx].Type == BlockToolCall {
				if raw := toolJSON[ev.Index]; raw != "" {
					args := make(map[string]any)
					if err := json.Unmarshal([]byte(raw), &args); err == nil {
						msg.Content[idx].Args = args
					}
				}
				emit(StreamEvent{Type: StreamToolCallEnd, ToolName: msg.Content[idx].Name, ToolID: msg.Content[idx].ID})
			}

		case "message_delta":
			if ev.Delta.StopReason != "" {
				msg.StopReason = ev.Delta.StopReason
			}
			if ev.Usage.OutputTokens > 0 {
				msg.Usage.OutputTokens = ev.Usage.OutputTokens
			}

		case "error":
			emit(StreamEvent{Type: StreamError, Err: ev.Error.Message})
			return nil, fmt.Errorf("anthropic: stream error: %s", ev.Error.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("anthropic: read stream: %w", err)
	}

	msg.Usage.TotalTokens = msg.Usage.InputTokens + msg.Usage.OutputTokens
	emit(StreamEvent{Type: StreamDone})
	return msg, nil
}
