package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const defaultClaudeModel = "claude-sonnet-4-5-20250929"

// AnthropicClient talks to the Anthropic Messages API via net/http.
type AnthropicClient struct {
	client  *http.Client
	limiter *rate.Limiter // nil = unlimited
}

func NewAnthropicClient(limiter *rate.Limiter) *AnthropicClient {
	return &AnthropicClient{
		client:  &http.Client{Timeout: 300 * time.Second},
		limiter: limiter,
	}
}

// --- wire types ---

type anthropicRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	System    string          `json:"system,omitempty"`
	Messages  []anthropicMsg  `json:"messages"`
	Tools     []anthropicTool `json:"tools,omitempty"`
	Stream    bool            `json:"stream,omitempty"`
}

type anthropicMsg struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Source    *anthropicImage `json:"source,omitempty"`
}

type anthropicImage struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	Content []struct {
		Type     string          `json:"type"`
		Text     string          `json:"text"`
		Thinking string          `json:"thinking"`
		ID       string          `json:"id"`
		Name     string          `json:"name"`
		Input    json.RawMessage `json:"input"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

// buildRequest converts the provider-neutral context to the Anthropic wire
// form. Tool results become user messages carrying tool_result blocks.
func (c *AnthropicClient) buildRequest(d Descriptor, pc Context, opts Options, stream bool) *anthropicRequest {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = d.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	req := &anthropicRequest{
		Model:     d.Model,
		MaxTokens: maxTokens,
		System:    pc.SystemPrompt,
		Stream:    stream,
	}

	for _, t := range pc.Tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		req.Tools = append(req.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: params,
		})
	}

	for _, m := range pc.Messages {
		switch msg := m.(type) {
		case *UserMessage:
			var blocks []anthropicBlock
			for _, b := range msg.Content {
				switch b.Type {
				case BlockText:
					blocks = append(blocks, anthropicBlock{Type: "text", Text: b.Text})
				case BlockImage:
					blocks = append(blocks, anthropicBlock{Type: "image", Source: &anthropicImage{
						Type: "base64", MediaType: b.MimeType, Data: b.Data,
					}})
				}
			}
			if len(blocks) == 0 {
				blocks = []anthropicBlock{{Type: "text", Text: ""}}
			}
			req.Messages = append(req.Messages, anthropicMsg{Role: "user", Content: blocks})

		case *AssistantMessage:
			var blocks []anthropicBlock
			for _, b := range msg.Content {
				switch b.Type {
				case BlockText:
					if b.Text != "" {
						blocks = append(blocks, anthropicBlock{Type: "text", Text: b.Text})
					}
				case BlockThinking:
					blocks = append(blocks, anthropicBlock{Type: "thinking", Thinking: b.Thinking})
				case BlockToolCall:
					input, _ := json.Marshal(b.Args)
					if len(input) == 0 || string(input) == "null" {
						input = []byte("{}")
					}
					blocks = append(blocks, anthropicBlock{Type: "tool_use", ID: b.ID, Name: b.Name, Input: input})
				}
			}
			if len(blocks) == 0 {
				blocks = []anthropicBlock{{Type: "text", Text: ""}}
			}
			req.Messages = append(req.Messages, anthropicMsg{Role: "assistant", Content: blocks})

		case *ToolResultMessage:
			req.Messages = append(req.Messages, anthropicMsg{Role: "user", Content: []anthropicBlock{{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.Text(),
				IsError:   msg.IsError,
			}}})
		}
	}

	return req
}

func (c *AnthropicClient) doRequest(ctx context.Context, d Descriptor, apiKey string, body *anthropicRequest) (io.ReadCloser, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", d.BaseURL+"/messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", d.APIVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("anthropic: %s", string(respBody)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	return resp.Body, nil
}

// Complete performs a buffered call and returns the assistant message.
func (c *AnthropicClient) Complete(ctx context.Context, d Descriptor, pc Context, opts Options) (*AssistantMessage, error) {
	body, err := c.doRequest(ctx, d, opts.APIKey, c.buildRequest(d, pc, opts, false))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp anthropicResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}

	return c.parseResponse(&resp), nil
}

func (c *AnthropicClient) parseResponse(resp *anthropicResponse) *AssistantMessage {
	msg := &AssistantMessage{
		Provider:   "anthropic",
		Model:      resp.Model,
		StopReason: resp.StopReason,
		Timestamp:  time.Now().UnixMilli(),
	}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			msg.Content = append(msg.Content, TextBlock(block.Text))
		case "thinking":
			msg.Content = append(msg.Content, ContentBlock{Type: BlockThinking, Thinking: block.Thinking})
		case "tool_use":
			args := make(map[string]any)
			_ = json.Unmarshal(block.Input, &args)
			msg.Content = append(msg.Content, ContentBlock{
				Type: BlockToolCall, ID: block.ID, Name: block.Name, Args: args,
			})
		}
	}

	msg.Usage = Usage{
		InputTokens:      resp.Usage.InputTokens,
		OutputTokens:     resp.Usage.OutputTokens,
		CacheWriteTokens: resp.Usage.CacheCreationInputTokens,
		CacheReadTokens:  resp.Usage.CacheReadInputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}

	return msg
}
