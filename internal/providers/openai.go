package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint
// (OpenAI, OpenRouter, Groq, DeepSeek, self-hosted).
type OpenAIClient struct {
	client  *http.Client
	limiter *rate.Limiter // nil = unlimited
}

func NewOpenAIClient(limiter *rate.Limiter) *OpenAIClient {
	return &OpenAIClient{
		client:  &http.Client{Timeout: 300 * time.Second},
		limiter: limiter,
	}
}

// --- wire types ---

type openaiRequest struct {
	Model     string        `json:"model"`
	Messages  []openaiMsg   `json:"messages"`
	Tools     []openaiTool  `json:"tools,omitempty"`
	MaxTokens int           `json:"max_completion_tokens,omitempty"`
	Stream    bool          `json:"stream,omitempty"`
	StreamOpt *openaiStrOpt `json:"stream_options,omitempty"`
}

type openaiStrOpt struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiMsg struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	PromptDetails    struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`
}

type openaiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      openaiMsg `json:"message"`
		FinishReason string    `json:"finish_reason"`
	} `json:"choices"`
	Usage openaiUsage `json:"usage"`
}

func (c *OpenAIClient) buildRequest(d Descriptor, pc Context, opts Options, stream bool) *openaiRequest {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = d.MaxTokens
	}

	req := &openaiRequest{Model: d.Model, MaxTokens: maxTokens, Stream: stream}
	if stream {
		req.StreamOpt = &openaiStrOpt{IncludeUsage: true}
	}

	if pc.SystemPrompt != "" {
		req.Messages = append(req.Messages, openaiMsg{Role: "system", Content: pc.SystemPrompt})
	}

	for _, t := range pc.Tools {
		var ot openaiTool
		ot.Type = "function"
		ot.Function.Name = t.Name
		ot.Function.Description = t.Description
		ot.Function.Parameters = t.Parameters
		if ot.Function.Parameters == nil {
			ot.Function.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		req.Tools = append(req.Tools, ot)
	}

	for _, m := range pc.Messages {
		switch msg := m.(type) {
		case *UserMessage:
			req.Messages = append(req.Messages, openaiMsg{Role: "user", Content: msg.Text()})
		case *AssistantMessage:
			om := openaiMsg{Role: "assistant", Content: msg.Text()}
			for _, tc := range msg.ToolCalls() {
				args, _ := json.Marshal(tc.Args)
				var otc openaiToolCall
				otc.ID = tc.ID
				otc.Type = "function"
				otc.Function.Name = tc.Name
				otc.Function.Arguments = string(args)
				om.ToolCalls = append(om.ToolCalls, otc)
			}
			req.Messages = append(req.Messages, om)
		case *ToolResultMessage:
			req.Messages = append(req.Messages, openaiMsg{
				Role:       "tool",
				Content:    msg.Text(),
				ToolCallID: msg.ToolCallID,
			})
		}
	}

	return req
}

func (c *OpenAIClient) doRequest(ctx context.Context, d Descriptor, apiKey string, body *openaiRequest) (io.ReadCloser, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", d.Name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", d.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", d.Name, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", d.Name, err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("%s: %s", d.Name, string(respBody)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	return resp.Body, nil
}

// Complete performs a buffered call and returns the assistant message.
func (c *OpenAIClient) Complete(ctx context.Context, d Descriptor, pc Context, opts Options) (*AssistantMessage, error) {
	body, err := c.doRequest(ctx, d, opts.APIKey, c.buildRequest(d, pc, opts, false))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp openaiResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", d.Name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: empty choices in response", d.Name)
	}

	choice := resp.Choices[0]
	msg := &AssistantMessage{
		Provider:   d.Name,
		Model:      resp.Model,
		StopReason: choice.FinishReason,
		Timestamp:  time.Now().UnixMilli(),
	}
	if choice.Message.Content != "" {
		msg.Content = append(msg.Content, TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		args := make(map[string]any)
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		msg.Content = append(msg.Content, ContentBlock{
			Type: BlockToolCall, ID: tc.ID, Name: tc.Function.Name, Args: args,
		})
	}
	msg.Usage = convertOpenAIUsage(resp.Usage)

	return msg, nil
}

// Stream performs a streaming call, forwarding text deltas and assembling
// tool calls from argument fragments.
func (c *OpenAIClient) Stream(ctx context.Context, d Descriptor, pc Context, opts Options) (*AssistantMessage, error) {
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
		Provider:  d.Name,
		Model:     d.Model,
		Timestamp: time.Now().UnixMilli(),
	}
	var text string
	type partialCall struct {
		id, name, args string
	}
	var calls []partialCall

	type openaiChunk struct {
		Model   string `json:"model"`
		Choices []struct {
			Delta struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					Index    int    `json:"index"`
					ID       string `json:"id"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"delta"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage *openaiUsage `json:"usage"`
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk openaiChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Model != "" {
			msg.Model = chunk.Model
		}
		if chunk.Usage != nil {
			msg.Usage = convertOpenAIUsage(*chunk.Usage)
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			text += choice.Delta.Content
			emit(StreamEvent{Type: StreamTextDelta, Text: choice.Delta.Content})
		}
		for _, tc := range choice.Delta.ToolCalls {
			for tc.Index >= len(calls) {
				calls = append(calls, partialCall{})
			}
			cur := &calls[tc.Index]
			if tc.ID != "" {
				cur.id = tc.ID
			}
			if tc.Function.Name != "" {
				cur.name = tc.Function.Name
				emit(StreamEvent{Type: StreamToolCallStart, ToolName: cur.name, ToolID: cur.id})
			}
			cur.args += tc.Function.Arguments
		}
		if choice.FinishReason != "" {
			msg.StopReason = choice.FinishReason
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: read stream: %w", d.Name, err)
	}

	if text != "" {
		msg.Content = append(msg.Content, TextBlock(text))
	}
	for _, call := range calls {
		args := make(map[string]any)
		_ = json.Unmarshal([]byte(call.args), &args)
		msg.Content = append(msg.Content, ContentBlock{
			Type: BlockToolCall, ID: call.id, Name: call.name, Args: args,
		})
		emit(StreamEvent{Type: StreamToolCallEnd, ToolName: call.name, ToolID: call.id})
	}

	emit(StreamEvent{Type: StreamDone})
	return msg, nil
}

func convertOpenAIUsage(u openaiUsage) Usage {
	return Usage{
		InputTokens:     u.PromptTokens,
		OutputTokens:    u.CompletionTokens,
		TotalTokens:     u.TotalTokens,
		CacheReadTokens: u.PromptDetails.CachedTokens,
	}
}
