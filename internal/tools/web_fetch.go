package tools

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultFetchMaxChars = 50000
	fetchTimeoutSeconds  = 30
	fetchUserAgent       = "Mozilla/5.0 (compatible; myclaw/1.0)"
)

// WebFetchConfig holds configuration for the web fetch tool.
type WebFetchConfig struct {
	MaxChars int
	Timeout  time.Duration
}

// WebFetchTool fetches an HTTP(S) URL and returns its body as text.
type WebFetchTool struct {
	maxChars int
	client   *http.Client
}

func NewWebFetchTool(cfg WebFetchConfig) *WebFetchTool {
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = defaultFetchMaxChars
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = fetchTimeoutSeconds * time.Second
	}
	return &WebFetchTool{
		maxChars: maxChars,
		client:   &http.Client{Timeout: timeout},
	}
}

func (t *WebFetchTool) Name() string  { return "web_fetch" }
func (t *WebFetchTool) Label() string { return "Web Fetch" }
func (t *WebFetchTool) Description() string {
	return "Fetch an HTTP or HTTPS URL and return its content as text. Large responses are truncated."
}
func (t *WebFetchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "HTTP or HTTPS URL to fetch",
			},
			"maxChars": map[string]any{
				"type":        "number",
				"description": "Maximum characters to return (truncates when exceeded)",
				"minimum":     100.0,
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, id string, args map[string]any) *Result {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return ErrorResult("url is required")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid URL: %v", err))
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ErrorResult("only http and https URLs are supported")
	}
	if parsed.Host == "" {
		return ErrorResult("missing hostname in URL")
	}
	if err := checkPrivateHost(parsed.Hostname()); err != nil {
		return ErrorResult(err.Error())
	}

	maxChars := t.maxChars
	if mc, ok := args["maxChars"].(float64); ok && int(mc) >= 100 {
		maxChars = int(mc)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return ErrorResult(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("fetch %s: %v", rawURL, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ErrorResult(fmt.Sprintf("fetch %s: HTTP %d", rawURL, resp.StatusCode))
	}

	// Read one byte past the cap so truncation is detectable.
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxChars)+1))
	if err != nil {
		return ErrorResult(fmt.Sprintf("read body: %v", err))
	}

	text := string(body)
	if len(text) > maxChars {
		text = text[:maxChars] + "\n[content truncated]"
	}
	if strings.TrimSpace(text) == "" {
		return NewResult("(empty response)")
	}
	return NewResult(text)
}

// checkPrivateHost rejects loopback, link-local, and RFC 1918 targets to
// keep the tool from probing the local network.
func checkPrivateHost(hostname string) error {
	if strings.EqualFold(hostname, "localhost") {
		return fmt.Errorf("refusing to fetch from localhost")
	}
	ip := net.ParseIP(hostname)
	if ip == nil {
		return nil
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return fmt.Errorf("refusing to fetch from private address %s", hostname)
	}
	return nil
}
