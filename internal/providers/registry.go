package providers

import (
	"strings"

	"golang.org/x/time/rate"
)

// Descriptor identifies one provider endpoint + model combination.
type Descriptor struct {
	Name       string // provider identifier, e.g. "anthropic"
	Model      string
	BaseURL    string
	APIVersion string // anthropic-version header; empty for OpenAI-style APIs
	MaxTokens  int
}

// Registry resolves provider names to descriptors and wire clients.
type Registry struct {
	anthropic Client
	openai    Client
}

// NewRegistry builds the shipped clients. rpm > 0 applies a shared
// requests-per-minute limiter across all provider calls.
func NewRegistry(rpm int) *Registry {
	var limiter *rate.Limiter
	if rpm > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1)
	}
	return &Registry{
		anthropic: NewAnthropicClient(limiter),
		openai:    NewOpenAIClient(limiter),
	}
}

// knownBases maps provider names to their OpenAI-compatible endpoints.
var knownBases = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"openrouter": "https://openrouter.ai/api/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"deepseek":   "https://api.deepseek.com/v1",
	"mistral":    "https://api.mistral.ai/v1",
	"xai":        "https://api.x.ai/v1",
}

// Resolve returns the descriptor and client for a provider name. Unknown
// names get a minimal OpenAI-compatible descriptor with the supplied base
// URL, so self-hosted endpoints work without registry changes.
func (r *Registry) Resolve(name, model, baseURL string) (Descriptor, Client) {
	name = strings.ToLower(strings.TrimSpace(name))

	if name == "anthropic" {
		d := Descriptor{
			Name:       "anthropic",
			Model:      model,
			BaseURL:    "https://api.anthropic.com/v1",
			APIVersion: "2023-06-01",
			MaxTokens:  8192,
		}
		if baseURL != "" {
			d.BaseURL = baseURL
		}
		if d.Model == "" {
			d.Model = defaultClaudeModel
		}
		return d, r.anthropic
	}

	d := Descriptor{Name: name, Model: model, BaseURL: baseURL, MaxTokens: 8192}
	if d.BaseURL == "" {
		if base, ok := knownBases[name]; ok {
			d.BaseURL = base
		} else {
			d.BaseURL = knownBases["openai"]
		}
	}
	if d.Model == "" {
		d.Model = "gpt-4o"
	}
	return d, r.openai
}
