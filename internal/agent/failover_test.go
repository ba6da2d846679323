package agent

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nextlevelbuilder/myclaw/internal/providers"
)

func TestClassifyStatusWinsOverMessage(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"auth beats timeout message", 401, "timeout", FailAuth},
		{"forbidden", 403, "nope", FailAuth},
		{"rate limit beats overflow message", 429, "context_length_exceeded", FailRateLimit},
		{"billing", 402, "payment required", FailBilling},
		{"server error", 500, "internal", FailTimeout},
		{"bad gateway", 502, "", FailTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &providers.HTTPError{Status: tt.status, Body: tt.body}
			if got := Classify(err); got != tt.want {
				t.Errorf("Classify(%d, %q) = %q, want %q", tt.status, tt.body, got, tt.want)
			}
		})
	}
}

func TestClassifyMessagePatterns(t *testing.T) {
	tests := []struct {
		msg  string
		want string
	}{
		{"context_length_exceeded", FailOverflow},
		{"Prompt is too long: 210000 tokens", FailOverflow},
		{"request too large for model", FailOverflow},
		{"max_tokens exceeds model limit", FailOverflow},
		{"dial tcp: i/o timeout", FailTimeout},
		{"read: ECONNRESET", FailTimeout},
		{"socket hang up", FailTimeout},
		{"You exceeded your current quota", FailQuota},
		{"insufficient_quota", FailQuota},
		{"something else entirely", FailUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := Classify(errors.New(tt.msg)); got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.msg, got, tt.want)
			}
		})
	}
}

func TestClassifyOverflowBeforeTimeout(t *testing.T) {
	// A message matching both pattern sets classifies as overflow.
	err := errors.New("request timed out: too many tokens in prompt")
	if got := Classify(err); got != FailOverflow {
		t.Errorf("got %q, want %q", got, FailOverflow)
	}
}

func TestClassifyWrappedStatus(t *testing.T) {
	inner := &providers.HTTPError{Status: 429, Body: "slow down"}
	wrapped := fmt.Errorf("provider call: %w", inner)
	if got := Classify(wrapped); got != FailRateLimit {
		t.Errorf("got %q, want %q", got, FailRateLimit)
	}
}

func TestIsRetriable(t *testing.T) {
	retriable := []string{FailAuth, FailRateLimit, FailBilling, FailTimeout}
	for _, c := range retriable {
		if !IsRetriable(c) {
			t.Errorf("%s should be retriable", c)
		}
	}
	for _, c := range []string{FailQuota, FailOverflow, FailUnknown} {
		if IsRetriable(c) {
			t.Errorf("%s should not be retriable", c)
		}
	}
}

func TestCooldownDoubling(t *testing.T) {
	chain := NewProfileChain([]Profile{{ID: "p0", APIKey: "k0"}})
	now := time.Unix(1000, 0)
	chain.now = func() time.Time { return now }

	wantAfter := []time.Duration{
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
		32000 * time.Millisecond,
		60000 * time.Millisecond,
		60000 * time.Millisecond, // capped
	}
	for i, want := range wantAfter {
		chain.MarkFailed()
		if got := chain.states[0].cooldown; got != want {
			t.Errorf("after %d failures cooldown = %v, want %v", i+1, got, want)
		}
	}

	chain.MarkGood()
	if got := chain.states[0].cooldown; got != initialCooldown {
		t.Errorf("after MarkGood cooldown = %v, want %v", got, initialCooldown)
	}
	if !chain.states[0].failedAt.IsZero() {
		t.Error("after MarkGood failedAt should be cleared")
	}
}

func TestNextAvailableRotates(t *testing.T) {
	chain := NewProfileChain([]Profile{
		{ID: "default", APIKey: "k0"},
		{ID: "fallback", APIKey: "k1"},
	})
	now := time.Unix(1000, 0)
	chain.now = func() time.Time { return now }

	p, ok := chain.NextAvailable()
	if !ok || p.ID != "default" {
		t.Fatalf("first selection = %+v, %v", p, ok)
	}

	chain.MarkFailed()
	chain.Advance()
	p, ok = chain.NextAvailable()
	if !ok || p.ID != "fallback" {
		t.Fatalf("after failure selection = %+v, %v", p, ok)
	}

	// Both cooling down: nothing available, Wait reports the shortest window.
	chain.MarkFailed()
	if _, ok := chain.NextAvailable(); ok {
		t.Fatal("expected no available profile")
	}
	if w := chain.Wait(); w <= 0 || w > 2000*time.Millisecond {
		t.Errorf("Wait() = %v", w)
	}

	// Past the cooldowns the current position is selectable again.
	now = now.Add(3 * time.Second)
	p, ok = chain.NextAvailable()
	if !ok || p.ID != "fallback" {
		t.Fatalf("after cooldown selection = %+v, %v", p, ok)
	}
}
