package agent

import (
	"errors"
	"strings"
	"time"
)

// Failure categories returned by Classify.
const (
	FailAuth      = "auth"
	FailRateLimit = "rate_limit"
	FailBilling   = "billing"
	FailTimeout   = "timeout"
	FailQuota     = "quota"
	FailOverflow  = "context_overflow"
	FailUnknown   = "unknown"
)

// Overflow patterns are tested before timeout patterns; a truncated-prompt
// error often also contains the word "request".
var overflowPatterns = []string{
	"context_length_exceeded",
	"context length",
	"too many tokens",
	"token limit",
	"maximum context",
	"prompt is too long",
	"request too large",
	"max_tokens",
}

var timeoutPatterns = []string{
	"timeout",
	"timed out",
	"etimedout",
	"econnreset",
	"econnaborted",
	"socket hang up",
	"network error",
	"connection refused",
	"connection reset",
}

var quotaPatterns = []string{
	"quota",
	"exceeded your current",
	"insufficient_quota",
	"billing hard limit",
}

// statusCarrier is implemented by provider errors that carry an HTTP status.
type statusCarrier interface {
	HTTPStatus() int
}

// Classify maps a provider failure to a recovery category. HTTP status wins
// over message patterns; among message patterns, overflow is tested first.
func Classify(err error) string {
	if err == nil {
		return FailUnknown
	}

	if status := extractStatus(err); status > 0 {
		switch {
		case status == 401 || status == 403:
			return FailAuth
		case status == 429:
			return FailRateLimit
		case status == 402:
			return FailBilling
		case status >= 500:
			return FailTimeout
		}
	}

	msg := strings.ToLower(err.Error())
	for _, p := range overflowPatterns {
		if strings.Contains(msg, p) {
			return FailOverflow
		}
	}
	for _, p := range timeoutPatterns {
		if strings.Contains(msg, p) {
			return FailTimeout
		}
	}
	for _, p := range quotaPatterns {
		if strings.Contains(msg, p) {
			return FailQuota
		}
	}
	return FailUnknown
}

func extractStatus(err error) int {
	var sc statusCarrier
	if errors.As(err, &sc) {
		return sc.HTTPStatus()
	}
	return 0
}

// IsRetriable reports whether a category is recovered by rotating to the
// next credential profile. Overflow has its own recovery path; quota and
// unknown are terminal.
func IsRetriable(category string) bool {
	switch category {
	case FailAuth, FailRateLimit, FailBilling, FailTimeout:
		return true
	}
	return false
}

const (
	initialCooldown = 1000 * time.Millisecond
	maxCooldown     = 60000 * time.Millisecond
)

// Profile is one named credential.
type Profile struct {
	ID     string
	APIKey string
}

// profileState tracks one credential's cooldown within a single run.
type profileState struct {
	profile  Profile
	cooldown time.Duration
	failedAt time.Time
}

func (s *profileState) available(now time.Time) bool {
	return s.failedAt.IsZero() || now.Sub(s.failedAt) >= s.cooldown
}

// ProfileChain rotates through credential profiles for one run. Not safe
// for concurrent use; each run owns its own chain.
type ProfileChain struct {
	states []profileState
	cur    int
	now    func() time.Time
}

func NewProfileChain(profiles []Profile) *ProfileChain {
	states := make([]profileState, len(profiles))
	for i, p := range profiles {
		states[i] = profileState{profile: p, cooldown: initialCooldown}
	}
	return &ProfileChain{states: states, now: time.Now}
}

// Len returns the number of profiles in the chain.
func (c *ProfileChain) Len() int { return len(c.states) }

// Current returns the profile at the current position.
func (c *ProfileChain) Current() Profile {
	return c.states[c.cur].profile
}

// NextAvailable advances from the current position to the first available
// profile, wrapping modulo the chain length. The second result is false
// when every profile is cooling down; Wait then reports how long until the
// soonest becomes available.
func (c *ProfileChain) NextAvailable() (Profile, bool) {
	now := c.now()
	n := len(c.states)
	for i := 0; i < n; i++ {
		idx := (c.cur + i) % n
		if c.states[idx].available(now) {
			c.cur = idx
			return c.states[idx].profile, true
		}
	}
	return Profile{}, false
}

// Advance moves the current position to the next profile in order.
func (c *ProfileChain) Advance() {
	c.cur = (c.cur + 1) % len(c.states)
}

// MarkFailed records a failure on the current profile and doubles its
// cooldown up to the cap.
func (c *ProfileChain) MarkFailed() {
	s := &c.states[c.cur]
	s.failedAt = c.now()
	s.cooldown = min(s.cooldown*2, maxCooldown)
}

// MarkGood clears the current profile's failure state and resets its
// cooldown to the initial window.
func (c *ProfileChain) MarkGood() {
	s := &c.states[c.cur]
	s.failedAt = time.Time{}
	s.cooldown = initialCooldown
}

// Wait returns the shortest remaining cooldown across all profiles.
func (c *ProfileChain) Wait() time.Duration {
	now := c.now()
	var shortest time.Duration = -1
	for i := range c.states {
		s := &c.states[i]
		if s.failedAt.IsZero() {
			return 0
		}
		remaining := s.cooldown - now.Sub(s.failedAt)
		if remaining < 0 {
			return 0
		}
		if shortest < 0 || remaining < shortest {
			shortest = remaining
		}
	}
	if shortest < 0 {
		return 0
	}
	return shortest
}
