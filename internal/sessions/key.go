// Package sessions — session identity, transcript persistence and the
// metadata index.
//
// Session keys follow the canonical format:
//
//	agent:{agentId}:channel:{channel}:account:{accountId}:peer:{peerKind}:{peerId}
//
// Where peerKind is "direct", "group" or "channel". The peer id segment may
// itself contain ":" (e.g. forum topics), so parsers treat it as everything
// after the "peer:{kind}:" prefix.
//
// Examples:
//
//	agent:main:channel:cli:account:default:peer:direct:local
//	agent:main:channel:telegram:account:default:peer:group:-100123456:topic:99
package sessions

import (
	"errors"
	"strings"
)

// PeerKind distinguishes DM, group and broadcast-channel conversations.
type PeerKind string

const (
	PeerDirect  PeerKind = "direct"
	PeerGroup   PeerKind = "group"
	PeerChannel PeerKind = "channel"
)

// ErrMalformedKey reports a session key that does not follow the canonical
// format. Distinct from an empty segment, which normalisation repairs.
var ErrMalformedKey = errors.New("sessions: malformed session key")

// maxSegmentRunes clamps each normalised key segment.
const maxSegmentRunes = 128

// KeyParams are the five identity fields of a session key.
type KeyParams struct {
	AgentID  string
	Channel  string
	Account  string
	PeerKind PeerKind
	PeerID   string
}

// BuildSessionKey assembles the canonical session key, normalising every
// segment first. Empty segments fall back to "main" (agent), "default"
// (account) or "unknown".
func BuildSessionKey(p KeyParams) string {
	kind := p.PeerKind
	switch kind {
	case PeerDirect, PeerGroup, PeerChannel:
	default:
		kind = PeerDirect
	}
	return "agent:" + NormalizeSegment(p.AgentID, "main") +
		":channel:" + NormalizeSegment(p.Channel, "unknown") +
		":account:" + NormalizeSegment(p.Account, "default") +
		":peer:" + string(kind) +
		":" + NormalizeSegment(p.PeerID, "unknown")
}

// ParseSessionKey splits a canonical key back into its five fields.
// The peer id is everything after the "peer:{kind}:" prefix and may
// contain further ":" separators.
func ParseSessionKey(key string) (KeyParams, error) {
	parts := strings.SplitN(key, ":", 9)
	if len(parts) < 9 ||
		parts[0] != "agent" || parts[2] != "channel" ||
		parts[4] != "account" || parts[6] != "peer" {
		return KeyParams{}, ErrMalformedKey
	}

	kind := PeerKind(parts[7])
	switch kind {
	case PeerDirect, PeerGroup, PeerChannel:
	default:
		return KeyParams{}, ErrMalformedKey
	}
	if parts[8] == "" {
		return KeyParams{}, ErrMalformedKey
	}

	return KeyParams{
		AgentID:  parts[1],
		Channel:  parts[3],
		Account:  parts[5],
		PeerKind: kind,
		PeerID:   parts[8],
	}, nil
}

// SessionSlug converts a session key to its filesystem-safe form.
func SessionSlug(key string) string {
	return strings.ReplaceAll(key, ":", "__")
}

// NormalizeSegment canonicalises one key segment: trim, lowercase, collapse
// whitespace runs to "_", strip anything outside [a-z0-9_.@+:-], clamp to
// 128 code points. Falls back when the result is empty.
func NormalizeSegment(s, fallback string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	var b strings.Builder
	inSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			inSpace = true
			continue
		}
		if inSpace {
			b.WriteByte('_')
			inSpace = false
		}
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9',
			r == '_', r == '.', r == '@', r == '+', r == ':', r == '-':
			b.WriteRune(r)
		}
	}

	out := b.String()
	if runes := []rune(out); len(runes) > maxSegmentRunes {
		out = string(runes[:maxSegmentRunes])
	}
	if out == "" {
		return fallback
	}
	return out
}
