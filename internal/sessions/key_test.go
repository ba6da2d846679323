package sessions

import (
	"errors"
	"strings"
	"testing"
)

func TestBuildSessionKey(t *testing.T) {
	tests := []struct {
		name   string
		params KeyParams
		want   string
	}{
		{
			name: "canonical",
			params: KeyParams{
				AgentID: "main", Channel: "cli", Account: "default",
				PeerKind: PeerDirect, PeerID: "local",
			},
			want: "agent:main:channel:cli:account:default:peer:direct:local",
		},
		{
			name:   "empty segments fall back",
			params: KeyParams{PeerKind: PeerGroup},
			want:   "agent:main:channel:unknown:account:default:peer:group:unknown",
		},
		{
			name: "normalisation applied",
			params: KeyParams{
				AgentID: "  My Agent  ", Channel: "Telegram", Account: "ACC",
				PeerKind: PeerDirect, PeerID: "User Name!",
			},
			want: "agent:my_agent:channel:telegram:account:acc:peer:direct:user_name",
		},
		{
			name: "invalid peer kind defaults to direct",
			params: KeyParams{
				AgentID: "a", Channel: "c", Account: "x",
				PeerKind: PeerKind("weird"), PeerID: "p",
			},
			want: "agent:a:channel:c:account:x:peer:direct:p",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildSessionKey(tt.params); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	params := KeyParams{
		AgentID: "main", Channel: "telegram", Account: "default",
		PeerKind: PeerGroup, PeerID: "-100123:topic:99",
	}
	key := BuildSessionKey(params)

	got, err := ParseSessionKey(key)
	if err != nil {
		t.Fatal(err)
	}
	if got != params {
		t.Errorf("got %+v, want %+v", got, params)
	}

	// build is idempotent over its own output segments.
	if rebuilt := BuildSessionKey(got); rebuilt != key {
		t.Errorf("rebuild changed key: %q vs %q", rebuilt, key)
	}
}

func TestParseMalformed(t *testing.T) {
	bad := []string{
		"",
		"agent:main",
		"agent:main:channel:cli:account:default:peer:direct:", // empty peer id
		"agent:main:channel:cli:account:default:peer:weird:x", // bad kind
		"bogus:main:channel:cli:account:default:peer:direct:x",
		"agent:main:chan:cli:account:default:peer:direct:x",
	}
	for _, key := range bad {
		if _, err := ParseSessionKey(key); !errors.Is(err, ErrMalformedKey) {
			t.Errorf("ParseSessionKey(%q) err = %v, want ErrMalformedKey", key, err)
		}
	}
}

func TestSessionSlug(t *testing.T) {
	key := "agent:main:channel:cli:account:default:peer:direct:local"
	want := "agent__main__channel__cli__account__default__peer__direct__local"
	if got := SessionSlug(key); got != want {
		t.Errorf("got %q", got)
	}
}

func TestNormalizeSegment(t *testing.T) {
	tests := []struct {
		in       string
		fallback string
		want     string
	}{
		{"Simple", "x", "simple"},
		{"  trimmed  ", "x", "trimmed"},
		{"two  words", "x", "two_words"},
		{"emoji🎉stripped", "x", "emojistripped"},
		{"keep.these@chars+ok:-", "x", "keep.these@chars+ok:-"},
		{"", "fallback", "fallback"},
		{"!!!", "fallback", "fallback"},
		{strings.Repeat("a", 200), "x", strings.Repeat("a", 128)},
	}
	for _, tt := range tests {
		if got := NormalizeSegment(tt.in, tt.fallback); got != tt.want {
			t.Errorf("NormalizeSegment(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
