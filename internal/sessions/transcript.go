package sessions

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TranscriptMessage is one persisted conversation record: a single compact
// JSON object per line. Meta round-trips verbatim; loaders accept unknown
// fields.
type TranscriptMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Timestamp  int64          `json:"ts"`
	ToolCallID string         `json:"toolCallId,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// sessionHeader is the first line of every transcript file.
type sessionHeader struct {
	Type       string `json:"type"`
	SessionKey string `json:"sessionKey"`
	CreatedAt  int64  `json:"createdAt"`
}

// TranscriptStore persists one append-only JSONL file per session under
// its directory. Single process-local writer assumed; readers tolerate
// malformed or partial trailing lines.
type TranscriptStore struct {
	dir string
}

func NewTranscriptStore(dir string) *TranscriptStore {
	return &TranscriptStore{dir: dir}
}

// Path returns the transcript file path for a session key.
func (s *TranscriptStore) Path(key string) string {
	return filepath.Join(s.dir, SessionSlug(key)+".jsonl")
}

// Append writes one message as a single record+newline write, creating the
// file with its header line first if needed.
func (s *TranscriptStore) Append(key string, msg TranscriptMessage) error {
	return s.AppendBatch(key, []TranscriptMessage{msg})
}

// AppendBatch writes all records in one filesystem write so an
// interruption cannot persist half a batch boundary-free.
func (s *TranscriptStore) AppendBatch(key string, msgs []TranscriptMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	path := s.Path(key)
	if err := s.ensureHeader(key, path); err != nil {
		return err
	}

	var b strings.Builder
	for _, m := range msgs {
		line, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("sessions: marshal transcript record: %w", err)
		}
		b.Write(line)
		b.WriteByte('\n')
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("sessions: open transcript: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("sessions: append transcript: %w", err)
	}
	return nil
}

// ensureHeader creates the containing directory and writes the header line
// atomically (temp file + rename) when the transcript does not exist yet.
func (s *TranscriptStore) ensureHeader(key, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("sessions: stat transcript: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("sessions: create sessions dir: %w", err)
	}

	header, err := json.Marshal(sessionHeader{
		Type:       "session",
		SessionKey: key,
		CreatedAt:  time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "transcript-*.tmp")
	if err != nil {
		return fmt.Errorf("sessions: create temp transcript: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(append(header, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("sessions: write transcript header: %w", err)
	}
	return nil
}

// Load returns the ordered message records, skipping the header line,
// blank lines and malformed records without failing the load.
func (s *TranscriptStore) Load(key string) ([]TranscriptMessage, error) {
	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sessions: read transcript: %w", err)
	}

	var msgs []TranscriptMessage
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if i == 0 && strings.Contains(line, `"type":"session"`) {
			continue
		}
		var m TranscriptMessage
		if err := json.Unmarshal([]byte(line), &m); err != nil || m.Role == "" {
			slog.Warn("skipping malformed transcript line", "session", key, "line", i+1)
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Count returns the number of valid message records.
func (s *TranscriptStore) Count(key string) (int, error) {
	msgs, err := s.Load(key)
	if err != nil {
		return 0, err
	}
	return len(msgs), nil
}

// Delete removes the transcript file. Idempotent; reports whether a file
// was actually removed.
func (s *TranscriptStore) Delete(key string) (bool, error) {
	err := os.Remove(s.Path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("sessions: delete transcript: %w", err)
	}
	return true, nil
}
