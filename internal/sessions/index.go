package sessions

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// indexFileName is the single metadata file inside the sessions directory.
const indexFileName = "sessions.json"

// Entry is one session's metadata row. SessionID and SessionFile are
// immutable after creation; UpdatedAt refreshes on every write.
type Entry struct {
	SessionID   string         `json:"sessionId"`
	UpdatedAt   int64          `json:"updatedAt"`
	SessionFile string         `json:"sessionFile"`
	LastChannel string         `json:"lastChannel,omitempty"`
	LastTo      string         `json:"lastTo,omitempty"`
	ChatType    string         `json:"chatType,omitempty"`
	Model       string         `json:"model,omitempty"`
	TotalTokens int64          `json:"totalTokens,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// EntryPatch holds the mutable annotations merged by UpsertMeta. Zero
// values leave the existing entry field untouched.
type EntryPatch struct {
	LastChannel string
	LastTo      string
	ChatType    string
	Model       string
	TotalTokens int64
	Extra       map[string]any
}

// Index is the sessions.json key→entry map with an in-memory cache keyed
// by the file's last-modified time. Single-writer per process assumed.
type Index struct {
	mu    sync.Mutex
	dir   string
	mtime time.Time
	cache map[string]Entry
	now   func() time.Time // overridable in tests
}

func NewIndex(dir string) *Index {
	return &Index{dir: dir, now: time.Now}
}

func (ix *Index) path() string {
	return filepath.Join(ix.dir, indexFileName)
}

// Load returns the full map. When the file's mtime matches the cached
// value, a deep copy of the cache is returned without re-parsing. A
// corrupt file is preserved as sessions.json.bak.<ts> and an empty map
// returned.
func (ix *Index) Load() (map[string]Entry, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.loadLocked(true)
}

func (ix *Index) loadLocked(useCache bool) (map[string]Entry, error) {
	path := ix.path()
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Entry{}, nil
		}
		return nil, fmt.Errorf("sessions: stat index: %w", err)
	}

	if useCache && ix.cache != nil && info.ModTime().Equal(ix.mtime) {
		return copyEntries(ix.cache), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sessions: read index: %w", err)
	}

	entries := map[string]Entry{}
	if err := json.Unmarshal(data, &entries); err != nil {
		bak := fmt.Sprintf("%s.bak.%d", path, ix.now().UnixMilli())
		if renameErr := os.Rename(path, bak); renameErr != nil {
			slog.Warn("failed to preserve corrupt session index", "error", renameErr)
		} else {
			slog.Warn("corrupt session index preserved", "backup", bak, "error", err)
		}
		ix.cache = nil
		return map[string]Entry{}, nil
	}

	ix.cache = copyEntries(entries)
	ix.mtime = info.ModTime()
	return entries, nil
}

// Save serialises the whole map pretty-printed and refreshes the cache.
func (ix *Index) Save(entries map[string]Entry) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.saveLocked(entries)
}

func (ix *Index) saveLocked(entries map[string]Entry) error {
	if err := os.MkdirAll(ix.dir, 0755); err != nil {
		return fmt.Errorf("sessions: create sessions dir: %w", err)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("sessions: marshal index: %w", err)
	}

	path := ix.path()
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("sessions: write index: %w", err)
	}

	ix.cache = copyEntries(entries)
	if info, err := os.Stat(path); err == nil {
		ix.mtime = info.ModTime()
	}
	return nil
}

// Update loads with the cache bypassed, applies the mutator to a mutable
// copy and saves the result.
func (ix *Index) Update(mutate func(map[string]Entry)) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	entries, err := ix.loadLocked(false)
	if err != nil {
		return err
	}
	mutate(entries)
	return ix.saveLocked(entries)
}

// UpsertMeta merges the patch into an existing entry or creates one with a
// fresh identifier and the slug-derived filename. Returns the result.
func (ix *Index) UpsertMeta(key string, patch EntryPatch) (Entry, error) {
	var out Entry
	err := ix.Update(func(entries map[string]Entry) {
		e, ok := entries[key]
		if !ok {
			e = Entry{
				SessionID:   uuid.NewString(),
				SessionFile: SessionSlug(key) + ".jsonl",
			}
		}
		if patch.LastChannel != "" {
			e.LastChannel = patch.LastChannel
		}
		if patch.LastTo != "" {
			e.LastTo = patch.LastTo
		}
		if patch.ChatType != "" {
			e.ChatType = patch.ChatType
		}
		if patch.Model != "" {
			e.Model = patch.Model
		}
		if patch.TotalTokens > 0 {
			e.TotalTokens = patch.TotalTokens
		}
		if len(patch.Extra) > 0 {
			if e.Extra == nil {
				e.Extra = map[string]any{}
			}
			for k, v := range patch.Extra {
				e.Extra[k] = v
			}
		}
		e.UpdatedAt = ix.now().UnixMilli()
		entries[key] = e
		out = e
	})
	return out, err
}

// Delete removes an entry; reports whether it was present.
func (ix *Index) Delete(key string) (bool, error) {
	present := false
	err := ix.Update(func(entries map[string]Entry) {
		_, present = entries[key]
		delete(entries, key)
	})
	return present, err
}

// List returns all session keys.
func (ix *Index) List() ([]string, error) {
	entries, err := ix.Load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	return keys, nil
}

// Prune removes entries older than maxAge and returns the count removed.
func (ix *Index) Prune(maxAge time.Duration) (int, error) {
	cutoff := ix.now().Add(-maxAge).UnixMilli()
	pruned := 0
	err := ix.Update(func(entries map[string]Entry) {
		for k, e := range entries {
			if e.UpdatedAt < cutoff {
				delete(entries, k)
				pruned++
			}
		}
	})
	return pruned, err
}

// copyEntries deep-copies the map so callers cannot mutate cached state.
func copyEntries(src map[string]Entry) map[string]Entry {
	dst := make(map[string]Entry, len(src))
	for k, e := range src {
		if e.Extra != nil {
			extra := make(map[string]any, len(e.Extra))
			for ek, ev := range e.Extra {
				extra[ek] = ev
			}
			e.Extra = extra
		}
		dst[k] = e
	}
	return dst
}
