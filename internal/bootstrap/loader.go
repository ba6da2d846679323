package bootstrap

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Size caps for system-prompt injection. Oversized files are truncated
// rather than dropped so the model still sees a prefix.
const (
	DefaultPerFileCap = 50_000
	DefaultTotalCap   = 200_000
)

// ContextFile is one loaded workspace markdown file.
type ContextFile struct {
	Name    string
	Content string
}

// LoadWorkspaceFiles reads the candidate files from dir in fixed order.
// Missing, unreadable and whitespace-only files are skipped. Individual
// contents are clamped to perFileCap; once the running total would exceed
// totalCap, a fitting prefix is included and loading stops.
func LoadWorkspaceFiles(dir string, perFileCap, totalCap int) []ContextFile {
	if perFileCap <= 0 {
		perFileCap = DefaultPerFileCap
	}
	if totalCap <= 0 {
		totalCap = DefaultTotalCap
	}

	var files []ContextFile
	total := 0

	for _, name := range CandidateFiles {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		content := string(data)
		if strings.TrimSpace(content) == "" {
			continue
		}

		if len(content) > perFileCap {
			slog.Debug("bootstrap: truncating oversized context file", "file", name, "size", len(content))
			content = content[:perFileCap]
		}

		if total+len(content) > totalCap {
			remaining := totalCap - total
			if remaining <= 0 {
				break
			}
			files = append(files, ContextFile{Name: name, Content: content[:remaining]})
			break
		}

		files = append(files, ContextFile{Name: name, Content: content})
		total += len(content)
	}

	return files
}
