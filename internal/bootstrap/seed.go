package bootstrap

import (
	"embed"
	"os"
	"path/filepath"
)

//go:embed templates/*.md
var templateFS embed.FS

// EnsureWorkspace creates the workspace directory and seeds the default
// AGENTS.md template when absent. Existing files are never overwritten.
func EnsureWorkspace(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	_, err := seedTemplate(dir, AgentsFile)
	return err
}

// seedTemplate writes an embedded template into the workspace if the file
// doesn't exist. Returns true when the file was created.
func seedTemplate(dir, name string) (bool, error) {
	dstPath := filepath.Join(dir, name)

	// O_EXCL: only create, never clobber a user-edited file.
	f, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	content, err := templateFS.ReadFile(filepath.Join("templates", name))
	if err != nil {
		os.Remove(dstPath)
		return false, err
	}

	if _, err := f.Write(content); err != nil {
		return false, err
	}
	return true, nil
}
