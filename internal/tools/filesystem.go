package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// resolvePath resolves a tool-supplied path against the workspace and
// rejects escapes outside it.
func resolvePath(workspace, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(workspace, abs)
	}
	abs = filepath.Clean(abs)

	wsAbs, err := filepath.Abs(workspace)
	if err != nil {
		return "", err
	}
	if abs != wsAbs && !strings.HasPrefix(abs, wsAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the workspace", path)
	}
	return abs, nil
}

// --- read_file ---

type ReadFileTool struct {
	workspace string
}

func NewReadFileTool(workspace string) *ReadFileTool {
	return &ReadFileTool{workspace: workspace}
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Label() string       { return "Read File" }
func (t *ReadFileTool) Description() string { return "Read the contents of a file in the workspace" }
func (t *ReadFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file to read",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, id string, args map[string]any) *Result {
	path, _ := args["path"].(string)
	abs, err := resolvePath(t.workspace, path)
	if err != nil {
		return ErrorResult(err.Error())
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return ErrorResult(fmt.Sprintf("read %s: %v", path, err))
	}
	return NewResult(string(data))
}

// --- write_file ---

type WriteFileTool struct {
	workspace string
}

func NewWriteFileTool(workspace string) *WriteFileTool {
	return &WriteFileTool{workspace: workspace}
}

func (t *WriteFileTool) Name() string  { return "write_file" }
func (t *WriteFileTool) Label() string { return "Write File" }
func (t *WriteFileTool) Description() string {
	return "Write content to a file in the workspace, creating parent directories as needed"
}
func (t *WriteFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file to write",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Content to write",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, id string, args map[string]any) *Result {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	abs, err := resolvePath(t.workspace, path)
	if err != nil {
		return ErrorResult(err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return ErrorResult(fmt.Sprintf("write %s: %v", path, err))
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		return ErrorResult(fmt.Sprintf("write %s: %v", path, err))
	}
	return NewResult(fmt.Sprintf("wrote %d bytes to %s", len(content), path))
}

// --- edit_file ---

type EditFileTool struct {
	workspace string
}

func NewEditFileTool(workspace string) *EditFileTool {
	return &EditFileTool{workspace: workspace}
}

func (t *EditFileTool) Name() string  { return "edit_file" }
func (t *EditFileTool) Label() string { return "Edit File" }
func (t *EditFileTool) Description() string {
	return "Replace an exact text occurrence in a file. The old text must appear exactly once."
}
func (t *EditFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file to edit",
			},
			"old_text": map[string]any{
				"type":        "string",
				"description": "Exact text to replace",
			},
			"new_text": map[string]any{
				"type":        "string",
				"description": "Replacement text",
			},
		},
		"required": []string{"path", "old_text", "new_text"},
	}
}

func (t *EditFileTool) Execute(ctx context.Context, id string, args map[string]any) *Result {
	path, _ := args["path"].(string)
	oldText, _ := args["old_text"].(string)
	newText, _ := args["new_text"].(string)

	abs, err := resolvePath(t.workspace, path)
	if err != nil {
		return ErrorResult(err.Error())
	}
	if oldText == "" {
		return ErrorResult("old_text is required")
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return ErrorResult(fmt.Sprintf("edit %s: %v", path, err))
	}
	content := string(data)

	switch n := strings.Count(content, oldText); n {
	case 0:
		return ErrorResult(fmt.Sprintf("edit %s: old_text not found", path))
	case 1:
	default:
		return ErrorResult(fmt.Sprintf("edit %s: old_text appears %d times, must be unique", path, n))
	}

	content = strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		return ErrorResult(fmt.Sprintf("edit %s: %v", path, err))
	}
	return NewResult(fmt.Sprintf("edited %s", path))
}

// --- list_dir ---

type ListDirTool struct {
	workspace string
}

func NewListDirTool(workspace string) *ListDirTool {
	return &ListDirTool{workspace: workspace}
}

func (t *ListDirTool) Name() string        { return "list_dir" }
func (t *ListDirTool) Label() string       { return "List Directory" }
func (t *ListDirTool) Description() string { return "List the entries of a workspace directory" }
func (t *ListDirTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Directory path (default: workspace root)",
			},
		},
	}
}

func (t *ListDirTool) Execute(ctx context.Context, id string, args map[string]any) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	abs, err := resolvePath(t.workspace, path)
	if err != nil {
		return ErrorResult(err.Error())
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return ErrorResult(fmt.Sprintf("list %s: %v", path, err))
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return NewResult("(empty)")
	}
	return NewResult(strings.Join(names, "\n"))
}
