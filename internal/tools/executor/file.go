// Package executor provides file tool implementations.
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolvePath anchors relative paths at the task's working directory.
func resolvePath(path, workDir string) string {
	if filepath.IsAbs(path) || workDir == "" {
		return path
	}
	return filepath.Join(workDir, path)
}

// ReadFile reads file contents, optionally windowed by offset/limit.
type ReadFile struct{}

func (t *ReadFile) Name() string { return "read_file" }

func (t *ReadFile) Execute(ctx context.Context, input map[string]any, workDir string) *Result {
	path, err := stringParam(input, "path")
	if err != nil {
		return Fail(err)
	}
	path = resolvePath(path, workDir)

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Failf("file not found: %s", path)
		}
		return Failf("read %s: %v", path, err)
	}

	lines := strings.Split(string(content), "\n")
	total := len(lines)

	offset := intParam(input, "offset", 0)
	limit := intParam(input, "limit", 0)
	if offset > 0 {
		if offset >= len(lines) {
			return Success("").WithDetail("total_lines", total)
		}
		lines = lines[offset:]
	}
	if limit > 0 && limit < len(lines) {
		lines = lines[:limit]
	}

	return Success(strings.Join(lines, "\n")).
		WithDetail("path", path).
		WithDetail("total_lines", total)
}

// WriteFile writes content to a file, creating parent directories.
type WriteFile struct{}

func (t *WriteFile) Name() string { return "write_file" }

func (t *WriteFile) Execute(ctx context.Context, input map[string]any, workDir string) *Result {
	path, err := stringParam(input, "path")
	if err != nil {
		return Fail(err)
	}
	content, ok := input["content"].(string)
	if !ok {
		return Failf("content parameter is required")
	}
	path = resolvePath(path, workDir)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Failf("create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Failf("write %s: %v", path, err)
	}
	return Success(fmt.Sprintf("wrote %d bytes to %s", len(content), path)).
		WithDetail("path", path).
		WithDetail("bytes", len(content))
}

// EditFile replaces one occurrence of old_text with new_text. The old
// text must match the file exactly and uniquely; zero or multiple
// matches produce an error result and leave the file untouched.
type EditFile struct{}

func (t *EditFile) Name() string { return "edit_file" }

func (t *EditFile) Execute(ctx context.Context, input map[string]any, workDir string) *Result {
	path, err := stringParam(input, "path")
	if err != nil {
		return Fail(err)
	}
	oldText, err := stringParam(input, "old_text")
	if err != nil {
		return Fail(err)
	}
	newText, ok := input["new_text"].(string)
	if !ok {
		return Failf("new_text parameter is required")
	}
	path = resolvePath(path, workDir)

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Failf("file not found: %s", path)
		}
		return Failf("read %s: %v", path, err)
	}

	text := string(content)
	switch count := strings.Count(text, oldText); count {
	case 0:
		return Failf("old_text not found in %s; it must match the file content exactly", path)
	case 1:
		// fall through to the edit
	default:
		return Failf("old_text matches %d locations in %s; provide more surrounding context to make it unique", count, path)
	}

	edited := strings.Replace(text, oldText, newText, 1)
	if err := os.WriteFile(path, []byte(edited), 0o644); err != nil {
		return Failf("write %s: %v", path, err)
	}
	return Success(fmt.Sprintf("edited %s", path)).WithDetail("path", path)
}
