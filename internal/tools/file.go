package tools

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// maxSearchFileSize bounds how large a file grep will scan, to keep the
// search tool from stalling on generated artifacts.
const maxSearchFileSize = 2 << 20

// argString extracts a required string argument.
func argString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("invalid parameter: missing %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("invalid parameter: %q must be a non-empty string", key)
	}
	return s, nil
}

// GlobTool matches file paths against a glob pattern under the root.
type GlobTool struct {
	// Root is the directory all patterns are resolved under.
	Root string
}

// Execute resolves args["pattern"] against the root and returns the
// matching relative paths.
func (t *GlobTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	pattern, err := argString(args, "pattern")
	if err != nil {
		return nil, err
	}

	var matches []string
	err = filepath.WalkDir(t.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(t.Root, path)
		if relErr != nil {
			return nil
		}
		ok, matchErr := filepath.Match(pattern, filepath.Base(rel))
		if matchErr != nil {
			return fmt.Errorf("invalid parameter: bad pattern %q: %w", pattern, matchErr)
		}
		if !ok {
			// Also try matching the full relative path for patterns
			// like internal/*/config.go.
			if full, _ := filepath.Match(pattern, rel); !full {
				return nil
			}
		}
		matches = append(matches, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// SearchTool scans file contents for a substring or pattern, returning
// file:line matches.
type SearchTool struct {
	// Root is the directory the search walks.
	Root string
}

// SearchMatch is one content match.
type SearchMatch struct {
	// File is the path relative to the search root.
	File string `json:"file"`
	// Line is the 1-based line number.
	Line int `json:"line"`
	// Text is the matching line, trimmed.
	Text string `json:"text"`
}

// Execute searches for args["pattern"] (case-insensitive substring)
// under the root, or under args["path"] if given.
func (t *SearchTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	pattern, err := argString(args, "pattern")
	if err != nil {
		return nil, err
	}
	root := t.Root
	if sub, ok := args["path"].(string); ok && sub != "" {
		root = filepath.Join(t.Root, sub)
	}

	needle := strings.ToLower(pattern)
	var matches []SearchMatch

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil || info.Size() > maxSearchFileSize {
			return nil
		}

		f, openErr := os.Open(path)
		if openErr != nil {
			return nil
		}
		defer f.Close()

		rel, _ := filepath.Rel(t.Root, path)
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			if strings.Contains(strings.ToLower(line), needle) {
				matches = append(matches, SearchMatch{
					File: rel,
					Line: lineNo,
					Text: strings.TrimSpace(line),
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// ReadFileTool reads a file's contents through the shared cache.
type ReadFileTool struct {
	// Root is the directory paths are resolved under.
	Root string
	// Cache, when set, serves repeated reads and is invalidated by the
	// file watcher on change.
	Cache *FileCache
}

// Execute returns the contents of args["path"].
func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	rel, err := argString(args, "path")
	if err != nil {
		return nil, err
	}
	path := filepath.Join(t.Root, rel)

	if t.Cache != nil {
		if data, ok := t.Cache.Get(path); ok {
			return string(data), nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	if t.Cache != nil {
		t.Cache.Put(path, data)
	}
	return string(data), nil
}

// ListDirTool lists the entries of a directory.
type ListDirTool struct {
	// Root is the directory paths are resolved under.
	Root string
}

// Execute lists args["path"] (default ".") relative to the root.
func (t *ListDirTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	rel := "."
	if p, ok := args["path"].(string); ok && p != "" {
		rel = p
	}
	entries, err := os.ReadDir(filepath.Join(t.Root, rel))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", rel, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	return names, nil
}

// WriteFileTool writes a file, creating parent directories as needed.
type WriteFileTool struct {
	// Root is the directory paths are resolved under.
	Root string
	// Cache is invalidated for the written path, if set.
	Cache *FileCache
}

// Execute writes args["content"] to args["path"].
func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	rel, err := argString(args, "path")
	if err != nil {
		return nil, err
	}
	content, ok := args["content"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid parameter: %q must be a string", "content")
	}

	path := filepath.Join(t.Root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("write %s: %w", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nil, fmt.Errorf("write %s: %w", rel, err)
	}
	if t.Cache != nil {
		t.Cache.Invalidate(path)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), rel), nil
}

// EditFileTool replaces an exact string in a file.
type EditFileTool struct {
	// Root is the directory paths are resolved under.
	Root string
	// Cache is invalidated for the edited path, if set.
	Cache *FileCache
}

// Execute replaces the first occurrence of args["old"] with args["new"]
// in args["path"]. A missing old string is a parameter error.
func (t *EditFileTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	rel, err := argString(args, "path")
	if err != nil {
		return nil, err
	}
	oldStr, err := argString(args, "old")
	if err != nil {
		return nil, err
	}
	newStr, ok := args["new"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid parameter: %q must be a string", "new")
	}

	path := filepath.Join(t.Root, rel)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("edit %s: %w", rel, err)
	}
	content := string(data)
	if !strings.Contains(content, oldStr) {
		return nil, fmt.Errorf("invalid parameter: old string not found in %s", rel)
	}
	content = strings.Replace(content, oldStr, newStr, 1)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nil, fmt.Errorf("edit %s: %w", rel, err)
	}
	if t.Cache != nil {
		t.Cache.Invalidate(path)
	}
	return fmt.Sprintf("edited %s", rel), nil
}
