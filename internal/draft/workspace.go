package draft

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Ext is the file extension of draft files.
const Ext = ".post.md"

// Workspace keeps draft files under a root directory.
type Workspace struct {
	root string
}

// NewWorkspace opens root, creating it if needed.
func NewWorkspace(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("draft: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("draft: create root: %w", err)
	}
	return &Workspace{root: abs}, nil
}

// Root returns the absolute workspace directory.
func (w *Workspace) Root() string {
	return w.root
}

// FileName returns the draft file name for a post id.
func FileName(id string) string {
	return id + Ext
}

// safePath resolves rel against the root and rejects paths that leave it.
func (w *Workspace) safePath(rel string) (string, error) {
	cleaned := filepath.Clean(rel)
	if rel == "" || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("draft: invalid path %q", rel)
	}
	abs := filepath.Join(w.root, cleaned)
	if !strings.HasPrefix(abs, w.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("draft: path escapes workspace: %s", rel)
	}
	return abs, nil
}

// List returns the draft file names in the workspace, sorted.
func (w *Workspace) List() ([]string, error) {
	var out []string
	err := filepath.WalkDir(w.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), Ext) {
			return nil
		}
		rel, err := filepath.Rel(w.root, p)
		if err != nil {
			return err
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("draft: list: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// Read returns the contents of a draft file.
func (w *Workspace) Read(name string) ([]byte, error) {
	abs, err := w.safePath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("draft: read %s: %w", name, err)
	}
	return data, nil
}

// Write replaces a draft file atomically: temp file, fsync, rename.
func (w *Workspace) Write(name string, content []byte) error {
	abs, err := w.safePath(name)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("draft: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ghostly-tmp-*")
	if err != nil {
		return fmt.Errorf("draft: create temp: %w", err)
	}
	tmpName := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("draft: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("draft: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("draft: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("draft: rename: %w", err)
	}
	ok = true
	return nil
}

// Remove deletes a draft file.
func (w *Workspace) Remove(name string) error {
	abs, err := w.safePath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("draft: remove %s: %w", name, err)
	}
	return nil
}
