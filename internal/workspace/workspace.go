package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Manager owns per-workload working directories under a common root.
type Manager struct {
	root string
}

// New ensures the workspace root exists and is accessible.
func New(root string) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: abs}, nil
}

// Root returns the absolute workspace root.
func (m *Manager) Root() string {
	return m.root
}

// Prepare recreates an empty directory for the provided name hint.
func (m *Manager) Prepare(hint string) (string, error) {
	name, err := sanitize(hint)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(m.root, name)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("cleanup workspace: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return dir, nil
}

// Cleanup removes the workspace directory.
func (m *Manager) Cleanup(path string) error {
	if path == "" {
		return nil
	}
	// Only directories within the configured root may be removed.
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == "." || rel == "" || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to cleanup path outside workspace root")
	}
	return os.RemoveAll(path)
}

// CleanupByHint removes the workspace associated with the provided name hint.
func (m *Manager) CleanupByHint(hint string) error {
	name, err := sanitize(hint)
	if err != nil {
		return err
	}
	return m.Cleanup(filepath.Join(m.root, name))
}

func sanitize(hint string) (string, error) {
	name := strings.TrimSpace(hint)
	if name == "" {
		return "", fmt.Errorf("workspace name cannot be empty")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid workspace name %q", hint)
	}
	return name, nil
}
