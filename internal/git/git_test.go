package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/ironsupr/AutoDeployHub/internal/workspace"
)

func TestCloneValidatesArguments(t *testing.T) {
	if err := Clone(context.Background(), "", "main", t.TempDir()); err == nil {
		t.Fatalf("expected error for empty url")
	}
	if err := Clone(context.Background(), "https://example.com/repo.git", "main", ""); err == nil {
		t.Fatalf("expected error for empty destination")
	}
	dest := t.TempDir()
	if err := Clone(context.Background(), "--upload-pack=touch pwned", "main", dest); err == nil {
		t.Fatalf("expected error for option-like url")
	}
	if _, err := os.Stat(filepath.Join(dest, "pwned")); !os.IsNotExist(err) {
		t.Fatalf("option-like url reached git: %v", err)
	}
}

func TestFetchClonesBranch(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	source := t.TempDir()
	runGit(t, source, "init", "--initial-branch", "main")
	if err := os.WriteFile(filepath.Join(source, "Dockerfile"), []byte("FROM scratch\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	runGit(t, source, "add", "Dockerfile")
	runGit(t, source, "-c", "user.name=test", "-c", "user.email=test@example.com", "commit", "-m", "init")

	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	fetcher := NewFetcher(ws, 0)

	dir, err := fetcher.Fetch(context.Background(), "file://"+source, "main", "demo")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "Dockerfile")); err != nil {
		t.Fatalf("expected cloned Dockerfile: %v", err)
	}

	if _, err := fetcher.Fetch(context.Background(), "file://"+source, "missing", "demo"); err == nil {
		t.Fatalf("expected error for unknown branch")
	}
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("git %v unavailable in this environment: %v: %s", args, err, out)
	}
}
