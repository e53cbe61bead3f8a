package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Clone shallow-clones branch of the repository into dest, which must exist and be empty.
func Clone(ctx context.Context, repoURL, branch, dest string) error {
	if repoURL == "" {
		return fmt.Errorf("repository URL cannot be empty")
	}
	if strings.HasPrefix(repoURL, "-") {
		return fmt.Errorf("repository URL %q must not start with '-'", repoURL)
	}
	if dest == "" {
		return fmt.Errorf("destination cannot be empty")
	}
	args := []string{"clone", "--depth", "1"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, "--", repoURL, ".")
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dest
	// Prevent git from prompting for credentials interactively.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git clone failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Workspace prepares destination directories for fetched sources.
type Workspace interface {
	Prepare(hint string) (string, error)
}

// Fetcher produces local working copies inside a workspace.
type Fetcher struct {
	workspace Workspace
	timeout   time.Duration
}

// NewFetcher constructs a Fetcher. A zero timeout disables the deadline.
func NewFetcher(ws Workspace, timeout time.Duration) *Fetcher {
	return &Fetcher{workspace: ws, timeout: timeout}
}

// Fetch clones repoURL at branch into a fresh directory named after hint and returns its path.
func (f *Fetcher) Fetch(ctx context.Context, repoURL, branch, hint string) (string, error) {
	dest, err := f.workspace.Prepare(hint)
	if err != nil {
		return "", err
	}
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	if err := Clone(ctx, repoURL, branch, dest); err != nil {
		return "", err
	}
	return dest, nil
}
