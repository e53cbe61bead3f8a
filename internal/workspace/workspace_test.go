package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPrepareRecreatesDirectory(t *testing.T) {
	mgr, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	dir, err := mgr.Prepare("demo")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	stale := filepath.Join(dir, "stale.txt")
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatalf("write stale file: %v", err)
	}

	again, err := mgr.Prepare("demo")
	if err != nil {
		t.Fatalf("prepare again: %v", err)
	}
	if again != dir {
		t.Fatalf("expected same directory, got %s and %s", dir, again)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale file removed, stat err=%v", err)
	}
}

func TestPrepareRejectsTraversal(t *testing.T) {
	mgr, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	for _, hint := range []string{"", "..", "a/b", `a\b`} {
		if _, err := mgr.Prepare(hint); err == nil {
			t.Fatalf("expected error for hint %q", hint)
		}
	}
}

func TestCleanupRefusesOutsideRoot(t *testing.T) {
	mgr, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Cleanup(t.TempDir()); err == nil {
		t.Fatalf("expected refusal for path outside root")
	}
	if err := mgr.Cleanup(mgr.Root()); err == nil {
		t.Fatalf("expected refusal for root itself")
	}

	dir, _ := mgr.Prepare("demo")
	if err := mgr.CleanupByHint("demo"); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected workspace removed")
	}
}
