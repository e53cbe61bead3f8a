package migrate

import (
	"io"
	"log/slog"
	"testing"
	"testing/fstest"

	"github.com/ironsupr/AutoDeployHub/db"
)

func TestNewValidatesInputs(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	if _, err := New("", db.Migrations, db.MigrationsDir, log); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
	if _, err := New("postgres://localhost/db", nil, db.MigrationsDir, log); err == nil {
		t.Fatalf("expected error for nil filesystem")
	}
	if _, err := New("postgres://localhost/db", fstest.MapFS{}, "missing", log); err == nil {
		t.Fatalf("expected error for missing migrations dir")
	}
}

func TestNewAcceptsEmbeddedMigrations(t *testing.T) {
	runner, err := New("postgres://localhost/db", db.Migrations, db.MigrationsDir, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	if runner.dir != db.MigrationsDir {
		t.Fatalf("expected dir %q, got %q", db.MigrationsDir, runner.dir)
	}
	if runner.log == nil {
		t.Fatalf("expected default logger")
	}
}
