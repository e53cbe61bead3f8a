package postgres

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ironsupr/AutoDeployHub/internal/repository"
)

func TestMapErrorUniqueViolations(t *testing.T) {
	nameErr := mapError(&pgconn.PgError{Code: "23505", ConstraintName: "workloads_name_key"})
	if !errors.Is(nameErr, repository.ErrNameConflict) {
		t.Fatalf("expected name conflict, got %v", nameErr)
	}

	repoErr := mapError(&pgconn.PgError{Code: "23505", ConstraintName: "workloads_repo_url_key"})
	if !errors.Is(repoErr, repository.ErrConflict) {
		t.Fatalf("expected conflict, got %v", repoErr)
	}
	if errors.Is(repoErr, repository.ErrNameConflict) {
		t.Fatalf("repo url violation reported as name conflict")
	}
}

func TestMapErrorPassThrough(t *testing.T) {
	if mapError(nil) != nil {
		t.Fatalf("expected nil")
	}
	if err := mapError(&pgconn.PgError{Code: "23503"}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	cause := errors.New("connection reset")
	if err := mapError(cause); err != cause {
		t.Fatalf("expected cause unchanged, got %v", err)
	}
}
