package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ironsupr/AutoDeployHub/internal/domain"
	"github.com/ironsupr/AutoDeployHub/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.WorkloadRepository = (*Repository)(nil)
	_ repository.AttemptRepository  = (*Repository)(nil)
)

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// CreateWorkload inserts a workload.
func (r *Repository) CreateWorkload(ctx context.Context, workload *domain.Workload) error {
	const query = `INSERT INTO workloads (id, name, repo_url, branch, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, workload.ID, workload.Name, workload.RepoURL, workload.Branch, workload.CreatedAt, workload.UpdatedAt)
	return mapError(err)
}

// GetWorkloadByID fetches a workload by identifier.
func (r *Repository) GetWorkloadByID(ctx context.Context, workloadID string) (*domain.Workload, error) {
	const query = `SELECT id, name, repo_url, branch, created_at, updated_at FROM workloads WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, workloadID)
	var w domain.Workload
	if err := row.Scan(&w.ID, &w.Name, &w.RepoURL, &w.Branch, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, mapError(err)
	}
	return &w, nil
}

// ListWorkloads returns every workload ordered by creation time.
func (r *Repository) ListWorkloads(ctx context.Context) ([]domain.Workload, error) {
	const query = `SELECT id, name, repo_url, branch, created_at, updated_at FROM workloads ORDER BY created_at DESC`
	return r.queryWorkloads(ctx, query)
}

// FindWorkloadsByRepo returns workloads tracking the repository branch.
func (r *Repository) FindWorkloadsByRepo(ctx context.Context, repoURL, branch string) ([]domain.Workload, error) {
	const query = `SELECT id, name, repo_url, branch, created_at, updated_at
		FROM workloads WHERE repo_url = $1 AND branch = $2 ORDER BY created_at`
	return r.queryWorkloads(ctx, query, repoURL, branch)
}

func (r *Repository) queryWorkloads(ctx context.Context, query string, args ...any) ([]domain.Workload, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workloads []domain.Workload
	for rows.Next() {
		var w domain.Workload
		if err := rows.Scan(&w.ID, &w.Name, &w.RepoURL, &w.Branch, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		workloads = append(workloads, w)
	}
	return workloads, rows.Err()
}

// DeleteWorkload removes a workload and, through cascades, its attempts.
func (r *Repository) DeleteWorkload(ctx context.Context, workloadID string) error {
	const query = `DELETE FROM workloads WHERE id = $1`
	cmdTag, err := r.pool.Exec(ctx, query, workloadID)
	if err != nil {
		return mapError(err)
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreateAttempt inserts an attempt record together with any seeded log lines.
func (r *Repository) CreateAttempt(ctx context.Context, attempt *domain.Attempt) error {
	const insertAttempt = `INSERT INTO attempts (id, workload_id, reference, status, created_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	const insertLine = `INSERT INTO attempt_logs (attempt_id, seq, logged_at, message) VALUES ($1, $2, $3, $4)`

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, insertAttempt, attempt.ID, attempt.WorkloadID, attempt.Reference, string(attempt.Status), attempt.CreatedAt, attempt.FinishedAt); err != nil {
		return mapError(err)
	}
	for _, line := range attempt.Log {
		if _, err := tx.Exec(ctx, insertLine, attempt.ID, line.Seq, line.At, line.Message); err != nil {
			return mapError(err)
		}
	}
	return tx.Commit(ctx)
}

// AppendAttemptLog inserts a single log line.
func (r *Repository) AppendAttemptLog(ctx context.Context, attemptID string, line domain.LogLine) error {
	const query = `INSERT INTO attempt_logs (attempt_id, seq, logged_at, message) VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, attemptID, line.Seq, line.At, line.Message)
	return mapError(err)
}

// SetAttemptStatus updates the attempt status in place.
func (r *Repository) SetAttemptStatus(ctx context.Context, attemptID string, status domain.AttemptStatus) error {
	const query = `UPDATE attempts SET status = $2 WHERE id = $1`
	cmdTag, err := r.pool.Exec(ctx, query, attemptID, string(status))
	if err != nil {
		return mapError(err)
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SetAttemptFinishedAt records the finish time. Only the first call has an effect.
func (r *Repository) SetAttemptFinishedAt(ctx context.Context, attemptID string, finishedAt time.Time) error {
	const query = `UPDATE attempts SET finished_at = COALESCE(finished_at, $2) WHERE id = $1`
	cmdTag, err := r.pool.Exec(ctx, query, attemptID, finishedAt)
	if err != nil {
		return mapError(err)
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetAttemptByID fetches an attempt with its full log.
func (r *Repository) GetAttemptByID(ctx context.Context, attemptID string) (*domain.Attempt, error) {
	const query = `SELECT id, workload_id, reference, status, created_at, finished_at FROM attempts WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, attemptID)
	attempt, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, mapError(err)
	}
	lines, err := r.listAttemptLog(ctx, attempt.ID)
	if err != nil {
		return nil, err
	}
	attempt.Log = lines
	return &attempt, nil
}

// ListAttemptsByWorkload fetches recent attempts for a workload without their logs.
func (r *Repository) ListAttemptsByWorkload(ctx context.Context, workloadID string, limit int) ([]domain.Attempt, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT id, workload_id, reference, status, created_at, finished_at
		FROM attempts WHERE workload_id = $1 ORDER BY created_at DESC LIMIT $2`
	return r.queryAttempts(ctx, query, workloadID, limit)
}

// ListRecentAttempts fetches the most recent attempts across workloads without their logs.
func (r *Repository) ListRecentAttempts(ctx context.Context, limit int) ([]domain.Attempt, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT id, workload_id, reference, status, created_at, finished_at
		FROM attempts ORDER BY created_at DESC LIMIT $1`
	return r.queryAttempts(ctx, query, limit)
}

func (r *Repository) queryAttempts(ctx context.Context, query string, args ...any) ([]domain.Attempt, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var attempts []domain.Attempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}

func (r *Repository) listAttemptLog(ctx context.Context, attemptID string) ([]domain.LogLine, error) {
	const query = `SELECT seq, logged_at, message FROM attempt_logs WHERE attempt_id = $1 ORDER BY seq`
	rows, err := r.pool.Query(ctx, query, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []domain.LogLine
	for rows.Next() {
		var line domain.LogLine
		if err := rows.Scan(&line.Seq, &line.At, &line.Message); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func scanAttempt(row pgx.Row) (domain.Attempt, error) {
	var (
		a          domain.Attempt
		status     string
		finishedAt sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.WorkloadID, &a.Reference, &status, &a.CreatedAt, &finishedAt); err != nil {
		return domain.Attempt{}, err
	}
	a.Status = domain.AttemptStatus(status)
	if finishedAt.Valid {
		value := finishedAt.Time
		a.FinishedAt = &value
	}
	return a, nil
}

const workloadNameConstraint = "workloads_name_key"

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503", "22P02":
			return repository.ErrNotFound
		case "23505":
			if pgErr.ConstraintName == workloadNameConstraint {
				return repository.ErrNameConflict
			}
			return repository.ErrConflict
		}
	}
	return err
}
