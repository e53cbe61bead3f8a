// Package memory provides an in-process store used when no database is configured.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ironsupr/AutoDeployHub/internal/domain"
	"github.com/ironsupr/AutoDeployHub/internal/repository"
)

// Repository keeps workloads and attempts in memory. All writes are serialized.
type Repository struct {
	mu        sync.RWMutex
	workloads map[string]domain.Workload
	attempts  map[string]*domain.Attempt
	order     []string
}

// New constructs an empty Repository.
func New() *Repository {
	return &Repository{
		workloads: make(map[string]domain.Workload),
		attempts:  make(map[string]*domain.Attempt),
	}
}

var (
	_ repository.WorkloadRepository = (*Repository)(nil)
	_ repository.AttemptRepository  = (*Repository)(nil)
)

// Ping always succeeds.
func (r *Repository) Ping(context.Context) error { return nil }

// CreateWorkload stores a workload, rejecting duplicate names and repository URLs.
func (r *Repository) CreateWorkload(_ context.Context, workload *domain.Workload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workloads[workload.ID]; ok {
		return repository.ErrConflict
	}
	for _, existing := range r.workloads {
		if strings.EqualFold(existing.Name, workload.Name) {
			return repository.ErrNameConflict
		}
		if strings.EqualFold(existing.RepoURL, workload.RepoURL) {
			return repository.ErrConflict
		}
	}
	r.workloads[workload.ID] = *workload
	return nil
}

// GetWorkloadByID returns a copy of the stored workload.
func (r *Repository) GetWorkloadByID(_ context.Context, workloadID string) (*domain.Workload, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workloads[workloadID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &w, nil
}

// ListWorkloads returns workloads newest first.
func (r *Repository) ListWorkloads(context.Context) ([]domain.Workload, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Workload, 0, len(r.workloads))
	for _, w := range r.workloads {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// FindWorkloadsByRepo returns workloads tracking repoURL on branch.
func (r *Repository) FindWorkloadsByRepo(_ context.Context, repoURL, branch string) ([]domain.Workload, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Workload
	for _, w := range r.workloads {
		if w.RepoURL == repoURL && w.Branch == branch {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteWorkload removes a workload and its attempts.
func (r *Repository) DeleteWorkload(_ context.Context, workloadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workloads[workloadID]; !ok {
		return repository.ErrNotFound
	}
	delete(r.workloads, workloadID)
	kept := r.order[:0]
	for _, id := range r.order {
		if r.attempts[id].WorkloadID == workloadID {
			delete(r.attempts, id)
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
	return nil
}

// CreateAttempt stores a new attempt. The workload must exist.
func (r *Repository) CreateAttempt(_ context.Context, attempt *domain.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workloads[attempt.WorkloadID]; !ok {
		return repository.ErrNotFound
	}
	if _, ok := r.attempts[attempt.ID]; ok {
		return repository.ErrConflict
	}
	stored := attempt.Clone()
	r.attempts[attempt.ID] = &stored
	r.order = append(r.order, attempt.ID)
	return nil
}

// AppendAttemptLog appends a line to the attempt log.
func (r *Repository) AppendAttemptLog(_ context.Context, attemptID string, line domain.LogLine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[attemptID]
	if !ok {
		return repository.ErrNotFound
	}
	a.Log = append(a.Log, line)
	return nil
}

// SetAttemptStatus updates the attempt status.
func (r *Repository) SetAttemptStatus(_ context.Context, attemptID string, status domain.AttemptStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[attemptID]
	if !ok {
		return repository.ErrNotFound
	}
	a.Status = status
	return nil
}

// SetAttemptFinishedAt records the finish time once.
func (r *Repository) SetAttemptFinishedAt(_ context.Context, attemptID string, finishedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[attemptID]
	if !ok {
		return repository.ErrNotFound
	}
	if a.FinishedAt == nil {
		a.FinishedAt = &finishedAt
	}
	return nil
}

// GetAttemptByID returns a copy of the attempt including its log.
func (r *Repository) GetAttemptByID(_ context.Context, attemptID string) (*domain.Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.attempts[attemptID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := a.Clone()
	return &out, nil
}

// ListAttemptsByWorkload returns the newest attempts for a workload.
func (r *Repository) ListAttemptsByWorkload(_ context.Context, workloadID string, limit int) ([]domain.Attempt, error) {
	return r.list(limit, func(a *domain.Attempt) bool { return a.WorkloadID == workloadID }), nil
}

// ListRecentAttempts returns the newest attempts across all workloads.
func (r *Repository) ListRecentAttempts(_ context.Context, limit int) ([]domain.Attempt, error) {
	return r.list(limit, func(*domain.Attempt) bool { return true }), nil
}

func (r *Repository) list(limit int, match func(*domain.Attempt) bool) []domain.Attempt {
	if limit <= 0 {
		limit = 20
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Attempt
	for i := len(r.order) - 1; i >= 0 && len(out) < limit; i-- {
		a := r.attempts[r.order[i]]
		if !match(a) {
			continue
		}
		summary := a.Clone()
		summary.Log = nil
		out = append(out, summary)
	}
	return out
}
