// Package deploy triggers deployment and rollback attempts for registered workloads.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"log/slog"

	"github.com/ironsupr/AutoDeployHub/internal/domain"
	"github.com/ironsupr/AutoDeployHub/internal/imageref"
	"github.com/ironsupr/AutoDeployHub/internal/lock"
	"github.com/ironsupr/AutoDeployHub/internal/repository"
	"github.com/ironsupr/AutoDeployHub/internal/service/webhook"
)

// DefaultAttemptLimit bounds attempt listings when no limit is given.
const DefaultAttemptLimit = 20

var (
	// ErrDeploymentInProgress reports that another attempt holds the workload.
	ErrDeploymentInProgress = errors.New("a deployment is already in progress for this workload")
	// ErrInvalidRollbackTarget reports a rollback to an attempt that is not a successful deployment of the workload.
	ErrInvalidRollbackTarget = errors.New("rollback target must be a successful attempt of the same workload")
)

// Runner executes attempts.
type Runner interface {
	RunDeployment(ctx context.Context, workload domain.Workload, reference string) *domain.Attempt
	RunRollback(ctx context.Context, workload domain.Workload, target domain.Attempt) *domain.Attempt
}

// Service guards attempt execution with per-workload locks.
type Service struct {
	workloads repository.WorkloadRepository
	attempts  repository.AttemptRepository
	runner    Runner
	locker    lock.Locker
	logger    *slog.Logger
	inflight  *sync.WaitGroup
}

// New returns a deployment trigger service.
func New(workloads repository.WorkloadRepository, attempts repository.AttemptRepository, runner Runner, locker lock.Locker, logger *slog.Logger) Service {
	return Service{
		workloads: workloads,
		attempts:  attempts,
		runner:    runner,
		locker:    locker,
		logger:    logger,
		inflight:  &sync.WaitGroup{},
	}
}

// Deploy runs a deployment of the workload's tracked branch and waits for it to finish.
func (s Service) Deploy(ctx context.Context, workloadID, reference string) (*domain.Attempt, error) {
	workload, err := s.workloads.GetWorkloadByID(ctx, workloadID)
	if err != nil {
		return nil, err
	}
	unlock, err := s.acquire(ctx, workload.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.runner.RunDeployment(ctx, *workload, normalizeReference(reference)), nil
}

// DeployAsync takes the workload lock and runs the deployment in the background.
func (s Service) DeployAsync(ctx context.Context, workload domain.Workload, reference string) error {
	unlock, err := s.acquire(ctx, workload.ID)
	if err != nil {
		return err
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer unlock()
		attempt := s.runner.RunDeployment(context.WithoutCancel(ctx), workload, normalizeReference(reference))
		s.logger.Info("background deployment finished", "workload_id", workload.ID, "attempt_id", attempt.ID, "status", attempt.Status)
	}()
	return nil
}

// Wait blocks until background deployments have finished.
func (s Service) Wait() {
	s.inflight.Wait()
}

// Rollback re-points the workload at the image of a previous successful attempt.
func (s Service) Rollback(ctx context.Context, workloadID, attemptID string) (*domain.Attempt, error) {
	workload, err := s.workloads.GetWorkloadByID(ctx, workloadID)
	if err != nil {
		return nil, err
	}
	target, err := s.attempts.GetAttemptByID(ctx, strings.TrimSpace(attemptID))
	if err != nil {
		return nil, err
	}
	if target.WorkloadID != workload.ID || target.Status != domain.AttemptSuccess {
		return nil, ErrInvalidRollbackTarget
	}
	unlock, err := s.acquire(ctx, workload.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.runner.RunRollback(ctx, *workload, *target), nil
}

// HandlePush deploys every workload tracking the pushed branch. It returns the triggered workload IDs.
func (s Service) HandlePush(ctx context.Context, event webhook.PushEvent) ([]string, error) {
	if !event.Actionable() {
		s.logger.Info("ignoring push", "branch", event.Branch, "deleted", event.Deleted)
		return nil, nil
	}
	seen := make(map[string]struct{})
	var triggered []string
	for _, url := range event.RepoURLs {
		matches, err := s.workloads.FindWorkloadsByRepo(ctx, url, event.Branch)
		if err != nil {
			return triggered, fmt.Errorf("find workloads: %w", err)
		}
		for _, workload := range matches {
			if _, ok := seen[workload.ID]; ok {
				continue
			}
			seen[workload.ID] = struct{}{}
			if err := s.DeployAsync(ctx, workload, event.Commit); err != nil {
				if errors.Is(err, ErrDeploymentInProgress) {
					s.logger.Warn("push skipped, deployment in progress", "workload_id", workload.ID, "commit", event.Commit)
					continue
				}
				return triggered, err
			}
			triggered = append(triggered, workload.ID)
		}
	}
	return triggered, nil
}

// ListByWorkload returns recent attempts for a workload.
func (s Service) ListByWorkload(ctx context.Context, workloadID string, limit int) ([]domain.Attempt, error) {
	if _, err := s.workloads.GetWorkloadByID(ctx, workloadID); err != nil {
		return nil, err
	}
	return s.attempts.ListAttemptsByWorkload(ctx, workloadID, normalizeLimit(limit))
}

// ListRecent returns recent attempts across workloads.
func (s Service) ListRecent(ctx context.Context, limit int) ([]domain.Attempt, error) {
	return s.attempts.ListRecentAttempts(ctx, normalizeLimit(limit))
}

// Get returns an attempt with its full log.
func (s Service) Get(ctx context.Context, attemptID string) (*domain.Attempt, error) {
	return s.attempts.GetAttemptByID(ctx, strings.TrimSpace(attemptID))
}

func (s Service) acquire(ctx context.Context, workloadID string) (func(), error) {
	unlock, err := s.locker.TryLock(ctx, workloadID)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, ErrDeploymentInProgress
		}
		return nil, fmt.Errorf("acquire workload lock: %w", err)
	}
	return unlock, nil
}

func normalizeReference(reference string) string {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return imageref.ManualReference
	}
	return reference
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultAttemptLimit
	}
	return limit
}
