package workload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/ironsupr/AutoDeployHub/internal/domain"
	"github.com/ironsupr/AutoDeployHub/internal/repository"
)

// DefaultBranch is tracked when a workload is created without one.
const DefaultBranch = "main"

// CreateInput encapsulates workload creation attributes.
type CreateInput struct {
	Name    string
	RepoURL string
	Branch  string
}

// Service manages workload registrations.
type Service struct {
	workloads repository.WorkloadRepository
	logger    *slog.Logger
	now       func() time.Time
	cleanup   func(name string) error
}

// Option customises a Service.
type Option func(*Service)

// WithWorkspaceCleanup removes a deleted workload's working copy by name.
func WithWorkspaceCleanup(cleanup func(name string) error) Option {
	return func(s *Service) {
		s.cleanup = cleanup
	}
}

// New returns a workload service.
func New(workloads repository.WorkloadRepository, logger *slog.Logger, opts ...Option) Service {
	s := Service{workloads: workloads, logger: logger, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

var (
	// ErrInvalidName reports a name that cannot be used as a cluster object name.
	ErrInvalidName = errors.New("workload name must be a lowercase DNS-1123 label")
	// ErrMissingRepoURL reports a create request without a repository.
	ErrMissingRepoURL = errors.New("repository URL is required")
	// ErrInvalidRepoURL reports a repository that git would read as an option.
	ErrInvalidRepoURL = errors.New("repository URL must not start with '-'")
	// ErrDuplicateRepo reports a repository already registered by another workload.
	ErrDuplicateRepo = errors.New("workload with this repository URL already exists")
	// ErrDuplicateName reports a name already used by another workload.
	ErrDuplicateName = errors.New("workload with this name already exists")

	errMissingWorkloadID = errors.New("workload id required")
)

// IsValidation reports whether err was caused by bad input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidName) || errors.Is(err, ErrMissingRepoURL) || errors.Is(err, ErrInvalidRepoURL) || errors.Is(err, errMissingWorkloadID)
}

// Create registers a new workload.
func (s Service) Create(ctx context.Context, input CreateInput) (*domain.Workload, error) {
	name := strings.ToLower(strings.TrimSpace(input.Name))
	if name == "" {
		return nil, ErrInvalidName
	}
	if problems := validation.IsDNS1123Label(name); len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidName, strings.Join(problems, "; "))
	}
	repoURL := strings.TrimSpace(input.RepoURL)
	if repoURL == "" {
		return nil, ErrMissingRepoURL
	}
	if strings.HasPrefix(repoURL, "-") {
		return nil, ErrInvalidRepoURL
	}
	branch := strings.TrimSpace(input.Branch)
	if branch == "" {
		branch = DefaultBranch
	}
	now := s.now()
	workload := &domain.Workload{
		ID:        uuid.NewString(),
		Name:      name,
		RepoURL:   repoURL,
		Branch:    branch,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.workloads.CreateWorkload(ctx, workload); err != nil {
		switch {
		case errors.Is(err, repository.ErrNameConflict):
			return nil, ErrDuplicateName
		case errors.Is(err, repository.ErrConflict):
			return nil, ErrDuplicateRepo
		}
		return nil, err
	}
	s.logger.Info("workload created", "workload_id", workload.ID, "name", workload.Name, "branch", workload.Branch)
	return workload, nil
}

// Get returns workload details by identifier.
func (s Service) Get(ctx context.Context, workloadID string) (*domain.Workload, error) {
	workloadID = strings.TrimSpace(workloadID)
	if workloadID == "" {
		return nil, errMissingWorkloadID
	}
	return s.workloads.GetWorkloadByID(ctx, workloadID)
}

// List returns every registered workload.
func (s Service) List(ctx context.Context) ([]domain.Workload, error) {
	return s.workloads.ListWorkloads(ctx)
}

// Delete removes a workload and its attempt history.
func (s Service) Delete(ctx context.Context, workloadID string) error {
	workloadID = strings.TrimSpace(workloadID)
	if workloadID == "" {
		return errMissingWorkloadID
	}
	existing, err := s.workloads.GetWorkloadByID(ctx, workloadID)
	if err != nil {
		return err
	}
	if err := s.workloads.DeleteWorkload(ctx, workloadID); err != nil {
		return err
	}
	if s.cleanup != nil {
		if err := s.cleanup(existing.Name); err != nil {
			s.logger.Warn("workspace cleanup failed", "workload_id", workloadID, "error", err)
		}
	}
	s.logger.Info("workload deleted", "workload_id", workloadID)
	return nil
}
