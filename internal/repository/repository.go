package repository

import (
	"context"
	"time"

	"github.com/ironsupr/AutoDeployHub/internal/domain"
)

// WorkloadRepository persists workload descriptors.
type WorkloadRepository interface {
	CreateWorkload(ctx context.Context, workload *domain.Workload) error
	GetWorkloadByID(ctx context.Context, workloadID string) (*domain.Workload, error)
	ListWorkloads(ctx context.Context) ([]domain.Workload, error)
	FindWorkloadsByRepo(ctx context.Context, repoURL, branch string) ([]domain.Workload, error)
	DeleteWorkload(ctx context.Context, workloadID string) error
}

// AttemptWriter is the write side used while an attempt is running. Each
// call is durable before it returns.
type AttemptWriter interface {
	CreateAttempt(ctx context.Context, attempt *domain.Attempt) error
	AppendAttemptLog(ctx context.Context, attemptID string, line domain.LogLine) error
	SetAttemptStatus(ctx context.Context, attemptID string, status domain.AttemptStatus) error
	SetAttemptFinishedAt(ctx context.Context, attemptID string, finishedAt time.Time) error
}

// AttemptRepository stores attempt history.
type AttemptRepository interface {
	AttemptWriter
	GetAttemptByID(ctx context.Context, attemptID string) (*domain.Attempt, error)
	ListAttemptsByWorkload(ctx context.Context, workloadID string, limit int) ([]domain.Attempt, error)
	ListRecentAttempts(ctx context.Context, limit int) ([]domain.Attempt, error)
}
