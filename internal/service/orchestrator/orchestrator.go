// Package orchestrator runs deployment and rollback attempts for workloads.
//
// A run always ends in a terminal attempt: collaborator failures, store
// failures and panics are written to the attempt log and turn the attempt
// into "failed" instead of being returned to the caller.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ironsupr/AutoDeployHub/internal/repository"
)

const tracerName = "github.com/ironsupr/AutoDeployHub/internal/service/orchestrator"

// Fetcher produces a local working copy of a repository branch.
type Fetcher interface {
	Fetch(ctx context.Context, repoURL, branch, hint string) (string, error)
}

// Builder builds an image from a working copy. The captured output is
// returned even when the build fails.
type Builder interface {
	Build(ctx context.Context, dir, imageRef string) (resolved string, output string, err error)
}

// Deployer applies images to cluster workloads. A false result without error
// means the workload was left untouched.
type Deployer interface {
	CreateOrUpdate(ctx context.Context, name, imageRef string) (bool, error)
	UpdateOnly(ctx context.Context, name, imageRef string) (bool, error)
}

// Service sequences fetch, build and deploy for attempts.
type Service struct {
	fetcher   Fetcher
	builder   Builder
	deployer  Deployer
	store     repository.AttemptWriter
	namespace string
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
	tracer    trace.Tracer
	metrics   metrics
}

// Option customises a Service.
type Option func(*options)

type options struct {
	now        func() time.Time
	newID      func() string
	tracer     trace.Tracer
	registerer prometheus.Registerer
}

// WithClock overrides the time source used for log lines and timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator overrides attempt id generation.
func WithIDGenerator(newID func() string) Option {
	return func(o *options) {
		if newID != nil {
			o.newID = newID
		}
	}
}

// WithTracer overrides the tracer used for run and stage spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithMetrics registers the orchestrator collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// New constructs the orchestrator. namespace prefixes every image repository.
func New(fetcher Fetcher, builder Builder, deployer Deployer, store repository.AttemptWriter, namespace string, logger *slog.Logger, opts ...Option) Service {
	o := options{
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return Service{
		fetcher:   fetcher,
		builder:   builder,
		deployer:  deployer,
		store:     store,
		namespace: namespace,
		logger:    logger,
		now:       o.now,
		newID:     o.newID,
		tracer:    o.tracer,
		metrics:   newMetrics(o.registerer),
	}
}
