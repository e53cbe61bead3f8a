package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ironsupr/AutoDeployHub/internal/domain"
	"github.com/ironsupr/AutoDeployHub/internal/imageref"
)

// RunRollback points the workload back at the image built for target and
// returns the terminal rollback attempt. No fetch or build happens. Callers
// must only pass attempts that finished with status success.
func (s Service) RunRollback(ctx context.Context, workload domain.Workload, target domain.Attempt) *domain.Attempt {
	reference := imageref.RollbackReference(target.Reference)
	ctx, span := s.tracer.Start(context.WithoutCancel(ctx), "orchestrator.rollback", trace.WithAttributes(
		attribute.String("workload.id", workload.ID),
		attribute.String("workload.name", workload.Name),
		attribute.String("target.id", target.ID),
		attribute.String("reference", reference),
	))
	defer span.End()

	seed := fmt.Sprintf("Rolling back to deployment %s (attempt %s)", target.Reference, target.ID)
	r := s.begin(ctx, span, workload.ID, reference, domain.AttemptDeploying, seed)
	err := r.guard(func() error {
		return s.rollback(ctx, r, workload, target)
	})
	return r.finish("rollback", err, "Rollback process finished with status:")
}

func (s Service) rollback(ctx context.Context, r *run, workload domain.Workload, target domain.Attempt) error {
	image, err := imageref.For(s.namespace, workload.Name, target.Reference)
	if err != nil {
		return &FatalError{Err: err}
	}
	name := strings.ToLower(workload.Name)
	r.logf("Patching Kubernetes deployment %s with image %s", name, image)
	if err := r.checkpoint(); err != nil {
		return err
	}

	var patched bool
	err = s.stage(ctx, "update", func(ctx context.Context) error {
		var err error
		patched, err = s.deployer.UpdateOnly(ctx, name, image)
		return err
	})
	if err != nil {
		return &ClusterError{Err: err}
	}
	if !patched {
		r.logf("ERROR: Failed to patch Kubernetes deployment.")
		r.outcome = domain.AttemptFailed
		return r.checkpoint()
	}
	r.logf("Successfully patched Kubernetes deployment.")
	r.outcome = domain.AttemptSuccess
	return r.checkpoint()
}
