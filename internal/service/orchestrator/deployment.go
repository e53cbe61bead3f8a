package orchestrator

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ironsupr/AutoDeployHub/internal/domain"
	"github.com/ironsupr/AutoDeployHub/internal/imageref"
)

// RunDeployment fetches, builds and deploys reference for the workload and
// returns the terminal attempt. It never returns a non-terminal attempt and
// ignores cancellation of ctx once started.
func (s Service) RunDeployment(ctx context.Context, workload domain.Workload, reference string) *domain.Attempt {
	ctx, span := s.tracer.Start(context.WithoutCancel(ctx), "orchestrator.deployment", trace.WithAttributes(
		attribute.String("workload.id", workload.ID),
		attribute.String("workload.name", workload.Name),
		attribute.String("reference", reference),
	))
	defer span.End()

	r := s.begin(ctx, span, workload.ID, reference, domain.AttemptBuilding)
	err := r.guard(func() error {
		return s.deploy(ctx, r, workload, reference)
	})
	return r.finish("deployment", err, "Deployment process finished with status:")
}

func (s Service) deploy(ctx context.Context, r *run, workload domain.Workload, reference string) error {
	r.logf("Starting deployment for %s...", workload.Name)
	r.logf("Cloning repository: %s (branch: %s)", workload.RepoURL, workload.Branch)
	if err := r.checkpoint(); err != nil {
		return err
	}

	var dir string
	err := s.stage(ctx, "fetch", func(ctx context.Context) error {
		var err error
		dir, err = s.fetcher.Fetch(ctx, workload.RepoURL, workload.Branch, workload.Name)
		return err
	})
	if err != nil {
		return &FetchError{Err: err}
	}
	r.logf("Clone successful.")

	image, err := imageref.For(s.namespace, workload.Name, reference)
	if err != nil {
		return &FatalError{Err: err}
	}
	r.logf("Building Docker image: %s", image)
	r.setStatus(domain.AttemptBuilding)
	if err := r.checkpoint(); err != nil {
		return err
	}

	var resolved, output string
	err = s.stage(ctx, "build", func(ctx context.Context) error {
		var err error
		resolved, output, err = s.builder.Build(ctx, dir, image)
		return err
	})
	r.buildBlock(output)
	if err != nil {
		return &BuildError{Output: output, Err: err}
	}
	if resolved == "" {
		resolved = image
	}
	r.logf("Image built successfully: %s", resolved)

	r.setStatus(domain.AttemptDeploying)
	r.logf("Deploying to Kubernetes cluster...")
	if err := r.checkpoint(); err != nil {
		return err
	}

	var applied bool
	err = s.stage(ctx, "deploy", func(ctx context.Context) error {
		var err error
		applied, err = s.deployer.CreateOrUpdate(ctx, strings.ToLower(workload.Name), resolved)
		return err
	})
	if err != nil {
		return &ClusterError{Err: err}
	}
	if !applied {
		r.logf("ERROR: Kubernetes deployment failed.")
		r.outcome = domain.AttemptFailed
		return r.checkpoint()
	}
	r.logf("Kubernetes deployment/update applied successfully.")
	r.outcome = domain.AttemptSuccess
	return r.checkpoint()
}
