package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ironsupr/AutoDeployHub/internal/domain"
)

// run accumulates one attempt. Every write lands in memory first and is then
// persisted; the first persistence failure is kept in err and aborts the run
// at the next stage boundary.
type run struct {
	ctx     context.Context
	svc     Service
	attempt *domain.Attempt
	// outcome is the terminal status the attempt will receive on finish.
	outcome  domain.AttemptStatus
	persist  bool
	err      error
	span     trace.Span
	logger   *slog.Logger
	finished bool
}

// begin creates and persists the attempt. When the store rejects it the run
// continues in memory so the caller still receives a terminal attempt.
func (s Service) begin(ctx context.Context, span trace.Span, workloadID, reference string, status domain.AttemptStatus, seed ...string) *run {
	now := s.now()
	attempt := &domain.Attempt{
		ID:         s.newID(),
		WorkloadID: workloadID,
		Reference:  reference,
		Status:     status,
		CreatedAt:  now,
	}
	for _, msg := range seed {
		attempt.Log = append(attempt.Log, domain.LogLine{Seq: len(attempt.Log) + 1, At: now, Message: msg})
	}
	r := &run{
		ctx:     ctx,
		svc:     s,
		attempt: attempt,
		outcome: domain.AttemptFailed,
		persist: true,
		span:    span,
		logger:  s.logger.With("attempt_id", attempt.ID, "workload_id", workloadID),
	}
	span.SetAttributes(attribute.String("attempt.id", attempt.ID))
	if err := storeCall(func() error { return s.store.CreateAttempt(ctx, attempt) }); err != nil {
		r.persist = false
		r.err = &FatalError{Err: fmt.Errorf("create attempt: %w", err)}
		r.logger.Error("persist attempt failed", "error", err)
	}
	return r
}

func (r *run) logf(format string, args ...any) {
	r.append(fmt.Sprintf(format, args...))
}

func (r *run) append(msg string) {
	if r.finished {
		return
	}
	line := domain.LogLine{Seq: len(r.attempt.Log) + 1, At: r.svc.now(), Message: msg}
	r.attempt.Log = append(r.attempt.Log, line)
	if !r.persist {
		return
	}
	if err := storeCall(func() error { return r.svc.store.AppendAttemptLog(r.ctx, r.attempt.ID, line) }); err != nil {
		r.fault(fmt.Errorf("append attempt log: %w", err))
	}
}

// setStatus moves the attempt forward. Terminal statuses are only set by finish.
func (r *run) setStatus(status domain.AttemptStatus) {
	if r.finished || status.Terminal() {
		return
	}
	r.attempt.Status = status
	r.span.AddEvent("status", trace.WithAttributes(attribute.String("status", string(status))))
	if !r.persist {
		return
	}
	if err := storeCall(func() error { return r.svc.store.SetAttemptStatus(r.ctx, r.attempt.ID, status) }); err != nil {
		r.fault(fmt.Errorf("set attempt status: %w", err))
	}
}

func (r *run) fault(err error) {
	r.logger.Error("persist attempt failed", "error", err)
	if r.err == nil {
		r.err = &FatalError{Err: err}
	}
}

// checkpoint returns the first persistence failure, if any.
func (r *run) checkpoint() error {
	return r.err
}

// buildBlock appends the captured build output between delimiter lines.
func (r *run) buildBlock(output string) {
	r.append("--- DOCKER BUILD LOGS ---")
	r.append(output)
	r.append("-------------------------")
}

// storeCall invokes a store write, turning a panic into an error.
func storeCall(write func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("store panic: %v", p)
		}
	}()
	return write()
}

// guard runs body and converts a panic into a FatalError.
func (r *run) guard(body func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("orchestrator run panicked", "panic", p)
			err = &FatalError{Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	if err := r.checkpoint(); err != nil {
		return err
	}
	return body()
}

// finish records a failure, writes the closing line and makes the attempt
// terminal. Store errors here are logged and otherwise ignored.
func (r *run) finish(kind string, failure error, closing string) *domain.Attempt {
	if failure != nil {
		r.outcome = domain.AttemptFailed
		r.span.RecordError(failure)
		r.logger.Warn("attempt failed", "kind", kind, "class", string(Classify(failure)), "error", failure)
		r.append("FATAL ERROR: " + failure.Error())
	}
	r.append(fmt.Sprintf("%s %s", closing, r.outcome))

	r.finished = true
	finishedAt := r.svc.now()
	r.attempt.Status = r.outcome
	r.attempt.FinishedAt = &finishedAt
	if r.persist {
		if err := storeCall(func() error { return r.svc.store.SetAttemptStatus(r.ctx, r.attempt.ID, r.outcome) }); err != nil {
			r.logger.Error("persist terminal status failed", "error", err)
		}
		if err := storeCall(func() error { return r.svc.store.SetAttemptFinishedAt(r.ctx, r.attempt.ID, finishedAt) }); err != nil {
			r.logger.Error("persist finish time failed", "error", err)
		}
	}

	r.span.SetAttributes(attribute.String("attempt.status", string(r.outcome)))
	if r.outcome == domain.AttemptFailed {
		r.span.SetStatus(codes.Error, "attempt failed")
	} else {
		r.span.SetStatus(codes.Ok, "")
	}
	r.svc.metrics.recordAttempt(kind, string(r.outcome))
	r.logger.Info("attempt finished", "kind", kind, "status", string(r.outcome), "reference", r.attempt.Reference)

	out := r.attempt.Clone()
	return &out
}

// stage wraps a collaborator call in a child span and records its duration.
func (s Service) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "orchestrator."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.metrics.observeStage(name, outcome, time.Since(start))
	return err
}
