package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ironsupr/AutoDeployHub/internal/domain"
	"github.com/ironsupr/AutoDeployHub/internal/repository/memory"
)

type fakeFetcher struct {
	dir   string
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, repoURL, branch, hint string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.dir, nil
}

type fakeBuilder struct {
	output string
	err    error
	panics bool
	calls  []string
}

func (f *fakeBuilder) Build(_ context.Context, dir, imageRef string) (string, string, error) {
	f.calls = append(f.calls, imageRef)
	if f.panics {
		panic("boom")
	}
	if f.err != nil {
		return "", f.output, f.err
	}
	return imageRef, f.output, nil
}

type deployCall struct {
	name  string
	image string
}

type fakeDeployer struct {
	createOK    bool
	createErr   error
	updateOK    bool
	updateErr   error
	createCalls []deployCall
	updateCalls []deployCall
}

func (f *fakeDeployer) CreateOrUpdate(_ context.Context, name, image string) (bool, error) {
	f.createCalls = append(f.createCalls, deployCall{name, image})
	return f.createOK, f.createErr
}

func (f *fakeDeployer) UpdateOnly(_ context.Context, name, image string) (bool, error) {
	f.updateCalls = append(f.updateCalls, deployCall{name, image})
	return f.updateOK, f.updateErr
}

// recordingStore wraps the memory repository, recording status writes and
// optionally failing selected operations.
type recordingStore struct {
	*memory.Repository
	mu         sync.Mutex
	statuses   []domain.AttemptStatus
	createErr  error
	appendErr  error
	appendSeen int
	failAfter  int
}

func (s *recordingStore) CreateAttempt(ctx context.Context, attempt *domain.Attempt) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	s.statuses = append(s.statuses, attempt.Status)
	s.mu.Unlock()
	return s.Repository.CreateAttempt(ctx, attempt)
}

func (s *recordingStore) AppendAttemptLog(ctx context.Context, attemptID string, line domain.LogLine) error {
	s.mu.Lock()
	s.appendSeen++
	fail := s.appendErr != nil && s.appendSeen > s.failAfter
	s.mu.Unlock()
	if fail {
		return s.appendErr
	}
	return s.Repository.AppendAttemptLog(ctx, attemptID, line)
}

func (s *recordingStore) SetAttemptStatus(ctx context.Context, attemptID string, status domain.AttemptStatus) error {
	s.mu.Lock()
	s.statuses = append(s.statuses, status)
	s.mu.Unlock()
	return s.Repository.SetAttemptStatus(ctx, attemptID, status)
}

// crashingStore panics inside the named write.
type crashingStore struct {
	*recordingStore
	panicOn string
}

func (s *crashingStore) CreateAttempt(ctx context.Context, attempt *domain.Attempt) error {
	if s.panicOn == "create" {
		panic("store driver crashed")
	}
	return s.recordingStore.CreateAttempt(ctx, attempt)
}

func (s *crashingStore) SetAttemptFinishedAt(ctx context.Context, attemptID string, at time.Time) error {
	if s.panicOn == "finish" {
		panic("store driver crashed")
	}
	return s.recordingStore.SetAttemptFinishedAt(ctx, attemptID, at)
}

var demo = domain.Workload{ID: "w1", Name: "demo", RepoURL: "https://example.com/demo.git", Branch: "main"}

type harness struct {
	svc      Service
	fetcher  *fakeFetcher
	builder  *fakeBuilder
	deployer *fakeDeployer
	store    *recordingStore
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	repo := memory.New()
	require.NoError(t, repo.CreateWorkload(context.Background(), &demo))

	h := &harness{
		fetcher:  &fakeFetcher{dir: "/tmp/autodeployhub/demo"},
		builder:  &fakeBuilder{output: "Step 1/1 : FROM scratch\n"},
		deployer: &fakeDeployer{createOK: true, updateOK: true},
		store:    &recordingStore{Repository: repo},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := []Option{WithClock(func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) })}
	h.svc = New(h.fetcher, h.builder, h.deployer, h.store, "autodeployhub", log, append(base, opts...)...)
	return h
}

func messages(a *domain.Attempt) []string {
	out := make([]string, 0, len(a.Log))
	for _, line := range a.Log {
		out = append(out, line.Message)
	}
	return out
}

func indexOf(lines []string, want string) int {
	for i, line := range lines {
		if strings.Contains(line, want) {
			return i
		}
	}
	return -1
}

func assertTerminal(t *testing.T, a *domain.Attempt, status domain.AttemptStatus) {
	t.Helper()
	require.NotNil(t, a)
	assert.Equal(t, status, a.Status)
	require.NotNil(t, a.FinishedAt)
	require.NotEmpty(t, a.Log)
	last := a.Log[len(a.Log)-1].Message
	assert.True(t, strings.HasSuffix(last, "status: "+string(status)), "last line %q", last)
}

func TestRunDeploymentSuccess(t *testing.T) {
	h := newHarness(t)

	attempt := h.svc.RunDeployment(context.Background(), demo, "deadbeef1234")

	assertTerminal(t, attempt, domain.AttemptSuccess)
	assert.Equal(t, "deadbeef1234", attempt.Reference)
	assert.Equal(t, []string{"autodeployhub/demo:deadbee"}, h.builder.calls)
	assert.Equal(t, []deployCall{{"demo", "autodeployhub/demo:deadbee"}}, h.deployer.createCalls)

	lines := messages(attempt)
	fetched := indexOf(lines, "Clone successful.")
	built := indexOf(lines, "Image built successfully: autodeployhub/demo:deadbee")
	deployed := indexOf(lines, "Kubernetes deployment/update applied successfully.")
	require.True(t, fetched >= 0 && built > fetched && deployed > built, "unexpected order: %v", lines)
	assert.Equal(t, "Starting deployment for demo...", lines[0])
	assert.Equal(t, "Cloning repository: https://example.com/demo.git (branch: main)", lines[1])
	assert.Contains(t, lines, "Step 1/1 : FROM scratch\n")

	stored, err := h.store.GetAttemptByID(context.Background(), attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, attempt.Status, stored.Status)
	assert.Equal(t, messages(attempt), messages(stored))
	assert.Equal(t, attempt.FinishedAt, stored.FinishedAt)
}

func TestRunDeploymentStatusesAreMonotonic(t *testing.T) {
	h := newHarness(t)

	h.svc.RunDeployment(context.Background(), demo, "deadbeef1234")

	assert.Equal(t, []domain.AttemptStatus{
		domain.AttemptBuilding,
		domain.AttemptBuilding,
		domain.AttemptDeploying,
		domain.AttemptSuccess,
	}, h.store.statuses)
}

func TestRunDeploymentFetchFailure(t *testing.T) {
	h := newHarness(t)
	h.fetcher.err = errors.New("branch not found")

	attempt := h.svc.RunDeployment(context.Background(), demo, "deadbeef1234")

	assertTerminal(t, attempt, domain.AttemptFailed)
	assert.Contains(t, messages(attempt), "FATAL ERROR: branch not found")
	assert.Empty(t, h.builder.calls)
	assert.Empty(t, h.deployer.createCalls)
	assert.NotContains(t, h.store.statuses, domain.AttemptDeploying)
}

func TestRunDeploymentBuildFailure(t *testing.T) {
	h := newHarness(t)
	h.builder.output = "Step 1/2 : RUN make\nmake: *** [all] Error 2\n"
	h.builder.err = errors.New("docker build failed: returned a non-zero code: 2")

	attempt := h.svc.RunDeployment(context.Background(), demo, "deadbeef1234")

	assertTerminal(t, attempt, domain.AttemptFailed)
	lines := messages(attempt)
	assert.Contains(t, lines, "--- DOCKER BUILD LOGS ---")
	assert.Contains(t, lines, "-------------------------")
	assert.Contains(t, lines, h.builder.output)
	assert.Contains(t, lines, "FATAL ERROR: docker build failed: returned a non-zero code: 2")
	assert.Empty(t, h.deployer.createCalls)
}

func TestRunDeploymentDeployerSkip(t *testing.T) {
	h := newHarness(t)
	h.deployer.createOK = false

	attempt := h.svc.RunDeployment(context.Background(), demo, "deadbeef1234")

	assertTerminal(t, attempt, domain.AttemptFailed)
	assert.Contains(t, messages(attempt), "ERROR: Kubernetes deployment failed.")
	assert.Equal(t, -1, indexOf(messages(attempt), "FATAL ERROR"))
}

func TestRunDeploymentClusterError(t *testing.T) {
	h := newHarness(t)
	h.deployer.createErr = errors.New("connection refused")

	attempt := h.svc.RunDeployment(context.Background(), demo, "deadbeef1234")

	assertTerminal(t, attempt, domain.AttemptFailed)
	assert.Contains(t, messages(attempt), "FATAL ERROR: connection refused")
}

func TestRunDeploymentManualReferenceUsesLatest(t *testing.T) {
	h := newHarness(t)

	attempt := h.svc.RunDeployment(context.Background(), domain.Workload{ID: "w1", Name: "Demo", RepoURL: demo.RepoURL, Branch: "main"}, "manual")

	assertTerminal(t, attempt, domain.AttemptSuccess)
	assert.Equal(t, []string{"autodeployhub/demo:latest"}, h.builder.calls)
	assert.Equal(t, "demo", h.deployer.createCalls[0].name)
}

func TestRunDeploymentToleratesEmptyBuildOutput(t *testing.T) {
	h := newHarness(t)
	h.builder.output = ""

	attempt := h.svc.RunDeployment(context.Background(), demo, "abc1234567")

	assertTerminal(t, attempt, domain.AttemptSuccess)
	lines := messages(attempt)
	start := indexOf(lines, "--- DOCKER BUILD LOGS ---")
	require.GreaterOrEqual(t, start, 0)
	assert.Equal(t, "", lines[start+1])
	assert.Equal(t, "-------------------------", lines[start+2])
}

func TestRunDeploymentRecoversPanics(t *testing.T) {
	h := newHarness(t)
	h.builder.panics = true

	attempt := h.svc.RunDeployment(context.Background(), demo, "deadbeef1234")

	assertTerminal(t, attempt, domain.AttemptFailed)
	assert.Contains(t, messages(attempt), "FATAL ERROR: panic: boom")
	assert.Empty(t, h.deployer.createCalls)
}

func TestRunDeploymentCreateFailureStillTerminal(t *testing.T) {
	h := newHarness(t)
	h.store.createErr = errors.New("database unavailable")

	attempt := h.svc.RunDeployment(context.Background(), demo, "deadbeef1234")

	assertTerminal(t, attempt, domain.AttemptFailed)
	assert.Contains(t, messages(attempt), "FATAL ERROR: create attempt: database unavailable")
	assert.Zero(t, h.fetcher.calls)
}

func TestRunDeploymentStorePanicOnCreateStillTerminal(t *testing.T) {
	h := newHarness(t)
	store := &crashingStore{recordingStore: h.store, panicOn: "create"}
	svc := New(h.fetcher, h.builder, h.deployer, store, "autodeployhub", nil)

	var attempt *domain.Attempt
	require.NotPanics(t, func() {
		attempt = svc.RunDeployment(context.Background(), demo, "deadbeef1234")
	})

	assertTerminal(t, attempt, domain.AttemptFailed)
	assert.Contains(t, messages(attempt), "FATAL ERROR: create attempt: store panic: store driver crashed")
	assert.Zero(t, h.fetcher.calls)
}

func TestRunStorePanicOnFinishIsContained(t *testing.T) {
	h := newHarness(t)
	store := &crashingStore{recordingStore: h.store, panicOn: "finish"}
	svc := New(h.fetcher, h.builder, h.deployer, store, "autodeployhub", nil)

	var deployed, rolledBack *domain.Attempt
	require.NotPanics(t, func() {
		deployed = svc.RunDeployment(context.Background(), demo, "deadbeef1234")
		rolledBack = svc.RunRollback(context.Background(), demo, domain.Attempt{ID: "a1", Reference: "deadbeef1234"})
	})

	assertTerminal(t, deployed, domain.AttemptSuccess)
	assertTerminal(t, rolledBack, domain.AttemptSuccess)

	stored, err := h.store.GetAttemptByID(context.Background(), deployed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptSuccess, stored.Status)
}

func TestRunDeploymentStoreFailureAbortsRun(t *testing.T) {
	h := newHarness(t)
	h.store.appendErr = errors.New("disk full")

	attempt := h.svc.RunDeployment(context.Background(), demo, "deadbeef1234")

	assertTerminal(t, attempt, domain.AttemptFailed)
	assert.Zero(t, h.fetcher.calls)
	assert.NotEqual(t, -1, indexOf(messages(attempt), "FATAL ERROR: append attempt log: disk full"))

	stored, err := h.store.GetAttemptByID(context.Background(), attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptFailed, stored.Status)
	assert.NotNil(t, stored.FinishedAt)
}

func TestRunDeploymentIgnoresCallerCancellation(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempt := h.svc.RunDeployment(ctx, demo, "deadbeef1234")

	assertTerminal(t, attempt, domain.AttemptSuccess)
}

func TestRunRollbackSuccess(t *testing.T) {
	h := newHarness(t)
	target := domain.Attempt{ID: "a-target", WorkloadID: "w1", Reference: "targetcommithash", Status: domain.AttemptSuccess}

	attempt := h.svc.RunRollback(context.Background(), demo, target)

	assertTerminal(t, attempt, domain.AttemptSuccess)
	assert.Contains(t, attempt.Reference, "targetc")
	assert.Equal(t, "ROLLBACK-targetc", attempt.Reference)
	assert.Equal(t, []deployCall{{"demo", "autodeployhub/demo:targetc"}}, h.deployer.updateCalls)
	assert.Zero(t, h.fetcher.calls)
	assert.Empty(t, h.builder.calls)
	assert.Empty(t, h.deployer.createCalls)

	lines := messages(attempt)
	assert.Contains(t, lines[0], "targetcommithash")
	assert.NotEqual(t, -1, indexOf(lines, "Successfully patched Kubernetes deployment"))
	assert.Equal(t, []domain.AttemptStatus{domain.AttemptDeploying, domain.AttemptSuccess}, h.store.statuses)
}

func TestRunRollbackPatchFailure(t *testing.T) {
	h := newHarness(t)
	h.deployer.updateOK = false

	attempt := h.svc.RunRollback(context.Background(), demo, domain.Attempt{ID: "a1", Reference: "targetcommithash"})

	assertTerminal(t, attempt, domain.AttemptFailed)
	assert.Contains(t, messages(attempt), "ERROR: Failed to patch Kubernetes deployment.")
	assert.Len(t, h.deployer.updateCalls, 1)
}

func TestRunRollbackClusterError(t *testing.T) {
	h := newHarness(t)
	h.deployer.updateErr = errors.New("forbidden")

	attempt := h.svc.RunRollback(context.Background(), demo, domain.Attempt{ID: "a1", Reference: "targetcommithash"})

	assertTerminal(t, attempt, domain.AttemptFailed)
	assert.Contains(t, messages(attempt), "FATAL ERROR: forbidden")
}

func TestRunRollbackOfManualDeploymentUsesLatest(t *testing.T) {
	h := newHarness(t)

	attempt := h.svc.RunRollback(context.Background(), demo, domain.Attempt{ID: "a1", Reference: "manual"})

	assertTerminal(t, attempt, domain.AttemptSuccess)
	assert.Equal(t, []deployCall{{"demo", "autodeployhub/demo:latest"}}, h.deployer.updateCalls)
}

func TestRunEmitsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	h := newHarness(t, WithTracer(provider.Tracer("test")))
	h.fetcher.err = errors.New("branch not found")

	h.svc.RunDeployment(context.Background(), demo, "deadbeef1234")

	names := map[string]bool{}
	for _, span := range recorder.Ended() {
		names[span.Name()] = true
	}
	assert.True(t, names["orchestrator.deployment"])
	assert.True(t, names["orchestrator.fetch"])
	assert.False(t, names["orchestrator.build"])
}

func TestRunRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newHarness(t, WithMetrics(reg))

	h.svc.RunDeployment(context.Background(), demo, "deadbeef1234")
	h.deployer.updateOK = false
	h.svc.RunRollback(context.Background(), demo, domain.Attempt{ID: "a1", Reference: "deadbeef1234"})

	assert.Equal(t, 1.0, testutil.ToFloat64(h.svc.metrics.attempts.WithLabelValues("deployment", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.svc.metrics.attempts.WithLabelValues("rollback", "failed")))

	again := New(h.fetcher, h.builder, h.deployer, h.store, "autodeployhub", nil, WithMetrics(reg))
	assert.Same(t, h.svc.metrics.attempts, again.metrics.attempts)
}

func TestClassify(t *testing.T) {
	cause := errors.New("cause")
	assert.Equal(t, KindNone, Classify(nil))
	assert.Equal(t, KindFetch, Classify(&FetchError{Err: cause}))
	assert.Equal(t, KindBuild, Classify(&BuildError{Err: cause}))
	assert.Equal(t, KindCluster, Classify(&ClusterError{Err: cause}))
	assert.Equal(t, KindFatal, Classify(&FatalError{Err: cause}))
	assert.Equal(t, KindFatal, Classify(cause))
	assert.ErrorIs(t, &BuildError{Err: cause}, cause)
}
