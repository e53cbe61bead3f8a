package kubernetes

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
	"k8s.io/utils/ptr"
)

func newTestDeployer(replace bool) (*Deployer, *fake.Clientset) {
	client := fake.NewSimpleClientset()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := NewWithClient(client, Config{Namespace: "default", ContainerPort: 8000, ReplaceExisting: replace}, log)
	return d, client
}

func deploymentImage(t *testing.T, client *fake.Clientset, name string) string {
	t.Helper()
	dep, err := client.AppsV1().Deployments("default").Get(context.Background(), name, metav1.GetOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, dep.Spec.Template.Spec.Containers)
	return dep.Spec.Template.Spec.Containers[0].Image
}

func TestCreateOrUpdateCreatesDeploymentAndService(t *testing.T) {
	d, client := newTestDeployer(true)

	ok, err := d.CreateOrUpdate(context.Background(), "Demo", "autodeployhub/demo:deadbee")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, "autodeployhub/demo:deadbee", deploymentImage(t, client, "demo"))
	svc, err := client.CoreV1().Services("default").Get(context.Background(), "demo", metav1.GetOptions{})
	require.NoError(t, err)
	require.Len(t, svc.Spec.Ports, 1)
	assert.Equal(t, int32(8000), svc.Spec.Ports[0].TargetPort.IntVal)
	assert.Equal(t, "demo", svc.Spec.Selector[workloadLabel])
}

func TestCreateOrUpdateReplacesExisting(t *testing.T) {
	d, client := newTestDeployer(true)
	ctx := context.Background()

	_, err := d.CreateOrUpdate(ctx, "demo", "autodeployhub/demo:aaaaaaa")
	require.NoError(t, err)
	ok, err := d.CreateOrUpdate(ctx, "demo", "autodeployhub/demo:bbbbbbb")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "autodeployhub/demo:bbbbbbb", deploymentImage(t, client, "demo"))
}

func TestCreateOrUpdateReportsExistingWhenNotReplacing(t *testing.T) {
	d, client := newTestDeployer(false)
	ctx := context.Background()

	_, err := d.CreateOrUpdate(ctx, "demo", "autodeployhub/demo:aaaaaaa")
	require.NoError(t, err)
	ok, err := d.CreateOrUpdate(ctx, "demo", "autodeployhub/demo:bbbbbbb")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "autodeployhub/demo:aaaaaaa", deploymentImage(t, client, "demo"))
}

func TestCreateOrUpdateSurfacesAPIErrors(t *testing.T) {
	d, client := newTestDeployer(true)
	client.PrependReactor("create", "deployments", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, apierrors.NewForbidden(schema.GroupResource{Group: "apps", Resource: "deployments"}, "demo", nil)
	})

	ok, err := d.CreateOrUpdate(context.Background(), "demo", "autodeployhub/demo:deadbee")
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, apierrors.IsForbidden(err))
}

func TestUpdateOnlyMissingDeployment(t *testing.T) {
	d, _ := newTestDeployer(true)

	ok, err := d.UpdateOnly(context.Background(), "demo", "autodeployhub/demo:targetc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateOnlyPatchesFirstContainer(t *testing.T) {
	d, client := newTestDeployer(true)
	ctx := context.Background()
	_, err := d.CreateOrUpdate(ctx, "demo", "autodeployhub/demo:latest")
	require.NoError(t, err)

	ok, err := d.UpdateOnly(ctx, "demo", "autodeployhub/demo:targetc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "autodeployhub/demo:targetc", deploymentImage(t, client, "demo"))
}

func TestRolloutComplete(t *testing.T) {
	dep := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Generation: 2},
		Spec:       appsv1.DeploymentSpec{Replicas: ptr.To[int32](1)},
		Status:     appsv1.DeploymentStatus{ObservedGeneration: 1, Replicas: 1, UpdatedReplicas: 1, AvailableReplicas: 1},
	}
	assert.False(t, rolloutComplete(dep), "stale observed generation")

	dep.Status.ObservedGeneration = 2
	assert.True(t, rolloutComplete(dep))

	dep.Status.Replicas = 2
	assert.False(t, rolloutComplete(dep), "old replica still running")
}
