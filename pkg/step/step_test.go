package step_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/blackjack-run/blackjack/pkg/blacklog"
	"github.com/blackjack-run/blackjack/pkg/expr"
	"github.com/blackjack-run/blackjack/pkg/k8sapi/k8sapifake"
	"github.com/blackjack-run/blackjack/pkg/spec"
	"github.com/blackjack-run/blackjack/pkg/step"
	"github.com/blackjack-run/blackjack/pkg/vars"
)

func newRunner(gw *k8sapifake.Gateway) *step.Runner {
	return step.New(gw, blacklog.New("test", blacklog.LevelError), 1)
}

func writeManifest(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func pod(ns, name string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1", "kind": "Pod",
		"metadata": map[string]interface{}{"namespace": ns, "name": name},
	}}
}

func TestRunWatchThenWaitSeesAlreadyPresentResources(t *testing.T) {
	gw := k8sapifake.New()
	gw.Seed(pod("ns", "a").GroupVersionKind(), pod("ns", "a"))

	r := newRunner(gw)
	n := uint64(1)
	st := spec.StepSpec{
		Name:  "step-1",
		Watch: []spec.WatchSpec{{Name: "pods", Version: "v1", Kind: "Pod", Namespace: "ns"}},
		Wait:  []spec.WaitSpec{{Target: "pods", TimeoutS: 1, Condition: expr.Expr{Size: &n}}},
	}

	err := r.Run(context.Background(), st, t.TempDir(), vars.Env{})
	assert.NoError(t, err)
}

func TestRunWaitOnUnknownBucketIsSpecError(t *testing.T) {
	r := newRunner(k8sapifake.New())
	st := spec.StepSpec{
		Name: "step-1",
		Wait: []spec.WaitSpec{{Target: "nope", TimeoutS: 0, Condition: expr.Expr{}}},
	}
	err := r.Run(context.Background(), st, t.TempDir(), vars.Env{})
	assert.Error(t, err)
}

func TestRunApplyExpandsDirectoryAndSubstitutesVariables(t *testing.T) {
	gw := k8sapifake.New()
	dir := t.TempDir()
	writeManifest(t, dir, "pod.yaml", "apiVersion: v1\nkind: Pod\nmetadata:\n  name: ${BLACKJACK_POD_NAME}\n")

	r := newRunner(gw)
	st := spec.StepSpec{
		Name: "step-1",
		Apply: []spec.ApplySpec{
			{Path: dir, Namespace: "blackjack-ns"},
		},
	}

	err := r.Run(context.Background(), st, dir, vars.Env{"BLACKJACK_POD_NAME": "web"})
	require.NoError(t, err)
}

func TestRunApplyRejectsBareNamespaceManifest(t *testing.T) {
	gw := k8sapifake.New()
	dir := t.TempDir()
	writeManifest(t, dir, "ns.yaml", "apiVersion: v1\nkind: Namespace\nmetadata:\n  name: oops\n")

	r := newRunner(gw)
	st := spec.StepSpec{
		Name:  "step-1",
		Apply: []spec.ApplySpec{{Path: dir, Namespace: "blackjack-ns"}},
	}

	err := r.Run(context.Background(), st, dir, vars.Env{})
	assert.Error(t, err)
}

func TestRunBucketMaskOnUnknownBucketIsSpecError(t *testing.T) {
	r := newRunner(k8sapifake.New())
	st := spec.StepSpec{
		Name:   "step-1",
		Bucket: []spec.BucketSpec{{Name: "nope", Operations: []spec.BucketOp{spec.BucketOpDelete}}},
	}
	err := r.Run(context.Background(), st, t.TempDir(), vars.Env{})
	assert.Error(t, err)
}

func TestRunDuplicateWatchNameIsSpecError(t *testing.T) {
	r := newRunner(k8sapifake.New())
	st := spec.StepSpec{
		Name: "step-1",
		Watch: []spec.WatchSpec{
			{Name: "pods", Version: "v1", Kind: "Pod", Namespace: "ns"},
			{Name: "pods", Version: "v1", Kind: "Pod", Namespace: "ns"},
		},
	}
	err := r.Run(context.Background(), st, t.TempDir(), vars.Env{})
	assert.Error(t, err)
}

func TestRunSleepRespectsContextCancellation(t *testing.T) {
	r := newRunner(k8sapifake.New())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := spec.StepSpec{Name: "step-1", Sleep: 5}
	err := r.Run(ctx, st, t.TempDir(), vars.Env{})
	assert.Error(t, err)
}
