package reflector_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/blackjack-run/blackjack/pkg/blacklog"
	"github.com/blackjack-run/blackjack/pkg/bucket"
	"github.com/blackjack-run/blackjack/pkg/k8sapi/k8sapifake"
	"github.com/blackjack-run/blackjack/pkg/reflector"
	"github.com/blackjack-run/blackjack/pkg/spec"
)

func pod(ns, name string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Pod",
		"metadata":   map[string]interface{}{"namespace": ns, "name": name},
	}}
}

func TestReflectorObservesInitialListBeforeStartReturns(t *testing.T) {
	gw := k8sapifake.New()
	gw.Seed(pod("ns", "a").GroupVersionKind(), pod("ns", "a"))
	gw.Seed(pod("ns", "b").GroupVersionKind(), pod("ns", "b"))

	b := bucket.New()
	ws := spec.WatchSpec{Name: "pods", Group: "", Version: "v1", Kind: "Pod", Namespace: "ns"}
	r := reflector.New(gw, ws, b, blacklog.New("test", blacklog.LevelError))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Start(ctx)
	assert.Equal(t, 2, b.Len())
}

func TestReflectorFeedsLiveEvents(t *testing.T) {
	gw := k8sapifake.New()
	b := bucket.New()
	ws := spec.WatchSpec{Version: "v1", Kind: "Pod", Namespace: "ns"}
	r := reflector.New(gw, ws, b, blacklog.New("test", blacklog.LevelError))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Start(ctx)
	assert.Equal(t, 0, b.Len())

	gw.Emit(watch.Added, pod("ns", "a"))
	require.Eventually(t, func() bool { return b.Len() == 1 }, time.Second, 5*time.Millisecond)

	gw.Emit(watch.Deleted, pod("ns", "a"))
	require.Eventually(t, func() bool { return b.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestReflectorStopsOnCancel(t *testing.T) {
	gw := k8sapifake.New()
	b := bucket.New()
	ws := spec.WatchSpec{Version: "v1", Kind: "Pod", Namespace: "ns"}
	r := reflector.New(gw, ws, b, blacklog.New("test", blacklog.LevelError))

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	cancel()

	// Must not panic or hang when events race with cancellation.
	gw.Emit(watch.Added, pod("ns", "a"))
	time.Sleep(10 * time.Millisecond)
}
