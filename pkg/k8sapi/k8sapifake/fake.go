// Package k8sapifake is an in-memory k8sapi.Gateway used by tests of
// components layered above the gateway (reflector, step runner, test
// runner, scheduler) so they can run without a real cluster.
package k8sapifake

import (
	"context"
	"fmt"
	"sync"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/blackjack-run/blackjack/pkg/k8sapi"
)

type objKey struct {
	namespace string
	name      string
}

// Gateway is an in-memory k8sapi.Gateway.
type Gateway struct {
	mu         sync.Mutex
	objects    map[schema.GroupVersionKind]map[objKey]*unstructured.Unstructured
	watchers   map[schema.GroupVersionKind][]*watch.FakeWatcher
	namespaces map[string]bool
}

// New creates an empty fake gateway.
func New() *Gateway {
	return &Gateway{
		objects:    make(map[schema.GroupVersionKind]map[objKey]*unstructured.Unstructured),
		watchers:   make(map[schema.GroupVersionKind][]*watch.FakeWatcher),
		namespaces: make(map[string]bool),
	}
}

func gvkOf(obj *unstructured.Unstructured) schema.GroupVersionKind {
	return obj.GroupVersionKind()
}

// Seed pre-populates the store for gvk without emitting any watch event,
// simulating resources that existed before a watch's initial list.
func (g *Gateway) Seed(gvk schema.GroupVersionKind, obj *unstructured.Unstructured) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.putLocked(gvk, obj)
}

func (g *Gateway) putLocked(gvk schema.GroupVersionKind, obj *unstructured.Unstructured) {
	if g.objects[gvk] == nil {
		g.objects[gvk] = make(map[objKey]*unstructured.Unstructured)
	}
	g.objects[gvk][objKey{namespace: obj.GetNamespace(), name: obj.GetName()}] = obj.DeepCopy()
}

// Emit sends a watch.Event of eventType for obj to every active watcher of
// obj's GVK, and mutates the backing store to match (so a subsequent
// ListAndWatch sees consistent state).
func (g *Gateway) Emit(eventType watch.EventType, obj *unstructured.Unstructured) {
	gvk := gvkOf(obj)

	g.mu.Lock()
	switch eventType {
	case watch.Added, watch.Modified:
		g.putLocked(gvk, obj)
	case watch.Deleted:
		if g.objects[gvk] != nil {
			delete(g.objects[gvk], objKey{namespace: obj.GetNamespace(), name: obj.GetName()})
		}
	}
	watchers := append([]*watch.FakeWatcher(nil), g.watchers[gvk]...)
	g.mu.Unlock()

	for _, w := range watchers {
		if w.IsStopped() {
			continue
		}
		func() {
			// A watcher stopped while this send is pending closes its
			// channel; the event is dropped for that watcher.
			defer func() { _ = recover() }()
			w.Action(eventType, obj.DeepCopy())
		}()
	}
}

func (g *Gateway) ListAndWatch(_ context.Context, gvk schema.GroupVersionKind, namespace string, _ k8sapi.Selector) ([]*unstructured.Unstructured, watch.Interface, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var items []*unstructured.Unstructured
	for k, obj := range g.objects[gvk] {
		if namespace != "" && k.namespace != namespace {
			continue
		}
		items = append(items, obj.DeepCopy())
	}

	w := watch.NewFake()
	g.watchers[gvk] = append(g.watchers[gvk], w)

	return items, w, nil
}

func (g *Gateway) Apply(_ context.Context, obj *unstructured.Unstructured) error {
	g.Emit(watch.Modified, obj)
	return nil
}

func (g *Gateway) Delete(_ context.Context, obj *unstructured.Unstructured) error {
	g.Emit(watch.Deleted, obj)
	return nil
}

func (g *Gateway) CreateNamespace(_ context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.namespaces[name] {
		return fmt.Errorf("namespace %q already exists", name)
	}
	g.namespaces[name] = true
	return nil
}

func (g *Gateway) DeleteNamespace(_ context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.namespaces, name)
	return nil
}

func (g *Gateway) NamespaceExists(_ context.Context, name string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.namespaces[name], nil
}

var _ k8sapi.Gateway = (*Gateway)(nil)
