// Package k8sapi is the single seam through which blackjack reaches a
// Kubernetes cluster: generic GVK-addressed watch, apply/delete and
// namespace lifecycle. Nothing above this package imports client-go
// directly.
package k8sapi

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Gateway is the external collaborator contract: generic apply/delete,
// generic GVK-addressed watch with label/field selectors, namespace
// create/delete. No typed clients per GVK are required.
type Gateway interface {
	// ListAndWatch resolves gvk to a GroupVersionResource, lists the
	// current matching resources in namespace, and opens a watch
	// continuing from the list's resource version. Used exclusively by
	// the watch reflector.
	ListAndWatch(ctx context.Context, gvk schema.GroupVersionKind, namespace string, sel Selector) ([]*unstructured.Unstructured, watch.Interface, error)

	// Apply creates obj if it does not exist, or updates it (carrying
	// forward the live resourceVersion) if it does.
	Apply(ctx context.Context, obj *unstructured.Unstructured) error

	// Delete removes obj. A not-found error is not surfaced as a failure.
	Delete(ctx context.Context, obj *unstructured.Unstructured) error

	// CreateNamespace creates namespace name and blocks until the request
	// is accepted by the API server (not until it is Active).
	CreateNamespace(ctx context.Context, name string) error

	// DeleteNamespace issues namespace deletion in the background and
	// returns without waiting for the API server's response or for
	// cluster-side teardown to finish (fire-and-forget, per §4.7).
	DeleteNamespace(ctx context.Context, name string) error

	// NamespaceExists reports whether name is already live, used by the
	// test runner's namespace-name collision check.
	NamespaceExists(ctx context.Context, name string) (bool, error)
}

// Selector narrows a watch/list to matching label and field selectors.
type Selector struct {
	Labels map[string]string
	Fields map[string]string
}

func (s Selector) labelSelector() string {
	if len(s.Labels) == 0 {
		return ""
	}
	return labels.SelectorFromSet(s.Labels).String()
}

func (s Selector) fieldSelector() string {
	if len(s.Fields) == 0 {
		return ""
	}
	set := fields.Set(s.Fields)
	return set.AsSelector().String()
}

type gateway struct {
	dynamicClient   dynamic.Interface
	discoveryClient discovery.DiscoveryInterface
	ctrlClient      client.Client
}

// New builds a Gateway from a rest.Config, wiring a dynamic client and a
// discovery client for GVK resolution/watch, and a controller-runtime
// client for apply/delete/namespace lifecycle.
func New(cfg *rest.Config) (Gateway, error) {
	dyn, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("building dynamic client: %w", err)
	}
	disc, err := discovery.NewDiscoveryClientForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("building discovery client: %w", err)
	}
	ctrl, err := client.New(cfg, client.Options{})
	if err != nil {
		return nil, fmt.Errorf("building controller-runtime client: %w", err)
	}
	return &gateway{dynamicClient: dyn, discoveryClient: disc, ctrlClient: ctrl}, nil
}

func (g *gateway) resolveGVR(gvk schema.GroupVersionKind) (schema.GroupVersionResource, bool, error) {
	resourceLists, err := g.discoveryClient.ServerPreferredResources()
	if err != nil && len(resourceLists) == 0 {
		return schema.GroupVersionResource{}, false, fmt.Errorf("discovering API resources: %w", err)
	}

	for _, rl := range resourceLists {
		if rl == nil {
			continue
		}
		gv, parseErr := schema.ParseGroupVersion(rl.GroupVersion)
		if parseErr != nil || gv.Group != gvk.Group || gv.Version != gvk.Version {
			continue
		}
		for _, r := range rl.APIResources {
			if r.Kind == gvk.Kind {
				return schema.GroupVersionResource{Group: gv.Group, Version: gv.Version, Resource: r.Name}, r.Namespaced, nil
			}
		}
	}
	return schema.GroupVersionResource{}, false, fmt.Errorf("unknown resource kind %s in group %q version %q", gvk.Kind, gvk.Group, gvk.Version)
}

func (g *gateway) ListAndWatch(ctx context.Context, gvk schema.GroupVersionKind, namespace string, sel Selector) ([]*unstructured.Unstructured, watch.Interface, error) {
	gvr, namespaced, err := g.resolveGVR(gvk)
	if err != nil {
		return nil, nil, err
	}

	var ri dynamic.ResourceInterface
	if namespaced && namespace != "" {
		ri = g.dynamicClient.Resource(gvr).Namespace(namespace)
	} else {
		ri = g.dynamicClient.Resource(gvr)
	}

	listOpts := metav1.ListOptions{
		LabelSelector: sel.labelSelector(),
		FieldSelector: sel.fieldSelector(),
	}

	list, err := ri.List(ctx, listOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("listing %s: %w", gvr.Resource, err)
	}

	items := make([]*unstructured.Unstructured, 0, len(list.Items))
	for i := range list.Items {
		items = append(items, &list.Items[i])
	}

	watchOpts := listOpts
	watchOpts.ResourceVersion = list.GetResourceVersion()
	watchOpts.Watch = true

	w, err := ri.Watch(ctx, watchOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("watching %s: %w", gvr.Resource, err)
	}

	return items, w, nil
}

func (g *gateway) Apply(ctx context.Context, obj *unstructured.Unstructured) error {
	existing := obj.DeepCopy()
	err := g.ctrlClient.Get(ctx, client.ObjectKeyFromObject(obj), existing)
	if err != nil {
		return g.ctrlClient.Create(ctx, obj)
	}
	obj.SetResourceVersion(existing.GetResourceVersion())
	return g.ctrlClient.Update(ctx, obj)
}

func (g *gateway) Delete(ctx context.Context, obj *unstructured.Unstructured) error {
	err := g.ctrlClient.Delete(ctx, obj)
	if client.IgnoreNotFound(err) != nil {
		return err
	}
	return nil
}

func (g *gateway) CreateNamespace(ctx context.Context, name string) error {
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name}}
	return g.ctrlClient.Create(ctx, ns)
}

func (g *gateway) DeleteNamespace(ctx context.Context, name string) error {
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name}}
	// Fire-and-forget: spawn the delete with a background context so the
	// caller's teardown is never blocked on cluster-side completion.
	go func() {
		_ = client.IgnoreNotFound(g.ctrlClient.Delete(context.Background(), ns))
	}()
	return nil
}

func (g *gateway) NamespaceExists(ctx context.Context, name string) (bool, error) {
	var ns corev1.Namespace
	err := g.ctrlClient.Get(ctx, client.ObjectKey{Name: name}, &ns)
	if err == nil {
		return true, nil
	}
	if client.IgnoreNotFound(err) == nil {
		return false, nil
	}
	return false, err
}
