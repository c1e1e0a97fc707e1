// Package reflector runs one dynamic Kubernetes watch per WatchSpec,
// feeding translated events into a bucket.
package reflector

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/blackjack-run/blackjack/pkg/blacklog"
	"github.com/blackjack-run/blackjack/pkg/bucket"
	"github.com/blackjack-run/blackjack/pkg/k8sapi"
	"github.com/blackjack-run/blackjack/pkg/spec"
)

// restartBackoff bounds how fast a reflector retries after its watch
// channel closes, so a persistently unreachable API server does not spin.
const restartBackoff = 500 * time.Millisecond

// Reflector owns one WatchSpec's background goroutine.
type Reflector struct {
	gw  k8sapi.Gateway
	gvk schema.GroupVersionKind
	ns  string
	sel k8sapi.Selector
	b   *bucket.Bucket
	log blacklog.Logger
}

// New constructs a Reflector for ws, feeding b. It does not start running
// until Start is called.
func New(gw k8sapi.Gateway, ws spec.WatchSpec, b *bucket.Bucket, log blacklog.Logger) *Reflector {
	return &Reflector{
		gw:  gw,
		gvk: schema.GroupVersionKind{Group: ws.Group, Version: ws.Version, Kind: ws.Kind},
		ns:  ws.Namespace,
		sel: k8sapi.Selector{Labels: ws.Labels, Fields: ws.Fields},
		b:   b,
		log: log,
	}
}

// Start runs the reflector loop until ctx is cancelled. It blocks until the
// first list attempt has finished and returns once that has happened; the
// watch loop continues in a background goroutine. When that first list
// succeeds, the bucket holds the listed resources before Start returns. When
// it fails, Start returns after logging the error with the bucket not yet
// filled, and the background loop keeps retrying the list.
func (r *Reflector) Start(ctx context.Context) {
	first := make(chan struct{})
	go r.run(ctx, first)
	<-first
}

func (r *Reflector) run(ctx context.Context, first chan struct{}) {
	closedFirst := false
	closeFirst := func() {
		if !closedFirst {
			closedFirst = true
			close(first)
		}
	}

	for {
		if ctx.Err() != nil {
			closeFirst()
			return
		}

		items, w, err := r.gw.ListAndWatch(ctx, r.gvk, r.ns, r.sel)
		if err != nil {
			r.log.ErrorWithArgs("watch list failed, retrying", "gvk", r.gvk.String(), "error", err)
			closeFirst()
			if !sleepOrDone(ctx, restartBackoff) {
				return
			}
			continue
		}

		r.b.Reconcile(items)
		closeFirst()

		r.drain(ctx, w)

		if ctx.Err() != nil {
			return
		}
		// Watch channel closed (timeout, disconnect, resource-version too
		// old): re-list and re-watch, preserving bucket contents across
		// the restart per the reflector's best-effort contract.
		if !sleepOrDone(ctx, restartBackoff) {
			return
		}
	}
}

func (r *Reflector) drain(ctx context.Context, w watch.Interface) {
	defer w.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.ResultChan():
			if !ok {
				return
			}
			r.handle(ev)
		}
	}
}

func (r *Reflector) handle(ev watch.Event) {
	obj, ok := ev.Object.(*unstructured.Unstructured)
	if !ok {
		return
	}
	switch ev.Type {
	case watch.Added:
		r.b.ApplyEvent(bucket.OpCreate, obj)
	case watch.Modified:
		r.b.ApplyEvent(bucket.OpPatch, obj)
	case watch.Deleted:
		r.b.ApplyEvent(bucket.OpDelete, obj)
	case watch.Error:
		r.log.ErrorWithArgs("watch error event", "gvk", r.gvk.String())
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
