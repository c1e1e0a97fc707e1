// Package bucket implements the ordered, watch-fed resource collections
// that condition expressions are evaluated against.
package bucket

import (
	"sync"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"

	"github.com/blackjack-run/blackjack/pkg/expr"
)

// Op is a watch-derived mutation kind.
type Op int

const (
	OpCreate Op = iota
	OpPatch
	OpDelete
)

// Mask is the set of Ops a Bucket will currently apply.
type Mask map[Op]bool

// DefaultMask is the mask a Bucket is given when first created by a
// WatchSpec.
func DefaultMask() Mask {
	return Mask{OpCreate: true, OpPatch: true, OpDelete: true}
}

type key struct {
	namespace string
	name      string
	uid       types.UID
}

func keyOf(obj *unstructured.Unstructured) key {
	return key{namespace: obj.GetNamespace(), name: obj.GetName(), uid: obj.GetUID()}
}

// Bucket is an ordered map from resource identity to the most recently
// observed resource object, gated by a mutable operation mask. It is
// single-writer (the watch reflector) / multi-reader (wait polls) and
// synchronizes internally.
type Bucket struct {
	mu    sync.RWMutex
	mask  Mask
	order []key
	items map[key]*unstructured.Unstructured
}

// New creates an empty bucket with the default mask.
func New() *Bucket {
	return &Bucket{
		mask:  DefaultMask(),
		items: make(map[key]*unstructured.Unstructured),
	}
}

// SetMask atomically replaces the operation mask. It does not retroactively
// modify already-stored contents.
func (b *Bucket) SetMask(m Mask) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make(Mask, len(m))
	for k, v := range m {
		cp[k] = v
	}
	b.mask = cp
}

// ApplyEvent folds a single watch-derived event into the bucket under the
// current mask. Calls on one bucket are serialized by mu.
func (b *Bucket) ApplyEvent(op Op, obj *unstructured.Unstructured) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.applyEventLocked(op, obj)
}

func (b *Bucket) applyEventLocked(op Op, obj *unstructured.Unstructured) {
	if !b.mask[op] {
		return
	}

	k := keyOf(obj)
	_, known := b.items[k]

	switch op {
	case OpCreate, OpPatch:
		if !known {
			if op == OpPatch && !b.mask[OpCreate] {
				// Patch for an unknown key with create masked out: drop.
				return
			}
			b.order = append(b.order, k)
		}
		b.items[k] = obj.DeepCopy()

	case OpDelete:
		if known {
			delete(b.items, k)
			b.removeFromOrder(k)
		}
	}
}

func (b *Bucket) removeFromOrder(k key) {
	for i, existing := range b.order {
		if existing == k {
			b.order = append(b.order[:i], b.order[i+1:]...)
			return
		}
	}
}

// Reconcile folds a fresh list into the bucket, used after a watch re-lists
// following a restart. Entries absent from the list are pruned only if
// delete is in the current mask, per the recommended restart-reconciliation
// rule; listed objects are then applied as create events under the current
// mask.
func (b *Bucket) Reconcile(listed []*unstructured.Unstructured) {
	b.mu.Lock()
	defer b.mu.Unlock()

	listedKeys := make(map[key]bool, len(listed))
	for _, obj := range listed {
		listedKeys[keyOf(obj)] = true
	}

	if b.mask[OpDelete] {
		for _, k := range append([]key(nil), b.order...) {
			if !listedKeys[k] {
				delete(b.items, k)
				b.removeFromOrder(k)
			}
		}
	}

	for _, obj := range listed {
		b.applyEventLocked(OpCreate, obj)
	}
}

// Snapshot returns a deep-copied, point-in-time list of current bucket
// values; callers must not retain references into the live store.
func (b *Bucket) Snapshot() expr.Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(expr.Snapshot, 0, len(b.order))
	for _, k := range b.order {
		if obj, ok := b.items[k]; ok {
			out = append(out, obj.DeepCopy())
		}
	}
	return out
}

// Len reports the current number of entries, useful for diagnostics
// without paying for a full deep-copy snapshot.
func (b *Bucket) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.order)
}
