// Package step executes one test step in the fixed ordering mandated
// regardless of YAML key order: watch, bucket masks, apply, delete, sleep,
// script, wait.
package step

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	yamlutil "k8s.io/apimachinery/pkg/util/yaml"

	"github.com/blackjack-run/blackjack/pkg/blacklog"
	"github.com/blackjack-run/blackjack/pkg/bucket"
	"github.com/blackjack-run/blackjack/pkg/k8sapi"
	"github.com/blackjack-run/blackjack/pkg/outcome"
	"github.com/blackjack-run/blackjack/pkg/reflector"
	"github.com/blackjack-run/blackjack/pkg/scriptrun"
	"github.com/blackjack-run/blackjack/pkg/spec"
	"github.com/blackjack-run/blackjack/pkg/vars"
	"github.com/blackjack-run/blackjack/pkg/wait"
)

// Runner executes every step of a single test attempt against a set of
// buckets/reflectors that live for the whole attempt. One Runner is
// constructed per attempt; it is not reused across attempts since buckets
// and reflectors must not outlive the namespace they were watching.
type Runner struct {
	gw         k8sapi.Gateway
	log        blacklog.Logger
	scale      float64
	buckets    map[string]*bucket.Bucket
	reflectors map[string]*reflector.Reflector
}

// New builds a Runner. scale is the global wait-timeout multiplier (§6).
func New(gw k8sapi.Gateway, log blacklog.Logger, scale float64) *Runner {
	return &Runner{
		gw:         gw,
		log:        log,
		scale:      scale,
		buckets:    make(map[string]*bucket.Bucket),
		reflectors: make(map[string]*reflector.Reflector),
	}
}

// Run executes st's stages in the fixed §4.5 order. dir is the test
// directory manifests/scripts resolve against; env is mutated in place as
// scripts export new BLACKJACK_* variables. A returned error is always an
// *outcome.Error.
func (r *Runner) Run(ctx context.Context, st spec.StepSpec, dir string, env vars.Env) error {
	for _, ws := range st.Watch {
		if err := r.startWatch(ctx, ws); err != nil {
			return outcome.Wrap(outcome.ClassSpec, st.Name, err)
		}
	}

	for _, bs := range st.Bucket {
		if err := r.setBucketMask(bs); err != nil {
			return outcome.Wrap(outcome.ClassSpec, st.Name, err)
		}
	}

	for _, as := range st.Apply {
		objs, err := loadManifests(as, dir, env)
		if err != nil {
			return outcome.Wrap(outcome.ClassSpec, st.Name, err)
		}
		for _, obj := range objs {
			if err := r.gw.Apply(ctx, obj); err != nil {
				return outcome.Wrap(outcome.ClassApplyDelete, st.Name, fmt.Errorf("applying %s/%s: %w", obj.GetKind(), obj.GetName(), err))
			}
		}
	}

	for _, ds := range st.Delete {
		objs, err := loadManifests(ds, dir, env)
		if err != nil {
			return outcome.Wrap(outcome.ClassSpec, st.Name, err)
		}
		for _, obj := range objs {
			if err := r.gw.Delete(ctx, obj); err != nil {
				return outcome.Wrap(outcome.ClassApplyDelete, st.Name, fmt.Errorf("deleting %s/%s: %w", obj.GetKind(), obj.GetName(), err))
			}
		}
	}

	if st.Sleep > 0 {
		if err := sleepCtx(ctx, time.Duration(st.Sleep*float64(time.Second))); err != nil {
			return outcome.Wrap(outcome.ClassInfrastructure, st.Name, err)
		}
	}

	for _, ss := range st.Script {
		exported, err := scriptrun.Run(ctx, filepath.Join(dir, ss.Path), env, r.log.WithGroup("script"))
		if err != nil {
			return outcome.Wrap(outcome.ClassScript, st.Name, err)
		}
		for k, v := range exported {
			env[k] = v
		}
	}

	for _, ws := range st.Wait {
		if err := r.runWait(ctx, st.Name, ws); err != nil {
			return err
		}
	}

	return nil
}

func (r *Runner) startWatch(ctx context.Context, ws spec.WatchSpec) error {
	if _, exists := r.buckets[ws.Name]; exists {
		return fmt.Errorf("watch %q: bucket name already used earlier in this test", ws.Name)
	}
	b := bucket.New()
	ref := reflector.New(r.gw, ws, b, r.log.WithGroup("watch."+ws.Name))
	ref.Start(ctx)
	r.buckets[ws.Name] = b
	r.reflectors[ws.Name] = ref
	return nil
}

func (r *Runner) setBucketMask(bs spec.BucketSpec) error {
	b, ok := r.buckets[bs.Name]
	if !ok {
		return fmt.Errorf("bucket %q: no such bucket", bs.Name)
	}
	if len(bs.Operations) == 0 {
		return fmt.Errorf("bucket %q: operations must be non-empty", bs.Name)
	}
	mask := bucket.Mask{}
	for _, op := range bs.Operations {
		switch op {
		case spec.BucketOpCreate:
			mask[bucket.OpCreate] = true
		case spec.BucketOpPatch:
			mask[bucket.OpPatch] = true
		case spec.BucketOpDelete:
			mask[bucket.OpDelete] = true
		default:
			return fmt.Errorf("bucket %q: unknown operation %q", bs.Name, op)
		}
	}
	b.SetMask(mask)
	return nil
}

func (r *Runner) runWait(ctx context.Context, stepName string, ws spec.WaitSpec) error {
	b, ok := r.buckets[ws.Target]
	if !ok {
		return outcome.Wrap(outcome.ClassSpec, stepName, fmt.Errorf("wait: target %q: no such bucket", ws.Target))
	}
	res, err := wait.Run(ctx, b, ws.Condition, ws.TimeoutS, r.scale)
	if err != nil {
		return outcome.Wrap(outcome.ClassInfrastructure, stepName, err)
	}
	if !res.Satisfied {
		return outcome.Wrap(outcome.ClassWaitTimeout, stepName, fmt.Errorf("target %q: condition never satisfied\n%s", ws.Target, res.Diagnostic))
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// loadManifests expands as.Path (a file or one-level-non-recursive
// directory) into the YAML documents it contains, substitutes env over each
// document's raw text before parsing, and applies the namespace override.
// A bare Namespace object is rejected outright.
func loadManifests(as spec.ApplySpec, dir string, env vars.Env) ([]*unstructured.Unstructured, error) {
	root := as.Path
	if !filepath.IsAbs(root) {
		root = filepath.Join(dir, root)
	}

	paths, err := manifestPaths(root)
	if err != nil {
		return nil, fmt.Errorf("resolving manifest path %s: %w", as.Path, err)
	}

	var objs []*unstructured.Unstructured
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading manifest %s: %w", p, err)
		}

		text, err := vars.Substitute(string(raw), env)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: %w", p, err)
		}

		docs, err := decodeDocuments(text)
		if err != nil {
			return nil, fmt.Errorf("parsing manifest %s: %w", p, err)
		}

		for _, obj := range docs {
			if obj.GetKind() == "Namespace" {
				return nil, fmt.Errorf("manifest %s: a bare Namespace object is not permitted in a test manifest", p)
			}
			if as.EffectiveOverrideNamespace() {
				obj.SetNamespace(as.Namespace)
			}
			objs = append(objs, obj)
		}
	}

	return objs, nil
}

// manifestPaths returns root itself if it is a file, or every *.yaml/*.yml
// direct child if it is a directory (one level, non-recursive).
func manifestPaths(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			paths = append(paths, filepath.Join(root, name))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func decodeDocuments(text string) ([]*unstructured.Unstructured, error) {
	dec := yamlutil.NewYAMLOrJSONDecoder(strings.NewReader(text), 4096)

	var objs []*unstructured.Unstructured
	for {
		var doc map[string]interface{}
		if err := dec.Decode(&doc); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		if len(doc) == 0 {
			continue
		}
		objs = append(objs, &unstructured.Unstructured{Object: doc})
	}
	return objs, nil
}
