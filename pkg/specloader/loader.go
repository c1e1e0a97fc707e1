// Package specloader is the external-collaborator YAML schema loader: it
// decodes a test.yaml into a spec.TestSpec, injects dir, expands
// ${BLACKJACK_*} variables, and checks the structural invariants that must
// hold before any step executes.
package specloader

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/blackjack-run/blackjack/pkg/spec"
	"github.com/blackjack-run/blackjack/pkg/vars"
)

// Load decodes path into a TestSpec, sets Dir to its parent directory, and
// substitutes ${BLACKJACK_*} placeholders across every string field using
// env. It does not validate bucket-reference invariants; call Validate for
// that once the spec is fully expanded.
func Load(path string, env vars.Env) (*spec.TestSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var ts spec.TestSpec
	if err := yaml.Unmarshal(raw, &ts); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	ts.Dir = filepath.Dir(path)

	applyDefaults(&ts)

	if err := substitute(&ts, env); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &ts, nil
}

// defaultNamespacePlaceholder is what an unset WatchSpec/ApplySpec namespace
// expands to before substitution runs.
const defaultNamespacePlaceholder = "${BLACKJACK_NAMESPACE}"

// applyDefaults fills in the namespace defaults §3 promises ("default
// ${BLACKJACK_NAMESPACE}") before substitution runs, so an omitted
// `namespace:` field behaves exactly like an explicit one.
func applyDefaults(ts *spec.TestSpec) {
	for si := range ts.Steps {
		step := &ts.Steps[si]
		for wi := range step.Watch {
			if step.Watch[wi].Namespace == "" {
				step.Watch[wi].Namespace = defaultNamespacePlaceholder
			}
		}
		for ai := range step.Apply {
			if step.Apply[ai].Namespace == "" {
				step.Apply[ai].Namespace = defaultNamespacePlaceholder
			}
		}
		for di := range step.Delete {
			if step.Delete[di].Namespace == "" {
				step.Delete[di].Namespace = defaultNamespacePlaceholder
			}
		}
	}
}

func substitute(ts *spec.TestSpec, env vars.Env) error {
	fields := []*string{&ts.Name, &ts.Ordering}

	for si := range ts.Steps {
		step := &ts.Steps[si]
		fields = append(fields, &step.Name)
		for wi := range step.Watch {
			w := &step.Watch[wi]
			fields = append(fields, &w.Name, &w.Group, &w.Version, &w.Kind, &w.Namespace)
			for k, v := range w.Labels {
				vv := v
				if err := vars.SubstituteStrings([]*string{&vv}, env); err != nil {
					return err
				}
				w.Labels[k] = vv
			}
			for k, v := range w.Fields {
				vv := v
				if err := vars.SubstituteStrings([]*string{&vv}, env); err != nil {
					return err
				}
				w.Fields[k] = vv
			}
		}
		for bi := range step.Bucket {
			fields = append(fields, &step.Bucket[bi].Name)
		}
		for ai := range step.Apply {
			fields = append(fields, &step.Apply[ai].Path, &step.Apply[ai].Namespace)
		}
		for di := range step.Delete {
			fields = append(fields, &step.Delete[di].Path, &step.Delete[di].Namespace)
		}
		for sci := range step.Script {
			fields = append(fields, &step.Script[sci].Path)
		}
		for wi := range step.Wait {
			fields = append(fields, &step.Wait[wi].Target)
		}
	}

	return vars.SubstituteStrings(fields, env)
}

// Validate enforces the invariants that the spec requires be surfaced
// before step execution:
//  1. bucket names are unique within the test run;
//  2. a WatchSpec creates at most one bucket — reusing a name is forbidden;
//  3. a BucketSpec/WaitSpec naming an unknown bucket is an error.
func Validate(ts *spec.TestSpec) error {
	known := map[string]bool{}

	for _, step := range ts.Steps {
		for _, w := range step.Watch {
			if known[w.Name] {
				return fmt.Errorf("step %q: watch %q: bucket name already used earlier in this test", step.Name, w.Name)
			}
			known[w.Name] = true
		}
		for _, bs := range step.Bucket {
			if !known[bs.Name] {
				return fmt.Errorf("step %q: bucket %q: no such bucket", step.Name, bs.Name)
			}
			if len(bs.Operations) == 0 {
				return fmt.Errorf("step %q: bucket %q: operations must be non-empty", step.Name, bs.Name)
			}
		}
		for _, ws := range step.Wait {
			if !known[ws.Target] {
				return fmt.Errorf("step %q: wait: target %q: no such bucket", step.Name, ws.Target)
			}
			if ws.TimeoutS < 0 {
				return fmt.Errorf("step %q: wait: target %q: timeout must be >= 0", step.Name, ws.Target)
			}
		}
		if step.Sleep < 0 {
			return fmt.Errorf("step %q: sleep must be >= 0", step.Name)
		}
	}

	return nil
}
