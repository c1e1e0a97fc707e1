// Package spec holds the declarative test specification data model:
// TestSpec, StepSpec and the operation specs nested inside a step.
package spec

import "github.com/blackjack-run/blackjack/pkg/expr"

// TestType classifies a test for scheduling purposes (§4.8): all cluster
// tests run to completion before any user test starts.
type TestType string

const (
	TypeCluster TestType = "cluster"
	TypeUser    TestType = "user"
)

// TestSpec is one discovered test.yaml.
type TestSpec struct {
	Name     string     `yaml:"name"`
	Attempts int        `yaml:"attempts"`
	Ordering string     `yaml:"ordering"`
	Type     TestType   `yaml:"type"`
	Steps    []StepSpec `yaml:"steps"`

	// Dir is the absolute directory containing the spec file, injected by
	// the loader. Every relative path in the spec resolves against it.
	Dir string `yaml:"-"`
}

// EffectiveAttempts returns Attempts if the spec set one, else
// defaultAttempts (the CLI-configured fallback), else 1.
func (t TestSpec) EffectiveAttempts(defaultAttempts int) int {
	if t.Attempts >= 1 {
		return t.Attempts
	}
	if defaultAttempts >= 1 {
		return defaultAttempts
	}
	return 1
}

// StepSpec is one step: watches/bucket reconfiguration/applies/deletes/
// sleep/scripts/waits. The order these lists run in is fixed by the step
// runner (§4.5), not by their order here.
type StepSpec struct {
	Name   string       `yaml:"name"`
	Watch  []WatchSpec  `yaml:"watch"`
	Bucket []BucketSpec `yaml:"bucket"`
	Apply  []ApplySpec  `yaml:"apply"`
	Delete []ApplySpec  `yaml:"delete"`
	Script []ScriptSpec `yaml:"script"`
	Sleep  float64      `yaml:"sleep"`
	Wait   []WaitSpec   `yaml:"wait"`
}

// WatchSpec declares one watch and the bucket name it feeds.
type WatchSpec struct {
	Name      string            `yaml:"name"`
	Group     string            `yaml:"group"`
	Version   string            `yaml:"version"`
	Kind      string            `yaml:"kind"`
	Namespace string            `yaml:"namespace"`
	Labels    map[string]string `yaml:"labels"`
	Fields    map[string]string `yaml:"fields"`
}

// BucketOp is an operation name as it appears in BucketSpec.Operations.
type BucketOp string

const (
	BucketOpCreate BucketOp = "create"
	BucketOpPatch  BucketOp = "patch"
	BucketOpDelete BucketOp = "delete"
)

// BucketSpec reconfigures an existing bucket's operation mask.
type BucketSpec struct {
	Name       string     `yaml:"name"`
	Operations []BucketOp `yaml:"operations"`
}

// ApplySpec names manifests to apply or delete.
type ApplySpec struct {
	Path              string `yaml:"path"`
	Namespace         string `yaml:"namespace"`
	OverrideNamespace *bool  `yaml:"override-namespace"`
}

// EffectiveOverrideNamespace returns OverrideNamespace, defaulting to true.
func (a ApplySpec) EffectiveOverrideNamespace() bool {
	if a.OverrideNamespace == nil {
		return true
	}
	return *a.OverrideNamespace
}

// ScriptSpec names a helper script to run, resolved against the test
// directory.
type ScriptSpec struct {
	Path string `yaml:"path"`
}

// WaitSpec polls a bucket against a condition until it holds or times out.
type WaitSpec struct {
	Target    string    `yaml:"target"`
	TimeoutS  float64   `yaml:"timeout"`
	Condition expr.Expr `yaml:"condition"`
}
