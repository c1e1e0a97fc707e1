package expr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/blackjack-run/blackjack/pkg/expr"
)

func resource(phase string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"status": map[string]interface{}{"phase": phase},
	}}
}

func size(n uint64) expr.Expr { return expr.Expr{Size: &n} }

func TestEvalSize(t *testing.T) {
	s := expr.Snapshot{resource("Running"), resource("Pending")}
	ok, err := expr.Eval(size(2), s)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = expr.Eval(size(3), s)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvalSizeDependsOnlyOnLength(t *testing.T) {
	a := expr.Snapshot{resource("Running"), resource("Pending")}
	b := expr.Snapshot{resource("Failed"), resource("Unknown")}
	okA, _ := expr.Eval(size(2), a)
	okB, _ := expr.Eval(size(2), b)
	assert.Equal(t, okA, okB)
}

func TestEvalAndEmptyIsTrue(t *testing.T) {
	ok, err := expr.Eval(expr.Expr{And: []expr.Expr{}}, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalOrEmptyIsFalse(t *testing.T) {
	ok, err := expr.Eval(expr.Expr{Or: []expr.Expr{}}, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvalNotIsDoubleNegation(t *testing.T) {
	base := size(0)
	s := expr.Snapshot{}
	okBase, err := expr.Eval(base, s)
	require.NoError(t, err)

	doubled := expr.Expr{Not: &expr.Expr{Not: &base}}
	okDoubled, err := expr.Eval(doubled, s)
	require.NoError(t, err)

	assert.Equal(t, okBase, okDoubled)
}

func TestEvalAllEmptySnapshotIsTrue(t *testing.T) {
	ok, err := expr.Eval(expr.Expr{All: map[string]any{"status": map[string]any{"phase": "Running"}}}, expr.Snapshot{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalOneEmptySnapshotIsFalse(t *testing.T) {
	ok, err := expr.Eval(expr.Expr{One: map[string]any{"status": map[string]any{"phase": "Running"}}}, expr.Snapshot{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvalOneAndAll(t *testing.T) {
	s := expr.Snapshot{resource("Running"), resource("Running")}
	ok, err := expr.Eval(expr.Expr{All: map[string]any{"status": map[string]any{"phase": "Running"}}}, s)
	require.NoError(t, err)
	assert.True(t, ok)

	s = append(s, resource("Pending"))
	ok, err = expr.Eval(expr.Expr{All: map[string]any{"status": map[string]any{"phase": "Running"}}}, s)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = expr.Eval(expr.Expr{One: map[string]any{"status": map[string]any{"phase": "Pending"}}}, s)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnmarshalRejectsMultipleForms(t *testing.T) {
	var e expr.Expr
	err := yaml.Unmarshal([]byte("size: 1\none: {}\n"), &e)
	assert.Error(t, err)
}

func TestUnmarshalRejectsEmpty(t *testing.T) {
	var e expr.Expr
	err := yaml.Unmarshal([]byte("{}\n"), &e)
	assert.Error(t, err)
}

func TestEvalMatchesYAMLDecodedNestedPattern(t *testing.T) {
	var e expr.Expr
	err := yaml.Unmarshal([]byte(`
all:
  status:
    conditions:
      - type: Ready
        status: "True"
`), &e)
	require.NoError(t, err)

	ready := &unstructured.Unstructured{Object: map[string]interface{}{
		"status": map[string]interface{}{
			"conditions": []interface{}{
				map[string]interface{}{"type": "Ready", "status": "True"},
			},
		},
	}}
	notReady := &unstructured.Unstructured{Object: map[string]interface{}{
		"status": map[string]interface{}{
			"conditions": []interface{}{
				map[string]interface{}{"type": "Ready", "status": "False"},
			},
		},
	}}

	ok, err := expr.Eval(e, expr.Snapshot{ready})
	require.NoError(t, err)
	assert.True(t, ok, "YAML-decoded nested all pattern should match an equivalent unstructured resource")

	ok, err = expr.Eval(e, expr.Snapshot{notReady})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnmarshalAndNesting(t *testing.T) {
	var e expr.Expr
	err := yaml.Unmarshal([]byte(`
and:
  - size: 3
  - all:
      status:
        phase: Running
`), &e)
	require.NoError(t, err)
	require.Len(t, e.And, 2)
	assert.Equal(t, uint64(3), *e.And[0].Size)
}
