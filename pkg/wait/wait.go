// Package wait implements the wait scheduler: it polls a bucket against a
// condition until it holds or the scaled timeout elapses.
package wait

import (
	"context"
	"fmt"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"gopkg.in/yaml.v2"

	"github.com/blackjack-run/blackjack/pkg/bucket"
	"github.com/blackjack-run/blackjack/pkg/expr"
)

// pollInterval is the design-default poll period, capped to not exceed the
// (scaled) deadline.
const pollInterval = 200 * time.Millisecond

// Result is the outcome of a single wait.
type Result struct {
	Satisfied bool
	// Diagnostic is a human-readable explanation built only on timeout:
	// a diff between the last observed snapshot and the condition.
	Diagnostic string
}

// Run polls target against condition until it is satisfied or timeoutSecs
// (after applying scale) elapses. scale == 0 makes every wait fail
// immediately; timeoutSecs == 0 with scale > 0 evaluates the condition
// exactly once.
func Run(ctx context.Context, target *bucket.Bucket, condition expr.Expr, timeoutSecs, scale float64) (Result, error) {
	deadline := time.Duration(timeoutSecs * scale * float64(time.Second))

	if scale == 0 {
		snap := target.Snapshot()
		return failureResult(snap, condition), nil
	}

	pollCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	interval := pollInterval
	if deadline > 0 && interval > deadline {
		interval = deadline
	}

	var lastSnap expr.Snapshot
	for {
		lastSnap = target.Snapshot()
		ok, err := expr.Eval(condition, lastSnap)
		if err != nil {
			return Result{}, fmt.Errorf("evaluating condition: %w", err)
		}
		if ok {
			return Result{Satisfied: true}, nil
		}

		if deadline <= 0 {
			// timeout=0, scale>0: evaluate exactly once.
			return failureResult(lastSnap, condition), nil
		}

		t := time.NewTimer(interval)
		select {
		case <-pollCtx.Done():
			t.Stop()
			return failureResult(lastSnap, condition), nil
		case <-t.C:
		}
	}
}

func failureResult(snap expr.Snapshot, condition expr.Expr) Result {
	return Result{Satisfied: false, Diagnostic: diagnostic(snap, condition)}
}

// diagnostic renders a unified diff between the last observed snapshot and
// the condition's pattern, to give a user debugging a failed wait the
// fastest possible path to the mismatch.
func diagnostic(snap expr.Snapshot, condition expr.Expr) string {
	observed := renderSnapshot(snap)
	expected := fmt.Sprintf("condition: %v\n", condition)

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(expected),
		B:        difflib.SplitLines(observed),
		FromFile: "expected",
		ToFile:   "observed",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return fmt.Sprintf("condition %v never satisfied; %d resources observed", condition, len(snap))
	}
	return text
}

func renderSnapshot(snap expr.Snapshot) string {
	items := make([]interface{}, 0, len(snap))
	for _, obj := range snap {
		items = append(items, obj.Object)
	}
	out, err := yaml.Marshal(items)
	if err != nil {
		return fmt.Sprintf("<%d resources, unrenderable: %v>\n", len(snap), err)
	}
	return string(out)
}
