// Package testrunner owns one test's lifecycle: spec (re)loading, namespace
// provisioning, sequential step execution across attempts, and
// fire-and-forget teardown.
package testrunner

import (
	"context"
	"fmt"
	"time"

	"github.com/dustinkirkland/golang-petname"
	"github.com/thoas/go-funk"

	"github.com/blackjack-run/blackjack/pkg/blacklog"
	"github.com/blackjack-run/blackjack/pkg/k8sapi"
	"github.com/blackjack-run/blackjack/pkg/outcome"
	"github.com/blackjack-run/blackjack/pkg/specloader"
	"github.com/blackjack-run/blackjack/pkg/step"
	"github.com/blackjack-run/blackjack/pkg/vars"
)

// namespaceCollisionRetries bounds how many times a freshly generated
// namespace name is retried against the live cluster before giving up.
const namespaceCollisionRetries = 10

// probeNamespace stands in for ${BLACKJACK_NAMESPACE} only to load a test
// spec's attempts/name/steps ahead of actually provisioning a namespace, so
// a spec error is caught before anything is created on the cluster.
const probeNamespace = "blackjack-probe"

// Runner drives one test.yaml through all of its attempts.
type Runner struct {
	gw              k8sapi.Gateway
	scale           float64
	log             blacklog.Logger
	defaultAttempts int
}

// New builds a Runner. scale is the global wait-timeout multiplier shared by
// every attempt's waits; defaultAttempts is the CLI-configured attempt count
// used when a test.yaml does not set its own `attempts`.
func New(gw k8sapi.Gateway, log blacklog.Logger, scale float64, defaultAttempts int) *Runner {
	return &Runner{gw: gw, scale: scale, log: log, defaultAttempts: defaultAttempts}
}

// Run loads path and executes it, retrying fresh attempts (each in its own
// namespace) until one passes or the configured attempt count is exhausted.
func (r *Runner) Run(ctx context.Context, path string) outcome.Result {
	probe, err := specloader.Load(path, vars.Env{"BLACKJACK_NAMESPACE": probeNamespace})
	if err != nil {
		return outcome.Result{Err: outcome.Wrap(outcome.ClassSpec, "", err)}
	}
	if err := specloader.Validate(probe); err != nil {
		return outcome.Result{TestName: probe.Name, Err: outcome.Wrap(outcome.ClassSpec, "", err)}
	}

	attempts := probe.EffectiveAttempts(r.defaultAttempts)

	var last outcome.Result
	for attempt := 1; attempt <= attempts; attempt++ {
		last = r.runAttempt(ctx, path, probe.Name, attempt)
		if last.Passed || ctx.Err() != nil {
			return last
		}
	}
	return last
}

func (r *Runner) runAttempt(ctx context.Context, path, testName string, attempt int) outcome.Result {
	start := time.Now()
	attemptLog := r.log.WithGroup(fmt.Sprintf("%s.attempt-%d", testName, attempt))

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ns, err := r.provisionNamespace(attemptCtx)
	if err != nil {
		return outcome.Result{
			TestName: testName, Attempt: attempt, Passed: false,
			Err: outcome.Wrap(outcome.ClassInfrastructure, "", err), ElapsedSecs: time.Since(start).Seconds(),
		}
	}
	defer r.teardown(ns)

	ts, err := specloader.Load(path, vars.Env{"BLACKJACK_NAMESPACE": ns})
	if err != nil {
		return outcome.Result{
			TestName: testName, Namespace: ns, Attempt: attempt, Passed: false,
			Err: outcome.Wrap(outcome.ClassSpec, "", err), ElapsedSecs: time.Since(start).Seconds(),
		}
	}

	env := vars.Env{"BLACKJACK_NAMESPACE": ns}
	sr := step.New(r.gw, attemptLog, r.scale)

	for _, st := range ts.Steps {
		if err := sr.Run(attemptCtx, st, ts.Dir, env); err != nil {
			return outcome.Result{
				TestName: testName, Namespace: ns, Attempt: attempt, Passed: false,
				FailedStep: st.Name, Err: err, ElapsedSecs: time.Since(start).Seconds(),
			}
		}
	}

	return outcome.Result{
		TestName: testName, Namespace: ns, Attempt: attempt, Passed: true,
		ElapsedSecs: time.Since(start).Seconds(),
	}
}

// teardown deletes the namespace; reflector goroutines notice the attempt
// context is cancelled independently. It never blocks on cluster-side
// completion.
func (r *Runner) teardown(ns string) {
	if err := r.gw.DeleteNamespace(context.Background(), ns); err != nil {
		r.log.ErrorWithArgs("namespace teardown failed", "namespace", ns, "error", err)
	}
}

// provisionNamespace generates a collision-free "blackjack-<word>-<word>-
// <nnnn>" name and creates it on the cluster.
func (r *Runner) provisionNamespace(ctx context.Context) (string, error) {
	var lastErr error
	for i := 0; i < namespaceCollisionRetries; i++ {
		name := generateNamespaceName()

		exists, err := r.gw.NamespaceExists(ctx, name)
		if err != nil {
			return "", fmt.Errorf("checking namespace %q: %w", name, err)
		}
		if exists {
			continue
		}

		if err := r.gw.CreateNamespace(ctx, name); err != nil {
			lastErr = err
			continue
		}
		return name, nil
	}
	return "", fmt.Errorf("generating unique namespace name after %d attempts: %w", namespaceCollisionRetries, lastErr)
}

func generateNamespaceName() string {
	return fmt.Sprintf("blackjack-%s-%04d", petname.Generate(2, "-"), funk.RandomInt(0, 9999))
}
