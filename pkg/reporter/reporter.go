// Package reporter renders the one-line PASS/FAIL verdict per test and
// computes the process exit code.
package reporter

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/blackjack-run/blackjack/pkg/outcome"
)

// Exit codes per the CLI contract: 0 all pass, 1 any failure, 2 invalid
// arguments or a spec error that prevented discovery/scheduling itself.
const (
	ExitPass         = 0
	ExitFailure      = 1
	ExitInvalidUsage = 2
)

// Render writes one line per result, PASS/FAIL with elapsed time and, on
// failure, the failed step and error class/message.
func Render(w io.Writer, results []outcome.Result) {
	for _, res := range results {
		elapsed := elapsedHuman(time.Duration(res.ElapsedSecs * float64(time.Second)))
		if res.Passed {
			fmt.Fprintf(w, "PASS  %-40s (%s)\n", res.TestName, elapsed)
			continue
		}

		msg := "unknown error"
		if res.Err != nil {
			msg = res.Err.Error()
		}
		if res.FailedStep != "" {
			fmt.Fprintf(w, "FAIL  %-40s step %q (%s): %s\n", res.TestName, res.FailedStep, elapsed, msg)
		} else {
			fmt.Fprintf(w, "FAIL  %-40s (%s): %s\n", res.TestName, elapsed, msg)
		}
	}
}

// elapsedHuman renders d the way go-humanize renders a relative time, minus
// the "ago"/"from now" suffix it has no bare duration formatter for.
func elapsedHuman(d time.Duration) string {
	var zero time.Time
	return strings.TrimSpace(humanize.RelTime(zero, zero.Add(d), "", ""))
}

// Summarize prints the aggregate pass/fail counts.
func Summarize(w io.Writer, results []outcome.Result) {
	var passed, failed int
	for _, res := range results {
		if res.Passed {
			passed++
		} else {
			failed++
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", passed, failed, len(results))
}

// ExitCode computes the process exit code from a completed run's results.
// Callers that fail before scheduling even starts (bad flags, a discovery
// error) should use ExitInvalidUsage directly rather than calling this.
func ExitCode(results []outcome.Result) int {
	for _, res := range results {
		if !res.Passed {
			return ExitFailure
		}
	}
	return ExitPass
}
