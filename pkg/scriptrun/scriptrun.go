// Package scriptrun is the external-collaborator shell script invoker: it
// sources a script under a POSIX shell, streams output to a logger, and
// harvests any BLACKJACK_* variables the script exported.
package scriptrun

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/blackjack-run/blackjack/pkg/blacklog"
	"github.com/blackjack-run/blackjack/pkg/vars"
)

// killGrace is how long a killed script gets between SIGTERM and SIGKILL.
const killGrace = 5 * time.Second

// sentinel delimits the exported-environment dump appended after sourcing,
// so it can be parsed back out of the script's stdout.
const sentinel = "__BLACKJACK_ENV__"

// Run sources path under `sh`, with env exported into its process
// environment, and streams combined stdout/stderr to log. It returns the
// set of BLACKJACK_* variables the script newly exported, to be folded
// into the calling test's environment view for subsequent steps.
func Run(ctx context.Context, path string, env vars.Env, log blacklog.Logger) (vars.Env, error) {
	script := fmt.Sprintf(". %s\nprintf '%s\\n'\nenv\n", shellQuote(path), sentinel)

	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.WaitDelay = killGrace
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }

	var out strings.Builder
	cmd.Stdout = teeWriter{log, &out}
	cmd.Stderr = log

	err := cmd.Run()
	log.Flush()
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", path, err)
	}

	return parseExported(out.String(), env), nil
}

// teeWriter writes to the logger (for live streaming) and buffers a copy
// for the post-run environment harvest.
type teeWriter struct {
	log blacklog.Logger
	buf *strings.Builder
}

func (t teeWriter) Write(p []byte) (int, error) {
	t.buf.Write(p)
	return t.log.Write(p)
}

// parseExported extracts BLACKJACK_* assignments from the `env` dump that
// follows the sentinel line, excluding any that were already present in
// before (so only newly-exported variables are reported).
func parseExported(stdout string, before vars.Env) vars.Env {
	idx := strings.Index(stdout, sentinel)
	if idx == -1 {
		return vars.Env{}
	}
	dump := stdout[idx+len(sentinel):]

	out := vars.Env{}
	for _, line := range strings.Split(dump, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "BLACKJACK_") {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			continue
		}
		name, val := line[:eq], line[eq+1:]
		if existing, ok := before[name]; ok && existing == val {
			continue
		}
		out[name] = val
	}
	return out
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
