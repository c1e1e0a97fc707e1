package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/blackjack-run/blackjack/pkg/blacklog"
	"github.com/blackjack-run/blackjack/pkg/k8sapi"
	"github.com/blackjack-run/blackjack/pkg/reporter"
	"github.com/blackjack-run/blackjack/pkg/scheduler"
)

var (
	flagParallel        int
	flagParallelCluster int
	flagAttempts        int
	flagAttemptsCluster int
	flagTimeoutScaling  float64
	flagLogLevel        string
	flagKubeconfig      string
)

var rootCmd = &cobra.Command{
	Use:           "blackjack <TEST_DIR>",
	Short:         "End-to-end test runner for Kubernetes operators and controllers",
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	flags := rootCmd.Flags()
	flags.IntVar(&flagParallel, "parallel", 4, "concurrent user tests")
	flags.IntVar(&flagParallelCluster, "parallel-cluster", 1, "concurrent cluster tests")
	flags.IntVar(&flagAttempts, "attempts", 1, "default attempts for user tests that don't set their own")
	flags.IntVar(&flagAttemptsCluster, "attempts-cluster", 1, "default attempts for cluster tests that don't set their own")
	flags.Float64Var(&flagTimeoutScaling, "timeout-scaling", 1, "global multiplier applied to every wait timeout")
	flags.StringVar(&flagLogLevel, "log-level", "info", "debug, info, warn, error")
	flags.StringVar(&flagKubeconfig, "kubeconfig", "", "path to kubeconfig (optional; in-cluster config is tried first)")
}

// runExitCode is set by run on a successful scheduling pass, since a
// completed test run's exit code (0 or 1) is a report of test outcomes, not
// a cobra/CLI error.
var runExitCode = reporter.ExitPass

func run(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return usageError(fmt.Errorf("expected exactly one TEST_DIR argument, got %d", len(args)))
	}
	testDir := args[0]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	level, err := parseLogLevel(flagLogLevel)
	if err != nil {
		return usageError(err)
	}
	log := blacklog.New("blackjack", level)
	ctrllog.SetLogger(blacklog.NewCtrlRuntimeLogger(log, 0))

	cfg, err := kubeconfig(flagKubeconfig)
	if err != nil {
		return fmt.Errorf("loading kubernetes config: %w", err)
	}

	gw, err := k8sapi.New(cfg)
	if err != nil {
		return fmt.Errorf("building kubernetes gateway: %w", err)
	}

	schedCfg := scheduler.Config{
		ParallelCluster: flagParallelCluster,
		ParallelUser:    flagParallel,
		AttemptsCluster: flagAttemptsCluster,
		AttemptsUser:    flagAttempts,
		TimeoutScaling:  flagTimeoutScaling,
	}

	results, err := scheduler.Run(ctx, testDir, gw, log, schedCfg)
	if err != nil {
		return usageError(err)
	}

	reporter.Render(os.Stdout, results)
	reporter.Summarize(os.Stdout, results)

	runExitCode = reporter.ExitCode(results)
	return nil
}

// usageErr marks an error as an invalid-argument/spec failure (exit code 2)
// rather than the generic infrastructure failure cobra would otherwise
// report with exit code 1.
type usageErr struct{ err error }

func (u usageErr) Error() string { return u.err.Error() }

func usageError(err error) error { return usageErr{err} }

func parseLogLevel(s string) (blacklog.Level, error) {
	switch s {
	case "debug":
		return blacklog.LevelDebug, nil
	case "info":
		return blacklog.LevelInfo, nil
	case "warn":
		return blacklog.LevelWarn, nil
	case "error":
		return blacklog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

func kubeconfig(path string) (*rest.Config, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	if path == "" {
		path = clientcmd.RecommendedHomeFile
	}
	return clientcmd.BuildConfigFromFlags("", path)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if _, ok := err.(usageErr); ok {
			os.Exit(reporter.ExitInvalidUsage)
		}
		os.Exit(reporter.ExitFailure)
	}
	os.Exit(runExitCode)
}
