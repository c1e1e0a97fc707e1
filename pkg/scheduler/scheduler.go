// Package scheduler discovers test.yaml files, partitions and orders them,
// and drives a bounded worker pool over pkg/testrunner, mirroring the
// WorkQueue/worker shape a cleanup controller uses to bound concurrent
// cluster work.
package scheduler

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v2"

	"github.com/blackjack-run/blackjack/pkg/blacklog"
	"github.com/blackjack-run/blackjack/pkg/k8sapi"
	"github.com/blackjack-run/blackjack/pkg/outcome"
	"github.com/blackjack-run/blackjack/pkg/spec"
	"github.com/blackjack-run/blackjack/pkg/testrunner"
)

// unorderedTiebreak is prepended to a test's name to build its sort key when
// it declares no `ordering`, so unordered tests sort after every explicitly
// ordered one while still sorting deterministically among themselves.
const unorderedTiebreak = "￿"

// Config drives the scheduler's concurrency and retry behavior, bound
// directly from CLI flags.
type Config struct {
	ParallelCluster int
	ParallelUser    int
	AttemptsCluster int
	AttemptsUser    int
	TimeoutScaling  float64
}

// discovered is the scheduling-relevant header of one test.yaml, read
// without running variable substitution (name/type/ordering/attempts are
// not expected to reference ${BLACKJACK_*} placeholders).
type discovered struct {
	path     string
	name     string
	typ      spec.TestType
	ordering string
}

func (d discovered) sortKey() string {
	if d.ordering != "" {
		return d.ordering
	}
	return unorderedTiebreak + d.name
}

// Discover walks root collecting every file named test.yaml.
func Discover(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == "test.yaml" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discovering tests under %s: %w", root, err)
	}
	return paths, nil
}

func readHeader(path string) (discovered, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return discovered{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var h struct {
		Name     string        `yaml:"name"`
		Type     spec.TestType `yaml:"type"`
		Ordering string        `yaml:"ordering"`
	}
	if err := yaml.Unmarshal(raw, &h); err != nil {
		return discovered{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if h.Type == "" {
		h.Type = spec.TypeUser
	}

	return discovered{path: path, name: h.Name, typ: h.Type, ordering: h.Ordering}, nil
}

// Run discovers every test under root, partitions cluster tests ahead of
// user tests, sorts each partition by (ordering, name), and runs them
// through bounded worker pools — cluster tests fully complete before any
// user test starts. Failures never abort peers.
func Run(ctx context.Context, root string, gw k8sapi.Gateway, log blacklog.Logger, cfg Config) ([]outcome.Result, error) {
	paths, err := Discover(root)
	if err != nil {
		return nil, err
	}

	var cluster, user []discovered
	for _, p := range paths {
		h, err := readHeader(p)
		if err != nil {
			return nil, err
		}
		if h.typ == spec.TypeCluster {
			cluster = append(cluster, h)
		} else {
			user = append(user, h)
		}
	}

	sortPartition(cluster)
	sortPartition(user)

	var results []outcome.Result
	results = append(results, runPartition(ctx, cluster, gw, log, cfg.ParallelCluster, cfg.AttemptsCluster, cfg.TimeoutScaling)...)
	results = append(results, runPartition(ctx, user, gw, log, cfg.ParallelUser, cfg.AttemptsUser, cfg.TimeoutScaling)...)

	return results, nil
}

func sortPartition(tests []discovered) {
	sort.Slice(tests, func(i, j int) bool {
		ki, kj := tests[i].sortKey(), tests[j].sortKey()
		if ki != kj {
			return ki < kj
		}
		return tests[i].name < tests[j].name
	})
}

// runPartition drives tests through a bounded worker pool: concurrency
// workers pull from a buffered channel of indices until it closes, same
// shape as a cleanup controller's WorkQueue/worker pattern. A test is never
// preempted once started and a failing test never aborts its peers.
func runPartition(ctx context.Context, tests []discovered, gw k8sapi.Gateway, log blacklog.Logger, concurrency, defaultAttempts int, scale float64) []outcome.Result {
	if len(tests) == 0 {
		return nil
	}
	if concurrency < 1 {
		concurrency = 1
	}

	work := make(chan int, len(tests))
	for i := range tests {
		work <- i
	}
	close(work)

	results := make([]outcome.Result, len(tests))

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				if ctx.Err() != nil {
					results[i] = outcome.Result{TestName: tests[i].name, Err: ctx.Err()}
					continue
				}
				r := testrunner.New(gw, log.WithGroup(tests[i].name), scale, defaultAttempts)
				results[i] = r.Run(ctx, tests[i].path)
			}
		}()
	}
	wg.Wait()

	return results
}
