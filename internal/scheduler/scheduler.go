// Package scheduler drives a parsed dependency graph to completion: it
// walks the required set in dependency order, running each target's
// recipe once every prerequisite it has is Complete, bounding
// the number of recipes running at once, and letting independent work
// continue after an unrelated target fails.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/parallel-make/pmk/internal/builderr"
	"github.com/parallel-make/pmk/internal/depgraph"
	"github.com/parallel-make/pmk/internal/diag"
	"github.com/parallel-make/pmk/internal/ruleset"
)

// State is a target's position in its build lifecycle.
type State int

const (
	Pending State = iota
	Ready
	Building
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Building:
		return "building"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// target is one node's mutable build state. done is closed exactly once,
// when the target reaches Complete or Failed; state and reason are
// written before the close, so a reader that observes done closed may
// read them without further synchronization (the happens-before edge is
// the channel close itself).
type target struct {
	rule    *ruleset.Rule
	claimed bool
	state   State
	reason  string
	done    chan struct{}
}

// Options configures a Run.
type Options struct {
	// Jobs bounds how many recipes may run at once. Must be >= 1.
	Jobs int
	// DryRun prints recipes without executing them.
	DryRun bool
}

// Scheduler builds the required closure of a graph with bounded recipe
// concurrency.
type Scheduler struct {
	graph *depgraph.Graph
	sink  diag.Sink
	opts  Options

	sem chan struct{}

	mu      sync.Mutex
	targets map[string]*target
}

// New returns a Scheduler over graph, reporting progress and failures to
// sink.
func New(graph *depgraph.Graph, sink diag.Sink, opts Options) *Scheduler {
	if opts.Jobs < 1 {
		opts.Jobs = 1
	}
	return &Scheduler{
		graph:   graph,
		sink:    sink,
		opts:    opts,
		sem:     make(chan struct{}, opts.Jobs),
		targets: make(map[string]*target),
	}
}

// Run builds every target in required (already resolved via
// depgraph.Graph.RequiredClosure). It returns nil if every target
// reached Complete, or a *builderr.BuildFailedError naming every target
// that reached Failed.
//
// One worker goroutine is spawned per target in required, seeded in
// topological order; each worker always returns a nil error to its
// errgroup.Group, because a failure in one target must never cancel
// unrelated in-flight workers the way errgroup.WithContext would.
// Outcomes are communicated through each target's own state field
// instead.
func (s *Scheduler) Run(ctx context.Context, required map[string]bool) error {
	order, err := s.graph.TopoSort()
	if err != nil {
		return err
	}
	var seeds []string
	for _, name := range order {
		if required[name] {
			seeds = append(seeds, name)
		}
	}
	if len(seeds) > 0 {
		s.sink.Info("build order: %s", strings.Join(seeds, " "))
	}

	for _, name := range seeds {
		s.register(name)
	}

	var g errgroup.Group
	for _, name := range seeds {
		name := name
		g.Go(func() error {
			s.build(ctx, name)
			return nil
		})
	}
	_ = g.Wait()

	snap := s.Snapshot()
	var failures []builderr.TargetFailure
	for _, name := range seeds {
		s.sink.Info("  %s: %s", name, snap[name])
		if snap[name] == Failed {
			s.mu.Lock()
			reason := s.targets[name].reason
			s.mu.Unlock()
			failures = append(failures, builderr.TargetFailure{Target: name, Reason: reason})
		}
	}

	return builderr.BuildFailed(failures)
}

// register lazily creates the bookkeeping entry for name, if not already
// present. Safe to call more than once for the same name.
func (s *Scheduler) register(name string) *target {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.targets[name]; ok {
		return t
	}
	r, _ := s.graph.Get(name)
	t := &target{rule: r, state: Pending, done: make(chan struct{})}
	s.targets[name] = t
	return t
}

// build brings name to a terminal state, recursing into its
// prerequisites first. It is safe to call concurrently for the same
// name: only the first caller claims and builds the target; every other
// caller waits on its done channel.
func (s *Scheduler) build(ctx context.Context, name string) State {
	t := s.register(name)

	s.mu.Lock()
	if t.claimed {
		s.mu.Unlock()
		<-t.done
		return t.state
	}
	t.claimed = true
	s.mu.Unlock()

	finalState, reason := s.buildPrereqsThenSelf(ctx, name, t)

	s.mu.Lock()
	t.state = finalState
	t.reason = reason
	s.mu.Unlock()
	close(t.done)

	return finalState
}

// buildPrereqsThenSelf waits for every prerequisite of name to reach a
// terminal state, then runs name's own recipe. The target stays Pending
// while its prerequisites build, becomes Ready once they are all
// Complete, and becomes Building only after a job slot is acquired, so
// the number of targets observed in Building never exceeds Jobs.
func (s *Scheduler) buildPrereqsThenSelf(ctx context.Context, name string, t *target) (State, string) {
	prereqs := s.graph.Prerequisites(name)

	failedPrereq := ""
	if len(prereqs) > 0 {
		var wg sync.WaitGroup
		results := make([]State, len(prereqs))
		wg.Add(len(prereqs))
		for i, p := range prereqs {
			i, p := i, p
			go func() {
				defer wg.Done()
				results[i] = s.build(ctx, p)
			}()
		}
		wg.Wait()
		for i, r := range results {
			if r == Failed {
				failedPrereq = prereqs[i]
				break
			}
		}
	}

	if failedPrereq != "" {
		reason := fmt.Sprintf("prerequisite %q failed", failedPrereq)
		s.sink.Info("%s: not built, %s", name, reason)
		return Failed, reason
	}

	s.setState(t, Ready)
	s.sink.Info("%s: ready", name)

	if len(t.rule.Commands) == 0 {
		s.sink.Info("%s: done (nothing to run)", name)
		return Complete, ""
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return Failed, ctx.Err().Error()
	}
	defer func() { <-s.sem }()

	s.setState(t, Building)
	s.sink.Info("%s: building", name)
	if err := runRecipe(ctx, name, t.rule.Commands, s.opts.DryRun, s.sink); err != nil {
		s.sink.Error("%s: %v", name, err)
		return Failed, err.Error()
	}
	s.sink.Info("%s: done", name)
	return Complete, ""
}

func (s *Scheduler) setState(t *target, st State) {
	s.mu.Lock()
	t.state = st
	s.mu.Unlock()
}

// Snapshot returns the current state of every registered target.
func (s *Scheduler) Snapshot() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]State, len(s.targets))
	for name, t := range s.targets {
		out[name] = t.state
	}
	return out
}
