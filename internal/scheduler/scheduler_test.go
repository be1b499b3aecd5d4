package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallel-make/pmk/internal/builderr"
	"github.com/parallel-make/pmk/internal/depgraph"
	"github.com/parallel-make/pmk/internal/ruleset"
)

// recordingSink captures Info/Output/Error calls in arrival order, guarded
// by a mutex since multiple build workers report concurrently.
type recordingSink struct {
	mu      sync.Mutex
	infos   []string
	outputs map[string]string
	errors  []string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{outputs: make(map[string]string)}
}

func (s *recordingSink) Info(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infos = append(s.infos, fmt.Sprintf(format, args...))
}

func (s *recordingSink) Output(target, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[target] += text
}

func (s *recordingSink) Error(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, fmt.Sprintf(format, args...))
}

func buildGraph(t *testing.T, input string) *depgraph.Graph {
	t.Helper()
	rs, err := ruleset.Parse(strings.NewReader(input))
	require.NoError(t, err)
	g, err := depgraph.FromRuleSet(rs)
	require.NoError(t, err)
	return g
}

func TestSchedulerLinearChainSucceeds(t *testing.T) {
	g := buildGraph(t, "a: b\n\techo A\nb: c\n\techo B\nc:\n\techo C\n")
	sink := newRecordingSink()
	sched := New(g, sink, Options{Jobs: 2})

	required, err := g.RequiredClosure([]string{"a"}, nil)
	require.NoError(t, err)

	err = sched.Run(context.Background(), required)
	require.NoError(t, err)

	snap := sched.Snapshot()
	assert.Equal(t, Complete, snap["a"])
	assert.Equal(t, Complete, snap["b"])
	assert.Equal(t, Complete, snap["c"])
}

func TestSchedulerPropagatesFailureWithoutAbortingSiblings(t *testing.T) {
	g := buildGraph(t, "a: b\nb:\n\tfalse\nc:\n\techo C\n")
	sink := newRecordingSink()
	sched := New(g, sink, Options{Jobs: 2})

	required, err := g.RequiredClosure([]string{"a", "c"}, nil)
	require.NoError(t, err)

	err = sched.Run(context.Background(), required)
	require.Error(t, err)

	snap := sched.Snapshot()
	assert.Equal(t, Failed, snap["b"])
	assert.Equal(t, Failed, snap["a"])
	assert.Equal(t, Complete, snap["c"])

	// a was never run; it failed because its prerequisite b did, and the
	// reason names b.
	var bf *builderr.BuildFailedError
	require.ErrorAs(t, err, &bf)
	reasons := make(map[string]string)
	for _, f := range bf.Failures {
		reasons[f.Target] = f.Reason
	}
	assert.Contains(t, reasons["a"], `prerequisite "b" failed`)
	assert.Empty(t, sink.outputs["a"])
}

func TestSchedulerZeroCommandRuleCompletesImmediately(t *testing.T) {
	g := buildGraph(t, "leaf:\n")
	sink := newRecordingSink()
	sched := New(g, sink, Options{Jobs: 1})

	required, err := g.RequiredClosure([]string{"leaf"}, nil)
	require.NoError(t, err)

	err = sched.Run(context.Background(), required)
	require.NoError(t, err)
	assert.Equal(t, Complete, sched.Snapshot()["leaf"])
}

func TestSchedulerSerializesRecipesWhenJobsIsOne(t *testing.T) {
	// With one job slot the two independent recipes must not overlap: the
	// marker file has to show start/end pairs, never an interleaving. The
	// sleeps widen the overlap window enough that a broken gate would be
	// caught.
	marker := filepath.Join(t.TempDir(), "marker")
	rules := fmt.Sprintf(
		"a:\n\techo a-start >> %[1]s; sleep 0.05; echo a-end >> %[1]s\nb:\n\techo b-start >> %[1]s; sleep 0.05; echo b-end >> %[1]s\n",
		marker)
	g := buildGraph(t, rules)
	sink := newRecordingSink()
	sched := New(g, sink, Options{Jobs: 1})

	required, err := g.RequiredClosure([]string{"a", "b"}, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- sched.Run(context.Background(), required) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not finish in time")
	}

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	lines := strings.Fields(string(data))
	require.Len(t, lines, 4)
	assert.Equal(t, strings.TrimSuffix(lines[0], "-start")+"-end", lines[1])
	assert.Equal(t, strings.TrimSuffix(lines[2], "-start")+"-end", lines[3])
}

func TestSchedulerDiamondDependencyOrdering(t *testing.T) {
	g := buildGraph(t, "a: b c\n\techo A\nb: d\n\techo B\nc: d\n\techo C\nd:\n\techo D\n")
	sink := newRecordingSink()
	sched := New(g, sink, Options{Jobs: 2})

	required, err := g.RequiredClosure([]string{"a"}, nil)
	require.NoError(t, err)

	err = sched.Run(context.Background(), required)
	require.NoError(t, err)

	snap := sched.Snapshot()
	for _, name := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, Complete, snap[name], "target %q", name)
	}
}

func TestSchedulerCommandsRunInDeclarationOrder(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "marker")
	rules := fmt.Sprintf("a:\n\techo one >> %[1]s\n\techo two >> %[1]s\n\techo three >> %[1]s\n", marker)
	g := buildGraph(t, rules)
	sink := newRecordingSink()
	sched := New(g, sink, Options{Jobs: 4})

	required, err := g.RequiredClosure([]string{"a"}, nil)
	require.NoError(t, err)
	require.NoError(t, sched.Run(context.Background(), required))

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, strings.Fields(string(data)))
}

func TestSchedulerStopsRecipeAtFirstFailingCommand(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "marker")
	rules := fmt.Sprintf("a:\n\techo before >> %[1]s\n\tfalse\n\techo after >> %[1]s\n", marker)
	g := buildGraph(t, rules)
	sink := newRecordingSink()
	sched := New(g, sink, Options{Jobs: 1})

	required, err := g.RequiredClosure([]string{"a"}, nil)
	require.NoError(t, err)
	require.Error(t, sched.Run(context.Background(), required))

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, []string{"before"}, strings.Fields(string(data)))
}

func TestSchedulerDryRunSpawnsNothing(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "marker")
	g := buildGraph(t, fmt.Sprintf("a:\n\techo ran >> %s\n", marker))
	sink := newRecordingSink()
	sched := New(g, sink, Options{Jobs: 1, DryRun: true})

	required, err := g.RequiredClosure([]string{"a"}, nil)
	require.NoError(t, err)
	require.NoError(t, sched.Run(context.Background(), required))

	_, err = os.Stat(marker)
	assert.True(t, os.IsNotExist(err), "dry run must not execute commands")
}

func TestSchedulerCapturesStderrInFailureReason(t *testing.T) {
	g := buildGraph(t, "a:\n\techo boom >&2; exit 3\n")
	sink := newRecordingSink()
	sched := New(g, sink, Options{Jobs: 1})

	required, err := g.RequiredClosure([]string{"a"}, nil)
	require.NoError(t, err)

	err = sched.Run(context.Background(), required)
	var bf *builderr.BuildFailedError
	require.ErrorAs(t, err, &bf)
	require.Len(t, bf.Failures, 1)
	assert.Contains(t, bf.Failures[0].Reason, "boom")
}
