// Package depgraph stores parsed rules as a gonum directed graph and
// provides the operations the scheduler needs: topological ordering, cycle
// detection, and the transitive prerequisite closure of a set of requested
// targets.
//
// Edges are stored prerequisite → target (the reverse of the "target
// depends on prerequisite" relation), because that orientation is what
// makes gonum's topo.Sort hand back a leaves-first order directly. Every
// exported method restores the target-depends-on-prerequisite vocabulary,
// so callers never need to know which way the edges point internally.
package depgraph

import (
	"errors"

	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/parallel-make/pmk/internal/builderr"
	"github.com/parallel-make/pmk/internal/ruleset"
)

type node struct{ id int64 }

func (n node) ID() int64 { return n.id }

// Graph is the dependency graph over a parsed RuleSet.
type Graph struct {
	g             *simple.DirectedGraph
	rules         map[string]*ruleset.Rule
	idOf          map[string]int64
	nameOf        map[int64]string
	defaultTarget string
	wired         bool
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		g:      simple.NewDirectedGraph(),
		rules:  make(map[string]*ruleset.Rule),
		idOf:   make(map[string]int64),
		nameOf: make(map[int64]string),
	}
}

// FromRuleSet builds a Graph from every rule in rs and validates that all
// prerequisites resolve to defined targets.
func FromRuleSet(rs *ruleset.RuleSet) (*Graph, error) {
	g := New()
	for _, r := range rs.Rules {
		if err := g.Add(r); err != nil {
			return nil, err
		}
	}
	if err := g.wireEdges(); err != nil {
		return nil, err
	}
	g.defaultTarget = rs.DefaultTarget
	return g, nil
}

// Add inserts a rule, failing with *builderr.DuplicateError if the target
// is already defined.
func (g *Graph) Add(r *ruleset.Rule) error {
	if _, exists := g.rules[r.Target]; exists {
		return &builderr.DuplicateError{Target: r.Target}
	}
	id := int64(len(g.idOf))
	g.idOf[r.Target] = id
	g.nameOf[id] = r.Target
	g.rules[r.Target] = r
	g.g.AddNode(node{id})
	g.wired = false
	return nil
}

// Get returns the rule for name, if defined.
func (g *Graph) Get(name string) (*ruleset.Rule, bool) {
	r, ok := g.rules[name]
	return r, ok
}

// DefaultTarget is the target of the first rule encountered while parsing,
// or "" if the rule file defined none.
func (g *Graph) DefaultTarget() string { return g.defaultTarget }

// wireEdges validates every prerequisite reference and installs the
// corresponding graph edges. It is idempotent: calling it again after more
// rules have been Add-ed simply re-derives the edge set.
func (g *Graph) wireEdges() error {
	for name, r := range g.rules {
		to := g.idOf[name]
		for _, p := range r.Prerequisites {
			from, ok := g.idOf[p]
			if !ok {
				return builderr.MissingTarget(p)
			}
			// gonum panics on self-edges; a target depending on itself is
			// the one-node cycle.
			if from == to {
				return builderr.CircularDependency([]string{name})
			}
			g.g.SetEdge(g.g.NewEdge(node{from}, node{to}))
		}
	}
	g.wired = true
	return nil
}

func (g *Graph) ensureWired() error {
	if g.wired {
		return nil
	}
	return g.wireEdges()
}

// Prerequisites returns the direct prerequisites of name, in no particular
// order.
func (g *Graph) Prerequisites(name string) []string {
	id, ok := g.idOf[name]
	if !ok {
		return nil
	}
	var out []string
	it := g.g.To(id)
	for it.Next() {
		out = append(out, g.nameOf[it.Node().ID()])
	}
	return out
}

// Dependents returns the targets that directly depend on name.
func (g *Graph) Dependents(name string) []string {
	id, ok := g.idOf[name]
	if !ok {
		return nil
	}
	var out []string
	it := g.g.From(id)
	for it.Next() {
		out = append(out, g.nameOf[it.Node().ID()])
	}
	return out
}

// TopoSort returns every target, leaves (no-prerequisite targets) first, or
// a *builderr.CircularDependencyError / *builderr.MissingTargetError.
func (g *Graph) TopoSort() ([]string, error) {
	if err := g.ensureWired(); err != nil {
		return nil, err
	}
	ordered, err := topo.Sort(g.g)
	if err != nil {
		if unorderable, ok := err.(topo.Unorderable); ok {
			var cycle []string
			for _, component := range unorderable {
				for _, n := range component {
					cycle = append(cycle, g.nameOf[n.ID()])
				}
			}
			return nil, builderr.CircularDependency(cycle)
		}
		return nil, xerrors.Errorf("topological sort: %w", err)
	}
	names := make([]string, len(ordered))
	for i, n := range ordered {
		names[i] = g.nameOf[n.ID()]
	}
	return names, nil
}

// DetectCycle is a boolean convenience over TopoSort.
func (g *Graph) DetectCycle() bool {
	_, err := g.TopoSort()
	var cycleErr *builderr.CircularDependencyError
	return errors.As(err, &cycleErr)
}

// RequiredClosure returns the transitive prerequisite closure of requested:
// requested itself plus every prerequisite reachable from it. Names in
// requested that do not resolve to a defined rule are reported via warn
// and omitted from the result — they are not a hard error by themselves.
func (g *Graph) RequiredClosure(requested []string, warn func(name string)) (map[string]bool, error) {
	if err := g.ensureWired(); err != nil {
		return nil, err
	}
	required := make(map[string]bool)
	var stack []string
	for _, name := range requested {
		if _, ok := g.rules[name]; !ok {
			if warn != nil {
				warn(name)
			}
			continue
		}
		stack = append(stack, name)
	}
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if required[name] {
			continue
		}
		required[name] = true
		for _, p := range g.Prerequisites(name) {
			if !required[p] {
				stack = append(stack, p)
			}
		}
	}
	return required, nil
}

// DebugRule is the exported, pretty-printable view of one rule, used by
// the -d/--dump flag to print the parsed graph.
type DebugRule struct {
	Target        string
	Prerequisites []string
	Commands      []string
}

// DebugDump returns every rule in the graph as plain structs, suitable for
// sanity-io/litter to pretty-print.
func (g *Graph) DebugDump() []DebugRule {
	out := make([]DebugRule, 0, len(g.rules))
	for _, r := range g.rules {
		out = append(out, DebugRule{
			Target:        r.Target,
			Prerequisites: r.Prerequisites,
			Commands:      r.Commands,
		})
	}
	return out
}
