// Package graph builds and validates the stage graph from declarations and
// answers ordering and dependency queries over it.
package graph

import (
	stderrors "errors"
	"fmt"
	"sort"

	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
	"git.home.luguber.info/inful/docstage/internal/stage"
	"git.home.luguber.info/inful/docstage/internal/vcs"
)

// Input is one resolved dependency reference. A literal path resolves to one
// file or one stage; a glob may resolve to several of each.
type Input struct {
	Ref    stage.DependencyReference
	Files  []vcs.File // sorted by path
	Stages []string   // stage IDs, in declaration order
}

// Node is a stage together with its resolved inputs.
type Node struct {
	Stage  stage.Stage
	Inputs []Input
}

// ID returns the stage identifier.
func (n *Node) ID() string { return n.Stage.ID }

// Graph is an immutable, validated stage graph. It is safe for concurrent reads.
type Graph struct {
	nodes    []*Node // declaration order
	byID     map[string]int
	byOutput map[string]int

	deps       [][]int // stage dependencies per node, ascending
	dependents [][]int // reverse edges per node, ascending

	order []int // topological, ties by declaration order
	depth []int
}

// Build resolves every dependency of stages against tree and validates the
// result. All structural problems are returned together as a joined error;
// no partial graph is returned.
func Build(stages []stage.Stage, tree vcs.Tree) (*Graph, error) {
	g := &Graph{
		byID:     make(map[string]int, len(stages)),
		byOutput: make(map[string]int, len(stages)),
	}
	var problems []error

	for _, s := range stages {
		if _, dup := g.byID[s.ID]; dup {
			problems = append(problems, errors.MalformedDeclaration(s.Source, fmt.Sprintf("duplicate stage identifier %q", s.ID)).
				WithContext("stage", s.ID).Build())
			continue
		}
		if s.Output == "" {
			problems = append(problems, errors.MalformedDeclaration(s.Source, fmt.Sprintf("stage %q: output is required", s.ID)).
				WithContext("stage", s.ID).Build())
			continue
		}
		if owner, dup := g.byOutput[s.Output]; dup {
			problems = append(problems, errors.MalformedDeclaration(s.Source,
				fmt.Sprintf("stage %q: output %s is already produced by stage %q", s.ID, s.Output, g.nodes[owner].ID())).
				WithContext("stage", s.ID).WithContext("path", s.Output).Build())
			continue
		}
		idx := len(g.nodes)
		g.nodes = append(g.nodes, &Node{Stage: s})
		g.byID[s.ID] = idx
		g.byOutput[s.Output] = idx
	}

	r := newResolver(g, tree)
	g.deps = make([][]int, len(g.nodes))
	for i, n := range g.nodes {
		edges := map[int]struct{}{}
		for _, ref := range n.Stage.Deps {
			in, err := r.resolve(n, ref)
			if err != nil {
				problems = append(problems, err)
				continue
			}
			for _, id := range in.Stages {
				edges[g.byID[id]] = struct{}{}
			}
			n.Inputs = append(n.Inputs, in)
		}
		for e := range edges {
			g.deps[i] = append(g.deps[i], e)
		}
		sort.Ints(g.deps[i])
	}

	g.dependents = make([][]int, len(g.nodes))
	for i, ds := range g.deps {
		for _, d := range ds {
			g.dependents[d] = append(g.dependents[d], i)
		}
	}

	g.order = g.topoOrder()
	if len(g.order) != len(g.nodes) {
		for _, cycle := range g.findCycles() {
			problems = append(problems, errors.CycleDetected(cycle).Build())
		}
	}

	if len(problems) > 0 {
		return nil, stderrors.Join(problems...)
	}
	g.depth = g.computeDepth()
	return g, nil
}

// Len returns the number of stages.
func (g *Graph) Len() int { return len(g.nodes) }

// Node returns the node for a stage ID.
func (g *Graph) Node(id string) (*Node, bool) {
	i, ok := g.byID[id]
	if !ok {
		return nil, false
	}
	return g.nodes[i], true
}

// Nodes returns the nodes in declaration order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// OwnerOf returns the stage producing output path p.
func (g *Graph) OwnerOf(p string) (*Node, bool) {
	i, ok := g.byOutput[p]
	if !ok {
		return nil, false
	}
	return g.nodes[i], true
}

// Order returns the nodes so that every dependency precedes its dependents.
// Among stages that are ready at the same time, declaration order wins.
func (g *Graph) Order() []*Node {
	return g.pick(g.order)
}

// Ranks groups nodes by depth: rank 0 has no stage dependencies and every
// other stage sits one rank below its deepest dependency. Members of a rank
// keep declaration order.
func (g *Graph) Ranks() [][]*Node {
	maxDepth := -1
	for _, d := range g.depth {
		if d > maxDepth {
			maxDepth = d
		}
	}
	ranks := make([][]*Node, maxDepth+1)
	for i, d := range g.depth {
		ranks[d] = append(ranks[d], g.nodes[i])
	}
	return ranks
}

// Rank returns the depth of a stage.
func (g *Graph) Rank(id string) (int, bool) {
	i, ok := g.byID[id]
	if !ok {
		return 0, false
	}
	return g.depth[i], true
}

// Dependencies returns the stages id depends on directly, in declaration order.
func (g *Graph) Dependencies(id string) []string {
	i, ok := g.byID[id]
	if !ok {
		return nil
	}
	return g.ids(g.deps[i])
}

// Dependents returns the stages that depend on id directly, in declaration order.
func (g *Graph) Dependents(id string) []string {
	i, ok := g.byID[id]
	if !ok {
		return nil
	}
	return g.ids(g.dependents[i])
}

// TransitiveDependents returns every stage reachable through reverse edges
// from id, in topological order.
func (g *Graph) TransitiveDependents(id string) []string {
	start, ok := g.byID[id]
	if !ok {
		return nil
	}
	seen := map[int]bool{}
	stack := append([]int(nil), g.dependents[start]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, g.dependents[n]...)
	}
	var out []string
	for _, n := range g.order {
		if seen[n] {
			out = append(out, g.nodes[n].ID())
		}
	}
	return out
}

func (g *Graph) pick(idx []int) []*Node {
	out := make([]*Node, 0, len(idx))
	for _, i := range idx {
		out = append(out, g.nodes[i])
	}
	return out
}

func (g *Graph) ids(idx []int) []string {
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		out = append(out, g.nodes[i].ID())
	}
	return out
}
