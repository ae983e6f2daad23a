package graph

import (
	"fmt"

	"github.com/sahilm/fuzzy"

	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
	"git.home.luguber.info/inful/docstage/internal/stage"
	"git.home.luguber.info/inful/docstage/internal/vcs"
)

// resolver turns dependency references into inputs. Matching is exact: a
// literal path is a stage output or a file, never a near miss. Near misses
// only feed the suggestion in DependencyMissing.
type resolver struct {
	g    *Graph
	tree vcs.Tree

	candidates []string // lazily built for suggestions
}

func newResolver(g *Graph, tree vcs.Tree) *resolver {
	return &resolver{g: g, tree: tree}
}

func (r *resolver) resolve(n *Node, ref stage.DependencyReference) (Input, error) {
	in := Input{Ref: ref}
	id := n.ID()

	switch ref.Kind {
	case stage.RefStage:
		if _, ok := r.g.byID[ref.Target]; !ok {
			return in, errors.DependencyMissingWithSuggestion(id, ref.Raw, Suggest(ref.Target, r.stageIDs())).Build()
		}
		in.Stages = []string{ref.Target}
		return in, nil

	case stage.RefFile:
		if owner, ok := r.g.byOutput[ref.Target]; ok {
			in.Stages = []string{r.g.nodes[owner].ID()}
			return in, nil
		}
		if f, ok := r.tree.Lookup(ref.Target); ok {
			in.Files = []vcs.File{f}
			return in, nil
		}
		return in, errors.DependencyMissingWithSuggestion(id, ref.Raw, Suggest(ref.Target, r.allCandidates())).Build()

	case stage.RefGlob:
		// stage outputs are matched by name so outputs that do not exist yet
		// still create edges; the stage's own output never matches itself
		for _, other := range r.g.nodes {
			if other == n {
				continue
			}
			if vcs.MatchGlob(ref.Target, other.Stage.Output) {
				in.Stages = append(in.Stages, other.ID())
			}
		}
		files, err := r.tree.Match(ref.Target)
		if err != nil {
			return in, errors.MalformedDeclaration(n.Stage.Source, fmt.Sprintf("stage %q: invalid pattern %q", id, ref.Raw)).
				WithCause(err).WithContext("stage", id).Build()
		}
		for _, f := range files {
			if _, isOutput := r.g.byOutput[f.Path]; isOutput {
				continue
			}
			in.Files = append(in.Files, f)
		}
		if len(in.Files) == 0 && len(in.Stages) == 0 {
			return in, errors.DependencyMissing(id, ref.Raw).WithContext("pattern", ref.Target).Build()
		}
		return in, nil
	}
	return in, errors.MalformedDeclaration(n.Stage.Source, fmt.Sprintf("stage %q: unsupported dependency kind %q", id, ref.Kind)).Build()
}

func (r *resolver) stageIDs() []string {
	out := make([]string, 0, len(r.g.nodes))
	for _, n := range r.g.nodes {
		out = append(out, n.ID())
	}
	return out
}

func (r *resolver) allCandidates() []string {
	if r.candidates == nil {
		r.candidates = append(r.tree.Paths(), r.stageOutputs()...)
	}
	return r.candidates
}

func (r *resolver) stageOutputs() []string {
	out := make([]string, 0, len(r.g.nodes))
	for _, n := range r.g.nodes {
		out = append(out, n.Stage.Output)
	}
	return out
}

// Suggest returns the closest fuzzy match for target among candidates, or ""
// when nothing matches. It is used only to phrase error messages.
func Suggest(target string, candidates []string) string {
	if target == "" || len(candidates) == 0 {
		return ""
	}
	matches := fuzzy.Find(target, candidates)
	if len(matches) == 0 {
		return ""
	}
	best := matches[0]
	if best.Str == target {
		return ""
	}
	return best.Str
}
