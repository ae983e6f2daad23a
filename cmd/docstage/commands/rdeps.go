package commands

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
	"git.home.luguber.info/inful/docstage/internal/graph"
	"git.home.luguber.info/inful/docstage/internal/project"
)

// RdepsCmd implements the 'rdeps' command.
type RdepsCmd struct {
	Stage      string `arg:"" help:"Stage ID"`
	Transitive bool   `short:"t" help:"Include indirect dependents"`
}

func (r *RdepsCmd) Run(g *Global, root *CLI) error {
	ctx := context.Background()
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	p, err := project.Load(ctx, cfg)
	if err != nil {
		return err
	}
	if err := requireStage(p.Graph, r.Stage); err != nil {
		return err
	}

	deps := p.Graph.Dependents(r.Stage)
	if r.Transitive {
		deps = p.Graph.TransitiveDependents(r.Stage)
	}
	for _, id := range deps {
		printf(g.out(), "%s\n", id)
	}
	return nil
}

// requireStage fails with a "did you mean" hint when id is not declared.
func requireStage(gr *graph.Graph, id string) error {
	if _, ok := gr.Node(id); ok {
		return nil
	}
	ids := make([]string, 0, gr.Len())
	for _, n := range gr.Nodes() {
		ids = append(ids, n.ID())
	}
	msg := fmt.Sprintf("unknown stage %q", id)
	if s := graph.Suggest(id, ids); s != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", s)
	}
	return errors.ValidationError(msg).WithContext("stage", id).Build()
}
