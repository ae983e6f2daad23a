package commands

import (
	"context"

	"git.home.luguber.info/inful/docstage/internal/project"
)

// ValidateCmd implements the 'validate' command. Every structural problem is
// reported at once; the exit code is 1 when any is found.
type ValidateCmd struct{}

func (v *ValidateCmd) Run(g *Global, root *CLI) error {
	ctx := context.Background()
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	p, err := project.Load(ctx, cfg)
	if err != nil {
		return err
	}
	ranks := p.Graph.Ranks()
	printf(g.out(), "%d stages in %d ranks, commit %s\n", p.Graph.Len(), len(ranks), p.Tree.Commit())
	for i, rank := range ranks {
		ids := make([]string, 0, len(rank))
		for _, n := range rank {
			ids = append(ids, n.ID())
		}
		printf(g.out(), "  rank %d: %s\n", i, joinOrDash(ids))
	}
	return nil
}
