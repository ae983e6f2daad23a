package commands

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/docstage/internal/contextpack"
	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
	"git.home.luguber.info/inful/docstage/internal/stage"
)

// ContextCmd implements the 'context' command. It shows the request the next
// build would send for a stage, which is useful when tuning instructions.
type ContextCmd struct {
	Stage  string `arg:"" help:"Stage ID"`
	Action string `help:"Render the request for this action instead of the planned one (GENERATE, UPDATE, RESTYLE, REFRESH)"`
}

func (c *ContextCmd) Run(g *Global, root *CLI) error {
	ctx := context.Background()
	ws, err := openWorkspace(ctx, root)
	if err != nil {
		return err
	}
	defer ws.Close()

	if err := requireStage(ws.proj.Graph, c.Stage); err != nil {
		return err
	}
	plan, err := computePlan(ctx, ws, false)
	if err != nil {
		return err
	}
	res, _ := plan.Get(c.Stage)

	if c.Action != "" {
		a, err := stage.ParseActionKind(c.Action)
		if err != nil {
			return errors.ValidationError(err.Error()).Build()
		}
		res.Action = a
	}
	if !res.Action.NeedsGeneration() {
		printf(g.out(), "stage %s is up to date (MAINTAIN); pass --action GENERATE to see a full request\n", c.Stage)
		return nil
	}
	if res.Action.UsesDiff() && !res.HasRecord {
		return errors.ValidationError(fmt.Sprintf("stage %q has never been built; %s needs a previous build", c.Stage, res.Action)).Build()
	}

	n, _ := ws.proj.Graph.Node(c.Stage)
	packer := &contextpack.Packer{
		Graph: ws.proj.Graph,
		Tree:  ws.proj.Tree,
		Store: ws.store,
		Root:  ws.proj.Root,
		Model: ws.cfg.Generator.Model,
	}
	req, err := packer.Pack(ctx, n, res)
	if err != nil {
		return err
	}
	if res.Predicted {
		printf(g.out(), "note: upstream stages will be rebuilt first; dependency content below is their current artifact\n\n")
	}
	return contextpack.Render(g.out(), req)
}
