package commands

import (
	"git.home.luguber.info/inful/docstage/internal/declaration"
)

// NewCmd implements the 'new' command.
type NewCmd struct {
	ID     string   `arg:"" help:"Stage ID, e.g. guides/intro"`
	Output string   `short:"o" required:"" help:"Artifact path relative to the output root"`
	Deps   []string `short:"d" name:"dep" help:"Dependency reference (file path, glob or stage:<id>); repeatable"`
	Model  string   `help:"Model override for this stage"`
}

func (n *NewCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	path, err := declaration.Scaffold(cfg.Resolve(cfg.StagesDir), n.ID, n.Output, n.Deps, n.Model)
	if err != nil {
		return err
	}
	printf(g.out(), "Created %s\n", path)
	return nil
}
