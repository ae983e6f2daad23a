package commands

import (
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/docstage/internal/config"
	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
)

// InitCmd implements the 'init' command.
type InitCmd struct {
	Force  bool   `help:"Overwrite existing configuration file"`
	Output string `short:"o" name:"output" help:"Directory to write docstage.yaml into"`
}

func (i *InitCmd) Run(g *Global, root *CLI) error {
	cfgPath := root.Config
	if i.Output != "" {
		cfgPath = filepath.Join(i.Output, config.DefaultFileName)
	}
	printf(g.out(), "Writing configuration to %s\n", cfgPath)
	if err := config.Init(cfgPath, i.Force); err != nil {
		return err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	stagesDir := cfg.Resolve(cfg.StagesDir)
	if err := os.MkdirAll(stagesDir, 0o750); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "create stages directory").Build()
	}
	printf(g.out(), "Stage declarations go in %s\n", stagesDir)
	return nil
}
