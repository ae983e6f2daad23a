package commands

import "git.home.luguber.info/inful/docstage/internal/version"

// VersionCmd implements the 'version' command.
type VersionCmd struct{}

func (v *VersionCmd) Run(g *Global, _ *CLI) error {
	printf(g.out(), "%s\n", version.String())
	return nil
}
