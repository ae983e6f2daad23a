package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/docstage/cmd/docstage/commands"
	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
	"git.home.luguber.info/inful/docstage/internal/version"
)

func main() {
	cli := &commands.CLI{}
	parser := kong.Parse(cli,
		kong.Name("docstage"),
		kong.Description("Incremental stage builds for generated documentation."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
	)

	err := parser.Run(&commands.Global{Out: os.Stdout}, cli)
	errors.NewCLIErrorAdapter(cli.Verbose, slog.Default()).HandleError(err)
}
