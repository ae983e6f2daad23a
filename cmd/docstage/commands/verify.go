package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/docstage/internal/generate"
	"git.home.luguber.info/inful/docstage/internal/project"
	"git.home.luguber.info/inful/docstage/internal/verify"
)

// VerifyCmd implements the 'verify' command.
type VerifyCmd struct {
	Strict     bool `help:"Exit with status 2 when any finding is reported"`
	All        bool `help:"Also re-derive unchanged stages to expose nondeterministic generation"`
	NoRederive bool `name:"no-rederive" help:"Only check signatures and records; never call the generator"`
}

func (v *VerifyCmd) Run(g *Global, root *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ws, err := openWorkspace(ctx, root)
	if err != nil {
		return err
	}
	defer ws.Close()

	var gen generate.Generator
	if !v.NoRederive {
		if gen, err = project.NewGenerator(ws.cfg); err != nil {
			return err
		}
	}

	verifier := verify.New(ws.proj.Graph, ws.proj.Tree, ws.store, gen, ws.proj.Root, verify.Options{
		All:   v.All,
		Model: ws.cfg.Generator.Model,
	})
	res, err := verifier.Verify(ctx)
	if err != nil {
		return err
	}

	for _, f := range res.Findings {
		printf(g.out(), "%s\t%s\t%s\n", f.Code, f.StageID, f.Path)
		if f.Diff != "" {
			printf(g.out(), "%s\n", f.Diff)
		}
	}
	for _, id := range res.Stale {
		printf(g.out(), "stale record\t%s\n", id)
	}
	printf(g.out(), "%d finding(s), %d stage(s) re-derived, %d stale record(s)\n", len(res.Findings), res.Regenerated, len(res.Stale))
	if len(res.Findings) > 0 && !v.Strict {
		slog.Info("Findings do not affect the exit status without --strict")
	}
	return res.Err(v.Strict)
}
