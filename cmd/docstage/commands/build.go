package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/docstage/internal/config"
	"git.home.luguber.info/inful/docstage/internal/eventstore"
	"git.home.luguber.info/inful/docstage/internal/generate"
	"git.home.luguber.info/inful/docstage/internal/metrics"
	"git.home.luguber.info/inful/docstage/internal/orchestrator"
	"git.home.luguber.info/inful/docstage/internal/project"
	"git.home.luguber.info/inful/docstage/internal/retry"
	"git.home.luguber.info/inful/docstage/internal/stage"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Workers int  `short:"w" help:"Concurrent generator calls (overrides build.workers)"`
	Force   bool `help:"Overwrite artifacts that were edited by hand"`
	DryRun  bool `name:"dry-run" help:"Print the plan and exit without generating"`
}

func (b *BuildCmd) Run(g *Global, root *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ws, err := openWorkspace(ctx, root)
	if err != nil {
		return err
	}
	defer ws.Close()

	if b.DryRun {
		plan, err := computePlan(ctx, ws, b.Force)
		if err != nil {
			return err
		}
		writePlan(g, ws.proj.Graph, plan)
		return nil
	}

	runner, err := newBuildRunner(ws.cfg, prom.NewRegistry())
	if err != nil {
		return err
	}
	defer runner.Close()

	rep := runner.run(ctx, ws, b.Workers, b.Force)
	writeReport(g, rep)
	return rep.Err()
}

// buildRunner owns what outlives a single run: the generator, the metrics
// registry and the run history.
type buildRunner struct {
	cfg      *config.Config
	gen      generate.Generator
	reg      *prom.Registry
	recorder *metrics.PrometheusRecorder
	history  *eventstore.SQLiteStore
	events   orchestrator.EventSink
}

func newBuildRunner(cfg *config.Config, reg *prom.Registry) (*buildRunner, error) {
	gen, err := project.NewGenerator(cfg)
	if err != nil {
		return nil, err
	}
	history, err := project.OpenEvents(cfg)
	if err != nil {
		return nil, err
	}
	r := &buildRunner{
		cfg:      cfg,
		gen:      gen,
		reg:      reg,
		recorder: metrics.NewPrometheusRecorder(reg),
	}
	if history != nil {
		r.history = history
		r.events = eventstore.NewEmitter(history)
	}
	return r, nil
}

// run executes one build over ws. workers overrides the configured limit when positive.
func (r *buildRunner) run(ctx context.Context, ws *workspace, workers int, force bool) *orchestrator.Report {
	if workers <= 0 {
		workers = r.cfg.Build.Workers
	}
	o := orchestrator.New(ws.proj.Graph, ws.proj.Tree, ws.store, r.gen, ws.proj.Root, orchestrator.Options{
		Workers:  workers,
		Policy:   retry.FromConfig(r.cfg.Build.Retry),
		Force:    force,
		Model:    r.cfg.Generator.Model,
		Recorder: r.recorder,
		Events:   r.events,
	})
	rep := o.Run(ctx)

	if path := r.cfg.Metrics.Textfile; path != "" {
		if err := metrics.WriteTextfile(r.reg, r.cfg.Resolve(path)); err != nil {
			slog.Warn("Failed to write metrics textfile", "path", path, "error", err)
		}
	}
	return rep
}

func (r *buildRunner) Close() {
	if r.history == nil {
		return
	}
	if err := r.history.Close(); err != nil {
		slog.Warn("Failed to close run history", "error", err)
	}
}

func writeReport(g *Global, rep *orchestrator.Report) {
	tw := g.table()
	printf(tw, "STAGE\tACTION\tOUTCOME\tATTEMPTS\tDURATION\tOUTPUT\n")
	for _, s := range rep.Stages {
		printf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			s.StageID, s.ActionLabel(), s.Outcome, s.Attempts,
			s.Duration.Round(time.Millisecond), short(s.OutputHash))
	}
	_ = tw.Flush()

	counts := rep.Count()
	printf(g.out(), "\nrun %s: %d built, %d skipped, %d failed, %d blocked, %d canceled; %d generator calls in %s\n",
		rep.RunID,
		counts[stage.OutcomeBuilt], counts[stage.OutcomeSkipped], counts[stage.OutcomeFailed],
		counts[stage.OutcomeBlocked], counts[stage.OutcomeCanceled],
		rep.GenerationCalls, rep.Duration.Round(time.Millisecond))
}
