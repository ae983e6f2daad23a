package commands

import (
	"context"
	"strconv"
	"time"

	"git.home.luguber.info/inful/docstage/internal/eventstore"
	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
	"git.home.luguber.info/inful/docstage/internal/project"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	Limit  int           `short:"n" default:"10" help:"Number of runs to show"`
	Stages bool          `short:"s" help:"List stage outcomes of each run"`
	Since  time.Duration `help:"Only show runs with activity within this duration (e.g. 24h)"`
}

func (h *HistoryCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	es, err := project.OpenEvents(cfg)
	if err != nil {
		return err
	}
	if es == nil {
		return errors.ConfigError("run history is disabled: set events.enabled in the configuration").Build()
	}
	defer func() { _ = es.Close() }()

	ctx := context.Background()
	var runs []*eventstore.RunSummary
	if h.Since > 0 {
		runs, err = eventstore.HistorySince(ctx, es, time.Now().Add(-h.Since), h.Limit)
	} else {
		runs, err = eventstore.History(ctx, es, h.Limit)
	}
	if err != nil {
		return err
	}

	tw := g.table()
	printf(tw, "RUN\tSTARTED\tSTATUS\tSTAGES\tCALLS\tEXIT\tDURATION\tVERSION\n")
	for _, r := range runs {
		calls, exit, dur, ver := "-", "-", "-", "-"
		if r.Version != "" {
			ver = r.Version
		}
		if r.Finished != nil {
			calls = strconv.Itoa(r.Finished.GenerationCalls)
			exit = strconv.Itoa(r.Finished.ExitCode)
			dur = (time.Duration(r.Finished.DurationMS) * time.Millisecond).String()
		}
		printf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			r.RunID, r.StartedAt.Local().Format(time.DateTime), r.Status, r.Started.Stages, calls, exit, dur, ver)
		if h.Stages {
			for _, s := range r.Stages {
				printf(tw, "  %s\t%s\t%s\t%d\t\t\t%s\n", s.Stage, s.Action, s.Outcome, s.Attempts,
					(time.Duration(s.DurationMS) * time.Millisecond).String())
			}
		}
	}
	return tw.Flush()
}
