// Package orchestrator executes a classified stage graph: it walks the ranks
// of the graph with a bounded worker pool, calls the generator for stages
// that need work, writes artifacts and commits fingerprint records.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/docstage/internal/classify"
	"git.home.luguber.info/inful/docstage/internal/contextpack"
	"git.home.luguber.info/inful/docstage/internal/eventstore"
	"git.home.luguber.info/inful/docstage/internal/generate"
	"git.home.luguber.info/inful/docstage/internal/graph"
	"git.home.luguber.info/inful/docstage/internal/logfields"
	"git.home.luguber.info/inful/docstage/internal/metrics"
	"git.home.luguber.info/inful/docstage/internal/retry"
	"git.home.luguber.info/inful/docstage/internal/stage"
	"git.home.luguber.info/inful/docstage/internal/store"
	"git.home.luguber.info/inful/docstage/internal/vcs"
)

// EventSink receives the run history. *eventstore.Emitter implements it.
type EventSink interface {
	RunStarted(ctx context.Context, runID string, meta eventstore.RunStartedMeta)
	StageFinished(ctx context.Context, runID string, meta eventstore.StageFinishedMeta)
	RunFinished(ctx context.Context, runID string, meta eventstore.RunFinishedMeta)
}

// Options tunes a run.
type Options struct {
	// Workers bounds concurrent generator calls; values below 1 mean 1.
	Workers int
	Policy  retry.Policy
	// Force overwrites artifacts that were edited by hand.
	Force bool
	// Model is the default model for stages without an override.
	Model string
	// RunID identifies the run; a random one is used when empty.
	RunID    string
	Recorder metrics.Recorder
	Events   EventSink
}

// Orchestrator runs builds over one validated graph.
type Orchestrator struct {
	graph      *graph.Graph
	tree       vcs.Tree
	store      store.Store
	gen        generate.Generator
	opts       Options
	classifier *classify.Classifier
	packer     *contextpack.Packer

	// commitMu serializes store writes; generation runs outside it.
	commitMu sync.Mutex
}

// New returns an orchestrator. root is the directory output locators are
// relative to.
func New(g *graph.Graph, tree vcs.Tree, st store.Store, gen generate.Generator, root string, opts Options) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Policy.Initial <= 0 {
		opts.Policy = retry.DefaultPolicy()
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	return &Orchestrator{
		graph:      g,
		tree:       tree,
		store:      st,
		gen:        gen,
		opts:       opts,
		classifier: classify.New(st, root, classify.Options{Force: opts.Force}),
		packer:     &contextpack.Packer{Graph: g, Tree: tree, Store: st, Root: root, Model: opts.Model},
	}
}

// run is the mutable state of one Run call.
type run struct {
	id    string
	calls atomic.Int64

	mu      sync.Mutex
	results map[string]*StageResult
	outputs map[string]string // stage ID -> current output hash, built and skipped only
}

func (r *run) result(id string) (StageResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[id]
	if !ok {
		return StageResult{}, false
	}
	return *res, true
}

func (r *run) finish(res StageResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[res.StageID] = &res
	if res.Outcome.Succeeded() {
		r.outputs[res.StageID] = res.OutputHash
	}
}

// outputsFor copies the current output hashes of the given stages.
func (r *run) outputsFor(ids []string) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if h, ok := r.outputs[id]; ok {
			out[id] = h
		}
	}
	return out
}

// Run executes every stage. Ranks run in order; within a rank at most
// Workers stages execute at once. Stage failures never abort the run; they
// are reported per stage and block the failed stage's dependents.
func (o *Orchestrator) Run(ctx context.Context) *Report {
	start := time.Now()
	r := &run{
		id:      o.opts.RunID,
		results: make(map[string]*StageResult, o.graph.Len()),
		outputs: make(map[string]string, o.graph.Len()),
	}
	if r.id == "" {
		r.id = uuid.NewString()
	}

	o.opts.Recorder.SetWorkers(o.opts.Workers)
	if o.opts.Events != nil {
		o.opts.Events.RunStarted(ctx, r.id, eventstore.RunStartedMeta{
			Stages:  o.graph.Len(),
			Workers: o.opts.Workers,
			Commit:  o.tree.Commit(),
			Force:   o.opts.Force,
		})
	}
	slog.Info("Build started", logfields.RunID(r.id), slog.Int("stages", o.graph.Len()), logfields.Workers(o.opts.Workers))

	sem := make(chan struct{}, o.opts.Workers)
	for rank, nodes := range o.graph.Ranks() {
		slog.Debug("Executing rank", logfields.RunID(r.id), logfields.Rank(rank), slog.Int("stages", len(nodes)))
		var wg sync.WaitGroup
		for _, n := range nodes {
			wg.Add(1)
			go func(n *graph.Node) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				res := o.execute(ctx, r, n)
				r.finish(res)
				o.record(ctx, r, res)
			}(n)
		}
		wg.Wait()
	}

	rep := &Report{
		RunID:           r.id,
		GenerationCalls: int(r.calls.Load()),
		Duration:        time.Since(start),
		byID:            make(map[string]int, o.graph.Len()),
	}
	for _, n := range o.graph.Order() {
		rep.byID[n.ID()] = len(rep.Stages)
		rep.Stages = append(rep.Stages, *r.results[n.ID()])
	}
	o.finishRun(ctx, rep)
	return rep
}

func (o *Orchestrator) record(ctx context.Context, r *run, res StageResult) {
	action := res.ActionLabel()
	o.opts.Recorder.ObserveStageDuration(action, res.Duration)
	o.opts.Recorder.IncStageResult(action, string(res.Outcome))

	attrs := []any{
		logfields.RunID(r.id),
		logfields.Stage(res.StageID),
		logfields.Action(action),
		logfields.Outcome(string(res.Outcome)),
		logfields.Duration(res.Duration),
	}
	switch res.Outcome {
	case stage.OutcomeBuilt:
		slog.Info("Stage built", append(attrs, logfields.Attempt(res.Attempts))...)
	case stage.OutcomeSkipped:
		slog.Debug("Stage unchanged", attrs...)
	case stage.OutcomeFailed:
		slog.Error("Stage failed", append(attrs, logfields.Attempt(res.Attempts), logfields.Error(res.Err))...)
	case stage.OutcomeBlocked, stage.OutcomeCanceled:
		slog.Warn("Stage not built", append(attrs, logfields.Error(res.Err))...)
	}

	if o.opts.Events != nil {
		meta := eventstore.StageFinishedMeta{
			Stage:      res.StageID,
			Action:     action,
			Outcome:    string(res.Outcome),
			Attempts:   res.Attempts,
			DurationMS: res.Duration.Milliseconds(),
		}
		if res.Err != nil {
			meta.Error = res.Err.Error()
		}
		o.opts.Events.StageFinished(ctx, r.id, meta)
	}
}

func (o *Orchestrator) finishRun(ctx context.Context, rep *Report) {
	counts := rep.Count()
	label := metrics.BuildOutcomeSuccess
	switch {
	case counts[stage.OutcomeCanceled] > 0 || ctx.Err() != nil:
		label = metrics.BuildOutcomeCanceled
	case counts[stage.OutcomeBuilt]+counts[stage.OutcomeSkipped] == 0 && len(rep.Stages) > 0:
		label = metrics.BuildOutcomeFailed
	case !rep.Succeeded():
		label = metrics.BuildOutcomePartial
	}
	o.opts.Recorder.ObserveBuildDuration(rep.Duration)
	o.opts.Recorder.IncBuildOutcome(label)

	outcomes := make(map[string]int, len(counts))
	for k, v := range counts {
		outcomes[string(k)] = v
	}
	if o.opts.Events != nil {
		o.opts.Events.RunFinished(ctx, rep.RunID, eventstore.RunFinishedMeta{
			Outcomes:        outcomes,
			GenerationCalls: rep.GenerationCalls,
			ExitCode:        rep.ExitCode(),
			DurationMS:      rep.Duration.Milliseconds(),
		})
	}
	slog.Info("Build finished",
		logfields.RunID(rep.RunID),
		slog.String("outcome", string(label)),
		slog.Int("built", counts[stage.OutcomeBuilt]),
		slog.Int("skipped", counts[stage.OutcomeSkipped]),
		slog.Int("failed", counts[stage.OutcomeFailed]),
		slog.Int("blocked", counts[stage.OutcomeBlocked]),
		slog.Int("canceled", counts[stage.OutcomeCanceled]),
		slog.Int("generation_calls", rep.GenerationCalls),
		logfields.Duration(rep.Duration))
}
