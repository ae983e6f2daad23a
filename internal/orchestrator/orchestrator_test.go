package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/docstage/internal/config"
	"git.home.luguber.info/inful/docstage/internal/eventstore"
	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
	"git.home.luguber.info/inful/docstage/internal/generate"
	"git.home.luguber.info/inful/docstage/internal/graph"
	"git.home.luguber.info/inful/docstage/internal/metrics"
	"git.home.luguber.info/inful/docstage/internal/retry"
	"git.home.luguber.info/inful/docstage/internal/stage"
	"git.home.luguber.info/inful/docstage/internal/store"
	"git.home.luguber.info/inful/docstage/internal/vcs"
)

// fakeGen renders a document from the request so that any change in the
// payload changes the output. It records every request it receives.
type fakeGen struct {
	mu       sync.Mutex
	requests []generate.Request
	fail     func(req generate.Request) error
}

func (g *fakeGen) Generate(_ context.Context, req generate.Request) (generate.Response, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	if g.fail != nil {
		if err := g.fail(req); err != nil {
			return generate.Response{}, err
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n\n", req.Stage, req.Instructions)
	for _, d := range req.Dependencies {
		sum := sha256.Sum256([]byte(d.Content + d.Diff + req.Current))
		fmt.Fprintf(&b, "- %s %s\n", d.Path, hex.EncodeToString(sum[:4]))
	}
	return generate.Response{Text: b.String()}, nil
}

func (g *fakeGen) actions() map[string]stage.ActionKind {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]stage.ActionKind)
	for _, r := range g.requests {
		out[r.Stage] = r.Action
	}
	return out
}

func (g *fakeGen) last(id string) generate.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(g.requests) - 1; i >= 0; i-- {
		if g.requests[i].Stage == id {
			return g.requests[i]
		}
	}
	return generate.Request{}
}

func (g *fakeGen) reset() {
	g.mu.Lock()
	g.requests = nil
	g.mu.Unlock()
}

type project struct {
	t      *testing.T
	root   string
	store  store.Store
	stages []stage.Stage
	opts   Options
}

func newProject(t *testing.T, stages ...stage.Stage) *project {
	t.Helper()
	st, err := store.NewFSStore(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)
	return &project{
		t:      t,
		root:   t.TempDir(),
		store:  st,
		stages: stages,
		opts: Options{
			Workers: 4,
			Policy:  retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, 3),
		},
	}
}

func mk(index int, id, instructions string, deps ...string) stage.Stage {
	s := stage.Stage{ID: id, Output: "out/" + id + ".md", Source: id + ".md", Instructions: instructions, Index: index}
	for _, d := range deps {
		s.Deps = append(s.Deps, stage.ParseReference(d))
	}
	return s
}

func (p *project) write(rel, content string) {
	path := filepath.Join(p.root, filepath.FromSlash(rel))
	require.NoError(p.t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(p.t, os.WriteFile(path, []byte(content), 0o600))
}

func (p *project) read(rel string) []byte {
	data, err := os.ReadFile(filepath.Join(p.root, filepath.FromSlash(rel)))
	require.NoError(p.t, err)
	return data
}

func (p *project) orchestrator(gen generate.Generator) *Orchestrator {
	tree, err := vcs.OpenDir(p.root, vcs.Options{})
	require.NoError(p.t, err)
	g, err := graph.Build(p.stages, tree)
	require.NoError(p.t, err)
	return New(g, tree, p.store, gen, p.root, p.opts)
}

func (p *project) run(gen generate.Generator) *Report {
	return p.orchestrator(gen).Run(context.Background())
}

func outcomes(rep *Report) map[string]stage.Outcome {
	out := make(map[string]stage.Outcome)
	for _, s := range rep.Stages {
		out[s.StageID] = s.Outcome
	}
	return out
}

func chain(t *testing.T) *project {
	p := newProject(t,
		mk(0, "a", "summarize the source", "src/a.txt"),
		mk(1, "b", "expand a", "stage:a"),
		mk(2, "c", "condense b", "stage:b"),
	)
	p.write("src/a.txt", "alpha\nbeta\ngamma\n")
	return p
}

func TestFourRunScenario(t *testing.T) {
	p := chain(t)
	gen := &fakeGen{}

	// first run: nothing recorded
	rep := p.run(gen)
	require.Equal(t, 0, rep.ExitCode())
	require.NoError(t, rep.Err())
	require.Equal(t, 3, rep.GenerationCalls)
	require.Equal(t, map[string]stage.ActionKind{
		"a": stage.ActionGenerate, "b": stage.ActionGenerate, "c": stage.ActionGenerate,
	}, gen.actions())
	for _, s := range rep.Stages {
		require.Equal(t, stage.OutcomeBuilt, s.Outcome, s.StageID)
		require.Equal(t, 1, s.Attempts)
	}

	// second run: nothing changed
	before := map[string][]byte{"a": p.read("out/a.md"), "b": p.read("out/b.md"), "c": p.read("out/c.md")}
	gen.reset()
	rep = p.run(gen)
	require.Equal(t, 0, rep.GenerationCalls)
	require.Empty(t, gen.actions())
	for _, s := range rep.Stages {
		require.Equal(t, stage.ActionMaintain, s.Action, s.StageID)
		require.Equal(t, stage.OutcomeSkipped, s.Outcome, s.StageID)
		require.Equal(t, before[s.StageID], p.read("out/"+s.StageID+".md"))
	}

	// third run: only a's source edited
	p.write("src/a.txt", "alpha\nBETA\ngamma\n")
	gen.reset()
	rep = p.run(gen)
	require.Equal(t, 0, rep.ExitCode())
	require.Equal(t, map[string]stage.ActionKind{
		"a": stage.ActionUpdate, "b": stage.ActionUpdate, "c": stage.ActionUpdate,
	}, gen.actions())
	reqA := gen.last("a")
	require.Len(t, reqA.Dependencies, 1)
	require.True(t, reqA.Dependencies[0].Changed)
	require.Contains(t, reqA.Dependencies[0].Diff, "-beta")
	require.Contains(t, reqA.Dependencies[0].Diff, "+BETA")
	require.NotEmpty(t, reqA.Current)
	reqB := gen.last("b")
	require.Len(t, reqB.Dependencies, 1)
	require.NotEmpty(t, reqB.Dependencies[0].Diff, "stage output changes are sent as a diff")

	// fourth run: only b's instructions edited
	p.stages[1].Instructions = "expand a, formally"
	gen.reset()
	aBefore := p.read("out/a.md")
	rep = p.run(gen)
	require.Equal(t, 0, rep.ExitCode())
	res, ok := rep.Get("a")
	require.True(t, ok)
	require.Equal(t, stage.ActionMaintain, res.Action)
	require.Equal(t, aBefore, p.read("out/a.md"))
	require.Equal(t, map[string]stage.ActionKind{
		"b": stage.ActionRestyle, "c": stage.ActionUpdate,
	}, gen.actions())
	require.Equal(t, 2, rep.GenerationCalls)

	// and a fifth run is a no-op again
	gen.reset()
	rep = p.run(gen)
	require.Equal(t, 0, rep.GenerationCalls)
}

func TestRecordWrittenAfterArtifact(t *testing.T) {
	p := chain(t)
	rep := p.run(&fakeGen{})
	require.True(t, rep.Succeeded())

	for _, id := range []string{"a", "b", "c"} {
		rec, ok, err := p.store.VerifyGet(context.Background(), id)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, vcs.HashBytes(p.read("out/"+id+".md")), rec.OutputHash)
		require.Equal(t, rep.RunID, rec.RunID)
		require.Equal(t, stage.ActionGenerate, rec.Action)
		res, _ := rep.Get(id)
		require.Equal(t, rec.OutputHash, res.OutputHash)
	}
}

func TestTransientFailureIsRetried(t *testing.T) {
	p := chain(t)
	var calls atomic.Int32
	gen := &fakeGen{fail: func(req generate.Request) error {
		if req.Stage == "a" && calls.Add(1) <= 2 {
			return generate.Fail(generate.FailureTimeout, req.Stage, "deadline exceeded").Build()
		}
		return nil
	}}
	rec := &countingRecorder{}
	p.opts.Recorder = rec

	rep := p.run(gen)
	require.Equal(t, 0, rep.ExitCode())
	res, _ := rep.Get("a")
	require.Equal(t, stage.OutcomeBuilt, res.Outcome)
	require.Equal(t, 3, res.Attempts)
	require.Equal(t, 5, rep.GenerationCalls)
	require.Equal(t, int32(2), rec.retries.Load())
	require.Equal(t, 3, gen.last("a").Attempt)
}

func TestRetriesExhausted(t *testing.T) {
	p := chain(t)
	p.opts.Policy = retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, 2)
	gen := &fakeGen{fail: func(req generate.Request) error {
		if req.Stage == "b" {
			return generate.Fail(generate.FailureRateLimited, req.Stage, "slow down").Build()
		}
		return nil
	}}
	rec := &countingRecorder{}
	p.opts.Recorder = rec

	rep := p.run(gen)
	require.Equal(t, errors.ExitStages, rep.ExitCode())
	require.Equal(t, map[string]stage.Outcome{
		"a": stage.OutcomeBuilt, "b": stage.OutcomeFailed, "c": stage.OutcomeBlocked,
	}, outcomes(rep))

	res, _ := rep.Get("b")
	require.Equal(t, 3, res.Attempts)
	require.True(t, errors.HasCode(res.Err, errors.CodeGenerationTransient))
	require.Contains(t, res.Err.Error(), "after 3 attempts")
	ce, ok := errors.AsClassified(res.Err)
	require.True(t, ok)
	require.Equal(t, errors.RetryRateLimit, ce.RetryStrategy(), "exhaustion keeps the rate-limit strategy")
	require.Equal(t, int32(1), rec.exhausted.Load())

	_, ok, err := p.store.Get(context.Background(), "b")
	require.NoError(t, err)
	require.False(t, ok, "a failed stage is never recorded")
	_, err = os.Stat(filepath.Join(p.root, "out", "b.md"))
	require.True(t, os.IsNotExist(err))
}

func TestPermanentFailureBlocksDependentsOnly(t *testing.T) {
	p := newProject(t,
		mk(0, "a", "write a", "src/a.txt"),
		mk(1, "b", "write b", "stage:a"),
		mk(2, "c", "write c", "stage:b"),
		mk(3, "d", "independent", "src/d.txt"),
		mk(4, "e", "also independent", "stage:d"),
	)
	p.write("src/a.txt", "a")
	p.write("src/d.txt", "d")
	gen := &fakeGen{fail: func(req generate.Request) error {
		if req.Stage == "a" {
			return generate.Fail(generate.FailurePermanent, req.Stage, "refused").Build()
		}
		return nil
	}}

	rep := p.run(gen)
	require.Equal(t, map[string]stage.Outcome{
		"a": stage.OutcomeFailed,
		"b": stage.OutcomeBlocked,
		"c": stage.OutcomeBlocked,
		"d": stage.OutcomeBuilt,
		"e": stage.OutcomeBuilt,
	}, outcomes(rep))
	require.Equal(t, 3, rep.GenerationCalls, "no retries for permanent failures; blocked stages are never sent")

	a, _ := rep.Get("a")
	require.Equal(t, 1, a.Attempts)
	require.True(t, errors.HasCode(a.Err, errors.CodeGenerationPermanent))

	c, _ := rep.Get("c")
	require.Equal(t, "-", c.ActionLabel())
	require.True(t, errors.HasCode(c.Err, errors.CodeStageBlocked))
	require.Contains(t, c.Err.Error(), `dependency "b" blocked`)

	err := rep.Err()
	require.Error(t, err)
	require.True(t, errors.HasCode(err, errors.CodeRunIncomplete))
	require.Contains(t, err.Error(), "3 of 5 stages")
	require.Equal(t, errors.ExitStages, errors.NewCLIErrorAdapter(false, nil).ExitCodeFor(err))
}

func TestInvalidOutputIsPermanent(t *testing.T) {
	p := chain(t)
	gen := generate.Func(func(context.Context, generate.Request) (generate.Response, error) {
		return generate.Response{Text: "   \n"}, nil
	})
	rep := p.run(gen)
	a, _ := rep.Get("a")
	require.Equal(t, stage.OutcomeFailed, a.Outcome)
	require.Equal(t, 1, a.Attempts)
	require.Equal(t, generate.FailureInvalid, generate.KindOf(a.Err))
}

func TestHandEditedArtifactIsNotOverwritten(t *testing.T) {
	p := chain(t)
	require.True(t, p.run(&fakeGen{}).Succeeded())

	edited := strings.Replace(string(p.read("out/a.md")), "summarize the source", "my own words", 1)
	p.write("out/a.md", edited)

	gen := &fakeGen{}
	rep := p.run(gen)
	require.Equal(t, map[string]stage.Outcome{
		"a": stage.OutcomeFailed, "b": stage.OutcomeBlocked, "c": stage.OutcomeBlocked,
	}, outcomes(rep))
	a, _ := rep.Get("a")
	require.True(t, errors.HasCode(a.Err, errors.CodeHandEditedArtifact))
	require.Equal(t, 0, rep.GenerationCalls)
	require.Equal(t, edited, string(p.read("out/a.md")))

	p.opts.Force = true
	rep = p.run(gen)
	require.True(t, rep.Succeeded())
	a, _ = rep.Get("a")
	require.Equal(t, stage.ActionUpdate, a.Action)
	require.Equal(t, stage.OutcomeBuilt, a.Outcome)
}

func TestMissingArtifactIsRegenerated(t *testing.T) {
	p := chain(t)
	require.True(t, p.run(&fakeGen{}).Succeeded())
	require.NoError(t, os.Remove(filepath.Join(p.root, "out", "b.md")))

	gen := &fakeGen{}
	rep := p.run(gen)
	require.True(t, rep.Succeeded())
	b, _ := rep.Get("b")
	require.Equal(t, stage.ActionGenerate, b.Action)
	a, _ := rep.Get("a")
	require.Equal(t, stage.OutcomeSkipped, a.Outcome)
}

func TestCancellation(t *testing.T) {
	p := chain(t)
	started := make(chan struct{})
	gen := generate.Func(func(ctx context.Context, req generate.Request) (generate.Response, error) {
		close(started)
		<-ctx.Done()
		return generate.Response{}, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	rep := p.orchestrator(gen).Run(ctx)

	require.Equal(t, map[string]stage.Outcome{
		"a": stage.OutcomeCanceled, "b": stage.OutcomeBlocked, "c": stage.OutcomeBlocked,
	}, outcomes(rep))
	require.Equal(t, errors.ExitStages, rep.ExitCode())
	_, ok, err := p.store.Get(context.Background(), "a")
	require.NoError(t, err)
	require.False(t, ok)
	_, err = os.Stat(filepath.Join(p.root, "out", "a.md"))
	require.True(t, os.IsNotExist(err))
}

func TestCancelDuringBackoff(t *testing.T) {
	p := chain(t)
	p.opts.Policy = retry.NewPolicy(config.RetryBackoffFixed, time.Hour, time.Hour, 5)
	ctx, cancel := context.WithCancel(context.Background())
	failed := make(chan struct{})
	var once sync.Once
	gen := generate.Func(func(_ context.Context, req generate.Request) (generate.Response, error) {
		once.Do(func() { close(failed) })
		return generate.Response{}, generate.Fail(generate.FailureUnavailable, req.Stage, "down").Build()
	})
	go func() {
		<-failed
		cancel()
	}()

	o := p.orchestrator(gen)
	done := make(chan *Report)
	go func() { done <- o.Run(ctx) }()
	select {
	case rep := <-done:
		a, _ := rep.Get("a")
		require.Equal(t, stage.OutcomeCanceled, a.Outcome)
		require.Equal(t, 1, a.Attempts)
	case <-time.After(10 * time.Second):
		t.Fatal("backoff wait ignored cancellation")
	}
}

func TestWorkerLimit(t *testing.T) {
	var stages []stage.Stage
	for i := range 8 {
		stages = append(stages, mk(i, fmt.Sprintf("s%d", i), "write", "src/in.txt"))
	}
	p := newProject(t, stages...)
	p.write("src/in.txt", "in")
	p.opts.Workers = 2

	var inFlight, peak atomic.Int32
	inner := &fakeGen{}
	gen := generate.Func(func(ctx context.Context, req generate.Request) (generate.Response, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return inner.Generate(ctx, req)
	})

	rep := p.run(gen)
	require.True(t, rep.Succeeded())
	require.Equal(t, 8, rep.GenerationCalls)
	require.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDependencyFinishesBeforeDependentStarts(t *testing.T) {
	p := chain(t)
	var mu sync.Mutex
	var order []string
	inner := &fakeGen{}
	gen := generate.Func(func(ctx context.Context, req generate.Request) (generate.Response, error) {
		mu.Lock()
		order = append(order, req.Stage)
		mu.Unlock()
		return inner.Generate(ctx, req)
	})
	require.True(t, p.run(gen).Succeeded())
	require.Equal(t, []string{"a", "b", "c"}, order)
}

func TestRunHistory(t *testing.T) {
	p := chain(t)
	es, err := eventstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = es.Close() }()
	p.opts.Events = eventstore.NewEmitter(es)
	p.opts.RunID = "run-1"

	rep := p.run(&fakeGen{})
	require.Equal(t, "run-1", rep.RunID)

	runs, err := eventstore.History(context.Background(), es, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "completed", runs[0].Status)
	require.Equal(t, 3, runs[0].Started.Stages)
	require.Len(t, runs[0].Stages, 3)
	require.Equal(t, 3, runs[0].Finished.GenerationCalls)
	require.Equal(t, 3, runs[0].Finished.Outcomes["built"])
}

type countingRecorder struct {
	metrics.NoopRecorder
	retries   atomic.Int32
	exhausted atomic.Int32
}

func (r *countingRecorder) IncGenerationRetry(string)          { r.retries.Add(1) }
func (r *countingRecorder) IncGenerationRetryExhausted(string) { r.exhausted.Add(1) }
