package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
	"git.home.luguber.info/inful/docstage/internal/generate"
	"git.home.luguber.info/inful/docstage/internal/graph"
	"git.home.luguber.info/inful/docstage/internal/orchestrator"
	"git.home.luguber.info/inful/docstage/internal/stage"
	"git.home.luguber.info/inful/docstage/internal/store"
	"git.home.luguber.info/inful/docstage/internal/vcs"
)

type recordingGen struct {
	mu       sync.Mutex
	requests []generate.Request
	salt     func() string
}

func (g *recordingGen) Generate(_ context.Context, req generate.Request) (generate.Response, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n", req.Stage, req.Instructions)
	for _, d := range req.Dependencies {
		fmt.Fprintf(&b, "\n%s:\n%s%s\n", d.Path, d.Content, d.Diff)
	}
	if g.salt != nil {
		b.WriteString("\n" + g.salt() + "\n")
	}
	return generate.Response{Text: b.String()}, nil
}

type env struct {
	t      *testing.T
	root   string
	store  store.Store
	stages []stage.Stage
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st, err := store.NewFSStore(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)
	e := &env{t: t, root: t.TempDir(), store: st}
	e.write("src/a.txt", "alpha\n")
	for i, s := range []struct{ id, dep string }{{"a", "src/a.txt"}, {"b", "stage:a"}, {"c", "stage:b"}} {
		e.stages = append(e.stages, stage.Stage{
			ID: s.id, Output: "out/" + s.id + ".md", Source: s.id + ".md",
			Instructions: "write " + s.id, Index: i,
			Deps: []stage.DependencyReference{stage.ParseReference(s.dep)},
		})
	}
	return e
}

func (e *env) write(rel, content string) {
	p := filepath.Join(e.root, filepath.FromSlash(rel))
	require.NoError(e.t, os.MkdirAll(filepath.Dir(p), 0o750))
	require.NoError(e.t, os.WriteFile(p, []byte(content), 0o600))
}

func (e *env) load() (*graph.Graph, vcs.Tree) {
	tree, err := vcs.OpenDir(e.root, vcs.Options{})
	require.NoError(e.t, err)
	g, err := graph.Build(e.stages, tree)
	require.NoError(e.t, err)
	return g, tree
}

func (e *env) build(gen generate.Generator) {
	g, tree := e.load()
	rep := orchestrator.New(g, tree, e.store, gen, e.root, orchestrator.Options{Workers: 2}).Run(context.Background())
	require.True(e.t, rep.Succeeded())
}

func (e *env) verify(st store.Store, gen generate.Generator, opts Options) *Result {
	g, tree := e.load()
	res, err := New(g, tree, st, gen, e.root, opts).Verify(context.Background())
	require.NoError(e.t, err)
	return res
}

func (e *env) snapshot() map[string]string {
	out := map[string]string{}
	for _, id := range []string{"a", "b", "c"} {
		data, err := os.ReadFile(filepath.Join(e.root, "out", id+".md"))
		require.NoError(e.t, err)
		rec, ok, err := e.store.Get(context.Background(), id)
		require.NoError(e.t, err)
		require.True(e.t, ok)
		out[id] = string(data) + "|" + rec.Checksum()
	}
	return out
}

func TestCleanBuildVerifies(t *testing.T) {
	e := newEnv(t)
	gen := &recordingGen{}
	e.build(gen)

	res := e.verify(e.store, gen, Options{})
	require.Empty(t, res.Findings)
	require.Equal(t, 0, res.Regenerated, "MAINTAIN stages are not re-derived by default")

	gen.requests = nil
	res = e.verify(e.store, gen, Options{All: true})
	require.Empty(t, res.Findings)
	require.Equal(t, 3, res.Regenerated)
	for _, req := range gen.requests {
		require.True(t, req.Dry)
		require.Equal(t, stage.ActionGenerate, req.Action)
	}
	require.NoError(t, res.Err(true))
}

func TestNondeterministicGeneratorIsReported(t *testing.T) {
	e := newEnv(t)
	e.build(&recordingGen{})

	gen := &recordingGen{salt: func() string { return time.Now().Format(time.RFC3339Nano) }}
	res := e.verify(e.store, gen, Options{All: true})
	require.Len(t, res.Findings, 3)
	for _, f := range res.Findings {
		require.Equal(t, errors.CodeOutputMismatch, f.Code)
		require.True(t, errors.HasCode(f.Err, errors.CodeOutputMismatch))
		require.Contains(t, f.Diff, "+++ b/"+f.Path)
	}
	require.NoError(t, res.Err(false), "findings are not fatal outside strict mode")
	err := res.Err(true)
	require.Error(t, err)
	require.Equal(t, errors.ExitStages, errors.NewCLIErrorAdapter(false, nil).ExitCodeFor(err))
}

func TestUncommittedChangeIsMismatch(t *testing.T) {
	e := newEnv(t)
	gen := &recordingGen{}
	e.build(gen)
	before := e.snapshot()

	e.write("src/a.txt", "alpha\nomega\n")
	res := e.verify(e.store, gen, Options{})
	require.Equal(t, 3, res.Regenerated, "a changed; b and c are predicted to cascade")

	var a *Finding
	for i := range res.Findings {
		if res.Findings[i].StageID == "a" {
			a = &res.Findings[i]
		}
	}
	require.NotNil(t, a)
	require.Equal(t, errors.CodeOutputMismatch, a.Code)
	require.Contains(t, a.Diff, "+omega")
	require.Equal(t, before, e.snapshot(), "verification never writes")
}

func TestUnbuiltDependencyIsFindingNotAbort(t *testing.T) {
	e := newEnv(t)
	res := e.verify(e.store, &recordingGen{}, Options{})

	codes := map[string]errors.Code{}
	for _, f := range res.Findings {
		codes[f.StageID] = f.Code
	}
	require.Equal(t, map[string]errors.Code{
		"a": errors.CodeOutputMismatch,
		"b": errors.CodeStageBlocked,
		"c": errors.CodeStageBlocked,
	}, codes)
	require.Equal(t, 1, res.Regenerated, "only a can be re-derived without upstream output")
	require.Equal(t, errors.ExitStages, errors.NewCLIErrorAdapter(false, nil).ExitCodeFor(res.Err(true)))
}

func TestHandEditedArtifactIsReported(t *testing.T) {
	e := newEnv(t)
	e.build(&recordingGen{})
	p := filepath.Join(e.root, "out", "b.md")
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p, []byte(strings.Replace(string(data), "write b", "edited", 1)), 0o600))

	res := e.verify(e.store, nil, Options{})
	require.Len(t, res.Findings, 1)
	require.Equal(t, "b", res.Findings[0].StageID)
	require.Equal(t, errors.CodeHandEditedArtifact, res.Findings[0].Code)
	require.Equal(t, 0, res.Regenerated)
}

type corruptStore struct {
	store.Store
	id string
}

func (s corruptStore) VerifyGet(ctx context.Context, id string) (store.Record, bool, error) {
	if id == s.id {
		return store.Record{}, false, errors.StoreError("checksum mismatch").WithCode(store.CodeRecordCorrupt).Build()
	}
	return s.Store.VerifyGet(ctx, id)
}

func TestRecordIntegrityAndStaleRecords(t *testing.T) {
	e := newEnv(t)
	e.build(&recordingGen{})
	require.NoError(t, e.store.Put(context.Background(), store.Record{
		StageID: "gone", OutputHash: "x", BuiltAt: time.Now(), Action: stage.ActionGenerate,
	}))

	res := e.verify(corruptStore{Store: e.store, id: "c"}, nil, Options{})
	require.Len(t, res.Findings, 1)
	require.Equal(t, store.CodeRecordCorrupt, res.Findings[0].Code)
	require.Equal(t, "c", res.Findings[0].StageID)
	require.Equal(t, []string{"gone"}, res.Stale)
}
