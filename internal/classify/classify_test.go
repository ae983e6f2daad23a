package classify

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/docstage/internal/artifact"
	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
	"git.home.luguber.info/inful/docstage/internal/graph"
	"git.home.luguber.info/inful/docstage/internal/stage"
	"git.home.luguber.info/inful/docstage/internal/store"
	"git.home.luguber.info/inful/docstage/internal/vcs"
)

type fixture struct {
	t      *testing.T
	root   string
	store  store.Store
	stages []stage.Stage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	st, err := store.NewFSStore(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)
	f := &fixture{t: t, root: root, store: st}
	f.write("src/a.txt", "alpha")
	f.stages = []stage.Stage{
		mk(0, "a", "out/a.md", "write a", "src/a.txt"),
		mk(1, "b", "out/b.md", "write b", "stage:a"),
	}
	return f
}

func mk(index int, id, output, instructions string, deps ...string) stage.Stage {
	s := stage.Stage{ID: id, Output: output, Source: id + ".md", Instructions: instructions, Index: index}
	for _, d := range deps {
		s.Deps = append(s.Deps, stage.ParseReference(d))
	}
	return s
}

func (f *fixture) write(rel, content string) {
	p := filepath.Join(f.root, filepath.FromSlash(rel))
	require.NoError(f.t, os.MkdirAll(filepath.Dir(p), 0o750))
	require.NoError(f.t, os.WriteFile(p, []byte(content), 0o600))
}

func (f *fixture) graph() *graph.Graph {
	tree, err := vcs.OpenDir(f.root, vcs.Options{})
	require.NoError(f.t, err)
	g, err := graph.Build(f.stages, tree)
	require.NoError(f.t, err)
	return g
}

// build classifies and commits every stage the way a successful run would.
func (f *fixture) build(opts Options) map[string]stage.ActionKind {
	ctx := context.Background()
	g := f.graph()
	c := New(f.store, f.root, opts)
	outputs := map[string]string{}
	actions := map[string]stage.ActionKind{}
	for _, n := range g.Order() {
		res, err := c.Classify(ctx, n, outputs)
		require.NoError(f.t, err)
		require.NoError(f.t, res.Err)
		actions[n.ID()] = res.Action
		if res.Action == stage.ActionMaintain {
			outputs[n.ID()] = res.Record.OutputHash
			continue
		}
		data, err := artifact.Compose(n.ID(), []byte("# "+n.ID()+"\n\n"+res.Source+"\n"+res.Instruction+"\n"))
		require.NoError(f.t, err)
		require.NoError(f.t, artifact.Write(artifact.Locate(f.root, n.Stage.Output), data))
		hash := vcs.HashBytes(data)
		require.NoError(f.t, f.store.Put(ctx, store.Record{
			StageID:                n.ID(),
			SourceFingerprint:      res.Source,
			InstructionFingerprint: res.Instruction,
			OutputHash:             hash,
			Commit:                 vcs.WorktreeCommit,
			BuiltAt:                time.Now(),
			Action:                 res.Action,
		}))
		outputs[n.ID()] = hash
	}
	return actions
}

func TestFingerprints(t *testing.T) {
	s := mk(0, "a", "a.md", "write")
	base := InstructionFingerprint(s)
	s.Model = "large"
	require.NotEqual(t, base, InstructionFingerprint(s), "a model override is part of the instructions")

	g := newFixture(t).graph()
	b, _ := g.Node("b")
	_, err := SourceFingerprint(b, map[string]string{})
	require.Error(t, err)

	one, err := SourceFingerprint(b, map[string]string{"a": "h1"})
	require.NoError(t, err)
	two, err := SourceFingerprint(b, map[string]string{"a": "h2"})
	require.NoError(t, err)
	require.NotEqual(t, one, two)
}

func TestActionKinds(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, map[string]stage.ActionKind{"a": stage.ActionGenerate, "b": stage.ActionGenerate}, f.build(Options{}))
	require.Equal(t, map[string]stage.ActionKind{"a": stage.ActionMaintain, "b": stage.ActionMaintain}, f.build(Options{}))

	f.write("src/a.txt", "alpha 2")
	require.Equal(t, map[string]stage.ActionKind{"a": stage.ActionUpdate, "b": stage.ActionUpdate}, f.build(Options{}))

	f.stages[0].Instructions = "write a, briefly"
	require.Equal(t, map[string]stage.ActionKind{"a": stage.ActionRestyle, "b": stage.ActionUpdate}, f.build(Options{}))

	f.stages[0].Instructions = "write a, at length"
	f.write("src/a.txt", "alpha 3")
	require.Equal(t, map[string]stage.ActionKind{"a": stage.ActionRefresh, "b": stage.ActionUpdate}, f.build(Options{}))

	f.stages[1].Model = "other"
	require.Equal(t, map[string]stage.ActionKind{"a": stage.ActionMaintain, "b": stage.ActionRestyle}, f.build(Options{}))
}

func TestMissingArtifactIsRegenerated(t *testing.T) {
	f := newFixture(t)
	f.build(Options{})
	require.NoError(t, os.Remove(filepath.Join(f.root, "out", "a.md")))

	g := f.graph()
	a, _ := g.Node("a")
	res, err := New(f.store, f.root, Options{}).Classify(context.Background(), a, nil)
	require.NoError(t, err)
	require.Equal(t, stage.ActionGenerate, res.Action)
	require.Contains(t, res.Reasons, "artifact out/a.md is missing")
}

func TestReplacedArtifactIsNotMaintained(t *testing.T) {
	f := newFixture(t)
	f.build(Options{})
	data, err := artifact.Compose("a", []byte("# something else\n"))
	require.NoError(t, err)
	f.write("out/a.md", string(data))

	a, _ := f.graph().Node("a")
	res, err := New(f.store, f.root, Options{}).Classify(context.Background(), a, nil)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.Equal(t, stage.ActionUpdate, res.Action)
}

func TestHandEditedArtifact(t *testing.T) {
	f := newFixture(t)
	f.build(Options{})
	p := filepath.Join(f.root, "out", "a.md")
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p, append(data, "manual note\n"...), 0o600))

	a, _ := f.graph().Node("a")
	res, err := New(f.store, f.root, Options{}).Classify(context.Background(), a, nil)
	require.NoError(t, err)
	require.True(t, errors.HasCode(res.Err, errors.CodeHandEditedArtifact))

	res, err = New(f.store, f.root, Options{Force: true}).Classify(context.Background(), a, nil)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.Equal(t, stage.ActionUpdate, res.Action)
}

func TestUnsignedFileAtOutputIsProtected(t *testing.T) {
	f := newFixture(t)
	f.write("out/a.md", "hand written\n")

	a, _ := f.graph().Node("a")
	res, err := New(f.store, f.root, Options{}).Classify(context.Background(), a, nil)
	require.NoError(t, err)
	require.Equal(t, stage.ActionGenerate, res.Action)
	require.True(t, errors.HasCode(res.Err, errors.CodeHandEditedArtifact))
}

func TestPlanPredictsCascade(t *testing.T) {
	f := newFixture(t)
	f.stages = append(f.stages, mk(2, "c", "out/c.md", "write c", "stage:b"))
	f.build(Options{})

	p, err := New(f.store, f.root, Options{}).Plan(context.Background(), f.graph())
	require.NoError(t, err)
	for _, r := range p.Results {
		require.Equal(t, stage.ActionMaintain, r.Action, r.StageID)
	}

	f.write("src/a.txt", "changed")
	p, err = New(f.store, f.root, Options{}).Plan(context.Background(), f.graph())
	require.NoError(t, err)
	got := map[string]stage.ActionKind{}
	for _, r := range p.Results {
		got[r.StageID] = r.Action
	}
	require.Equal(t, map[string]stage.ActionKind{"a": stage.ActionUpdate, "b": stage.ActionUpdate, "c": stage.ActionUpdate}, got)

	c, ok := p.Get("c")
	require.True(t, ok)
	require.True(t, c.Predicted)
	require.Contains(t, c.Reasons, "dependency b will be rebuilt")
	require.Equal(t, 3, p.Count()[stage.ActionUpdate])
}
