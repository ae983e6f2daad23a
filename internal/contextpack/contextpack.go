// Package contextpack assembles the generation request for one stage: full
// dependency content for GENERATE and RESTYLE, per-dependency diffs for
// UPDATE and REFRESH.
package contextpack

import (
	"context"
	"fmt"
	"log/slog"

	"git.home.luguber.info/inful/docstage/internal/artifact"
	"git.home.luguber.info/inful/docstage/internal/classify"
	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
	"git.home.luguber.info/inful/docstage/internal/generate"
	"git.home.luguber.info/inful/docstage/internal/graph"
	"git.home.luguber.info/inful/docstage/internal/logfields"
	"git.home.luguber.info/inful/docstage/internal/stage"
	"git.home.luguber.info/inful/docstage/internal/store"
	"git.home.luguber.info/inful/docstage/internal/vcs"
)

// Packer builds generation requests.
type Packer struct {
	Graph *graph.Graph
	Tree  vcs.Tree
	Store store.Store
	// Root is the directory output locators are relative to.
	Root string
	// Model is used when a stage has no override.
	Model string
}

// Pack builds the request for n as classified by res. Dependency stages must
// already have their current artifact on disk.
func (p *Packer) Pack(ctx context.Context, n *graph.Node, res classify.Result) (generate.Request, error) {
	req := generate.Request{
		Stage:        n.ID(),
		Action:       res.Action,
		Instructions: n.Stage.Instructions,
		Model:        n.Stage.Model,
	}
	if req.Model == "" {
		req.Model = p.Model
	}
	diff := res.Action.UsesDiff()

	for _, in := range n.Inputs {
		for _, f := range in.Files {
			dep, err := p.filePayload(ctx, in.Ref, f, res, diff)
			if err != nil {
				return generate.Request{}, err
			}
			req.Dependencies = append(req.Dependencies, dep)
		}
		for _, id := range in.Stages {
			dep, err := p.stagePayload(ctx, in.Ref, id, res, diff)
			if err != nil {
				return generate.Request{}, err
			}
			req.Dependencies = append(req.Dependencies, dep)
		}
	}

	if diff && res.HasArtifact {
		current, err := artifact.Strip(res.Artifact.Data)
		if err != nil {
			return generate.Request{}, errors.WrapError(err, errors.CategoryFileSystem, "read current artifact").
				WithContext("stage", n.ID()).Build()
		}
		req.Current = string(current)
	}
	return req, nil
}

func (p *Packer) filePayload(ctx context.Context, ref stage.DependencyReference, f vcs.File, res classify.Result, diff bool) (generate.DepPayload, error) {
	dep := generate.DepPayload{Ref: ref.Raw, Path: f.Path}
	old, had := res.Record.Inputs[classify.InputKey(stage.RefFile, f.Path)]
	dep.Changed = !res.HasRecord || !had || old != f.Hash
	if diff && !dep.Changed {
		return dep, nil
	}

	cur, err := p.Tree.Read(f.Path)
	if err != nil {
		return dep, err
	}
	if diff {
		if before, ok := p.previousFile(ctx, res.Record, f.Path, old); ok {
			dep.Diff = Unified(f.Path, string(before), string(cur))
			return dep, nil
		}
	}
	dep.Content = string(cur)
	return dep, nil
}

func (p *Packer) stagePayload(ctx context.Context, ref stage.DependencyReference, id string, res classify.Result, diff bool) (generate.DepPayload, error) {
	dn, ok := p.Graph.Node(id)
	if !ok {
		return generate.DepPayload{}, errors.InternalError(fmt.Sprintf("stage %q is not in the graph", id)).Build()
	}
	dep := generate.DepPayload{Ref: ref.Raw, Path: dn.Stage.Output, Stage: id}

	a, exists, err := artifact.Read(id, artifact.Locate(p.Root, dn.Stage.Output))
	if err != nil {
		return dep, err
	}
	if !exists {
		return dep, errors.NewError(errors.CategoryBuild, fmt.Sprintf("stage %q: output of dependency %q is missing", res.StageID, id)).
			WithCode(errors.CodeStageBlocked).
			WithContext("stage", res.StageID).WithContext("path", dn.Stage.Output).Build()
	}
	old, had := res.Record.Inputs[classify.InputKey(stage.RefStage, id)]
	dep.Changed = !res.HasRecord || !had || old != a.Hash
	if diff && !dep.Changed {
		return dep, nil
	}

	cur, err := a.Body()
	if err != nil {
		return dep, err
	}
	if diff && had {
		if before, err := p.Store.GetSnapshot(ctx, old); err == nil {
			if prev, err := artifact.Strip(before); err == nil {
				dep.Diff = Unified(dn.Stage.Output, string(prev), string(cur))
				return dep, nil
			}
		}
		slog.Debug("No snapshot of previous dependency output, sending full content",
			logfields.Stage(res.StageID), logfields.Path(dn.Stage.Output))
	}
	dep.Content = string(cur)
	return dep, nil
}

// previousFile returns the content a file had when rec was written: from
// version control at the recorded commit, or from the store's snapshots.
// Content that does not hash to the recorded value is never used.
func (p *Packer) previousFile(ctx context.Context, rec store.Record, path, hash string) ([]byte, bool) {
	if hash == "" {
		return nil, false
	}
	if rec.Commit != "" && rec.Commit != vcs.WorktreeCommit {
		if data, err := p.Tree.ReadAt(rec.Commit, path); err == nil && vcs.HashBytes(data) == hash {
			return data, true
		}
	}
	if data, err := p.Store.GetSnapshot(ctx, hash); err == nil {
		return data, true
	}
	return nil, false
}

// Retain snapshots the inputs and the new artifact of a freshly built stage
// so the next UPDATE can be sent as a diff.
func (p *Packer) Retain(ctx context.Context, n *graph.Node, artifactData []byte) error {
	if _, err := p.Store.PutSnapshot(ctx, artifactData); err != nil {
		return err
	}
	for _, in := range n.Inputs {
		for _, f := range in.Files {
			data, err := p.Tree.Read(f.Path)
			if err != nil {
				return err
			}
			if _, err := p.Store.PutSnapshot(ctx, data); err != nil {
				return err
			}
		}
	}
	return nil
}
