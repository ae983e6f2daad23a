// Package verify re-derives committed artifacts without mutating anything
// and reports where they disagree with what a build would produce.
package verify

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"git.home.luguber.info/inful/docstage/internal/artifact"
	"git.home.luguber.info/inful/docstage/internal/classify"
	"git.home.luguber.info/inful/docstage/internal/contextpack"
	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
	"git.home.luguber.info/inful/docstage/internal/generate"
	"git.home.luguber.info/inful/docstage/internal/graph"
	"git.home.luguber.info/inful/docstage/internal/logfields"
	"git.home.luguber.info/inful/docstage/internal/stage"
	"git.home.luguber.info/inful/docstage/internal/store"
	"git.home.luguber.info/inful/docstage/internal/vcs"
)

// Finding is one disagreement between committed state and a fresh derivation.
type Finding struct {
	StageID string
	Path    string
	Code    errors.Code
	// Diff shows committed versus regenerated content for OutputMismatch.
	Diff string
	Err  error
}

// Result is the outcome of a verification pass.
type Result struct {
	Findings []Finding
	// Regenerated counts stages that were sent to the generator in dry mode.
	Regenerated int
	// Stale lists records whose stage no longer exists.
	Stale []string
}

// Err returns nil unless strict is set and there are findings.
func (r *Result) Err(strict bool) error {
	if !strict || len(r.Findings) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Findings))
	for _, f := range r.Findings {
		errs = append(errs, f.Err)
	}
	return errors.NewError(errors.CategoryVerify, fmt.Sprintf("verification found %d problem(s)", len(r.Findings))).
		WithCause(stderrors.Join(errs...)).
		Build()
}

// Options tunes verification.
type Options struct {
	// All re-derives MAINTAIN stages as well, exposing generator nondeterminism.
	All   bool
	Model string
}

// Verifier checks artifacts, records and regenerated output.
type Verifier struct {
	graph      *graph.Graph
	store      store.Store
	gen        generate.Generator
	root       string
	opts       Options
	classifier *classify.Classifier
	packer     *contextpack.Packer
}

// New returns a verifier. gen may be nil, in which case only signatures and
// records are checked.
func New(g *graph.Graph, tree vcs.Tree, st store.Store, gen generate.Generator, root string, opts Options) *Verifier {
	return &Verifier{
		graph:      g,
		store:      st,
		gen:        gen,
		root:       root,
		opts:       opts,
		classifier: classify.New(st, root, classify.Options{}),
		packer:     &contextpack.Packer{Graph: g, Tree: tree, Store: st, Root: root, Model: opts.Model},
	}
}

// Verify runs every check. Errors are returned only when verification itself
// cannot proceed; problems with the build state are findings.
func (v *Verifier) Verify(ctx context.Context) (*Result, error) {
	res := &Result{}
	if err := v.checkRecords(ctx, res); err != nil {
		return nil, err
	}
	plan, err := v.classifier.Plan(ctx, v.graph)
	if err != nil {
		return nil, err
	}
	for _, cr := range plan.Results {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, _ := v.graph.Node(cr.StageID)
		if cr.Err != nil {
			res.add(Finding{StageID: cr.StageID, Path: n.Stage.Output, Code: errors.CodeHandEditedArtifact, Err: cr.Err})
			continue
		}
		if v.gen == nil {
			continue
		}
		if !cr.Action.NeedsGeneration() {
			if !v.opts.All {
				continue
			}
			cr.Action = stage.ActionGenerate
		}
		if err := v.rederive(ctx, n, cr, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r *Result) add(f Finding) {
	slog.Warn("Verification finding",
		logfields.Stage(f.StageID), logfields.Path(f.Path), slog.String("code", string(f.Code)), logfields.Error(f.Err))
	r.Findings = append(r.Findings, f)
}

// checkRecords reads every record with its integrity check and lists records
// that belong to no declared stage.
func (v *Verifier) checkRecords(ctx context.Context, res *Result) error {
	for _, n := range v.graph.Order() {
		if _, _, err := v.store.VerifyGet(ctx, n.ID()); err != nil {
			if !store.IsCorrupt(err) {
				return err
			}
			res.add(Finding{StageID: n.ID(), Code: store.CodeRecordCorrupt, Err: err})
		}
	}
	recs, err := v.store.List(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if _, ok := v.graph.Node(rec.StageID); !ok {
			res.Stale = append(res.Stale, rec.StageID)
		}
	}
	return nil
}

// rederive asks the generator for a dry reproduction and compares it with the
// committed artifact byte for byte.
func (v *Verifier) rederive(ctx context.Context, n *graph.Node, cr classify.Result, res *Result) error {
	req, err := v.packer.Pack(ctx, n, cr)
	if err != nil {
		if !errors.HasCode(err, errors.CodeStageBlocked) {
			return err
		}
		res.add(Finding{StageID: n.ID(), Path: n.Stage.Output, Code: errors.CodeStageBlocked, Err: err})
		return nil
	}
	req.Dry = true
	req.Attempt = 1
	res.Regenerated++

	path := n.Stage.Output
	resp, err := v.gen.Generate(ctx, req)
	if err == nil {
		err = generate.ValidateOutput(n.ID(), []byte(resp.Text))
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		code := errors.CodeGenerationPermanent
		if generate.KindOf(err).Transient() {
			code = errors.CodeGenerationTransient
		}
		res.add(Finding{StageID: n.ID(), Path: path, Code: code, Err: err})
		return nil
	}
	fresh, err := artifact.Compose(n.ID(), []byte(resp.Text))
	if err != nil {
		res.add(Finding{StageID: n.ID(), Path: path, Code: errors.CodeGenerationPermanent,
			Err: generate.Fail(generate.FailureInvalid, n.ID(), "generated header cannot be signed").WithCause(err).Build()})
		return nil
	}

	var committed []byte
	if cr.HasArtifact {
		committed = cr.Artifact.Data
	}
	if string(fresh) == string(committed) {
		return nil
	}
	mismatch := errors.OutputMismatch(n.ID(), path).WithContext("action", cr.Action.String())
	if !cr.HasArtifact {
		mismatch = mismatch.WithContext("reason", "missing")
	}
	res.add(Finding{
		StageID: n.ID(),
		Path:    path,
		Code:    errors.CodeOutputMismatch,
		Diff:    contextpack.Unified(path, string(committed), string(fresh)),
		Err:     mismatch.Build(),
	})
	return nil
}
