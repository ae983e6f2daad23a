// Package classify compares the current fingerprints of each stage with its
// stored record and selects the action kind for this run.
package classify

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/docstage/internal/artifact"
	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
	"git.home.luguber.info/inful/docstage/internal/graph"
	"git.home.luguber.info/inful/docstage/internal/stage"
	"git.home.luguber.info/inful/docstage/internal/store"
)

// Result is the classification of one stage.
type Result struct {
	StageID     string
	Action      stage.ActionKind
	Source      string // empty when the source fingerprint was predicted
	Instruction string

	Record    store.Record
	HasRecord bool

	Artifact    artifact.Artifact
	HasArtifact bool

	// Reasons explains the action for humans, in the order they were found.
	Reasons []string
	// Err is set when the artifact must not be overwritten (HandEditedArtifact).
	Err error
	// Predicted is set by Plan when an upstream rebuild makes the source
	// fingerprint unknowable before execution.
	Predicted bool
}

// Options tunes classification.
type Options struct {
	// Force lets the engine overwrite artifacts that were edited by hand.
	Force bool
}

// Classifier classifies stages against a fingerprint store.
type Classifier struct {
	store store.Store
	root  string
	opts  Options
}

// New returns a classifier; root is the directory output locators are relative to.
func New(st store.Store, root string, opts Options) *Classifier {
	return &Classifier{store: st, root: root, opts: opts}
}

// Classify computes the authoritative action for n. outputs must hold the
// current output hash of every stage n depends on.
func (c *Classifier) Classify(ctx context.Context, n *graph.Node, outputs map[string]string) (Result, error) {
	src, err := SourceFingerprint(n, outputs)
	if err != nil {
		return Result{}, err
	}
	res, err := c.load(ctx, n)
	if err != nil {
		return Result{}, err
	}
	res.Source = src
	sourceChanged := res.HasRecord && src != res.Record.SourceFingerprint
	instrChanged := res.HasRecord && res.Instruction != res.Record.InstructionFingerprint
	if sourceChanged {
		res.Reasons = append(res.Reasons, "dependency content changed")
	}
	if instrChanged {
		res.Reasons = append(res.Reasons, "instructions changed")
	}
	res.Action = stage.Decide(res.HasRecord, sourceChanged, instrChanged)
	c.checkArtifact(n, &res)
	return res, nil
}

// load reads the record and the artifact of n and fills in the instruction fingerprint.
func (c *Classifier) load(ctx context.Context, n *graph.Node) (Result, error) {
	res := Result{StageID: n.ID(), Instruction: InstructionFingerprint(n.Stage)}

	rec, ok, err := c.store.Get(ctx, n.ID())
	if err != nil {
		return Result{}, err
	}
	res.Record, res.HasRecord = rec, ok
	if !ok {
		res.Reasons = append(res.Reasons, "no previous build")
	}

	a, exists, err := artifact.Read(n.ID(), artifact.Locate(c.root, n.Stage.Output))
	switch {
	case err != nil && errors.HasCode(err, errors.CodeHandEditedArtifact):
		res.Err = err
	case err != nil:
		return Result{}, err
	case exists && !a.Signed:
		res.Err = errors.HandEditedArtifact(n.ID(), a.Path).WithContext("reason", "unsigned").Build()
	}
	res.Artifact, res.HasArtifact = a, exists
	return res, nil
}

// checkArtifact makes sure a stage whose artifact is missing, replaced or
// edited is never classified MAINTAIN.
func (c *Classifier) checkArtifact(n *graph.Node, res *Result) {
	if res.Err != nil {
		if c.opts.Force {
			res.Reasons = append(res.Reasons, "artifact edited by hand, overwriting")
			res.Err = nil
			if res.Action == stage.ActionMaintain {
				res.Action = stage.ActionUpdate
			}
		} else {
			res.Reasons = append(res.Reasons, "artifact edited by hand")
		}
		return
	}
	if !res.HasRecord {
		return
	}
	if !res.HasArtifact {
		if res.Action != stage.ActionGenerate {
			res.Reasons = append(res.Reasons, fmt.Sprintf("artifact %s is missing", n.Stage.Output))
			res.Action = stage.ActionGenerate
		}
		return
	}
	if res.Artifact.Hash != res.Record.OutputHash && res.Action == stage.ActionMaintain {
		res.Reasons = append(res.Reasons, "artifact differs from the recorded build")
		res.Action = stage.ActionUpdate
	}
}
