package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/docstage/internal/artifact"
	"git.home.luguber.info/inful/docstage/internal/classify"
	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
	"git.home.luguber.info/inful/docstage/internal/generate"
	"git.home.luguber.info/inful/docstage/internal/graph"
	"git.home.luguber.info/inful/docstage/internal/logfields"
	"git.home.luguber.info/inful/docstage/internal/retry"
	"git.home.luguber.info/inful/docstage/internal/stage"
	"git.home.luguber.info/inful/docstage/internal/store"
	"git.home.luguber.info/inful/docstage/internal/vcs"
)

func (o *Orchestrator) execute(ctx context.Context, r *run, n *graph.Node) StageResult {
	start := time.Now()
	res := o.executeStage(ctx, r, n)
	res.Duration = time.Since(start)
	return res
}

func (o *Orchestrator) executeStage(ctx context.Context, r *run, n *graph.Node) StageResult {
	id := n.ID()
	deps := o.graph.Dependencies(id)
	for _, dep := range deps {
		if dr, ok := r.result(dep); !ok || !dr.Outcome.Succeeded() {
			return StageResult{StageID: id, Outcome: stage.OutcomeBlocked, Err: blockedError(id, dep, dr.Outcome)}
		}
	}
	if err := ctx.Err(); err != nil {
		return StageResult{StageID: id, Outcome: stage.OutcomeBlocked, Err: notStartedError(id, err)}
	}

	outputs := r.outputsFor(deps)
	cres, err := o.classifier.Classify(ctx, n, outputs)
	if err != nil {
		return StageResult{StageID: id, Outcome: stage.OutcomeFailed, Err: err}
	}
	out := StageResult{StageID: id, Action: cres.Action, Reasons: cres.Reasons}
	if cres.Err != nil {
		out.Outcome, out.Err = stage.OutcomeFailed, cres.Err
		return out
	}
	if !cres.Action.NeedsGeneration() {
		out.Outcome, out.OutputHash = stage.OutcomeSkipped, cres.Record.OutputHash
		return out
	}

	req, err := o.packer.Pack(ctx, n, cres)
	if err != nil {
		out.Outcome, out.Err = stage.OutcomeFailed, err
		return out
	}
	resp, attempts, err := o.generate(ctx, r, n, req)
	out.Attempts = attempts
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			out.Outcome, out.Err = stage.OutcomeCanceled, canceledError(id, cerr)
			return out
		}
		out.Outcome, out.Err = stage.OutcomeFailed, err
		return out
	}

	data, err := artifact.Compose(id, []byte(resp.Text))
	if err != nil {
		out.Outcome = stage.OutcomeFailed
		out.Err = generate.Fail(generate.FailureInvalid, id, "generated header cannot be signed").WithCause(err).Build()
		return out
	}
	if err := artifact.Write(artifact.Locate(o.packer.Root, n.Stage.Output), data); err != nil {
		out.Outcome, out.Err = stage.OutcomeFailed, err
		return out
	}
	hash := vcs.HashBytes(data)
	if err := o.commit(ctx, r.id, n, cres, outputs, data, hash); err != nil {
		out.Outcome, out.Err = stage.OutcomeFailed, err
		return out
	}
	out.Outcome, out.OutputHash = stage.OutcomeBuilt, hash
	return out
}

// commit replaces the record of a stage whose artifact is already on disk.
// The store write is not canceled with the run so that a written artifact
// never lacks its record.
func (o *Orchestrator) commit(ctx context.Context, runID string, n *graph.Node, cres classify.Result, outputs map[string]string, data []byte, hash string) error {
	o.commitMu.Lock()
	defer o.commitMu.Unlock()

	ctx = context.WithoutCancel(ctx)
	rec := store.Record{
		StageID:                n.ID(),
		SourceFingerprint:      cres.Source,
		InstructionFingerprint: cres.Instruction,
		OutputHash:             hash,
		Commit:                 o.tree.Commit(),
		BuiltAt:                time.Now().UTC(),
		Action:                 cres.Action,
		RunID:                  runID,
		Inputs:                 classify.InputHashes(n, outputs),
	}
	if err := o.store.Put(ctx, rec); err != nil {
		return err
	}
	if err := o.packer.Retain(ctx, n, data); err != nil {
		slog.Warn("Failed to keep snapshots, next update will send full content",
			logfields.Stage(n.ID()), logfields.Error(err))
	}
	return nil
}

// generate calls the generator, retrying transient failures with backoff
// until the policy's retry budget is spent.
func (o *Orchestrator) generate(ctx context.Context, r *run, n *graph.Node, req generate.Request) (generate.Response, int, error) {
	policy := o.opts.Policy
	action := req.Action.String()
	attempts := 0
	totalRetries := 0

	for {
		attempts++
		req.Attempt = attempts
		r.calls.Add(1)
		o.opts.Recorder.IncGeneratorCall(action)

		resp, err := o.gen.Generate(ctx, req)
		if err == nil {
			err = generate.ValidateOutput(n.ID(), []byte(resp.Text))
		}
		if err == nil {
			return resp, attempts, nil
		}
		if ctx.Err() != nil {
			return generate.Response{}, attempts, ctx.Err()
		}

		kind := generate.KindOf(err)
		ce, ok := errors.AsClassified(err)
		if !ok || !ce.IsTransient() {
			return generate.Response{}, attempts, permanentError(n.ID(), attempts, err)
		}
		if totalRetries >= policy.MaxRetries {
			o.opts.Recorder.IncGenerationRetryExhausted(string(kind))
			return generate.Response{}, attempts, errors.GenerationTransient(n.ID(),
				fmt.Sprintf("stage %q: generation failed after %d attempts (%d retries exhausted)", n.ID(), attempts, totalRetries)).
				WithCause(err).
				WithRetry(ce.RetryStrategy()).
				WithContext("attempts", attempts).
				WithContext("failure", string(kind)).
				Build()
		}

		totalRetries++
		o.opts.Recorder.IncGenerationRetry(string(kind))
		delay := policy.Delay(totalRetries)
		if after := generate.RetryAfter(err); ce.RetryStrategy() == errors.RetryRateLimit && after > delay {
			delay = min(after, policy.Max)
		}
		slog.Warn("Transient generation error, retrying",
			logfields.RunID(r.id),
			logfields.Stage(n.ID()),
			logfields.Attempt(attempts),
			slog.Int("retry", totalRetries),
			slog.String("failure", string(kind)),
			logfields.Duration(delay),
			logfields.Error(err))

		if err := retry.Sleep(ctx, delay); err != nil {
			return generate.Response{}, attempts, err
		}
	}
}

func permanentError(id string, attempts int, err error) error {
	if errors.HasCode(err, errors.CodeGenerationPermanent) {
		return err
	}
	return errors.GenerationPermanent(id, fmt.Sprintf("stage %q: generation failed", id)).
		WithCause(err).
		WithContext("attempts", attempts).
		Build()
}

func blockedError(id, dep string, why stage.Outcome) error {
	return errors.NewError(errors.CategoryBuild, fmt.Sprintf("stage %q blocked: dependency %q %s", id, dep, why)).
		WithCode(errors.CodeStageBlocked).
		WithContext("stage", id).
		WithContext("dependency", dep).
		Build()
}

func notStartedError(id string, cause error) error {
	return errors.NewError(errors.CategoryBuild, fmt.Sprintf("stage %q blocked: run canceled before it started", id)).
		WithCode(errors.CodeStageBlocked).
		WithCause(cause).
		WithContext("stage", id).
		Build()
}

func canceledError(id string, cause error) error {
	return errors.NewError(errors.CategoryBuild, fmt.Sprintf("stage %q: run canceled during generation", id)).
		WithCause(cause).
		WithContext("stage", id).
		Build()
}
