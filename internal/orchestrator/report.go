package orchestrator

import (
	stderrors "errors"
	"fmt"
	"time"

	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
	"git.home.luguber.info/inful/docstage/internal/stage"
)

// StageResult is what happened to one stage during a run.
type StageResult struct {
	StageID string
	// Action is zero for stages that were never classified (blocked).
	Action   stage.ActionKind
	Outcome  stage.Outcome
	Attempts int
	Duration time.Duration
	// OutputHash is the artifact hash after the run, for built and skipped stages.
	OutputHash string
	Reasons    []string
	Err        error
}

// ActionLabel renders the action, or "-" when the stage was never classified.
func (r StageResult) ActionLabel() string {
	if !r.Action.Valid() {
		return "-"
	}
	return r.Action.String()
}

// Report is the result of one run. Stages are in topological order.
type Report struct {
	RunID           string
	Stages          []StageResult
	GenerationCalls int
	Duration        time.Duration
	byID            map[string]int
}

// Get returns the result of one stage.
func (r *Report) Get(id string) (StageResult, bool) {
	i, ok := r.byID[id]
	if !ok {
		return StageResult{}, false
	}
	return r.Stages[i], true
}

// Count returns the number of stages per outcome.
func (r *Report) Count() map[stage.Outcome]int {
	out := make(map[stage.Outcome]int)
	for _, s := range r.Stages {
		out[s.Outcome]++
	}
	return out
}

// Succeeded reports whether every stage was built or skipped.
func (r *Report) Succeeded() bool {
	for _, s := range r.Stages {
		if !s.Outcome.Succeeded() {
			return false
		}
	}
	return true
}

// ExitCode is 0 when every stage succeeded and 2 otherwise.
func (r *Report) ExitCode() int {
	if r.Succeeded() {
		return errors.ExitOK
	}
	return errors.ExitStages
}

// Err summarizes the stages that did not complete as one RunIncomplete
// error whose cause joins the individual stage errors.
func (r *Report) Err() error {
	var errs []error
	incomplete := 0
	for _, s := range r.Stages {
		if s.Outcome.Succeeded() {
			continue
		}
		incomplete++
		if s.Err != nil {
			errs = append(errs, s.Err)
		}
	}
	if incomplete == 0 {
		return nil
	}
	return errors.NewError(errors.CategoryBuild, fmt.Sprintf("%d of %d stages did not complete", incomplete, len(r.Stages))).
		WithCode(errors.CodeRunIncomplete).
		WithCause(stderrors.Join(errs...)).
		WithContext("run_id", r.RunID).
		Build()
}
