package stage

// Outcome is the terminal state of a stage after a run.
type Outcome string

const (
	OutcomeBuilt    Outcome = "built"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
	OutcomeBlocked  Outcome = "blocked"
	OutcomeCanceled Outcome = "canceled"
)

// Succeeded reports whether dependents may proceed.
func (o Outcome) Succeeded() bool {
	return o == OutcomeBuilt || o == OutcomeSkipped
}
