package stage

import "fmt"

// ActionKind is the regeneration strategy selected for a stage in one run.
// The zero value is not a valid kind; every consumer switches over all five
// named kinds and treats anything else as a programming error.
type ActionKind uint8

const (
	actionInvalid ActionKind = iota
	// ActionGenerate: no prior record exists.
	ActionGenerate
	// ActionUpdate: source fingerprint changed, instructions unchanged.
	ActionUpdate
	// ActionRestyle: instructions changed, sources unchanged.
	ActionRestyle
	// ActionRefresh: both fingerprints changed.
	ActionRefresh
	// ActionMaintain: nothing changed; the artifact is left untouched.
	ActionMaintain
)

// AllActions lists the valid kinds in declaration order.
var AllActions = []ActionKind{ActionGenerate, ActionUpdate, ActionRestyle, ActionRefresh, ActionMaintain}

// Decide maps the presence of a record and the two fingerprint comparisons onto
// an action kind.
func Decide(hasRecord, sourceChanged, instructionsChanged bool) ActionKind {
	switch {
	case !hasRecord:
		return ActionGenerate
	case sourceChanged && instructionsChanged:
		return ActionRefresh
	case sourceChanged:
		return ActionUpdate
	case instructionsChanged:
		return ActionRestyle
	default:
		return ActionMaintain
	}
}

func (a ActionKind) String() string {
	switch a {
	case ActionGenerate:
		return "GENERATE"
	case ActionUpdate:
		return "UPDATE"
	case ActionRestyle:
		return "RESTYLE"
	case ActionRefresh:
		return "REFRESH"
	case ActionMaintain:
		return "MAINTAIN"
	case actionInvalid:
		return "INVALID"
	}
	return fmt.Sprintf("ActionKind(%d)", uint8(a))
}

// Valid reports whether a is one of the five named kinds.
func (a ActionKind) Valid() bool {
	return a >= ActionGenerate && a <= ActionMaintain
}

// NeedsGeneration reports whether the generation collaborator must be called.
func (a ActionKind) NeedsGeneration() bool {
	switch a {
	case ActionGenerate, ActionUpdate, ActionRestyle, ActionRefresh:
		return true
	case ActionMaintain:
		return false
	}
	panic(fmt.Sprintf("stage: unhandled action kind %s", a))
}

// UsesDiff reports whether the request carries dependency diffs instead of full content.
func (a ActionKind) UsesDiff() bool {
	switch a {
	case ActionUpdate, ActionRefresh:
		return true
	case ActionGenerate, ActionRestyle, ActionMaintain:
		return false
	}
	panic(fmt.Sprintf("stage: unhandled action kind %s", a))
}

// ParseActionKind parses the upper-case name of an action kind.
func ParseActionKind(s string) (ActionKind, error) {
	for _, a := range AllActions {
		if a.String() == s {
			return a, nil
		}
	}
	return actionInvalid, fmt.Errorf("unknown action kind %q", s)
}

func (a ActionKind) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("cannot marshal %s", a)
	}
	return []byte(a.String()), nil
}

func (a *ActionKind) UnmarshalText(b []byte) error {
	v, err := ParseActionKind(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
