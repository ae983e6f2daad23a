package classify

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/docstage/internal/graph"
	"git.home.luguber.info/inful/docstage/internal/stage"
)

// Plan is a static classification of the whole graph, in topological order.
type Plan struct {
	Results []Result
	byID    map[string]int
}

// Get returns the result for a stage.
func (p *Plan) Get(id string) (Result, bool) {
	i, ok := p.byID[id]
	if !ok {
		return Result{}, false
	}
	return p.Results[i], true
}

// Count returns how many stages got each action.
func (p *Plan) Count() map[stage.ActionKind]int {
	out := make(map[stage.ActionKind]int, len(stage.AllActions))
	for _, r := range p.Results {
		out[r.Action]++
	}
	return out
}

// Plan classifies every stage without executing anything. Output hashes of
// stages that will be rebuilt are unknown, so their dependents are assumed
// to see changed content: a dependent of a non-MAINTAIN stage is at least
// UPDATE.
func (c *Classifier) Plan(ctx context.Context, g *graph.Graph) (*Plan, error) {
	p := &Plan{byID: make(map[string]int, g.Len())}
	for _, n := range g.Order() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outputs := make(map[string]string)
		var pending []string
		for _, dep := range g.Dependencies(n.ID()) {
			r := p.Results[p.byID[dep]]
			if r.Action == stage.ActionMaintain && r.Err == nil {
				outputs[dep] = r.Record.OutputHash
			} else {
				pending = append(pending, dep)
			}
		}

		var res Result
		var err error
		if len(pending) == 0 {
			res, err = c.Classify(ctx, n, outputs)
		} else {
			res, err = c.predict(ctx, n, pending)
		}
		if err != nil {
			return nil, err
		}
		p.byID[n.ID()] = len(p.Results)
		p.Results = append(p.Results, res)
	}
	return p, nil
}

func (c *Classifier) predict(ctx context.Context, n *graph.Node, pending []string) (Result, error) {
	res, err := c.load(ctx, n)
	if err != nil {
		return Result{}, err
	}
	res.Predicted = true
	instrChanged := res.HasRecord && res.Instruction != res.Record.InstructionFingerprint
	for _, dep := range pending {
		res.Reasons = append(res.Reasons, fmt.Sprintf("dependency %s will be rebuilt", dep))
	}
	if instrChanged {
		res.Reasons = append(res.Reasons, "instructions changed")
	}
	res.Action = stage.Decide(res.HasRecord, true, instrChanged)
	c.checkArtifact(n, &res)
	return res, nil
}
