package commands

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"

	"git.home.luguber.info/inful/docstage/internal/classify"
	"git.home.luguber.info/inful/docstage/internal/graph"
	"git.home.luguber.info/inful/docstage/internal/stage"
	"git.home.luguber.info/inful/docstage/internal/vcs"
)

// PlanCmd implements the 'plan' command.
type PlanCmd struct {
	Force        bool   `help:"Plan as if hand-edited artifacts may be overwritten"`
	JSON         bool   `name:"json" help:"Print the plan as JSON"`
	ChangedSince string `name:"changed-since" placeholder:"COMMIT" help:"Also list files changed since COMMIT and the stages reading them"`
}

func (p *PlanCmd) Run(g *Global, root *CLI) error {
	ctx := context.Background()
	ws, err := openWorkspace(ctx, root)
	if err != nil {
		return err
	}
	defer ws.Close()

	plan, err := computePlan(ctx, ws, p.Force)
	if err != nil {
		return err
	}
	if p.JSON {
		return writePlanJSON(g, ws.proj.Graph, plan)
	}
	writePlan(g, ws.proj.Graph, plan)

	if p.ChangedSince != "" {
		changed, err := ws.proj.ChangedSince(p.ChangedSince)
		if stderrors.Is(err, vcs.ErrNoHistory) {
			slog.Warn("Output root is not a git work tree; --changed-since ignored")
			return nil
		}
		if err != nil {
			return err
		}
		writeChanged(g, ws.proj.Graph, changed)
	}
	return nil
}

func computePlan(ctx context.Context, ws *workspace, force bool) (*classify.Plan, error) {
	c := classify.New(ws.store, ws.proj.Root, classify.Options{Force: force})
	return c.Plan(ctx, ws.proj.Graph)
}

func writePlan(g *Global, gr *graph.Graph, plan *classify.Plan) {
	tw := g.table()
	printf(tw, "STAGE\tRANK\tACTION\tREASONS\n")
	for _, r := range plan.Results {
		rank, _ := gr.Rank(r.StageID)
		action := r.Action.String()
		if r.Err != nil {
			action = "PROTECTED"
		} else if r.Predicted {
			action += "*"
		}
		reasons := r.Reasons
		if r.Err != nil {
			reasons = append([]string{r.Err.Error()}, reasons...)
		}
		printf(tw, "%s\t%d\t%s\t%s\n", r.StageID, rank, action, joinOrDash(reasons))
	}
	_ = tw.Flush()

	counts := plan.Count()
	var generate int
	for _, a := range stage.AllActions {
		if a != stage.ActionMaintain {
			generate += counts[a]
		}
	}
	printf(g.out(), "\n%d stages, %d to generate, %d unchanged\n", len(plan.Results), generate, counts[stage.ActionMaintain])
	if generate > 0 {
		printf(g.out(), "* action depends on the output of a stage rebuilt earlier in the run\n")
	}
}

type planEntry struct {
	Stage     string   `json:"stage"`
	Rank      int      `json:"rank"`
	Action    string   `json:"action"`
	Predicted bool     `json:"predicted,omitempty"`
	Protected bool     `json:"protected,omitempty"`
	Reasons   []string `json:"reasons,omitempty"`
}

func writePlanJSON(g *Global, gr *graph.Graph, plan *classify.Plan) error {
	entries := make([]planEntry, 0, len(plan.Results))
	for _, r := range plan.Results {
		rank, _ := gr.Rank(r.StageID)
		entries = append(entries, planEntry{
			Stage:     r.StageID,
			Rank:      rank,
			Action:    r.Action.String(),
			Predicted: r.Predicted,
			Protected: r.Err != nil,
			Reasons:   r.Reasons,
		})
	}
	enc := json.NewEncoder(g.out())
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	return nil
}

// writeChanged lists each changed file with the stages that read it directly.
func writeChanged(g *Global, gr *graph.Graph, changed []string) {
	readers := make(map[string][]string)
	for _, n := range gr.Nodes() {
		for _, in := range n.Inputs {
			for _, f := range in.Files {
				readers[f.Path] = append(readers[f.Path], n.ID())
			}
		}
	}
	sort.Strings(changed)

	printf(g.out(), "\nChanged files:\n")
	tw := g.table()
	for _, path := range changed {
		printf(tw, "  %s\t%s\n", path, joinOrDash(readers[path]))
	}
	_ = tw.Flush()
}
