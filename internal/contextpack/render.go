package contextpack

import (
	"fmt"
	"io"
	"strings"

	"git.home.luguber.info/inful/docstage/internal/generate"
)

// Render writes a readable view of a request, as shown by the context command.
func Render(w io.Writer, req generate.Request) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "stage:  %s\n", req.Stage)
	fmt.Fprintf(&sb, "action: %s\n", req.Action)
	if req.Model != "" {
		fmt.Fprintf(&sb, "model:  %s\n", req.Model)
	}
	sb.WriteString("\n## instructions\n\n")
	sb.WriteString(strings.TrimRight(req.Instructions, "\n"))
	sb.WriteString("\n")

	for _, d := range req.Dependencies {
		state := "unchanged"
		if d.Changed {
			state = "changed"
		}
		fmt.Fprintf(&sb, "\n## dependency %s (%s, %s)\n", d.Path, d.Ref, state)
		switch {
		case d.Diff != "":
			sb.WriteString("\n" + d.Diff)
		case d.Content != "":
			sb.WriteString("\n" + d.Content)
			if !strings.HasSuffix(d.Content, "\n") {
				sb.WriteString("\n")
			}
		}
	}
	if req.Current != "" {
		sb.WriteString("\n## current artifact\n\n")
		sb.WriteString(req.Current)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
