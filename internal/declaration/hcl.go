package declaration

import (
	"path"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
	"git.home.luguber.info/inful/docstage/internal/stage"
)

// hclStagesFile is the top-level structure of a .hcl declaration file.
type hclStagesFile struct {
	Stages []*hclStage `hcl:"stage,block"`
}

type hclStage struct {
	Name         string   `hcl:"name,label"`
	Output       string   `hcl:"output"`
	Deps         []string `hcl:"deps,optional"`
	Model        string   `hcl:"model,optional"`
	Instructions string   `hcl:"instructions"`
}

// ParseHCL parses every stage block in an HCL file. A block labelled "api" in
// "services/defs.hcl" declares stage "services/api".
func ParseHCL(parser *hclparse.Parser, source string, data []byte) ([]Declaration, error) {
	file, diags := parser.ParseHCL(data, source)
	if diags.HasErrors() {
		return nil, errors.MalformedDeclaration(source, diags.Error()).WithCause(diags).Build()
	}

	var parsed hclStagesFile
	if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return nil, errors.MalformedDeclaration(source, diags.Error()).WithCause(diags).Build()
	}
	if len(parsed.Stages) == 0 {
		return nil, errors.MalformedDeclaration(source, "no stage blocks").Build()
	}

	dir := path.Dir(source)
	out := make([]Declaration, 0, len(parsed.Stages))
	for _, s := range parsed.Stages {
		id := s.Name
		if dir != "." {
			id = dir + "/" + s.Name
		}
		d := Declaration{
			ID:           stage.NormalizeID(id),
			Source:       source,
			Format:       FormatHCL,
			Output:       s.Output,
			Deps:         s.Deps,
			Model:        strings.TrimSpace(s.Model),
			Instructions: strings.TrimSpace(s.Instructions),
		}
		if err := d.validate(); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
