package declaration

import (
	"strings"

	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
	"git.home.luguber.info/inful/docstage/internal/frontmatter"
	"git.home.luguber.info/inful/docstage/internal/stage"
)

// header lists the only fields a markdown declaration may carry.
type header struct {
	Output string   `yaml:"output"`
	Deps   []string `yaml:"deps,omitempty"`
	Model  string   `yaml:"model,omitempty"`
}

// ParseMarkdown parses a markdown declaration. The stage ID is the source path
// without extension; the body after the header is the instruction payload.
func ParseMarkdown(source string, data []byte) (Declaration, error) {
	doc, err := frontmatter.Split(data)
	if err != nil {
		return Declaration{}, errors.MalformedDeclaration(source, err.Error()).WithCause(err).Build()
	}
	if !doc.HasHeader {
		return Declaration{}, errors.MalformedDeclaration(source, "missing YAML header").Build()
	}

	var h header
	if err := frontmatter.DecodeStrict(doc.Header, &h); err != nil {
		return Declaration{}, errors.MalformedDeclaration(source, "invalid header: "+err.Error()).WithCause(err).Build()
	}

	d := Declaration{
		ID:           stage.IDFromPath(source),
		Source:       source,
		Format:       FormatMarkdown,
		Output:       h.Output,
		Deps:         h.Deps,
		Model:        strings.TrimSpace(h.Model),
		Instructions: strings.TrimSpace(string(doc.Body)),
	}
	if err := d.validate(); err != nil {
		return Declaration{}, err
	}
	return d, nil
}
