package generate

import (
	"bytes"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/text"

	"git.home.luguber.info/inful/docstage/internal/frontmatter"
)

// ValidateOutput rejects text that cannot be a document: empty output, invalid
// UTF-8, a broken header, or a markdown body without a single block.
func ValidateOutput(stageID string, out []byte) error {
	if len(bytes.TrimSpace(out)) == 0 {
		return Fail(FailureInvalid, stageID, "generator returned empty output").Build()
	}
	if !utf8.Valid(out) {
		return Fail(FailureInvalid, stageID, "generator output is not valid UTF-8").Build()
	}
	doc, err := frontmatter.Split(out)
	if err != nil {
		return Fail(FailureInvalid, stageID, "generator output has an unterminated header").WithCause(err).Build()
	}
	if _, err := frontmatter.ParseYAML(doc.Header); err != nil {
		return Fail(FailureInvalid, stageID, "generator output header is not valid YAML").WithCause(err).Build()
	}

	root := goldmark.New().Parser().Parse(text.NewReader(doc.Body))
	if root.ChildCount() == 0 {
		return Fail(FailureInvalid, stageID, "generator output has no markdown content").Build()
	}
	return nil
}
