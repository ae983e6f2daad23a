package declaration

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
	"git.home.luguber.info/inful/docstage/internal/frontmatter"
	"git.home.luguber.info/inful/docstage/internal/stage"
)

// Scaffold writes a new markdown declaration for id under root and returns its
// path. An existing declaration is never overwritten.
func Scaffold(root, id, output string, deps []string, model string) (string, error) {
	id = stage.NormalizeID(id)
	if id == "" {
		return "", errors.ValidationError("stage id is required").Build()
	}
	if output == "" {
		return "", errors.ValidationError("output is required").WithContext("stage", id).Build()
	}

	h := header{Output: stage.CleanPath(output), Deps: deps, Model: model}
	raw, err := yaml.Marshal(h)
	if err != nil {
		return "", errors.WrapError(err, errors.CategoryInternal, "encode declaration header").Build()
	}
	doc := frontmatter.Document{
		Header:    raw,
		Body:      []byte(fmt.Sprintf("Describe what %s should contain.\n", h.Output)),
		HasHeader: true,
		Newline:   "\n",
	}
	content := doc.Bytes()

	// the scaffold must parse like any other declaration
	if _, err := ParseMarkdown(id+".md", content); err != nil {
		return "", err
	}

	p := filepath.Join(root, filepath.FromSlash(id)+".md")
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return "", errors.WrapError(err, errors.CategoryFileSystem, "create stages directory").WithContext("path", p).Build()
	}
	// #nosec G304 -- p is built from the configured stages root and a normalised id.
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return "", errors.ValidationError(fmt.Sprintf("declaration already exists: %s", p)).
				WithContext("stage", id).Build()
		}
		return "", errors.WrapError(err, errors.CategoryFileSystem, "create declaration").WithContext("path", p).Build()
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return "", errors.WrapError(err, errors.CategoryFileSystem, "write declaration").WithContext("path", p).Build()
	}
	if err := f.Close(); err != nil {
		return "", errors.WrapError(err, errors.CategoryFileSystem, "close declaration").WithContext("path", p).Build()
	}
	return p, nil
}
