// Package declaration discovers and parses stage declarations: markdown files
// with a YAML header and HCL files with stage blocks.
package declaration

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2/hclparse"

	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
	"git.home.luguber.info/inful/docstage/internal/logfields"
	"git.home.luguber.info/inful/docstage/internal/stage"
)

// Format identifies the declaration syntax.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHCL      Format = "hcl"
)

// Declaration is one parsed, field-validated stage declaration. Dependency
// resolution happens later, in the graph.
type Declaration struct {
	ID           string
	Source       string // path relative to the stages root
	Format       Format
	Output       string
	Deps         []string
	Model        string
	Instructions string
}

// Stage converts the declaration into a stage with the given declaration index.
func (d Declaration) Stage(index int) stage.Stage {
	refs := make([]stage.DependencyReference, 0, len(d.Deps))
	for _, raw := range d.Deps {
		refs = append(refs, stage.ParseReference(raw))
	}
	return stage.Stage{
		ID:           d.ID,
		Output:       stage.CleanPath(d.Output),
		Deps:         refs,
		Instructions: d.Instructions,
		Model:        d.Model,
		Source:       d.Source,
		Index:        index,
	}
}

// Load parses every declaration under root in lexical path order. Problems in
// all files are collected and returned together.
func Load(ctx context.Context, root string) ([]Declaration, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		switch filepath.Ext(p) {
		case ".md", ".hcl":
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryFileSystem, "scan stages directory").
			WithContext("path", root).Build()
	}
	sort.Strings(files)

	var (
		decls    []Declaration
		problems []error
		parser   = hclparse.NewParser()
	)
	for _, p := range files {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		rel, _ := filepath.Rel(root, p)
		rel = filepath.ToSlash(rel)
		// #nosec G304 -- p was discovered under the configured stages root.
		data, readErr := os.ReadFile(p)
		if readErr != nil {
			problems = append(problems, errors.WrapError(readErr, errors.CategoryFileSystem, "read declaration").
				WithContext("path", rel).Build())
			continue
		}

		var parsed []Declaration
		var parseErr error
		if filepath.Ext(p) == ".hcl" {
			parsed, parseErr = ParseHCL(parser, rel, data)
		} else {
			var d Declaration
			d, parseErr = ParseMarkdown(rel, data)
			parsed = []Declaration{d}
		}
		if parseErr != nil {
			problems = append(problems, parseErr)
			continue
		}
		decls = append(decls, parsed...)
	}

	slog.Debug("Loaded stage declarations", logfields.Path(root), slog.Int("files", len(files)), slog.Int("stages", len(decls)))
	if len(problems) > 0 {
		return decls, stderrors.Join(problems...)
	}
	return decls, nil
}

// validate checks the fields common to both formats and returns every problem.
func (d Declaration) validate() error {
	var problems []error
	if strings.TrimSpace(d.Output) == "" {
		problems = append(problems, errors.MalformedDeclaration(d.Source, fmt.Sprintf("stage %q: output is required", d.ID)).Build())
	}
	if d.ID == "" {
		problems = append(problems, errors.MalformedDeclaration(d.Source, "empty stage identifier").Build())
	}
	if strings.TrimSpace(d.Instructions) == "" {
		problems = append(problems, errors.MalformedDeclaration(d.Source, fmt.Sprintf("stage %q: instructions are empty", d.ID)).Build())
	}
	seen := make(map[string]struct{}, len(d.Deps))
	for i, raw := range d.Deps {
		if strings.TrimSpace(raw) == "" {
			problems = append(problems, errors.MalformedDeclaration(d.Source, fmt.Sprintf("stage %q: deps[%d] is empty", d.ID, i)).Build())
			continue
		}
		if _, dup := seen[raw]; dup {
			problems = append(problems, errors.MalformedDeclaration(d.Source, fmt.Sprintf("stage %q: dependency %q listed twice", d.ID, raw)).Build())
		}
		seen[raw] = struct{}{}
	}
	return stderrors.Join(problems...)
}
