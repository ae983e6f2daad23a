// Package project loads everything a command needs from the configuration:
// the stage declarations, the version-control tree and the validated graph.
package project

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/docstage/internal/config"
	"git.home.luguber.info/inful/docstage/internal/declaration"
	"git.home.luguber.info/inful/docstage/internal/eventstore"
	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
	"git.home.luguber.info/inful/docstage/internal/generate"
	"git.home.luguber.info/inful/docstage/internal/graph"
	"git.home.luguber.info/inful/docstage/internal/logfields"
	"git.home.luguber.info/inful/docstage/internal/stage"
	"git.home.luguber.info/inful/docstage/internal/vcs"
)

// Project is the loaded, validated state of one invocation. It is derived
// from the declarations every time and never persisted.
type Project struct {
	Config *config.Config
	// Root is the directory output locators and dependency paths are relative to.
	Root      string
	StagesDir string
	Tree      vcs.Tree
	Stages    []stage.Stage
	Graph     *graph.Graph
}

// Load parses the declarations and builds the graph. Declaration and graph
// problems are returned together as one joined error.
func Load(ctx context.Context, cfg *config.Config) (*Project, error) {
	root, err := filepath.Abs(cfg.Resolve(cfg.OutputRoot))
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "resolve output root").Build()
	}
	p := &Project{Config: cfg, Root: root, StagesDir: cfg.Resolve(cfg.StagesDir)}

	decls, declErr := declaration.Load(ctx, p.StagesDir)
	for i, d := range decls {
		p.Stages = append(p.Stages, d.Stage(i))
	}

	tree, err := vcs.Open(root, vcs.Options{Exclude: excludes(root, cfg.Resolve(cfg.StateDir))})
	if err != nil {
		return nil, err
	}
	p.Tree = tree
	slog.Debug("Opened project tree", logfields.Path(root), logfields.Commit(tree.Commit()))

	g, graphErr := graph.Build(p.Stages, tree)
	if declErr != nil || graphErr != nil {
		return nil, stderrors.Join(declErr, graphErr)
	}
	p.Graph = g
	return p, nil
}

// excludes lists the state directory when it lives under root.
func excludes(root, stateDir string) []string {
	abs, err := filepath.Abs(stateDir)
	if err != nil {
		return nil
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil
	}
	return []string{filepath.ToSlash(rel)}
}

// ChangedSince lists files that changed in version control since commit.
// Trees without history report vcs.ErrNoHistory.
func (p *Project) ChangedSince(commit string) ([]string, error) {
	h, ok := p.Tree.(interface {
		ChangedSince(commit string) ([]string, error)
	})
	if !ok {
		return nil, vcs.ErrNoHistory
	}
	return h.ChangedSince(commit)
}

// NewGenerator builds the configured generation collaborator.
func NewGenerator(cfg *config.Config) (generate.Generator, error) {
	gc := cfg.Generator
	switch {
	case gc.Endpoint != "":
		return generate.NewHTTPGenerator(gc.Endpoint, gc.Timeout), nil
	case gc.Command != "":
		return &generate.ExecGenerator{
			Command: gc.Command,
			Args:    gc.Args,
			Dir:     cfg.BaseDir(),
			Timeout: gc.Timeout,
		}, nil
	}
	return nil, errors.ConfigError("no generator configured: set generator.command or generator.endpoint").Build()
}

// OpenEvents opens the run history, or returns nil when it is disabled.
func OpenEvents(cfg *config.Config) (*eventstore.SQLiteStore, error) {
	if !cfg.Events.Enabled {
		return nil, nil
	}
	es, err := eventstore.NewSQLiteStore(cfg.Resolve(cfg.Events.Path))
	if err != nil {
		return nil, fmt.Errorf("open run history: %w", err)
	}
	return es, nil
}
