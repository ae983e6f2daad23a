package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/docstage/internal/config"
	"git.home.luguber.info/inful/docstage/internal/project"
	"git.home.luguber.info/inful/docstage/internal/store"
)

// Global is shared state handed to every command.
type Global struct {
	// Out receives command output; nil means stdout.
	Out io.Writer
}

func (g *Global) out() io.Writer {
	if g == nil || g.Out == nil {
		return os.Stdout
	}
	return g.Out
}

// table returns a writer that aligns tab separated columns. Flush it when done.
func (g *Global) table() *tabwriter.Writer {
	return tabwriter.NewWriter(g.out(), 0, 4, 2, ' ', 0)
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"docstage.yaml" env:"DOCSTAGE_CONFIG"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Init     InitCmd     `cmd:"" help:"Initialize a new configuration file"`
	Validate ValidateCmd `cmd:"" help:"Load the declarations and check the stage graph"`
	Plan     PlanCmd     `cmd:"" help:"Show what a build would do without generating anything"`
	Build    BuildCmd    `cmd:"" help:"Regenerate every stage whose inputs changed"`
	New      NewCmd      `cmd:"" help:"Scaffold a new stage declaration"`
	Rdeps    RdepsCmd    `cmd:"" help:"List the stages that depend on a stage"`
	Context  ContextCmd  `cmd:"" help:"Print the generation request a stage would receive"`
	Verify   VerifyCmd   `cmd:"" help:"Check committed artifacts against a fresh derivation"`
	Watch    WatchCmd    `cmd:"" help:"Rebuild whenever declarations or inputs change"`
	History  HistoryCmd  `cmd:"" help:"Show recent runs from the run history"`
	Info     VersionCmd  `cmd:"" name:"version" help:"Print version information"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(c.Verbose)}))
	slog.SetDefault(logger)
	return nil
}

// parseLogLevel honours --verbose first, then DOCSTAGE_LOG_LEVEL.
func parseLogLevel(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DOCSTAGE_LOG_LEVEL"))) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadConfig reads the configuration file. A missing file is only tolerated
// for the default path, in which case defaults rooted at the working
// directory are used.
func loadConfig(root *CLI) (*config.Config, error) {
	cfg, err := config.Load(root.Config)
	if err == nil {
		return cfg, nil
	}
	if root.Config == config.DefaultFileName {
		if _, statErr := os.Stat(root.Config); os.IsNotExist(statErr) {
			slog.Debug("No configuration file, using defaults", "path", root.Config)
			return config.Default(), nil
		}
	}
	return nil, err
}

// workspace is a loaded project plus its opened fingerprint store.
type workspace struct {
	cfg   *config.Config
	proj  *project.Project
	store store.Store
}

func (w *workspace) Close() {
	if err := w.store.Close(); err != nil {
		slog.Warn("Failed to close fingerprint store", "error", err)
	}
}

// openWorkspace loads the configuration, the validated graph and the store.
func openWorkspace(ctx context.Context, root *CLI) (*workspace, error) {
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, err
	}
	proj, err := project.Load(ctx, cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &workspace{cfg: cfg, proj: proj, store: st}, nil
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, "; ")
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	if hash == "" {
		return "-"
	}
	return hash
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
