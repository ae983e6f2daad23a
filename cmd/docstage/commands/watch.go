package commands

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/netutil"

	"git.home.luguber.info/inful/docstage/internal/config"
	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
	"git.home.luguber.info/inful/docstage/internal/logfields"
	"git.home.luguber.info/inful/docstage/internal/metrics"
	"git.home.luguber.info/inful/docstage/internal/project"
	"git.home.luguber.info/inful/docstage/internal/store"
	"git.home.luguber.info/inful/docstage/internal/watch"
)

// WatchCmd implements the 'watch' command. Declarations are reloaded before
// every build; changes to the configuration file need a restart.
type WatchCmd struct {
	Workers     int           `short:"w" help:"Concurrent generator calls (overrides build.workers)"`
	Force       bool          `help:"Overwrite artifacts that were edited by hand"`
	Debounce    time.Duration `default:"300ms" help:"Quiet period after a change before rebuilding"`
	Every       time.Duration `help:"Also rebuild at this interval (0 disables)"`
	MetricsAddr string        `name:"metrics-addr" placeholder:"HOST:PORT" help:"Serve Prometheus metrics on this address"`
}

func (w *WatchCmd) Run(g *Global, root *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	reg := prom.NewRegistry()
	runner, err := newBuildRunner(cfg, reg)
	if err != nil {
		return err
	}
	defer runner.Close()

	if w.MetricsAddr != "" {
		shutdown, err := serveMetrics(w.MetricsAddr, reg)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	dirs, err := watchDirs(cfg)
	if err != nil {
		return err
	}
	ignore := newIgnoreSet(cfg)

	build := func(ctx context.Context, _ string) error {
		proj, err := project.Load(ctx, cfg)
		if err != nil {
			return err
		}
		ignore.setOutputs(proj)
		rep := runner.run(ctx, &workspace{cfg: cfg, proj: proj, store: st}, w.Workers, w.Force)
		writeReport(g, rep)
		return rep.Err()
	}

	watcher, err := watch.New(watch.Options{
		Dirs:     dirs,
		Ignore:   ignore.match,
		Debounce: w.Debounce,
		Every:    w.Every,
	}, build)
	if err != nil {
		return err
	}
	slog.Info("Watching for changes", slog.Any("dirs", dirs))
	return watcher.Run(ctx)
}

// watchDirs returns the output root and, when it lies elsewhere, the stages directory.
func watchDirs(cfg *config.Config) ([]string, error) {
	root, err := filepath.Abs(cfg.Resolve(cfg.OutputRoot))
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "resolve output root").Build()
	}
	stages, err := filepath.Abs(cfg.Resolve(cfg.StagesDir))
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "resolve stages directory").Build()
	}
	if within(root, stages) {
		return []string{root}, nil
	}
	return []string{root, stages}, nil
}

func within(dir, p string) bool {
	rel, err := filepath.Rel(dir, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ignoreSet suppresses changes made by the build itself: the state directory
// and every artifact of the last loaded graph.
type ignoreSet struct {
	state string

	mu      sync.RWMutex
	outputs map[string]struct{}
}

func newIgnoreSet(cfg *config.Config) *ignoreSet {
	state, _ := filepath.Abs(cfg.Resolve(cfg.StateDir))
	return &ignoreSet{state: state, outputs: map[string]struct{}{}}
}

func (s *ignoreSet) setOutputs(p *project.Project) {
	outputs := make(map[string]struct{}, p.Graph.Len())
	for _, n := range p.Graph.Nodes() {
		outputs[filepath.Join(p.Root, filepath.FromSlash(n.Stage.Output))] = struct{}{}
	}
	s.mu.Lock()
	s.outputs = outputs
	s.mu.Unlock()
}

func (s *ignoreSet) match(path string) bool {
	if s.state != "" && within(s.state, path) {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.outputs[filepath.Clean(path)]
	return ok
}

// maxMetricsConns bounds concurrent scrapes so a misbehaving scraper cannot
// starve the build of file descriptors.
const maxMetricsConns = 16

// serveMetrics exposes reg on addr and returns a function that stops the server.
func serveMetrics(addr string, reg *prom.Registry) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryRuntime, "listen for metrics").WithContext("addr", addr).Build()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler(reg))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		slog.Info("Serving metrics", slog.String("addr", ln.Addr().String()))
		if err := srv.Serve(netutil.LimitListener(ln, maxMetricsConns)); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", logfields.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("Metrics server shutdown", logfields.Error(err))
		}
	}, nil
}
