// Package watch reruns builds when project files change and, optionally, on
// a fixed interval.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
	"git.home.luguber.info/inful/docstage/internal/logfields"
)

// DefaultDebounce is the quiet window after the last change before a build starts.
const DefaultDebounce = 300 * time.Millisecond

// BuildFunc runs one build. reason names what triggered it.
type BuildFunc func(ctx context.Context, reason string) error

// Options configures a Watcher.
type Options struct {
	// Dirs are watched recursively.
	Dirs []string
	// Ignore reports paths whose changes never trigger a build, such as the
	// state directory and the artifacts the build itself writes.
	Ignore   func(path string) bool
	Debounce time.Duration
	// Every schedules an additional build at a fixed interval; zero disables it.
	Every time.Duration
}

// Watcher coalesces change notifications into serial builds. While a build
// runs, any number of further triggers result in exactly one follow-up build.
type Watcher struct {
	opts  Options
	build BuildFunc
}

// New validates opts and returns a watcher.
func New(opts Options, build BuildFunc) (*Watcher, error) {
	if build == nil {
		return nil, errors.ValidationError("build function is required").Build()
	}
	if len(opts.Dirs) == 0 {
		return nil, errors.ValidationError("at least one directory must be watched").Build()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Every < 0 {
		return nil, errors.ValidationError("interval cannot be negative").Build()
	}
	if opts.Ignore == nil {
		opts.Ignore = func(string) bool { return false }
	}
	return &Watcher{opts: opts, build: build}, nil
}

// Run builds once, then on every debounced change until ctx is done. It
// returns after the running build, if any, has finished.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WrapError(err, errors.CategoryRuntime, "create file watcher").Build()
	}
	defer func() { _ = fw.Close() }()
	for _, d := range w.opts.Dirs {
		w.addRecursive(fw, d)
	}

	requests := make(chan string, 1)
	enqueue := func(reason string) {
		select {
		case requests <- reason:
		default:
		}
	}

	if w.opts.Every > 0 {
		sched, err := gocron.NewScheduler()
		if err != nil {
			return errors.WrapError(err, errors.CategoryRuntime, "create scheduler").Build()
		}
		if _, err := sched.NewJob(
			gocron.DurationJob(w.opts.Every),
			gocron.NewTask(enqueue, "schedule"),
			gocron.WithName("periodic-build"),
		); err != nil {
			_ = sched.Shutdown()
			return errors.WrapError(err, errors.CategoryRuntime, "schedule periodic build").Build()
		}
		sched.Start()
		defer func() { _ = sched.Shutdown() }()
		slog.Info("Periodic build scheduled", logfields.Duration(w.opts.Every))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.worker(ctx, requests)
	}()
	defer wg.Wait()

	enqueue("startup")
	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	trigger := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.opts.Debounce, func() { enqueue("change: " + path) })
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.ignored(ev.Name) {
				continue
			}
			if ev.Op&fsnotify.Create == fsnotify.Create {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					w.addRecursive(fw, ev.Name)
				}
			}
			slog.Debug("Change detected", logfields.Path(ev.Name), slog.String("op", ev.Op.String()))
			trigger(ev.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("File watcher error", logfields.Error(err))
		}
	}
}

func (w *Watcher) worker(ctx context.Context, requests <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case reason := <-requests:
			slog.Info("Rebuilding", slog.String("reason", reason))
			if err := w.build(ctx, reason); err != nil {
				slog.Warn("Build failed", logfields.Error(err))
			}
		}
	}
}

func (w *Watcher) addRecursive(fw *fsnotify.Watcher, root string) {
	_ = filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if p != root && (strings.HasPrefix(d.Name(), ".") || w.opts.Ignore(p)) {
			return filepath.SkipDir
		}
		if err := fw.Add(p); err != nil {
			slog.Warn("Failed to watch directory", logfields.Path(p), logfields.Error(err))
		}
		return nil
	})
}

// ignored filters hidden files, editor leftovers and caller-ignored paths.
func (w *Watcher) ignored(p string) bool {
	base := filepath.Base(p)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp") || strings.HasSuffix(base, ".tmp") {
		return true
	}
	return w.opts.Ignore(p)
}
