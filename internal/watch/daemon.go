package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/gitsnap/internal/registry"
	"github.com/hupe1980/gitsnap/internal/snapshot"
)

// reloadSettle is the quiet window applied to registry file changes before
// the daemon reloads it.
const reloadSettle = 500 * time.Millisecond

// Options configures the watch daemon.
type Options struct {
	// Debounce is the quiet period per repository before a snapshot.
	Debounce time.Duration

	// DebounceMax caps how long a burst may defer a snapshot.
	// Zero disables the cap.
	DebounceMax time.Duration

	// Mode selects the notification backend (event or poll).
	Mode string

	// PollInterval is the scan period in poll mode.
	PollInterval time.Duration

	// Watcher overrides the notification source. When nil, one is built
	// from Mode and PollInterval.
	Watcher Watcher

	// Logger is used for structured logging.
	Logger *slog.Logger

	// Out is the writer for user-facing status messages.
	Out io.Writer
}

// DefaultOptions returns sensible default daemon options.
func DefaultOptions() Options {
	return Options{
		Debounce:     60 * time.Second,
		DebounceMax:  5 * time.Minute,
		Mode:         ModeEvent,
		PollInterval: 5 * time.Minute,
		Logger:       slog.Default(),
		Out:          os.Stderr,
	}
}

type controlOp int

const (
	controlAdd controlOp = iota
	controlRemove
)

// controlMsg is a runtime watch-set mutation. All changes to the watched set
// flow through the control channel; nothing mutates it directly.
type controlMsg struct {
	op   controlOp
	path string
	resp chan error
}

// Daemon watches registered repositories and turns settled change bursts
// into snapshot commits and gated pushes.
type Daemon struct {
	registry *registry.Registry
	engine   *snapshot.Engine
	gate     *snapshot.Gate
	opts     Options

	watcher Watcher
	control chan controlMsg
	locks   *lockTable
	tracker workTracker

	mu         sync.Mutex
	roots      map[string]struct{}
	debouncers map[string]*Debouncer
}

// NewDaemon creates a Daemon over the given registry, engine, and gate.
func NewDaemon(reg *registry.Registry, engine *snapshot.Engine, gate *snapshot.Gate, opts Options) *Daemon {
	def := DefaultOptions()

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Out == nil {
		opts.Out = io.Discard
	}

	if opts.Debounce <= 0 {
		opts.Debounce = def.Debounce
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}

	return &Daemon{
		registry:   reg,
		engine:     engine,
		gate:       gate,
		opts:       opts,
		control:    make(chan controlMsg),
		locks:      newLockTable(),
		roots:      make(map[string]struct{}),
		debouncers: make(map[string]*Debouncer),
	}
}

// Run subscribes every registered repository and processes events until the
// context is cancelled or a SIGINT/SIGTERM arrives. Only a failure of the
// notification source returns an error; per-repository failures are
// contained and logged.
func (d *Daemon) Run(ctx context.Context) error {
	watcher := d.opts.Watcher
	if watcher == nil {
		w, err := NewWatcher(d.opts.Mode, d.opts.PollInterval)
		if err != nil {
			return err
		}
		watcher = w
	}

	d.watcher = watcher
	defer watcher.Close()

	// Trap SIGINT / SIGTERM for graceful shutdown.
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	paths, err := d.registry.List()
	if err != nil {
		return fmt.Errorf("loading registry: %w", err)
	}

	for _, p := range paths {
		if err := d.addRoot(p); err != nil {
			d.opts.Logger.Error("skipping repository",
				slog.String("path", p),
				slog.String("error", err.Error()))
		}
	}

	fmt.Fprintf(d.opts.Out, "watching %d repositories (mode=%s, debounce=%s)\n",
		len(d.watchedRoots()), d.opts.Mode, d.opts.Debounce)

	g, gctx := errgroup.WithContext(sigCtx)

	g.Go(func() error { return d.pump(gctx, watcher) })
	g.Go(func() error { return d.reloadLoop(gctx) })

	err = g.Wait()

	d.stopDebouncers()
	d.tracker.wait()

	if err != nil {
		return err
	}

	fmt.Fprintln(d.opts.Out, "shutting down")

	return nil
}

// Watch registers a repository with the running daemon via the control
// channel. Valid only while Run is active.
func (d *Daemon) Watch(ctx context.Context, path string) error {
	return d.send(ctx, controlMsg{op: controlAdd, path: path, resp: make(chan error, 1)})
}

// Unwatch removes a repository from the running daemon via the control
// channel. A pending debounce is cancelled; an in-flight snapshot completes.
func (d *Daemon) Unwatch(ctx context.Context, path string) error {
	return d.send(ctx, controlMsg{op: controlRemove, path: path, resp: make(chan error, 1)})
}

// send delivers a control message to the pump and waits for its reply.
func (d *Daemon) send(ctx context.Context, msg controlMsg) error {
	select {
	case d.control <- msg:
	case <-ctx.Done():
		return ctx.Err()
	}

	if msg.resp == nil {
		return nil
	}

	select {
	case err := <-msg.resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pump is the event loop: it routes watcher events, applies control
// messages, and escalates notification-source failures.
func (d *Daemon) pump(ctx context.Context, w Watcher) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events():
			if !ok {
				return NewWatcherError(errors.New("event stream closed"))
			}

			d.route(ctx, ev)

		case err, ok := <-w.Errors():
			if !ok {
				return NewWatcherError(errors.New("error stream closed"))
			}

			return NewWatcherError(err)

		case msg := <-d.control:
			var err error

			switch msg.op {
			case controlAdd:
				err = d.addRoot(msg.path)
			case controlRemove:
				err = d.removeRoot(msg.path)
			}

			if msg.resp != nil {
				msg.resp <- err
			}
		}
	}
}

// route hands an event to the debouncer of the repository containing it.
// Events that belong to no watched root are discarded.
func (d *Daemon) route(ctx context.Context, ev Event) {
	root, ok := d.containingRoot(ev.Path)
	if !ok {
		return
	}

	// Changes under .git are never snapshot triggers.
	if rel, err := filepath.Rel(root, ev.Path); err == nil && hasGitComponent(rel) {
		return
	}

	d.opts.Logger.Debug("change detected",
		slog.String("repo", root),
		slog.String("path", ev.Path),
		slog.String("op", ev.Op.String()))

	d.debouncerFor(ctx, root).Trigger(ev.Path)
}

// containingRoot returns the watched root containing path, preferring the
// longest match when roots nest.
func (d *Daemon) containingRoot(path string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	best := ""

	for root := range d.roots {
		if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
			continue
		}

		if len(root) > len(best) {
			best = root
		}
	}

	return best, best != ""
}

// debouncerFor returns the debouncer of root, creating it on first use.
func (d *Daemon) debouncerFor(ctx context.Context, root string) *Debouncer {
	d.mu.Lock()
	defer d.mu.Unlock()

	if deb, ok := d.debouncers[root]; ok {
		return deb
	}

	deb := NewDebouncerWithMaxWait(d.opts.Debounce, d.opts.DebounceMax, func(path string) {
		d.settle(ctx, root, path)
	})
	d.debouncers[root] = deb

	return deb
}

// settle runs after a repository's quiet window elapses. It serializes on
// the repository's lock and discards work for roots removed in the meantime.
func (d *Daemon) settle(ctx context.Context, root, lastPath string) {
	if !d.tracker.begin() {
		return
	}
	defer d.tracker.done()

	if !d.isWatched(root) {
		return
	}

	lock := d.locks.get(root)
	lock.Lock()
	defer lock.Unlock()

	// Removed while queued behind an in-flight snapshot.
	if !d.isWatched(root) {
		return
	}

	d.opts.Logger.Debug("settled",
		slog.String("repo", root),
		slog.String("trigger", lastPath))

	d.runSnapshot(ctx, root)
}

// runSnapshot performs one snapshot attempt and, on a new commit, the gated
// push. All failures are contained here.
func (d *Daemon) runSnapshot(ctx context.Context, root string) {
	start := time.Now()

	result, err := d.engine.Snapshot(ctx, root)

	switch {
	case err == nil:
		d.opts.Logger.Info("snapshot created",
			slog.String("repo", root),
			slog.String("commit", result.CommitID),
			slog.String("branch", result.Branch),
			slog.Int("files", len(result.Files)),
			slog.Duration("took", time.Since(start)))
		fmt.Fprintf(d.opts.Out, "[%s] %s → snapshot %.7s (%d files)\n",
			time.Now().Format("15:04:05"), root, result.CommitID, len(result.Files))

		d.push(ctx, root, result.Branch)

	case errors.Is(err, snapshot.ErrNoChanges):
		d.opts.Logger.Debug("no changes", slog.String("repo", root))

	case errors.Is(err, snapshot.ErrDetachedHead):
		d.opts.Logger.Warn("skipping snapshot on detached HEAD", slog.String("repo", root))

	case ctx.Err() != nil:
		d.opts.Logger.Debug("snapshot cancelled", slog.String("repo", root))

	default:
		d.opts.Logger.Error("snapshot failed",
			slog.String("repo", root),
			slog.String("error", err.Error()))
		fmt.Fprintf(d.opts.Out, "[%s] %s → ERROR: %v\n",
			time.Now().Format("15:04:05"), root, err)
	}
}

// push propagates a fresh snapshot to opted-in remotes. Failures are
// warnings only.
func (d *Daemon) push(ctx context.Context, root, branch string) {
	report, err := d.gate.Push(ctx, root, branch)
	if err != nil {
		d.opts.Logger.Warn("push skipped",
			slog.String("repo", root),
			slog.String("error", err.Error()))

		return
	}

	for _, f := range report.Failures {
		d.opts.Logger.Warn("push failed",
			slog.String("repo", root),
			slog.String("remote", f.Remote),
			slog.String("error", f.Err.Error()))
	}

	if pushed := len(report.Attempted) - len(report.Failures); pushed > 0 {
		d.opts.Logger.Info("pushed snapshot",
			slog.String("repo", root),
			slog.Int("remotes", pushed))
	}
}

// addRoot validates and subscribes one repository root.
func (d *Daemon) addRoot(path string) error {
	norm, err := registry.Normalize(path)
	if err != nil {
		return err
	}

	if d.isWatched(norm) {
		return nil
	}

	if err := snapshot.Verify(norm); err != nil {
		return err
	}

	if err := d.watcher.Add(norm); err != nil {
		return fmt.Errorf("subscribing %s: %w", norm, err)
	}

	d.mu.Lock()
	d.roots[norm] = struct{}{}
	d.mu.Unlock()

	d.opts.Logger.Info("watching repository", slog.String("path", norm))

	return nil
}

// removeRoot unsubscribes one repository root and cancels its pending
// debounce. Removing an unknown root is a no-op.
func (d *Daemon) removeRoot(path string) error {
	norm, err := registry.Normalize(path)
	if err != nil {
		return err
	}

	d.mu.Lock()
	_, exists := d.roots[norm]
	delete(d.roots, norm)
	deb := d.debouncers[norm]
	delete(d.debouncers, norm)
	d.mu.Unlock()

	if deb != nil {
		deb.Stop()
	}

	if !exists {
		return nil
	}

	if err := d.watcher.Remove(norm); err != nil {
		d.opts.Logger.Warn("unsubscribing repository",
			slog.String("path", norm),
			slog.String("error", err.Error()))
	}

	d.opts.Logger.Info("stopped watching repository", slog.String("path", norm))

	return nil
}

// reloadLoop watches the registry file for external changes and feeds the
// resulting adds and removes through the control channel. Hot-reload is
// best-effort: failures disable it without stopping the daemon.
func (d *Daemon) reloadLoop(ctx context.Context) error {
	regPath := d.registry.Path()
	dir := filepath.Dir(regPath)

	if err := os.MkdirAll(dir, 0o750); err != nil {
		d.opts.Logger.Warn("registry hot-reload disabled",
			slog.String("error", err.Error()))

		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		d.opts.Logger.Warn("registry hot-reload disabled",
			slog.String("error", err.Error()))

		return nil
	}
	defer fsw.Close()

	if err := fsw.Add(dir); err != nil {
		d.opts.Logger.Warn("registry hot-reload disabled",
			slog.String("error", err.Error()))

		return nil
	}

	deb := NewDebouncer(reloadSettle, func(string) {
		d.reload(ctx)
	})
	defer deb.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) == regPath {
				deb.Trigger(ev.Name)
			}

		case werr, ok := <-fsw.Errors:
			if !ok {
				return nil
			}

			d.opts.Logger.Warn("registry watch error",
				slog.String("error", werr.Error()))
		}
	}
}

// reload diffs the registry file against the watched set and applies the
// changes through the control channel.
func (d *Daemon) reload(ctx context.Context) {
	next, err := d.registry.List()
	if err != nil {
		d.opts.Logger.Warn("reloading registry",
			slog.String("error", err.Error()))

		return
	}

	added, removed := registry.Diff(d.watchedRoots(), next)
	if len(added) == 0 && len(removed) == 0 {
		return
	}

	d.opts.Logger.Info("registry changed",
		slog.Int("added", len(added)),
		slog.Int("removed", len(removed)))

	for _, p := range added {
		if err := d.send(ctx, controlMsg{op: controlAdd, path: p, resp: make(chan error, 1)}); err != nil {
			d.opts.Logger.Error("adding repository",
				slog.String("path", p),
				slog.String("error", err.Error()))
		}
	}

	for _, p := range removed {
		if err := d.send(ctx, controlMsg{op: controlRemove, path: p, resp: make(chan error, 1)}); err != nil {
			d.opts.Logger.Error("removing repository",
				slog.String("path", p),
				slog.String("error", err.Error()))
		}
	}
}

// isWatched reports whether root is currently in the watched set.
func (d *Daemon) isWatched(root string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.roots[root]

	return ok
}

// watchedRoots returns the watched set as a sorted slice.
func (d *Daemon) watchedRoots() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	roots := make([]string, 0, len(d.roots))
	for r := range d.roots {
		roots = append(roots, r)
	}

	sort.Strings(roots)

	return roots
}

// stopDebouncers cancels every pending debounce timer.
func (d *Daemon) stopDebouncers() {
	d.mu.Lock()
	debs := make([]*Debouncer, 0, len(d.debouncers))
	for _, deb := range d.debouncers {
		debs = append(debs, deb)
	}
	d.mu.Unlock()

	for _, deb := range debs {
		deb.Stop()
	}
}

// hasGitComponent reports whether any path segment of rel is ".git".
func hasGitComponent(rel string) bool {
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == ".git" {
			return true
		}
	}

	return false
}
