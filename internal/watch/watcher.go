package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch modes selecting the notification backend.
const (
	ModeEvent = "event"
	ModePoll  = "poll"
)

// eventBufferSize bounds the translated event channel so a short burst never
// blocks the notification source.
const eventBufferSize = 64

// Op classifies a filesystem change.
type Op int

const (
	OpCreate Op = iota + 1
	OpModify
	OpRemove
)

// String returns the lower-case op name.
func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Event is a single relevant filesystem change below a watched root.
type Event struct {
	Path string
	Op   Op
}

// Watcher is a source of filesystem change events for a set of directory
// roots. Implementations filter out hidden files, editor temp files, and
// hidden directories (notably .git) at the source.
type Watcher interface {
	// Add subscribes a root and all its non-hidden subdirectories.
	Add(root string) error

	// Remove unsubscribes a previously added root.
	Remove(root string) error

	// Events streams filtered change events. The channel is closed when
	// the watcher shuts down.
	Events() <-chan Event

	// Errors streams failures of the notification source itself.
	Errors() <-chan error

	Close() error
}

// NewWatcher constructs the backend selected by mode. pollInterval is only
// used in poll mode.
func NewWatcher(mode string, pollInterval time.Duration) (Watcher, error) {
	switch mode {
	case ModePoll:
		return NewPollWatcher(pollInterval), nil
	case ModeEvent, "":
		return NewEventWatcher()
	default:
		return nil, fmt.Errorf("unknown watch mode %q", mode)
	}
}

// EventWatcher delivers changes via inotify-style OS notifications.
type EventWatcher struct {
	fs     *fsnotify.Watcher
	events chan Event
	errs   chan error
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewEventWatcher creates an EventWatcher with no roots subscribed.
func NewEventWatcher() (*EventWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	w := &EventWatcher{
		fs:     fsw,
		events: make(chan Event, eventBufferSize),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}

	go w.pump()

	return w, nil
}

// Add walks root and subscribes every non-hidden directory.
func (w *EventWatcher) Add(root string) error {
	if err := addRecursive(w.fs, root); err != nil {
		return fmt.Errorf("watching %s: %w", root, err)
	}

	return nil
}

// Remove unsubscribes root and every watched directory below it.
func (w *EventWatcher) Remove(root string) error {
	prefix := root + string(filepath.Separator)

	for _, p := range w.fs.WatchList() {
		if p != root && !strings.HasPrefix(p, prefix) {
			continue
		}

		if err := w.fs.Remove(p); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
			return fmt.Errorf("unwatching %s: %w", p, err)
		}
	}

	return nil
}

func (w *EventWatcher) Events() <-chan Event {
	return w.events
}

func (w *EventWatcher) Errors() <-chan error {
	return w.errs
}

// Close shuts the watcher down and closes the event channel.
func (w *EventWatcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		w.closeErr = w.fs.Close()
	})

	return w.closeErr
}

// pump translates fsnotify events into filtered Events.
func (w *EventWatcher) pump() {
	defer close(w.events)

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}

			if !isRelevant(ev) {
				continue
			}

			// If a new directory was created, watch it too.
			if ev.Has(fsnotify.Create) {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					_ = addRecursive(w.fs, ev.Name)
				}
			}

			select {
			case w.events <- Event{Path: ev.Name, Op: mapOp(ev.Op)}:
			case <-w.done:
				return
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}

			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

// mapOp reduces an fsnotify op to the create/modify/remove triple.
// Renames count as removal of the old path.
func mapOp(op fsnotify.Op) Op {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return OpRemove
	default:
		return OpModify
	}
}

// addRecursive walks root and adds all non-hidden directories to the watcher.
func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			// Skip hidden directories (e.g., .git).
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}

			return watcher.Add(path)
		}

		return nil
	})
}

// isRelevant filters out events that must not trigger snapshots.
func isRelevant(event fsnotify.Event) bool {
	if event.Op == 0 {
		return false
	}

	// Only care about write, create, remove, rename.
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}

	return isRelevantName(filepath.Base(event.Name))
}

// isRelevantName rejects hidden files and editor temporary files.
func isRelevantName(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".swp") || strings.HasPrefix(name, "#") {
		return false
	}

	return true
}
