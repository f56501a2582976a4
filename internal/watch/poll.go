package watch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// PollWatcher detects changes by periodically rescanning each root and
// comparing file metadata, for filesystems where OS notifications are
// unavailable or unreliable (network mounts in particular).
type PollWatcher struct {
	interval time.Duration
	events   chan Event
	errs     chan error
	done     chan struct{}

	mu    sync.Mutex
	roots map[string]map[string]fileState

	closeOnce sync.Once
}

// fileState is the per-file fingerprint compared between scans.
type fileState struct {
	modTime time.Time
	size    int64
}

// NewPollWatcher creates a PollWatcher scanning every interval.
func NewPollWatcher(interval time.Duration) *PollWatcher {
	w := &PollWatcher{
		interval: interval,
		events:   make(chan Event, eventBufferSize),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
		roots:    make(map[string]map[string]fileState),
	}

	go w.loop()

	return w
}

// Add scans root to establish the comparison baseline and starts tracking it.
func (w *PollWatcher) Add(root string) error {
	baseline, err := scanTree(root)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", root, err)
	}

	w.mu.Lock()
	w.roots[root] = baseline
	w.mu.Unlock()

	return nil
}

// Remove stops tracking root.
func (w *PollWatcher) Remove(root string) error {
	w.mu.Lock()
	delete(w.roots, root)
	w.mu.Unlock()

	return nil
}

func (w *PollWatcher) Events() <-chan Event {
	return w.events
}

func (w *PollWatcher) Errors() <-chan error {
	return w.errs
}

// Close stops the scan loop and closes the event channel.
func (w *PollWatcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
	})

	return nil
}

// loop rescans all roots on every tick.
func (w *PollWatcher) loop() {
	defer close(w.events)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.Lock()
			roots := make([]string, 0, len(w.roots))
			for r := range w.roots {
				roots = append(roots, r)
			}
			w.mu.Unlock()

			sort.Strings(roots)

			for _, root := range roots {
				if !w.scanRoot(root) {
					return
				}
			}
		}
	}
}

// scanRoot rescans one root and emits the differences against the previous
// scan. It reports false when the watcher shut down mid-emit.
func (w *PollWatcher) scanRoot(root string) bool {
	next, err := scanTree(root)
	if err != nil {
		select {
		case w.errs <- fmt.Errorf("scanning %s: %w", root, err):
		default:
		}

		return true
	}

	w.mu.Lock()
	prev, tracked := w.roots[root]
	if tracked {
		w.roots[root] = next
	}
	w.mu.Unlock()

	// Removed between the list snapshot and the scan.
	if !tracked {
		return true
	}

	for _, ev := range diffStates(prev, next) {
		select {
		case w.events <- ev:
		case <-w.done:
			return false
		}
	}

	return true
}

// diffStates turns two scans into create/modify/remove events, sorted by path.
func diffStates(prev, next map[string]fileState) []Event {
	var events []Event

	for path, state := range next {
		old, ok := prev[path]

		switch {
		case !ok:
			events = append(events, Event{Path: path, Op: OpCreate})
		case !old.modTime.Equal(state.modTime) || old.size != state.size:
			events = append(events, Event{Path: path, Op: OpModify})
		}
	}

	for path := range prev {
		if _, ok := next[path]; !ok {
			events = append(events, Event{Path: path, Op: OpRemove})
		}
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })

	return events
}

// scanTree fingerprints every relevant file below root, skipping hidden
// directories the same way the event backend does.
func scanTree(root string) (map[string]fileState, error) {
	states := make(map[string]fileState)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Files may vanish between listing and stat.
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}

			return nil
		}

		if !isRelevantName(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		states[path] = fileState{modTime: info.ModTime(), size: info.Size()}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return states, nil
}
