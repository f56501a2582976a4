package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// newEventWatcher creates an EventWatcher that is closed when the test ends.
func newEventWatcher(t *testing.T) *EventWatcher {
	t.Helper()

	w, err := NewEventWatcher()
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	return w
}

// nextEvent returns the next event or fails the test.
func nextEvent(t *testing.T, w Watcher, timeout time.Duration) Event {
	t.Helper()

	select {
	case ev := <-w.Events():
		return ev
	case <-time.After(timeout):
		t.Fatal("no event received")
		return Event{}
	}
}

// waitForEvent discards events until one matches path.
func waitForEvent(t *testing.T, w Watcher, timeout time.Duration, path string) Event {
	t.Helper()

	deadline := time.After(timeout)

	for {
		select {
		case ev, ok := <-w.Events():
			require.True(t, ok, "event channel closed while waiting for %s", path)

			if ev.Path == path {
				return ev
			}
		case <-deadline:
			t.Fatalf("no event for %s", path)
		}
	}
}

// watchListContains reports whether the underlying fsnotify watch list has dir.
func watchListContains(w *EventWatcher, dir string) bool {
	for _, p := range w.fs.WatchList() {
		if p == dir {
			return true
		}
	}

	return false
}

// ---------------------------------------------------------------------------
// EventWatcher
// ---------------------------------------------------------------------------

func TestEventWatcher_DetectsNewFile(t *testing.T) {
	root := t.TempDir()
	w := newEventWatcher(t)
	require.NoError(t, w.Add(root))

	file := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("hello"), 0o600))

	ev := nextEvent(t, w, 2*time.Second)
	assert.Equal(t, file, ev.Path)
	assert.Equal(t, OpCreate, ev.Op)
}

func TestEventWatcher_DetectsModification(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("one"), 0o600))

	w := newEventWatcher(t)
	require.NoError(t, w.Add(root))

	require.NoError(t, os.WriteFile(file, []byte("two"), 0o600))

	ev := waitForEvent(t, w, 2*time.Second, file)
	assert.Equal(t, OpModify, ev.Op)
}

func TestEventWatcher_DetectsRemoval(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("one"), 0o600))

	w := newEventWatcher(t)
	require.NoError(t, w.Add(root))

	require.NoError(t, os.Remove(file))

	ev := waitForEvent(t, w, 2*time.Second, file)
	assert.Equal(t, OpRemove, ev.Op)
}

func TestEventWatcher_RenameEmitsRemoveAndCreate(t *testing.T) {
	root := t.TempDir()
	oldPath := filepath.Join(root, "old.txt")
	newPath := filepath.Join(root, "new.txt")
	require.NoError(t, os.WriteFile(oldPath, []byte("x"), 0o600))

	w := newEventWatcher(t)
	require.NoError(t, w.Add(root))

	require.NoError(t, os.Rename(oldPath, newPath))

	got := map[string]Op{}
	for len(got) < 2 {
		ev := nextEvent(t, w, 2*time.Second)
		got[ev.Path] = ev.Op
	}

	assert.Equal(t, OpRemove, got[oldPath])
	assert.Equal(t, OpCreate, got[newPath])
}

func TestEventWatcher_DetectsChangeInSubdirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub", "deep"), 0o750))

	w := newEventWatcher(t)
	require.NoError(t, w.Add(root))

	file := filepath.Join(root, "sub", "deep", "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("hello"), 0o600))

	ev := waitForEvent(t, w, 2*time.Second, file)
	assert.Equal(t, OpCreate, ev.Op)
}

func TestEventWatcher_FiltersJunkFiles(t *testing.T) {
	root := t.TempDir()
	w := newEventWatcher(t)
	require.NoError(t, w.Add(root))

	for _, name := range []string{".hidden", "backup~", "edit.swp", "#lock"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte("x"), 0o600))
	}

	// Give the junk events time to reach the filter before the real write.
	time.Sleep(100 * time.Millisecond)

	real := filepath.Join(root, "real.txt")
	require.NoError(t, os.WriteFile(real, []byte("x"), 0o600))

	ev := nextEvent(t, w, 2*time.Second)
	assert.Equal(t, real, ev.Path, "junk files must not produce events")
}

func TestEventWatcher_SkipsDotGitDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git", "refs"), 0o750))

	w := newEventWatcher(t)
	require.NoError(t, w.Add(root))

	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "index"), []byte("x"), 0o600))
	time.Sleep(100 * time.Millisecond)

	ok := filepath.Join(root, "worktree.txt")
	require.NoError(t, os.WriteFile(ok, []byte("x"), 0o600))

	ev := nextEvent(t, w, 2*time.Second)
	assert.Equal(t, ok, ev.Path, "changes under .git must not produce events")
}

func TestEventWatcher_SubscribesNewDirectories(t *testing.T) {
	root := t.TempDir()
	w := newEventWatcher(t)
	require.NoError(t, w.Add(root))

	sub := filepath.Join(root, "newdir")
	require.NoError(t, os.Mkdir(sub, 0o750))

	// Wait until the new directory is on the watch list before writing.
	require.Eventually(t, func() bool { return watchListContains(w, sub) },
		2*time.Second, 10*time.Millisecond)

	file := filepath.Join(sub, "fresh.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	waitForEvent(t, w, 2*time.Second, file)
}

func TestEventWatcher_RemoveUnsubscribesWholeTree(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(sub, 0o750))

	w := newEventWatcher(t)
	require.NoError(t, w.Add(root))
	require.True(t, watchListContains(w, root))
	require.True(t, watchListContains(w, sub))

	require.NoError(t, w.Remove(root))
	assert.False(t, watchListContains(w, root))
	assert.False(t, watchListContains(w, sub))
}

func TestEventWatcher_RemoveKeepsSiblings(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()

	w := newEventWatcher(t)
	require.NoError(t, w.Add(rootA))
	require.NoError(t, w.Add(rootB))

	require.NoError(t, w.Remove(rootA))
	assert.False(t, watchListContains(w, rootA))
	assert.True(t, watchListContains(w, rootB))
}

func TestEventWatcher_CloseIsIdempotent(t *testing.T) {
	w, err := NewEventWatcher()
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	// The event channel drains and closes.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-w.Events():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

// ---------------------------------------------------------------------------
// NewWatcher
// ---------------------------------------------------------------------------

func TestNewWatcher_ModeSelection(t *testing.T) {
	w, err := NewWatcher(ModeEvent, 0)
	require.NoError(t, err)
	assert.IsType(t, &EventWatcher{}, w)
	require.NoError(t, w.Close())

	w, err = NewWatcher("", 0)
	require.NoError(t, err)
	assert.IsType(t, &EventWatcher{}, w)
	require.NoError(t, w.Close())

	w, err = NewWatcher(ModePoll, time.Minute)
	require.NoError(t, err)
	assert.IsType(t, &PollWatcher{}, w)
	require.NoError(t, w.Close())

	_, err = NewWatcher("hybrid", 0)
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// Filters
// ---------------------------------------------------------------------------

func TestIsRelevant(t *testing.T) {
	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"write", fsnotify.Event{Name: "/r/a.txt", Op: fsnotify.Write}, true},
		{"create", fsnotify.Event{Name: "/r/a.txt", Op: fsnotify.Create}, true},
		{"remove", fsnotify.Event{Name: "/r/a.txt", Op: fsnotify.Remove}, true},
		{"rename", fsnotify.Event{Name: "/r/a.txt", Op: fsnotify.Rename}, true},
		{"chmod only", fsnotify.Event{Name: "/r/a.txt", Op: fsnotify.Chmod}, false},
		{"zero op", fsnotify.Event{Name: "/r/a.txt"}, false},
		{"hidden file", fsnotify.Event{Name: "/r/.env", Op: fsnotify.Write}, false},
		{"editor backup", fsnotify.Event{Name: "/r/main.go~", Op: fsnotify.Write}, false},
		{"vim swap", fsnotify.Event{Name: "/r/.main.go.swp", Op: fsnotify.Write}, false},
		{"emacs lock", fsnotify.Event{Name: "/r/#main.go", Op: fsnotify.Write}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRelevant(tt.event))
		})
	}
}

func TestMapOp(t *testing.T) {
	tests := []struct {
		name string
		op   fsnotify.Op
		want Op
	}{
		{"create", fsnotify.Create, OpCreate},
		{"write", fsnotify.Write, OpModify},
		{"remove", fsnotify.Remove, OpRemove},
		{"rename", fsnotify.Rename, OpRemove},
		{"create and write", fsnotify.Create | fsnotify.Write, OpCreate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mapOp(tt.op))
		})
	}
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "create", OpCreate.String())
	assert.Equal(t, "modify", OpModify.String())
	assert.Equal(t, "remove", OpRemove.String())
	assert.Equal(t, "unknown", Op(0).String())
}
