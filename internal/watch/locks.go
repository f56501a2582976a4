package watch

import "sync"

// lockTable hands out one mutex per repository path so that at most one
// snapshot-and-push runs per repository while distinct repositories proceed
// in parallel.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.Mutex)}
}

// get returns the mutex for path, creating it on first use. Entries are
// never removed; a lock may outlive its registration so that an in-flight
// holder and a late settle still serialize.
func (t *lockTable) get(path string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	if l, ok := t.locks[path]; ok {
		return l
	}

	l := &sync.Mutex{}
	t.locks[path] = l

	return l
}

// workTracker counts in-flight snapshot work and refuses new work once
// shutdown begins, so Run can wait for stragglers without racing WaitGroup
// bookkeeping.
type workTracker struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// begin registers one unit of work. It returns false after wait() started.
func (t *workTracker) begin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}

	t.wg.Add(1)

	return true
}

// done marks one unit of work finished.
func (t *workTracker) done() {
	t.wg.Done()
}

// wait rejects new work and blocks until all in-flight work finishes.
func (t *workTracker) wait() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	t.wg.Wait()
}
