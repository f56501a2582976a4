package watch

import "fmt"

// WatcherError wraps a failure of the filesystem notification source itself.
// Unlike per-repository errors, which are contained and logged, a
// WatcherError ends the daemon.
type WatcherError struct {
	Err error
}

func (e *WatcherError) Error() string {
	return fmt.Sprintf("watcher failure: %v", e.Err)
}

func (e *WatcherError) Unwrap() error {
	return e.Err
}

// NewWatcherError creates a new WatcherError.
func NewWatcherError(err error) *WatcherError {
	return &WatcherError{Err: err}
}
