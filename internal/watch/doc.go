// Package watch provides the gitsnap daemon: filesystem notification
// backends (event-driven and polling), per-repository event debouncing,
// and the loop that routes settled change bursts into snapshot commits
// and gated pushes, one repository at a time.
package watch
