package snapshot

import (
	"errors"
	"fmt"
)

// Sentinel errors for snapshot outcomes. Use errors.Is() and errors.As() to
// check for specific conditions.
var (
	// ErrNoChanges indicates a clean working tree; nothing was committed.
	// This is a recognized non-fatal outcome, not a failure.
	ErrNoChanges = errors.New("no changes to snapshot")

	// ErrDetachedHead indicates the repository is not on a branch. The
	// snapshot is skipped so that commits are never created on a detached
	// HEAD.
	ErrDetachedHead = errors.New("HEAD is detached")

	// ErrRepoAccess indicates the path could not be opened as a repository.
	ErrRepoAccess = errors.New("repository not accessible")

	// ErrCommitFailed indicates staging or commit creation failed.
	ErrCommitFailed = errors.New("commit failed")

	// ErrPushFailed indicates a push to a remote failed. Push failures are
	// warnings; the local snapshot commit is never affected.
	ErrPushFailed = errors.New("push failed")
)

// RepoAccessError reports that a path is not an accessible git repository.
type RepoAccessError struct {
	Path string
	Err  error
}

func (e *RepoAccessError) Error() string {
	return fmt.Sprintf("cannot access repository at %s: %v", e.Path, e.Err)
}

// Is returns true if the target error is ErrRepoAccess.
func (e *RepoAccessError) Is(target error) bool {
	return target == ErrRepoAccess
}

func (e *RepoAccessError) Unwrap() error {
	return e.Err
}

// NewRepoAccessError creates a new RepoAccessError.
func NewRepoAccessError(path string, err error) *RepoAccessError {
	return &RepoAccessError{Path: path, Err: err}
}

// CommitError reports a failed snapshot commit attempt. The repository stays
// watched; the next settle retries.
type CommitError struct {
	Path string
	Err  error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("creating snapshot commit in %s: %v", e.Path, e.Err)
}

// Is returns true if the target error is ErrCommitFailed.
func (e *CommitError) Is(target error) bool {
	return target == ErrCommitFailed
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// NewCommitError creates a new CommitError.
func NewCommitError(path string, err error) *CommitError {
	return &CommitError{Path: path, Err: err}
}

// PushError reports a failed push to a single remote.
type PushError struct {
	Remote string
	Err    error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("pushing to remote %s: %v", e.Remote, e.Err)
}

// Is returns true if the target error is ErrPushFailed.
func (e *PushError) Is(target error) bool {
	return target == ErrPushFailed
}

func (e *PushError) Unwrap() error {
	return e.Err
}

// NewPushError creates a new PushError.
func NewPushError(remote string, err error) *PushError {
	return &PushError{Remote: remote, Err: err}
}
