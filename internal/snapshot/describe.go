package snapshot

import (
	"errors"

	git "github.com/go-git/go-git/v5"
)

// Working-tree states reported by Describe.
const (
	StateClean       = "clean"
	StateDirty       = "dirty"
	StateDetached    = "detached"
	StateUnavailable = "unavailable"
)

// RepoState is the live condition of a registered repository.
type RepoState struct {
	Path   string `json:"path" yaml:"path"`
	Branch string `json:"branch,omitempty" yaml:"branch,omitempty"`
	State  string `json:"state" yaml:"state"`
}

// Describe reports the current branch and working-tree state of the
// repository at path. It never fails: a repository that cannot be opened or
// read is reported as unavailable.
func Describe(path string) *RepoState {
	state := &RepoState{Path: path}

	repo, err := git.PlainOpen(path)
	if err != nil {
		state.State = StateUnavailable

		return state
	}

	branch, _, err := resolveBranch(repo, path)

	switch {
	case errors.Is(err, ErrDetachedHead):
		state.State = StateDetached

		return state

	case err != nil:
		state.State = StateUnavailable

		return state
	}

	state.Branch = branch

	wt, err := repo.Worktree()
	if err != nil {
		state.State = StateUnavailable

		return state
	}

	status, err := wt.Status()
	if err != nil {
		state.State = StateUnavailable

		return state
	}

	if status.IsClean() {
		state.State = StateClean
	} else {
		state.State = StateDirty
	}

	return state
}
