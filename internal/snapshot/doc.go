// Package snapshot turns dirty working trees into commits and propagates
// them to opted-in remotes.
//
// Engine performs the commit half: it stages the full working-tree state
// (untracked files included, ignore rules respected) and records it as a
// timestamped commit on the current branch. The branch reference only ever
// advances fast-forward; a clean tree or a detached HEAD is reported as a
// recognized non-fatal outcome rather than an error.
//
// Gate performs the push half: remotes participate only when the
// repository's own git config sets remote.<name>.snapshotenabled, every
// attempt is bounded by a timeout, and failures surface as warnings in a
// PushReport without ever raising to the caller or touching the local
// commit.
package snapshot
