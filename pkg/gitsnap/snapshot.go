// Package gitsnap provides a public Go API for snapshotting git working
// trees.
//
// This package exposes the snapshot engine as a library, allowing
// programmatic use without the CLI.
//
// Basic usage:
//
//	result, err := gitsnap.Snapshot(ctx, "path/to/repo")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.CommitID)
//
// With options:
//
//	result, err := gitsnap.Snapshot(ctx, "path/to/repo",
//	    gitsnap.WithPush(),
//	    gitsnap.WithMessagePrefix("wip"),
//	)
//
// A clean working tree is reported as ErrNoChanges, a repository not on a
// branch as ErrDetachedHead. Both are recognized outcomes rather than
// failures; check them with errors.Is.
package gitsnap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/hupe1980/gitsnap/internal/snapshot"
)

// Sentinel outcomes of a snapshot attempt, re-exported for callers.
var (
	// ErrNoChanges reports a clean working tree; no commit was created.
	ErrNoChanges = snapshot.ErrNoChanges

	// ErrDetachedHead reports that the repository is not on a branch.
	ErrDetachedHead = snapshot.ErrDetachedHead

	// ErrRepoAccess reports that the path is not an accessible repository.
	ErrRepoAccess = snapshot.ErrRepoAccess
)

// discardLogger returns a logger that discards all output.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Option configures a snapshot.
// Use the With* functions to create Options.
type Option func(*options)

// options holds the internal configuration for a snapshot.
type options struct {
	// Committing.
	messagePrefix string

	// Pushing.
	push        bool
	pushTimeout time.Duration

	logger *slog.Logger
}

// --- Committing ---

// WithMessagePrefix overrides the commit subject prefix (default: "snapshot",
// or the repository's gitsnap.messageprefix config value).
func WithMessagePrefix(prefix string) Option { return func(o *options) { o.messagePrefix = prefix } }

// --- Pushing ---

// WithPush pushes the new commit to every remote that opted in via
// remote.<name>.snapshotenabled. Push failures are collected in the
// Result, never raised as errors.
func WithPush() Option { return func(o *options) { o.push = true } }

// WithPushTimeout bounds each per-remote push attempt (default: 30s).
func WithPushTimeout(d time.Duration) Option { return func(o *options) { o.pushTimeout = d } }

// --- Logging ---

// WithLogger sets the logger for push warnings (default: discard).
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// applyDefaults sets zero-value fields to sensible defaults.
func (o *options) applyDefaults() {
	if o.pushTimeout == 0 {
		o.pushTimeout = 30 * time.Second
	}

	if o.logger == nil {
		o.logger = discardLogger()
	}
}

// PushFailure describes a push to one remote that failed.
type PushFailure struct {
	// Remote is the name of the remote the push was attempted for.
	Remote string

	// Err is the failure cause.
	Err error
}

// Result holds the outcome of a successful snapshot.
type Result struct {
	// CommitID is the hex hash of the new snapshot commit.
	CommitID string

	// Branch is the short name of the branch the commit landed on.
	Branch string

	// Files lists the working-tree paths included in the snapshot.
	Files []string

	// PushedRemotes lists the remotes that accepted the push, in the
	// order attempted. Empty unless WithPush was given.
	PushedRemotes []string

	// PushFailures holds one entry per opted-in remote that rejected
	// the push. The local commit is unaffected.
	PushFailures []PushFailure
}

// Snapshot commits the full working-tree state of the repository at path.
//
// The path may point anywhere inside the repository. Exactly one commit is
// created on the current branch; the branch reference only ever advances
// fast-forward.
//
// Pass no options to use all defaults:
//
//	result, err := gitsnap.Snapshot(ctx, "path/to/repo")
func Snapshot(ctx context.Context, path string, opts ...Option) (*Result, error) {
	if path == "" {
		return nil, errors.New("repository path must not be empty")
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	o.applyDefaults()

	engine := snapshot.NewEngine()
	engine.MessagePrefix = o.messagePrefix

	res, err := engine.Snapshot(ctx, path)
	if err != nil {
		return nil, err
	}

	result := &Result{
		CommitID: res.CommitID,
		Branch:   res.Branch,
		Files:    res.Files,
	}

	if !o.push {
		return result, nil
	}

	report, err := snapshot.NewGate(o.pushTimeout).Push(ctx, path, res.Branch)
	if err != nil {
		o.logger.Warn("push skipped", slog.String("error", err.Error()))

		return result, nil
	}

	failed := make(map[string]struct{}, len(report.Failures))

	for _, f := range report.Failures {
		failed[f.Remote] = struct{}{}
		result.PushFailures = append(result.PushFailures, PushFailure{Remote: f.Remote, Err: f.Err})
		o.logger.Warn("push failed",
			slog.String("remote", f.Remote),
			slog.String("error", f.Err.Error()))
	}

	for _, name := range report.Attempted {
		if _, ok := failed[name]; !ok {
			result.PushedRemotes = append(result.PushedRemotes, name)
		}
	}

	return result, nil
}
