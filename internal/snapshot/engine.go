package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	format "github.com/go-git/go-git/v5/plumbing/format/config"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	// defaultMessagePrefix is the commit subject prefix unless overridden
	// via Engine.MessagePrefix or the gitsnap.messageprefix config key.
	defaultMessagePrefix = "snapshot"

	// timestampLayout is the commit subject timestamp format.
	timestampLayout = "2006-01-02 15:04:05"
)

// Result describes a snapshot commit that was created.
type Result struct {
	// CommitID is the hex hash of the new commit.
	CommitID string `json:"commitId"`

	// Branch is the short name of the branch the commit landed on.
	Branch string `json:"branch"`

	// Files lists the working-tree paths included in the snapshot.
	Files []string `json:"files"`
}

// Engine creates snapshot commits of dirty working trees.
type Engine struct {
	// MessagePrefix overrides the commit subject prefix. When empty the
	// prefix comes from git config (gitsnap.messageprefix) or the built-in
	// default.
	MessagePrefix string

	clock func() time.Time
}

// NewEngine returns an Engine using the system clock.
func NewEngine() *Engine {
	return &Engine{clock: time.Now}
}

func (e *Engine) now() time.Time {
	if e.clock == nil {
		return time.Now()
	}

	return e.clock()
}

// Verify checks that path is the root of an accessible git repository.
func Verify(path string) error {
	if _, err := git.PlainOpen(path); err != nil {
		return NewRepoAccessError(path, err)
	}

	return nil
}

// Snapshot commits the current working-tree state of the repository at path.
//
// A clean tree returns ErrNoChanges, a detached HEAD returns ErrDetachedHead;
// both leave the repository untouched. The branch reference only ever
// advances fast-forward: when the tip moves underneath a running snapshot the
// attempt fails with a CommitError instead of overwriting history.
func (e *Engine) Snapshot(ctx context.Context, path string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, NewRepoAccessError(path, err)
	}

	branch, parent, err := resolveBranch(repo, path)
	if err != nil {
		return nil, err
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, NewRepoAccessError(path, err)
	}

	status, err := wt.Status()
	if err != nil {
		return nil, NewCommitError(path, fmt.Errorf("reading status: %w", err))
	}

	if status.IsClean() {
		return nil, ErrNoChanges
	}

	files := make([]string, 0, len(status))
	for p := range status {
		files = append(files, p)
	}
	sort.Strings(files)

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return nil, NewCommitError(path, fmt.Errorf("staging changes: %w", err))
	}

	sig, err := signature(repo, path, e.now())
	if err != nil {
		return nil, err
	}

	// The tip observed at status time must still be the tip at commit time.
	if err := checkTipUnmoved(repo, parent); err != nil {
		return nil, NewCommitError(path, err)
	}

	msg := fmt.Sprintf("%s %s", e.messagePrefix(repo), e.now().Format(timestampLayout))

	hash, err := wt.Commit(msg, &git.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		return nil, NewCommitError(path, err)
	}

	return &Result{
		CommitID: hash.String(),
		Branch:   branch,
		Files:    files,
	}, nil
}

// resolveBranch returns the short branch name HEAD points at and the current
// tip hash. An unborn branch yields a zero hash. A detached HEAD is refused.
func resolveBranch(repo *git.Repository, path string) (string, plumbing.Hash, error) {
	head, err := repo.Head()

	switch {
	case err == nil:
		if !head.Name().IsBranch() {
			return "", plumbing.ZeroHash, ErrDetachedHead
		}

		return head.Name().Short(), head.Hash(), nil

	case errors.Is(err, plumbing.ErrReferenceNotFound):
		// Unborn branch: HEAD exists only as a symbolic reference.
		ref, rerr := repo.Reference(plumbing.HEAD, false)
		if rerr != nil {
			return "", plumbing.ZeroHash, NewRepoAccessError(path, rerr)
		}

		if ref.Type() != plumbing.SymbolicReference || !ref.Target().IsBranch() {
			return "", plumbing.ZeroHash, ErrDetachedHead
		}

		return ref.Target().Short(), plumbing.ZeroHash, nil

	default:
		return "", plumbing.ZeroHash, NewRepoAccessError(path, err)
	}
}

// checkTipUnmoved fails when the branch tip no longer matches the hash
// observed before staging.
func checkTipUnmoved(repo *git.Repository, parent plumbing.Hash) error {
	head, err := repo.Head()

	switch {
	case err == nil:
		if head.Hash() != parent {
			return errors.New("branch tip moved during snapshot")
		}

		return nil

	case errors.Is(err, plumbing.ErrReferenceNotFound):
		if !parent.IsZero() {
			return errors.New("branch tip moved during snapshot")
		}

		return nil

	default:
		return fmt.Errorf("re-resolving HEAD: %w", err)
	}
}

// signature builds the commit author from the repository's merged git config.
func signature(repo *git.Repository, path string, when time.Time) (*object.Signature, error) {
	cfg, err := repo.ConfigScoped(gitconfig.SystemScope)
	if err != nil {
		return nil, NewCommitError(path, fmt.Errorf("reading git config: %w", err))
	}

	if cfg.User.Name == "" || cfg.User.Email == "" {
		return nil, NewCommitError(path, errors.New("git user identity not configured (set user.name and user.email)"))
	}

	return &object.Signature{
		Name:  cfg.User.Name,
		Email: cfg.User.Email,
		When:  when,
	}, nil
}

// messagePrefix resolves the commit subject prefix: explicit override first,
// then git config, then the built-in default.
func (e *Engine) messagePrefix(repo *git.Repository) string {
	if e.MessagePrefix != "" {
		return e.MessagePrefix
	}

	if cfg, err := repo.ConfigScoped(gitconfig.SystemScope); err == nil {
		if v := configValue(cfg.Raw, "gitsnap.messageprefix"); v != "" {
			return v
		}
	}

	return defaultMessagePrefix
}

// configValue returns the first populated value among dotted config keys
// (section.name or section.subsection.name form), or "".
func configValue(raw *format.Config, keys ...string) string {
	for _, key := range keys {
		parts := strings.Split(key, ".")
		if len(parts) < 2 {
			continue
		}

		sec := raw.Section(parts[0])

		var v string
		if len(parts) == 2 {
			v = sec.Option(parts[1])
		} else {
			v = sec.Subsection(strings.Join(parts[1:len(parts)-1], ".")).Option(parts[len(parts)-1])
		}

		if v != "" {
			return v
		}
	}

	return ""
}
