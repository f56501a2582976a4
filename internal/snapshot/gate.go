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
)

// enabledKey is the per-remote opt-in flag in the repository's git config.
const enabledKey = "snapshotenabled"

// Gate pushes snapshot commits to remotes that have opted in via
// remote.<name>.snapshotenabled. Pushing is strictly best-effort: per-remote
// failures are collected as warnings and never affect the local commit.
type Gate struct {
	timeout time.Duration
}

// NewGate returns a Gate bounding each push attempt by timeout.
// A zero timeout leaves pushes unbounded.
func NewGate(timeout time.Duration) *Gate {
	return &Gate{timeout: timeout}
}

// PushReport describes the outcome of a gated push.
type PushReport struct {
	// Attempted lists the opted-in remotes a push was attempted for,
	// in the order attempted.
	Attempted []string

	// Failures holds one entry per attempted remote that failed.
	Failures []*PushError
}

// RemoteInfo describes a configured remote and its opt-in state.
type RemoteInfo struct {
	Name    string   `json:"name"`
	URLs    []string `json:"urls"`
	Enabled bool     `json:"enabled"`
}

// Push pushes refs/heads/<branch> to every opted-in remote of the repository
// at path. The returned error is non-nil only when the repository itself
// cannot be opened; push failures are reported, never raised.
func (g *Gate) Push(ctx context.Context, path, branch string) (*PushReport, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, NewRepoAccessError(path, err)
	}

	names, err := enabledRemotes(repo)
	if err != nil {
		return nil, NewRepoAccessError(path, err)
	}

	report := &PushReport{}
	refspec := gitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))

	for _, name := range names {
		report.Attempted = append(report.Attempted, name)

		if err := g.pushRemote(ctx, repo, name, refspec); err != nil {
			report.Failures = append(report.Failures, NewPushError(name, err))
		}
	}

	return report, nil
}

// pushRemote pushes a single refspec to one remote within the gate's timeout.
func (g *Gate) pushRemote(ctx context.Context, repo *git.Repository, name string, refspec gitconfig.RefSpec) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	err := repo.PushContext(ctx, &git.PushOptions{
		RemoteName: name,
		RefSpecs:   []gitconfig.RefSpec{refspec},
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return err
	}

	return nil
}

// enabledRemotes returns the names of all opted-in remotes in sorted order.
func enabledRemotes(repo *git.Repository) ([]string, error) {
	cfg, err := repo.Config()
	if err != nil {
		return nil, fmt.Errorf("reading git config: %w", err)
	}

	var names []string
	for name := range cfg.Remotes {
		if parseGitBool(cfg.Raw.Section("remote").Subsection(name).Option(enabledKey)) {
			names = append(names, name)
		}
	}

	sort.Strings(names)

	return names, nil
}

// ListRemotes returns every configured remote of the repository at path with
// its URLs and opt-in state, sorted by name.
func ListRemotes(path string) ([]RemoteInfo, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, NewRepoAccessError(path, err)
	}

	cfg, err := repo.Config()
	if err != nil {
		return nil, NewRepoAccessError(path, fmt.Errorf("reading git config: %w", err))
	}

	infos := make([]RemoteInfo, 0, len(cfg.Remotes))
	for name, rc := range cfg.Remotes {
		infos = append(infos, RemoteInfo{
			Name:    name,
			URLs:    rc.URLs,
			Enabled: parseGitBool(cfg.Raw.Section("remote").Subsection(name).Option(enabledKey)),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	return infos, nil
}

// SetRemoteEnabled writes or clears the opt-in flag for a remote in the
// repository's local git config.
func SetRemoteEnabled(path, remote string, enabled bool) error {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return NewRepoAccessError(path, err)
	}

	if _, err := repo.Remote(remote); err != nil {
		return fmt.Errorf("remote %s: %w", remote, err)
	}

	cfg, err := repo.Config()
	if err != nil {
		return NewRepoAccessError(path, fmt.Errorf("reading git config: %w", err))
	}

	sec := cfg.Raw.Section("remote").Subsection(remote)
	if enabled {
		sec.SetOption(enabledKey, "true")
	} else {
		sec.RemoveOption(enabledKey)
	}

	if err := repo.SetConfig(cfg); err != nil {
		return fmt.Errorf("writing git config: %w", err)
	}

	return nil
}

// parseGitBool interprets the git spellings of a true boolean
// (true, yes, on, 1, case-insensitive). Anything else is false.
func parseGitBool(v string) bool {
	switch strings.ToLower(v) {
	case "true", "yes", "on", "1":
		return true
	default:
		return false
	}
}
