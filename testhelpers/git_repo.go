// Package testhelpers provides Git repository fixtures for tests. Repositories
// are created with the git CLI so that tests exercise the same on-disk layout
// the daemon watches in production.
package testhelpers

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// GitRepo represents a Git repository fixture rooted at Dir.
type GitRepo struct {
	Dir string
}

// NewGitRepo initializes a new Git repository in dir with a main branch and a
// local test identity configured.
func NewGitRepo(dir string) (*GitRepo, error) {
	repo := &GitRepo{Dir: dir}

	// Use git -c flags to avoid reading global config and pin the branch name.
	cmd := exec.Command("git", "-c", "init.defaultBranch=main", "-c", "core.autocrlf=false", "init", dir, "-b", "main")
	cmd.Env = append(os.Environ(), "GIT_CONFIG_GLOBAL=/dev/null")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("failed to init repo: %w", err)
	}

	// Configure Git user (required for commits).
	if err := repo.runGitCommand("config", "user.name", "Test User"); err != nil {
		return nil, err
	}
	if err := repo.runGitCommand("config", "user.email", "test@example.com"); err != nil {
		return nil, err
	}

	return repo, nil
}

// runGitCommand executes a git command in the repository directory.
// GIT_CONFIG_GLOBAL=/dev/null keeps the host's global config out of tests.
func (r *GitRepo) runGitCommand(args ...string) error {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.Dir
	cmd.Env = append(os.Environ(), "GIT_CONFIG_GLOBAL=/dev/null")

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s failed: %w, output: %s", strings.Join(args, " "), err, string(output))
	}

	return nil
}

// runGitCommandAndGetOutput executes a git command and returns its trimmed output.
func (r *GitRepo) runGitCommandAndGetOutput(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.Dir
	cmd.Env = append(os.Environ(), "GIT_CONFIG_GLOBAL=/dev/null")

	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s failed: %w", strings.Join(args, " "), err)
	}

	return strings.TrimSpace(string(output)), nil
}

// WriteFile writes content to a path relative to the repository root, creating
// parent directories as needed.
func (r *GitRepo) WriteFile(relPath, content string) error {
	path := filepath.Join(r.Dir, relPath)

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

// RemoveFile deletes a file relative to the repository root.
func (r *GitRepo) RemoveFile(relPath string) error {
	if err := os.Remove(filepath.Join(r.Dir, relPath)); err != nil {
		return fmt.Errorf("failed to remove file: %w", err)
	}

	return nil
}

// CommitFile writes content to relPath and commits it with message.
func (r *GitRepo) CommitFile(relPath, content, message string) error {
	if err := r.WriteFile(relPath, content); err != nil {
		return err
	}
	if err := r.runGitCommand("add", "."); err != nil {
		return err
	}

	return r.runGitCommand("commit", "-m", message)
}

// SetConfig sets a key in the repository's local Git config.
func (r *GitRepo) SetConfig(key, value string) error {
	return r.runGitCommand("config", key, value)
}

// GetConfig reads a key from the repository's local Git config.
func (r *GitRepo) GetConfig(key string) (string, error) {
	return r.runGitCommandAndGetOutput("config", "--get", key)
}

// UnsetConfig removes a key from the repository's local Git config.
func (r *GitRepo) UnsetConfig(key string) error {
	return r.runGitCommand("config", "--unset", key)
}

// CreateBareRemote creates a bare sibling repository and registers it as a
// remote under name. Returns the path of the bare repository.
func (r *GitRepo) CreateBareRemote(name string) (string, error) {
	bareDir := r.Dir + "-" + name + ".git"

	cmd := exec.Command("git", "init", "--bare", bareDir)
	cmd.Env = append(os.Environ(), "GIT_CONFIG_GLOBAL=/dev/null")
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to create bare repo: %w", err)
	}

	if err := r.runGitCommand("remote", "add", name, bareDir); err != nil {
		return "", fmt.Errorf("failed to add remote: %w", err)
	}

	return bareDir, nil
}

// AddRemote registers a remote without creating it, useful for simulating
// unreachable remotes.
func (r *GitRepo) AddRemote(name, url string) error {
	return r.runGitCommand("remote", "add", name, url)
}

// PushBranch pushes a branch to a remote.
func (r *GitRepo) PushBranch(remote, branch string) error {
	return r.runGitCommand("push", "-u", remote, branch)
}

// GetRevision returns the SHA of a revision (branch, tag, or commit reference).
func (r *GitRepo) GetRevision(rev string) (string, error) {
	return r.runGitCommandAndGetOutput("rev-parse", rev)
}

// GetCurrentSHA returns the SHA of HEAD.
func (r *GitRepo) GetCurrentSHA() (string, error) {
	return r.GetRevision("HEAD")
}

// GetCommitCount returns the number of commits reachable from to but not from.
func (r *GitRepo) GetCommitCount(from, to string) (int, error) {
	output, err := r.runGitCommandAndGetOutput("rev-list", "--count", from+".."+to)
	if err != nil {
		return 0, err
	}

	var count int
	if _, err := fmt.Sscanf(output, "%d", &count); err != nil {
		return 0, fmt.Errorf("failed to parse commit count: %w", err)
	}

	return count, nil
}

// CurrentBranchName returns the name of the current branch, empty when HEAD is
// detached.
func (r *GitRepo) CurrentBranchName() (string, error) {
	return r.runGitCommandAndGetOutput("branch", "--show-current")
}

// LastCommitMessage returns the subject of the most recent commit.
func (r *GitRepo) LastCommitMessage() (string, error) {
	return r.runGitCommandAndGetOutput("log", "-1", "--format=%s")
}

// LastCommitAuthor returns the author name of the most recent commit.
func (r *GitRepo) LastCommitAuthor() (string, error) {
	return r.runGitCommandAndGetOutput("log", "-1", "--format=%an")
}

// CheckoutDetached checks out a revision in detached HEAD state.
func (r *GitRepo) CheckoutDetached(rev string) error {
	return r.runGitCommand("checkout", "--detach", rev)
}

// ResetHard resets the current branch to rev, discarding local history.
func (r *GitRepo) ResetHard(rev string) error {
	return r.runGitCommand("reset", "--hard", rev)
}

// HasUntrackedFiles checks if there are untracked files.
func (r *GitRepo) HasUntrackedFiles() (bool, error) {
	output, err := r.runGitCommandAndGetOutput("ls-files", "--others", "--exclude-standard")
	if err != nil {
		return false, err
	}

	return output != "", nil
}

// HasUnstagedChanges checks if there are unstaged changes to tracked files.
func (r *GitRepo) HasUnstagedChanges() (bool, error) {
	output, err := r.runGitCommandAndGetOutput("diff", "--name-only")
	if err != nil {
		return false, err
	}

	return output != "", nil
}

// IsAncestor checks if ancestor is an ancestor of descendant.
func (r *GitRepo) IsAncestor(ancestor, descendant string) (bool, error) {
	err := r.runGitCommand("merge-base", "--is-ancestor", ancestor, descendant)
	if err == nil {
		return true, nil
	}

	return false, nil
}
