package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/gitsnap/testhelpers"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// newTestGate returns a Gate with a generous timeout for local pushes.
func newTestGate() *Gate {
	return NewGate(10 * time.Second)
}

// bareAt wraps a bare repository path so its refs can be inspected.
func bareAt(dir string) *testhelpers.GitRepo {
	return &testhelpers.GitRepo{Dir: dir}
}

// ---------------------------------------------------------------------------
// Push
// ---------------------------------------------------------------------------

func TestPush_OptedInRemoteReceivesTip(t *testing.T) {
	repo := newTestRepo(t)

	bareDir, err := repo.CreateBareRemote("origin")
	require.NoError(t, err)
	require.NoError(t, repo.SetConfig("remote.origin.snapshotenabled", "true"))
	require.NoError(t, repo.CommitFile("x.txt", "hello", "change"))

	report, err := newTestGate().Push(context.Background(), repo.Dir, "main")
	require.NoError(t, err)

	assert.Equal(t, []string{"origin"}, report.Attempted)
	assert.Empty(t, report.Failures)

	localTip, err := repo.GetCurrentSHA()
	require.NoError(t, err)
	remoteTip, err := bareAt(bareDir).GetRevision("main")
	require.NoError(t, err)
	assert.Equal(t, localTip, remoteTip)
}

func TestPush_NotOptedIn(t *testing.T) {
	repo := newTestRepo(t)

	bareDir, err := repo.CreateBareRemote("origin")
	require.NoError(t, err)
	require.NoError(t, repo.CommitFile("x.txt", "hello", "change"))

	report, err := newTestGate().Push(context.Background(), repo.Dir, "main")
	require.NoError(t, err)

	assert.Empty(t, report.Attempted)
	assert.Empty(t, report.Failures)

	// The remote never saw the branch.
	_, err = bareAt(bareDir).GetRevision("main")
	assert.Error(t, err)
}

func TestPush_GitBoolSpelling(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.CreateBareRemote("origin")
	require.NoError(t, err)
	require.NoError(t, repo.SetConfig("remote.origin.snapshotenabled", "yes"))
	require.NoError(t, repo.CommitFile("x.txt", "hello", "change"))

	report, err := newTestGate().Push(context.Background(), repo.Dir, "main")
	require.NoError(t, err)
	assert.Equal(t, []string{"origin"}, report.Attempted)
}

func TestPush_AlreadyUpToDate(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.CreateBareRemote("origin")
	require.NoError(t, err)
	require.NoError(t, repo.SetConfig("remote.origin.snapshotenabled", "true"))

	gate := newTestGate()

	report, err := gate.Push(context.Background(), repo.Dir, "main")
	require.NoError(t, err)
	assert.Empty(t, report.Failures)

	// Second push with nothing new counts as success, not failure.
	report, err = gate.Push(context.Background(), repo.Dir, "main")
	require.NoError(t, err)
	assert.Equal(t, []string{"origin"}, report.Attempted)
	assert.Empty(t, report.Failures)
}

func TestPush_BestEffortAcrossRemotes(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.AddRemote("alpha", "/nonexistent/gitsnap-test-remote"))
	require.NoError(t, repo.SetConfig("remote.alpha.snapshotenabled", "true"))

	bareDir, err := repo.CreateBareRemote("beta")
	require.NoError(t, err)
	require.NoError(t, repo.SetConfig("remote.beta.snapshotenabled", "true"))

	require.NoError(t, repo.CommitFile("x.txt", "hello", "change"))

	report, err := newTestGate().Push(context.Background(), repo.Dir, "main")
	require.NoError(t, err)

	// Remotes are attempted in sorted order; the broken one fails, the good
	// one still receives the tip.
	assert.Equal(t, []string{"alpha", "beta"}, report.Attempted)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "alpha", report.Failures[0].Remote)
	assert.ErrorIs(t, report.Failures[0], ErrPushFailed)

	localTip, err := repo.GetCurrentSHA()
	require.NoError(t, err)
	remoteTip, err := bareAt(bareDir).GetRevision("main")
	require.NoError(t, err)
	assert.Equal(t, localTip, remoteTip)
}

func TestPush_FailureLeavesLocalCommitIntact(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.AddRemote("origin", "/nonexistent/gitsnap-test-remote"))
	require.NoError(t, repo.SetConfig("remote.origin.snapshotenabled", "true"))
	require.NoError(t, repo.CommitFile("x.txt", "hello", "change"))

	before, err := repo.GetCurrentSHA()
	require.NoError(t, err)

	report, err := newTestGate().Push(context.Background(), repo.Dir, "main")
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)

	after, err := repo.GetCurrentSHA()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestPush_NonFastForwardSkipped(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.CommitFile("x.txt", "one", "second"))

	bareDir, err := repo.CreateBareRemote("origin")
	require.NoError(t, err)
	require.NoError(t, repo.PushBranch("origin", "main"))

	remoteBefore, err := bareAt(bareDir).GetRevision("main")
	require.NoError(t, err)

	// Rewrite local history so the branches diverge.
	require.NoError(t, repo.ResetHard("HEAD~1"))
	require.NoError(t, repo.CommitFile("y.txt", "two", "diverged"))
	require.NoError(t, repo.SetConfig("remote.origin.snapshotenabled", "true"))

	report, err := newTestGate().Push(context.Background(), repo.Dir, "main")
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "origin", report.Failures[0].Remote)

	// The remote tip is untouched; nothing was forced.
	remoteAfter, err := bareAt(bareDir).GetRevision("main")
	require.NoError(t, err)
	assert.Equal(t, remoteBefore, remoteAfter)
}

func TestPush_NotARepository(t *testing.T) {
	_, err := newTestGate().Push(context.Background(), t.TempDir(), "main")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRepoAccess)
}

// ---------------------------------------------------------------------------
// ListRemotes
// ---------------------------------------------------------------------------

func TestListRemotes(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.CreateBareRemote("origin")
	require.NoError(t, err)
	_, err = repo.CreateBareRemote("backup")
	require.NoError(t, err)
	require.NoError(t, repo.SetConfig("remote.backup.snapshotenabled", "true"))

	infos, err := ListRemotes(repo.Dir)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	assert.Equal(t, "backup", infos[0].Name)
	assert.True(t, infos[0].Enabled)
	assert.NotEmpty(t, infos[0].URLs)

	assert.Equal(t, "origin", infos[1].Name)
	assert.False(t, infos[1].Enabled)
}

func TestListRemotes_NoRemotes(t *testing.T) {
	repo := newTestRepo(t)

	infos, err := ListRemotes(repo.Dir)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

// ---------------------------------------------------------------------------
// SetRemoteEnabled
// ---------------------------------------------------------------------------

func TestSetRemoteEnabled_RoundTrip(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.CreateBareRemote("origin")
	require.NoError(t, err)

	require.NoError(t, SetRemoteEnabled(repo.Dir, "origin", true))

	// The flag is written where the git CLI can read it.
	v, err := repo.GetConfig("remote.origin.snapshotenabled")
	require.NoError(t, err)
	assert.Equal(t, "true", v)

	// The remote definition survives the rewrite.
	url, err := repo.GetConfig("remote.origin.url")
	require.NoError(t, err)
	assert.NotEmpty(t, url)

	require.NoError(t, SetRemoteEnabled(repo.Dir, "origin", false))

	infos, err := ListRemotes(repo.Dir)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.False(t, infos[0].Enabled)

	_, err = repo.GetConfig("remote.origin.snapshotenabled")
	assert.Error(t, err, "disable removes the key entirely")
}

func TestSetRemoteEnabled_UnknownRemote(t *testing.T) {
	repo := newTestRepo(t)

	err := SetRemoteEnabled(repo.Dir, "nope", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

// ---------------------------------------------------------------------------
// parseGitBool
// ---------------------------------------------------------------------------

func TestParseGitBool(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"true", true},
		{"TRUE", true},
		{"yes", true},
		{"Yes", true},
		{"on", true},
		{"1", true},
		{"", false},
		{"false", false},
		{"no", false},
		{"off", false},
		{"0", false},
		{"maybe", false},
	}

	for _, tt := range tests {
		t.Run("value_"+tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseGitBool(tt.input))
		})
	}
}
