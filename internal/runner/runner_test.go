package runner

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/githubnext/gh-aw-core/internal/errs"
	"github.com/githubnext/gh-aw-core/pkg/testutil"
)

func initGitRepo(t *testing.T, dir string) {
	t.Helper()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(cmd.Env,
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
			"HOME="+dir,
		)
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	run("commit", "--allow-empty", "-q", "-m", "initial commit")
}

func TestRun_RejectsNonWhitelistedBinary(t *testing.T) {
	r := New(NewWhitelist(nil))
	_, err := r.Run(context.Background(), Options{Binary: "curl", Args: []string{"http://example.com"}})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestRun_RejectsDangerousArgument(t *testing.T) {
	r := New(NewWhitelist(nil))
	dir := testutil.TempDir(t, "runner")
	_, err := r.Run(context.Background(), Options{Binary: "git", Args: []string{"status", "; rm -rf /"}, Dir: dir, ProjectRoot: dir})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestRun_RejectsDirOutsideProjectRoot(t *testing.T) {
	r := New(NewWhitelist(nil))
	root := testutil.TempDir(t, "runner-root")
	outside := testutil.TempDir(t, "runner-outside")
	_, err := r.Run(context.Background(), Options{Binary: "git", Args: []string{"status"}, Dir: outside, ProjectRoot: root})
	require.Error(t, err)
}

func TestRun_StreamsStdoutAndReturnsResult(t *testing.T) {
	dir := testutil.TempDir(t, "runner")
	initGitRepo(t, dir)

	r := New(NewWhitelist(nil))
	var streamed []string
	result, err := r.Run(context.Background(), Options{
		Binary:      "git",
		Args:        []string{"rev-parse", "--abbrev-ref", "HEAD"},
		Dir:         dir,
		ProjectRoot: dir,
		OnProgress:  func(chunk string) { streamed = append(streamed, chunk) },
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.NotEmpty(t, streamed)
}

func TestRun_FailureStderrRedactsSecretLikeIdentifiers(t *testing.T) {
	dir := testutil.TempDir(t, "runner")

	r := New(NewWhitelist([]string{"sh"}))
	_, err := r.Run(context.Background(), Options{
		Binary:      "sh",
		Args:        []string{"-c", "echo ANTHROPIC_API_KEY >&2; exit 1"},
		Dir:         dir,
		ProjectRoot: dir,
	})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "ANTHROPIC_API_KEY")
	assert.Contains(t, err.Error(), "[REDACTED]")
}

func TestRun_NonZeroExitClassifiedPermanent(t *testing.T) {
	dir := testutil.TempDir(t, "runner")
	initGitRepo(t, dir)

	r := New(NewWhitelist(nil))
	_, err := r.Run(context.Background(), Options{
		Binary:      "git",
		Args:        []string{"show", "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef"},
		Dir:         dir,
		ProjectRoot: dir,
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindPermanent, errs.KindOf(err))
}
