package workflows

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/githubnext/gh-aw-core/internal/aiexec"
	"github.com/githubnext/gh-aw-core/internal/audit"
	"github.com/githubnext/gh-aw-core/internal/backend"
	"github.com/githubnext/gh-aw-core/internal/breaker"
	"github.com/githubnext/gh-aw-core/internal/gitops"
	"github.com/githubnext/gh-aw-core/internal/pathvalidate"
	"github.com/githubnext/gh-aw-core/internal/permission"
	"github.com/githubnext/gh-aw-core/internal/runner"
	"github.com/githubnext/gh-aw-core/pkg/testutil"
)

func TestRun_UnknownWorkflowNameIsRejected(t *testing.T) {
	l := NewLibrary(nil, nil, nil)
	_, err := l.Run(context.Background(), "not-a-real-workflow", "wf-1", "HIGH", map[string]any{})
	require.Error(t, err)
}

func TestRun_InvalidAutonomyLevelIsRejectedBeforeDispatch(t *testing.T) {
	l := NewLibrary(nil, nil, nil)
	_, err := l.Run(context.Background(), NameBugHunt, "wf-1", "NOT_A_LEVEL", map[string]any{})
	require.Error(t, err)
}

func TestFirstOrDefault(t *testing.T) {
	assert.Equal(t, "a", firstOrDefault([]string{"a", "b"}, "z"))
	assert.Equal(t, "z", firstOrDefault(nil, "z"))
}

func TestToStrings_FiltersNonStringEntries(t *testing.T) {
	xs := []any{"a", 1, "b", nil}
	assert.Equal(t, []string{"a", "b"}, toStrings(xs))
}

// echoAdapter is a fake backend.Adapter bound to a real whitelisted binary:
// its BuildArgv passes the prompt straight through as a single argv entry,
// so the adapter's real stdout reflects exactly what the workflow sent it.
// This avoids mocking the executor and adapters entirely, matching the real-binary
// test convention elsewhere (gitops, runner, aiexec).
type echoAdapter struct {
	tag, binary, specTag string
}

func (a echoAdapter) Tag() string    { return a.tag }
func (a echoAdapter) Binary() string { return a.binary }
func (a echoAdapter) Capability() backend.Capability {
	return backend.Capability{SpecializationTag: a.specTag}
}
func (a echoAdapter) BuildArgv(opts backend.Options) (string, []string, error) {
	return a.binary, []string{opts.Prompt}, nil
}
func (a echoAdapter) ParseOutput(raw string) string { return raw }
func (a echoAdapter) SupportsOperation(op backend.Operation) bool { return false }

// testHarness wires a real executor (real whitelisted `echo`/`false`
// binaries, real SQLite-backed audit/permission stores, no mocks) for
// exercising the Workflow Library's actual fan-out/synthesis logic.
func testHarness(t *testing.T, adapters ...backend.Adapter) (*aiexec.Executor, *permission.Manager) {
	t.Helper()
	root := testutil.TempDir(t, "workflows")

	auditStore, err := audit.Open(filepath.Join(root, "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditStore.Close() })
	auditWriter := audit.NewWriter(auditStore)
	t.Cleanup(auditWriter.Close)

	reg := backend.NewRegistry()
	binaries := make([]string, 0, len(adapters))
	for _, a := range adapters {
		reg.Register(a)
		binaries = append(binaries, a.Binary())
	}

	permissions := permission.NewManager(auditWriter)
	breakers := breaker.NewRegistry(nil, 3, time.Hour)
	pathValidator := pathvalidate.New(root)
	cmdRunner := runner.New(runner.NewWhitelist(binaries))

	ai := aiexec.New(reg, breakers, permissions, pathValidator, cmdRunner, nil, nil, aiexec.Config{})
	return ai, permissions
}

func TestParallelReview_SynthesizesStubForFailedLegAlongsideSuccess(t *testing.T) {
	ai, permissions := testHarness(t,
		echoAdapter{tag: "aaa_good", binary: "echo", specTag: "correctness"},
		echoAdapter{tag: "zzz_bad", binary: "false", specTag: "breadth"},
	)
	lib := NewLibrary(ai, permissions, nil)

	result, err := lib.Run(context.Background(), NameParallelReview, "wf-1", "READ_ONLY", map[string]any{
		"files": []string{},
		"focus": "correctness",
	})
	require.NoError(t, err, "one successful leg must be enough to synthesize, even with one failed leg")

	synthesis, ok := result.(string)
	require.True(t, ok)
	// The synthesis backend (aaa_good, sorted first) echoes its prompt back
	// verbatim, so the final output IS the synthesis prompt: it must contain
	// both the successful leg's own echoed section and a failure stub for
	// the backend that failed, never silently dropping the failed leg.
	assert.Contains(t, synthesis, "## aaa_good")
	assert.Contains(t, synthesis, "## zzz_bad (failed)")
	assert.Contains(t, synthesis, "false exited")
}

func TestParallelReview_AllBackendsFailingIsAnError(t *testing.T) {
	ai, permissions := testHarness(t,
		echoAdapter{tag: "aaa_bad", binary: "false", specTag: "correctness"},
		echoAdapter{tag: "zzz_bad", binary: "false", specTag: "breadth"},
	)
	lib := NewLibrary(ai, permissions, nil)

	_, err := lib.Run(context.Background(), NameParallelReview, "wf-1", "READ_ONLY", map[string]any{
		"files": []string{},
		"focus": "correctness",
	})
	require.Error(t, err)
}

func TestFeatureDesign_RoleStagesAccumulateOnEachOther(t *testing.T) {
	ai, permissions := testHarness(t, echoAdapter{tag: "claude", binary: "echo", specTag: "correctness"})
	lib := NewLibrary(ai, permissions, nil)

	result, err := lib.Run(context.Background(), NameFeatureDesign, "wf-1", "READ_ONLY", map[string]any{
		"description": "SEED_DESCRIPTION",
	})
	require.NoError(t, err)

	stages, ok := result.(map[string]any)
	require.True(t, ok)

	architect := stages["architect"].(string)
	implementer := stages["implementer"].(string)
	tester := stages["tester"].(string)

	// Each role's adapter echoes its own prompt back, so the implementer's
	// captured output must contain the architect's own echoed output (and
	// the original seed), proving later stages build on earlier ones rather
	// than running independently.
	assert.Contains(t, architect, "SEED_DESCRIPTION")
	assert.Contains(t, implementer, "SEED_DESCRIPTION")
	assert.Contains(t, implementer, "## architect")
	assert.Contains(t, tester, "## architect")
	assert.Contains(t, tester, "## implementer")
}

func initPreCommitRepo(t *testing.T) string {
	t.Helper()
	dir := testutil.TempDir(t, "workflows-git")
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
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0644))
	run("add", "README.md")
	run("commit", "-q", "-m", "initial commit")
	return dir
}

func TestPreCommitValidate_EmptyStagedDiffShortCircuitsWithoutCallingAI(t *testing.T) {
	dir := initPreCommitRepo(t)

	// No registered backends at all, so no AI call can happen. With an empty
	// staged diff the workflow returns a pass verdict before selecting any
	// backend; without that early return it would select none and still
	// report pass, so this checks the verdict rather than the early return.
	ai, permissions := testHarness(t)
	git := gitops.NewReader(runner.New(runner.NewWhitelist(nil)), dir)
	lib := NewLibrary(ai, permissions, git)

	result, err := lib.Run(context.Background(), NamePreCommitValidate, "wf-1", "READ_ONLY", map[string]any{
		"depth": "thorough",
	})
	require.NoError(t, err)

	verdict, ok := result.(CommitVerdict)
	require.True(t, ok)
	assert.Equal(t, "pass", verdict.Status)
}
