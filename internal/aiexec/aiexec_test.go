package aiexec

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/githubnext/gh-aw-core/internal/audit"
	"github.com/githubnext/gh-aw-core/internal/backend"
	"github.com/githubnext/gh-aw-core/internal/breaker"
	"github.com/githubnext/gh-aw-core/internal/errs"
	"github.com/githubnext/gh-aw-core/internal/pathvalidate"
	"github.com/githubnext/gh-aw-core/internal/permission"
	"github.com/githubnext/gh-aw-core/pkg/testutil"
)

type fakeAdapter struct {
	tag        string
	capability backend.Capability
}

func (f fakeAdapter) Tag() string                  { return f.tag }
func (f fakeAdapter) Binary() string                { return f.tag }
func (f fakeAdapter) Capability() backend.Capability { return f.capability }
func (f fakeAdapter) BuildArgv(opts backend.Options) (string, []string, error) {
	return f.tag, []string{opts.Prompt}, nil
}
func (f fakeAdapter) ParseOutput(raw string) string { return raw }
func (f fakeAdapter) SupportsOperation(op backend.Operation) bool { return false }

func newTestExecutor(t *testing.T, root string) *Executor {
	t.Helper()
	return &Executor{
		pathValidator: pathvalidate.New(root),
		cache:         newResultCache(time.Hour),
	}
}

func TestTransform_EmbedsAttachmentsWhenFileModeNotCLIFlag(t *testing.T) {
	root := testutil.TempDir(t, "aiexec")
	file := filepath.Join(root, "a.go")
	require.NoError(t, os.WriteFile(file, []byte("package a"), 0644))

	e := newTestExecutor(t, root)
	adapter := fakeAdapter{tag: "claude", capability: backend.Capability{FileMode: backend.FileModeEmbedInPrompt}}

	opts, err := e.transform(Options{Prompt: "review this", Attachments: []string{"a.go"}}, adapter)
	require.NoError(t, err)
	assert.Contains(t, opts.Prompt, attachmentHeaderPrefix)
	assert.Contains(t, opts.Prompt, "a.go")
	assert.Empty(t, opts.Attachments)
}

func TestTransform_CLIFlagModeLeavesAttachmentsAlone(t *testing.T) {
	root := testutil.TempDir(t, "aiexec")
	e := newTestExecutor(t, root)
	adapter := fakeAdapter{tag: "codex", capability: backend.Capability{FileMode: backend.FileModeCLIFlag}}

	opts, err := e.transform(Options{Prompt: "review this", Attachments: []string{"a.go"}}, adapter)
	require.NoError(t, err)
	assert.Equal(t, "review this", opts.Prompt)
	assert.Equal(t, []string{"a.go"}, opts.Attachments)
}

func TestTransform_IdempotentOnAlreadyTransformedPrompt(t *testing.T) {
	root := testutil.TempDir(t, "aiexec")
	file := filepath.Join(root, "a.go")
	require.NoError(t, os.WriteFile(file, []byte("package a"), 0644))

	e := newTestExecutor(t, root)
	adapter := fakeAdapter{tag: "claude", capability: backend.Capability{FileMode: backend.FileModeEmbedInPrompt}}

	once, err := e.transform(Options{Prompt: "review this", Attachments: []string{"a.go"}}, adapter)
	require.NoError(t, err)

	twice, err := e.transform(once, adapter)
	require.NoError(t, err)
	assert.Equal(t, once.Prompt, twice.Prompt, "re-transforming an already-transformed prompt must be a no-op")
}

func TestTransform_NoAttachmentsIsNoOp(t *testing.T) {
	root := testutil.TempDir(t, "aiexec")
	e := newTestExecutor(t, root)
	adapter := fakeAdapter{tag: "claude", capability: backend.Capability{FileMode: backend.FileModeEmbedInPrompt}}

	opts, err := e.transform(Options{Prompt: "just a prompt"}, adapter)
	require.NoError(t, err)
	assert.Equal(t, "just a prompt", opts.Prompt)
}

func TestCacheKey_DeterministicRegardlessOfParamOrder(t *testing.T) {
	k1 := CacheKey("bug-hunt", map[string]string{"a": "1", "b": "2"}, "contents")
	k2 := CacheKey("bug-hunt", map[string]string{"b": "2", "a": "1"}, "contents")
	assert.Equal(t, k1, k2)

	k3 := CacheKey("bug-hunt", map[string]string{"a": "1", "b": "3"}, "contents")
	assert.NotEqual(t, k1, k3)
}

func TestResultCache_GetPutAndExpiry(t *testing.T) {
	c := newResultCache(10 * time.Millisecond)
	c.put("k", "v")

	v, ok := c.get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.get("k")
	assert.False(t, ok, "entry should have expired")
}

func TestExecute_CLIFlagBackendRejectsPathTraversalBeforeSpawn(t *testing.T) {
	root := testutil.TempDir(t, "aiexec")
	auditPath := filepath.Join(root, "audit.db")
	auditStore, err := audit.Open(auditPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditStore.Close() })
	auditWriter := audit.NewWriter(auditStore)
	t.Cleanup(auditWriter.Close)

	registry := backend.NewRegistry()
	registry.Register(fakeAdapter{tag: "claude", capability: backend.Capability{FileMode: backend.FileModeCLIFlag}})

	e := &Executor{
		registry:      registry,
		breakers:      breaker.NewRegistry(nil, 3, time.Hour),
		permissions:   permission.NewManager(auditWriter),
		pathValidator: pathvalidate.New(root),
		cache:         newResultCache(time.Hour),
	}

	_, err = e.Execute(context.Background(), Options{
		Backend:       "claude",
		Prompt:        "review this",
		Attachments:   []string{"../../etc/passwd"},
		AutonomyLevel: permission.ReadOnly,
	})
	require.Error(t, err, "a cli-flag backend must not receive an un-validated traversal path")
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestSelectParallelBackends_ComplementarySpecialization(t *testing.T) {
	registry := backend.NewRegistry()
	registry.Register(fakeAdapter{tag: "claude", capability: backend.Capability{SpecializationTag: "reasoning"}})
	registry.Register(fakeAdapter{tag: "codex", capability: backend.Capability{SpecializationTag: "code-execution"}})
	registry.Register(fakeAdapter{tag: "copilot", capability: backend.Capability{SpecializationTag: "reasoning"}})

	e := &Executor{registry: registry, breakers: breaker.NewRegistry(nil, 3, time.Hour)}

	selected := e.SelectParallelBackends(TaskDescriptor{Workflow: "parallel-review"}, 2)
	assert.Len(t, selected, 2)
	assert.NotEqual(t, selected[0], selected[1])
}
