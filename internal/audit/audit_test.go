package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/githubnext/gh-aw-core/pkg/testutil"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := testutil.TempDir(t, "audit")
	s, err := Open(filepath.Join(dir, "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, Entry{
		TimestampMs: time.Now().UnixMilli(), WorkflowName: "bug-hunt", Operation: "write_file",
		Target: "a.go", Approved: true, ExecutedBy: "system", Outcome: "success",
	}))
	require.NoError(t, s.Append(ctx, Entry{
		TimestampMs: time.Now().UnixMilli(), WorkflowName: "bug-hunt", Operation: "git_push",
		Target: "origin/main", Approved: false, ExecutedBy: "system", Outcome: "failure", ErrorMessage: "denied",
	}))
	require.NoError(t, s.Append(ctx, Entry{
		TimestampMs: time.Now().UnixMilli(), WorkflowName: "feature-design", Operation: "write_file",
		Target: "b.go", Approved: true, ExecutedBy: "system", Outcome: "success",
	}))

	all, err := s.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byWorkflow, err := s.Query(ctx, Filter{WorkflowName: "bug-hunt"})
	require.NoError(t, err)
	assert.Len(t, byWorkflow, 2)

	denied, err := s.Query(ctx, Filter{Outcome: "failure"})
	require.NoError(t, err)
	require.Len(t, denied, 1)
	assert.Equal(t, "denied", denied[0].ErrorMessage)
	assert.False(t, denied[0].Approved)

	limited, err := s.Query(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestCleanup_DeletesOldEntries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := time.Now().AddDate(0, 0, -100).UnixMilli()
	require.NoError(t, s.Append(ctx, Entry{TimestampMs: old, WorkflowName: "wf", Operation: "read_file", Target: "a", Approved: true, ExecutedBy: "system", Outcome: "success"}))
	require.NoError(t, s.Append(ctx, Entry{TimestampMs: time.Now().UnixMilli(), WorkflowName: "wf", Operation: "read_file", Target: "b", Approved: true, ExecutedBy: "system", Outcome: "success"}))

	n, err := s.Cleanup(ctx, 90)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	remaining, err := s.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestExportJSON(t *testing.T) {
	entries := []Entry{{ID: "1", WorkflowName: "wf", Operation: "read_file", Outcome: "success"}}
	out, err := ExportJSON(entries)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"WorkflowName": "wf"`)
}

func TestExportCSV(t *testing.T) {
	entries := []Entry{{ID: "1", WorkflowName: "wf", Operation: "read_file", Outcome: "success", Approved: true}}
	out, err := ExportCSV(entries)
	require.NoError(t, err)
	assert.Contains(t, out, "id,timestamp_ms,workflow_name")
	assert.Contains(t, out, "wf")
}

func TestExportHTML_AggregatesCounts(t *testing.T) {
	entries := []Entry{
		{ID: "1", Approved: true, Outcome: "success"},
		{ID: "2", Approved: false, Outcome: "failure"},
	}
	out := ExportHTML(entries)
	assert.Contains(t, out, "Total: 2")
	assert.Contains(t, out, "Approved: 1")
	assert.Contains(t, out, "Denied: 1")
}
