package planner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/githubnext/gh-aw-core/internal/pathvalidate"
	"github.com/githubnext/gh-aw-core/internal/permission"
	"github.com/githubnext/gh-aw-core/internal/workflowctx"
	"github.com/githubnext/gh-aw-core/pkg/testutil"
)

func TestValidate_RejectsEmptyPlan(t *testing.T) {
	p := Plan{}
	assert.Error(t, p.Validate(permission.High))
}

func TestValidate_RejectsTooManySteps(t *testing.T) {
	var steps []Step
	for i := 0; i < MaxSteps+1; i++ {
		steps = append(steps, Step{ID: string(rune('a' + i)), Type: StepFileRead})
	}
	p := Plan{Steps: steps}
	err := p.Validate(permission.High)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds max")
}

func TestValidate_RejectsDuplicateID(t *testing.T) {
	p := Plan{Steps: []Step{
		{ID: "a", Type: StepFileRead},
		{ID: "a", Type: StepFileRead},
	}}
	assert.Error(t, p.Validate(permission.High))
}

func TestValidate_RejectsUnknownDependency(t *testing.T) {
	p := Plan{Steps: []Step{
		{ID: "a", Type: StepFileRead, DependsOn: []string{"ghost"}},
	}}
	assert.Error(t, p.Validate(permission.High))
}

func TestValidate_RejectsCycle(t *testing.T) {
	p := Plan{Steps: []Step{
		{ID: "a", Type: StepFileRead, DependsOn: []string{"b"}},
		{ID: "b", Type: StepFileRead, DependsOn: []string{"a"}},
	}}
	err := p.Validate(permission.High)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestValidate_RejectsInsufficientAutonomy(t *testing.T) {
	p := Plan{Steps: []Step{
		{ID: "a", Type: StepGitRead, RequiredOperation: permission.OpGitPush},
	}}
	err := p.Validate(permission.ReadOnly)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires operation")
}

func TestValidate_AcceptsValidPlan(t *testing.T) {
	p := Plan{Steps: []Step{
		{ID: "a", Type: StepFileRead},
		{ID: "b", Type: StepFileRead, DependsOn: []string{"a"}},
	}}
	assert.NoError(t, p.Validate(permission.High))
}

func TestRun_FileReadStepsRespectDependencyOrder(t *testing.T) {
	root := testutil.TempDir(t, "planner")
	file := filepath.Join(root, "target.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	plan := Plan{Steps: []Step{
		{ID: "read", Type: StepFileRead, Params: map[string]any{"path": "target.txt"}},
		{ID: "read2", Type: StepFileRead, DependsOn: []string{"read"}, Params: map[string]any{"path": "target.txt"}},
	}}

	deps := Deps{PathValidator: pathvalidate.New(root)}
	wc := workflowctx.New("wf-1", "plan-test")

	results, err := Run(context.Background(), deps, plan, permission.High, wc, "plan-test")
	require.NoError(t, err)
	assert.Equal(t, file, results["read"].Output)
	assert.Equal(t, file, results["read2"].Output)
}

func TestRun_OnErrorContinueSkipsRatherThanFails(t *testing.T) {
	root := testutil.TempDir(t, "planner")
	plan := Plan{Steps: []Step{
		{ID: "bad", Type: "unsupported", OnError: OnErrorContinue},
	}}

	deps := Deps{PathValidator: pathvalidate.New(root)}
	wc := workflowctx.New("wf-1", "plan-test")

	results, err := Run(context.Background(), deps, plan, permission.High, wc, "plan-test")
	require.NoError(t, err)
	assert.True(t, results["bad"].Skipped)
	assert.Error(t, results["bad"].Err)
}

func TestRun_DefaultOnErrorFailsWholePlan(t *testing.T) {
	root := testutil.TempDir(t, "planner")
	plan := Plan{Steps: []Step{
		{ID: "bad", Type: "unsupported"},
	}}

	deps := Deps{PathValidator: pathvalidate.New(root)}
	wc := workflowctx.New("wf-1", "plan-test")

	_, err := Run(context.Background(), deps, plan, permission.High, wc, "plan-test")
	assert.Error(t, err)
}

func TestRun_ParallelGroupRunsMembersConcurrently(t *testing.T) {
	root := testutil.TempDir(t, "planner")
	file := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	plan := Plan{Steps: []Step{
		{ID: "group", Type: StepParallelGroup, Params: map[string]any{
			"members": []Step{
				{ID: "m1", Type: StepFileRead, Params: map[string]any{"path": "a.txt"}},
				{ID: "m2", Type: StepFileRead, Params: map[string]any{"path": "a.txt"}},
			},
		}},
	}}

	deps := Deps{PathValidator: pathvalidate.New(root)}
	wc := workflowctx.New("wf-1", "plan-test")

	results, err := Run(context.Background(), deps, plan, permission.High, wc, "plan-test")
	require.NoError(t, err)
	sub, ok := results["group"].Output.(map[string]StepResult)
	require.True(t, ok)
	assert.Equal(t, file, sub["m1"].Output)
	assert.Equal(t, file, sub["m2"].Output)
}

func TestDescribe(t *testing.T) {
	plan := Plan{Steps: []Step{
		{ID: "a", Type: StepFileRead},
		{ID: "b", Type: StepGitRead},
	}}
	assert.Equal(t, "a(file_read) -> b(git_read)", Describe(plan))
}
