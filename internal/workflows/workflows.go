// Package workflows implements the workflow library: six fixed
// orchestrations, each a pipeline of stages built from the AI executor and
// the workflow context, entered through the contextual executor.
package workflows

import (
	"context"
	"fmt"
	"strings"

	"github.com/githubnext/gh-aw-core/internal/aiexec"
	"github.com/githubnext/gh-aw-core/internal/contextual"
	"github.com/githubnext/gh-aw-core/internal/gitops"
	"github.com/githubnext/gh-aw-core/internal/permission"
	"github.com/githubnext/gh-aw-core/internal/workflowctx"
	"github.com/githubnext/gh-aw-core/pkg/sliceutil"
)

// The closed set of workflow identifiers the library and tool surface recognize.
const (
	NameParallelReview      = "parallel-review"
	NameValidateLastCommit  = "validate-last-commit"
	NamePreCommitValidate   = "pre-commit-validate"
	NameBugHunt             = "bug-hunt"
	NameFeatureDesign       = "feature-design"
	NameInitSession         = "init-session"
)

// Library binds every workflow to the executor, permission manager, and git
// reader it runs against.
type Library struct {
	ai          *aiexec.Executor
	permissions *permission.Manager
	git         *gitops.Reader
}

func NewLibrary(ai *aiexec.Executor, permissions *permission.Manager, git *gitops.Reader) *Library {
	return &Library{ai: ai, permissions: permissions, git: git}
}

// Run dispatches by workflow name; every workflow resolves `auto` to a
// concrete autonomy level at entry, before anything else happens.
func (l *Library) Run(ctx context.Context, name string, workflowID string, level string, params map[string]any) (any, error) {
	resolved, err := permission.ResolveAutonomy(level, name)
	if err != nil {
		return nil, err
	}

	fn, ok := l.dispatchTable()[name]
	if !ok {
		return nil, fmt.Errorf("workflows: unknown workflow %q", name)
	}

	params["__autonomy_level__"] = resolved
	return contextual.Execute(ctx, workflowID, name, fn, params)
}

func (l *Library) dispatchTable() map[string]contextual.Fn {
	return map[string]contextual.Fn{
		NameParallelReview:     contextual.WithContext(l.parallelReview),
		NameValidateLastCommit: contextual.WithContext(l.validateLastCommit),
		NamePreCommitValidate:  contextual.WithContext(l.preCommitValidate),
		NameBugHunt:            contextual.WithContext(l.bugHunt),
		NameFeatureDesign:      contextual.WithContext(l.featureDesign),
		NameInitSession:        contextual.WithContext(l.initSession),
	}
}

func autonomyOf(params map[string]any) permission.Level {
	lvl, _ := params["__autonomy_level__"].(permission.Level)
	return lvl
}

// ---- parallel-review ----

func (l *Library) parallelReview(ctx context.Context, wc *workflowctx.Context, params map[string]any) (any, error) {
	level := autonomyOf(params)
	files, _ := params["files"].([]string)
	focus, _ := params["focus"].(string)
	if focus == "" {
		focus = "all"
	}

	if err := l.permissions.File().AssertRead(ctx, level, permission.AssertContext{
		WorkflowName: NameParallelReview, Target: strings.Join(files, ","),
	}); err != nil {
		return nil, err
	}

	key := aiexec.CacheKey(NameParallelReview, map[string]string{"focus": focus}, strings.Join(files, "|"))
	if cached, ok := l.ai.CacheGet(key); ok {
		return cached, nil
	}

	backends := l.ai.SelectParallelBackends(aiexec.TaskDescriptor{Workflow: NameParallelReview, Focus: focus}, 2)
	prompt := fmt.Sprintf("Review the following files for %s concerns:\n%s", focus, strings.Join(files, "\n"))

	results := l.ai.ExecuteParallel(ctx, aiexec.Options{
		Prompt: prompt, Attachments: files, AutonomyLevel: level,
		WorkflowName: NameParallelReview,
	}, backends)

	var legs []string
	var successes int
	for _, r := range results {
		if r.Err != nil {
			wc.Append("review_failures", r.Backend)
			legs = append(legs, fmt.Sprintf("## %s (failed)\n\n%s", r.Backend, r.Err.Error()))
			continue
		}
		successes++
		legs = append(legs, fmt.Sprintf("## %s\n\n%s", r.Backend, r.Output))
	}
	if successes == 0 {
		return nil, fmt.Errorf("parallel-review: all backends failed")
	}

	synthesisPrompt := "Synthesize the following independent reviews into one markdown review:\n\n" + strings.Join(legs, "\n\n")
	synthesis, err := l.ai.Execute(ctx, aiexec.Options{
		Prompt: synthesisPrompt, AutonomyLevel: level, WorkflowName: NameParallelReview,
		Backend: firstOrDefault(backends, "claude"),
	})
	if err != nil {
		return nil, err
	}

	l.ai.CachePut(key, synthesis)
	return synthesis, nil
}

// ---- validate-last-commit ----

type CommitVerdict struct {
	Status   string // "pass" | "warn" | "fail"
	Warnings []string
	Errors   []string
}

func (l *Library) validateLastCommit(ctx context.Context, wc *workflowctx.Context, params map[string]any) (any, error) {
	level := autonomyOf(params)
	ref, _ := params["ref"].(string)
	if ref == "" {
		ref = "HEAD"
	}

	if err := l.permissions.Git().AssertRead(ctx, level, permission.AssertContext{WorkflowName: NameValidateLastCommit, Target: ref}); err != nil {
		return nil, err
	}

	meta, err := l.git.CommitMetadata(ctx, ref)
	if err != nil {
		return nil, err
	}
	diff, err := l.git.Diff(ctx, ref)
	if err != nil {
		return nil, err
	}

	backends := l.ai.SelectParallelBackends(aiexec.TaskDescriptor{Workflow: NameValidateLastCommit}, 2)
	results := l.ai.ExecuteParallel(ctx, aiexec.Options{
		Prompt: fmt.Sprintf("Commit %s by %s: %s\n\n%s", meta.Ref, meta.Author, meta.Subject, diff),
		AutonomyLevel: level, WorkflowName: NameValidateLastCommit,
	}, backends)

	verdict := CommitVerdict{Status: "pass"}
	for _, r := range results {
		if r.Err != nil {
			continue // individual analysis failures degrade to empty lists
		}
		if sliceutil.ContainsIgnoreCase(r.Output, "error") {
			verdict.Errors = append(verdict.Errors, r.Output)
			verdict.Status = "fail"
		} else if sliceutil.ContainsIgnoreCase(r.Output, "warn") {
			verdict.Warnings = append(verdict.Warnings, r.Output)
			if verdict.Status == "pass" {
				verdict.Status = "warn"
			}
		}
	}
	return verdict, nil
}

// ---- pre-commit-validate ----

func (l *Library) preCommitValidate(ctx context.Context, wc *workflowctx.Context, params map[string]any) (any, error) {
	level := autonomyOf(params)
	depth, _ := params["depth"].(string)
	if depth == "" {
		depth = "quick"
	}

	if err := l.permissions.Git().AssertRead(ctx, level, permission.AssertContext{WorkflowName: NamePreCommitValidate}); err != nil {
		return nil, err
	}

	diff, err := l.git.Diff(ctx, "")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(diff) == "" {
		return CommitVerdict{Status: "pass"}, nil
	}

	var k int
	switch depth {
	case "quick":
		k = 1
	case "thorough", "paranoid":
		k = 3
	default:
		k = 1
	}

	backends := l.ai.SelectParallelBackends(aiexec.TaskDescriptor{Workflow: NamePreCommitValidate}, k)
	prompt := "Scan this staged diff for secrets"
	if depth != "quick" {
		prompt += ", quality issues, and breaking changes"
	}
	if depth == "paranoid" {
		prompt += ", including extended static analysis checks"
	}
	prompt += ":\n\n" + diff

	results := l.ai.ExecuteParallel(ctx, aiexec.Options{
		Prompt: prompt, AutonomyLevel: level, WorkflowName: NamePreCommitValidate,
	}, backends)

	verdict := CommitVerdict{Status: "pass"}
	for _, r := range results {
		if r.Err != nil {
			verdict.Warnings = append(verdict.Warnings, fmt.Sprintf("%s: %v", r.Backend, r.Err))
			continue
		}
		if sliceutil.ContainsAny(strings.ToLower(r.Output), "secret", "breaking") {
			verdict.Errors = append(verdict.Errors, r.Output)
			verdict.Status = "fail"
		}
	}
	return verdict, nil
}

// ---- bug-hunt ----

func (l *Library) bugHunt(ctx context.Context, wc *workflowctx.Context, params map[string]any) (any, error) {
	level := autonomyOf(params)
	symptom, _ := params["symptom"].(string)
	suspects, _ := params["suspects"].([]string)

	if len(suspects) == 0 {
		fastBackends := l.ai.SelectParallelBackends(aiexec.TaskDescriptor{Workflow: NameBugHunt}, 1)
		discovery, err := l.ai.Execute(ctx, aiexec.Options{
			Prompt: "Given this symptom, list likely suspect files:\n" + symptom,
			AutonomyLevel: level, WorkflowName: NameBugHunt, Backend: firstOrDefault(fastBackends, "codex"),
		})
		if err == nil {
			suspects = strings.Fields(discovery)
		}
	}

	var problematic []string
	for _, f := range suspects {
		if err := l.permissions.File().AssertRead(ctx, level, permission.AssertContext{WorkflowName: NameBugHunt, Target: f}); err != nil {
			continue
		}
		analysis, err := l.ai.Execute(ctx, aiexec.Options{
			Prompt: fmt.Sprintf("Deep-analyze %s for the symptom: %s", f, symptom),
			Attachments: []string{f}, AutonomyLevel: level, WorkflowName: NameBugHunt, Backend: "claude",
		})
		if err != nil {
			continue
		}
		wc.Append("analyses", analysis)
		if sliceutil.ContainsIgnoreCase(analysis, "problem") {
			problematic = append(problematic, f)
		}
	}

	for _, f := range problematic {
		refs, err := l.ai.Execute(ctx, aiexec.Options{
			Prompt: "Enumerate references to " + f, AutonomyLevel: level, WorkflowName: NameBugHunt, Backend: "claude",
		})
		if err == nil {
			wc.Append("references", refs)
		}
	}

	synthesis, err := l.ai.Execute(ctx, aiexec.Options{
		Prompt: "Synthesize a root-cause report from:\n" + strings.Join(toStrings(wc.GetAll("analyses")), "\n") +
			"\n" + strings.Join(toStrings(wc.GetAll("references")), "\n"),
		AutonomyLevel: level, WorkflowName: NameBugHunt, Backend: "claude",
	})
	if err != nil {
		return nil, err
	}
	return synthesis, nil
}

// ---- feature-design ----

func (l *Library) featureDesign(ctx context.Context, wc *workflowctx.Context, params map[string]any) (any, error) {
	level := autonomyOf(params)
	description, _ := params["description"].(string)

	roles := []struct {
		name   string
		prefix string
	}{
		{"architect", "As the architect, design an approach for"},
		{"implementer", "As the implementer, write the implementation plan for"},
		{"tester", "As the tester, write the test plan for"},
	}

	var accumulated strings.Builder
	accumulated.WriteString(description)

	for _, role := range roles {
		prompt := fmt.Sprintf("%s:\n\n%s", role.prefix, accumulated.String())
		output, err := l.ai.Execute(ctx, aiexec.Options{
			Prompt: prompt, AutonomyLevel: level, WorkflowName: NameFeatureDesign, Backend: "claude",
		})
		if err != nil {
			return nil, fmt.Errorf("feature-design: %s stage failed: %w", role.name, err)
		}
		wc.Set(role.name, output)
		accumulated.WriteString("\n\n## " + role.name + "\n" + output)
	}

	return map[string]any{
		"architect":   mustGet(wc, "architect"),
		"implementer": mustGet(wc, "implementer"),
		"tester":      mustGet(wc, "tester"),
	}, nil
}

// ---- init-session ----

func (l *Library) initSession(ctx context.Context, wc *workflowctx.Context, params map[string]any) (any, error) {
	level := autonomyOf(params)
	info, err := l.git.RepoInfo(ctx, 10)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf("Branch: %s\nStaged: %v\nModified: %v\nRecent commits:\n%s",
		info.Branch, info.StagedFiles, info.ModifiedFiles, strings.Join(info.RecentCommits, "\n"))

	report, err := l.ai.Execute(ctx, aiexec.Options{
		Prompt: prompt, AutonomyLevel: level, WorkflowName: NameInitSession,
		Backend: "claude", FallbackBackend: "codex",
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func firstOrDefault(xs []string, def string) string {
	if len(xs) == 0 {
		return def
	}
	return xs[0]
}

func toStrings(xs []any) []string {
	out := make([]string, 0, len(xs))
	for _, x := range xs {
		if s, ok := x.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func mustGet(wc *workflowctx.Context, key string) string {
	v, _ := wc.Get(key)
	s, _ := v.(string)
	return s
}
