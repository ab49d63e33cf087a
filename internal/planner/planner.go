// Package planner implements generic dynamic workflows as execution plans:
// a directed acyclic graph of typed steps (ai_analysis, git_read,
// file_read, parallel_group), each permission-gated up front and executed
// wave-by-wave so that any set of steps whose dependencies are satisfied
// simultaneously runs concurrently. This is the same fan-out/fan-in shape
// the fixed workflow library (internal/workflows) uses by hand, generalized
// to a caller-supplied graph instead of a hard-coded pipeline.
package planner

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/githubnext/gh-aw-core/internal/aiexec"
	"github.com/githubnext/gh-aw-core/internal/gitops"
	"github.com/githubnext/gh-aw-core/internal/pathvalidate"
	"github.com/githubnext/gh-aw-core/internal/permission"
	"github.com/githubnext/gh-aw-core/internal/workflowctx"
	"github.com/githubnext/gh-aw-core/pkg/logger"
)

var log = logger.New("planner:dag")

// MaxSteps bounds total step count in a Plan, counting parallel-group members.
const MaxSteps = 20

// StepType is the closed set of step kinds a Plan may declare.
type StepType string

const (
	StepAIAnalysis    StepType = "ai_analysis"
	StepGitRead       StepType = "git_read"
	StepFileRead      StepType = "file_read"
	StepParallelGroup StepType = "parallel_group"
)

// OnError is the closed set of per-step failure policies.
type OnError string

const (
	OnErrorFail     OnError = "fail"
	OnErrorContinue OnError = "continue"
	OnErrorRetry    OnError = "retry"
)

// Step is one node of the Execution Plan DAG.
type Step struct {
	ID                string
	Type              StepType
	DependsOn         []string
	RequiredOperation permission.Operation
	OnError           OnError
	MaxRetries        int
	// Params carries step-specific inputs: "prompt"/"backend"/"attachments"
	// for ai_analysis, "ref" for git_read, "path" for file_read, "members"
	// ([]Step) for parallel_group.
	Params map[string]any
}

// Plan is the full DAG submitted to Run.
type Plan struct {
	Steps []Step
}

// StepResult is one step's outcome, keyed by Step.ID in Run's returned map.
type StepResult struct {
	ID      string
	Output  any
	Err     error
	Skipped bool
}

// Validate checks a Plan's structural invariants: the graph must be
// acyclic, total step count bounded, and every step's RequiredOperation
// permitted at level. Called by Run before any step executes, so a
// disallowed step fails the whole plan before any spawn occurs.
func (p *Plan) Validate(level permission.Level) error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("planner: empty plan")
	}
	total := countSteps(p.Steps)
	if total > MaxSteps {
		return fmt.Errorf("planner: plan has %d steps, exceeds max of %d", total, MaxSteps)
	}

	ids := map[string]bool{}
	if err := collectIDs(p.Steps, ids); err != nil {
		return err
	}

	for _, s := range p.Steps {
		if err := validateStep(s, ids, level); err != nil {
			return err
		}
	}

	if err := checkAcyclic(p.Steps); err != nil {
		return err
	}
	return nil
}

func countSteps(steps []Step) int {
	n := 0
	for _, s := range steps {
		n++
		if s.Type == StepParallelGroup {
			if members, ok := s.Params["members"].([]Step); ok {
				n += countSteps(members)
			}
		}
	}
	return n
}

func collectIDs(steps []Step, ids map[string]bool) error {
	for _, s := range steps {
		if s.ID == "" {
			return fmt.Errorf("planner: step with empty ID")
		}
		if ids[s.ID] {
			return fmt.Errorf("planner: duplicate step ID %q", s.ID)
		}
		ids[s.ID] = true
		if s.Type == StepParallelGroup {
			if members, ok := s.Params["members"].([]Step); ok {
				if err := collectIDs(members, ids); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func validateStep(s Step, ids map[string]bool, level permission.Level) error {
	for _, dep := range s.DependsOn {
		if !ids[dep] {
			return fmt.Errorf("planner: step %q depends on unknown step %q", s.ID, dep)
		}
	}
	if s.RequiredOperation != "" {
		if res := permission.Check(level, s.RequiredOperation); !res.Allowed {
			return fmt.Errorf("planner: step %q requires operation %s at level %s or higher (have %s)",
				s.ID, s.RequiredOperation, res.RequiredLevel, level)
		}
	}
	switch s.OnError {
	case "", OnErrorFail, OnErrorContinue, OnErrorRetry:
	default:
		return fmt.Errorf("planner: step %q has unknown on_error %q", s.ID, s.OnError)
	}
	if s.Type == StepParallelGroup {
		members, _ := s.Params["members"].([]Step)
		for _, m := range members {
			if err := validateStep(m, ids, level); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkAcyclic runs Kahn's algorithm over the top-level steps; a leftover
// unprocessed step after the queue drains means a cycle exists.
func checkAcyclic(steps []Step) error {
	indegree := map[string]int{}
	dependents := map[string][]string{}
	for _, s := range steps {
		if _, ok := indegree[s.ID]; !ok {
			indegree[s.ID] = 0
		}
		for _, dep := range s.DependsOn {
			indegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if visited != len(indegree) {
		return fmt.Errorf("planner: plan graph contains a cycle")
	}
	return nil
}

// Deps bundles the executors each step type dispatches through.
type Deps struct {
	AI            *aiexec.Executor
	Git           *gitops.Reader
	PathValidator *pathvalidate.Validator
}

// Run validates then executes plan wave-by-wave: each wave is the set of
// steps whose DependsOn are all already resolved, run concurrently (this is
// what gives parallel_group its fan-out — any wave with more than one ready
// step already runs them in parallel, whether or not the author grouped
// them explicitly).
func Run(ctx context.Context, deps Deps, plan Plan, level permission.Level, wc *workflowctx.Context, workflowName string) (map[string]StepResult, error) {
	if err := plan.Validate(level); err != nil {
		return nil, err
	}

	results := map[string]StepResult{}
	var mu sync.Mutex
	done := map[string]bool{}

	remaining := append([]Step(nil), plan.Steps...)
	for len(remaining) > 0 {
		var wave []Step
		var rest []Step
		for _, s := range remaining {
			if dependenciesSatisfied(s, done) {
				wave = append(wave, s)
			} else {
				rest = append(rest, s)
			}
		}
		if len(wave) == 0 {
			return results, fmt.Errorf("planner: no runnable steps; unsatisfied dependency (should not happen after Validate)")
		}

		var wg sync.WaitGroup
		for _, s := range wave {
			wg.Add(1)
			go func(s Step) {
				defer wg.Done()
				r := runStep(ctx, deps, s, level, wc, workflowName)
				mu.Lock()
				results[s.ID] = r
				done[s.ID] = true
				mu.Unlock()
			}(s)
		}
		wg.Wait()
		remaining = rest
	}

	return results, firstFatalError(plan.Steps, results)
}

func dependenciesSatisfied(s Step, done map[string]bool) bool {
	for _, dep := range s.DependsOn {
		if !done[dep] {
			return false
		}
	}
	return true
}

func firstFatalError(steps []Step, results map[string]StepResult) error {
	for _, s := range steps {
		r := results[s.ID]
		if r.Err != nil && (s.OnError == "" || s.OnError == OnErrorFail) {
			return fmt.Errorf("planner: step %q failed: %w", s.ID, r.Err)
		}
	}
	return nil
}

func runStep(ctx context.Context, deps Deps, s Step, level permission.Level, wc *workflowctx.Context, workflowName string) StepResult {
	maxAttempts := 1
	if s.OnError == OnErrorRetry && s.MaxRetries > 0 {
		maxAttempts = s.MaxRetries + 1
	}

	var out any
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		out, err = executeOne(ctx, deps, s, level, wc, workflowName)
		if err == nil {
			break
		}
		log.Printf("step=%s attempt=%d failed: %v", s.ID, attempt+1, err)
	}

	if err != nil {
		wc.Append("planner_errors", fmt.Sprintf("%s: %v", s.ID, err))
		if s.OnError == OnErrorContinue {
			return StepResult{ID: s.ID, Skipped: true, Err: err}
		}
		return StepResult{ID: s.ID, Err: err}
	}

	wc.Set("step_"+s.ID, out)
	return StepResult{ID: s.ID, Output: out}
}

func executeOne(ctx context.Context, deps Deps, s Step, level permission.Level, wc *workflowctx.Context, workflowName string) (any, error) {
	switch s.Type {
	case StepAIAnalysis:
		prompt, _ := s.Params["prompt"].(string)
		backend, _ := s.Params["backend"].(string)
		var attachments []string
		if raw, ok := s.Params["attachments"].([]string); ok {
			attachments = raw
		}
		return deps.AI.Execute(ctx, aiexec.Options{
			Backend: backend, Prompt: prompt, Attachments: attachments,
			AutonomyLevel: level, WorkflowName: workflowName,
		})

	case StepGitRead:
		ref, _ := s.Params["ref"].(string)
		return deps.Git.CommitMetadata(ctx, ref)

	case StepFileRead:
		path, _ := s.Params["path"].(string)
		resolved, err := deps.PathValidator.Validate(path)
		if err != nil {
			return nil, err
		}
		return resolved, nil

	case StepParallelGroup:
		members, _ := s.Params["members"].([]Step)
		sub, err := Run(ctx, deps, Plan{Steps: members}, level, wc, workflowName)
		if err != nil {
			return sub, err
		}
		return sub, nil

	default:
		return nil, fmt.Errorf("planner: unknown step type %q", s.Type)
	}
}

// Describe renders a one-line human summary of a plan's shape: each
// top-level step as id(type), joined by " -> ". Parallel-group members are
// not listed.
func Describe(plan Plan) string {
	var sb strings.Builder
	for i, s := range plan.Steps {
		if i > 0 {
			sb.WriteString(" -> ")
		}
		fmt.Fprintf(&sb, "%s(%s)", s.ID, s.Type)
	}
	return sb.String()
}
