// Package permission implements the permission manager: the autonomy
// ladder, the operation-class-to-minimum-level mapping, and the assert/check
// pair that every side-effectful call in the system is gated behind. Every
// assert writes an audit entry (internal/audit), win or lose.
package permission

import (
	"context"
	"fmt"
	"time"

	"github.com/githubnext/gh-aw-core/internal/audit"
	"github.com/githubnext/gh-aw-core/internal/errs"
)

// Level is the totally ordered autonomy ladder.
type Level int

const (
	ReadOnly Level = iota
	Low
	Medium
	High
)

func (l Level) String() string {
	switch l {
	case ReadOnly:
		return "READ_ONLY"
	case Low:
		return "LOW"
	case Medium:
		return "MEDIUM"
	case High:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses one of the four level names, case-sensitively matching
// the canonical spelling used on the wire and in config.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "READ_ONLY":
		return ReadOnly, nil
	case "LOW":
		return Low, nil
	case "MEDIUM":
		return Medium, nil
	case "HIGH":
		return High, nil
	default:
		return 0, errs.New(errs.KindValidation, fmt.Sprintf("unknown autonomy level: %s", s))
	}
}

// Operation is the closed set of operation classes.
type Operation string

const (
	OpReadFile          Operation = "read_file"
	OpWriteFile         Operation = "write_file"
	OpGitRead           Operation = "git_read"
	OpGitCommit         Operation = "git_commit"
	OpGitPush           Operation = "git_push"
	OpGitBranch         Operation = "git_branch"
	OpInstallDependency Operation = "install_dependency"
	OpExecuteCommand    Operation = "execute_command"
	OpExternalAPI       Operation = "external_api"
	OpMCPCall           Operation = "mcp_call"
)

// minLevel is total and monotone: every Operation in the closed set has an
// entry, and a level permitting an operation permits all operations of
// strictly lower required level.
var minLevel = map[Operation]Level{
	OpReadFile:          ReadOnly,
	OpGitRead:           ReadOnly,
	OpWriteFile:         Low,
	OpGitCommit:         Medium,
	OpGitBranch:         Medium,
	OpInstallDependency: Medium,
	OpExecuteCommand:    Medium,
	OpGitPush:           High,
	OpExternalAPI:       High,
	OpMCPCall:           High,
}

// defaultWorkflowLevel is the static per-workflow fallback map that
// resolve_autonomy consults when given the literal "auto" token.
var defaultWorkflowLevel = map[string]Level{
	"parallel-review":       Low,
	"validate-last-commit":  ReadOnly,
	"pre-commit-validate":   ReadOnly,
	"bug-hunt":              Low,
	"feature-design":        Medium,
	"init-session":          ReadOnly,
}

// CheckResult is the pure decision produced by Check.
type CheckResult struct {
	Allowed       bool
	RequiredLevel Level
	Reason        string
}

// Check is the pure heart of the Permission Manager: no I/O, no audit write.
func Check(level Level, op Operation) CheckResult {
	required, ok := minLevel[op]
	if !ok {
		// The mapping is total by construction; an unknown operation is a
		// programming error upstream, not a policy decision. Deny safe.
		return CheckResult{Allowed: false, RequiredLevel: High, Reason: fmt.Sprintf("unrecognized operation class: %s", op)}
	}
	if level >= required {
		return CheckResult{Allowed: true, RequiredLevel: required}
	}
	return CheckResult{
		Allowed:       false,
		RequiredLevel: required,
		Reason:        fmt.Sprintf("operation %s requires autonomy level %s or higher", op, required),
	}
}

// Manager binds Check/Assert to the shared audit writer so every decision is
// recorded.
type Manager struct {
	audit *audit.Writer
}

func NewManager(w *audit.Writer) *Manager {
	return &Manager{audit: w}
}

// AssertContext carries the identifying fields an audit entry needs beyond
// the level/operation pair.
type AssertContext struct {
	WorkflowName string
	WorkflowID   string
	Target       string
	ExecutedBy   string // "system" | "user"
}

// Assert calls Check, records an Audit Entry regardless of outcome, and on
// deny returns a KindPermission error whose message names the required
// level.
func (m *Manager) Assert(ctx context.Context, level Level, op Operation, actx AssertContext) error {
	result := Check(level, op)

	executedBy := actx.ExecutedBy
	if executedBy == "" {
		executedBy = "system"
	}

	entry := audit.Entry{
		TimestampMs:   time.Now().UnixMilli(),
		WorkflowName:  actx.WorkflowName,
		WorkflowID:    actx.WorkflowID,
		AutonomyLevel: level.String(),
		Operation:     string(op),
		Target:        actx.Target,
		Approved:      result.Allowed,
		ExecutedBy:    executedBy,
		Outcome:       "pending",
	}
	if result.Allowed {
		entry.Outcome = "success"
	} else {
		entry.Outcome = "failure"
		entry.ErrorMessage = result.Reason
	}
	m.audit.Enqueue(entry)

	if !result.Allowed {
		return errs.New(errs.KindPermission, fmt.Sprintf("%s; grant level %s to allow", result.Reason, result.RequiredLevel))
	}
	return nil
}

// ResolveAutonomy returns levelOrAuto unchanged if it already names a
// concrete level; the literal "auto" resolves via the per-workflow default
// map, falling back to MEDIUM.
func ResolveAutonomy(levelOrAuto string, workflowName string) (Level, error) {
	if levelOrAuto != "auto" {
		return ParseLevel(levelOrAuto)
	}
	if lvl, ok := defaultWorkflowLevel[workflowName]; ok {
		return lvl, nil
	}
	return Medium, nil
}

// Git is a thin façade over the git-related operation classes.
type Git struct{ m *Manager }

func (m *Manager) Git() Git { return Git{m: m} }

func (g Git) CanRead(level Level) bool   { return Check(level, OpGitRead).Allowed }
func (g Git) CanCommit(level Level) bool { return Check(level, OpGitCommit).Allowed }
func (g Git) CanPush(level Level) bool   { return Check(level, OpGitPush).Allowed }
func (g Git) CanBranch(level Level) bool { return Check(level, OpGitBranch).Allowed }

func (g Git) AssertRead(ctx context.Context, level Level, actx AssertContext) error {
	return g.m.Assert(ctx, level, OpGitRead, actx)
}
func (g Git) AssertCommit(ctx context.Context, level Level, actx AssertContext) error {
	return g.m.Assert(ctx, level, OpGitCommit, actx)
}
func (g Git) AssertPush(ctx context.Context, level Level, actx AssertContext) error {
	return g.m.Assert(ctx, level, OpGitPush, actx)
}
func (g Git) AssertBranch(ctx context.Context, level Level, actx AssertContext) error {
	return g.m.Assert(ctx, level, OpGitBranch, actx)
}

// File is a thin façade over the file-related operation classes.
type File struct{ m *Manager }

func (m *Manager) File() File { return File{m: m} }

func (f File) CanRead(level Level) bool  { return Check(level, OpReadFile).Allowed }
func (f File) CanWrite(level Level) bool { return Check(level, OpWriteFile).Allowed }

func (f File) AssertRead(ctx context.Context, level Level, actx AssertContext) error {
	return f.m.Assert(ctx, level, OpReadFile, actx)
}
func (f File) AssertWrite(ctx context.Context, level Level, actx AssertContext) error {
	return f.m.Assert(ctx, level, OpWriteFile, actx)
}
