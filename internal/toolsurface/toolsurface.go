// Package toolsurface implements the host-facing RPC registry: declarative
// tool schemas mapped onto the AI executor (direct-ask tools) and the
// workflow library (the workflow tool), served over MCP's stdio transport
// with mcp.AddTool's typed-args generics.
package toolsurface

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/githubnext/gh-aw-core/internal/aiexec"
	"github.com/githubnext/gh-aw-core/internal/errs"
	"github.com/githubnext/gh-aw-core/internal/permission"
	"github.com/githubnext/gh-aw-core/internal/store"
	"github.com/githubnext/gh-aw-core/internal/workflows"
	"github.com/githubnext/gh-aw-core/pkg/logger"
)

var log = logger.New("toolsurface:server")

// directAskBackends is the closed set of backends exposed as one-to-one
// ask-<tag> tools.
var directAskBackends = []string{"claude", "codex", "copilot"}

// Surface binds the MCP server to the executor and workflow library.
type Surface struct {
	ai        *aiexec.Executor
	workflows *workflows.Library
	activity  *store.ActivityStore
	server    *mcp.Server
}

// New constructs the Tool Surface and registers every tool. version is
// reported in the MCP implementation metadata.
func New(ai *aiexec.Executor, wf *workflows.Library, activity *store.ActivityStore, version string) *Surface {
	s := &Surface{ai: ai, workflows: wf, activity: activity}
	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "gh-aw-core",
		Version: version,
	}, nil)

	for _, tag := range directAskBackends {
		s.registerAsk(tag)
	}
	s.registerWorkflow()
	return s
}

// Server exposes the underlying *mcp.Server; Run serves it over stdio.
func (s *Surface) Server() *mcp.Server { return s.server }

// Run blocks serving the length-framed stdio RPC contract until the
// transport closes or ctx is cancelled.
func (s *Surface) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// askArgs is the direct-ask tool's input schema.
type askArgs struct {
	Prompt       string   `json:"prompt" jsonschema:"The prompt or question to send to the backend"`
	Attachments  []string `json:"attachments,omitempty" jsonschema:"Optional file paths (relative to the project root) to attach"`
	Autonomy     string   `json:"autonomy,omitempty" jsonschema:"Autonomy level: read-only|low|medium|high|auto (default low)"`
	OutputFormat string   `json:"output_format,omitempty" jsonschema:"text|json (default text)"`
	Sandbox      bool     `json:"sandbox,omitempty" jsonschema:"Run the backend in its sandboxed mode, if supported"`
	Fallback     string   `json:"fallback,omitempty" jsonschema:"Backend to try once on a quota failure"`
}

func (s *Surface) registerAsk(tag string) {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ask-" + tag,
		Description: fmt.Sprintf("Ask the %s backend a question, optionally attaching files for analysis", tag),
	}, func(ctx context.Context, req *mcp.CallToolRequest, args askArgs) (*mcp.CallToolResult, any, error) {
		return s.handleAsk(ctx, tag, args)
	})
}

func (s *Surface) handleAsk(ctx context.Context, tag string, args askArgs) (*mcp.CallToolResult, any, error) {
	started := time.Now()
	level, err := resolveWireLevel(args.Autonomy, permission.Low)
	if err != nil {
		return errorResult(errs.KindValidation, err.Error()), nil, nil
	}

	requestID := uuid.NewString()
	output, execErr := s.ai.Execute(ctx, aiexec.Options{
		Backend:         tag,
		Prompt:          args.Prompt,
		Attachments:     args.Attachments,
		OutputFormat:    args.OutputFormat,
		Sandbox:         args.Sandbox,
		AutonomyLevel:   level,
		RequestID:       requestID,
		FallbackBackend: args.Fallback,
	})

	s.recordActivity(ctx, "ask-"+tag, execErr == nil, started)

	if execErr != nil {
		kind := errs.KindOf(execErr)
		log.Printf("request=%s ask-%s failed kind=%s: %v", requestID, tag, kind, execErr)
		return errorResult(kind, execErr.Error()), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: output}},
	}, map[string]any{"backend": tag, "duration_ms": time.Since(started).Milliseconds()}, nil
}

// workflowArgs is the single workflow tool's input schema.
type workflowArgs struct {
	Workflow string         `json:"workflow" jsonschema:"One of: parallel-review|validate-last-commit|pre-commit-validate|bug-hunt|feature-design|init-session"`
	Params   map[string]any `json:"params,omitempty" jsonschema:"Workflow-specific parameter bag"`
	Autonomy string         `json:"autonomy,omitempty" jsonschema:"Autonomy level override; defaults to auto"`
}

func (s *Surface) registerWorkflow() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "workflow",
		Description: "Run one of the fixed multi-stage AI workflows (review, validation, bug-hunt, feature design, session init)",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args workflowArgs) (*mcp.CallToolResult, any, error) {
		return s.handleWorkflow(ctx, args)
	})
}

func (s *Surface) handleWorkflow(ctx context.Context, args workflowArgs) (*mcp.CallToolResult, any, error) {
	started := time.Now()
	autonomy := args.Autonomy
	if autonomy == "" {
		autonomy = "auto"
	}
	internalLevel, err := wireLevelToken(autonomy)
	if err != nil {
		return errorResult(errs.KindValidation, err.Error()), nil, nil
	}

	workflowID := uuid.NewString()
	params := normalizeWorkflowParams(args.Workflow, args.Params)

	result, err := s.workflows.Run(ctx, args.Workflow, workflowID, internalLevel, params)
	s.recordActivity(ctx, args.Workflow, err == nil, started)

	if err != nil {
		kind := errs.KindOf(err)
		log.Printf("workflow=%s id=%s failed kind=%s: %v", args.Workflow, workflowID, kind, err)
		return errorResult(kind, err.Error()), nil, nil
	}

	payload, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		payload = []byte(fmt.Sprintf("%v", result))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(payload)}},
	}, map[string]any{"workflow_id": workflowID, "duration_ms": time.Since(started).Milliseconds()}, nil
}

// normalizeWorkflowParams coerces the JSON-decoded []any produced for array
// fields back into the []string the Workflow Library's stage functions
// expect (encoding/json always decodes a JSON array into []interface{},
// never []string, regardless of the source field's logical type).
func normalizeWorkflowParams(workflow string, params map[string]any) map[string]any {
	if params == nil {
		params = map[string]any{}
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	for _, key := range []string{"files", "suspects", "target_files"} {
		if raw, ok := out[key].([]any); ok {
			out[key] = toStringSlice(raw)
		}
	}
	return out
}

func toStringSlice(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (s *Surface) recordActivity(ctx context.Context, name string, success bool, started time.Time) {
	if s.activity == nil {
		return
	}
	_ = s.activity.Record(ctx, store.ActivityEvent{
		Type:       activityType(name),
		Name:       name,
		Success:    success,
		DurationMs: time.Since(started).Milliseconds(),
	})
}

func activityType(name string) string {
	for _, wf := range []string{
		workflows.NameParallelReview, workflows.NameValidateLastCommit, workflows.NamePreCommitValidate,
		workflows.NameBugHunt, workflows.NameFeatureDesign, workflows.NameInitSession,
	} {
		if name == wf {
			return "workflow_execution"
		}
	}
	return "tool_invocation"
}

// wireTokens maps the wire-level autonomy enum onto the internal
// permission.Level spelling; "auto" passes through unresolved.
var wireTokens = map[string]string{
	"read-only": "READ_ONLY",
	"low":       "LOW",
	"medium":    "MEDIUM",
	"high":      "HIGH",
	"auto":      "auto",
}

func wireLevelToken(wire string) (string, error) {
	if wire == "" {
		return "auto", nil
	}
	tok, ok := wireTokens[strings.ToLower(wire)]
	if !ok {
		return "", fmt.Errorf("unknown autonomy level %q", wire)
	}
	return tok, nil
}

// resolveWireLevel parses a direct-ask tool's optional autonomy flag,
// falling back to def when empty; "auto" is not meaningful for a direct-ask
// tool (no workflow name to key the default-level map on), so it resolves
// via the same MEDIUM fallback resolve_autonomy uses.
func resolveWireLevel(wire string, def permission.Level) (permission.Level, error) {
	if wire == "" {
		return def, nil
	}
	tok, err := wireLevelToken(wire)
	if err != nil {
		return 0, err
	}
	lvl, err := permission.ResolveAutonomy(tok, "")
	if err != nil {
		return 0, err
	}
	return lvl, nil
}

func errorResult(kind errs.Kind, message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%s: %s", exitSignal(kind), message)}},
	}
}

// exitSignal maps a classified error Kind onto the direct-ask exit-status
// vocabulary: permission-denied, validation-failed, backend-unavailable,
// sanitization-blocked. Kinds outside that set (quota, cancelled) fall back
// to their taxonomy name so nothing is silently coerced into one of the
// four.
func exitSignal(kind errs.Kind) string {
	switch kind {
	case errs.KindPermission:
		return "permission-denied"
	case errs.KindValidation:
		return "validation-failed"
	case errs.KindSanitization:
		return "sanitization-blocked"
	case errs.KindTransient, errs.KindPermanent:
		return "backend-unavailable"
	default:
		return string(kind)
	}
}
