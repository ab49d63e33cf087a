// Package contextual implements the contextual workflow executor:
// construct a fresh workflow context, inject it into the workflow's params,
// run the workflow, and tear the context down unconditionally.
package contextual

import (
	"context"
	"fmt"
	"time"

	"github.com/githubnext/gh-aw-core/internal/workflowctx"
	"github.com/githubnext/gh-aw-core/pkg/logger"
)

var log = logger.New("workflow:contextual")

// ContextKey is the reserved params key a workflow function reads its
// Workflow Context from.
const ContextKey = "__workflow_context__"

// Fn is a workflow body: it receives params with ContextKey populated.
type Fn func(ctx context.Context, params map[string]any) (any, error)

// Execute constructs a fresh Context scoped to (workflowID, workflowName),
// injects it under ContextKey, invokes fn, and always emits a summary log
// entry and clears the context before returning — on both the success and
// the error path.
func Execute(ctx context.Context, workflowID, workflowName string, fn Fn, params map[string]any) (result any, err error) {
	wc := workflowctx.New(workflowID, workflowName)
	if params == nil {
		params = map[string]any{}
	}
	params[ContextKey] = wc

	started := time.Now()
	defer func() {
		summary := wc.Summary()
		log.Printf("workflow=%s id=%s duration=%s data=%d arrays=%d counters=%d checkpoints=%d err=%v",
			workflowName, workflowID, time.Since(started), summary.DataKeys, summary.ArrayKeys,
			summary.CounterKeys, summary.CheckpointsN, err)
		wc.Clear()
	}()

	result, err = fn(ctx, params)
	return result, err
}

// WithContext adapts a function taking the Workflow Context as its first
// argument into a Fn that pulls it back out of params.
func WithContext(f func(ctx context.Context, wc *workflowctx.Context, params map[string]any) (any, error)) Fn {
	return func(ctx context.Context, params map[string]any) (any, error) {
		wc, ok := params[ContextKey].(*workflowctx.Context)
		if !ok {
			return nil, fmt.Errorf("contextual: params missing injected workflow context under %q", ContextKey)
		}
		return f(ctx, wc, params)
	}
}
