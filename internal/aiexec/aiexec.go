// Package aiexec implements the AI executor: option transformation,
// autonomy translation, sanitization, availability gating, spawning, and
// retry/fallback, plus the parallel-dispatch helper the workflow library
// fans out through.
package aiexec

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/githubnext/gh-aw-core/internal/backend"
	"github.com/githubnext/gh-aw-core/internal/breaker"
	"github.com/githubnext/gh-aw-core/internal/errs"
	"github.com/githubnext/gh-aw-core/internal/pathvalidate"
	"github.com/githubnext/gh-aw-core/internal/permission"
	"github.com/githubnext/gh-aw-core/internal/runner"
	"github.com/githubnext/gh-aw-core/internal/sanitize"
	"github.com/githubnext/gh-aw-core/internal/store"
	"github.com/githubnext/gh-aw-core/pkg/logger"
	"github.com/githubnext/gh-aw-core/pkg/ratelimit"
)

var log = logger.New("ai:executor")

// attachmentHeaderPrefix is the bracketed marker that makes option
// transformation idempotent: a prompt already carrying it is left alone.
const attachmentHeaderPrefix = "[Files to analyze:"

// Options is Execute's entry contract.
type Options struct {
	Backend       string
	Prompt        string
	Attachments   []string
	OutputFormat  string
	Sandbox       bool
	AutonomyLevel permission.Level
	AutoApprove   bool
	SessionID     string
	RequestID     string
	OnProgress    func(chunk string)

	// WorkflowName/WorkflowID feed the permission assert's audit entry; each
	// attachment path is that entry's target.
	WorkflowName string
	WorkflowID   string

	// FallbackBackend is tried exactly once on a quota-classified failure.
	FallbackBackend string
}

// Executor wires every dispatch dependency together. One instance is shared
// process-wide, constructed by the dependency container.
type Executor struct {
	registry       *backend.Registry
	breakers       *breaker.Registry
	permissions    *permission.Manager
	pathValidator  *pathvalidate.Validator
	cmdRunner      *runner.Runner
	tokenMetrics   *store.TokenMetricsStore
	activity       *store.ActivityStore
	production     bool
	allowAutoApprove bool
	commandTimeout time.Duration
	cache          *resultCache
}

// Config bundles the few knobs the dependency container resolves from
// internal/config.
type Config struct {
	Production             bool
	AllowAutoApproveInProd bool
	// CommandTimeout overrides the command runner's default per-call
	// timeout; zero keeps runner.DefaultTimeout.
	CommandTimeout time.Duration
	// CacheTTL overrides the parallel-dispatch result cache's TTL; zero
	// keeps the default 1 hour.
	CacheTTL time.Duration
}

func New(
	registry *backend.Registry,
	breakers *breaker.Registry,
	permissions *permission.Manager,
	pathValidator *pathvalidate.Validator,
	cmdRunner *runner.Runner,
	tokenMetrics *store.TokenMetricsStore,
	activity *store.ActivityStore,
	cfg Config,
) *Executor {
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &Executor{
		registry:         registry,
		breakers:         breakers,
		permissions:      permissions,
		pathValidator:    pathValidator,
		cmdRunner:        cmdRunner,
		tokenMetrics:     tokenMetrics,
		activity:         activity,
		production:       cfg.Production,
		allowAutoApprove: cfg.AllowAutoApproveInProd,
		commandTimeout:   cfg.CommandTimeout,
		cache:            newResultCache(cacheTTL),
	}
}

// Execute runs the full dispatch pipeline: validate, transform, sanitize,
// gate on the breaker, spawn, and classify the outcome.
func (e *Executor) Execute(ctx context.Context, opts Options) (string, error) {
	started := time.Now()
	if opts.RequestID == "" {
		opts.RequestID = uuid.NewString()
	}

	adapter, err := e.registry.Get(opts.Backend)
	if err != nil {
		e.recordActivity(ctx, opts, false, started, err)
		return "", err
	}

	// Sanitize first, so the emptiness check below sees the sanitized prompt.
	sanResult, err := sanitize.Sanitize(opts.Prompt, sanitize.Options{})
	if err != nil {
		e.recordActivity(ctx, opts, false, started, err)
		return "", err
	}
	opts.Prompt = sanResult.Prompt
	for _, w := range sanResult.Warnings {
		log.Printf("request=%s sanitizer warning: %s", opts.RequestID, w)
	}

	if strings.TrimSpace(opts.Prompt) == "" {
		err := errs.New(errs.KindValidation, "prompt is empty after sanitization")
		e.recordActivity(ctx, opts, false, started, err)
		return "", err
	}

	// Option transformation: fold attachments into the prompt when the
	// target backend cannot take them as argv flags.
	embedded := len(opts.Attachments) > 0 && adapter.Capability().FileMode != backend.FileModeCLIFlag
	opts, err = e.transform(opts, adapter)
	if err != nil {
		e.recordActivity(ctx, opts, false, started, err)
		return "", err
	}

	// Every attachment that survives transformation (cli-flag backends keep
	// theirs; embed-in-prompt/none backends have already cleared theirs) is
	// validated against the project root before it can reach argv, so a
	// path-traversal attachment always raises before any spawn occurs.
	if len(opts.Attachments) > 0 {
		resolved, err := e.pathValidator.ValidateAll(opts.Attachments)
		if err != nil {
			e.recordActivity(ctx, opts, false, started, err)
			return "", err
		}
		opts.Attachments = resolved
	}

	// Assert read-file on every surviving attachment.
	for _, a := range opts.Attachments {
		if err := e.permissions.File().AssertRead(ctx, opts.AutonomyLevel, permission.AssertContext{
			WorkflowName: opts.WorkflowName, WorkflowID: opts.WorkflowID, Target: a,
		}); err != nil {
			e.recordActivity(ctx, opts, false, started, err)
			return "", err
		}
	}

	// Autonomy translation happens inside adapter.BuildArgv via the
	// AutonomyLevel string; production auto-approve suppression here.
	effectiveAutoApprove := opts.AutoApprove
	if e.production && !e.allowAutoApprove && effectiveAutoApprove {
		log.Printf("request=%s auto-approve suppressed in production", opts.RequestID)
		effectiveAutoApprove = false
	}

	output, err := e.dispatchWithRetry(ctx, adapter, opts, effectiveAutoApprove)
	e.recordActivity(ctx, opts, err == nil, started, err)
	if err == nil && embedded {
		e.recordEmbedSavings(ctx, opts.Prompt)
	}
	return output, err
}

// recordEmbedSavings writes a token-savings suggestion after a call that had
// to embed its attachments into the prompt body: a cli-flag backend reads the
// same files natively, so the embedded characters are the estimated savings
// of switching. Reporting-only; failures are logged and swallowed.
func (e *Executor) recordEmbedSavings(ctx context.Context, embeddedPrompt string) {
	if e.tokenMetrics == nil {
		return
	}
	proposed := ""
	for _, tag := range e.registry.Tags() {
		if a, err := e.registry.Get(tag); err == nil && a.Capability().FileMode == backend.FileModeCLIFlag {
			proposed = tag
			break
		}
	}
	if proposed == "" {
		return
	}
	lines := strings.Count(embeddedPrompt, "\n") + 1
	if err := e.tokenMetrics.Record(ctx, store.TokenSavingsMetric{
		ProposedTool:     proposed,
		EstimatedSavings: int64(len(embeddedPrompt) / 4), // ~4 chars per token
		FileBucket:       store.ClassifyLOC(lines),
	}); err != nil {
		log.Printf("failed to record token savings metric: %v", err)
	}
}

// transform folds attachments incompatible with the target backend's file
// mode into the prompt body; the bracketed header makes this idempotent.
func (e *Executor) transform(opts Options, adapter backend.Adapter) (Options, error) {
	capability := adapter.Capability()
	if capability.FileMode == backend.FileModeCLIFlag {
		return opts, nil
	}

	if strings.HasPrefix(opts.Prompt, attachmentHeaderPrefix) && len(opts.Attachments) == 0 {
		// Already transformed; nothing to do.
		return opts, nil
	}

	if len(opts.Attachments) == 0 {
		return opts, nil
	}

	if capability.FileMode == backend.FileModeNone {
		log.Printf("backend %s does not support files; downgrading to embed-in-prompt", adapter.Tag())
	}

	resolved, err := e.pathValidator.ValidateAll(opts.Attachments)
	if err != nil {
		return opts, err
	}

	header := fmt.Sprintf("[Files to analyze: %s]\n\n", strings.Join(resolved, ", "))
	opts.Prompt = header + opts.Prompt
	opts.Attachments = nil
	return opts, nil
}

// dispatchWithRetry runs the availability gate, spawn, and outcome handling
// with classification-driven retry and one-shot quota fallback.
func (e *Executor) dispatchWithRetry(ctx context.Context, adapter backend.Adapter, opts Options, autoApprove bool) (string, error) {
	if !e.breakers.IsAvailable(adapter.Tag()) {
		if opts.FallbackBackend != "" {
			fallbackAdapter, err := e.registry.Get(opts.FallbackBackend)
			if err == nil && e.breakers.IsAvailable(opts.FallbackBackend) {
				log.Printf("backend %s unavailable, falling back to %s", adapter.Tag(), opts.FallbackBackend)
				return e.dispatchWithRetry(ctx, fallbackAdapter, withBackend(opts, opts.FallbackBackend), autoApprove)
			}
		}
		return "", errs.New(errs.KindPermanent, fmt.Sprintf("backend unavailable: %s", adapter.Tag()))
	}

	rlConfig := ratelimit.DefaultConfigs[ratelimit.OperationBackendSpawn]
	var lastErr error
	attempts := rlConfig.MaxRetries + 1
	backoff := rlConfig.InitialBackoff

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", errs.Wrap(errs.KindCancelled, "execution cancelled during retry backoff", ctx.Err())
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * rlConfig.BackoffMultiplier)
			if backoff > rlConfig.MaxBackoff {
				backoff = rlConfig.MaxBackoff
			}
		}

		output, err := e.invoke(ctx, adapter, opts, autoApprove)
		if err == nil {
			e.breakers.Get(adapter.Tag()).OnSuccess()
			return output, nil
		}

		kind := errs.KindOf(err)
		lastErr = err
		if errs.TripsBreaker(kind) {
			e.breakers.Get(adapter.Tag()).OnFailure()
		}

		if kind == errs.KindQuota && opts.FallbackBackend != "" {
			fallbackAdapter, ferr := e.registry.Get(opts.FallbackBackend)
			if ferr == nil && e.breakers.IsAvailable(opts.FallbackBackend) {
				log.Printf("backend %s quota-exhausted, trying fallback %s once", adapter.Tag(), opts.FallbackBackend)
				return e.invokeOnce(ctx, fallbackAdapter, withBackend(opts, opts.FallbackBackend), autoApprove)
			}
		}

		if !errs.Retryable(kind) {
			return "", err
		}
	}

	return "", lastErr
}

func (e *Executor) invokeOnce(ctx context.Context, adapter backend.Adapter, opts Options, autoApprove bool) (string, error) {
	output, err := e.invoke(ctx, adapter, opts, autoApprove)
	if err == nil {
		e.breakers.Get(adapter.Tag()).OnSuccess()
	} else if errs.TripsBreaker(errs.KindOf(err)) {
		e.breakers.Get(adapter.Tag()).OnFailure()
	}
	return output, err
}

func (e *Executor) invoke(ctx context.Context, adapter backend.Adapter, opts Options, autoApprove bool) (string, error) {
	binary, args, err := adapter.BuildArgv(backend.Options{
		Prompt:        opts.Prompt,
		Attachments:   opts.Attachments,
		OutputFormat:  opts.OutputFormat,
		Sandbox:       opts.Sandbox,
		AutonomyLevel: opts.AutonomyLevel.String(),
		AutoApprove:   autoApprove,
		SessionID:     opts.SessionID,
	})
	if err != nil {
		return "", err
	}

	// Spawn admission: bounds how fast fan-outs may burst new provider
	// processes. Waits for a token rather than failing outright.
	if err := ratelimit.Wait(ctx, ratelimit.OperationBackendSpawn); err != nil {
		return "", errs.Wrap(errs.KindCancelled, "cancelled while waiting for a spawn slot", err)
	}

	result, err := e.cmdRunner.Run(ctx, runner.Options{
		Binary:      binary,
		Args:        args,
		ProjectRoot: e.pathValidator.Root(),
		Dir:         e.pathValidator.Root(),
		Timeout:     e.commandTimeout,
		OnProgress:  opts.OnProgress,
	})
	if err != nil {
		return "", err
	}
	return adapter.ParseOutput(result.Stdout), nil
}

func (e *Executor) recordActivity(ctx context.Context, opts Options, success bool, started time.Time, err error) {
	if e.activity == nil {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	_ = e.activity.Record(ctx, store.ActivityEvent{
		Type:         "tool_invocation",
		Name:         opts.Backend,
		Success:      success,
		DurationMs:   time.Since(started).Milliseconds(),
		ErrorMessage: msg,
	})
}

func withBackend(opts Options, tag string) Options {
	opts.Backend = tag
	opts.FallbackBackend = ""
	return opts
}

// TaskDescriptor describes the parallel-dispatch task shape.
type TaskDescriptor struct {
	Workflow string
	Focus    string
}

// SelectParallelBackends returns up to k distinct available backends chosen
// so that each has a distinct SpecializationTag: a fan-out of
// complementary reviewers beats k copies of the same strength.
func (e *Executor) SelectParallelBackends(task TaskDescriptor, k int) []string {
	seenTags := map[string]bool{}
	var selected []string
	tags := e.registry.Tags()
	sort.Strings(tags) // deterministic selection order
	for _, tag := range tags {
		if len(selected) >= k {
			break
		}
		if !e.breakers.IsAvailable(tag) {
			continue
		}
		adapter, err := e.registry.Get(tag)
		if err != nil {
			continue
		}
		special := adapter.Capability().SpecializationTag
		if seenTags[special] {
			continue
		}
		seenTags[special] = true
		selected = append(selected, tag)
	}
	return selected
}

// ParallelResult pairs a backend tag with its outcome.
type ParallelResult struct {
	Backend string
	Output  string
	Err     error
}

// ExecuteParallel runs Execute concurrently against every backend tag in
// backends and returns once all have completed.
func (e *Executor) ExecuteParallel(ctx context.Context, optsTemplate Options, backends []string) []ParallelResult {
	results := make([]ParallelResult, len(backends))
	var wg sync.WaitGroup
	for i, tag := range backends {
		wg.Add(1)
		go func(i int, tag string) {
			defer wg.Done()
			opts := optsTemplate
			opts.Backend = tag
			opts.FallbackBackend = ""
			out, err := e.Execute(ctx, opts)
			results[i] = ParallelResult{Backend: tag, Output: out, Err: err}
		}(i, tag)
	}
	wg.Wait()
	return results
}

// CacheKey hashes (workflow, params, contents) for the 1-hour parallel-
// dispatch result cache.
func CacheKey(workflow string, params map[string]string, contents string) string {
	h := sha256.New()
	h.Write([]byte(workflow))
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte(params[k]))
	}
	h.Write([]byte(contents))
	return hex.EncodeToString(h.Sum(nil))
}

// CacheGet/CachePut expose the executor's 1-hour TTL result cache to the
// Workflow Library.
func (e *Executor) CacheGet(key string) (string, bool) {
	return e.cache.get(key)
}

func (e *Executor) CachePut(key, value string) {
	e.cache.put(key, value)
}

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

type resultCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

func newResultCache(ttl time.Duration) *resultCache {
	return &resultCache{ttl: ttl, entries: map[string]cacheEntry{}}
}

func (c *resultCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return "", false
	}
	return e.value, true
}

func (c *resultCache) put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expiresAt: time.Now().Add(c.ttl)}
}
