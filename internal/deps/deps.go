// Package deps implements the dependencies/lifecycle container: a process
// singleton owning every SQL store and the circuit breaker registry, with
// idempotent init and safe-to-call-twice close.
package deps

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/githubnext/gh-aw-core/internal/aiexec"
	"github.com/githubnext/gh-aw-core/internal/audit"
	"github.com/githubnext/gh-aw-core/internal/backend"
	"github.com/githubnext/gh-aw-core/internal/breaker"
	"github.com/githubnext/gh-aw-core/internal/config"
	"github.com/githubnext/gh-aw-core/internal/gitops"
	"github.com/githubnext/gh-aw-core/internal/logging"
	"github.com/githubnext/gh-aw-core/internal/pathvalidate"
	"github.com/githubnext/gh-aw-core/internal/permission"
	"github.com/githubnext/gh-aw-core/internal/runner"
	"github.com/githubnext/gh-aw-core/internal/store"
	"github.com/githubnext/gh-aw-core/internal/workflows"
	"github.com/githubnext/gh-aw-core/pkg/logger"
)

// Container is the process-singleton bundle of every shared dependency.
type Container struct {
	Config      config.Config
	Audit       *audit.Store
	AuditWriter *audit.Writer
	Activity    *store.ActivityStore
	TokenMetrics *store.TokenMetricsStore
	BreakerStore *store.BreakerStateStore
	Breakers    *breaker.Registry
	Permissions *permission.Manager
	PathValidator *pathvalidate.Validator
	Runner      *runner.Runner
	Backends    *backend.Registry
	AI          *aiexec.Executor
	Git         *gitops.Reader
	Workflows   *workflows.Library
}

var (
	mu       sync.Mutex
	current  *Container
	notInit  = fmt.Errorf("deps: container not initialized; call Init first")
)

// Init constructs the singleton Container. Re-Init after Close is supported
// and yields fresh instances.
func Init(ctx context.Context, cfg config.Config) (*Container, error) {
	mu.Lock()
	defer mu.Unlock()
	if current != nil {
		return current, nil
	}

	logging.Init(cfg)

	auditStore, err := audit.Open(filepath.Join(cfg.DataDir, "audit.sqlite"))
	if err != nil {
		return nil, fmt.Errorf("deps: open audit store: %w", err)
	}
	activityStore, err := store.OpenActivityStore(filepath.Join(cfg.DataDir, "activity.sqlite"))
	if err != nil {
		return nil, fmt.Errorf("deps: open activity store: %w", err)
	}
	tokenMetricsStore, err := store.OpenTokenMetricsStore(filepath.Join(cfg.DataDir, "token-metrics.sqlite"))
	if err != nil {
		return nil, fmt.Errorf("deps: open token metrics store: %w", err)
	}
	breakerStore, err := store.OpenBreakerStateStore(filepath.Join(cfg.DataDir, "red-metrics.sqlite"))
	if err != nil {
		return nil, fmt.Errorf("deps: open breaker state store: %w", err)
	}

	breakers := breaker.NewRegistry(breakerStore, cfg.BreakerThreshold, cfg.BreakerResetTimeout)
	if err := breakers.Load(ctx); err != nil {
		return nil, fmt.Errorf("deps: seed breaker registry: %w", err)
	}

	auditWriter := audit.NewWriter(auditStore)
	permissions := permission.NewManager(auditWriter)
	pathValidator := pathvalidate.New(cfg.ProjectRoot)

	whitelist := runner.NewWhitelist([]string{"claude", "codex", "copilot"})
	cmdRunner := runner.New(whitelist)

	backends := backend.Global()

	aiExecutor := aiexec.New(backends, breakers, permissions, pathValidator, cmdRunner, tokenMetricsStore, activityStore, aiexec.Config{
		Production:             cfg.Production,
		AllowAutoApproveInProd: cfg.AllowAutoApproveInProduction,
		CommandTimeout:         cfg.CommandTimeout,
		CacheTTL:               cfg.WorkflowCacheTTL,
	})

	gitReader := gitops.NewReader(cmdRunner, cfg.ProjectRoot)
	workflowLibrary := workflows.NewLibrary(aiExecutor, permissions, gitReader)

	current = &Container{
		Config:        cfg,
		Audit:         auditStore,
		AuditWriter:   auditWriter,
		Activity:      activityStore,
		TokenMetrics:  tokenMetricsStore,
		BreakerStore:  breakerStore,
		Breakers:      breakers,
		Permissions:   permissions,
		PathValidator: pathValidator,
		Runner:        cmdRunner,
		Backends:      backends,
		AI:            aiExecutor,
		Git:           gitReader,
		Workflows:     workflowLibrary,
	}
	return current, nil
}

// Get returns the initialized Container, or an error if Init hasn't run.
func Get() (*Container, error) {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		return nil, notInit
	}
	return current, nil
}

// Close persists final breaker state, closes every store, and releases the
// singleton. Errors are logged and swallowed so repeated Close calls are
// always safe.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		return
	}
	log := logging.Category(logger.CategoryDebug)

	current.Breakers.Shutdown()
	current.AuditWriter.Close()

	if err := current.Audit.Close(); err != nil {
		log.Printf("error closing audit store: %v", err)
	}
	if err := current.Activity.Close(); err != nil {
		log.Printf("error closing activity store: %v", err)
	}
	if err := current.TokenMetrics.Close(); err != nil {
		log.Printf("error closing token metrics store: %v", err)
	}
	if err := current.BreakerStore.Close(); err != nil {
		log.Printf("error closing breaker state store: %v", err)
	}

	logging.Shutdown()
	current = nil
}
