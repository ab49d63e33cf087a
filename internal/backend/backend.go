// Package backend implements the backend registry: one adapter per
// provider, declaring a capability record and the argv/output conventions
// its binary expects. Registration happens once at startup; lookups after
// that are lock-free.
package backend

import (
	"fmt"
	"sync"

	"github.com/githubnext/gh-aw-core/internal/errs"
)

// FileMode is the closed set of file-handling conventions a backend supports.
type FileMode string

const (
	FileModeCLIFlag       FileMode = "cli-flag"
	FileModeEmbedInPrompt FileMode = "embed-in-prompt"
	FileModeNone          FileMode = "none"
)

// Capability is the backend descriptor's capability record.
type Capability struct {
	SupportsFiles       bool
	SupportsStreaming   bool
	SupportsSandbox     bool
	SupportsJSONOutput  bool
	FileMode            FileMode
	SpecializationTag   string // used by SelectParallelBackends for complementary pairing
}

// Options is everything an adapter needs to build an argv invocation.
type Options struct {
	Prompt          string
	Attachments     []string
	OutputFormat    string // "text" | "json"
	Sandbox         bool
	AutonomyLevel   string
	AutoApprove     bool
	SessionID       string
}

// Operation is the closed set of capability queries a caller may ask an
// adapter about.
type Operation string

const (
	OpSessionRestore Operation = "session_restore"
	OpSandboxing     Operation = "sandboxing"
)

// Adapter is implemented once per provider.
type Adapter interface {
	Tag() string
	Binary() string
	Capability() Capability
	BuildArgv(opts Options) (binary string, args []string, err error)
	ParseOutput(rawStdout string) string
	SupportsOperation(op Operation) bool
}

// Registry is a lock-free-lookup map from backend tag to Adapter, populated
// once at startup.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds an empty registry. Registration happens once, before
// any lookup; the map is never mutated after Freeze-equivalent startup
// completes, so Get needs no lock.
func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

func (r *Registry) Register(a Adapter) {
	r.adapters[a.Tag()] = a
}

func (r *Registry) Get(tag string) (Adapter, error) {
	a, ok := r.adapters[tag]
	if !ok {
		return nil, errs.New(errs.KindValidation, fmt.Sprintf("unknown backend: %s", tag))
	}
	return a, nil
}

func (r *Registry) Has(tag string) bool {
	_, ok := r.adapters[tag]
	return ok
}

// Tags returns every registered backend tag.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.adapters))
	for t := range r.adapters {
		tags = append(tags, t)
	}
	return tags
}

var (
	globalOnce     sync.Once
	globalRegistry *Registry
)

// Global returns the process-wide registry, constructing and populating it
// with the three built-in adapters on first call.
func Global() *Registry {
	globalOnce.Do(func() {
		globalRegistry = NewRegistry()
		globalRegistry.Register(NewClaudeAdapter())
		globalRegistry.Register(NewCodexAdapter())
		globalRegistry.Register(NewCopilotAdapter())
	})
	return globalRegistry
}
