// Package runner spawns whitelisted external processes without a shell,
// streaming their output and enforcing a timeout. Stdout accumulates into
// the returned result while each line is optionally forwarded to a progress
// callback.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/githubnext/gh-aw-core/internal/errs"
	"github.com/githubnext/gh-aw-core/pkg/logger"
	"github.com/githubnext/gh-aw-core/pkg/sliceutil"
	"github.com/githubnext/gh-aw-core/pkg/stringutil"
)

var log = logger.New("runner:command")

// DefaultTimeout is the default enforced ceiling on a spawned process.
const DefaultTimeout = 10 * time.Minute

// dangerousArgSubstrings are rejected in every non-provider-binary argument.
// Pipe and redirection characters are deliberately absent: no shell ever
// interprets this argv, so they are harmless data.
var dangerousArgSubstrings = []string{";", "&", "`", ".."}

// Whitelist is the fixed set of binaries this process may ever exec.
type Whitelist struct {
	mu       sync.RWMutex
	names    map[string]bool
	provider map[string]bool // subset of names exempt from the dangerous-substring check
}

// NewWhitelist builds a Whitelist from the provider binaries plus the fixed
// ecosystem tools: git, npm, and which.
func NewWhitelist(providerBinaries []string) *Whitelist {
	w := &Whitelist{names: map[string]bool{}, provider: map[string]bool{}}
	for _, p := range providerBinaries {
		w.names[p] = true
		w.provider[p] = true
	}
	for _, fixed := range []string{"git", "npm", "which"} {
		w.names[fixed] = true
	}
	return w
}

func (w *Whitelist) allowed(binary string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.names[binary]
}

func (w *Whitelist) isProvider(binary string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.provider[binary]
}

// Options configures a single Run call.
type Options struct {
	// Binary is the whitelisted executable name (resolved via PATH).
	Binary string
	// Args are passed verbatim to the binary; not interpreted by any shell.
	Args []string
	// Dir is the working directory; must resolve inside ProjectRoot.
	Dir string
	// ProjectRoot bounds Dir.
	ProjectRoot string
	// Timeout overrides DefaultTimeout when non-zero.
	Timeout time.Duration
	// OnProgress, if set, receives each chunk of stdout as it streams in.
	OnProgress func(chunk string)
}

// Result is the outcome of a successful (exit-code-0) Run.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner spawns whitelisted binaries on behalf of backend adapters and
// git-reading workflow stages.
type Runner struct {
	whitelist *Whitelist
}

func New(whitelist *Whitelist) *Runner {
	return &Runner{whitelist: whitelist}
}

// Run spawns Options.Binary with Options.Args, with no shell involved.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	if !r.whitelist.allowed(opts.Binary) {
		return nil, errs.New(errs.KindValidation, fmt.Sprintf("binary not allowed: %s", opts.Binary))
	}

	if !r.whitelist.isProvider(opts.Binary) {
		for _, a := range opts.Args {
			if err := checkDangerousArg(a); err != nil {
				return nil, err
			}
		}
	}

	dir, err := resolveDir(opts.ProjectRoot, opts.Dir)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Printf("spawning binary=%s args=%v dir=%s timeout=%s", opts.Binary, opts.Args, dir, timeout)

	cmd := exec.CommandContext(runCtx, opts.Binary, opts.Args...)
	cmd.Dir = dir

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "failed to open stdout pipe", err)
	}
	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	// stdin is closed immediately after spawn: no provider in this system
	// expects interactive stdin.
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		return nil, errs.Wrap(errs.KindTransient, "failed to start process", err)
	}

	var stdoutBuf bytes.Buffer
	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		scanner := bufio.NewScanner(stdoutPipe)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			stdoutBuf.WriteString(line)
			stdoutBuf.WriteByte('\n')
			if opts.OnProgress != nil {
				opts.OnProgress(line)
			}
		}
	}()

	<-scanDone
	waitErr := cmd.Wait()

	if runCtx.Err() == context.DeadlineExceeded {
		return nil, errs.New(errs.KindTransient, fmt.Sprintf("%s timed out after %s", opts.Binary, timeout))
	}

	if waitErr != nil {
		exitCode := -1
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		stderr := stringutil.SanitizeErrorMessage(stderrBuf.String())
		return nil, errs.Wrap(classifyExitFailure(waitErr), fmt.Sprintf("%s exited %d: %s", opts.Binary, exitCode, stderr), waitErr)
	}

	return &Result{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		ExitCode: 0,
	}, nil
}

func classifyExitFailure(err error) errs.Kind {
	if _, ok := err.(*exec.ExitError); ok {
		return errs.KindPermanent
	}
	return errs.KindTransient
}

func checkDangerousArg(arg string) error {
	if !sliceutil.ContainsAny(arg, dangerousArgSubstrings...) {
		return nil
	}
	for _, bad := range dangerousArgSubstrings {
		if strings.Contains(arg, bad) {
			return errs.New(errs.KindValidation, fmt.Sprintf("argument rejected, contains %q: %s", bad, arg))
		}
	}
	return nil
}

func resolveDir(projectRoot, dir string) (string, error) {
	if dir == "" {
		dir = projectRoot
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", errs.Wrap(errs.KindValidation, "cannot resolve working directory", err)
	}
	rootAbs, err := filepath.Abs(projectRoot)
	if err != nil {
		return "", errs.Wrap(errs.KindValidation, "cannot resolve project root", err)
	}
	rel, err := filepath.Rel(rootAbs, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", errs.New(errs.KindValidation, fmt.Sprintf("working directory %s escapes project root %s", dir, projectRoot))
	}
	return abs, nil
}
