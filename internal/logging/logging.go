// Package logging wires the process-wide log configuration (one of the
// three pieces of module-level state alongside the dependency singleton and
// the backend registry) to the namespace logger in pkg/logger.
package logging

import (
	"fmt"
	"sync"

	"github.com/githubnext/gh-aw-core/internal/config"
	"github.com/githubnext/gh-aw-core/pkg/logger"
)

var (
	initOnce sync.Once
	logDir   string
	echo     bool
)

// Init records the log directory and echo setting for subsequent Category
// calls. Must be called once during dependency-container startup before any
// component opens a category logger.
func Init(cfg config.Config) {
	initOnce.Do(func() {
		logDir = cfg.LogDir
		echo = cfg.LogStderr
	})
}

// Category opens (or returns the already-open) rotating logger for one of
// the six categories named in the filesystem layout: workflow, ai-backend,
// permission, git, errors, debug.
func Category(cat logger.Category) *logger.Logger {
	dir := logDir
	if dir == "" {
		dir = "logs"
	}
	l, err := logger.OpenCategory(dir, cat, echo)
	if err != nil {
		// Logging must never be the reason a component fails to start;
		// fall back to a plain namespace logger (stderr only, DEBUG-gated).
		fmt.Printf("logging: falling back to stderr-only logger for %s: %v\n", cat, err)
		return logger.New(string(cat))
	}
	return l
}

// Shutdown closes every open category file. Safe to call multiple times.
func Shutdown() {
	logger.CloseCategories()
}
