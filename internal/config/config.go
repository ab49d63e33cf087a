// Package config loads process-wide configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the flat set of knobs that govern one server process.
type Config struct {
	// ProjectRoot bounds every path the Path Validator and Command Runner accept.
	ProjectRoot string
	// DataDir holds the four SQLite stores (audit, activity, token-metrics,
	// and red-metrics .sqlite files).
	DataDir string
	// LogDir holds rotating per-category log files.
	LogDir string
	// LogLevel is read from GH_CORE_LOG_LEVEL. No logger consults it: which
	// namespaces are enabled depends on DEBUG alone.
	LogLevel string
	// LogStderr echoes log lines to stderr in addition to the category file.
	LogStderr bool
	// AllowAutoApproveInProduction permits the auto-approve knob to reach a backend.
	AllowAutoApproveInProduction bool
	// Production is true outside of local/dev runs; gates AllowAutoApproveInProduction.
	Production bool

	// BreakerThreshold is the consecutive-failure count that opens a circuit.
	BreakerThreshold int
	// BreakerResetTimeout is how long a breaker stays Open before probing HalfOpen.
	BreakerResetTimeout time.Duration

	// CommandTimeout is the default Command Runner timeout.
	CommandTimeout time.Duration

	// WorkflowCacheTTL bounds how long a fan-out synthesis result is cached.
	WorkflowCacheTTL time.Duration
}

// Load reads Config from the environment, falling back to the default for
// any variable that is unset or unparseable.
func Load() Config {
	cfg := Config{
		ProjectRoot:                  env("GH_CORE_PROJECT_ROOT", mustGetwd()),
		DataDir:                      env("GH_CORE_DATA_DIR", "data"),
		LogDir:                       env("GH_CORE_LOG_DIR", "logs"),
		LogLevel:                     env("GH_CORE_LOG_LEVEL", "info"),
		LogStderr:                    envBool("GH_CORE_LOG_STDERR", false),
		AllowAutoApproveInProduction: envBool("GH_CORE_ALLOW_AUTO_APPROVE", false),
		Production:                   envBool("GH_CORE_PRODUCTION", false),
		BreakerThreshold:             envInt("GH_CORE_BREAKER_THRESHOLD", 3),
		BreakerResetTimeout:          envDuration("GH_CORE_BREAKER_RESET_TIMEOUT", 5*time.Minute),
		CommandTimeout:               envDuration("GH_CORE_COMMAND_TIMEOUT", 10*time.Minute),
		WorkflowCacheTTL:             envDuration("GH_CORE_WORKFLOW_CACHE_TTL", time.Hour),
	}
	return cfg
}

func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

func env(key, def string) string {
	if v := os.Getenv(key); strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
