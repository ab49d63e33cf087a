// Package sanitize implements prompt sanitization: blocking, redaction, and
// length-capping policies applied to every prompt before it reaches a
// backend.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/githubnext/gh-aw-core/internal/errs"
	"github.com/githubnext/gh-aw-core/pkg/stringutil"
)

// MaxPromptLength is the length cap past which a prompt is truncated.
const MaxPromptLength = 50000

// blockingPatterns are case-insensitive instruction-override / role-injection
// markers. A match always fails the call; a trusted caller may disable this
// policy (Options.DisableBlocking), though a warning is still emitted.
var blockingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions|rules)`),
	regexp.MustCompile(`(?i)you\s+are\s+no\s+longer\s+(bound|constrained)`),
	regexp.MustCompile(`(?i)\[?system\]?\s*:\s*override`),
	regexp.MustCompile(`(?i)new\s+instructions\s*:`),
}

// redactionPattern pairs a destructive/escalation/eval pattern with the
// placeholder kind substituted in its place.
type redactionPattern struct {
	kind string
	re   *regexp.Regexp
}

var redactionPatterns = []redactionPattern{
	{"DESTRUCTIVE_COMMAND", regexp.MustCompile(`(?i)rm\s+-rf\s+/`)},
	{"DESTRUCTIVE_COMMAND", regexp.MustCompile(`(?i)drop\s+table\s+\w+`)},
	{"PRIVILEGE_ESCALATION", regexp.MustCompile(`(?i)sudo\s+su\b`)},
	{"PRIVILEGE_ESCALATION", regexp.MustCompile(`(?i)chmod\s+777\b`)},
	{"CODE_EXECUTION", regexp.MustCompile(`(?i)\beval\s*\(`)},
	{"CODE_EXECUTION", regexp.MustCompile(`(?i)\bexec\s*\(`)},
	{"CODE_EXECUTION", regexp.MustCompile(`(?i)\bsystem\s*\(`)},
}

// suspicionPatterns only ever add a warning; they never block or redact.
var suspicionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)you\s+are\s+now\s+`),
	regexp.MustCompile(`(?i)act\s+as\s+if\s+`),
	regexp.MustCompile(`(?i)pretend\s+(that\s+)?you\s+`),
}

// Options lets a trusted caller selectively disable the blocking and/or
// redaction policies. Warnings are still produced regardless.
type Options struct {
	DisableBlocking  bool
	DisableRedaction bool
}

// Result is a sanitized prompt plus every warning produced along the way.
type Result struct {
	Prompt   string
	Warnings []string
}

// Sanitize applies the three ordered policies to prompt.
func Sanitize(prompt string, opts Options) (*Result, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, errs.New(errs.KindValidation, "prompt is empty or whitespace-only")
	}

	var warnings []string

	if !opts.DisableBlocking {
		for _, re := range blockingPatterns {
			if re.MatchString(prompt) {
				return nil, errs.New(errs.KindSanitization, fmt.Sprintf("prompt blocked: matches instruction-override pattern %q", re.String()))
			}
		}
	} else {
		for _, re := range blockingPatterns {
			if re.MatchString(prompt) {
				warnings = append(warnings, fmt.Sprintf("blocking disabled: prompt matches instruction-override pattern %q", re.String()))
			}
		}
	}

	redacted := prompt
	for _, rp := range redactionPatterns {
		if !rp.re.MatchString(redacted) {
			continue
		}
		if opts.DisableRedaction {
			warnings = append(warnings, fmt.Sprintf("redaction disabled: prompt matches %s pattern", rp.kind))
			continue
		}
		redacted = rp.re.ReplaceAllString(redacted, fmt.Sprintf("[REDACTED_%s]", rp.kind))
		warnings = append(warnings, fmt.Sprintf("redacted %s content", rp.kind))
	}

	for _, re := range suspicionPatterns {
		if re.MatchString(redacted) {
			warnings = append(warnings, fmt.Sprintf("suspicious phrasing detected: matches %q", re.String()))
		}
	}

	if len(redacted) > MaxPromptLength {
		redacted = stringutil.Truncate(redacted, MaxPromptLength)
		warnings = append(warnings, fmt.Sprintf("prompt truncated to %d characters", MaxPromptLength))
	}

	return &Result{Prompt: redacted, Warnings: warnings}, nil
}
