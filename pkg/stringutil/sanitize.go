package stringutil

import (
	"regexp"

	"github.com/githubnext/gh-aw-core/pkg/logger"
)

var sanitizeLog = logger.New("stringutil:sanitize")

// Regex patterns for detecting potential secret key names
var (
	// Match uppercase snake_case identifiers that look like secret names (e.g., ANTHROPIC_API_KEY, GITHUB_TOKEN)
	// Excludes common non-sensitive identifiers this core itself emits.
	secretNamePattern = regexp.MustCompile(`\b([A-Z][A-Z0-9]*_[A-Z0-9_]+)\b`)

	// Match PascalCase identifiers ending with security-related suffixes (e.g., GitHubToken, ApiKey, DeploySecret)
	pascalCaseSecretPattern = regexp.MustCompile(`\b([A-Z][a-z0-9]*(?:[A-Z][a-z0-9]*)*(?:Token|Key|Secret|Password|Credential|Auth))\b`)

	// Common non-sensitive identifiers to exclude from redaction: this core's own
	// env vars and CLI flag names, which provider binaries often echo back in
	// usage/error output on stderr and which carry no secret value of their own.
	commonCoreKeywords = map[string]bool{
		"PROJECT_ROOT":   true,
		"WORKFLOW_ID":    true,
		"WORKFLOW_NAME":  true,
		"AUTONOMY_LEVEL": true,
		"AUTO_APPROVE":   true,
		"FULL_AUTO":      true,
		"READ_ONLY":      true,
		"EXIT_CODE":      true,
		"OUTPUT_FORMAT":  true,
		"PATH":           true,
		"HOME":           true,
		"SHELL":          true,
	}
)

// SanitizeErrorMessage redacts provider credential names (env var style secrets
// like ANTHROPIC_API_KEY or PascalCase identifiers like GitHubToken) from a
// subprocess's stderr before it is embedded in a classified error or an audit
// row. Provider CLIs sometimes echo their own misconfigured environment back
// in a usage or auth-failure message; this keeps that name out of logs and
// the audit store instead of the raw secret value.
func SanitizeErrorMessage(message string) string {
	if message == "" {
		return message
	}

	sanitizeLog.Printf("Sanitizing error message: length=%d", len(message))

	// Redact uppercase snake_case patterns (e.g., MY_SECRET_KEY, API_TOKEN)
	sanitized := secretNamePattern.ReplaceAllStringFunc(message, func(match string) string {
		// Don't redact this core's own non-secret identifiers
		if commonCoreKeywords[match] {
			return match
		}
		sanitizeLog.Printf("Redacted snake_case secret pattern: %s", match)
		return "[REDACTED]"
	})

	// Redact PascalCase patterns ending with security suffixes (e.g., GitHubToken, ApiKey)
	sanitized = pascalCaseSecretPattern.ReplaceAllString(sanitized, "[REDACTED]")

	if sanitized != message {
		sanitizeLog.Print("Error message sanitization applied redactions")
	}

	return sanitized
}
