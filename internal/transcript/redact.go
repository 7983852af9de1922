package transcript

import "regexp"

// secretPatterns detects common secret shapes in tool output before it is
// persisted to the Transcript Sink (SPEC_FULL.md §3 "tool-result redaction
// before persistence", grounded on the teacher's
// internal/agent/tool_result_guard.go builtinSecretPatterns).
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*['"]?[\w-]{20,}['"]?`),
	regexp.MustCompile(`(?i)bearer\s+[\w\-.]+`),
	regexp.MustCompile(`(?i)(aws|amazon).*?(key|secret|token)\s*[:=]\s*['"]?[\w/+=]{20,}['"]?`),
	regexp.MustCompile(`(?i)(password|passwd|secret|token)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`),
	regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
}

const redactionText = "[REDACTED]"

// Redactor strips secret-shaped substrings from ToolResult content before
// it reaches a Sink.Append call.
type Redactor struct {
	// MaxChars truncates content beyond this length, 0 disables.
	MaxChars int
}

// Redact applies secret-pattern stripping and optional truncation.
func (r Redactor) Redact(content string) string {
	for _, pat := range secretPatterns {
		content = pat.ReplaceAllString(content, redactionText)
	}
	if r.MaxChars > 0 && len(content) > r.MaxChars {
		content = content[:r.MaxChars] + "...[truncated]"
	}
	return content
}
