// Package util holds small helpers shared across packages.
package util

import (
	"regexp"
	"strings"
)

type redaction struct {
	re   *regexp.Regexp
	repl string
}

var redactions = []redaction{
	// Authorization headers.
	{re: regexp.MustCompile(`(?i)\bBearer\s+[^\s"']+`), repl: "Bearer <redacted>"},
	// GEMINI_API_KEY=..., api-key: ..., x-goog-api-key: ...
	{re: regexp.MustCompile(`(?i)\b(api[_-]?key|gemini[_-]?api[_-]?key|x-goog-api-key)\b\s*[:=]\s*[^\s"'&]+`), repl: "<redacted_kv>"},
	// ?key=AIza... on Google API URLs.
	{re: regexp.MustCompile(`([?&])key=[^\s"'&]+`), repl: "${1}key=<redacted>"},
}

// RedactSecrets strips credentials from a message before it is logged or
// returned to an HTTP client. Surrounding whitespace is trimmed.
func RedactSecrets(s string) string {
	for _, r := range redactions {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return strings.TrimSpace(s)
}
