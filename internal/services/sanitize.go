package services

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const maxSanitizedLen = 500

var sanitizers = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`AccountKey=[^;\s]+`), "AccountKey=[REDACTED]"},
	{regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]+`), "Bearer [REDACTED]"},
	{regexp.MustCompile(`(?i)(x-function-key|api[_-]?key|access[_-]?key|secret[_-]?key|password|token|signature)(["']?\s*[:=]\s*["']?)[^\s"',;&]+`), "${1}${2}[REDACTED]"},
	{regexp.MustCompile(`(?i)\b(?:https?|gs|s3|file)://[^\s"'<>]+`), "[URL]"},
	{regexp.MustCompile(`[A-Za-z]:\\[^\s"']+`), "[FILE_PATH]"},
	{regexp.MustCompile(`(^|[\s"'(=])/[^\s"'():,;]+`), "${1}[FILE_PATH]"},
}

// Sanitize strips what must not leave the service from an error message:
// URLs, file paths, credentials and anything after the first line (stack
// traces). The result is at most 500 characters.
func Sanitize(msg string) string {
	if i := strings.IndexAny(msg, "\r\n"); i >= 0 {
		msg = msg[:i]
	}
	for _, s := range sanitizers {
		msg = s.re.ReplaceAllString(msg, s.repl)
	}
	msg = strings.Join(strings.Fields(msg), " ")
	if utf8.RuneCountInString(msg) > maxSanitizedLen {
		runes := []rune(msg)
		msg = string(runes[:maxSanitizedLen-3]) + "..."
	}
	return msg
}
