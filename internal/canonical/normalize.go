// Package canonical normalizes translation content and produces the
// deterministic digest used for change detection, deduplication, and
// conditional retrieval (ETag).
package canonical

import "strings"

// Normalize collapses all line-ending styles to LF. CRLF is replaced
// before lone CR so a CRLF pair never becomes two newlines.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}
