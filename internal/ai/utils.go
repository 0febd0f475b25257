package ai

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// truncate truncates a string to maxLen bytes, appending "..." when shortened
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return safeTruncateString(s, maxLen) + "..."
}

// truncateString keeps the beginning and end of s within roughly maxLen bytes.
// Build logs put the interesting part at the end, so the tail gets the larger share.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	headLen := maxLen / 3
	tailLen := maxLen - headLen
	if headLen < 1 || tailLen < 1 {
		return safeTruncateString(s, maxLen)
	}

	head := safeTruncateString(s, headLen)
	tail := s[len(s)-tailLen:]
	for len(tail) > 0 && !utf8.RuneStart(tail[0]) {
		tail = tail[1:]
	}
	omitted := len(s) - len(head) - len(tail)
	return fmt.Sprintf("%s\n[... truncated %d bytes ...]\n%s", head, omitted, tail)
}

// safeTruncateString truncates a string to maxLen bytes while preserving UTF-8 encoding
// If truncation would split a multi-byte UTF-8 sequence, it backs off to a valid boundary
func safeTruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 0 {
		return ""
	}

	truncated := s[:maxLen]
	// Only need to check up to 4 bytes back (max UTF-8 sequence length)
	for i := 0; i < 4 && len(truncated) > 0; i++ {
		if utf8.ValidString(truncated) {
			return truncated
		}
		truncated = truncated[:len(truncated)-1]
	}
	return ""
}

// numberLines prefixes each line with its 1-based line number
func numberLines(content string) string {
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "%4d| %s\n", i+1, line)
	}
	return b.String()
}
