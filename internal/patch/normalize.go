package patch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	fenceRe      = regexp.MustCompile("^```[a-zA-Z]*\\s*$")
	hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,\d+)? \+(\d+)(?:,\d+)? @@(.*)$`)
	looseHunkRe  = regexp.MustCompile(`^@@.*@@(.*)$`)
)

// Normalize rewrites model-written diff text into a form the diff parser accepts:
// code fences are dropped, a file header is added when missing, blank lines inside
// hunks become empty context lines, and hunk line counts are recomputed.
func Normalize(text, defaultPath string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if fenceRe.MatchString(strings.TrimSpace(line)) {
			continue
		}
		lines = append(lines, line)
	}

	if !hasFileHeader(lines) && defaultPath != "" {
		lines = append([]string{"--- a/" + defaultPath, "+++ b/" + defaultPath}, lines...)
	}

	var out []string
	hunks := 0
	for i := 0; i < len(lines); {
		line := lines[i]
		if !strings.HasPrefix(line, "@@") {
			if isFileHeader(lines, i) || strings.HasPrefix(line, "+++ ") || strings.HasPrefix(line, "diff ") || strings.HasPrefix(line, "index ") {
				out = append(out, line)
			}
			i++
			continue
		}

		origStart, newStart, section := parseHunkHeader(line)
		var body []string
		j := i + 1
		for ; j < len(lines); j++ {
			next := lines[j]
			if strings.HasPrefix(next, "@@") || isFileHeader(lines, j) || strings.HasPrefix(next, "diff ") {
				break
			}
			if next == "" || !strings.ContainsAny(next[:1], " +-\\") {
				// Models often drop the leading space on context lines
				next = " " + next
			}
			body = append(body, next)
		}
		// Trailing blank lines are formatting noise from the model, not context
		for len(body) > 0 && strings.TrimSpace(body[len(body)-1]) == "" {
			body = body[:len(body)-1]
		}

		origCount, newCount := 0, 0
		for _, b := range body {
			switch b[0] {
			case '+':
				newCount++
			case '-':
				origCount++
			case '\\':
			default:
				origCount++
				newCount++
			}
		}
		if len(body) > 0 {
			out = append(out, fmt.Sprintf("@@ -%d,%d +%d,%d @@%s", origStart, origCount, newStart, newCount, section))
			out = append(out, body...)
			hunks++
		}
		i = j
	}

	if hunks == 0 {
		return ""
	}
	return strings.Join(out, "\n") + "\n"
}

func parseHunkHeader(line string) (origStart, newStart int, section string) {
	if m := hunkHeaderRe.FindStringSubmatch(line); m != nil {
		origStart, _ = strconv.Atoi(m[1])
		newStart, _ = strconv.Atoi(m[2])
		return origStart, newStart, m[3]
	}
	section = ""
	if m := looseHunkRe.FindStringSubmatch(line); m != nil {
		section = m[1]
	}
	return 1, 1, section
}

// isFileHeader reports whether lines[i] starts a "--- / +++" header pair.
// A lone "--- " line is a removed line beginning with "--".
func isFileHeader(lines []string, i int) bool {
	return strings.HasPrefix(lines[i], "--- ") && i+1 < len(lines) && strings.HasPrefix(lines[i+1], "+++ ")
}

func hasFileHeader(lines []string) bool {
	for i, line := range lines {
		if strings.HasPrefix(line, "@@") {
			return false
		}
		if isFileHeader(lines, i) {
			return true
		}
	}
	return false
}
