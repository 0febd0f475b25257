package diagnostics

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/steveyegge/buildfix/internal/types"
)

// ./internal/foo/bar.go:12:5: undefined: Baz
// internal/foo/bar.go:12: syntax error: unexpected newline
var goLineRe = regexp.MustCompile(`^(.+?\.go):(\d+)(?::(\d+))?:\s+(.+)$`)

// GoCode is the diagnostic code assigned to go build/vet records, which carry none
const GoCode = "go"

// GoParser parses `go build` and `go vet` output.
// Package header lines ("# example.com/pkg") and summary lines are ignored.
type GoParser struct{}

// Name returns the toolchain name
func (p *GoParser) Name() string { return "go" }

// Parse extracts error records from go toolchain output
func (p *GoParser) Parse(output string) []types.ErrorRecord {
	var records []types.ErrorRecord

	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimSpace(ansiRe.ReplaceAllString(raw, ""))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m := goLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		lineNum, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		col := 0
		if m[3] != "" {
			col, _ = strconv.Atoi(m[3])
		}
		records = append(records, types.ErrorRecord{
			FilePath:       normalizePath(m[1]),
			LineNumber:     lineNum,
			Column:         col,
			DiagnosticCode: GoCode,
			Severity:       types.SeverityError,
			Message:        strings.TrimSpace(m[4]),
		})
	}

	return records
}
