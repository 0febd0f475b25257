package diagnostics

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/steveyegge/buildfix/internal/types"
)

var (
	ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

	// ./src/pages/foo.tsx, src/lib/a.ts, ../shared/b.js
	fileHeaderRe = regexp.MustCompile(`^(?:\.{1,2}/)?[\w@\[\]().\-]+(?:/[\w@\[\]().\-]+)*\.[A-Za-z][A-Za-z0-9]*$`)

	// 12:5 error TS2304: Cannot find name 'Bar'.
	// 12:5  error  'x' is defined but never used  no-unused-vars
	// 12:5  Error: 'Bar' is not defined.  no-undef
	detailRe = regexp.MustCompile(`^(\d+):(\d+)\s+((?i:error|warning))\s*:?\s+(.+)$`)

	// TS2304: Cannot find name 'Bar'.
	codedMessageRe = regexp.MustCompile(`^(TS\d+):\s*(.+)$`)

	// Cannot find name 'Bar'. TS2304
	trailingCodeRe = regexp.MustCompile(`^(.+?)\s+\(?(TS\d+)\)?$`)

	// trailing rule id such as no-unused-vars or @typescript-eslint/no-explicit-any;
	// eslint pads the rule column with at least two spaces
	paddedRuleIDRe = regexp.MustCompile(`^(.+?)\s{2,}(@?[a-z][\w-]*(?:/[\w-]+)*)$`)
	ruleIDRe       = regexp.MustCompile(`^(.+?)\s+(@?[a-z][\w-]*(?:/[\w-]+)*)$`)

	// src/auth.ts(42,5): error TS2345: Argument of type...
	tscParenRe = regexp.MustCompile(`^(.+)\((\d+),(\d+)\):\s+((?i:error|warning))\s+(TS\d+):\s+(.+)$`)

	// src/auth.ts:42:5 - error TS2345: Argument of type...
	tscPrettyRe = regexp.MustCompile(`^(.+?):(\d+):(\d+)\s+-\s+((?i:error|warning))\s+(TS\d+):\s+(.+)$`)
)

// TypeScriptParser parses tsc and eslint-style output.
//
// Two layouts are understood. The grouped layout names a file on its own line and
// lists "<line>:<col> <severity> ..." entries under it; the code may lead the
// message (tsc) or trail it (eslint rule ids, "... TS2304"). The single-line
// layout carries the file on every diagnostic (tsc default and --pretty output).
// Severity is matched without regard to case, as Next.js prints "Error:".
// Only error-severity diagnostics become records.
type TypeScriptParser struct{}

// Name returns the toolchain name
func (p *TypeScriptParser) Name() string { return "typescript" }

// Parse extracts error records from tsc/eslint output
func (p *TypeScriptParser) Parse(output string) []types.ErrorRecord {
	var records []types.ErrorRecord
	currentFile := ""

	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimSpace(ansiRe.ReplaceAllString(raw, ""))
		if line == "" {
			continue
		}

		if m := tscParenRe.FindStringSubmatch(line); m != nil {
			if rec, ok := newRecord(m[1], m[2], m[3], m[4], m[5], m[6]); ok {
				records = append(records, rec)
			}
			continue
		}
		if m := tscPrettyRe.FindStringSubmatch(line); m != nil {
			if rec, ok := newRecord(m[1], m[2], m[3], m[4], m[5], m[6]); ok {
				records = append(records, rec)
			}
			continue
		}

		if fileHeaderRe.MatchString(line) {
			currentFile = normalizePath(line)
			continue
		}

		m := detailRe.FindStringSubmatch(line)
		if m == nil || currentFile == "" {
			continue
		}

		code, message := splitCodeAndMessage(m[4])
		if rec, ok := newRecord(currentFile, m[1], m[2], m[3], code, message); ok {
			records = append(records, rec)
		}
	}

	return records
}

// splitCodeAndMessage separates the diagnostic code from the message text.
// Handles "TS2304: message", "message TS2304" and "message  rule-id".
func splitCodeAndMessage(rest string) (code, message string) {
	rest = strings.TrimSpace(rest)
	if m := codedMessageRe.FindStringSubmatch(rest); m != nil {
		return m[1], strings.TrimSpace(m[2])
	}
	if m := trailingCodeRe.FindStringSubmatch(rest); m != nil {
		return m[2], strings.TrimSpace(m[1])
	}
	if m := paddedRuleIDRe.FindStringSubmatch(rest); m != nil {
		return m[2], strings.TrimSpace(m[1])
	}
	if m := ruleIDRe.FindStringSubmatch(rest); m != nil && strings.ContainsAny(m[2], "-/") {
		return m[2], strings.TrimSpace(m[1])
	}
	return "", rest
}

func newRecord(file, line, col, severity, code, message string) (types.ErrorRecord, bool) {
	if types.Severity(strings.ToLower(severity)) != types.SeverityError {
		return types.ErrorRecord{}, false
	}
	lineNum, err := strconv.Atoi(line)
	if err != nil {
		return types.ErrorRecord{}, false
	}
	colNum, _ := strconv.Atoi(col)
	return types.ErrorRecord{
		FilePath:       normalizePath(file),
		LineNumber:     lineNum,
		Column:         colNum,
		DiagnosticCode: code,
		Severity:       types.SeverityError,
		Message:        strings.TrimSpace(message),
	}, true
}
