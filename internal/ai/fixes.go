package ai

import (
	"fmt"
	"strings"

	"github.com/steveyegge/buildfix/internal/types"
)

// Delimiters around each proposed patch in a fix-generation response
const (
	FixStartMarker = "<<<FIX>>>"
	FixEndMarker   = "<<<END FIX>>>"
)

// MinContextLines is the number of context lines requested around each change
const MinContextLines = 5

// FixSystemPrompt frames every fix-generation request
const FixSystemPrompt = `You are an expert software engineer repairing a broken build.
You propose small, targeted patches as unified diffs. You never rewrite whole files,
never change behavior that is unrelated to the reported errors, and never invent APIs.`

// FixPromptInput carries everything the fix prompt needs for one bug agent
type FixPromptInput struct {
	FilePath string
	Content  string
	Errors   []types.ErrorRecord
	Research string
	MaxFixes int
}

// BuildFixPrompt builds the fix-generation prompt for one file
func BuildFixPrompt(in FixPromptInput) string {
	var errs strings.Builder
	for _, rec := range in.Errors {
		loc := fmt.Sprintf("line %d", rec.LineNumber)
		if rec.Column > 0 {
			loc = fmt.Sprintf("line %d, column %d", rec.LineNumber, rec.Column)
		}
		code := rec.DiagnosticCode
		if code != "" {
			code += ": "
		}
		fmt.Fprintf(&errs, "- %s: %s%s\n", loc, code, rec.Message)
	}

	research := ""
	if strings.TrimSpace(in.Research) != "" {
		research = "\nRESEARCH NOTES:\n" + in.Research + "\n"
	}

	return fmt.Sprintf(`The build fails with these errors in %[1]s:
%[2]s
CURRENT CONTENT OF %[1]s (line numbers are for reference only, they are not part of the file):
%[3]s%[4]s
Propose up to %[5]d alternative patches, most likely first. Each patch must be independent
(each one is applied alone to the original file) and must be wrapped exactly like this:

%[6]s
--- a/%[1]s
+++ b/%[1]s
@@ -<start>,<count> +<start>,<count> @@
 <context line>
-<removed line>
+<added line>
 <context line>
%[7]s

Rules:
- Only modify %[1]s.
- Include at least %[8]d unchanged context lines before and after each change, copied exactly.
- Context and removed lines must match the current file character for character.
- Do not wrap patches in code fences and do not add commentary inside the markers.`,
		in.FilePath, errs.String(), numberLines(in.Content), research,
		in.MaxFixes, FixStartMarker, FixEndMarker, MinContextLines)
}

// ExtractFixes returns up to max patch blocks delimited by the fix markers.
// Blocks that are empty after trimming are skipped; an unterminated final block is dropped.
func ExtractFixes(response string, max int) []string {
	var fixes []string
	rest := response
	for max <= 0 || len(fixes) < max {
		start := strings.Index(rest, FixStartMarker)
		if start < 0 {
			break
		}
		rest = rest[start+len(FixStartMarker):]
		end := strings.Index(rest, FixEndMarker)
		if end < 0 {
			break
		}
		block := strings.Trim(rest[:end], "\r\n")
		rest = rest[end+len(FixEndMarker):]
		if strings.TrimSpace(block) == "" {
			continue
		}
		fixes = append(fixes, block+"\n")
	}
	return fixes
}
