// Package ai wraps the language-model oracles used by the resolver: a
// retrying Anthropic caller, schema-validated completions, self-consistency
// sampling, the patch critic, missing-package assessment and fix prompts.
package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// Matches: ```json\n{...}\n```, ```{...}```, ``` json{...}```, etc.
	codeFenceStartRegex = regexp.MustCompile(`(?s)^` + "`" + `{3}(?:json|javascript|js)?\s*\n?([\s\S]*?)\n?` + "`" + `{3}\s*$`)
	codeFenceAnyRegex   = regexp.MustCompile(`(?s)` + "`" + `{3}(?:json|javascript|js)?\s*\n?([\s\S]*?)\n?` + "`" + `{3}`)

	trailingCommaRegex     = regexp.MustCompile(`,(\s*[}\]])`)
	unquotedKeyRegex       = regexp.MustCompile(`([{,]\s*)([a-zA-Z_$][a-zA-Z0-9_$]*)\s*:`)
	singleLineCommentRegex = regexp.MustCompile(`(?m)^\s*//.*$`)
	multiLineCommentRegex  = regexp.MustCompile(`(?s)/\*.*?\*/`)

	// Greedy to capture nested structures
	objectRegex = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	arrayRegex  = regexp.MustCompile(`(?s)\[[\s\S]*\]`)
)

// ErrEmptyResponse is returned by DecodeJSON for blank model output
var ErrEmptyResponse = errors.New("empty response")

// maxResponseBytes bounds the text DecodeJSON will look at
const maxResponseBytes = 1 << 20

// recoveries are tried in order until one yields text that unmarshals
var recoveries = []func(string) string{
	strings.TrimSpace,
	removeCodeFences,
	func(s string) string { return cleanupJSON(removeCodeFences(s)) },
	func(s string) string { return extractJSON(cleanupJSON(removeCodeFences(s))) },
}

// DecodeJSON unmarshals a model response into T. Responses wrapped in code
// fences, surrounded by prose, or carrying trailing commas and comments are
// repaired before giving up.
func DecodeJSON[T any](text string) (T, error) {
	var zero T
	if len(text) > maxResponseBytes {
		return zero, fmt.Errorf("response exceeds %d bytes", maxResponseBytes)
	}
	if strings.TrimSpace(text) == "" {
		return zero, ErrEmptyResponse
	}

	var firstErr error
	tried := make(map[string]bool, len(recoveries))
	for _, repair := range recoveries {
		candidate := repair(text)
		if candidate == "" || tried[candidate] {
			continue
		}
		tried[candidate] = true

		var out T
		err := json.Unmarshal([]byte(candidate), &out)
		if err == nil {
			return out, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return zero, fmt.Errorf("no usable JSON in response: %w", firstErr)
}

// removeCodeFences strips markdown code fences from text
func removeCodeFences(text string) string {
	text = strings.TrimSpace(text)
	cleaned := codeFenceStartRegex.ReplaceAllString(text, "$1")
	if cleaned == text {
		if m := codeFenceAnyRegex.FindStringSubmatch(text); m != nil {
			cleaned = m[1]
		}
	}
	if len(cleaned) >= 2 && cleaned[0] == '`' && cleaned[len(cleaned)-1] == '`' {
		cleaned = cleaned[1 : len(cleaned)-1]
	}
	return strings.TrimSpace(cleaned)
}

// cleanupJSON drops trailing commas and comments and quotes bare keys.
// Single quotes are left alone since apostrophes are common inside strings.
func cleanupJSON(text string) string {
	cleaned := trailingCommaRegex.ReplaceAllString(text, "$1")
	cleaned = unquotedKeyRegex.ReplaceAllString(cleaned, `$1"$2":`)
	cleaned = singleLineCommentRegex.ReplaceAllString(cleaned, "")
	cleaned = multiLineCommentRegex.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

// extractJSON returns the outermost object or array in mixed content. The
// first bracket seen decides which, so an object inside an array is not
// pulled out on its own.
func extractJSON(text string) string {
	obj := strings.IndexByte(text, '{')
	arr := strings.IndexByte(text, '[')
	if arr >= 0 && (obj < 0 || arr < obj) {
		return arrayRegex.FindString(text)
	}
	return objectRegex.FindString(text)
}
