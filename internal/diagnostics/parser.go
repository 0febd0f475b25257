// Package diagnostics converts raw build-tool output into structured error records.
//
// Parsers are selected by project toolchain so the resolution search never depends
// on a particular compiler's output format. Every parser is deterministic: identical
// input yields an identical, order-preserving record list.
package diagnostics

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/steveyegge/buildfix/internal/types"
)

// ErrUnknownToolchain is returned when no parser is registered for a toolchain
var ErrUnknownToolchain = errors.New("unknown toolchain")

// Parser converts build output into error records.
type Parser interface {
	// Name returns the toolchain name the parser is registered under
	Name() string
	// Parse extracts error records from raw build output. Unrecognized lines are ignored.
	Parse(output string) []types.ErrorRecord
}

// DefaultToolchain is used when a project does not configure one
const DefaultToolchain = "typescript"

var registry = map[string]func() Parser{
	"typescript": func() Parser { return &TypeScriptParser{} },
	"tsc":        func() Parser { return &TypeScriptParser{} },
	"go":         func() Parser { return &GoParser{} },
}

// ForToolchain returns the parser registered for the given toolchain.
// An empty name selects DefaultToolchain.
func ForToolchain(name string) (Parser, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = DefaultToolchain
	}
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownToolchain, name, strings.Join(Toolchains(), ", "))
	}
	return ctor(), nil
}

// Toolchains lists the registered toolchain names in sorted order
func Toolchains() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CountForFile returns how many records refer to filePath
func CountForFile(records []types.ErrorRecord, filePath string) int {
	n := 0
	for _, rec := range records {
		if rec.FilePath == filePath {
			n++
		}
	}
	return n
}

// FilterFile returns the records that refer to filePath, preserving order
func FilterFile(records []types.ErrorRecord, filePath string) []types.ErrorRecord {
	var out []types.ErrorRecord
	for _, rec := range records {
		if rec.FilePath == filePath {
			out = append(out, rec)
		}
	}
	return out
}

// normalizePath strips the "./" prefix and converts separators so records for the
// same file always compare equal.
func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, "\\", "/")
	for strings.HasPrefix(p, "./") {
		p = strings.TrimPrefix(p, "./")
	}
	return p
}
