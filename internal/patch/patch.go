// Package patch parses compact unified diffs produced by the fix generator and
// applies them to files in a working copy.
package patch

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

var (
	// ErrEmptyPatch is returned when a patch contains no file diffs or no hunks
	ErrEmptyPatch = errors.New("patch contains no hunks")

	// ErrHunkMismatch is returned when a hunk's context cannot be located in the file
	ErrHunkMismatch = errors.New("hunk does not match file content")

	// ErrAmbiguousHunk is returned when a hunk's context occurs more than once and
	// the hunk header does not single one occurrence out
	ErrAmbiguousHunk = errors.New("hunk context matches more than one location")

	// ErrWrongFile is returned when a patch does not touch the expected file
	ErrWrongFile = errors.New("patch does not target file")
)

// searchWindow bounds how far from the stated line a hunk is searched for.
// Model-written hunk headers are frequently off by a few lines.
const searchWindow = 200

// Parse parses patch text into file diffs.
// Patches without file headers are attributed to defaultPath, code fences are
// stripped, and hunk line counts are recomputed from the hunk bodies.
func Parse(text, defaultPath string) ([]*diff.FileDiff, error) {
	normalized := Normalize(text, defaultPath)
	if strings.TrimSpace(normalized) == "" {
		return nil, ErrEmptyPatch
	}

	fileDiffs, err := diff.ParseMultiFileDiff([]byte(normalized))
	if err != nil {
		return nil, fmt.Errorf("invalid diff format: %w", err)
	}

	var withHunks []*diff.FileDiff
	for _, fd := range fileDiffs {
		if len(fd.Hunks) > 0 {
			withHunks = append(withHunks, fd)
		}
	}
	if len(withHunks) == 0 {
		return nil, ErrEmptyPatch
	}
	return withHunks, nil
}

// TargetPath returns the repository-relative path a file diff modifies
func TargetPath(fd *diff.FileDiff) string {
	name := fd.NewName
	if name == "" || name == "/dev/null" {
		name = fd.OrigName
	}
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/") {
		name = name[2:]
	}
	return strings.TrimPrefix(filepath.ToSlash(name), "./")
}

// Apply applies a single file diff to original content
func Apply(original []byte, fd *diff.FileDiff) ([]byte, error) {
	text := string(original)
	trailingNewline := strings.HasSuffix(text, "\n")
	text = strings.TrimSuffix(text, "\n")

	var lines []string
	if text != "" {
		lines = strings.Split(text, "\n")
	}

	offset := 0
	for i, hunk := range fd.Hunks {
		oldLines, newLines := splitHunk(hunk.Body)

		hint := int(hunk.OrigStartLine) - 1 + offset
		pos, ambiguous := locate(lines, oldLines, hint)
		if ambiguous {
			return nil, fmt.Errorf("%w: hunk %d (@@ -%d) in %s", ErrAmbiguousHunk, i+1, hunk.OrigStartLine, TargetPath(fd))
		}
		if pos < 0 {
			return nil, fmt.Errorf("%w: hunk %d (@@ -%d) in %s", ErrHunkMismatch, i+1, hunk.OrigStartLine, TargetPath(fd))
		}

		updated := make([]string, 0, len(lines)-len(oldLines)+len(newLines))
		updated = append(updated, lines[:pos]...)
		updated = append(updated, newLines...)
		updated = append(updated, lines[pos+len(oldLines):]...)
		lines = updated

		offset += len(newLines) - len(oldLines)
	}

	out := strings.Join(lines, "\n")
	if trailingNewline || (len(original) == 0 && out != "") {
		out += "\n"
	}
	return []byte(out), nil
}

// ApplyToFile parses patchText and applies the diff for filePath inside repoPath.
// Nothing is written unless every hunk applies.
func ApplyToFile(repoPath, filePath, patchText string) error {
	fileDiffs, err := Parse(patchText, filePath)
	if err != nil {
		return err
	}

	var target *diff.FileDiff
	if len(fileDiffs) == 1 {
		target = fileDiffs[0]
	} else {
		for _, fd := range fileDiffs {
			if TargetPath(fd) == filePath {
				target = fd
				break
			}
		}
	}
	if target == nil {
		return fmt.Errorf("%w: %s", ErrWrongFile, filePath)
	}
	if path := TargetPath(target); path != filePath && !strings.HasSuffix(filePath, "/"+path) && !strings.HasSuffix(path, "/"+filePath) {
		return fmt.Errorf("%w: %s (patch modifies %s)", ErrWrongFile, filePath, path)
	}

	fullPath := filepath.Join(repoPath, filepath.FromSlash(filePath))
	info, err := os.Stat(fullPath)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", filePath, err)
	}
	original, err := os.ReadFile(fullPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filePath, err)
	}

	updated, err := Apply(original, target)
	if err != nil {
		return err
	}
	if bytes.Equal(original, updated) {
		return fmt.Errorf("%w: patch leaves %s unchanged", ErrEmptyPatch, filePath)
	}

	if err := os.WriteFile(fullPath, updated, info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to write %s: %w", filePath, err)
	}
	return nil
}

// splitHunk returns the lines a hunk expects to find and the lines it leaves behind
func splitHunk(body []byte) (oldLines, newLines []string) {
	for _, line := range strings.Split(strings.TrimSuffix(string(body), "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+"):
			newLines = append(newLines, line[1:])
		case strings.HasPrefix(line, "-"):
			oldLines = append(oldLines, line[1:])
		case strings.HasPrefix(line, "\\"):
			// "\ No newline at end of file"
		case strings.HasPrefix(line, " "):
			oldLines = append(oldLines, line[1:])
			newLines = append(newLines, line[1:])
		case line == "":
			oldLines = append(oldLines, "")
			newLines = append(newLines, "")
		}
	}
	return oldLines, newLines
}

// locate finds the index where want occurs in lines. Within searchWindow of
// hint the closest occurrence wins; further away the occurrence must be unique.
// Exact matches are tried before ones that ignore trailing whitespace.
// Returns -1 when want is absent, with ambiguous set when no single
// occurrence can be chosen.
func locate(lines, want []string, hint int) (pos int, ambiguous bool) {
	if hint < 0 {
		hint = 0
	}
	if hint > len(lines) {
		hint = len(lines)
	}
	if len(want) == 0 {
		return hint, false
	}

	for _, eq := range []func(a, b string) bool{exactEqual, looseEqual} {
		if matchesAt(lines, want, hint, eq) {
			return hint, false
		}
		for delta := 1; delta <= searchWindow; delta++ {
			before := matchesAt(lines, want, hint-delta, eq)
			after := matchesAt(lines, want, hint+delta, eq)
			switch {
			case before && after:
				return -1, true
			case before:
				return hint - delta, false
			case after:
				return hint + delta, false
			}
		}
		// Fall back to a full scan for hunks whose header is far off
		found := -1
		for p := 0; p+len(want) <= len(lines); p++ {
			if !matchesAt(lines, want, p, eq) {
				continue
			}
			if found >= 0 {
				return -1, true
			}
			found = p
		}
		if found >= 0 {
			return found, false
		}
	}
	return -1, false
}

func matchesAt(lines, want []string, pos int, eq func(a, b string) bool) bool {
	if pos < 0 || pos+len(want) > len(lines) {
		return false
	}
	for i, w := range want {
		if !eq(lines[pos+i], w) {
			return false
		}
	}
	return true
}

func exactEqual(a, b string) bool { return a == b }

func looseEqual(a, b string) bool {
	return strings.TrimRight(a, " \t\r") == strings.TrimRight(b, " \t\r")
}
