package resolver

import (
	"errors"
	"fmt"
)

// ErrUnparsedOutput is returned when escalation is enabled and a failing build
// produced output that no diagnostic could be parsed from.
var ErrUnparsedOutput = errors.New("build output contains no recognizable diagnostics")

// UnresolvedError reports bug groups that could not be fixed in a run
type UnresolvedError struct {
	Unresolved int
	Total      int
	Files      []string // Files of the unresolved agents, in agent order
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("failed to resolve %d of %d bug group(s)", e.Unresolved, e.Total)
}
