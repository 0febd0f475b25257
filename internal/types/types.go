package types

import (
	"fmt"
	"time"
)

// Severity of a compiler diagnostic
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ErrorRecord is a single structured diagnostic extracted from build output.
// Records are produced only by diagnostic parsers and are treated as immutable values.
type ErrorRecord struct {
	FilePath       string   `json:"file_path"`
	LineNumber     int      `json:"line_number"`
	Column         int      `json:"column,omitempty"`
	DiagnosticCode string   `json:"diagnostic_code"`
	Severity       Severity `json:"severity,omitempty"`
	Message        string   `json:"message"`
}

// String renders the record the way it is shown to the AI and in logs
func (r ErrorRecord) String() string {
	if r.DiagnosticCode == "" {
		return fmt.Sprintf("%s:%d: %s", r.FilePath, r.LineNumber, r.Message)
	}
	return fmt.Sprintf("%s:%d: %s %s", r.FilePath, r.LineNumber, r.DiagnosticCode, r.Message)
}

// BugAgent is a unit of repair work scoped to one file's errors.
// Agents are created by the bug-group factory and discarded at the end of a run.
type BugAgent struct {
	ID             string        `json:"id"`
	Errors         []ErrorRecord `json:"errors"`
	CandidateFixes []string      `json:"candidate_fixes,omitempty"`
	AppliedFix     string        `json:"applied_fix,omitempty"`  // Empty until a fix is committed
	BuildOutput    string        `json:"build_output,omitempty"` // Output of the last build attempt
	CommitRef      string        `json:"commit_ref,omitempty"`   // Permanent commit of the applied fix
	BranchName     string        `json:"branch_name"`

	// Depth is the recursion depth at which this agent was created (0 for top-level agents)
	Depth int `json:"depth"`
	// ParentID links a recursive sub-agent to the agent whose promising attempt spawned it
	ParentID string `json:"parent_id,omitempty"`
}

// FilePath returns the file shared by all of the agent's errors
func (a *BugAgent) FilePath() string {
	if len(a.Errors) == 0 {
		return ""
	}
	return a.Errors[0].FilePath
}

// Validate checks the per-file grouping invariant
func (a *BugAgent) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	if a.BranchName == "" {
		return fmt.Errorf("agent %s has no branch name", a.ID)
	}
	if len(a.Errors) == 0 {
		return fmt.Errorf("agent %s has no errors", a.ID)
	}
	file := a.Errors[0].FilePath
	for _, rec := range a.Errors[1:] {
		if rec.FilePath != file {
			return fmt.Errorf("agent %s mixes files %q and %q", a.ID, file, rec.FilePath)
		}
	}
	return nil
}

// BuildSettings describes how the target project is built
type BuildSettings struct {
	Toolchain      string        `json:"toolchain" yaml:"toolchain"`             // Selects the diagnostic parser (typescript, go)
	BuildCommand   []string      `json:"build_command" yaml:"build_command"`     // Command whose failure drives the search
	PackageManager string        `json:"package_manager" yaml:"package_manager"` // npm, yarn, pnpm or go
	Env            []string      `json:"env,omitempty" yaml:"env,omitempty"`     // Extra KEY=VALUE entries for build commands
	Timeout        time.Duration `json:"timeout" yaml:"timeout"`
}

// ProjectContext is the read-only bundle describing the project for one resolution run
type ProjectContext struct {
	RepoPath    string
	BaseBranch  string
	Credentials map[string]string // Passed through to collaborators (e.g. private registries)
	Settings    BuildSettings
	Research    string // Accumulated research notes included in fix prompts
}

// CriticEvaluation is the critic oracle's assessment of one (file, patch) pair
type CriticEvaluation struct {
	Narrative        string `json:"narrative"`
	UnrelatedChanges string `json:"unrelated_changes"`
	Summary          string `json:"summary"`
	Rating           int    `json:"rating"` // 1 (harmful) to 5 (correct and minimal)
}

// Validate checks that the rating is in range and a summary exists
func (e *CriticEvaluation) Validate() error {
	if e.Rating < 1 || e.Rating > 5 {
		return fmt.Errorf("rating must be between 1 and 5 (got %d)", e.Rating)
	}
	if e.Summary == "" {
		return fmt.Errorf("summary is required")
	}
	return nil
}

// AttemptOutcome is the result of applying and validating one candidate patch
type AttemptOutcome struct {
	AgentID     string
	Patch       string
	Success     bool
	BuildPassed bool
	BuildOutput string
	Evaluation  *CriticEvaluation // nil when the critic was unavailable or the attempt faulted
	CommitRef   string            // Set on success
	Remaining   []ErrorRecord     // Diagnostics for the agent's file after the attempt
	TotalErrors int               // All diagnostics parsed from the post-attempt output
	Fault       error             // Unexpected error absorbed during the attempt
	Duration    time.Duration
}

// RunStatus is the lifecycle state of a resolution run
type RunStatus string

const (
	RunStatusRunning    RunStatus = "running"
	RunStatusResolved   RunStatus = "resolved"
	RunStatusUnresolved RunStatus = "unresolved"
	RunStatusFailed     RunStatus = "failed"
)

// ResolutionRun is the persisted summary of one Resolve invocation
type ResolutionRun struct {
	ID          string     `json:"id"`
	RepoPath    string     `json:"repo_path"`
	BaseBranch  string     `json:"base_branch"`
	Status      RunStatus  `json:"status"`
	AgentCount  int        `json:"agent_count"`
	Resolved    int        `json:"resolved"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Summary     string     `json:"summary"`
}

// AttemptRecord is the persisted form of an AttemptOutcome
type AttemptRecord struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"run_id"`
	AgentID      string    `json:"agent_id"`
	FilePath     string    `json:"file_path"`
	Depth        int       `json:"depth"`
	Success      bool      `json:"success"`
	Rating       *int      `json:"rating,omitempty"`
	CommitRef    string    `json:"commit_ref,omitempty"`
	ErrorsBefore int       `json:"errors_before"`
	ErrorsAfter  int       `json:"errors_after"`
	OutputSample string    `json:"output_sample"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate checks if the attempt record has valid field values
func (a *AttemptRecord) Validate() error {
	if a.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	if a.AgentID == "" {
		return fmt.Errorf("agent_id is required")
	}
	if a.Rating != nil && (*a.Rating < 1 || *a.Rating > 5) {
		return fmt.Errorf("rating must be between 1 and 5 (got %d)", *a.Rating)
	}
	return nil
}
