package types

import (
	"testing"
)

// TestBugAgentValidate verifies the per-file grouping invariant is enforced
func TestBugAgentValidate(t *testing.T) {
	tests := []struct {
		name    string
		agent   BugAgent
		wantErr bool
	}{
		{
			name: "single file",
			agent: BugAgent{
				ID:         "agent-1",
				BranchName: "buildfix/foo-1234abcd",
				Errors: []ErrorRecord{
					{FilePath: "src/foo.ts", LineNumber: 1, DiagnosticCode: "TS2304", Message: "a"},
					{FilePath: "src/foo.ts", LineNumber: 9, DiagnosticCode: "TS2322", Message: "b"},
				},
			},
		},
		{
			name: "mixed files",
			agent: BugAgent{
				ID:         "agent-1",
				BranchName: "buildfix/foo-1234abcd",
				Errors: []ErrorRecord{
					{FilePath: "src/foo.ts", LineNumber: 1},
					{FilePath: "src/bar.ts", LineNumber: 2},
				},
			},
			wantErr: true,
		},
		{
			name:    "no errors",
			agent:   BugAgent{ID: "agent-1", BranchName: "b"},
			wantErr: true,
		},
		{
			name: "missing branch",
			agent: BugAgent{
				ID:     "agent-1",
				Errors: []ErrorRecord{{FilePath: "a.go"}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.agent.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestBugAgentFilePath(t *testing.T) {
	agent := &BugAgent{Errors: []ErrorRecord{{FilePath: "src/pages/foo.tsx"}}}
	if got := agent.FilePath(); got != "src/pages/foo.tsx" {
		t.Errorf("FilePath() = %q, want src/pages/foo.tsx", got)
	}
	if got := (&BugAgent{}).FilePath(); got != "" {
		t.Errorf("FilePath() on empty agent = %q, want empty", got)
	}
}

func TestCriticEvaluationValidate(t *testing.T) {
	for rating, wantErr := range map[int]bool{0: true, 1: false, 3: false, 5: false, 6: true} {
		eval := CriticEvaluation{Summary: "adds missing import", Rating: rating}
		err := eval.Validate()
		if (err != nil) != wantErr {
			t.Errorf("rating %d: err = %v, wantErr %v", rating, err, wantErr)
		}
	}

	missing := CriticEvaluation{Rating: 4}
	if err := missing.Validate(); err == nil {
		t.Error("expected error for missing summary")
	}
}

func TestErrorRecordString(t *testing.T) {
	rec := ErrorRecord{FilePath: "src/pages/foo.tsx", LineNumber: 12, DiagnosticCode: "TS2304", Message: "Cannot find name 'Bar'."}
	want := "src/pages/foo.tsx:12: TS2304 Cannot find name 'Bar'."
	if got := rec.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	goRec := ErrorRecord{FilePath: "main.go", LineNumber: 3, Message: "undefined: x"}
	if got := goRec.String(); got != "main.go:3: undefined: x" {
		t.Errorf("String() = %q", got)
	}
}

func TestAttemptRecordValidate(t *testing.T) {
	bad := 7
	rec := AttemptRecord{RunID: "run-1", AgentID: "agent-1", Rating: &bad}
	if err := rec.Validate(); err == nil {
		t.Error("expected error for out-of-range rating")
	}

	good := 4
	rec.Rating = &good
	if err := rec.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if err := (&AttemptRecord{AgentID: "a"}).Validate(); err == nil {
		t.Error("expected error for missing run_id")
	}
}
