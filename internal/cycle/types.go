package cycle

import (
	"context"
	"time"
)

// PhaseTransition is one recorded phase change. Immutable once appended to
// the session-scoped transition log.
type PhaseTransition struct {
	From       Phase     `json:"from_phase"`
	To         Phase     `json:"to_phase"`
	Timestamp  time.Time `json:"timestamp"`
	SessionID  string    `json:"session_id"`
	TaskID     string    `json:"task_id"`
	RetryCount int       `json:"retry_count"`
	Reason     string    `json:"reason,omitempty"`
}

// TestMode distinguishes a real test run from a dry (build-only) run.
type TestMode string

const (
	ModeReal   TestMode = "real"
	ModeDryRun TestMode = "dryRun"
)

// TestOutcome is the structured report of one test-phase entry. The test
// tool never fails with an error; start failures and timeouts arrive as a
// failed outcome with a stderr summary.
type TestOutcome struct {
	Mode            TestMode `json:"mode"`
	Passed          bool     `json:"passed"`
	TotalCases      int      `json:"total_cases"`
	FailedCases     int      `json:"failed_cases"`
	BranchCoverage  float64  `json:"branch_coverage"`
	LineCoverage    float64  `json:"line_coverage"`
	ReportPath      string   `json:"report_path,omitempty"`
	StderrSummary   string   `json:"stderr_summary,omitempty"`
	DurationSeconds float64  `json:"duration_seconds"`
}

// ClosedCycleSummary is the terminal artifact of one cycle. Built once at
// document-phase completion and immutable afterwards.
type ClosedCycleSummary struct {
	SessionID        string            `json:"session_id"`
	TaskID           string            `json:"task_id"`
	CompletedAt      time.Time         `json:"completed_at"`
	AcceptedDeltaIDs []string          `json:"accepted_delta_ids"`
	RejectedDeltaIDs []string          `json:"rejected_delta_ids"`
	TestOutcomes     []TestOutcome     `json:"test_outcomes"`
	ArtifactLinks    map[string]string `json:"artifact_links,omitempty"`
	MarkdownReport   string            `json:"markdown_report"`
}

// TransitionObserver receives each transition as it is recorded.
type TransitionObserver func(PhaseTransition)

// TestTool is the external test-execution collaborator. Run never returns
// an error; failures are expressed in the outcome itself so the phase
// machine can branch normally.
type TestTool interface {
	Run(ctx context.Context) TestOutcome
}
