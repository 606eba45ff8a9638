package cycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/playbookd/internal/logging"
	"github.com/fyrsmithlabs/playbookd/internal/playbook"
)

// DefaultRetryCap bounds build retries per cycle. A negative cap disables
// the limit; callers who do that must watch RetryCount themselves.
const DefaultRetryCap = 5

// ErrCycleConsumed means Run was called twice on the same coordinator.
var ErrCycleConsumed = errors.New("cycle already executed")

// RetryLimitError means the retry cap was exceeded before the cycle could
// reach review acceptance.
type RetryLimitError struct {
	RetryCount int
	Cap        int
}

func (e *RetryLimitError) Error() string {
	return fmt.Sprintf("retry limit exceeded: %d retries with cap %d", e.RetryCount, e.Cap)
}

// PlanFunc produces the plan text for the cycle.
type PlanFunc func(ctx context.Context) (string, error)

// BuildFunc produces (or repairs) the build artifacts, keyed name→path.
// It runs once after plan and once more per retry edge.
type BuildFunc func(ctx context.Context, retry int) (map[string]string, error)

// Coordinator drives one closed cycle. It is single-use: Run consumes it.
type Coordinator struct {
	sessionID string
	taskID    string
	logger    *logging.Logger

	testTool TestTool
	policy   ReviewPolicy
	plan     PlanFunc
	build    BuildFunc
	observer TransitionObserver
	retryCap int
	pb       *playbook.Playbook

	phase       Phase
	retryCount  int
	transitions []PhaseTransition
	outcomes    []TestOutcome
	accepted    []string
	rejected    []string
	artifacts   map[string]string
	planText    string
	consumed    bool
}

// NewCoordinator creates an idle coordinator for one session+task pair.
func NewCoordinator(sessionID, taskID string, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Coordinator{
		sessionID: sessionID,
		taskID:    taskID,
		logger:    logger.Named("cycle").ForSession(sessionID),
		policy:    ThresholdPolicy{},
		retryCap:  DefaultRetryCap,
		phase:     PhaseIdle,
		artifacts: make(map[string]string),
	}
}

// WithTestTool sets the test-execution collaborator. Required before Run.
func (c *Coordinator) WithTestTool(tool TestTool) *Coordinator {
	c.testTool = tool
	return c
}

// WithReviewPolicy replaces the default threshold policy.
func (c *Coordinator) WithReviewPolicy(p ReviewPolicy) *Coordinator {
	if p != nil {
		c.policy = p
	}
	return c
}

// WithPlan sets the plan-phase body.
func (c *Coordinator) WithPlan(fn PlanFunc) *Coordinator {
	c.plan = fn
	return c
}

// WithBuild sets the build-phase body.
func (c *Coordinator) WithBuild(fn BuildFunc) *Coordinator {
	c.build = fn
	return c
}

// WithPlaybook hands the strategy repository to the review policy.
func (c *Coordinator) WithPlaybook(pb *playbook.Playbook) *Coordinator {
	c.pb = pb
	return c
}

// WithObserver sets the transition observer callback.
func (c *Coordinator) WithObserver(obs TransitionObserver) *Coordinator {
	c.observer = obs
	return c
}

// WithRetryCap overrides the default retry cap. Zero keeps the default;
// negative disables the limit.
func (c *Coordinator) WithRetryCap(limit int) *Coordinator {
	if limit != 0 {
		c.retryCap = limit
	}
	return c
}

// Phase returns the current phase.
func (c *Coordinator) Phase() Phase { return c.phase }

// RetryCount returns retries consumed so far.
func (c *Coordinator) RetryCount() int { return c.retryCount }

// Transitions returns a copy of the transition log.
func (c *Coordinator) Transitions() []PhaseTransition {
	out := make([]PhaseTransition, len(c.transitions))
	copy(out, c.transitions)
	return out
}

// Outcomes returns a copy of the test outcome list.
func (c *Coordinator) Outcomes() []TestOutcome {
	out := make([]TestOutcome, len(c.outcomes))
	copy(out, c.outcomes)
	return out
}

// Run executes the cycle to completion and returns the rendered summary.
func (c *Coordinator) Run(ctx context.Context) (*ClosedCycleSummary, error) {
	if c.consumed {
		return nil, ErrCycleConsumed
	}
	c.consumed = true
	if c.testTool == nil {
		return nil, errors.New("no test tool configured")
	}

	if err := c.transition(PhasePlan, "cycle start"); err != nil {
		return nil, err
	}
	if c.plan != nil {
		text, err := c.plan(ctx)
		if err != nil {
			return nil, fmt.Errorf("plan phase: %w", err)
		}
		c.planText = text
	}

	if err := c.transition(PhaseBuild, "plan produced"); err != nil {
		return nil, err
	}
	if err := c.runBuild(ctx); err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := c.transition(PhaseTest, "build produced artifacts"); err != nil {
			return nil, err
		}
		outcome := c.testTool.Run(ctx)
		c.outcomes = append(c.outcomes, outcome)
		c.logger.Info(ctx, "test phase completed",
			zap.Bool("passed", outcome.Passed),
			zap.Int("failed_cases", outcome.FailedCases),
			zap.Float64("line_coverage", outcome.LineCoverage),
		)

		if !outcome.Passed {
			if err := c.retry(ctx, PhaseTest, "tests failed"); err != nil {
				return nil, err
			}
			continue
		}

		if err := c.transition(PhaseReview, "tests passed"); err != nil {
			return nil, err
		}
		decision, err := c.policy.Review(ctx, ReviewInput{
			Outcome:   outcome,
			Artifacts: c.artifacts,
			Playbook:  c.pb,
		})
		if err != nil {
			return nil, fmt.Errorf("review phase: %w", err)
		}
		if decision.DeltaID == "" {
			decision.DeltaID = newDeltaID()
		}

		if decision.Accept {
			c.accepted = append(c.accepted, decision.DeltaID)
			if err := c.transition(PhaseDocument, decision.Reason); err != nil {
				return nil, err
			}
			break
		}

		c.rejected = append(c.rejected, decision.DeltaID)
		if err := c.retry(ctx, PhaseReview, decision.Reason); err != nil {
			return nil, err
		}
	}

	summary := c.renderSummary()
	if err := c.transition(PhaseComplete, "summary rendered"); err != nil {
		return nil, err
	}
	return summary, nil
}

// retry takes the from→build edge, incrementing and capping retryCount.
func (c *Coordinator) retry(ctx context.Context, from Phase, reason string) error {
	c.retryCount++
	if c.retryCap >= 0 && c.retryCount > c.retryCap {
		return &RetryLimitError{RetryCount: c.retryCount, Cap: c.retryCap}
	}
	if err := c.transition(PhaseBuild, reason); err != nil {
		return err
	}
	c.logger.Warn(ctx, "retrying build",
		zap.String("from", string(from)),
		zap.String("reason", reason),
		zap.Int("retry_count", c.retryCount),
	)
	return c.runBuild(ctx)
}

func (c *Coordinator) runBuild(ctx context.Context) error {
	if c.build == nil {
		return nil
	}
	artifacts, err := c.build(ctx, c.retryCount)
	if err != nil {
		return fmt.Errorf("build phase: %w", err)
	}
	for name, path := range artifacts {
		c.artifacts[name] = path
	}
	return nil
}

// transition validates the phase change, records it, and notifies the
// observer. It runs before the target phase body.
func (c *Coordinator) transition(to Phase, reason string) error {
	if err := checkTransition(c.phase, to); err != nil {
		return err
	}
	t := PhaseTransition{
		From:       c.phase,
		To:         to,
		Timestamp:  time.Now(),
		SessionID:  c.sessionID,
		TaskID:     c.taskID,
		RetryCount: c.retryCount,
		Reason:     reason,
	}
	c.transitions = append(c.transitions, t)
	c.phase = to
	if c.observer != nil {
		c.observer(t)
	}
	return nil
}

// renderSummary builds the terminal report from the accumulated records.
func (c *Coordinator) renderSummary() *ClosedCycleSummary {
	summary := &ClosedCycleSummary{
		SessionID:        c.sessionID,
		TaskID:           c.taskID,
		CompletedAt:      time.Now(),
		AcceptedDeltaIDs: append([]string(nil), c.accepted...),
		RejectedDeltaIDs: append([]string(nil), c.rejected...),
		TestOutcomes:     c.Outcomes(),
		ArtifactLinks:    make(map[string]string, len(c.artifacts)),
	}
	for name, path := range c.artifacts {
		summary.ArtifactLinks[name] = path
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Closed Cycle Report\n\n")
	fmt.Fprintf(&sb, "Session: %s\nTask: %s\n", c.sessionID, c.taskID)
	if c.planText != "" {
		fmt.Fprintf(&sb, "\n## Plan\n\n%s\n", c.planText)
	}

	fmt.Fprintf(&sb, "\n## Test Outcomes\n\n")
	for i, o := range c.outcomes {
		status := "passed"
		if !o.Passed {
			status = "failed"
		}
		fmt.Fprintf(&sb, "%d. %s (%s): %d/%d cases, line %.0f%%, branch %.0f%%\n",
			i+1, status, o.Mode, o.TotalCases-o.FailedCases, o.TotalCases,
			o.LineCoverage*100, o.BranchCoverage*100)
	}

	fmt.Fprintf(&sb, "\n## Decisions\n\n")
	fmt.Fprintf(&sb, "Accepted: %s\n", joinOrNone(c.accepted))
	fmt.Fprintf(&sb, "Rejected: %s\n", joinOrNone(c.rejected))
	fmt.Fprintf(&sb, "Retries: %d\n", c.retryCount)

	if len(c.artifacts) > 0 {
		fmt.Fprintf(&sb, "\n## Artifacts\n\n")
		names := make([]string, 0, len(summary.ArtifactLinks))
		for name := range summary.ArtifactLinks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&sb, "- %s: %s\n", name, summary.ArtifactLinks[name])
		}
	}

	summary.MarkdownReport = sb.String()
	return summary
}

func joinOrNone(ids []string) string {
	if len(ids) == 0 {
		return "(none)"
	}
	return strings.Join(ids, ", ")
}
