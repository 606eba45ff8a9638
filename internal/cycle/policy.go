package cycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/playbookd/internal/bridge"
	"github.com/fyrsmithlabs/playbookd/internal/playbook"
	"github.com/fyrsmithlabs/playbookd/internal/roles"
)

// ReviewInput is what a review policy sees: the latest test outcome plus
// the build artifacts accumulated so far.
type ReviewInput struct {
	Outcome   TestOutcome
	Artifacts map[string]string
	Playbook  *playbook.Playbook
}

// ReviewDecision is a policy's verdict. Rejection is normal control flow,
// not an error.
type ReviewDecision struct {
	Accept  bool
	DeltaID string
	Reason  string
}

// ReviewPolicy decides whether the cycle's current state is acceptable.
type ReviewPolicy interface {
	Review(ctx context.Context, in ReviewInput) (ReviewDecision, error)
}

// ThresholdPolicy is the default review policy: accept iff the tests
// passed and both coverage ratios meet the configured minimums.
type ThresholdPolicy struct {
	MinLineCoverage   float64
	MinBranchCoverage float64
}

func (p ThresholdPolicy) Review(_ context.Context, in ReviewInput) (ReviewDecision, error) {
	switch {
	case !in.Outcome.Passed:
		return ReviewDecision{Reason: "tests failed"}, nil
	case in.Outcome.LineCoverage < p.MinLineCoverage:
		return ReviewDecision{Reason: fmt.Sprintf("line coverage %.2f below threshold %.2f",
			in.Outcome.LineCoverage, p.MinLineCoverage)}, nil
	case in.Outcome.BranchCoverage < p.MinBranchCoverage:
		return ReviewDecision{Reason: fmt.Sprintf("branch coverage %.2f below threshold %.2f",
			in.Outcome.BranchCoverage, p.MinBranchCoverage)}, nil
	}
	return ReviewDecision{Accept: true, Reason: "tests passed and coverage met thresholds"}, nil
}

// BridgePolicy consults the critic and curator roles before deciding. The
// threshold verdict still gates acceptance; the roles contribute the delta
// batch that the decision accepts or rejects. On accept the delta is
// applied to the playbook.
type BridgePolicy struct {
	Session    *bridge.Session
	Thresholds ThresholdPolicy
	Question   string
}

func (p BridgePolicy) Review(ctx context.Context, in ReviewInput) (ReviewDecision, error) {
	verdict, err := p.Thresholds.Review(ctx, in)
	if err != nil {
		return ReviewDecision{}, err
	}

	feedback := fmt.Sprintf("tests passed=%t failed=%d line_coverage=%.2f branch_coverage=%.2f",
		in.Outcome.Passed, in.Outcome.FailedCases, in.Outcome.LineCoverage, in.Outcome.BranchCoverage)

	critique, err := p.Session.RunCritic(ctx, roles.CriticRequest{
		Question: p.Question,
		Feedback: feedback,
	}, in.Playbook)
	if err != nil {
		return ReviewDecision{}, fmt.Errorf("review critic: %w", err)
	}

	curated, err := p.Session.RunCurator(ctx, roles.CuratorRequest{
		Critique:        critique,
		QuestionContext: p.Question,
		Progress:        verdict.Reason,
	}, in.Playbook)
	if err != nil {
		return ReviewDecision{}, fmt.Errorf("review curator: %w", err)
	}

	verdict.DeltaID = curated.Delta.ID
	if verdict.Accept && len(curated.Delta.Ops) > 0 {
		if err := in.Playbook.Apply(curated.Delta); err != nil {
			return ReviewDecision{}, fmt.Errorf("apply review delta: %w", err)
		}
	}
	return verdict, nil
}

// newDeltaID labels a review decision when no curator supplied one, so the
// accepted/rejected lists stay addressable.
func newDeltaID() string {
	return "delta-" + uuid.NewString()[:8]
}
