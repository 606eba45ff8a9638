package cycle

import (
	"errors"
	"fmt"
)

// Phase is one stage of the closed cycle.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhasePlan     Phase = "plan"
	PhaseBuild    Phase = "build"
	PhaseTest     Phase = "test"
	PhaseReview   Phase = "review"
	PhaseDocument Phase = "document"
	PhaseComplete Phase = "complete"
)

// ErrInvalidTransition means a phase change outside the fixed table was
// attempted. Seeing it indicates a coordinator bug, not bad input.
var ErrInvalidTransition = errors.New("invalid phase transition")

// transitions is the fixed table of legal phase changes. test→build and
// review→build are the retry edges.
var transitions = map[Phase][]Phase{
	PhaseIdle:     {PhasePlan},
	PhasePlan:     {PhaseBuild},
	PhaseBuild:    {PhaseTest},
	PhaseTest:     {PhaseReview, PhaseBuild},
	PhaseReview:   {PhaseDocument, PhaseBuild},
	PhaseDocument: {PhaseComplete},
}

// ValidTransition reports whether from→to is in the transition table.
func ValidTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// checkTransition returns a wrapped ErrInvalidTransition for illegal moves.
func checkTransition(from, to Phase) error {
	if !ValidTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
