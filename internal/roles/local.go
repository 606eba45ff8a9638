package roles

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/playbookd/internal/playbook"
)

// Deterministic local implementations. They keep the system operable when no
// remote backend is configured: offline runs, tests, and dry-run cycles.

// KeywordProducer answers by citing playbook bullets that share words with
// the question. It never invents content; the answer is the best-matching
// bullet's text, or empty when nothing matches.
type KeywordProducer struct{}

func (KeywordProducer) Produce(_ context.Context, req ProducerRequest, pb *playbook.Playbook) (ProducerOutput, error) {
	words := tokenize(req.Question)
	var best *playbook.Bullet
	bestScore := 0
	var cited []string

	for _, b := range pb.Bullets() {
		score := overlap(words, tokenize(b.Content))
		if score > 0 {
			cited = append(cited, b.ID)
		}
		if score > bestScore {
			best, bestScore = b, score
		}
	}

	out := ProducerOutput{
		Reasoning:   fmt.Sprintf("matched %d playbook bullets against the question", len(cited)),
		UsedItemIDs: cited,
	}
	if best != nil {
		out.FinalAnswer = best.Content
	}
	out.Raw = map[string]interface{}{
		"reasoning":    out.Reasoning,
		"final_answer": out.FinalAnswer,
		"bullet_ids":   out.UsedItemIDs,
	}
	return out, nil
}

// ComparisonCritic diagnoses an outcome by comparing the producer's answer
// against ground truth. Cited bullets are tagged helpful on a match and
// harmful on a mismatch; without ground truth every tag is neutral.
type ComparisonCritic struct{}

func (ComparisonCritic) Critique(_ context.Context, req CriticRequest, _ *playbook.Playbook) (CriticOutput, error) {
	out := CriticOutput{
		Reasoning: fmt.Sprintf("compared producer answer %q with ground truth", req.Producer.FinalAnswer),
	}

	tag := TagNeutral
	switch {
	case req.GroundTruth == "":
		out.KeyInsight = "no ground truth available; outcome inconclusive"
	case equalAnswers(req.Producer.FinalAnswer, req.GroundTruth):
		tag = TagHelpful
		out.KeyInsight = "answer matched ground truth"
		out.CorrectApproach = req.Producer.Reasoning
	default:
		tag = TagHarmful
		out.ErrorIdentification = fmt.Sprintf("answer %q does not match expected %q",
			req.Producer.FinalAnswer, req.GroundTruth)
		out.RootCauseAnalysis = "cited strategies did not lead to the expected answer"
		out.CorrectApproach = fmt.Sprintf("the expected answer was %q", req.GroundTruth)
		out.KeyInsight = "revise strategies cited for this question"
	}
	if req.Feedback != "" {
		out.Reasoning += "; environment feedback: " + req.Feedback
	}

	for _, id := range req.Producer.UsedItemIDs {
		out.ItemTags = append(out.ItemTags, ItemTag{ID: id, Tag: tag})
	}
	out.Raw = map[string]interface{}{
		"reasoning":   out.Reasoning,
		"key_insight": out.KeyInsight,
	}
	return out, nil
}

// InsightCurator converts a critique into a delta batch: one TAG operation
// per item tag, plus an ADD capturing the key insight when the critique
// found an error.
type InsightCurator struct{}

func (InsightCurator) Curate(_ context.Context, req CuratorRequest, pb *playbook.Playbook) (CuratorOutput, error) {
	batch := playbook.DeltaBatch{ID: "delta-" + uuid.NewString()[:8]}

	for _, t := range req.Critique.ItemTags {
		if pb.Get(t.ID) == nil {
			continue
		}
		batch.Ops = append(batch.Ops, playbook.Operation{
			Kind:   playbook.OpTag,
			Target: t.ID,
			Tags:   []string{string(t.Tag)},
		})
	}

	if req.Critique.ErrorIdentification != "" && req.Critique.KeyInsight != "" {
		batch.Ops = append(batch.Ops, playbook.Operation{
			Kind:    playbook.OpAdd,
			Section: "lessons",
			Content: req.Critique.KeyInsight,
		})
	}

	return CuratorOutput{
		Delta: batch,
		Raw:   map[string]interface{}{"delta_id": batch.ID, "op_count": len(batch.Ops)},
	}, nil
}

func equalAnswers(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func tokenize(s string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if len(w) > 2 {
			words[w] = struct{}{}
		}
	}
	return words
}

func overlap(a, b map[string]struct{}) int {
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}
