package roles

import (
	"context"

	"github.com/fyrsmithlabs/playbookd/internal/playbook"
)

// Name identifies one of the three cooperating roles.
type Name string

const (
	RoleProducer Name = "producer"
	RoleCritic   Name = "critic"
	RoleCurator  Name = "curator"
)

// TagKind classifies how a playbook bullet influenced an outcome.
type TagKind string

const (
	TagHelpful TagKind = "helpful"
	TagHarmful TagKind = "harmful"
	TagNeutral TagKind = "neutral"
)

// ItemTag links a critic judgement to a playbook bullet.
type ItemTag struct {
	ID  string  `json:"id"`
	Tag TagKind `json:"tag"`
}

// ProducerOutput is the producer's answer to a task.
type ProducerOutput struct {
	Reasoning   string `json:"reasoning"`
	FinalAnswer string `json:"final_answer"`

	// UsedItemIDs lists playbook bullets the producer relied on, in the
	// order it cited them.
	UsedItemIDs []string `json:"used_item_ids"`

	// Raw holds the unmodified decoded payload for audit.
	Raw map[string]interface{} `json:"raw,omitempty"`
}

// CriticOutput is the critic's diagnosis of a producer outcome.
type CriticOutput struct {
	Reasoning           string    `json:"reasoning"`
	ErrorIdentification string    `json:"error_identification"`
	RootCauseAnalysis   string    `json:"root_cause_analysis"`
	CorrectApproach     string    `json:"correct_approach"`
	KeyInsight          string    `json:"key_insight"`
	ItemTags            []ItemTag `json:"item_tags"`

	Raw map[string]interface{} `json:"raw,omitempty"`
}

// CuratorOutput is the curator's proposed playbook update.
type CuratorOutput struct {
	Delta playbook.DeltaBatch `json:"delta"`

	Raw map[string]interface{} `json:"raw,omitempty"`
}

// ProducerRequest carries the producer's role-specific context.
type ProducerRequest struct {
	Question   string
	Context    string
	Reflection string
}

// CriticRequest carries the critic's role-specific context.
type CriticRequest struct {
	Question    string
	Producer    ProducerOutput
	GroundTruth string
	Feedback    string
}

// CuratorRequest carries the curator's role-specific context.
type CuratorRequest struct {
	Critique        CriticOutput
	QuestionContext string
	Progress        string
}

// Producer answers tasks using the playbook. Local implementations are the
// bridge's fallback path and must be synchronous.
type Producer interface {
	Produce(ctx context.Context, req ProducerRequest, pb *playbook.Playbook) (ProducerOutput, error)
}

// Critic diagnoses producer outcomes against ground truth and feedback.
type Critic interface {
	Critique(ctx context.Context, req CriticRequest, pb *playbook.Playbook) (CriticOutput, error)
}

// Curator turns critiques into playbook delta batches.
type Curator interface {
	Curate(ctx context.Context, req CuratorRequest, pb *playbook.Playbook) (CuratorOutput, error)
}

// ProducerFunc adapts a function to the Producer interface.
type ProducerFunc func(ctx context.Context, req ProducerRequest, pb *playbook.Playbook) (ProducerOutput, error)

func (f ProducerFunc) Produce(ctx context.Context, req ProducerRequest, pb *playbook.Playbook) (ProducerOutput, error) {
	return f(ctx, req, pb)
}

// CriticFunc adapts a function to the Critic interface.
type CriticFunc func(ctx context.Context, req CriticRequest, pb *playbook.Playbook) (CriticOutput, error)

func (f CriticFunc) Critique(ctx context.Context, req CriticRequest, pb *playbook.Playbook) (CriticOutput, error) {
	return f(ctx, req, pb)
}

// CuratorFunc adapts a function to the Curator interface.
type CuratorFunc func(ctx context.Context, req CuratorRequest, pb *playbook.Playbook) (CuratorOutput, error)

func (f CuratorFunc) Curate(ctx context.Context, req CuratorRequest, pb *playbook.Playbook) (CuratorOutput, error) {
	return f(ctx, req, pb)
}
