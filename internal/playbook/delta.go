package playbook

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// OpKind identifies a delta operation.
type OpKind string

const (
	OpAdd    OpKind = "ADD"
	OpUpdate OpKind = "UPDATE"
	OpTag    OpKind = "TAG"
	OpRemove OpKind = "REMOVE"
)

// Common delta errors.
var (
	ErrUnknownOpKind  = errors.New("unknown delta operation kind")
	ErrMissingTarget  = errors.New("delta operation requires a target bullet id")
	ErrUnknownBullet  = errors.New("delta operation targets unknown bullet")
	ErrMissingContent = errors.New("delta operation requires content")
)

// Operation is a single playbook mutation proposed by the curator.
type Operation struct {
	Kind    OpKind   `json:"kind"`
	Target  string   `json:"target,omitempty"`
	Section string   `json:"section,omitempty"`
	Content string   `json:"content,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// DeltaBatch is an ordered sequence of operations applied atomically in
// order. Operations later in the batch see the effects of earlier ones.
type DeltaBatch struct {
	ID  string      `json:"id,omitempty"`
	Ops []Operation `json:"ops"`
}

// Empty reports whether the batch carries no operations.
func (d DeltaBatch) Empty() bool {
	return len(d.Ops) == 0
}

// Validate checks operation shape without touching a playbook.
func (d DeltaBatch) Validate() error {
	for i, op := range d.Ops {
		switch op.Kind {
		case OpAdd:
			if op.Content == "" {
				return fmt.Errorf("op %d: %w", i, ErrMissingContent)
			}
		case OpUpdate:
			if op.Target == "" {
				return fmt.Errorf("op %d: %w", i, ErrMissingTarget)
			}
			if op.Content == "" {
				return fmt.Errorf("op %d: %w", i, ErrMissingContent)
			}
		case OpTag, OpRemove:
			if op.Target == "" {
				return fmt.Errorf("op %d: %w", i, ErrMissingTarget)
			}
		default:
			return fmt.Errorf("op %d: %w: %q", i, ErrUnknownOpKind, op.Kind)
		}
	}
	return nil
}

// Apply mutates the playbook with the batch. The batch is validated first;
// a validation error leaves the playbook untouched. Apply errors partway
// through (unknown target) leave earlier operations applied, matching the
// ordered-batch contract.
func (p *Playbook) Apply(d DeltaBatch) error {
	if err := d.Validate(); err != nil {
		return err
	}
	for i, op := range d.Ops {
		if err := p.applyOne(op); err != nil {
			return fmt.Errorf("op %d (%s): %w", i, op.Kind, err)
		}
	}
	return nil
}

func (p *Playbook) applyOne(op Operation) error {
	switch op.Kind {
	case OpAdd:
		b := &Bullet{
			ID:      op.Target,
			Section: op.Section,
			Content: op.Content,
			Tags:    append([]string(nil), op.Tags...),
		}
		p.Add(b)
		return nil

	case OpUpdate:
		b := p.index[op.Target]
		if b == nil {
			return fmt.Errorf("%w: %s", ErrUnknownBullet, op.Target)
		}
		b.Content = op.Content
		if op.Section != "" {
			b.Section = op.Section
		}
		b.UpdatedAt = time.Now()
		return nil

	case OpTag:
		b := p.index[op.Target]
		if b == nil {
			return fmt.Errorf("%w: %s", ErrUnknownBullet, op.Target)
		}
		for _, tag := range op.Tags {
			// Critic sentiment tags feed the usage counters; everything
			// else becomes a label.
			switch strings.ToLower(tag) {
			case "helpful":
				p.MarkUsage(op.Target, true)
			case "harmful":
				p.MarkUsage(op.Target, false)
			default:
				if !containsFold(b.Tags, tag) {
					b.Tags = append(b.Tags, tag)
				}
			}
		}
		b.UpdatedAt = time.Now()
		return nil

	case OpRemove:
		b := p.index[op.Target]
		if b == nil {
			return fmt.Errorf("%w: %s", ErrUnknownBullet, op.Target)
		}
		delete(p.index, op.Target)
		for i, existing := range p.bullets {
			if existing.ID == op.Target {
				p.bullets = append(p.bullets[:i], p.bullets[i+1:]...)
				break
			}
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownOpKind, op.Kind)
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}

// DecodeDeltaBatch builds a DeltaBatch from a decoded JSON object. The
// curator's remote responses arrive as generic maps; unknown fields are
// ignored and missing optional fields default to empty values. Operation
// kinds are case-insensitive on the wire.
func DecodeDeltaBatch(data map[string]interface{}) (DeltaBatch, error) {
	batch := DeltaBatch{}
	if id, ok := data["id"].(string); ok {
		batch.ID = id
	}

	rawOps, ok := data["ops"]
	if !ok {
		// Some curators emit {"operations": [...]}.
		rawOps = data["operations"]
	}
	list, ok := rawOps.([]interface{})
	if !ok {
		if rawOps == nil {
			return batch, nil
		}
		return batch, fmt.Errorf("delta ops must be a list, got %T", rawOps)
	}

	for i, raw := range list {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return batch, fmt.Errorf("delta op %d must be an object, got %T", i, raw)
		}
		op := Operation{
			Kind:    OpKind(strings.ToUpper(stringField(m, "kind"))),
			Target:  stringField(m, "target"),
			Section: stringField(m, "section"),
			Content: stringField(m, "content"),
		}
		if op.Target == "" {
			op.Target = stringField(m, "id")
		}
		if rawTags, ok := m["tags"].([]interface{}); ok {
			for _, t := range rawTags {
				if s, ok := t.(string); ok {
					op.Tags = append(op.Tags, s)
				}
			}
		}
		batch.Ops = append(batch.Ops, op)
	}

	if err := batch.Validate(); err != nil {
		return DeltaBatch{}, err
	}
	return batch, nil
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		switch s := v.(type) {
		case string:
			return s
		case fmt.Stringer:
			return s.String()
		}
	}
	return ""
}
