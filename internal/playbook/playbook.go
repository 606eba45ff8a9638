package playbook

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Bullet is a single strategy item in the playbook.
type Bullet struct {
	// ID is the stable bullet identifier (e.g. "b-0001").
	ID string `json:"id"`

	// Section groups related bullets (e.g. "testing", "api-design").
	Section string `json:"section,omitempty"`

	// Content is the strategy text shown to roles.
	Content string `json:"content"`

	// Tags are free-form labels attached by TAG operations.
	Tags []string `json:"tags,omitempty"`

	// HelpfulCount and HarmfulCount track critic feedback over time.
	HelpfulCount int `json:"helpful_count"`
	HarmfulCount int `json:"harmful_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Playbook is the mutable strategy repository. It is owned by the caller of
// the invocation bridge; one cycle mutates it at a time.
type Playbook struct {
	bullets []*Bullet
	index   map[string]*Bullet
	nextSeq int
}

// New creates an empty playbook.
func New() *Playbook {
	return &Playbook{
		index:   make(map[string]*Bullet),
		nextSeq: 1,
	}
}

// Len returns the number of bullets.
func (p *Playbook) Len() int {
	return len(p.bullets)
}

// Get returns the bullet with the given ID, or nil.
func (p *Playbook) Get(id string) *Bullet {
	return p.index[id]
}

// Bullets returns bullets in insertion order. The slice is a copy; the
// bullets are not.
func (p *Playbook) Bullets() []*Bullet {
	out := make([]*Bullet, len(p.bullets))
	copy(out, p.bullets)
	return out
}

// Add appends a bullet, assigning an ID when the bullet carries none.
// Returns the assigned ID.
func (p *Playbook) Add(b *Bullet) string {
	if b.ID == "" {
		b.ID = p.allocateID()
	}
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	p.bullets = append(p.bullets, b)
	p.index[b.ID] = b
	return b.ID
}

func (p *Playbook) allocateID() string {
	for {
		id := fmt.Sprintf("b-%04d", p.nextSeq)
		p.nextSeq++
		if _, exists := p.index[id]; !exists {
			return id
		}
	}
}

// MarkUsage applies critic feedback counters to a bullet. Unknown IDs are
// ignored so stale critiques cannot fail a cycle.
func (p *Playbook) MarkUsage(id string, helpful bool) {
	b := p.index[id]
	if b == nil {
		return
	}
	if helpful {
		b.HelpfulCount++
	} else {
		b.HarmfulCount++
	}
	b.UpdatedAt = time.Now()
}

// AsPrompt renders the playbook as prompt text for role invocations.
func (p *Playbook) AsPrompt() string {
	if len(p.bullets) == 0 {
		return "(playbook is empty)"
	}
	var sb strings.Builder
	section := ""
	for _, b := range p.bullets {
		if b.Section != "" && b.Section != section {
			section = b.Section
			fmt.Fprintf(&sb, "## %s\n", section)
		}
		fmt.Fprintf(&sb, "- [%s] %s", b.ID, b.Content)
		if len(b.Tags) > 0 {
			fmt.Fprintf(&sb, " (%s)", strings.Join(b.Tags, ", "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// persisted is the on-disk JSON shape.
type persisted struct {
	Bullets []*Bullet `json:"bullets"`
	NextSeq int       `json:"next_seq"`
}

// Load reads a playbook from a JSON file. A missing file yields an empty
// playbook so a first run needs no scaffolding.
func Load(path string) (*Playbook, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read playbook: %w", err)
	}
	var doc persisted
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse playbook %s: %w", path, err)
	}
	p := New()
	for _, b := range doc.Bullets {
		p.bullets = append(p.bullets, b)
		p.index[b.ID] = b
	}
	if doc.NextSeq > 0 {
		p.nextSeq = doc.NextSeq
	}
	return p, nil
}

// Save writes the playbook to a JSON file.
func (p *Playbook) Save(path string) error {
	doc := persisted{Bullets: p.bullets, NextSeq: p.nextSeq}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal playbook: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write playbook: %w", err)
	}
	return nil
}
