package bridge

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/playbookd/internal/hooks"
	"github.com/fyrsmithlabs/playbookd/internal/playbook"
	"github.com/fyrsmithlabs/playbookd/internal/roles"
)

// DeltaTracker collects every curator delta observed on a session's hook
// bus. It is safe for concurrent use and keeps batches in emission order.
type DeltaTracker struct {
	mu     sync.Mutex
	deltas []playbook.DeltaBatch
}

// NewDeltaTracker creates an empty tracker.
func NewDeltaTracker() *DeltaTracker {
	return &DeltaTracker{}
}

// Matcher returns the hook matcher to register on a session bus. It reacts
// only to curator after-role events carrying a delta batch.
func (t *DeltaTracker) Matcher() *hooks.Matcher {
	return &hooks.Matcher{
		Event:       hooks.EventAfterRole,
		Description: "curator delta tracker",
		Callback: func(_ context.Context, _ string, payload hooks.Payload) error {
			if payload["role"] != string(roles.RoleCurator) {
				return nil
			}
			batch, ok := payload["delta"].(playbook.DeltaBatch)
			if !ok {
				return nil
			}
			t.mu.Lock()
			t.deltas = append(t.deltas, batch)
			t.mu.Unlock()
			return nil
		},
	}
}

// Deltas returns a copy of the observed batches.
func (t *DeltaTracker) Deltas() []playbook.DeltaBatch {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]playbook.DeltaBatch, len(t.deltas))
	copy(out, t.deltas)
	return out
}

// DeltaIDs returns the ids of the observed batches, in order.
func (t *DeltaTracker) DeltaIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.deltas))
	for _, d := range t.deltas {
		ids = append(ids, d.ID)
	}
	return ids
}
