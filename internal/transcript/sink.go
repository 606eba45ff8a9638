package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fyrsmithlabs/playbookd/internal/cycle"
	"github.com/fyrsmithlabs/playbookd/internal/hooks"
)

// RecordKind tags a transcript record.
type RecordKind string

const (
	KindRoleEvent       RecordKind = "role-event"
	KindPhaseTransition RecordKind = "phase-transition"
)

// Record is one transcript line.
type Record struct {
	Timestamp time.Time  `json:"timestamp"`
	SessionID string     `json:"session_id,omitempty"`
	Kind      RecordKind `json:"kind"`

	// Event and Role are set on role-event records.
	Event string                 `json:"event,omitempty"`
	Role  string                 `json:"role,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty"`

	// Transition is set on phase-transition records.
	Transition *cycle.PhaseTransition `json:"transition,omitempty"`
}

// Sink appends records to a JSONL file. Safe for concurrent writers.
type Sink struct {
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
}

// OpenSink opens (or creates) the transcript file for appending.
func OpenSink(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open transcript %s: %w", path, err)
	}
	return &Sink{file: f, w: bufio.NewWriter(f)}, nil
}

// Write appends one record, stamping the time when unset.
func (s *Sink) Write(rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal transcript record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("write transcript record: %w", err)
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write transcript record: %w", err)
	}
	return s.w.Flush()
}

// Close flushes and closes the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush transcript: %w", err)
	}
	return s.file.Close()
}

// Read loads every record from a transcript file in order. Lines that do
// not parse are returned as an error with their line number.
func Read(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript %s: %w", path, err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("transcript %s line %d: %w", path, line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcript %s: %w", path, err)
	}
	return records, nil
}

// Matchers returns hook matchers that record every role event to the sink.
// Write failures propagate as callback errors, which the bus logs and
// swallows, so a full disk never breaks an invocation.
func (s *Sink) Matchers(sessionID string) []*hooks.Matcher {
	events := []string{hooks.EventBeforeRole, hooks.EventAfterRole, hooks.EventEnvironmentFeedback}
	matchers := make([]*hooks.Matcher, 0, len(events))
	for _, event := range events {
		matchers = append(matchers, &hooks.Matcher{
			Event:       event,
			Description: "transcript recorder",
			Callback: func(_ context.Context, ev string, payload hooks.Payload) error {
				role, _ := payload["role"].(string)
				return s.Write(Record{
					SessionID: sessionID,
					Kind:      KindRoleEvent,
					Event:     ev,
					Role:      role,
					Data:      map[string]interface{}(payload),
				})
			},
		})
	}
	return matchers
}

// Observer returns a transition observer that records phase transitions.
func (s *Sink) Observer(sessionID string) cycle.TransitionObserver {
	return func(tr cycle.PhaseTransition) {
		_ = s.Write(Record{
			SessionID:  sessionID,
			Kind:       KindPhaseTransition,
			Transition: &tr,
		})
	}
}
