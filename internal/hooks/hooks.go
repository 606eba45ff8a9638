package hooks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/playbookd/internal/logging"
)

// Recognized event labels.
const (
	// EventBeforeRole fires before a role invocation starts.
	EventBeforeRole = "before-role"

	// EventAfterRole fires after a role invocation returns, carrying the
	// normalized output.
	EventAfterRole = "after-role"

	// EventEnvironmentFeedback fires when the environment reports back on a
	// producer outcome.
	EventEnvironmentFeedback = "environment-feedback"
)

// Payload carries event data. Keys are event-specific; see the bridge for
// the role-invocation payload shape.
type Payload map[string]interface{}

// Callback handles a single event emission.
type Callback func(ctx context.Context, event string, payload Payload) error

// Matcher binds an event label to a callback. Matchers have no identity
// beyond the label and callback reference; registering the same *Matcher
// twice is a no-op, while two distinct matchers may share a label.
type Matcher struct {
	Event       string
	Callback    Callback
	Description string
}

// Matches reports whether the matcher handles the given event label.
func (m *Matcher) Matches(event string) bool {
	return m.Event == event
}

// Bus broadcasts events to registered matchers in registration order.
type Bus struct {
	logger    *logging.Logger
	matchers  []*Matcher
	onFailure func(event string)
}

// NewBus creates a bus. A nil logger falls back to a nop logger.
func NewBus(logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Bus{logger: logger.Named("hooks")}
}

// Register adds a matcher. Duplicate matcher pointers are ignored.
func (b *Bus) Register(matchers ...*Matcher) {
	for _, m := range matchers {
		if m == nil || m.Callback == nil {
			continue
		}
		if b.registered(m) {
			continue
		}
		b.matchers = append(b.matchers, m)
	}
}

func (b *Bus) registered(m *Matcher) bool {
	for _, existing := range b.matchers {
		if existing == m {
			return true
		}
	}
	return false
}

// OnFailure registers a callback invoked after a hook callback errors or
// panics, in addition to the log line. At most one is kept; nil clears it.
func (b *Bus) OnFailure(fn func(event string)) {
	b.onFailure = fn
}

// Len returns the number of registered matchers.
func (b *Bus) Len() int {
	return len(b.matchers)
}

// Emit invokes every matcher whose label equals event, in registration
// order. Callback errors and panics are logged and swallowed; they must
// never affect the invocation outcome.
func (b *Bus) Emit(ctx context.Context, event string, payload Payload) {
	for _, m := range b.matchers {
		if !m.Matches(event) {
			continue
		}
		if err := b.invoke(ctx, m, event, payload); err != nil {
			b.logger.Warn(ctx, "hook callback failed",
				zap.String("event", event),
				zap.String("hook", m.Description),
				zap.Error(err),
			)
			if b.onFailure != nil {
				b.onFailure(event)
			}
		}
	}
}

func (b *Bus) invoke(ctx context.Context, m *Matcher, event string, payload Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panicked: %v", r)
		}
	}()
	return m.Callback(ctx, event, payload)
}

// NewLoggingMatcher returns a matcher that logs every emission of event at
// debug level. Useful as a default observer when nothing else is wired.
func NewLoggingMatcher(logger *logging.Logger, event string) *Matcher {
	return &Matcher{
		Event:       event,
		Description: "debug-log " + event,
		Callback: func(ctx context.Context, ev string, payload Payload) error {
			logger.Debug(ctx, "hook event", zap.String("event", ev), zap.Any("payload_keys", payloadKeys(payload)))
			return nil
		},
	}
}

func payloadKeys(p Payload) []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	return keys
}
