package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/playbookd/internal/logging"
)

func TestRegister_DuplicateIsNoOp(t *testing.T) {
	bus := NewBus(nil)
	m := &Matcher{Event: EventBeforeRole, Callback: func(context.Context, string, Payload) error { return nil }}

	bus.Register(m)
	bus.Register(m)
	assert.Equal(t, 1, bus.Len())
}

func TestRegister_NilSkipped(t *testing.T) {
	bus := NewBus(nil)
	bus.Register(nil, &Matcher{Event: "x"}) // nil callback also skipped
	assert.Equal(t, 0, bus.Len())
}

func TestEmit_RegistrationOrder(t *testing.T) {
	bus := NewBus(nil)
	var order []string

	record := func(name string) *Matcher {
		return &Matcher{
			Event: EventAfterRole,
			Callback: func(context.Context, string, Payload) error {
				order = append(order, name)
				return nil
			},
		}
	}
	bus.Register(record("first"), record("second"), record("third"))
	bus.Register(&Matcher{
		Event:    EventBeforeRole,
		Callback: func(context.Context, string, Payload) error { order = append(order, "wrong-label"); return nil },
	})

	bus.Emit(context.Background(), EventAfterRole, Payload{})
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestEmit_IsolatesFailures(t *testing.T) {
	tl := logging.NewTestLogger()
	bus := NewBus(tl.Logger)

	var reached bool
	bus.Register(
		&Matcher{
			Event:       EventBeforeRole,
			Description: "always-errors",
			Callback:    func(context.Context, string, Payload) error { return errors.New("boom") },
		},
		&Matcher{
			Event:       EventBeforeRole,
			Description: "always-panics",
			Callback:    func(context.Context, string, Payload) error { panic("kaboom") },
		},
		&Matcher{
			Event:    EventBeforeRole,
			Callback: func(context.Context, string, Payload) error { reached = true; return nil },
		},
	)

	bus.Emit(context.Background(), EventBeforeRole, Payload{"role": "producer"})

	assert.True(t, reached, "later hooks must still run after failures")
	tl.AssertLogged(t, zapcore.WarnLevel, "hook callback failed")
	require.Len(t, tl.FilterMessage("hook callback failed").All(), 2)
}

func TestEmit_FailureCallback(t *testing.T) {
	bus := NewBus(nil)
	var failed []string
	bus.OnFailure(func(event string) { failed = append(failed, event) })

	bus.Register(
		&Matcher{Event: EventBeforeRole, Callback: func(context.Context, string, Payload) error { return errors.New("boom") }},
		&Matcher{Event: EventBeforeRole, Callback: func(context.Context, string, Payload) error { panic("kaboom") }},
		&Matcher{Event: EventAfterRole, Callback: func(context.Context, string, Payload) error { return nil }},
	)

	bus.Emit(context.Background(), EventBeforeRole, nil)
	bus.Emit(context.Background(), EventAfterRole, nil)
	assert.Equal(t, []string{EventBeforeRole, EventBeforeRole}, failed)
}

func TestEmit_SharedLabel(t *testing.T) {
	bus := NewBus(nil)
	calls := 0
	cb := func(context.Context, string, Payload) error { calls++; return nil }
	bus.Register(
		&Matcher{Event: EventEnvironmentFeedback, Callback: cb},
		&Matcher{Event: EventEnvironmentFeedback, Callback: cb},
	)
	bus.Emit(context.Background(), EventEnvironmentFeedback, nil)
	assert.Equal(t, 2, calls)
}
