package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/playbookd/internal/hooks"
	"github.com/fyrsmithlabs/playbookd/internal/logging"
	"github.com/fyrsmithlabs/playbookd/internal/playbook"
	"github.com/fyrsmithlabs/playbookd/internal/roles"
)

// InvocationRecorder observes completed role invocation attempts. The path
// is "remote" or "local", the outcome "ok" or "error".
type InvocationRecorder func(role, path, outcome string)

// Execution paths and outcomes reported to the invocation recorder.
const (
	pathRemote = "remote"
	pathLocal  = "local"

	outcomeOK    = "ok"
	outcomeError = "error"
)

// Session coordinates role invocations for one adaptation loop. It owns the
// hook bus, the optional remote backend, and the local role registrations.
// The playbook is passed by reference into invocations and never mutated by
// the session; callers apply curator deltas themselves.
type Session struct {
	id     string
	logger *logging.Logger
	bus    *hooks.Bus

	backend       Backend
	requireRemote bool
	recorder      InvocationRecorder

	producer roles.Producer
	critic   roles.Critic
	curator  roles.Curator

	// current is the envelope of the in-flight remote attempt, if any.
	current *envelope
}

// NewSession creates a session with its own child logger. Roles and backend
// are attached with the With* builders.
func NewSession(id string, logger *logging.Logger) *Session {
	if logger == nil {
		logger = logging.NewNop()
	}
	sessionLogger := logger.Named("bridge").ForSession(id)
	return &Session{
		id:     id,
		logger: sessionLogger,
		bus:    hooks.NewBus(sessionLogger),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Hooks returns the session's hook bus for observer registration.
func (s *Session) Hooks() *hooks.Bus { return s.bus }

// WithBackend attaches a remote backend.
func (s *Session) WithBackend(b Backend) *Session {
	s.backend = b
	return s
}

// WithRequireRemote makes a missing backend a fatal misconfiguration
// instead of a silent local-only session.
func (s *Session) WithRequireRemote(required bool) *Session {
	s.requireRemote = required
	return s
}

// WithLocalRoles registers local fallback implementations. Nil arguments
// leave the existing registration untouched.
func (s *Session) WithLocalRoles(p roles.Producer, c roles.Critic, cu roles.Curator) *Session {
	if p != nil {
		s.producer = p
	}
	if c != nil {
		s.critic = c
	}
	if cu != nil {
		s.curator = cu
	}
	return s
}

// WithInvocationRecorder attaches an observer for invocation attempts,
// typically telemetry.
func (s *Session) WithInvocationRecorder(rec InvocationRecorder) *Session {
	s.recorder = rec
	return s
}

func (s *Session) recordInvocation(role roles.Name, path, outcome string) {
	if s.recorder != nil {
		s.recorder(string(role), path, outcome)
	}
}

// WithHooks registers hook matchers on the session bus.
func (s *Session) WithHooks(matchers ...*hooks.Matcher) *Session {
	s.bus.Register(matchers...)
	return s
}

// Close releases the backend if it is closable.
func (s *Session) Close() error {
	if closer, ok := s.backend.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// RunProducer invokes the producer role through the dual-path algorithm.
func (s *Session) RunProducer(ctx context.Context, req roles.ProducerRequest, pb *playbook.Playbook) (roles.ProducerOutput, error) {
	ctx = logging.WithSessionID(ctx, s.id)
	payload := hooks.Payload{
		"role":       string(roles.RoleProducer),
		"question":   req.Question,
		"context":    req.Context,
		"reflection": req.Reflection,
	}
	s.bus.Emit(ctx, hooks.EventBeforeRole, payload)

	var out roles.ProducerOutput
	got := false

	if s.remoteConfigured() {
		data, ok, err := s.invokeRemote(ctx, roles.RoleProducer, map[string]interface{}{
			"question":   req.Question,
			"context":    req.Context,
			"playbook":   pb.AsPrompt(),
			"reflection": req.Reflection,
		})
		if err != nil {
			return roles.ProducerOutput{}, err
		}
		if ok {
			out = roles.DecodeProducer(data)
			got = true
		}
	} else if s.requireRemote {
		s.recordInvocation(roles.RoleProducer, pathRemote, outcomeError)
		return roles.ProducerOutput{}, fmt.Errorf("%w: backend required but not configured", ErrRuntimeUnavailable)
	}

	if !got {
		if s.producer == nil {
			s.recordInvocation(roles.RoleProducer, pathLocal, outcomeError)
			return roles.ProducerOutput{}, &RoleUnavailableError{Role: roles.RoleProducer}
		}
		local, err := s.producer.Produce(ctx, req, pb)
		if err != nil {
			s.recordInvocation(roles.RoleProducer, pathLocal, outcomeError)
			return roles.ProducerOutput{}, fmt.Errorf("local producer: %w", err)
		}
		out = local
		s.recordInvocation(roles.RoleProducer, pathLocal, outcomeOK)
	}

	payload["output"] = out
	payload["result"] = out.Raw
	s.bus.Emit(ctx, hooks.EventAfterRole, payload)
	return out, nil
}

// RunCritic invokes the critic role through the dual-path algorithm.
func (s *Session) RunCritic(ctx context.Context, req roles.CriticRequest, pb *playbook.Playbook) (roles.CriticOutput, error) {
	ctx = logging.WithSessionID(ctx, s.id)
	payload := hooks.Payload{
		"role":         string(roles.RoleCritic),
		"question":     req.Question,
		"ground_truth": req.GroundTruth,
		"feedback":     req.Feedback,
	}
	s.bus.Emit(ctx, hooks.EventBeforeRole, payload)

	var out roles.CriticOutput
	got := false

	if s.remoteConfigured() {
		data, ok, err := s.invokeRemote(ctx, roles.RoleCritic, map[string]interface{}{
			"question":           req.Question,
			"producer_answer":    req.Producer.FinalAnswer,
			"producer_reasoning": req.Producer.Reasoning,
			"producer_item_ids":  req.Producer.UsedItemIDs,
			"playbook":           pb.AsPrompt(),
			"ground_truth":       req.GroundTruth,
			"feedback":           req.Feedback,
		})
		if err != nil {
			return roles.CriticOutput{}, err
		}
		if ok {
			out = roles.DecodeCritic(data)
			got = true
		}
	} else if s.requireRemote {
		s.recordInvocation(roles.RoleCritic, pathRemote, outcomeError)
		return roles.CriticOutput{}, fmt.Errorf("%w: backend required but not configured", ErrRuntimeUnavailable)
	}

	if !got {
		if s.critic == nil {
			s.recordInvocation(roles.RoleCritic, pathLocal, outcomeError)
			return roles.CriticOutput{}, &RoleUnavailableError{Role: roles.RoleCritic}
		}
		local, err := s.critic.Critique(ctx, req, pb)
		if err != nil {
			s.recordInvocation(roles.RoleCritic, pathLocal, outcomeError)
			return roles.CriticOutput{}, fmt.Errorf("local critic: %w", err)
		}
		out = local
		s.recordInvocation(roles.RoleCritic, pathLocal, outcomeOK)
	}

	payload["output"] = out
	payload["result"] = out.Raw
	s.bus.Emit(ctx, hooks.EventAfterRole, payload)
	return out, nil
}

// RunCurator invokes the curator role through the dual-path algorithm. The
// after-role payload additionally carries the decoded delta batch.
func (s *Session) RunCurator(ctx context.Context, req roles.CuratorRequest, pb *playbook.Playbook) (roles.CuratorOutput, error) {
	ctx = logging.WithSessionID(ctx, s.id)
	payload := hooks.Payload{
		"role":     string(roles.RoleCurator),
		"progress": req.Progress,
	}
	s.bus.Emit(ctx, hooks.EventBeforeRole, payload)

	var out roles.CuratorOutput
	got := false

	if s.remoteConfigured() {
		data, ok, err := s.invokeRemote(ctx, roles.RoleCurator, map[string]interface{}{
			"critique":         req.Critique.Raw,
			"key_insight":      req.Critique.KeyInsight,
			"playbook":         pb.AsPrompt(),
			"question_context": req.QuestionContext,
			"progress":         req.Progress,
		})
		if err != nil {
			return roles.CuratorOutput{}, err
		}
		if ok {
			decoded, err := roles.DecodeCurator(data)
			if err != nil {
				return roles.CuratorOutput{}, err
			}
			out = decoded
			got = true
		}
	} else if s.requireRemote {
		s.recordInvocation(roles.RoleCurator, pathRemote, outcomeError)
		return roles.CuratorOutput{}, fmt.Errorf("%w: backend required but not configured", ErrRuntimeUnavailable)
	}

	if !got {
		if s.curator == nil {
			s.recordInvocation(roles.RoleCurator, pathLocal, outcomeError)
			return roles.CuratorOutput{}, &RoleUnavailableError{Role: roles.RoleCurator}
		}
		local, err := s.curator.Curate(ctx, req, pb)
		if err != nil {
			s.recordInvocation(roles.RoleCurator, pathLocal, outcomeError)
			return roles.CuratorOutput{}, fmt.Errorf("local curator: %w", err)
		}
		out = local
		s.recordInvocation(roles.RoleCurator, pathLocal, outcomeOK)
	}

	payload["output"] = out
	payload["result"] = out.Raw
	payload["delta"] = out.Delta
	s.bus.Emit(ctx, hooks.EventAfterRole, payload)
	return out, nil
}

// EnvironmentFeedback reports the environment's judgement of a producer
// outcome back to observers.
type EnvironmentFeedback struct {
	Question    string
	Producer    roles.ProducerOutput
	Feedback    string
	GroundTruth string
	Metrics     map[string]float64
}

// EmitEnvironmentFeedback broadcasts environment feedback on the hook bus.
func (s *Session) EmitEnvironmentFeedback(ctx context.Context, fb EnvironmentFeedback) {
	ctx = logging.WithSessionID(ctx, s.id)
	s.bus.Emit(ctx, hooks.EventEnvironmentFeedback, hooks.Payload{
		"role":         string(roles.RoleProducer),
		"question":     fb.Question,
		"output":       fb.Producer,
		"feedback":     fb.Feedback,
		"ground_truth": fb.GroundTruth,
		"metrics":      fb.Metrics,
	})
}

func (s *Session) remoteConfigured() bool {
	return s.backend != nil
}

// invokeRemote runs one remote attempt: submit the correlation envelope,
// drain the exchange, and reconcile whatever arrived. The bool result
// reports whether a candidate result was captured. Transient transport
// failures are logged and reported as "no remote result"; fatal errors
// (misconfiguration, agent-reported failure, decode failure) return err.
func (s *Session) invokeRemote(ctx context.Context, role roles.Name, payload map[string]interface{}) (map[string]interface{}, bool, error) {
	env := newEnvelope(role)
	s.current = env
	defer func() { s.current = nil }()

	ctx = logging.WithRequestID(ctx, env.requestID)

	content, err := s.drainExchange(ctx, env, payload)
	if err != nil {
		s.recordInvocation(role, pathRemote, outcomeError)
		if fatalRemoteError(err) {
			return nil, false, err
		}
		s.logger.Warn(ctx, "remote attempt failed, using local fallback",
			zap.String("role", string(role)),
			zap.Error(err),
		)
		return nil, false, nil
	}
	if content == nil {
		s.logger.Debug(ctx, "exchange drained with no candidate result",
			zap.String("role", string(role)))
		return nil, false, nil
	}

	data, err := roles.ParseToolContent(content)
	if err != nil {
		// Decode failures surface: the backend answered, but with garbage.
		s.recordInvocation(role, pathRemote, outcomeError)
		return nil, false, fmt.Errorf("role %s: %w", role, err)
	}
	s.recordInvocation(role, pathRemote, outcomeOK)
	return data, true, nil
}

// drainExchange consumes every message of a one-shot exchange and returns
// the candidate result content, or nil when the exchange completed without
// a correlated tool result.
func (s *Session) drainExchange(ctx context.Context, env *envelope, payload map[string]interface{}) (interface{}, error) {
	stream, err := s.backend.Invoke(ctx, Request{
		RequestID: env.requestID,
		Role:      env.role,
		Payload:   payload,
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = stream.Close() }()

	var candidate interface{}
	for {
		msg, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return candidate, nil
		}
		if err != nil {
			return nil, err
		}

		switch msg.Type {
		case MessageAssistant:
			for _, block := range msg.Blocks {
				if block.Type != BlockTypeToolResult || block.ToolUseID != env.requestID {
					continue
				}
				if block.IsError {
					return nil, &AgentReportedError{
						Role:    env.role,
						Message: fmt.Sprintf("%v", block.Content),
					}
				}
				candidate = block.Content
			}
		case MessageResult:
			if msg.IsError {
				message := msg.Result
				if message == "" {
					message = fmt.Sprintf("agent %s reported an error", env.role)
				}
				return nil, &AgentReportedError{Role: env.role, Message: message}
			}
		default:
			s.logger.Trace(ctx, "ignoring unknown message type", zap.String("type", string(msg.Type)))
		}
	}
}
