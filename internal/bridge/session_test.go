package bridge

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/playbookd/internal/hooks"
	"github.com/fyrsmithlabs/playbookd/internal/playbook"
	"github.com/fyrsmithlabs/playbookd/internal/roles"
)

// scriptedBackend replays a fixed message sequence for every invocation.
// Blocks with toolUseID "@req" are rewritten to the actual request id so
// tests exercise the correlation path without knowing the generated id.
type scriptedBackend struct {
	messages  []Message
	invokeErr error
	streamErr error

	requests []Request
	closed   int
}

func (b *scriptedBackend) Invoke(_ context.Context, req Request) (MessageStream, error) {
	b.requests = append(b.requests, req)
	if b.invokeErr != nil {
		return nil, b.invokeErr
	}
	msgs := make([]Message, len(b.messages))
	for i, m := range b.messages {
		blocks := make([]Block, len(m.Blocks))
		for j, blk := range m.Blocks {
			if blk.ToolUseID == "@req" {
				blk.ToolUseID = req.RequestID
			}
			blocks[j] = blk
		}
		m.Blocks = blocks
		msgs[i] = m
	}
	return &scriptedStream{backend: b, messages: msgs, err: b.streamErr}, nil
}

type scriptedStream struct {
	backend  *scriptedBackend
	messages []Message
	err      error
	pos      int
}

func (s *scriptedStream) Next(context.Context) (Message, error) {
	if s.pos >= len(s.messages) {
		if s.err != nil {
			return Message{}, s.err
		}
		return Message{}, io.EOF
	}
	msg := s.messages[s.pos]
	s.pos++
	return msg, nil
}

func (s *scriptedStream) Close() error {
	s.backend.closed++
	return nil
}

func resultOK() Message {
	return Message{Type: MessageResult, Result: "done"}
}

func toolResult(content interface{}) Message {
	return Message{Type: MessageAssistant, Blocks: []Block{{
		Type:      BlockTypeToolResult,
		ToolUseID: "@req",
		Content:   content,
	}}}
}

func hookRecorder(events *[]string) []*hooks.Matcher {
	record := func(event string) *hooks.Matcher {
		return &hooks.Matcher{
			Event: event,
			Callback: func(_ context.Context, ev string, _ hooks.Payload) error {
				*events = append(*events, ev)
				return nil
			},
		}
	}
	return []*hooks.Matcher{
		record(hooks.EventBeforeRole),
		record(hooks.EventAfterRole),
		record(hooks.EventEnvironmentFeedback),
	}
}

func TestRunProducer_LocalOnly(t *testing.T) {
	pb := playbook.New()
	pb.Add(&playbook.Bullet{Section: "strategies", Content: "Break arithmetic into single operations"})

	var events []string
	sess := NewSession("sess-local", nil).
		WithLocalRoles(roles.KeywordProducer{}, nil, nil).
		WithHooks(hookRecorder(&events)...)

	out, err := sess.RunProducer(context.Background(), roles.ProducerRequest{
		Question: "What is 2 + 2? Answer with a single number: 4",
	}, pb)
	require.NoError(t, err)

	assert.NotEmpty(t, out.FinalAnswer)
	assert.NotNil(t, out.Raw)
	assert.Equal(t, []string{hooks.EventBeforeRole, hooks.EventAfterRole}, events)
}

type recordedAttempt struct {
	role, path, outcome string
}

func attemptRecorder(attempts *[]recordedAttempt) InvocationRecorder {
	return func(role, path, outcome string) {
		*attempts = append(*attempts, recordedAttempt{role, path, outcome})
	}
}

func TestSession_RecordsLocalInvocation(t *testing.T) {
	pb := playbook.New()
	pb.Add(&playbook.Bullet{Section: "strategies", Content: "Answer with a single number"})

	var attempts []recordedAttempt
	sess := NewSession("sess-rec", nil).
		WithLocalRoles(roles.KeywordProducer{}, nil, nil).
		WithInvocationRecorder(attemptRecorder(&attempts))

	_, err := sess.RunProducer(context.Background(), roles.ProducerRequest{Question: "single number"}, pb)
	require.NoError(t, err)
	assert.Equal(t, []recordedAttempt{{"producer", "local", "ok"}}, attempts)
}

func TestSession_RecordsRemoteInvocation(t *testing.T) {
	backend := &scriptedBackend{messages: []Message{
		toolResult(map[string]interface{}{"final_answer": "4"}),
		resultOK(),
	}}
	var attempts []recordedAttempt
	sess := NewSession("sess-rec", nil).
		WithBackend(backend).
		WithInvocationRecorder(attemptRecorder(&attempts))

	_, err := sess.RunProducer(context.Background(), roles.ProducerRequest{Question: "q"}, playbook.New())
	require.NoError(t, err)
	assert.Equal(t, []recordedAttempt{{"producer", "remote", "ok"}}, attempts)
}

func TestSession_RecordsFallbackAttempts(t *testing.T) {
	backend := &scriptedBackend{invokeErr: errors.New("connection refused")}
	var attempts []recordedAttempt
	sess := NewSession("sess-rec", nil).
		WithBackend(backend).
		WithLocalRoles(roles.KeywordProducer{}, nil, nil).
		WithInvocationRecorder(attemptRecorder(&attempts))

	_, err := sess.RunProducer(context.Background(), roles.ProducerRequest{Question: "q"}, playbook.New())
	require.NoError(t, err)
	assert.Equal(t, []recordedAttempt{
		{"producer", "remote", "error"},
		{"producer", "local", "ok"},
	}, attempts)
}

func TestSession_RecordsUnavailableAsError(t *testing.T) {
	var attempts []recordedAttempt
	sess := NewSession("sess-rec", nil).WithInvocationRecorder(attemptRecorder(&attempts))

	_, err := sess.RunCritic(context.Background(), roles.CriticRequest{}, playbook.New())
	var unavailable *RoleUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, []recordedAttempt{{"critic", "local", "error"}}, attempts)
}

func TestRunProducer_RemoteObjectResult(t *testing.T) {
	backend := &scriptedBackend{messages: []Message{
		toolResult(map[string]interface{}{
			"reasoning":    "recall",
			"final_answer": "Paris",
			"bullet_ids":   []interface{}{"b-0001"},
		}),
		resultOK(),
	}}
	sess := NewSession("sess-remote", nil).WithBackend(backend)

	out, err := sess.RunProducer(context.Background(), roles.ProducerRequest{Question: "capital of France"}, playbook.New())
	require.NoError(t, err)

	assert.Equal(t, "Paris", out.FinalAnswer)
	assert.Equal(t, []string{"b-0001"}, out.UsedItemIDs)
	assert.Equal(t, 1, backend.closed, "stream must be closed after drain")

	require.Len(t, backend.requests, 1)
	req := backend.requests[0]
	assert.Equal(t, roles.RoleProducer, req.Role)
	assert.Contains(t, req.RequestID, string(roles.RoleProducer))
}

func TestRunProducer_RemoteStringContent(t *testing.T) {
	backend := &scriptedBackend{messages: []Message{
		toolResult(`{"finalAnswer":"42","bulletIds":["b-1"]}`),
		resultOK(),
	}}
	sess := NewSession("sess-string", nil).WithBackend(backend)

	out, err := sess.RunProducer(context.Background(), roles.ProducerRequest{Question: "q"}, playbook.New())
	require.NoError(t, err)

	assert.Equal(t, "42", out.FinalAnswer)
	assert.Equal(t, []string{"b-1"}, out.UsedItemIDs)
}

func TestRunProducer_TerminalErrorSurfaces(t *testing.T) {
	backend := &scriptedBackend{messages: []Message{
		{Type: MessageResult, IsError: true, Result: "boom"},
	}}
	sess := NewSession("sess-err", nil).
		WithBackend(backend).
		WithLocalRoles(roles.KeywordProducer{}, nil, nil)

	_, err := sess.RunProducer(context.Background(), roles.ProducerRequest{Question: "q"}, playbook.New())

	var agentErr *AgentReportedError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, roles.RoleProducer, agentErr.Role)
	assert.Contains(t, agentErr.Error(), "boom")
}

func TestRunProducer_ErrorBlockSurfaces(t *testing.T) {
	backend := &scriptedBackend{messages: []Message{
		{Type: MessageAssistant, Blocks: []Block{{
			Type:      BlockTypeToolResult,
			ToolUseID: "@req",
			IsError:   true,
			Content:   "tool exploded",
		}}},
		resultOK(),
	}}
	sess := NewSession("sess-blockerr", nil).
		WithBackend(backend).
		WithLocalRoles(roles.KeywordProducer{}, nil, nil)

	_, err := sess.RunProducer(context.Background(), roles.ProducerRequest{Question: "q"}, playbook.New())

	var agentErr *AgentReportedError
	require.ErrorAs(t, err, &agentErr)
	assert.Contains(t, agentErr.Message, "tool exploded")
}

func TestRunProducer_TransportFailureFallsBack(t *testing.T) {
	backend := &scriptedBackend{invokeErr: errors.New("connection refused")}
	sess := NewSession("sess-fallback", nil).
		WithBackend(backend).
		WithLocalRoles(roles.KeywordProducer{}, nil, nil)

	out, err := sess.RunProducer(context.Background(), roles.ProducerRequest{Question: "anything"}, playbook.New())
	require.NoError(t, err)
	assert.NotNil(t, out.Raw)
}

func TestRunProducer_StreamFailureFallsBack(t *testing.T) {
	backend := &scriptedBackend{
		messages:  []Message{{Type: MessageAssistant}},
		streamErr: errors.New("stream reset"),
	}
	sess := NewSession("sess-streamfail", nil).
		WithBackend(backend).
		WithLocalRoles(roles.KeywordProducer{}, nil, nil)

	_, err := sess.RunProducer(context.Background(), roles.ProducerRequest{Question: "q"}, playbook.New())
	require.NoError(t, err)
	assert.Equal(t, 1, backend.closed)
}

func TestRunProducer_MalformedContentSurfaces(t *testing.T) {
	backend := &scriptedBackend{messages: []Message{
		toolResult("this is not json"),
		resultOK(),
	}}
	sess := NewSession("sess-malformed", nil).
		WithBackend(backend).
		WithLocalRoles(roles.KeywordProducer{}, nil, nil)

	_, err := sess.RunProducer(context.Background(), roles.ProducerRequest{Question: "q"}, playbook.New())
	require.ErrorIs(t, err, roles.ErrMalformedResponse)
}

func TestRunProducer_RequireRemoteWithoutBackend(t *testing.T) {
	sess := NewSession("sess-required", nil).
		WithRequireRemote(true).
		WithLocalRoles(roles.KeywordProducer{}, nil, nil)

	_, err := sess.RunProducer(context.Background(), roles.ProducerRequest{Question: "q"}, playbook.New())
	require.ErrorIs(t, err, ErrRuntimeUnavailable)
}

func TestRunProducer_NoPathAvailable(t *testing.T) {
	sess := NewSession("sess-empty", nil)

	_, err := sess.RunProducer(context.Background(), roles.ProducerRequest{Question: "q"}, playbook.New())

	var unavailable *RoleUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, roles.RoleProducer, unavailable.Role)
}

func TestRunProducer_FreshRequestIDPerAttempt(t *testing.T) {
	backend := &scriptedBackend{messages: []Message{
		toolResult(map[string]interface{}{"final_answer": "x"}),
		resultOK(),
	}}
	sess := NewSession("sess-ids", nil).WithBackend(backend)

	_, err := sess.RunProducer(context.Background(), roles.ProducerRequest{Question: "q"}, playbook.New())
	require.NoError(t, err)
	_, err = sess.RunProducer(context.Background(), roles.ProducerRequest{Question: "q"}, playbook.New())
	require.NoError(t, err)

	require.Len(t, backend.requests, 2)
	assert.NotEqual(t, backend.requests[0].RequestID, backend.requests[1].RequestID)
}

func TestRunProducer_UncorrelatedBlockIgnored(t *testing.T) {
	backend := &scriptedBackend{messages: []Message{
		{Type: MessageAssistant, Blocks: []Block{{
			Type:      BlockTypeToolResult,
			ToolUseID: "someone-elses-request",
			Content:   map[string]interface{}{"final_answer": "wrong"},
		}}},
		resultOK(),
	}}
	sess := NewSession("sess-corr", nil).
		WithBackend(backend).
		WithLocalRoles(roles.ProducerFunc(func(context.Context, roles.ProducerRequest, *playbook.Playbook) (roles.ProducerOutput, error) {
			return roles.ProducerOutput{FinalAnswer: "local", Raw: map[string]interface{}{}}, nil
		}), nil, nil)

	out, err := sess.RunProducer(context.Background(), roles.ProducerRequest{Question: "q"}, playbook.New())
	require.NoError(t, err)
	assert.Equal(t, "local", out.FinalAnswer, "uncorrelated blocks must not be treated as results")
}

func TestRunCritic_Remote(t *testing.T) {
	backend := &scriptedBackend{messages: []Message{
		toolResult(map[string]interface{}{
			"reasoning":            "compared answers",
			"error_identification": "none",
			"key_insight":          "single numbers beat prose",
			"bullet_tags": []interface{}{
				map[string]interface{}{"id": "b-0001", "tag": "helpful"},
			},
		}),
		resultOK(),
	}}
	sess := NewSession("sess-critic", nil).WithBackend(backend)

	out, err := sess.RunCritic(context.Background(), roles.CriticRequest{
		Question:    "q",
		Producer:    roles.ProducerOutput{FinalAnswer: "4"},
		GroundTruth: "4",
	}, playbook.New())
	require.NoError(t, err)

	assert.Equal(t, "single numbers beat prose", out.KeyInsight)
	require.Len(t, out.ItemTags, 1)
	assert.Equal(t, roles.TagHelpful, out.ItemTags[0].Tag)
}

func TestRunCritic_LocalFallback(t *testing.T) {
	backend := &scriptedBackend{invokeErr: errors.New("no route to host")}
	sess := NewSession("sess-critic-local", nil).
		WithBackend(backend).
		WithLocalRoles(nil, roles.ComparisonCritic{}, nil)

	pb := playbook.New()
	id := pb.Add(&playbook.Bullet{Section: "strategies", Content: "Answer concisely"})

	out, err := sess.RunCritic(context.Background(), roles.CriticRequest{
		Question:    "q",
		Producer:    roles.ProducerOutput{FinalAnswer: "4", UsedItemIDs: []string{id}},
		GroundTruth: "4",
	}, pb)
	require.NoError(t, err)
	require.Len(t, out.ItemTags, 1)
	assert.Equal(t, roles.TagHelpful, out.ItemTags[0].Tag)
}

func TestRunCurator_RemoteDelta(t *testing.T) {
	backend := &scriptedBackend{messages: []Message{
		toolResult(map[string]interface{}{
			"delta": map[string]interface{}{
				"id": "delta-remote",
				"ops": []interface{}{
					map[string]interface{}{"kind": "ADD", "section": "lessons", "content": "verify units"},
				},
			},
		}),
		resultOK(),
	}}

	var afterDelta playbook.DeltaBatch
	sess := NewSession("sess-curator", nil).
		WithBackend(backend).
		WithHooks(&hooks.Matcher{
			Event: hooks.EventAfterRole,
			Callback: func(_ context.Context, _ string, p hooks.Payload) error {
				if d, ok := p["delta"].(playbook.DeltaBatch); ok {
					afterDelta = d
				}
				return nil
			},
		})

	out, err := sess.RunCurator(context.Background(), roles.CuratorRequest{}, playbook.New())
	require.NoError(t, err)

	assert.Equal(t, "delta-remote", out.Delta.ID)
	require.Len(t, out.Delta.Ops, 1)
	assert.Equal(t, playbook.OpAdd, out.Delta.Ops[0].Kind)
	assert.Equal(t, "delta-remote", afterDelta.ID, "after-role payload carries the delta")
}

func TestRunCurator_BadDeltaSurfaces(t *testing.T) {
	backend := &scriptedBackend{messages: []Message{
		toolResult(map[string]interface{}{
			"delta": map[string]interface{}{
				"ops": []interface{}{
					map[string]interface{}{"kind": "EXPLODE"},
				},
			},
		}),
		resultOK(),
	}}
	sess := NewSession("sess-baddelta", nil).
		WithBackend(backend).
		WithLocalRoles(nil, nil, roles.InsightCurator{})

	_, err := sess.RunCurator(context.Background(), roles.CuratorRequest{}, playbook.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, playbook.ErrUnknownOpKind)
}

func TestEmitEnvironmentFeedback(t *testing.T) {
	var events []string
	var payload hooks.Payload
	sess := NewSession("sess-env", nil).WithHooks(&hooks.Matcher{
		Event: hooks.EventEnvironmentFeedback,
		Callback: func(_ context.Context, ev string, p hooks.Payload) error {
			events = append(events, ev)
			payload = p
			return nil
		},
	})

	sess.EmitEnvironmentFeedback(context.Background(), EnvironmentFeedback{
		Question: "q",
		Producer: roles.ProducerOutput{FinalAnswer: "4"},
		Feedback: "correct",
	})

	require.Equal(t, []string{hooks.EventEnvironmentFeedback}, events)
	assert.Equal(t, "correct", payload["feedback"])
}
