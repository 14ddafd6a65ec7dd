package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSelector returns queued askUser calls, then nil.
type scriptedSelector struct {
	calls []*FunctionCall
	err   error
	seen  int
}

func (s *scriptedSelector) SelectAction(ctx context.Context, conv *Conversation, def FunctionDef) (*FunctionCall, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.seen >= len(s.calls) {
		return nil, nil
	}
	c := s.calls[s.seen]
	s.seen++
	return c, nil
}

func ask(id string, t ActionType) *FunctionCall {
	return &FunctionCall{ID: id, Name: AskUserFunction, Args: map[string]any{"actionType": string(t), "message": "msg " + id}}
}

type preparerFunc func(ctx context.Context, conv *Conversation) (bool, error)

func (f preparerFunc) PrepareContext(ctx context.Context, conv *Conversation) (bool, error) {
	return f(ctx, conv)
}

func newTestConversation(opts Options) *Conversation {
	return NewConversation(context.Background(), ConversationConfig{SystemPrompt: "sys", Options: opts})
}

func TestDispatcherRunsUntilBreak(t *testing.T) {
	reg := NewRegistry()
	var order []string
	reg.Register(ActionExplanation, "explain", HandlerFunc(func(ctx context.Context, conv *Conversation, call FunctionCall) (ActionResult, error) {
		order = append(order, "explanation:"+call.ID)
		return ActionResult{}, nil
	}))
	reg.Register(ActionCancelCodeGeneration, "cancel", HandlerFunc(func(ctx context.Context, conv *Conversation, call FunctionCall) (ActionResult, error) {
		order = append(order, "cancel:"+call.ID)
		return ActionResult{BreakLoop: true}, nil
	}))

	sel := &scriptedSelector{calls: []*FunctionCall{ask("1", ActionExplanation), ask("2", ActionCancelCodeGeneration), ask("3", ActionExplanation)}}
	conv := newTestConversation(DefaultOptions())
	defer conv.Close()

	res, err := NewDispatcher(reg, sel, nil).Run(context.Background(), conv, "do it")
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 2, res.Steps)
	assert.Equal(t, []string{"explanation:1", "cancel:2"}, order)
	require.NoError(t, conv.Transcript.Validate())
	assert.Empty(t, conv.Transcript.OpenCalls())
}

func TestDispatcherNoAction(t *testing.T) {
	conv := newTestConversation(DefaultOptions())
	defer conv.Close()

	res, err := NewDispatcher(NewRegistry(), &scriptedSelector{}, nil).Run(context.Background(), conv, "hello")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoAction, res.Outcome)
}

func TestDispatcherUnknownActionType(t *testing.T) {
	conv := newTestConversation(DefaultOptions())
	defer conv.Close()

	sel := &scriptedSelector{calls: []*FunctionCall{ask("1", ActionType("launchRockets"))}}
	res, err := NewDispatcher(NewRegistry(), sel, nil).Run(context.Background(), conv, "hello")

	var unknown *UnknownActionTypeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "launchRockets", unknown.ActionType)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	require.NoError(t, conv.Transcript.Validate())
}

func TestDispatcherStepBudget(t *testing.T) {
	reg := NewRegistry()
	reg.Register(ActionExplanation, "explain", HandlerFunc(func(ctx context.Context, conv *Conversation, call FunctionCall) (ActionResult, error) {
		return ActionResult{}, nil
	}))
	calls := make([]*FunctionCall, 10)
	for i := range calls {
		calls[i] = ask(string(rune('a'+i)), ActionExplanation)
	}

	opts := DefaultOptions()
	opts.MaxSteps = 3
	conv := newTestConversation(opts)
	defer conv.Close()

	res, err := NewDispatcher(reg, &scriptedSelector{calls: calls}, nil).Run(context.Background(), conv, "loop")
	require.NoError(t, err)
	assert.Equal(t, OutcomeStepLimit, res.Outcome)
	assert.Equal(t, 3, res.Steps)
	require.Len(t, conv.Notices(), 1)
	assert.Contains(t, conv.Notices()[0], "Step budget")
}

func TestDispatcherAbortMidHandler(t *testing.T) {
	reg := NewRegistry()
	reg.Register(ActionUpdateFile, "update", HandlerFunc(func(ctx context.Context, conv *Conversation, call FunctionCall) (ActionResult, error) {
		conv.Acknowledge(call, "updating", "", "")
		// Simulate an in-flight call that never got its response.
		conv.Transcript.Append(Message{Role: RoleAssistant, FunctionCalls: []FunctionCall{{ID: "inner", Name: "updateFile"}}})
		conv.Cancel()
		return ActionResult{}, conv.Checkpoint(ctx)
	}))

	conv := newTestConversation(DefaultOptions())
	defer conv.Close()

	sel := &scriptedSelector{calls: []*FunctionCall{ask("1", ActionUpdateFile), ask("2", ActionUpdateFile)}}
	res, err := NewDispatcher(reg, sel, nil).Run(context.Background(), conv, "change")

	require.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, OutcomeAborted, res.Outcome)
	assert.Equal(t, 1, sel.seen)
	require.NoError(t, conv.Transcript.Validate())
	assert.Empty(t, conv.Transcript.OpenCalls())
}

func TestDispatcherAbortBeforeFirstStep(t *testing.T) {
	conv := newTestConversation(DefaultOptions())
	conv.Cancel()

	sel := &scriptedSelector{calls: []*FunctionCall{ask("1", ActionExplanation)}}
	res, err := NewDispatcher(NewRegistry(), sel, nil).Run(context.Background(), conv, "x")
	require.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, OutcomeAborted, res.Outcome)
	assert.Equal(t, 0, sel.seen)
}

func TestDispatcherPauseHook(t *testing.T) {
	pauses := 0
	conv := NewConversation(context.Background(), ConversationConfig{
		SystemPrompt: "sys",
		Options:      DefaultOptions(),
		WaitIfPaused: func(ctx context.Context) error {
			pauses++
			return nil
		},
	})
	defer conv.Close()

	reg := NewRegistry()
	reg.Register(ActionCancelCodeGeneration, "cancel", HandlerFunc(func(ctx context.Context, conv *Conversation, call FunctionCall) (ActionResult, error) {
		return ActionResult{BreakLoop: true}, nil
	}))
	_, err := NewDispatcher(reg, &scriptedSelector{calls: []*FunctionCall{ask("1", ActionCancelCodeGeneration)}}, nil).Run(context.Background(), conv, "x")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pauses, 2)
}

func TestDispatcherContextPreparerRejects(t *testing.T) {
	conv := newTestConversation(DefaultOptions())
	defer conv.Close()

	sel := &scriptedSelector{calls: []*FunctionCall{ask("1", ActionExplanation)}}
	prep := preparerFunc(func(ctx context.Context, conv *Conversation) (bool, error) { return false, nil })
	res, err := NewDispatcher(NewRegistry(), sel, prep).Run(context.Background(), conv, "x")
	require.NoError(t, err)
	assert.Equal(t, OutcomeContextRejected, res.Outcome)
	assert.Equal(t, 0, sel.seen)
}

func TestDispatcherHandlerItemsAppended(t *testing.T) {
	reg := NewRegistry()
	reg.Register(ActionReasoningInference, "reason", HandlerFunc(func(ctx context.Context, conv *Conversation, call FunctionCall) (ActionResult, error) {
		inner := FunctionCall{ID: "r1", Name: "reasoningInference", Args: map[string]any{"prompt": "p"}}
		return ActionResult{BreakLoop: true, Items: []ActionItem{{
			Assistant: Message{Role: RoleAssistant, FunctionCalls: []FunctionCall{inner}},
			User:      Message{Role: RoleUser, FunctionResponses: []FunctionResponse{{ID: "r1", Name: "reasoningInference", Content: "answer"}}},
		}}}, nil
	}))

	conv := newTestConversation(DefaultOptions())
	defer conv.Close()
	_, err := NewDispatcher(reg, &scriptedSelector{calls: []*FunctionCall{ask("1", ActionReasoningInference)}}, nil).Run(context.Background(), conv, "x")
	require.NoError(t, err)

	msgs := conv.Transcript.Messages()
	last := msgs[len(msgs)-1]
	require.Len(t, last.FunctionResponses, 1)
	assert.Equal(t, "answer", last.FunctionResponses[0].Content)
	// the askUser pair precedes the handler items
	assert.Equal(t, AskUserFunction, msgs[len(msgs)-4].FunctionCalls[0].Name)
}

func TestDispatcherSelectorErrorPropagates(t *testing.T) {
	conv := newTestConversation(DefaultOptions())
	defer conv.Close()
	boom := errors.New("401 unauthorized")
	_, err := NewDispatcher(NewRegistry(), &scriptedSelector{err: boom}, nil).Run(context.Background(), conv, "x")
	require.ErrorIs(t, err, boom)
}

func TestConversationNoticesDeferredWhileCallsOpen(t *testing.T) {
	conv := newTestConversation(DefaultOptions())
	defer conv.Close()

	conv.Transcript.Append(Message{Role: RoleAssistant, FunctionCalls: []FunctionCall{{ID: "x", Name: "askUser"}}})
	conv.Notify("switched provider")
	assert.Empty(t, conv.Notices())

	conv.Transcript.Append(Message{Role: RoleUser, FunctionResponses: []FunctionResponse{{ID: "x"}}})
	conv.FlushNotices()
	assert.Equal(t, []string{"switched provider"}, conv.Notices())
	require.NoError(t, conv.Transcript.Validate())
}

func TestConversationGrantPermissions(t *testing.T) {
	conv := newTestConversation(DefaultOptions())
	defer conv.Close()

	assert.False(t, conv.Permissions().AllowFileCreate)
	unknown := conv.GrantPermissions(PermissionFileCreate, "allowEverything")
	assert.Equal(t, []string{"allowEverything"}, unknown)
	assert.True(t, conv.Permissions().AllowFileCreate)
	assert.False(t, conv.Permissions().AllowFileDelete)
}
