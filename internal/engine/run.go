package engine

import (
	"context"
	"errors"
	"fmt"
)

// ActionSelector asks the model for the next askUser call. A nil call with a
// nil error means the model requested no action.
type ActionSelector interface {
	SelectAction(ctx context.Context, conv *Conversation, askUser FunctionDef) (*FunctionCall, error)
}

// ContextPreparer attaches source context for a new user request. Returning
// false ends the request without selecting an action.
type ContextPreparer interface {
	PrepareContext(ctx context.Context, conv *Conversation) (bool, error)
}

// Outcome describes how a request ended.
type Outcome string

const (
	OutcomeCompleted       Outcome = "completed"
	OutcomeNoAction        Outcome = "no_action"
	OutcomeContextRejected Outcome = "context_rejected"
	OutcomeStepLimit       Outcome = "step_limit"
	OutcomeAborted         Outcome = "aborted"
	OutcomeFailed          Outcome = "failed"
)

// RunResult summarizes one user request.
type RunResult struct {
	Outcome    Outcome
	Steps      int
	LastAction ActionType
}

const abortedResponse = `{"error":"aborted"}`

// Dispatcher drives the action loop for a conversation.
type Dispatcher struct {
	registry *Registry
	selector ActionSelector
	preparer ContextPreparer
}

// NewDispatcher creates a dispatcher. preparer may be nil.
func NewDispatcher(registry *Registry, selector ActionSelector, preparer ContextPreparer) *Dispatcher {
	return &Dispatcher{registry: registry, selector: selector, preparer: preparer}
}

// Run appends prompt to the transcript and dispatches actions until a handler
// breaks the loop, the model selects nothing, the step budget runs out, or the
// conversation is aborted.
func (d *Dispatcher) Run(ctx context.Context, conv *Conversation, prompt string, images ...ImageAttachment) (RunResult, error) {
	ctx, cancel := conv.Bind(ctx)
	defer cancel()

	conv.Transcript.Append(Message{Role: RoleUser, Text: prompt, Images: images, Cache: true})

	res := RunResult{}
	finish := func(outcome Outcome, err error) (RunResult, error) {
		if err != nil && errors.Is(err, ErrAborted) {
			outcome = OutcomeAborted
		} else if err != nil {
			outcome = OutcomeFailed
		}
		res.Outcome = outcome
		conv.Transcript.CloseOpenCalls(abortedResponse)
		conv.FlushNotices()
		conv.Hooks.OnDone(ctx, conv, res)
		return res, err
	}

	if err := conv.Checkpoint(ctx); err != nil {
		return finish(OutcomeAborted, err)
	}

	if d.preparer != nil {
		proceed, err := d.preparer.PrepareContext(ctx, conv)
		if err != nil {
			return finish(OutcomeFailed, d.asAbort(ctx, conv, err))
		}
		if !proceed {
			return finish(OutcomeContextRejected, nil)
		}
	}

	maxSteps := conv.Options().MaxSteps
	for step := 0; step < maxSteps; step++ {
		conv.setStep(step)
		if err := conv.Checkpoint(ctx); err != nil {
			return finish(OutcomeAborted, err)
		}
		conv.Hooks.OnStepStart(ctx, conv, step)

		outcome, err := d.stepOnce(ctx, conv, step, &res)
		res.Steps = step + 1
		if err != nil {
			return finish(OutcomeFailed, d.asAbort(ctx, conv, err))
		}
		if outcome != "" {
			return finish(outcome, nil)
		}
	}

	conv.Notify(fmt.Sprintf("Step budget of %d actions reached; stopping.", maxSteps))
	return finish(OutcomeStepLimit, nil)
}

// stepOnce selects and executes one action. A non-empty outcome ends the loop.
func (d *Dispatcher) stepOnce(ctx context.Context, conv *Conversation, step int, res *RunResult) (Outcome, error) {
	call, err := d.selector.SelectAction(ctx, conv, d.registry.AskUserDef())
	if err != nil {
		return "", err
	}
	if call == nil {
		return OutcomeNoAction, nil
	}
	if call.ID == "" {
		call.ID = NewCallID()
	}

	actionType := ActionTypeOf(*call)
	res.LastAction = actionType

	handler, err := d.registry.Lookup(actionType)
	if err != nil {
		conv.Acknowledge(*call, MessageOf(*call), errorContent(err), "")
		return "", &ActionContextError{Err: err, Step: step, ActionType: actionType}
	}

	conv.Hooks.OnActionSelected(ctx, conv, actionType, *call)
	result, err := handler.Handle(ctx, conv, *call)
	conv.Hooks.OnActionDone(ctx, conv, actionType, result, err)

	if err != nil {
		content := errorContent(err)
		if errors.Is(err, ErrAborted) || ctx.Err() != nil {
			content = abortedResponse
		}
		conv.Transcript.CloseOpenCalls(content)
		conv.Acknowledge(*call, MessageOf(*call), content, "")
		if errors.Is(err, ErrAborted) {
			return "", err
		}
		return "", &ActionContextError{Err: err, Step: step, ActionType: actionType}
	}

	conv.Acknowledge(*call, MessageOf(*call), "", "")
	for _, item := range result.Items {
		conv.Transcript.Append(item.Assistant, item.User)
	}
	conv.FlushNotices()

	if err := conv.Transcript.Validate(); err != nil {
		return "", fmt.Errorf("transcript invariant violated after %s: %w", actionType, err)
	}

	if result.BreakLoop {
		return OutcomeCompleted, nil
	}
	return "", nil
}

// asAbort converts cancellation surfaced as a plain error into an AbortedError.
func (d *Dispatcher) asAbort(ctx context.Context, conv *Conversation, err error) error {
	if errors.Is(err, ErrAborted) {
		return err
	}
	if ctx.Err() != nil || conv.Context().Err() != nil {
		return &AbortedError{Step: conv.Step(), Cause: err}
	}
	return err
}

func errorContent(err error) string {
	return fmt.Sprintf(`{"error":%q}`, err.Error())
}
