// engine/hooks.go
package engine

import (
	"context"
	"time"
)

type Hook interface {
	OnStepStart(ctx context.Context, conv *Conversation, step int)
	OnActionSelected(ctx context.Context, conv *Conversation, actionType ActionType, call FunctionCall)
	OnActionDone(ctx context.Context, conv *Conversation, actionType ActionType, res ActionResult, err error)
	OnNotice(ctx context.Context, conv *Conversation, text string)
	OnRetryAttempt(ctx context.Context, provider string, attempt int, delay time.Duration, err error)
	OnProviderSwitch(ctx context.Context, from, to string, err error)
	OnUsage(ctx context.Context, provider string, usage Usage)
	OnDone(ctx context.Context, conv *Conversation, res RunResult)
}

// NopHook lets you implement any hook you need.
type NopHook struct{}

func (NopHook) OnStepStart(context.Context, *Conversation, int)                              {}
func (NopHook) OnActionSelected(context.Context, *Conversation, ActionType, FunctionCall)    {}
func (NopHook) OnActionDone(context.Context, *Conversation, ActionType, ActionResult, error) {}
func (NopHook) OnNotice(context.Context, *Conversation, string)                              {}
func (NopHook) OnRetryAttempt(context.Context, string, int, time.Duration, error)            {}
func (NopHook) OnProviderSwitch(context.Context, string, string, error)                      {}
func (NopHook) OnUsage(context.Context, string, Usage)                                       {}
func (NopHook) OnDone(context.Context, *Conversation, RunResult)                             {}
