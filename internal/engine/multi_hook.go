package engine

import (
	"context"
	"time"
)

type Hooks []Hook

func (hs Hooks) OnStepStart(ctx context.Context, conv *Conversation, step int) {
	for _, h := range hs {
		h.OnStepStart(ctx, conv, step)
	}
}
func (hs Hooks) OnActionSelected(ctx context.Context, conv *Conversation, t ActionType, c FunctionCall) {
	for _, h := range hs {
		h.OnActionSelected(ctx, conv, t, c)
	}
}
func (hs Hooks) OnActionDone(ctx context.Context, conv *Conversation, t ActionType, r ActionResult, err error) {
	for _, h := range hs {
		h.OnActionDone(ctx, conv, t, r, err)
	}
}
func (hs Hooks) OnNotice(ctx context.Context, conv *Conversation, text string) {
	for _, h := range hs {
		h.OnNotice(ctx, conv, text)
	}
}
func (hs Hooks) OnRetryAttempt(ctx context.Context, provider string, attempt int, delay time.Duration, err error) {
	for _, h := range hs {
		h.OnRetryAttempt(ctx, provider, attempt, delay, err)
	}
}
func (hs Hooks) OnProviderSwitch(ctx context.Context, from, to string, err error) {
	for _, h := range hs {
		h.OnProviderSwitch(ctx, from, to, err)
	}
}
func (hs Hooks) OnUsage(ctx context.Context, provider string, u Usage) {
	for _, h := range hs {
		h.OnUsage(ctx, provider, u)
	}
}
func (hs Hooks) OnDone(ctx context.Context, conv *Conversation, r RunResult) {
	for _, h := range hs {
		h.OnDone(ctx, conv, r)
	}
}

// RecordUsage lets Hooks serve as a provider UsageRecorder.
func (hs Hooks) RecordUsage(provider string, u Usage) {
	hs.OnUsage(context.Background(), provider, u)
}
