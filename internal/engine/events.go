package engine

import (
	"context"
	"time"
)

type Event struct {
	Kind string // "step_start", "action", "action_done", "notice", "retry", "provider_switch", "usage", "done"
	Data any
}

// ChannelHook forwards engine events to a UI collaborator. Sends never block;
// events are dropped when the channel is full.
type ChannelHook struct{ Ch chan<- Event }

func (h ChannelHook) send(e Event) {
	select {
	case h.Ch <- e:
	default:
	}
}

func (h ChannelHook) OnStepStart(_ context.Context, _ *Conversation, step int) {
	h.send(Event{Kind: "step_start", Data: step})
}
func (h ChannelHook) OnActionSelected(_ context.Context, _ *Conversation, t ActionType, c FunctionCall) {
	h.send(Event{Kind: "action", Data: map[string]any{"actionType": string(t), "message": c.Args["message"]}})
}
func (h ChannelHook) OnActionDone(_ context.Context, _ *Conversation, t ActionType, r ActionResult, err error) {
	data := map[string]any{"actionType": string(t), "breakLoop": r.BreakLoop}
	if err != nil {
		data["error"] = err.Error()
	}
	h.send(Event{Kind: "action_done", Data: data})
}
func (h ChannelHook) OnNotice(_ context.Context, _ *Conversation, text string) {
	h.send(Event{Kind: "notice", Data: text})
}
func (h ChannelHook) OnRetryAttempt(_ context.Context, provider string, attempt int, delay time.Duration, err error) {
	h.send(Event{Kind: "retry", Data: map[string]any{
		"provider": provider,
		"attempt":  attempt,
		"delay":    delay,
		"error":    err.Error(),
	}})
}
func (h ChannelHook) OnProviderSwitch(_ context.Context, from, to string, err error) {
	h.send(Event{Kind: "provider_switch", Data: map[string]string{"from": from, "to": to, "error": err.Error()}})
}
func (h ChannelHook) OnUsage(_ context.Context, provider string, u Usage) {
	h.send(Event{Kind: "usage", Data: map[string]any{"provider": provider, "usage": u}})
}
func (h ChannelHook) OnDone(_ context.Context, _ *Conversation, r RunResult) {
	h.send(Event{Kind: "done", Data: r})
}
