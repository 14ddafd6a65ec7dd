// engine/hook_logger.go
package engine

import (
	"context"
	"log"
	"sync"
	"time"
)

type LoggerHook struct {
	L *log.Logger
	// Tokenizer and Model size the transcript in step records.
	Tokenizer Tokenizer
	Model     string

	mu     sync.Mutex
	totals map[string]Usage
}

// NewLoggerHook creates a hook that sizes transcripts for model.
func NewLoggerHook(l *log.Logger, model string) *LoggerHook {
	return &LoggerHook{L: l, Tokenizer: GetTokenizerForModel(model), Model: model, totals: make(map[string]Usage)}
}

func (h *LoggerHook) OnStepStart(_ context.Context, conv *Conversation, step int) {
	tok := h.Tokenizer
	if tok == nil {
		tok = DefaultTokenizer{}
	}
	tokens, _ := CountTokensForMessages(tok, conv.Transcript.Messages(), h.Model)
	h.L.Printf("step=%d turns=%d tokens=~%d", step, conv.Transcript.Len(), tokens)
}
func (h *LoggerHook) OnActionSelected(_ context.Context, _ *Conversation, t ActionType, c FunctionCall) {
	msg, _ := c.Args["message"].(string)
	if len(msg) > 100 {
		msg = msg[:100] + "..."
	}
	h.L.Printf("action → %s %q", t, msg)
}
func (h *LoggerHook) OnActionDone(_ context.Context, _ *Conversation, t ActionType, r ActionResult, err error) {
	if err != nil {
		h.L.Printf("action %s error: %v", t, err)
		return
	}
	h.L.Printf("action %s done: items=%d break=%v", t, len(r.Items), r.BreakLoop)
}
func (h *LoggerHook) OnNotice(_ context.Context, _ *Conversation, text string) {
	h.L.Printf("notice: %s", text)
}
func (h *LoggerHook) OnRetryAttempt(_ context.Context, provider string, attempt int, delay time.Duration, err error) {
	h.L.Printf("retry provider=%s attempt=%d delay=%v error=%v", provider, attempt, delay, err)
}
func (h *LoggerHook) OnProviderSwitch(_ context.Context, from, to string, err error) {
	h.L.Printf("⚠️  provider switch %s → %s: %v", from, to, err)
}
func (h *LoggerHook) OnUsage(_ context.Context, provider string, u Usage) {
	h.mu.Lock()
	if h.totals == nil {
		h.totals = make(map[string]Usage)
	}
	t := h.totals[provider]
	t.Prompt += u.Prompt
	t.Completion += u.Completion
	t.Total += u.Total
	h.totals[provider] = t
	h.mu.Unlock()
	h.L.Printf("tokens provider=%s prompt=%d completion=%d total=%d (cumulative=%d)",
		provider, u.Prompt, u.Completion, u.Total, t.Total)
}
func (h *LoggerHook) OnDone(_ context.Context, _ *Conversation, r RunResult) {
	h.L.Printf("done: outcome=%s steps=%d", r.Outcome, r.Steps)
}

// Totals returns the cumulative usage per provider.
func (h *LoggerHook) Totals() map[string]Usage {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]Usage, len(h.totals))
	for k, v := range h.totals {
		out[k] = v
	}
	return out
}
