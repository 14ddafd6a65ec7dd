package engine

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// PauseFunc blocks while the conversation is paused. It returns an error only
// when waiting was interrupted.
type PauseFunc func(ctx context.Context) error

// errCancelled is the cause recorded when Cancel is called.
var errCancelled = errors.New("conversation cancelled")

// ConversationConfig wires a new conversation.
type ConversationConfig struct {
	SystemPrompt string
	Options      Options
	Backend      ModelBackend
	Images       ImageBackend // nil when image generation is unavailable
	WaitIfPaused PauseFunc
	Hooks        Hooks
}

// Conversation is the per-session state shared by the dispatch loop and handlers.
// It is created by NewConversation and released by Close.
type Conversation struct {
	ID         string
	Transcript *Transcript
	Backend    ModelBackend
	Images     ImageBackend
	Hooks      Hooks

	waitIfPaused PauseFunc
	ctx          context.Context
	cancel       context.CancelCauseFunc

	mu           sync.Mutex
	options      Options
	disclosed    map[string]bool
	acknowledged map[string]bool
	notices      []string
	step         int
	closed       bool
}

// NewConversation creates a conversation bound to parent. Cancelling parent
// or calling Cancel aborts in-flight work at the next checkpoint.
func NewConversation(parent context.Context, cfg ConversationConfig) *Conversation {
	ctx, cancel := context.WithCancelCause(parent)
	return &Conversation{
		ID:           uuid.NewString(),
		Transcript:   NewTranscript(cfg.SystemPrompt),
		Backend:      cfg.Backend,
		Images:       cfg.Images,
		Hooks:        cfg.Hooks,
		waitIfPaused: cfg.WaitIfPaused,
		ctx:          ctx,
		cancel:       cancel,
		options:      cfg.Options.withDefaults(),
		disclosed:    make(map[string]bool),
		acknowledged: make(map[string]bool),
	}
}

// Context returns the conversation lifetime context.
func (c *Conversation) Context() context.Context { return c.ctx }

// Cancel requests cooperative abort of the conversation.
func (c *Conversation) Cancel() { c.cancel(errCancelled) }

// Close releases the conversation. It is safe to call more than once.
func (c *Conversation) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel(errCancelled)
}

// Bind derives a context that is cancelled when either ctx or the conversation is.
func (c *Conversation) Bind(ctx context.Context) (context.Context, context.CancelFunc) {
	bound, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(c.ctx, func() { cancel(context.Cause(c.ctx)) })
	return bound, func() {
		stop()
		cancel(nil)
	}
}

// Checkpoint returns an AbortedError if the conversation was cancelled and
// otherwise blocks while the conversation is paused.
func (c *Conversation) Checkpoint(ctx context.Context) error {
	if err := c.abortErr(ctx); err != nil {
		return err
	}
	if c.waitIfPaused != nil {
		if err := c.waitIfPaused(ctx); err != nil {
			return &AbortedError{Step: c.Step(), Cause: err}
		}
	}
	return c.abortErr(ctx)
}

func (c *Conversation) abortErr(ctx context.Context) error {
	if ctx.Err() != nil {
		return &AbortedError{Step: c.Step(), Cause: context.Cause(ctx)}
	}
	if c.ctx.Err() != nil {
		return &AbortedError{Step: c.Step(), Cause: context.Cause(c.ctx)}
	}
	return nil
}

// Options returns a snapshot of the conversation options.
func (c *Conversation) Options() Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.options
}

// Permissions returns the current permission flags.
func (c *Conversation) Permissions() Permissions {
	return c.Options().Permissions
}

// GrantPermissions enables the named permissions and returns those that were unknown.
func (c *Conversation) GrantPermissions(names ...string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var unknown []string
	for _, n := range names {
		if !c.options.Permissions.Grant(n) {
			unknown = append(unknown, n)
		}
	}
	return unknown
}

// Disclose records paths the model has been shown.
func (c *Conversation) Disclose(paths ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range paths {
		c.disclosed[p] = true
	}
}

// IsDisclosed reports whether path was shown to the model.
func (c *Conversation) IsDisclosed(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disclosed[path]
}

// DisclosedPaths returns the disclosed paths in sorted order.
func (c *Conversation) DisclosedPaths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.disclosed))
	for p := range c.disclosed {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Step returns the current dispatch step.
func (c *Conversation) Step() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step
}

func (c *Conversation) setStep(n int) {
	c.mu.Lock()
	c.step = n
	c.mu.Unlock()
}

// Acknowledge closes the selection call with an assistant/user pair. It is a
// no-op when the call was already acknowledged.
func (c *Conversation) Acknowledge(call FunctionCall, assistantText, content, userText string) {
	c.mu.Lock()
	if c.acknowledged[call.ID] {
		c.mu.Unlock()
		return
	}
	c.acknowledged[call.ID] = true
	c.mu.Unlock()
	c.Transcript.AppendPair(assistantText, call, FunctionResponse{Content: content}, userText)
	c.FlushNotices()
}

// IsAcknowledged reports whether the selection call already has its pair.
func (c *Conversation) IsAcknowledged(callID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acknowledged[callID]
}

// Notify records a system-level notice. The notice is written to the
// transcript at the next point where no call is awaiting a response.
func (c *Conversation) Notify(text string) {
	c.Hooks.OnNotice(c.ctx, c, text)
	c.mu.Lock()
	c.notices = append(c.notices, text)
	c.mu.Unlock()
	c.FlushNotices()
}

// FlushNotices appends queued notices if the transcript has no open calls.
func (c *Conversation) FlushNotices() {
	if len(c.Transcript.OpenCalls()) > 0 {
		return
	}
	c.mu.Lock()
	pending := c.notices
	c.notices = nil
	c.mu.Unlock()
	for _, n := range pending {
		c.Transcript.Append(Message{Role: RoleUser, Text: n, Notice: true})
	}
}

// Notices returns the notice turns recorded in the transcript.
func (c *Conversation) Notices() []string {
	var out []string
	for _, m := range c.Transcript.Messages() {
		if m.Notice {
			out = append(out, m.Text)
		}
	}
	return out
}

// NewCallID returns a fresh function call id.
func NewCallID() string {
	return "call_" + uuid.NewString()
}
