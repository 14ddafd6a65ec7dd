package providers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/gencode/internal/engine"
)

// scriptedBackend returns the queued errors in order, then succeeds.
type scriptedBackend struct {
	mu    sync.Mutex
	name  string
	errs  []error
	calls int
	usage engine.UsageRecorder
}

func (b *scriptedBackend) next() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if len(b.errs) == 0 {
		return nil
	}
	err := b.errs[0]
	b.errs = b.errs[1:]
	return err
}

func (b *scriptedBackend) GenerateContent(ctx context.Context, transcript []engine.Message, defs []engine.FunctionDef, opts engine.GenerateOptions) (engine.GenerateResult, error) {
	if err := b.next(); err != nil {
		return engine.GenerateResult{}, err
	}
	if b.usage != nil {
		b.usage.RecordUsage(b.name, engine.Usage{Prompt: 10, Completion: 2, Total: 12})
	}
	return engine.GenerateResult{Text: "from " + b.name}, nil
}

func (b *scriptedBackend) GenerateImage(ctx context.Context, req engine.ImageRequest) (engine.ImageResult, error) {
	if err := b.next(); err != nil {
		return engine.ImageResult{}, err
	}
	return engine.ImageResult{Data: []byte(b.name), MediaType: "image/png"}, nil
}

func (b *scriptedBackend) SetUsageRecorder(r engine.UsageRecorder) { b.usage = r }

func (b *scriptedBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type recordingHook struct {
	engine.NopHook
	mu       sync.Mutex
	switches []string
	usage    map[string]int
}

func (h *recordingHook) OnProviderSwitch(ctx context.Context, from, to string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.switches = append(h.switches, from+"->"+to)
}

func (h *recordingHook) OnUsage(ctx context.Context, provider string, u engine.Usage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.usage == nil {
		h.usage = make(map[string]int)
	}
	h.usage[provider] += u.Total
}

func rateLimited(provider string) error {
	return engine.WrapLLMError(provider, errors.New("status code: 429, message: too many requests"), http.StatusTooManyRequests, "")
}

func newRouterConversation(t *testing.T, r *Router, hook *recordingHook) *engine.Conversation {
	t.Helper()
	conv := engine.NewConversation(context.Background(), engine.ConversationConfig{
		SystemPrompt: "system",
		Backend:      r,
		Images:       r,
		Hooks:        engine.Hooks{hook},
	})
	t.Cleanup(conv.Close)
	r.Attach(conv)
	return conv
}

func TestRouterSwitchesForRestOfConversation(t *testing.T) {
	p1 := &scriptedBackend{name: "p1", errs: []error{rateLimited("p1")}}
	p2 := &scriptedBackend{name: "p2"}
	r, err := NewRouter([]Backend{{Name: "p1", Model: p1}, {Name: "p2", Model: p2}}, RouterConfig{})
	require.NoError(t, err)
	hook := &recordingHook{}
	conv := newRouterConversation(t, r, hook)

	for i := 0; i < 3; i++ {
		res, err := r.GenerateContent(context.Background(), conv.Transcript.Messages(), nil, engine.GenerateOptions{})
		require.NoError(t, err)
		assert.Equal(t, "from p2", res.Text)
	}

	assert.Equal(t, 1, p1.callCount())
	assert.Equal(t, 3, p2.callCount())
	assert.Equal(t, "p2", r.Active())
	assert.Equal(t, []string{"p1->p2"}, hook.switches)
	assert.Equal(t, 36, hook.usage["p2"])

	notices := conv.Notices()
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0], "p1 is rate limited")
	assert.Contains(t, notices[0], "switched to p2")
}

func TestRouterPropagatesNonTransientErrors(t *testing.T) {
	authErr := engine.WrapLLMError("p1", errors.New("401 unauthorized"), http.StatusUnauthorized, "")
	p1 := &scriptedBackend{name: "p1", errs: []error{authErr}}
	p2 := &scriptedBackend{name: "p2"}
	r, err := NewRouter([]Backend{{Name: "p1", Model: p1}, {Name: "p2", Model: p2}}, RouterConfig{})
	require.NoError(t, err)
	conv := newRouterConversation(t, r, &recordingHook{})

	_, err = r.GenerateContent(context.Background(), conv.Transcript.Messages(), nil, engine.GenerateOptions{})
	require.ErrorIs(t, err, authErr)
	assert.Equal(t, 0, p2.callCount())
	assert.Equal(t, "p1", r.Active())
	assert.Empty(t, conv.Notices())
}

func TestRouterReturnsLastErrorWhenAllBackendsThrottled(t *testing.T) {
	p1 := &scriptedBackend{name: "p1", errs: []error{rateLimited("p1")}}
	last := rateLimited("p2")
	p2 := &scriptedBackend{name: "p2", errs: []error{last}}
	r, err := NewRouter([]Backend{{Name: "p1", Model: p1}, {Name: "p2", Model: p2}}, RouterConfig{})
	require.NoError(t, err)
	conv := newRouterConversation(t, r, &recordingHook{})

	_, err = r.GenerateContent(context.Background(), nil, nil, engine.GenerateOptions{})
	require.ErrorIs(t, err, last)
	assert.Equal(t, "p2", r.Active())
	assert.Len(t, conv.Notices(), 1)
}

func TestRouterRetriesNetworkErrorsInPlace(t *testing.T) {
	p1 := &scriptedBackend{name: "p1", errs: []error{errors.New("read tcp: connection reset by peer")}}
	p2 := &scriptedBackend{name: "p2"}
	policy := engine.RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	r, err := NewRouter([]Backend{{Name: "p1", Model: p1}, {Name: "p2", Model: p2}}, RouterConfig{Retry: &policy})
	require.NoError(t, err)
	conv := newRouterConversation(t, r, &recordingHook{})

	res, err := r.GenerateContent(context.Background(), nil, nil, engine.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "from p1", res.Text)
	assert.Equal(t, 2, p1.callCount())
	assert.Equal(t, 0, p2.callCount())

	notices := conv.Notices()
	require.Len(t, notices, 1)
	assert.True(t, strings.HasPrefix(notices[0], "Request to p1 failed"))
}

func TestRouterImagesSkipBackendsWithoutImageModel(t *testing.T) {
	text := &scriptedBackend{name: "text"}
	overloaded := engine.WrapLLMError("img1", errors.New("503 service unavailable"), http.StatusServiceUnavailable, "")
	img1 := &scriptedBackend{name: "img1", errs: []error{overloaded}}
	img2 := &scriptedBackend{name: "img2"}
	r, err := NewRouter([]Backend{
		{Name: "text", Model: text},
		{Name: "img1", Model: img1, Images: img1},
		{Name: "img2", Model: img2, Images: img2},
	}, RouterConfig{})
	require.NoError(t, err)
	hook := &recordingHook{}
	conv := newRouterConversation(t, r, hook)
	require.True(t, r.SupportsImages())

	res, err := r.GenerateImage(context.Background(), engine.ImageRequest{Prompt: "logo"})
	require.NoError(t, err)
	assert.Equal(t, []byte("img2"), res.Data)
	assert.Equal(t, []string{"img1->img2"}, hook.switches)
	assert.Equal(t, "text", r.Active())
	require.Len(t, conv.Notices(), 1)
	assert.Contains(t, conv.Notices()[0], "img1 is overloaded")
}

func TestNewRouterValidation(t *testing.T) {
	_, err := NewRouter(nil, RouterConfig{})
	require.Error(t, err)

	_, err = NewRouter([]Backend{{Name: "broken"}}, RouterConfig{})
	require.Error(t, err)

	r, err := NewRouter([]Backend{{Name: "only", Model: &scriptedBackend{name: "only"}}}, RouterConfig{})
	require.NoError(t, err)
	assert.False(t, r.SupportsImages())
	_, err = r.GenerateImage(context.Background(), engine.ImageRequest{Prompt: "x"})
	require.Error(t, err)
}
