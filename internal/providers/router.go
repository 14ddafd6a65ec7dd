package providers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ChamsBouzaiene/gencode/internal/engine"
)

// Backend is one entry of the router's fallback table.
type Backend struct {
	Name      string
	ModelName string // default-tier model, used for token counting
	Model     engine.ModelBackend
	Images    engine.ImageBackend // nil when the provider cannot generate images
}

// RouterConfig configures a Router.
type RouterConfig struct {
	// Retry retries network failures on the same backend before the error is
	// returned. Nil disables retries. Throttling is never retried in place.
	Retry  *engine.RetryPolicy
	Logger *log.Logger
}

type usageReporter interface {
	SetUsageRecorder(engine.UsageRecorder)
}

// Router sends every call to the active backend. When the active backend is
// rate limited or overloaded it moves to the next backend for the remainder
// of the conversation. Other errors are returned unchanged.
type Router struct {
	backends []Backend
	retry    *engine.RetryPolicy
	logger   *log.Logger

	mu          sync.Mutex
	active      int
	imageActive int
	notify      func(string)
	hooks       engine.Hook
}

// NewRouter creates a router over backends, in order of preference.
func NewRouter(backends []Backend, cfg RouterConfig) (*Router, error) {
	if len(backends) == 0 {
		return nil, errors.New("no model backends configured")
	}
	for i, b := range backends {
		if b.Model == nil {
			return nil, fmt.Errorf("backend %d (%s) has no model", i, b.Name)
		}
	}
	r := &Router{
		backends: backends,
		retry:    cfg.Retry,
		logger:   cfg.Logger,
		hooks:    engine.NopHook{},
	}
	r.imageActive = r.nextImageBackend(0)
	return r, nil
}

// Attach binds the router to a conversation: switches and retries are
// announced as conversation notices and usage flows to its hooks.
func (r *Router) Attach(conv *engine.Conversation) {
	r.mu.Lock()
	r.notify = conv.Notify
	r.hooks = conv.Hooks
	r.mu.Unlock()

	for _, b := range r.backends {
		if u, ok := b.Model.(usageReporter); ok {
			u.SetUsageRecorder(conv.Hooks)
		}
		if u, ok := b.Images.(usageReporter); ok {
			u.SetUsageRecorder(conv.Hooks)
		}
	}
}

// Active returns the name of the backend serving content calls.
func (r *Router) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backends[r.active].Name
}

// SupportsImages reports whether any backend can still generate images.
func (r *Router) SupportsImages() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.imageActive < len(r.backends)
}

// GenerateContent implements engine.ModelBackend.
func (r *Router) GenerateContent(ctx context.Context, transcript []engine.Message, defs []engine.FunctionDef, opts engine.GenerateOptions) (engine.GenerateResult, error) {
	for {
		r.mu.Lock()
		idx := r.active
		r.mu.Unlock()
		b := r.backends[idx]

		res, err := withRetry(ctx, r, b.Name, func(ctx context.Context) (engine.GenerateResult, error) {
			return b.Model.GenerateContent(ctx, transcript, defs, opts)
		})
		if err == nil {
			return res, nil
		}
		if !engine.IsTransientProviderError(err) || !r.switchContent(ctx, idx, err) {
			return engine.GenerateResult{}, err
		}
	}
}

// GenerateImage implements engine.ImageBackend over the backends that have
// an image model.
func (r *Router) GenerateImage(ctx context.Context, req engine.ImageRequest) (engine.ImageResult, error) {
	for {
		r.mu.Lock()
		idx := r.imageActive
		r.mu.Unlock()
		if idx >= len(r.backends) {
			return engine.ImageResult{}, errors.New("no image backend available")
		}
		b := r.backends[idx]

		res, err := withRetry(ctx, r, b.Name, func(ctx context.Context) (engine.ImageResult, error) {
			return b.Images.GenerateImage(ctx, req)
		})
		if err == nil {
			return res, nil
		}
		if !engine.IsTransientProviderError(err) || !r.switchImages(ctx, idx, err) {
			return engine.ImageResult{}, err
		}
	}
}

func withRetry[T any](ctx context.Context, r *Router, name string, fn func(context.Context) (T, error)) (T, error) {
	if r.retry == nil {
		return fn(ctx)
	}
	return engine.RetryWithPolicy[T](ctx, *r.retry, fn, engine.ClassifyNetworkOnly,
		func(attempt int, delay time.Duration, err error) {
			r.mu.Lock()
			hooks, notify := r.hooks, r.notify
			r.mu.Unlock()
			hooks.OnRetryAttempt(ctx, name, attempt, delay, err)
			r.logf("provider %s: retry %d in %s: %v", name, attempt, delay.Round(time.Millisecond), err)
			if notify != nil {
				notify(fmt.Sprintf("Request to %s failed (%v); retrying in %s.", name, err, delay.Round(time.Millisecond)))
			}
		})
}

// switchContent moves content calls past the backend at idx. It reports
// false when no backend is left.
func (r *Router) switchContent(ctx context.Context, idx int, cause error) bool {
	r.mu.Lock()
	if r.active != idx {
		// Another call already switched.
		r.mu.Unlock()
		return true
	}
	if idx+1 >= len(r.backends) {
		r.mu.Unlock()
		return false
	}
	r.active = idx + 1
	from, to := r.backends[idx].Name, r.backends[idx+1].Name
	hooks, notify := r.hooks, r.notify
	r.mu.Unlock()

	r.announce(ctx, hooks, notify, from, to, cause)
	return true
}

func (r *Router) switchImages(ctx context.Context, idx int, cause error) bool {
	r.mu.Lock()
	if r.imageActive != idx {
		r.mu.Unlock()
		return true
	}
	next := r.nextImageBackend(idx + 1)
	if next >= len(r.backends) {
		r.mu.Unlock()
		return false
	}
	r.imageActive = next
	from, to := r.backends[idx].Name, r.backends[next].Name
	hooks, notify := r.hooks, r.notify
	r.mu.Unlock()

	r.announce(ctx, hooks, notify, from, to, cause)
	return true
}

func (r *Router) nextImageBackend(from int) int {
	for i := from; i < len(r.backends); i++ {
		if r.backends[i].Images != nil {
			return i
		}
	}
	return len(r.backends)
}

func (r *Router) announce(ctx context.Context, hooks engine.Hook, notify func(string), from, to string, cause error) {
	reason := "is unavailable"
	var engineErr *engine.EngineError
	if errors.As(cause, &engineErr) {
		switch {
		case engineErr.IsRateLimit:
			reason = "is rate limited"
		case engineErr.IsOverload:
			reason = "is overloaded"
		}
	}
	hooks.OnProviderSwitch(ctx, from, to, cause)
	r.logf("provider %s %s, switching to %s: %v", from, reason, to, cause)
	if notify != nil {
		notify(fmt.Sprintf("Provider %s %s; switched to %s for the rest of the conversation.", from, reason, to))
	}
}

func (r *Router) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}
