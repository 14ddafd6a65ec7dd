package interaction

import (
	"context"
	"sync"
)

// Pauser lets the operator hold a running conversation at its next checkpoint.
// Wait matches engine.PauseFunc.
type Pauser struct {
	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

// Pause holds callers of Wait until Resume.
func (p *Pauser) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		p.paused = true
		p.resume = make(chan struct{})
	}
}

// Resume releases waiting callers.
func (p *Pauser) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		p.paused = false
		close(p.resume)
	}
}

// Paused reports whether the pauser is holding.
func (p *Pauser) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Wait blocks while paused. It returns ctx's error if ctx ends first.
func (p *Pauser) Wait(ctx context.Context) error {
	p.mu.Lock()
	if !p.paused {
		p.mu.Unlock()
		return nil
	}
	ch := p.resume
	p.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
