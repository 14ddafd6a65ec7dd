package prompts

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// PromptVersion is a dotted version, e.g. "1.2.0".
type PromptVersion string

// PromptV1 is the first version of prompts.
const PromptV1 PromptVersion = "1.0.0"

// Prompt represents a versioned prompt with metadata.
type Prompt struct {
	ID          string // e.g. "agent"
	Version     PromptVersion
	Content     string
	Description string
	Deprecated  bool
}

// PromptRegistry manages versioned prompts.
type PromptRegistry struct {
	mu      sync.RWMutex
	prompts map[string][]*Prompt // ID -> versions, ascending
}

var (
	defaultRegistry     *PromptRegistry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the default global prompt registry.
func DefaultRegistry() *PromptRegistry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewPromptRegistry()
	})
	return defaultRegistry
}

// NewPromptRegistry creates a new prompt registry.
func NewPromptRegistry() *PromptRegistry {
	return &PromptRegistry{prompts: make(map[string][]*Prompt)}
}

// Register adds p, replacing a prompt with the same ID and version.
func (r *PromptRegistry) Register(p *Prompt) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	versions := r.prompts[p.ID]
	for i, existing := range versions {
		if existing.Version == p.Version {
			versions[i] = p
			return
		}
	}
	versions = append(versions, p)
	sort.SliceStable(versions, func(i, j int) bool {
		return compareVersions(versions[i].Version, versions[j].Version) < 0
	})
	r.prompts[p.ID] = versions
}

// Get retrieves a specific version of a prompt.
func (r *PromptRegistry) Get(id string, version PromptVersion) (*Prompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.prompts[id]
	if !ok {
		return nil, fmt.Errorf("prompt not found: %s", id)
	}
	for _, p := range versions {
		if p.Version == version {
			return p, nil
		}
	}
	return nil, fmt.Errorf("prompt %s version %s not found", id, version)
}

// GetLatest retrieves the highest non-deprecated version of a prompt, or the
// highest deprecated one when nothing else is left.
func (r *PromptRegistry) GetLatest(id string) (*Prompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.prompts[id]
	if len(versions) == 0 {
		return nil, fmt.Errorf("prompt not found: %s", id)
	}
	for i := len(versions) - 1; i >= 0; i-- {
		if !versions[i].Deprecated {
			return versions[i], nil
		}
	}
	return versions[len(versions)-1], nil
}

// compareVersions compares dotted versions numerically. Non-numeric parts
// compare as strings.
func compareVersions(a, b PromptVersion) int {
	as, bs := strings.Split(string(a), "."), strings.Split(string(b), ".")
	for i := 0; i < max(len(as), len(bs)); i++ {
		var x, y string
		if i < len(as) {
			x = as[i]
		}
		if i < len(bs) {
			y = bs[i]
		}
		xn, errX := strconv.Atoi(x)
		yn, errY := strconv.Atoi(y)
		switch {
		case errX == nil && errY == nil && xn != yn:
			if xn < yn {
				return -1
			}
			return 1
		case (errX != nil || errY != nil) && x != y:
			return strings.Compare(x, y)
		}
	}
	return 0
}
