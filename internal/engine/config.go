package engine

// Permissions gate the file mutations a conversation may perform.
type Permissions struct {
	AllowFileCreate      bool `json:"allowFileCreate"`
	AllowFileDelete      bool `json:"allowFileDelete"`
	AllowDirectoryCreate bool `json:"allowDirectoryCreate"`
	AllowFileMove        bool `json:"allowFileMove"`
}

// Permission names used in PermissionDeniedError and request-permissions.
const (
	PermissionFileCreate      = "allowFileCreate"
	PermissionFileDelete      = "allowFileDelete"
	PermissionDirectoryCreate = "allowDirectoryCreate"
	PermissionFileMove        = "allowFileMove"
)

// Grant sets a permission by name. Unknown names return false.
func (p *Permissions) Grant(name string) bool {
	switch name {
	case PermissionFileCreate:
		p.AllowFileCreate = true
	case PermissionFileDelete:
		p.AllowFileDelete = true
	case PermissionDirectoryCreate:
		p.AllowDirectoryCreate = true
	case PermissionFileMove:
		p.AllowFileMove = true
	default:
		return false
	}
	return true
}

// Allowed reports whether the named permission is granted.
func (p Permissions) Allowed(name string) bool {
	switch name {
	case PermissionFileCreate:
		return p.AllowFileCreate
	case PermissionFileDelete:
		return p.AllowFileDelete
	case PermissionDirectoryCreate:
		return p.AllowDirectoryCreate
	case PermissionFileMove:
		return p.AllowFileMove
	}
	return false
}

// Options holds the per-conversation knobs.
type Options struct {
	Permissions Permissions

	// ContextTrigger is the source map size (tokens) above which the context optimizer runs.
	ContextTrigger int
	// ContextBudget is the token budget the optimizer fills with full file content.
	ContextBudget int
	// AdmitRelevance is the minimum relevance for a file to be considered at all.
	AdmitRelevance float64
	// HighRelevance lets a file in even when it overflows the budget.
	HighRelevance float64
	// PopularityThreshold is the dependent count at which a file counts as a popular dependency.
	PopularityThreshold int

	MaxSteps      int
	Temperature   float32
	Cheap         bool // Prefer the cheap tier for action selection
	ImagesEnabled bool
}

// DefaultOptions returns the defaults used when no configuration overrides them.
func DefaultOptions() Options {
	return Options{
		ContextTrigger:      10000,
		ContextBudget:       10000,
		AdmitRelevance:      0.5,
		HighRelevance:       0.7,
		PopularityThreshold: 25,
		MaxSteps:            20,
		Temperature:         0.7,
	}
}

// Tier returns the model tier for inference calls made on behalf of the conversation.
func (o Options) Tier() ModelTier {
	if o.Cheap {
		return TierCheap
	}
	return TierDefault
}

// withDefaults fills zero-valued thresholds.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ContextTrigger <= 0 {
		o.ContextTrigger = d.ContextTrigger
	}
	if o.ContextBudget <= 0 {
		o.ContextBudget = d.ContextBudget
	}
	if o.AdmitRelevance <= 0 {
		o.AdmitRelevance = d.AdmitRelevance
	}
	if o.HighRelevance <= 0 {
		o.HighRelevance = d.HighRelevance
	}
	if o.PopularityThreshold <= 0 {
		o.PopularityThreshold = d.PopularityThreshold
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = d.MaxSteps
	}
	return o
}
