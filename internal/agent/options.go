package agent

import "slices"

const (
	DefaultModel    = "claude-3-5-sonnet-20241022"
	DefaultMaxTurns = 10
)

// DefaultAllowedTools is the tool set the agent may use unless overridden.
var DefaultAllowedTools = []string{"Read", "Write", "Edit", "Bash"}

// Options configures a single agent query.
type Options struct {
	Model                  string
	MaxTurns               int
	AllowedTools           []string
	IncludePartialMessages bool
	SystemPrompt           string
	PermissionMode         string
	WorkDir                string
}

// DefaultOptions returns the built-in query defaults.
func DefaultOptions() Options {
	return Options{
		Model:                  DefaultModel,
		MaxTurns:               DefaultMaxTurns,
		AllowedTools:           slices.Clone(DefaultAllowedTools),
		IncludePartialMessages: true,
	}
}

// Overrides holds caller-supplied option overrides. A nil field keeps the
// base value; AllowedTools replaces the base list whenever it is non-nil.
type Overrides struct {
	Model                  *string  `json:"model,omitempty"`
	MaxTurns               *int     `json:"maxTurns,omitempty"`
	AllowedTools           []string `json:"allowedTools,omitempty"`
	IncludePartialMessages *bool    `json:"includePartialMessages,omitempty"`
	SystemPrompt           *string  `json:"systemPrompt,omitempty"`
	PermissionMode         *string  `json:"permissionMode,omitempty"`
	WorkDir                *string  `json:"workDir,omitempty"`
}

// Merge applies ov on top of o field by field. o is not modified.
func (o Options) Merge(ov *Overrides) Options {
	out := o
	out.AllowedTools = slices.Clone(o.AllowedTools)
	if ov == nil {
		return out
	}
	if ov.Model != nil {
		out.Model = *ov.Model
	}
	if ov.MaxTurns != nil {
		out.MaxTurns = *ov.MaxTurns
	}
	if ov.AllowedTools != nil {
		out.AllowedTools = slices.Clone(ov.AllowedTools)
	}
	if ov.IncludePartialMessages != nil {
		out.IncludePartialMessages = *ov.IncludePartialMessages
	}
	if ov.SystemPrompt != nil {
		out.SystemPrompt = *ov.SystemPrompt
	}
	if ov.PermissionMode != nil {
		out.PermissionMode = *ov.PermissionMode
	}
	if ov.WorkDir != nil {
		out.WorkDir = *ov.WorkDir
	}
	return out
}
