package domain

import "time"

// Template is the reusable configuration workers are spawned from.
// Permission and tool settings are opaque to the core and passed through
// to the execution runtime.
type Template struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// DefaultRole is the role workers from this template take on, if any.
	DefaultRole Role `json:"default_role,omitempty"`

	SystemPrompt string                 `json:"system_prompt,omitempty"`
	Model        string                 `json:"model,omitempty"`
	Permissions  map[string]interface{} `json:"permissions,omitempty"`
	Tools        []string               `json:"tools,omitempty"`

	// AllowedTypes restricts which work item types this template may be
	// assigned to. Empty means all types.
	AllowedTypes []WorkItemType `json:"allowed_types,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Allows reports whether the template may work on items of type t.
func (tpl *Template) Allows(t WorkItemType) bool {
	if len(tpl.AllowedTypes) == 0 {
		return true
	}
	for _, at := range tpl.AllowedTypes {
		if at == t {
			return true
		}
	}
	return false
}
