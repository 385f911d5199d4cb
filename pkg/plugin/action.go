package plugin

import (
	"context"
	"strings"
)

// Message is the typed form of a chat message handed to an action. Params
// carries structured arguments the dispatcher already extracted.
type Message struct {
	User   string            `json:"user,omitempty"`
	Text   string            `json:"text"`
	Params map[string]string `json:"params,omitempty"`
}

// Param returns a trimmed parameter value.
func (m Message) Param(key string) string {
	if m.Params == nil {
		return ""
	}
	return strings.TrimSpace(m.Params[key])
}

// Example is one turn of a sample conversation shown to the dispatcher.
type Example struct {
	User   string `json:"user"`
	Text   string `json:"text"`
	Action string `json:"action,omitempty"`
}

// Reporter receives user-facing progress and result text.
type Reporter func(ctx context.Context, text string)

// ValidateFunc decides whether an action applies to a message.
type ValidateFunc func(ctx context.Context, msg Message) bool

// HandleFunc runs an action.
type HandleFunc func(ctx context.Context, msg Message, report Reporter) (any, error)

// Action is a named, dispatcher-invocable unit of behaviour.
type Action struct {
	Name        string
	Similes     []string
	Description string
	Examples    [][]Example
	// Requires lists capabilities the action needs; actions whose
	// requirements are denied by policy are not exposed.
	Requires []Capability
	Validate ValidateFunc
	Handle   HandleFunc
}

// Matches reports whether name is the action name or one of its similes,
// ignoring case.
func (a Action) Matches(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	if strings.EqualFold(a.Name, name) {
		return true
	}
	for _, simile := range a.Similes {
		if strings.EqualFold(simile, name) {
			return true
		}
	}
	return false
}

// ActionProvider is implemented by plugins that expose actions.
type ActionProvider interface {
	Actions() []Action
}

// ActionInfo is the serialisable description of a registered action.
type ActionInfo struct {
	Plugin      string       `json:"plugin"`
	Name        string       `json:"name"`
	Similes     []string     `json:"similes,omitempty"`
	Description string       `json:"description"`
	Examples    [][]Example  `json:"examples,omitempty"`
	Requires    []Capability `json:"requires,omitempty"`
}

// Needs reports whether the action requires capability.
func (a ActionInfo) Needs(capability Capability) bool {
	for _, c := range a.Requires {
		if c == capability {
			return true
		}
	}
	return false
}
