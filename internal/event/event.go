// Package event provides the key-value carrier that flows through the
// pipeline. Events support %{field} template expansion against their own
// fields, which is how grouping keys are derived from them.
package event

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// fieldRef matches a single %{name} reference inside a template.
var fieldRef = regexp.MustCompile(`%\{([^{}]+)\}`)

// Event is a mutable set of named fields. An event is owned by exactly
// one worker at a time and carries no internal synchronization.
type Event struct {
	fields map[string]any
}

// New creates an Event from the given fields. A nil map yields an
// empty event. The map is used directly, not copied.
func New(fields map[string]any) *Event {
	if fields == nil {
		fields = make(map[string]any, 8)
	}

	return &Event{fields: fields}
}

// Get returns the value of the named field and whether it is present.
func (e *Event) Get(name string) (any, bool) {
	v, ok := e.fields[name]

	return v, ok
}

// GetString returns the named field rendered as a string.
// Absent and nil fields render as the empty string.
func (e *Event) GetString(name string) string {
	v, ok := e.fields[name]
	if !ok || v == nil {
		return ""
	}

	return fmt.Sprint(v)
}

// Set stores a value under the given field name, replacing any
// previous value.
func (e *Event) Set(name string, value any) {
	e.fields[name] = value
}

// Fields returns a shallow copy of the event's field map.
func (e *Event) Fields() map[string]any {
	out := make(map[string]any, len(e.fields))
	for k, v := range e.fields {
		out[k] = v
	}

	return out
}

// Len returns the number of fields on the event.
func (e *Event) Len() int {
	return len(e.fields)
}

// Sprintf expands every %{field} reference in the template against the
// event's fields. References to absent or nil fields expand to the
// empty string; expansion never fails. Text outside references is
// passed through unchanged.
func (e *Event) Sprintf(template string) string {
	return fieldRef.ReplaceAllStringFunc(template, func(ref string) string {
		// Strip the leading "%{" and trailing "}".
		name := ref[2 : len(ref)-1]

		return e.GetString(name)
	})
}

// MarshalJSON renders the event as a JSON object of its fields.
func (e *Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.fields)
}

// UnmarshalJSON replaces the event's fields with the decoded object.
func (e *Event) UnmarshalJSON(data []byte) error {
	fields := make(map[string]any, 8)
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	e.fields = fields

	return nil
}
