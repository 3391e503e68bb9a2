package meter

import (
	"strings"

	"github.com/pipestat/pipestat/internal/event"
)

// Key encoding delimiters. keyDelimiter joins group segments; pairDelimiter
// separates field name from value inside a named-group segment.
const (
	keyDelimiter  = ","
	pairDelimiter = ":"
)

// GroupField is one named component recovered from a composite key.
type GroupField struct {
	Name  string
	Value string
}

// KeyCodec derives a composite key from an event and decomposes a key
// back into its named fields. The codec variant is fixed at
// construction: positional (value-list) or named groups.
//
// Both directions preserve empty expansions as empty segments, so the
// decomposed field count always equals the group count.
type KeyCodec interface {
	// Derive expands every group template against the event and joins
	// the results into one composite key. Pure; never fails.
	Derive(ev *event.Event) string

	// Decompose splits a composite key produced by Derive back into
	// its ordered fields.
	Decompose(key string) []GroupField

	// Len returns the number of configured groups.
	Len() int
}

// NewKeyCodec builds the codec variant matching the grouping config.
func NewKeyCodec(groups Groups) KeyCodec {
	if groups.Named {
		return &namedCodec{names: groups.Names, templates: groups.Templates}
	}

	return &valueListCodec{templates: groups.Templates}
}

// valueListCodec keys events by positional template expansions. The
// i-th output field is named after the i-th template itself.
type valueListCodec struct {
	templates []string
}

func (c *valueListCodec) Derive(ev *event.Event) string {
	parts := make([]string, len(c.templates))
	for i, tmpl := range c.templates {
		parts[i] = ev.Sprintf(tmpl)
	}

	return strings.Join(parts, keyDelimiter)
}

func (c *valueListCodec) Decompose(key string) []GroupField {
	segments := splitSegments(key, len(c.templates))

	fields := make([]GroupField, len(c.templates))
	for i, tmpl := range c.templates {
		fields[i] = GroupField{Name: tmpl, Value: segments[i]}
	}

	return fields
}

func (c *valueListCodec) Len() int { return len(c.templates) }

// namedCodec keys events by "name:value" pairs, making the composite
// key self-describing: decomposition recovers field names from the key
// itself rather than from configuration order.
type namedCodec struct {
	names     []string
	templates []string
}

func (c *namedCodec) Derive(ev *event.Event) string {
	parts := make([]string, len(c.templates))
	for i, tmpl := range c.templates {
		parts[i] = c.names[i] + pairDelimiter + ev.Sprintf(tmpl)
	}

	return strings.Join(parts, keyDelimiter)
}

// Decompose splits on the key delimiter first, so a delimiter inside a
// non-final group's expanded value folds the remainder into the last
// segment and the recovered names shift with it: "a:x,y,b:z" over two
// groups comes back as {a x} {y,b z}. Same fold as the positional
// codec, surfacing through the names here.
func (c *namedCodec) Decompose(key string) []GroupField {
	segments := splitSegments(key, len(c.templates))

	fields := make([]GroupField, len(segments))

	for i, seg := range segments {
		name, value, found := strings.Cut(seg, pairDelimiter)
		if !found {
			// A segment without the pair delimiter carries an empty value.
			fields[i] = GroupField{Name: seg}

			continue
		}

		fields[i] = GroupField{Name: name, Value: value}
	}

	return fields
}

func (c *namedCodec) Len() int { return len(c.templates) }

// splitSegments splits a composite key into exactly n segments. A
// value containing the delimiter folds into the final segment; missing
// trailing segments come back empty. Never drops empty segments.
func splitSegments(key string, n int) []string {
	if n == 0 {
		return nil
	}

	segments := strings.SplitN(key, keyDelimiter, n)
	for len(segments) < n {
		segments = append(segments, "")
	}

	return segments
}
