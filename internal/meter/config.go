package meter

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Emission shape constants.
const (
	EmitPerGroup = "per_group"
	EmitCombined = "combined"
)

// Config configures the aggregation engine.
type Config struct {
	// Group defines how events are keyed. Either a list of key
	// templates or a mapping from output field name to template.
	Group Groups `yaml:"group"`

	// GroupIgnore lists output field names to omit from summary
	// events. Only meaningful with list-form groups.
	GroupIgnore []string `yaml:"group_ignore"`

	// FlushInterval is the elapsed-tick threshold, in seconds, for
	// emitting summaries. Defaults to 5.
	FlushInterval int `yaml:"flush_interval"`

	// ClearInterval is the elapsed-tick threshold, in seconds, for
	// resetting all counters. Zero or negative disables clearing.
	// Defaults to -1.
	ClearInterval int `yaml:"clear_interval"`

	// Emit selects the summary shape: "per_group" emits one event per
	// live group, "combined" emits a single event carrying a list of
	// per-group records. Defaults to per_group.
	Emit string `yaml:"emit"`

	// Rates includes the 1/5/15-minute decaying rates in summaries.
	// Defaults to true.
	Rates *bool `yaml:"rates"`

	// Host overrides the hostname attached to summary events.
	// Defaults to os.Hostname, resolved once at startup.
	Host string `yaml:"host"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		FlushInterval: 5,
		ClearInterval: -1,
		Emit:          EmitPerGroup,
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush_interval must be positive, got %d", c.FlushInterval)
	}

	switch c.Emit {
	case EmitPerGroup, EmitCombined:
	default:
		return fmt.Errorf("emit must be %q or %q, got %q", EmitPerGroup, EmitCombined, c.Emit)
	}

	for i, tmpl := range c.Group.Templates {
		if tmpl == "" {
			return fmt.Errorf("group template %d is empty", i)
		}
	}

	return nil
}

// IncludeRates returns whether summaries carry rate fields.
func (c *Config) IncludeRates() bool {
	if c.Rates == nil {
		return true
	}

	return *c.Rates
}

// Groups holds the configured group templates. It accepts two YAML shapes:
// a sequence of templates (positional groups) or a mapping from output
// field name to template (named groups, document order preserved).
// Immutable after decoding.
type Groups struct {
	// Names holds the output field names for named groups, in
	// document order. Empty for positional groups.
	Names []string

	// Templates holds the key templates, index-aligned with Names
	// when Named is true.
	Templates []string

	// Named reports which YAML shape was supplied.
	Named bool
}

// UnmarshalYAML decodes either group shape based on the node kind.
func (g *Groups) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var templates []string
		if err := node.Decode(&templates); err != nil {
			return fmt.Errorf("decoding group list: %w", err)
		}

		g.Templates = templates
		g.Named = false

		return nil

	case yaml.MappingNode:
		// Mapping nodes store alternating key/value children, which
		// preserves the document order a plain map would lose.
		g.Names = make([]string, 0, len(node.Content)/2)
		g.Templates = make([]string, 0, len(node.Content)/2)
		g.Named = true

		for i := 0; i+1 < len(node.Content); i += 2 {
			var name, tmpl string
			if err := node.Content[i].Decode(&name); err != nil {
				return fmt.Errorf("decoding group name: %w", err)
			}

			if err := node.Content[i+1].Decode(&tmpl); err != nil {
				return fmt.Errorf("decoding group template for %q: %w", name, err)
			}

			g.Names = append(g.Names, name)
			g.Templates = append(g.Templates, tmpl)
		}

		return nil

	case yaml.ScalarNode:
		// An empty or null group key.
		var s string
		if err := node.Decode(&s); err != nil || s != "" {
			return fmt.Errorf("group must be a list or a mapping")
		}

		return nil
	}

	return fmt.Errorf("group must be a list or a mapping")
}

// Len returns the number of group templates.
func (g *Groups) Len() int {
	return len(g.Templates)
}
