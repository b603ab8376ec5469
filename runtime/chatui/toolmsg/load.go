package toolmsg

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML decodes overrides from a YAML mapping of tool names to either
// a string or a mapping of statuses to titles. Other node kinds are rejected.
func (m *Messages) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("tool messages: expected a mapping, got %s", kindName(node.Kind))
	}
	out := make(Messages, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		switch {
		case val.Kind == yaml.ScalarNode && val.Tag == "!!str":
			out[key.Value] = val.Value
		case val.Kind == yaml.MappingNode:
			var states map[string]string
			if err := val.Decode(&states); err != nil {
				return fmt.Errorf("tool messages for %q: %w", key.Value, err)
			}
			out[key.Value] = states
		default:
			return fmt.Errorf("%w for tool %q at line %d", ErrUnsupportedOverride, key.Value, val.Line)
		}
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*m = out
	return nil
}

// Load reads overrides from a YAML (or JSON) file.
func Load(path string) (Messages, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tool messages: %w", err)
	}
	var m Messages
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse tool messages %s: %w", path, err)
	}
	return m, nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	case yaml.DocumentNode:
		return "document"
	default:
		return "mapping"
	}
}
