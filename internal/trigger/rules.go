package trigger

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

// StateFilter accepts either a single state or a list of states in YAML:
//
//	state_filter: "on"
//	state_filter: ["on", "home"]
type StateFilter []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *StateFilter) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*f = StateFilter{s}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*f = StateFilter(list)
		return nil
	default:
		return fmt.Errorf("state_filter must be a string or list of strings")
	}
}

// ruleFile is the top-level shape of triggers.yaml.
type ruleFile struct {
	Triggers []Rule `yaml:"triggers"`
}

// LoadRules reads trigger rules from a YAML file. A missing file is not an
// error: it yields an empty rule set so state-change triggering is simply
// inactive until rules are written.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading trigger rules: %w", err)
	}

	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing trigger rules %s: %w", path, err)
	}
	return f.Triggers, nil
}
