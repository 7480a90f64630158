package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFromFile reads a RuleSet from a YAML file and compiles its patterns.
// The returned slice lists rules whose argument patterns failed to compile;
// those rules never match but the load still succeeds.
//
// Callers must treat any error as fail-secure: substitute BlockAll, never
// fall open to an allow-everything set.
func LoadFromFile(path string) (*RuleSet, []string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from operator config
	if err != nil {
		return nil, nil, fmt.Errorf("read policy file %s: %w", path, err)
	}

	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}

	if err := rs.Validate(); err != nil {
		return nil, nil, fmt.Errorf("validate policy file %s: %w", path, err)
	}

	malformed := rs.Compile()
	return &rs, malformed, nil
}
