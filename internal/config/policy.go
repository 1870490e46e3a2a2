package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/kiranshivaraju/fleetsignal/internal/analysis"
	"gopkg.in/yaml.v3"
)

// LoadPolicy reads scoring thresholds from a YAML file on top of the defaults.
// An empty path, or a path that does not exist, yields the defaults.
func LoadPolicy(path string) (analysis.Policy, error) {
	policy := analysis.DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return policy, nil
		}
		return policy, fmt.Errorf("read policy file: %w", err)
	}

	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, fmt.Errorf("parse policy file: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return policy, fmt.Errorf("invalid policy file %s: %w", path, err)
	}
	return policy, nil
}
