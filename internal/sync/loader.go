package sync

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// definitionsFile is the on-disk shape of a desired-state file.
type definitionsFile struct {
	Permissions []Definition `yaml:"pubsub_permissions"`
}

// LoadDefinitions reads a YAML desired-state file.
func LoadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definitions file: %w", err)
	}

	var file definitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse definitions file %s: %w", path, err)
	}

	for i, def := range file.Permissions {
		if def.Security == "" {
			return nil, fmt.Errorf("definitions file %s: entry %d has no security name", path, i)
		}
	}
	return file.Permissions, nil
}
