package tools

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type descriptorFile struct {
	Tools []Descriptor `yaml:"tools"`
}

// LoadFile reads a YAML file with a top-level "tools" list.
func LoadFile(path string) ([]Descriptor, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadFile: %w", err)
	}
	return ParseDescriptors(b)
}

// ParseDescriptors decodes the YAML tool list format.
func ParseDescriptors(b []byte) ([]Descriptor, error) {
	var f descriptorFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("ParseDescriptors: %w", err)
	}
	return f.Tools, nil
}

// RegisterAll registers each descriptor, stopping at the first error.
func (r *Registry) RegisterAll(descs []Descriptor) error {
	for _, d := range descs {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}
